package streamer

import (
	"sync"
)

// Repository defines the concurrency-safe contract for the ordered queue.
// Positions are dense: removing index i shifts every later item down by one.
type Repository interface {
	// Append adds items at the end in the given order.
	Append(items ...QueueItem)

	// RemoveAt splices out the item at index. ok is false when index is out of range.
	RemoveAt(index int) (removed QueueItem, ok bool)

	// Update applies fn to the item with the given id. It returns false, without
	// calling fn, when the item is no longer queued.
	Update(id string, fn func(item *QueueItem)) bool

	// Get returns a copy of the item with the given id.
	Get(id string) (QueueItem, bool)

	// Items returns copies of all items in queue order.
	Items() []QueueItem

	// Len returns the number of queued items.
	Len() int
}

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items []*QueueItem
}

// NewInMemoryRepository returns an empty queue.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Append implements Repository.Append.
func (r *InMemoryRepository) Append(items ...QueueItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range items {
		it := items[i]
		r.items = append(r.items, &it)
	}
}

// RemoveAt implements Repository.RemoveAt.
func (r *InMemoryRepository) RemoveAt(index int) (QueueItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.items) {
		return QueueItem{}, false
	}

	removed := *r.items[index]
	copy(r.items[index:], r.items[index+1:])
	r.items[len(r.items)-1] = nil
	r.items = r.items[:len(r.items)-1]

	return removed, true
}

// Update implements Repository.Update.
func (r *InMemoryRepository) Update(id string, fn func(item *QueueItem)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	it := r.findLocked(id)
	if it == nil {
		return false
	}
	fn(it)
	return true
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id string) (QueueItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	it := r.findLocked(id)
	if it == nil {
		return QueueItem{}, false
	}
	return *it, true
}

// Items implements Repository.Items.
func (r *InMemoryRepository) Items() []QueueItem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]QueueItem, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, *it)
	}
	return out
}

// Len implements Repository.Len.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// findLocked returns the live item pointer for id.
// Caller must hold r.mu.
func (r *InMemoryRepository) findLocked(id string) *QueueItem {
	for _, it := range r.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}
