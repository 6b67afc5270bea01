package streamer

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Handler exposes the command/status surface over HTTP using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler for svc.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With(slog.String("component", "handler"))}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Route("/queue", func(r chi.Router) {
		r.Post("/", h.Enqueue)
		r.Delete("/{index}", h.Remove)
	})
	r.Route("/stream", func(r chi.Router) {
		r.Post("/start", h.StartStream)
		r.Post("/stop", h.StopStream)
	})
}

type startRequest struct {
	StreamKey string `json:"streamKey"`
	ChannelID string `json:"channelId"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Enqueue handles POST /queue.
// Body: [{"url": "...", "title": "..."}] or a single {"url": "..."} object.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	reqs, err := decodeEnqueue(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.log.Debug("invalid enqueue body", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if len(reqs) == 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "no videos given"})
		return
	}

	added := h.svc.Enqueue(r.Context(), reqs)
	h.log.Debug("enqueue handled",
		slog.Int("requested", len(reqs)),
		slog.Int("added", len(added)))
	h.writeJSON(w, http.StatusAccepted, h.svc.Snapshot())
}

// Remove handles DELETE /queue/{index}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "index must be an integer"})
		return
	}

	if !h.svc.Remove(index) {
		h.log.Debug("remove ignored, index out of range", slog.Int("index", index))
	}
	h.writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// StartStream handles POST /stream/start.
// Body: {"streamKey": "...", "channelId": "..."}.
func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	if err := h.svc.Configure(req.StreamKey, req.ChannelID); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.Start(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("stream started")
	h.writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

// StopStream handles POST /stream/stop.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	h.svc.Stop()
	h.writeJSON(w, http.StatusOK, h.svc.Snapshot())
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrMissingCredential):
		status = http.StatusBadRequest
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrStartAborted):
		status = http.StatusConflict
	case errors.Is(err, ErrConcatenationFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.log.Error("stream command failed", slog.String("error", err.Error()))
	}
	h.writeJSON(w, status, errorResponse{Message: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

func decodeEnqueue(body io.Reader) ([]EnqueueRequest, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var one EnqueueRequest
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		return []EnqueueRequest{one}, nil
	}
	var many []EnqueueRequest
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}
