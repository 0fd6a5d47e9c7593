package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mjc/reencodarr-sub000/internal/events"
)

// sseHeartbeatInterval keeps idle connections from being reaped by
// proxies between pipeline events.
const sseHeartbeatInterval = 30 * time.Second

// EventsHandler streams telemetry bus events over SSE.
type EventsHandler struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewEventsHandler creates an SSE events handler.
func NewEventsHandler(bus *events.Bus, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{bus: bus, logger: logger}
}

// Register mounts the SSE route on the chi router. SSE streams do not
// fit the OpenAPI request/response model, so this bypasses Huma.
func (h *EventsHandler) Register(router *chi.Mux) {
	router.Get("/api/v1/events", h.Stream)
}

// Stream subscribes the client to the bus until it disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub.ID)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-sub.Events:
			if !open {
				return
			}
			data, err := json.Marshal(event.Payload)
			if err != nil {
				h.logger.Warn("marshaling event payload",
					slog.String("topic", string(event.Topic)),
					slog.String("error", err.Error()),
				)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Topic, data)
			flusher.Flush()
		}
	}
}
