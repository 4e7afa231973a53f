package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"roadwatch/internal/auth"
	"roadwatch/internal/engine"
	"roadwatch/internal/protocol"
)

const streamKeepAlive = 25 * time.Second

type StreamHandler struct {
	engine *engine.Engine
	auth   *auth.Authenticator
}

func NewStreamHandler(eng *engine.Engine, authn *auth.Authenticator) *StreamHandler {
	return &StreamHandler{engine: eng, auth: authn}
}

// RegisterRoutes mounts the stream behind Optional, so observers need a
// token exactly when anonymous peers do.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.With(h.auth.Optional).Get("/api/stream", h.stream)
}

// stream relays broadcasts as server-sent events to read-only observers.
func (h *StreamHandler) stream(w http.ResponseWriter, r *http.Request) {
	if IsWebSocket(r) {
		http.Error(w, "use /ws for sockets", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	handle := "observer-" + uuid.NewString()
	events := h.engine.Observe(handle)
	defer h.engine.Unobserve(handle)

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := protocol.EncodePayload(ev)
			if err != nil {
				log.Printf("[stream] encode %s failed: %v", ev.Name(), err)
				continue
			}
			writeSSE(w, ev.Name(), string(data))
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data string) {
	_, _ = w.Write([]byte("event: " + event + "\n"))
	for _, line := range strings.Split(data, "\n") {
		_, _ = w.Write([]byte("data: " + line + "\n"))
	}
	_, _ = w.Write([]byte("\n"))
}
