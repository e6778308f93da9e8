package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pinstrategy/internal/runs"
)

const keepAliveInterval = 20 * time.Second

// SessionEvents streams state and run events as server-sent events. The
// current state is sent first so late subscribers start in sync.
func (a *App) SessionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "id")
	ch, cancel, current, err := a.Runs.Subscribe(sessionID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	if data, err := json.Marshal(map[string]any{"state": current}); err == nil {
		writeEvent(w, runs.Message{Event: runs.EventState, Data: data})
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, msg)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, msg runs.Message) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}
