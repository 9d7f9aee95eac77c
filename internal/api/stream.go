package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/TimurManjosov/postguard/internal/snapshot"
	"github.com/TimurManjosov/postguard/internal/telemetry"
)

const pingInterval = 25 * time.Second

// handleRulesStream pushes the ETag of the active rules as Server-Sent
// Events: one "init" event on connect, then an "update" event per change.
func (s *Server) handleRulesStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, r, "Streaming unsupported")
		return
	}

	updates, unsub := snapshot.Subscribe()
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	telemetry.SSEClients.Inc()
	defer telemetry.SSEClients.Dec()

	writeEvent(w, "init", snapshot.Load().ETag)
	flusher.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case etag, ok := <-updates:
			if !ok {
				return
			}
			writeEvent(w, "update", etag)
			flusher.Flush()
		case <-ping.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// ETags are hex inside W/"..." so %q yields valid JSON.
func writeEvent(w http.ResponseWriter, event, etag string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: {\"etag\":%q}\n\n", event, etag)
}
