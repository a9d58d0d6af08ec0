package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/productimport/internal/core"
)

type progressEvent struct {
	core.Progress
	Percent int `json:"percent"`
}

// handleProgress streams job progress via Server-Sent Events.
//
// The event id is the processed row count. A reconnecting client that sends
// Last-Event-ID (or ?lastEventId=) skips snapshots it has already seen.
// The stream ends with a "complete" event once the run finishes.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	lastEventID := -1
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() bool {
		if err := rc.Flush(); err != nil {
			slog.Warn("sse flush failed", "job_id", id, "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flush()
				return
			}

			// Terminal snapshots are always sent so the client learns the final status
			if !progress.Done && progress.Processed <= lastEventID {
				continue
			}
			lastEventID = progress.Processed

			data, err := json.Marshal(progressEvent{progress, progress.Percent()})
			if err != nil {
				slog.Error("sse encode failed", "job_id", id, "error", err)
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Processed, data)
			if !flush() {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}
