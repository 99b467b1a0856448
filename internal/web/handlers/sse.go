package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/retrain"
)

// setupSSEConnection sets the event-stream headers. On failure it writes an
// error response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// streamProgress sends the current retrain progress, then every update no
// more often than RetrainProgressInterval, until the run ends or the client
// disconnects. The final snapshot is always sent.
func streamProgress(w http.ResponseWriter, r *http.Request, coord *retrain.Coordinator) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	updates, stop := coord.Subscribe()
	defer stop()

	current := coord.Progress()
	sendSSEEvent(w, flusher, "status", current)
	if !current.IsRunning {
		return
	}

	ticker := time.NewTicker(constants.RetrainProgressInterval)
	defer ticker.Stop()

	var pending *retrain.Progress
	for {
		select {
		case <-r.Context().Done():
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			if !p.IsRunning {
				sendSSEEvent(w, flusher, string(p.Status), p)
				return
			}
			pending = &p
		case <-ticker.C:
			if pending != nil {
				sendSSEEvent(w, flusher, "progress", *pending)
				pending = nil
			}
		}
	}
}
