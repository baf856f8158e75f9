package notify

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// heartbeatInterval keeps intermediaries from closing idle SSE streams.
const heartbeatInterval = 15 * time.Second

// SSEHandler streams decision-update events for one decision. Mount it at
// a route with an {id} URL parameter.
func (b *Broker) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decisionID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid decision id", http.StatusBadRequest)
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
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, "data: {\"event\":\"connected\"}\n\n")
		flusher.Flush()

		ch := b.Subscribe(decisionID)
		defer b.Unsubscribe(decisionID, ch)

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
			case event, ok := <-ch:
				if !ok {
					return
				}
				_, _ = w.Write(event)
				flusher.Flush()
			}
		}
	}
}
