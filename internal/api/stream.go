package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/metrics"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/store"
)

const streamKeepAlive = 15 * time.Second

// GET /v1/stream — server-sent events, one "state" event per snapshot.
// Slow clients skip intermediate snapshots and always get the latest.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server-wide write timeout would cut the stream short.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	updates := make(chan *store.State, 1)
	unsubscribe := h.store.Subscribe(func(st *store.State) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	select {
	case <-h.closing:
		return
	default:
	}
	if err := writeEvent(w, rc, h.store.State()); err != nil {
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.closing:
			return
		case st := <-updates:
			if err := writeEvent(w, rc, st); err != nil {
				h.logger.Debug("stream client gone", "err", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, st *store.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
		return err
	}
	return rc.Flush()
}
