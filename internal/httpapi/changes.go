package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kedaipos/backend/internal/events"
)

// handleChanges streams committed changes as server-sent events so every
// till sees the same ledger without polling.
func (a *API) handleChanges(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := events.Filter{Status: strings.TrimSpace(query.Get("status"))}
	for _, collection := range strings.Split(query.Get("collections"), ",") {
		if collection = strings.TrimSpace(collection); collection != "" {
			filter.Collections = append(filter.Collections, collection)
		}
	}
	var err error
	if filter.From, err = a.parseTime("from", query.Get("from")); err != nil {
		a.fail(w, r, err)
		return
	}
	if filter.To, err = a.parseTime("to", query.Get("to")); err != nil {
		a.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := a.changes.Subscribe(filter, 32)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.log.Warn().Err(err).Msg("change stream cannot flush")
		return
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				a.log.Error().Err(err).Msg("encode change")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Collection, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
