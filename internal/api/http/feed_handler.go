package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"helpboard-backend/internal/domain"
	"helpboard-backend/internal/feed"
	"helpboard-backend/internal/logger"
)

// snapshotFrame is the first frame of a stream.
type snapshotFrame struct {
	View    string          `json:"view"`
	Seq     int64           `json:"seq"`
	Records []domain.Entity `json:"records"`
}

// changeFrame carries one event. Deletes carry only the id: the record left
// the viewer's view and its new state is not theirs to see.
type changeFrame struct {
	Seq        int64             `json:"seq"`
	Table      domain.Table      `json:"table"`
	ID         int64             `json:"id"`
	Type       domain.EventType  `json:"type"`
	Transition domain.Transition `json:"transition"`
	Record     domain.Entity     `json:"record,omitempty"`
}

// streamFeed serves a live view as server-sent events: one snapshot frame,
// then a change frame per event. Clients apply changes by record id. A
// "resync" frame ends the stream when the viewer fell behind; the client
// reconnects for a fresh snapshot.
func (s *Server) streamFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming unsupported"))
		return
	}

	spec, err := s.services.Views.LiveView(ctx, actorFrom(ctx), mux.Vars(r)["view"], queryParams(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	changes := make(chan domain.ChangeEvent)
	failed := make(chan error, 1)
	onChange := func(e domain.ChangeEvent) {
		select {
		case changes <- e:
		case <-ctx.Done():
		}
	}
	onError := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}
	view, err := feed.OpenLiveView(ctx, s.broker, spec.Table, spec.Filter, spec.Snapshot, onChange, onError)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer view.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	records := view.Records()
	if records == nil {
		records = []domain.Entity{}
	}
	seq := view.SnapshotSeq()
	if err := writeFrame(w, seq, "snapshot", snapshotFrame{View: spec.Name, Seq: seq, Records: records}); err != nil {
		return
	}
	flusher.Flush()

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-view.Done():
			return
		case err := <-failed:
			logger.WarnContext(ctx, "Feed stream dropped", "view", spec.Name, "error", err)
			_ = writeFrame(w, 0, "resync", map[string]string{"reason": err.Error()})
			flusher.Flush()
			return
		case e := <-changes:
			frame := changeFrame{
				Seq:        e.Seq,
				Table:      e.Table,
				ID:         e.EntityID,
				Type:       e.Type,
				Transition: e.Transition,
			}
			if e.Type != domain.EventDelete {
				frame.Record = e.Payload
			}
			if err := writeFrame(w, e.Seq, "change", frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, id int64, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
