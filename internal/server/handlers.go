package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roach88/catalog/internal/queryir"
	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/store"
)

type eventsRequest struct {
	Events []record.Event `json:"events"`
}

type eventsAccepted struct {
	Status     string `json:"status"`
	RequestID  string `json:"request_id"`
	Events     int    `json:"events"`
	QueueDepth int    `json:"queue_depth"`
}

func (s *Server) postEvents(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		writeError(w, http.StatusServiceUnavailable, codeShuttingDown, "server is shutting down")
		return
	}

	var body eventsRequest
	if !s.decode(w, r, &body, true) {
		return
	}
	if len(body.Events) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "events must not be empty")
		return
	}
	for i, ev := range body.Events {
		if ev.Name == "" {
			writeError(w, http.StatusBadRequest, codeValidation, fmt.Sprintf("events[%d].name is required", i))
			return
		}
		if ev.Data == nil {
			body.Events[i].Data = record.Data{}
		}
	}

	if r.URL.Query().Get("sync") == "true" {
		report := s.sync.ProcessBatch(r.Context(), body.Events)
		writeJSON(w, http.StatusOK, report)
		return
	}

	if !s.sync.Enqueue(body.Events) {
		writeError(w, http.StatusServiceUnavailable, codeShuttingDown, "sync engine stopped")
		return
	}
	reqID := RequestIDFromContext(r.Context())
	s.logger.Info("events accepted", "request_id", reqID, "events", len(body.Events))
	writeJSON(w, http.StatusAccepted, eventsAccepted{
		Status:     "accepted",
		RequestID:  reqID,
		Events:     len(body.Events),
		QueueDepth: s.sync.QueueLen(),
	})
}

func (s *Server) postQuery(w http.ResponseWriter, r *http.Request) {
	var raw queryir.RawRequest
	if !s.decode(w, r, &raw, false) {
		return
	}

	res, err := s.query.QueryRaw(r.Context(), raw)
	if err != nil {
		var qe *queryir.QueryShapeError
		if errors.As(err, &qe) {
			writeError(w, http.StatusBadRequest, codeQueryShape, qe.Error())
			return
		}
		s.logger.Error("query failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, codeInternal, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := record.Key{Type: vars["type"], ID: vars["id"]}

	snap, err := s.store.ReadSnapshot(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("no snapshot %s", key))
		return
	}
	if err != nil {
		s.logger.Error("read snapshot failed", "error", err, "entity_type", key.Type, "entity_id", key.ID)
		writeError(w, http.StatusInternalServerError, codeInternal, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if s.closing.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, writing a 400 on failure. Numbers are
// kept as json.Number.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, strict bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	dec.UseNumber()
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return false
	}
	return true
}
