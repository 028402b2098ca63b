package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/butterflyhq/butterfly/internal/api"
	"github.com/butterflyhq/butterfly/internal/db"
	"github.com/butterflyhq/butterfly/pkg/types"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditQueryResponse is the body of GET /api/v1/audit.
type AuditQueryResponse struct {
	Events []*db.AuditRecord `json:"events"`
	Count  int               `json:"count"`
}

// handleAuditQuery lists persisted audit events, newest first. Filters:
// correlation_id, event_type, result, from/to (RFC 3339), limit, offset.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.store == nil {
		api.WriteJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: "Audit store not configured"})
		return
	}

	aq, err := parseAuditQuery(r)
	if err != nil {
		api.WriteJSON(w, http.StatusBadRequest, types.ErrorResponse{
			Error: fmt.Sprintf("Invalid query parameter: %s", err.Error()),
		})
		return
	}

	events, err := s.store.QueryAuditEvents(r.Context(), aq)
	if err != nil {
		s.logger.Error("audit query failed", zap.Error(err))
		api.WriteJSON(w, http.StatusInternalServerError, types.ErrorResponse{
			Error: fmt.Sprintf("Internal server error: %s", err.Error()),
		})
		return
	}
	if events == nil {
		events = []*db.AuditRecord{}
	}
	api.WriteJSON(w, http.StatusOK, AuditQueryResponse{Events: events, Count: len(events)})
}

func parseAuditQuery(r *http.Request) (db.AuditQuery, error) {
	q := r.URL.Query()
	aq := db.AuditQuery{
		CorrelationID: q.Get("correlation_id"),
		EventType:     q.Get("event_type"),
		Result:        q.Get("result"),
	}

	var err error
	if aq.Limit, err = intParam(q.Get("limit"), defaultAuditLimit); err != nil {
		return aq, errors.New("limit")
	}
	if aq.Limit < 1 || aq.Limit > maxAuditLimit {
		return aq, fmt.Errorf("limit must be between 1 and %d", maxAuditLimit)
	}
	if aq.Offset, err = intParam(q.Get("offset"), 0); err != nil || aq.Offset < 0 {
		return aq, errors.New("offset")
	}
	if v := q.Get("from"); v != "" {
		if aq.From, err = time.Parse(time.RFC3339, v); err != nil {
			return aq, errors.New("from")
		}
	}
	if v := q.Get("to"); v != "" {
		if aq.To, err = time.Parse(time.RFC3339, v); err != nil {
			return aq, errors.New("to")
		}
	}
	return aq, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
