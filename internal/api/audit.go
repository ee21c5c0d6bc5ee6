package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tagsakay/tagsakay-core/internal/audit"
	"github.com/tagsakay/tagsakay-core/internal/guard"
)

// recordEvent stamps e with the request's client details and queues it on
// the security event recorder. Writing is asynchronous and best-effort.
func (s *Server) recordEvent(r *http.Request, e *audit.Event) {
	e.IPAddress = guard.ClientIP(r)
	e.UserAgent = r.UserAgent()
	e.Endpoint = r.URL.Path
	e.Method = r.Method
	s.audit.Record(e)
}

// handleListSecurityEvents returns paginated security events with optional filters.
//
// Query parameters:
//   - type: filter by event type (LOGIN_FAILURE, ACCOUNT_LOCKED, ...)
//   - severity: filter by severity (info, warning, error, critical)
//   - account: filter by account email
//   - deviceId: filter by device id
//   - since: RFC 3339 lower bound on creation time
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Type:     audit.EventType(q.Get("type")),
		Severity: audit.Severity(q.Get("severity")),
		Account:  q.Get("account"),
		DeviceID: q.Get("deviceId"),
	}

	since, ok := parseSince(w, q.Get("since"))
	if !ok {
		return
	}
	filter.Since = since

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list security events", "error", err)
		writeInternalError(w, "failed to list security events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseSince parses an optional RFC 3339 query value. On a malformed value
// it writes 400 and returns false.
func parseSince(w http.ResponseWriter, v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeBadRequest(w, "since must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}
