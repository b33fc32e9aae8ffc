package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"residencial.org/internal/audit"
	"residencial.org/internal/validate"
)

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	const op = "audit.logs"
	f, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	page, err := a.audit.List(r.Context(), f)
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Audit logs retrieved", page)
}

func parseAuditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		TableName: strings.TrimSpace(q.Get("table_name")),
		UserID:    strings.TrimSpace(q.Get("user_id")),
	}
	var (
		c   validate.Collector
		err error
	)
	if raw := strings.ToUpper(strings.TrimSpace(q.Get("operation"))); raw != "" {
		f.Operation = audit.Operation(raw)
		c.Check(f.Operation.Valid(), "operation", "must be one of CREATE, UPDATE, DELETE, RESTORE")
	}
	if f.CreatedAfter, err = parseTime(q.Get("created_after")); err != nil {
		c.Add("created_after", err.Error())
	}
	if f.CreatedBefore, err = parseUntil(q.Get("created_before")); err != nil {
		c.Add("created_before", err.Error())
	}
	if f.Page, err = parsePositiveInt(q.Get("page"), 1, 1, 1_000_000); err != nil {
		c.Add("page", err.Error())
	}
	if f.Limit, err = parsePositiveInt(q.Get("limit"), 20, 1, 100); err != nil {
		c.Add("limit", err.Error())
	}
	return f, c.Err()
}

func (a *API) handleAuditClean(w http.ResponseWriter, r *http.Request) {
	const op = "audit.clean"
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	days, err := strconv.Atoi(raw)
	if err != nil {
		a.fail(w, r, http.StatusBadRequest, op, "Validation failed", []validate.Violation{{Field: "days", Message: "must be an integer"}})
		return
	}
	n, err := a.audit.Clean(r.Context(), days)
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Audit logs cleaned", map[string]any{"deleted": n, "days": days})
}
