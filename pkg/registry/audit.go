package registry

import "wg-mesh/pkg/model"

// auditLog is a bounded ring of recent registry operations.
type auditLog struct {
	entries []model.AuditEntry
	max     int
}

func newAuditLog(max int) auditLog {
	return auditLog{max: max}
}

func (a *auditLog) append(e model.AuditEntry) {
	a.entries = append(a.entries, e)
	if len(a.entries) > a.max {
		a.entries = a.entries[len(a.entries)-a.max:]
	}
}

func (a *auditLog) list(limit int) []model.AuditEntry {
	if limit <= 0 || limit > len(a.entries) {
		limit = len(a.entries)
	}
	out := make([]model.AuditEntry, limit)
	copy(out, a.entries[len(a.entries)-limit:])
	return out
}
