package domain

import "time"

// AuditLogEntry is an append-only record of an action taken through the API.
type AuditLogEntry struct {
	ID       int64
	UserID   *int64
	Time     time.Time
	Entry    string
	Endpoint string
	IP       string
	Data     string
	Error    *string
}

// AuditQuery selects a page of audit entries.
type AuditQuery struct {
	Since   *time.Time
	Page    int
	PerPage int
}
