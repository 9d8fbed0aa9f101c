package audit

import (
	"encoding/json"
	"time"

	"gild/internal/domain"
)

// Record is the external JSON shape of an audit entry.
type Record struct {
	ID       int64           `json:"id"`
	UserID   *int64          `json:"user_id"`
	Time     time.Time       `json:"time"`
	Entry    string          `json:"entry"`
	Endpoint string          `json:"endpoint"`
	IP       string          `json:"ip"`
	Data     json.RawMessage `json:"data"`
	Error    *string         `json:"error"`
}

func NewRecord(e domain.AuditLogEntry) Record {
	data := json.RawMessage(e.Data)
	if !json.Valid(data) {
		data, _ = json.Marshal(e.Data)
	}
	return Record{
		ID:       e.ID,
		UserID:   e.UserID,
		Time:     e.Time,
		Entry:    e.Entry,
		Endpoint: e.Endpoint,
		IP:       e.IP,
		Data:     data,
		Error:    e.Error,
	}
}

func NewRecords(entries []domain.AuditLogEntry) []Record {
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewRecord(e))
	}
	return out
}
