package audit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gild/internal/domain"
)

const draftContextKey = "gild.audit"

// Draft is an audit entry under construction for one request. Handlers
// describe what they attempted; the middleware fills in the rest.
type Draft struct {
	Endpoint string
	IP       string
	UserID   *int64
	Entry    string
	Data     any
}

// Describe sets the human readable action and its payload. The payload must
// not carry secrets.
func (d *Draft) Describe(entry string, data any) {
	d.Entry = entry
	d.Data = data
}

// SetUser attributes the entry to a user resolved by the handler itself,
// such as a successful login.
func (d *Draft) SetUser(id int64) {
	d.UserID = &id
}

func (d *Draft) finalize(userID *int64, err error) (domain.AuditLogEntry, error) {
	entry := domain.AuditLogEntry{
		UserID:   d.UserID,
		Entry:    d.Entry,
		Endpoint: d.Endpoint,
		IP:       d.IP,
		Data:     "{}",
	}
	if entry.UserID == nil {
		entry.UserID = userID
	}
	if err != nil {
		msg := err.Error()
		entry.Error = &msg
	}
	if d.Data == nil {
		return entry, nil
	}
	data, marshalErr := json.Marshal(d.Data)
	if marshalErr != nil {
		return entry, marshalErr
	}
	entry.Data = string(data)
	return entry, nil
}

// FromContext returns the request's draft. Outside the audit middleware it
// returns a draft that is never recorded.
func FromContext(c *gin.Context) *Draft {
	if v, ok := c.Get(draftContextKey); ok {
		if d, ok := v.(*Draft); ok {
			return d
		}
	}
	return &Draft{}
}

// ClientIP prefers X-Real-IP, then the first X-Forwarded-For address. It
// returns "" when neither header is present.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return ""
}
