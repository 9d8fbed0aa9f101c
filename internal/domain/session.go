package domain

import "time"

// SessionTTL is the fixed lifetime of a session, counted from creation.
const SessionTTL = 7 * 24 * time.Hour

// Session binds a user to a time-bounded authorization window. Expires is set
// once at creation and never updated.
type Session struct {
	ID      int64
	UserID  int64
	Expires time.Time
}
