package domain

import "time"

// User represents an operator account allowed to drive the management API.
type User struct {
	ID           int64
	Username     string
	Realname     *string
	Email        *string
	Phone        *string
	PasswordHash string
	DeletedAt    *time.Time
}

// Deleted reports whether the user has been soft-deleted.
func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}
