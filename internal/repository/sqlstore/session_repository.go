package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gild/internal/domain"
	"gild/internal/repository"
)

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) (int64, error) {
	var id int64
	err := r.db.queryRow(ctx, `
INSERT INTO sessions (user_id, expires)
VALUES (?, ?)
RETURNING id`,
		session.UserID,
		session.Expires.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	session.ID = id
	return id, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	var session domain.Session
	err := r.db.queryRow(ctx, `
SELECT id, user_id, expires
FROM sessions
WHERE id = ?`,
		id,
	).Scan(&session.ID, &session.UserID, &session.Expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %d: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Expires = session.Expires.UTC()
	return &session, nil
}

func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.exec(ctx, `DELETE FROM sessions WHERE expires < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions rows affected: %w", err)
	}
	return n, nil
}
