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

const userColumns = `id, username, realname, email, phone, password_hash, deleted_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (int64, error) {
	var id int64
	err := r.db.queryRow(ctx, `
INSERT INTO users (username, realname, email, phone, password_hash)
VALUES (?, ?, ?, ?, ?)
RETURNING id`,
		user.Username,
		nullString(user.Realname),
		nullString(user.Email),
		nullString(user.Phone),
		user.PasswordHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %q: %w", user.Username, repository.ErrConflict)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return id, nil
}

// setupLockKey serializes first-time setup across postgres connections.
const setupLockKey int64 = 0x67696c64

// CreateInitial inserts user only while no active user exists. The check and
// insert run under one lock so concurrent callers cannot both succeed.
func (r *UserRepository) CreateInitial(ctx context.Context, user *domain.User) (int64, error) {
	var id int64
	err := r.db.inTx(ctx, func(tx *Tx) error {
		if err := tx.lock(ctx, setupLockKey); err != nil {
			return err
		}
		return tx.queryRow(ctx, `
INSERT INTO users (username, realname, email, phone, password_hash)
SELECT ?, ?, ?, ?, ?
WHERE NOT EXISTS (SELECT 1 FROM users WHERE deleted_at IS NULL)
RETURNING id`,
			user.Username,
			nullString(user.Realname),
			nullString(user.Email),
			nullString(user.Phone),
			user.PasswordHash,
		).Scan(&id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrSetupComplete
		}
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %q: %w", user.Username, repository.ErrConflict)
		}
		return 0, fmt.Errorf("insert initial user: %w", err)
	}
	user.ID = id
	return id, nil
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	res, err := r.db.exec(ctx, `
UPDATE users
SET realname = ?, email = ?, phone = ?, password_hash = ?
WHERE id = ? AND deleted_at IS NULL`,
		nullString(user.Realname),
		nullString(user.Email),
		nullString(user.Phone),
		user.PasswordHash,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return expectAffected(res, "user")
}

func (r *UserRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.exec(ctx, `
UPDATE users
SET deleted_at = ?
WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectAffected(res, "user")
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := r.db.queryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE username = ?`,
		username,
	)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.queryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

func (r *UserRepository) ListActive(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.query(ctx, `
SELECT `+userColumns+`
FROM users
WHERE deleted_at IS NULL
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (r *UserRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.queryRow(ctx, `SELECT COUNT(*) FROM users WHERE deleted_at IS NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user                   domain.User
		realname, email, phone sql.NullString
		deletedAt              sql.NullTime
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&realname,
		&email,
		&phone,
		&user.PasswordHash,
		&deletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Realname = stringPtr(realname)
	user.Email = stringPtr(email)
	user.Phone = stringPtr(phone)
	user.DeletedAt = timePtr(deletedAt)
	return &user, nil
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
	}
	return nil
}
