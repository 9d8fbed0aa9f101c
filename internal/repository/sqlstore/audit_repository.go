package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gild/internal/domain"
	"gild/internal/repository"
)

type AuditLogRepository struct {
	db *DB
}

func NewAuditLogRepository(db *DB) repository.AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) (int64, error) {
	var userID sql.NullInt64
	if entry.UserID != nil {
		userID = sql.NullInt64{Int64: *entry.UserID, Valid: true}
	}

	var id int64
	err := r.db.queryRow(ctx, `
INSERT INTO audit_log (user_id, "time", entry, endpoint, ip, data, error)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id`,
		userID,
		entry.Time.UTC(),
		entry.Entry,
		entry.Endpoint,
		entry.IP,
		entry.Data,
		nullString(entry.Error),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	entry.ID = id
	return id, nil
}

func (r *AuditLogRepository) List(ctx context.Context, q domain.AuditQuery) ([]domain.AuditLogEntry, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
SELECT id, user_id, "time", entry, endpoint, ip, data, error
FROM audit_log`)
	if q.Since != nil {
		sb.WriteString(`
WHERE "time" >= ?`)
		args = append(args, q.Since.UTC())
	}
	sb.WriteString(`
ORDER BY id ASC`)
	if q.PerPage > 0 {
		sb.WriteString(`
LIMIT ? OFFSET ?`)
		args = append(args, q.PerPage, q.Page*q.PerPage)
	}

	rows, err := r.db.query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row interface {
	Scan(dest ...any) error
}) (*domain.AuditLogEntry, error) {
	var (
		entry  domain.AuditLogEntry
		userID sql.NullInt64
		errMsg sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&userID,
		&entry.Time,
		&entry.Entry,
		&entry.Endpoint,
		&entry.IP,
		&entry.Data,
		&errMsg,
	); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	if userID.Valid {
		id := userID.Int64
		entry.UserID = &id
	}
	entry.Time = entry.Time.UTC()
	entry.Error = stringPtr(errMsg)
	return &entry, nil
}
