package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"gild/internal/apperr"
	"gild/internal/domain"
	"gild/internal/service"
	"gild/internal/storage"
)

const archiveURLExpiry = 15 * time.Minute

// ArchiveResult describes an uploaded audit export.
type ArchiveResult struct {
	Location string `json:"location"`
	URL      string `json:"url,omitempty"`
	Count    int    `json:"count"`
}

type archiveDocument struct {
	ExportedAt time.Time  `json:"exported_at"`
	Since      *time.Time `json:"since,omitempty"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	Entries    []Record   `json:"entries"`
}

// Archiver exports pages of the audit trail to object storage.
type Archiver struct {
	audits service.AuditService
	store  storage.Service
	bucket string
	prefix string
	clock  domain.Clock
}

// NewArchiver returns an archiver. With a nil store or empty bucket every
// operation reports that archiving is not configured.
func NewArchiver(audits service.AuditService, store storage.Service, bucket, prefix string, clock domain.Clock) *Archiver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Archiver{
		audits: audits,
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock,
	}
}

func (a *Archiver) enabled() bool {
	return a != nil && a.store != nil && a.bucket != ""
}

func (a *Archiver) Archive(ctx context.Context, query domain.AuditQuery) (*ArchiveResult, error) {
	if !a.enabled() {
		return nil, apperr.NotFound("audit archive is not configured")
	}

	query = service.NormalizeAuditQuery(query)
	entries, err := a.audits.List(ctx, query)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	doc := archiveDocument{
		ExportedAt: now,
		Since:      query.Since,
		Page:       query.Page,
		PerPage:    query.PerPage,
		Entries:    NewRecords(entries),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, apperr.Internalf("encode audit archive: %w", err)
	}

	key := path.Join(a.prefix, fmt.Sprintf("%s-%s.json", now.Format("20060102T150405Z"), uuid.NewString()))
	location, err := a.store.PutObject(ctx, bytes.NewReader(body), storage.PutOptions{
		Bucket:      a.bucket,
		Key:         key,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	result := &ArchiveResult{Location: location, Count: len(entries)}
	if url, err := a.store.GetObjectURL(ctx, a.bucket, key, archiveURLExpiry); err == nil {
		result.URL = url
	}
	return result, nil
}

// List returns the archives already uploaded under the configured prefix.
func (a *Archiver) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	if !a.enabled() {
		return nil, apperr.NotFound("audit archive is not configured")
	}
	prefix := a.prefix
	if prefix != "" {
		prefix += "/"
	}
	objects, err := a.store.ListObjects(ctx, a.bucket, prefix)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	return objects, nil
}
