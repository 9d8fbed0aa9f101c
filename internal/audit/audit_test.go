package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gild/internal/apperr"
	"gild/internal/domain"
	"gild/internal/repository/sqlstore"
	"gild/internal/service"
	"gild/internal/storage"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type memoryEntries struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
	fail    bool
}

func (m *memoryEntries) Append(_ context.Context, entry *domain.AuditLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("disk on fire")
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return entry.ID, nil
}

func (m *memoryEntries) List(context.Context, domain.AuditQuery) ([]domain.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), m.entries...), nil
}

func (m *memoryEntries) all() []domain.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), m.entries...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func closeRecorder(t *testing.T, rec *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"real ip wins", map[string]string{"X-Real-IP": "10.0.0.1", "X-Forwarded-For": "10.0.0.2"}, "10.0.0.1"},
		{"first forwarded", map[string]string{"X-Forwarded-For": "10.0.0.2, 10.0.0.3"}, "10.0.0.2"},
		{"single forwarded", map[string]string{"X-Forwarded-For": "10.0.0.4"}, "10.0.0.4"},
		{"neither", nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}

func TestRecorder_StrictlyIncreasingStamps(t *testing.T) {
	repo := &memoryEntries{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	rec := NewRecorder(Config{QueueSize: 8, Clock: fixedClock{now}, Logger: quietLogger()}, repo)
	rec.Start()

	for i := 0; i < 5; i++ {
		assert.True(t, rec.Submit(domain.AuditLogEntry{Entry: "same instant"}))
	}
	closeRecorder(t, rec)

	entries := repo.all()
	require.Len(t, entries, 5)
	assert.True(t, entries[0].Time.Equal(now.Truncate(time.Microsecond)))
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].Time.After(entries[i-1].Time), "entry %d", i)
	}
}

func TestRecorder_HundredMillisecondsApart(t *testing.T) {
	db, err := sqlstore.Open("sqlite", filepath.Join(t.TempDir(), "gild.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	repo := sqlstore.NewAuditLogRepository(db)
	rec := NewRecorder(Config{QueueSize: 8, Logger: quietLogger()}, repo)
	rec.Start()

	require.True(t, rec.Submit(domain.AuditLogEntry{Entry: "create user", Endpoint: "/users"}))
	time.Sleep(100 * time.Millisecond)
	require.True(t, rec.Submit(domain.AuditLogEntry{Entry: "create user", Endpoint: "/users"}))
	closeRecorder(t, rec)

	entries, err := repo.List(context.Background(), domain.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Time.After(entries[0].Time))
	assert.GreaterOrEqual(t, entries[1].Time.Sub(entries[0].Time), 100*time.Millisecond)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &memoryEntries{}
	rec := NewRecorder(Config{QueueSize: 2, Logger: quietLogger()}, repo)

	// not started yet, so nothing drains the queue
	assert.True(t, rec.Submit(domain.AuditLogEntry{Entry: "one"}))
	assert.True(t, rec.Submit(domain.AuditLogEntry{Entry: "two"}))
	assert.False(t, rec.Submit(domain.AuditLogEntry{Entry: "three"}))
	assert.EqualValues(t, 1, rec.Dropped())

	rec.Start()
	closeRecorder(t, rec)

	entries := repo.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Entry)
	assert.Equal(t, "two", entries[1].Entry)

	assert.False(t, rec.Submit(domain.AuditLogEntry{Entry: "late"}))
	assert.EqualValues(t, 2, rec.Dropped())
}

func TestRecorder_WriteFailureIsSwallowed(t *testing.T) {
	repo := &memoryEntries{fail: true}
	rec := NewRecorder(Config{QueueSize: 2, Logger: quietLogger()}, repo)
	rec.Start()

	assert.True(t, rec.Submit(domain.AuditLogEntry{Entry: "lost"}))
	closeRecorder(t, rec)
	assert.Empty(t, repo.all())
}

func TestRecorder_CloseHonoursContext(t *testing.T) {
	rec := NewRecorder(Config{QueueSize: 1, Logger: quietLogger()}, &memoryEntries{})
	require.True(t, rec.Submit(domain.AuditLogEntry{}))

	// never started, so the queue cannot drain
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rec.Close(ctx), context.Canceled)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &memoryEntries{}
	rec := NewRecorder(Config{QueueSize: 8, Logger: quietLogger()}, repo)
	rec.Start()

	r := gin.New()
	r.Use(Middleware(rec))
	r.POST("/things/:id", func(c *gin.Context) {
		d := FromContext(c)
		d.Describe("update thing", map[string]any{"id": c.Param("id")})
		if c.Param("id") == "bad" {
			err := apperr.Validation("invalid request", "id is bad")
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, err.Body())
			return
		}
		d.SetUser(7)
		c.Status(http.StatusNoContent)
	})

	for _, id := range []string{"1", "bad"} {
		req := httptest.NewRequest(http.MethodPost, "/things/"+id, nil)
		req.Header.Set("X-Forwarded-For", "192.0.2.10, 10.0.0.1")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	closeRecorder(t, rec)

	entries := repo.all()
	require.Len(t, entries, 2)

	ok := entries[0]
	assert.Equal(t, "update thing", ok.Entry)
	assert.Equal(t, "/things/1", ok.Endpoint)
	assert.Equal(t, "192.0.2.10", ok.IP)
	assert.JSONEq(t, `{"id":"1"}`, ok.Data)
	require.NotNil(t, ok.UserID)
	assert.EqualValues(t, 7, *ok.UserID)
	assert.Nil(t, ok.Error)

	failed := entries[1]
	assert.Nil(t, failed.UserID)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "id is bad")
	assert.True(t, failed.Time.After(ok.Time))
}

func TestFromContext_OutsideMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	d := FromContext(c)
	require.NotNil(t, d)
	d.Describe("ignored", nil)
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(domain.AuditLogEntry{ID: 1, Data: `{"username":"erikh"}`})
	assert.JSONEq(t, `{"username":"erikh"}`, string(rec.Data))

	rec = NewRecord(domain.AuditLogEntry{ID: 2, Data: "not json"})
	assert.JSONEq(t, `"not json"`, string(rec.Data))

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"data":"not json"`)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memoryStore) PutObject(_ context.Context, body io.Reader, opts storage.PutOptions) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[opts.Key] = buf.Bytes()
	return "s3://" + opts.Bucket + "/" + opts.Key, nil
}

func (s *memoryStore) ListObjects(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for key, body := range s.objects {
		out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(body))})
	}
	return out, nil
}

func (s *memoryStore) GetObjectURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://" + bucket + ".example/" + key, nil
}

func TestArchiver(t *testing.T) {
	ctx := context.Background()
	repo := &memoryEntries{}
	for i := 0; i < 3; i++ {
		_, err := repo.Append(ctx, &domain.AuditLogEntry{Entry: "entry", Data: "{}"})
		require.NoError(t, err)
	}
	store := &memoryStore{objects: map[string][]byte{}}
	clock := fixedClock{time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	archiver := NewArchiver(service.NewAuditService(repo), store, "audit-bucket", "/audit/", clock)
	result, err := archiver.Archive(ctx, domain.AuditQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.Regexp(t, `^s3://audit-bucket/audit/20240301T120000Z-[0-9a-f-]{36}\.json$`, result.Location)
	assert.NotEmpty(t, result.URL)

	objects, err := archiver.List(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)

	var doc struct {
		PerPage int      `json:"per_page"`
		Entries []Record `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(store.objects[objects[0].Key], &doc))
	assert.Equal(t, service.DefaultAuditPerPage, doc.PerPage)
	assert.Len(t, doc.Entries, 3)
}

func TestArchiver_NotConfigured(t *testing.T) {
	archiver := NewArchiver(service.NewAuditService(&memoryEntries{}), nil, "", "audit", nil)

	_, err := archiver.Archive(context.Background(), domain.AuditQuery{})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "%v", err)
	_, err = archiver.List(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "%v", err)
}
