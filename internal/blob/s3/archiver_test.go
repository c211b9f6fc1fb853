package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

type memBlob struct {
	objects   map[string][]byte
	types     map[string]string
	multipart map[string]bool
	putErr    error
}

func newMemBlob() *memBlob {
	return &memBlob{
		objects:   map[string][]byte{},
		types:     map[string]string{},
		multipart: map[string]bool{},
	}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentTypeFor(path, contentType)
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart[path] = true
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memExecutions struct {
	rows    []domain.ExecutionMetrics
	deleted int
}

func (m *memExecutions) ListBefore(_ context.Context, before time.Time) ([]domain.ExecutionMetrics, error) {
	var out []domain.ExecutionMetrics
	for _, r := range m.rows {
		if r.ExecutionTime.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memExecutions) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.ExecutionMetrics
	for _, r := range m.rows {
		if !r.ExecutionTime.Before(before) {
			kept = append(kept, r)
		}
	}
	n := len(m.rows) - len(kept)
	m.rows = kept
	m.deleted += n
	return int64(n), nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func execAt(id string, at time.Time) domain.ExecutionMetrics {
	return domain.ExecutionMetrics{
		OrderID:        id,
		BrokerID:       "paper",
		Algorithm:      "TWAP",
		Symbol:         "NIFTY",
		ArrivalPrice:   100,
		ExecutionPrice: 100.5,
		Quantity:       10,
		SignalTime:     at.Add(-time.Second),
		ExecutionTime:  at,
		LatencyMs:      1000,
	}
}

func TestArchiveExecutions(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	cutoff := day2.Add(24 * time.Hour)

	blob := newMemBlob()
	store := &memExecutions{rows: []domain.ExecutionMetrics{
		execAt("a", day1),
		execAt("b", day1.Add(time.Hour)),
		execAt("c", day2),
		execAt("fresh", cutoff.Add(time.Hour)),
	}}
	audit := &memAudit{}
	a := NewExecutionArchiver(blob, blob, store, audit, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveExecutions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 3, store.deleted)
	require.Len(t, store.rows, 1)
	assert.Equal(t, "fresh", store.rows[0].OrderID)
	assert.Equal(t, []string{"archive.executions"}, audit.events)

	assert.Contains(t, blob.objects, "executions/2026/06/03/20260605T100000Z.jsonl")
	assert.Contains(t, blob.objects, "executions/2026/06/04/20260605T100000Z.jsonl")
	assert.Equal(t, ContentTypeNDJSON, blob.types["executions/2026/06/03/20260605T100000Z.jsonl"])

	const summaryKey = "audit/2026/06/05/20260605T100000Z.json"
	require.Contains(t, blob.objects, summaryKey)
	assert.Equal(t, ContentTypeJSON, blob.types[summaryKey])
	var summary RunSummary
	require.NoError(t, json.Unmarshal(blob.objects[summaryKey], &summary))
	assert.Equal(t, int64(3), summary.Records)
	assert.Equal(t, int64(3), summary.Deleted)
	assert.Equal(t, []string{
		"executions/2026/06/03/20260605T100000Z.jsonl",
		"executions/2026/06/04/20260605T100000Z.jsonl",
	}, summary.Objects)
	assert.True(t, summary.Before.Equal(cutoff))

	got, err := a.ArchivedExecutions(ctx, day1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].OrderID)
	assert.Equal(t, "b", got[1].OrderID)
	assert.True(t, got[0].ExecutionTime.Equal(day1))
}

func TestArchiveExecutionsNothingToDo(t *testing.T) {
	blob := newMemBlob()
	a := NewExecutionArchiver(blob, blob, &memExecutions{}, nil, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveExecutions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestArchiveExecutionsKeepsRowsWhenUploadFails(t *testing.T) {
	blob := newMemBlob()
	blob.putErr = errors.New("bucket unreachable")
	at := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	store := &memExecutions{rows: []domain.ExecutionMetrics{execAt("a", at)}}
	a := NewExecutionArchiver(blob, blob, store, nil, slog.New(slog.DiscardHandler))

	_, err := a.ArchiveExecutions(context.Background(), at.Add(time.Hour))
	require.Error(t, err)
	assert.Len(t, store.rows, 1)
	assert.Zero(t, store.deleted)
}

func TestArchiveExecutionsSkipsExistingObject(t *testing.T) {
	at := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	cutoff := at.Add(time.Hour)
	blob := newMemBlob()
	key := runKey(PrefixExecutions, "2026/06/03", cutoff, ".jsonl")
	blob.objects[key] = []byte("previous run\n")

	store := &memExecutions{rows: []domain.ExecutionMetrics{execAt("a", at)}}
	a := NewExecutionArchiver(blob, blob, store, nil, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveExecutions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "previous run\n", string(blob.objects[key]))
	assert.Empty(t, store.rows)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio.local", normaliseEndpoint("minio.local", false))
}
