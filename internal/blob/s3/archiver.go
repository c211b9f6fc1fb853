package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// ExecutionArchiveStore is the part of the execution log the archiver needs.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionMetrics, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ExecutionArchiver implements domain.Archiver. Executions older than the
// cutoff are grouped by execution day, written as JSONL under
// executions/YYYY/MM/DD/, and removed from the primary store only after every
// day uploaded. Each run then exports its summary under audit/.
type ExecutionArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	store  ExecutionArchiveStore
	audit  domain.AuditStore // optional
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Archiver = (*ExecutionArchiver)(nil)

// NewExecutionArchiver creates an ExecutionArchiver. audit may be nil.
func NewExecutionArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	store ExecutionArchiveStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ExecutionArchiver {
	return &ExecutionArchiver{
		writer: writer,
		reader: reader,
		store:  store,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "execution_archiver")),
	}
}

// ArchiveExecutions uploads, then deletes, every execution before the cutoff
// and returns how many were archived.
func (a *ExecutionArchiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(execs) == 0 {
		return 0, nil
	}

	days := groupByDay(execs)
	keys := make([]string, 0, len(days))
	for day := range days {
		keys = append(keys, day)
	}
	sort.Strings(keys)

	objects := make([]string, 0, len(keys))
	for _, day := range keys {
		key := runKey(PrefixExecutions, day, before, ".jsonl")
		objects = append(objects, key)
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive executions check %s: %w", key, err)
		}
		if exists {
			a.logger.InfoContext(ctx, "archive object already present", slog.String("key", key))
			continue
		}
		if err := a.upload(ctx, key, days[day]); err != nil {
			return 0, err
		}
	}

	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions delete: %w", err)
	}

	count := int64(len(execs))
	a.logger.InfoContext(ctx, "executions archived",
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
		slog.Int("days", len(keys)),
		slog.Time("before", before),
	)

	summary := RunSummary{
		Before:   before.UTC(),
		Records:  count,
		Deleted:  deleted,
		Objects:  objects,
		Finished: a.now().UTC(),
	}
	if err := a.exportSummary(ctx, summary); err != nil {
		return count, err
	}
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"count":  count,
			"days":   len(keys),
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
	return count, nil
}

// RunSummary is the audit export of one archive run.
type RunSummary struct {
	Before   time.Time `json:"before"`
	Records  int64     `json:"records"`
	Deleted  int64     `json:"deleted"`
	Objects  []string  `json:"objects"`
	Finished time.Time `json:"finished"`
}

// exportSummary writes the run summary to audit/YYYY/MM/DD/<cutoff>.json,
// filed under the cutoff's day.
func (a *ExecutionArchiver) exportSummary(ctx context.Context, s RunSummary) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("s3blob: archive summary marshal: %w", err)
	}
	key := runKey(PrefixAudit, dayFolder(s.Before), s.Before, ".json")
	if err := upload(ctx, a.writer, key, buf, ContentTypeJSON); err != nil {
		return fmt.Errorf("s3blob: archive summary export: %w", err)
	}
	return nil
}

func (a *ExecutionArchiver) upload(ctx context.Context, key string, execs []domain.ExecutionMetrics) error {
	buf, err := marshalJSONL(execs)
	if err != nil {
		return fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}
	if err := upload(ctx, a.writer, key, buf, ContentTypeNDJSON); err != nil {
		return fmt.Errorf("s3blob: archive executions: %w", err)
	}
	return nil
}

// ArchivedExecutions reads back every archived execution of the given UTC
// day, oldest first.
func (a *ExecutionArchiver) ArchivedExecutions(ctx context.Context, day time.Time) ([]domain.ExecutionMetrics, error) {
	prefix := dayPrefix(PrefixExecutions, day)
	infos, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archive %s: %w", prefix, err)
	}

	var out []domain.ExecutionMetrics
	for _, info := range infos {
		if path.Ext(info.Path) != ".jsonl" {
			continue
		}
		rc, err := a.reader.Get(ctx, info.Path)
		if err != nil {
			return nil, err
		}
		recs, err := unmarshalJSONL[domain.ExecutionMetrics](bufio.NewScanner(rc))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("s3blob: decode %s: %w", info.Path, err)
		}
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutionTime.Before(out[j].ExecutionTime) })
	return out, nil
}

func groupByDay(execs []domain.ExecutionMetrics) map[string][]domain.ExecutionMetrics {
	days := make(map[string][]domain.ExecutionMetrics)
	for _, m := range execs {
		day := dayFolder(m.ExecutionTime)
		days[day] = append(days[day], m)
	}
	return days
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalJSONL[T any](sc *bufio.Scanner) ([]T, error) {
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var out []T
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("jsonl decode line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
