package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/optionsbot/internal/domain"
)

// Content types of archive objects.
const (
	ContentTypeNDJSON = "application/x-ndjson"
	ContentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// Top-level folders of the archive bucket. Execution records are stored as
// one JSONL object per day and run; each run also exports a JSON summary
// under audit/.
const (
	PrefixExecutions = "executions"
	PrefixAudit      = "audit"
)

const (
	// minPartSize is the S3 floor for a multipart part (5 MiB).
	minPartSize int64 = 5 * 1024 * 1024

	// multipartThreshold is the payload size above which uploads switch
	// to the multipart manager.
	multipartThreshold = 64 * 1024 * 1024
)

// ErrEmptyKey is returned for an upload without an object key.
var ErrEmptyKey = errors.New("s3blob: empty object key")

// Writer implements domain.BlobWriter for the archive bucket. Every object is
// tagged with the archive folder it belongs to.
type Writer struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer that uploads to the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads data in a single PutObject request. An empty contentType is
// derived from the key's extension.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := w.client.PutObject(ctx, w.input(key, data, contentType))
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads data through the multipart manager in parts of
// partSize bytes, clamped to the 5 MiB minimum.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(key, data, "")); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

func (w *Writer) input(key string, data io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentTypeFor(key, contentType)),
		Metadata:    map[string]string{"archive-kind": kindOf(key)},
	}
}

// upload writes buf to key, through the multipart manager when it is larger
// than multipartThreshold.
func upload(ctx context.Context, w domain.BlobWriter, key string, buf []byte, contentType string) error {
	var err error
	if len(buf) > multipartThreshold {
		err = w.PutMultipart(ctx, key, bytes.NewReader(buf), 0)
	} else {
		err = w.Put(ctx, key, bytes.NewReader(buf), contentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload %s (%d bytes): %w", key, len(buf), err)
	}
	return nil
}

// dayFolder is the YYYY/MM/DD path segment of a UTC day.
func dayFolder(t time.Time) string {
	return t.UTC().Format("2006/01/02")
}

// dayPrefix lists one folder's objects for a day, for example
//
//	executions/2026/06/03/
func dayPrefix(kind string, day time.Time) string {
	return path.Join(kind, dayFolder(day)) + "/"
}

// runKey names the object one archive run writes into a day folder, for
// example
//
//	executions/2026/06/03/20260605T100000Z.jsonl
func runKey(kind, day string, cutoff time.Time, ext string) string {
	return path.Join(kind, day, cutoff.UTC().Format("20060102T150405Z")+ext)
}

func contentTypeFor(key, given string) string {
	if given != "" {
		return given
	}
	switch path.Ext(key) {
	case ".jsonl":
		return ContentTypeNDJSON
	case ".json":
		return ContentTypeJSON
	}
	return contentTypeBinary
}

func kindOf(key string) string {
	kind, _, _ := strings.Cut(key, "/")
	return kind
}
