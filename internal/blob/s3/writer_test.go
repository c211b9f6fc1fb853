package s3blob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveKeyLayout(t *testing.T) {
	cutoff := time.Date(2026, 6, 5, 15, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	day := time.Date(2026, 6, 3, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, "executions/2026/06/03/", dayPrefix(PrefixExecutions, day))
	assert.Equal(t, "executions/2026/06/03/20260605T100000Z.jsonl", runKey(PrefixExecutions, dayFolder(day), cutoff, ".jsonl"))
	assert.Equal(t, "audit/2026/06/05/20260605T100000Z.json", runKey(PrefixAudit, dayFolder(cutoff), cutoff, ".json"))
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		key, given, want string
	}{
		{"executions/2026/06/03/x.jsonl", "", ContentTypeNDJSON},
		{"audit/2026/06/05/x.json", "", ContentTypeJSON},
		{"exports/tca.csv", "", "application/octet-stream"},
		{"executions/2026/06/03/x.jsonl", "text/plain", "text/plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, contentTypeFor(tt.key, tt.given), tt.key)
	}
	assert.Equal(t, PrefixAudit, kindOf("audit/2026/06/05/x.json"))
	assert.Equal(t, "loose.json", kindOf("loose.json"))
}

func TestUploadSwitchesToMultipart(t *testing.T) {
	blob := newMemBlob()
	ctx := context.Background()

	require.NoError(t, upload(ctx, blob, "executions/small.jsonl", []byte("{}\n"), ContentTypeNDJSON))
	assert.False(t, blob.multipart["executions/small.jsonl"])

	big := make([]byte, multipartThreshold+1)
	require.NoError(t, upload(ctx, blob, "executions/big.jsonl", big, ContentTypeNDJSON))
	assert.True(t, blob.multipart["executions/big.jsonl"])
	assert.Equal(t, ContentTypeNDJSON, blob.types["executions/big.jsonl"])
}

func TestUploadWrapsError(t *testing.T) {
	blob := newMemBlob()
	blob.putErr = errors.New("access denied")

	err := upload(context.Background(), blob, "audit/x.json", []byte("{}"), ContentTypeJSON)
	require.Error(t, err)
	assert.ErrorIs(t, err, blob.putErr)
	assert.Contains(t, err.Error(), "s3blob: upload audit/x.json (2 bytes)")
}

func TestWriterRejectsEmptyKey(t *testing.T) {
	w := &Writer{}
	assert.ErrorIs(t, w.Put(context.Background(), "", nil, ""), ErrEmptyKey)
	assert.ErrorIs(t, w.PutMultipart(context.Background(), "", nil, 0), ErrEmptyKey)
}
