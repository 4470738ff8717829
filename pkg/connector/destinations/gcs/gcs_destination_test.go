package gcs

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/tap-gitlab/pkg/compression"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObject struct {
	bytes.Buffer
	bucket, object string
	attrs          storage.ObjectAttrs
	closed         bool
	closeErr       error
}

func (m *memObject) Close() error {
	m.closed = true
	return m.closeErr
}

type countingCloser struct{ calls int }

func (c *countingCloser) Close() error {
	c.calls++
	return nil
}

func TestParseTarget(t *testing.T) {
	now := time.Date(2021, 5, 1, 12, 30, 0, 0, time.UTC)

	u, err := url.Parse("gs://bucket/exports/issues.jsonl.zst?credentials_file=/etc/sa.json")
	require.NoError(t, err)
	target, err := ParseTarget(u, now)
	require.NoError(t, err)
	assert.Equal(t, &Target{Bucket: "bucket", Object: "exports/issues.jsonl.zst", CredentialsFile: "/etc/sa.json"}, target)

	u, _ = url.Parse("gs://bucket?endpoint=http://localhost:4443/storage/v1/")
	target, err = ParseTarget(u, now)
	require.NoError(t, err)
	assert.Equal(t, "tap-gitlab-20210501T123000Z.jsonl", target.Object)
	assert.Equal(t, "http://localhost:4443/storage/v1/", target.Endpoint)

	u, _ = url.Parse("gs:///object")
	_, err = ParseTarget(u, now)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestGCSDestinationWritesObject(t *testing.T) {
	testutil.TestLogger(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	obj := &memObject{}
	open := func(_ context.Context, bucket, object string, attrs storage.ObjectAttrs) io.WriteCloser {
		obj.bucket, obj.object, obj.attrs = bucket, object, attrs
		return obj
	}
	client := &countingCloser{}

	d, err := NewGCSDestination(ctx, &Target{Bucket: "bucket", Object: "out/issues.jsonl.zst"}, open, client)
	require.NoError(t, err)
	require.NoError(t, d.WriteRecord("issues", core.Record{"id": 1}, time.Now()))
	require.NoError(t, d.WriteState(map[string]any{}))
	require.NoError(t, d.Close(ctx))

	assert.True(t, obj.closed)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "bucket", obj.bucket)
	assert.Equal(t, "out/issues.jsonl.zst", obj.object)
	assert.Equal(t, contentType, obj.attrs.ContentType)
	assert.Equal(t, "zstd", obj.attrs.ContentEncoding)

	r, err := compression.NewReader(&obj.Buffer, compression.Zstd)
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(plain, []byte("\n")))
}

func TestGCSDestinationCommitFailure(t *testing.T) {
	testutil.TestLogger(t)

	obj := &memObject{closeErr: errors.New(errors.ErrorTypePermission, "forbidden")}
	open := func(context.Context, string, string, storage.ObjectAttrs) io.WriteCloser { return obj }

	d, err := NewGCSDestination(context.Background(), &Target{Bucket: "b", Object: "o.jsonl"}, open, nil)
	require.NoError(t, err)
	err = d.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write to GCS")
}
