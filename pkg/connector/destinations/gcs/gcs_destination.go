// Package gcs streams Singer messages to a Google Cloud Storage object.
package gcs

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/tap-gitlab/pkg/compression"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations/singer"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const contentType = "application/x-ndjson"

// Target is a parsed gs:// output URI:
//
//	gs://bucket/path/issues.jsonl.zst?credentials_file=/etc/sa.json
//
// endpoint points the client at an emulator and disables authentication.
type Target struct {
	Bucket          string
	Object          string
	CredentialsFile string
	Endpoint        string
}

// ObjectWriterFunc opens a writer for a new object. Closing the writer
// commits the object.
type ObjectWriterFunc func(ctx context.Context, bucket, object string, attrs storage.ObjectAttrs) io.WriteCloser

// ParseTarget reads bucket, object and client options from a gs:// URI
func ParseTarget(u *url.URL, now time.Time) (*Target, error) {
	if u.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gs output needs a bucket").WithDetail("target", u.String())
	}
	q := u.Query()
	t := &Target{
		Bucket:          u.Host,
		Object:          strings.TrimPrefix(u.Path, "/"),
		CredentialsFile: q.Get("credentials_file"),
		Endpoint:        q.Get("endpoint"),
	}
	if t.Object == "" || strings.HasSuffix(t.Object, "/") {
		t.Object += "tap-gitlab-" + now.UTC().Format("20060102T150405Z") + ".jsonl"
	}
	return t, nil
}

// NewObjectWriter creates a storage client for the target and returns a
// writer factory bound to it, plus the client for closing.
func NewObjectWriter(ctx context.Context, t *Target) (ObjectWriterFunc, io.Closer, error) {
	var opts []option.ClientOption
	if t.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(t.CredentialsFile))
	}
	if t.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(t.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to create GCS client")
	}

	open := func(ctx context.Context, bucket, object string, attrs storage.ObjectAttrs) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = attrs.ContentType
		w.ContentEncoding = attrs.ContentEncoding
		w.Metadata = attrs.Metadata
		return w
	}
	return open, client, nil
}

// NewGCSDestination streams messages into one object, committed on Close.
// client, when set, is closed after the object.
func NewGCSDestination(ctx context.Context, t *Target, open ObjectWriterFunc, client io.Closer) (*singer.Destination, error) {
	algo := compression.FromPath(t.Object)
	attrs := storage.ObjectAttrs{
		ContentType:     contentType,
		ContentEncoding: algo.ContentEncoding(),
		Metadata: map[string]string{
			"producer":    "tap-gitlab",
			"compression": string(algo),
			"created":     time.Now().UTC().Format(time.RFC3339),
		},
	}

	w := open(ctx, t.Bucket, t.Object, attrs)
	sink := &objectSink{
		w:      w,
		client: client,
		logger: logger.Get().With(zap.String("bucket", t.Bucket), zap.String("object", t.Object)),
	}
	return singer.NewDestination("gs://"+t.Bucket+"/"+t.Object, w, sink, algo)
}

type objectSink struct {
	w      io.WriteCloser
	client io.Closer
	logger *zap.Logger
}

func (s *objectSink) Close() error {
	err := s.w.Close()
	if s.client != nil {
		_ = s.client.Close()
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write to GCS")
	}
	s.logger.Info("output committed to GCS")
	return nil
}
