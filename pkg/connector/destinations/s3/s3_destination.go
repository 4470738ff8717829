// Package s3 streams Singer messages to an Amazon S3 (or S3 compatible)
// object with multipart uploads.
package s3

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/compression"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations/singer"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	defaultRegion         = "us-east-1"
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	defaultMaxConcurrency = 4
	contentType           = "application/x-ndjson"
)

// Uploader is the part of manager.Uploader used by the destination
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Target is a parsed s3:// output URI:
//
//	s3://bucket/key.jsonl.gz?region=eu-west-1&endpoint=http://localhost:9000
//
// A key ending in "/" is a prefix and gets a timestamped file name.
type Target struct {
	Bucket         string
	Key            string
	Region         string
	Endpoint       string
	PartSize       int64
	MaxConcurrency int
}

// ParseTarget reads bucket, key and client options from an s3:// URI
func ParseTarget(u *url.URL, now time.Time) (*Target, error) {
	if u.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 output needs a bucket").WithDetail("target", u.String())
	}
	q := u.Query()
	t := &Target{
		Bucket:         u.Host,
		Key:            strings.TrimPrefix(u.Path, "/"),
		Region:         q.Get("region"),
		Endpoint:       q.Get("endpoint"),
		PartSize:       defaultUploadPartSize,
		MaxConcurrency: defaultMaxConcurrency,
	}
	if t.Region == "" {
		t.Region = defaultRegion
	}
	if t.Key == "" || strings.HasSuffix(t.Key, "/") {
		t.Key += "tap-gitlab-" + now.UTC().Format("20060102T150405Z") + ".jsonl"
	}
	if v := q.Get("part_size"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size < manager.MinUploadPartSize {
			return nil, errors.Newf(errors.ErrorTypeConfig, "part_size must be at least %d bytes", manager.MinUploadPartSize)
		}
		t.PartSize = size
	}
	if v := q.Get("concurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New(errors.ErrorTypeConfig, "concurrency must be a positive integer")
		}
		t.MaxConcurrency = n
	}
	return t, nil
}

// NewUploader builds a multipart uploader from the default AWS credential
// chain. A custom endpoint switches to path-style addressing for MinIO and
// similar stores.
func NewUploader(ctx context.Context, t *Target) (Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(t.Region))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if t.Endpoint != "" {
			o.BaseEndpoint = aws.String(t.Endpoint)
			o.UsePathStyle = true
		}
	})

	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = t.PartSize
		u.Concurrency = t.MaxConcurrency
	}), nil
}

// NewS3Destination streams messages into one object. The upload runs
// while messages are written and completes on Close.
func NewS3Destination(ctx context.Context, t *Target, uploader Uploader) (*singer.Destination, error) {
	algo := compression.FromPath(t.Key)
	pr, pw := io.Pipe()
	upload := &uploadStream{pw: pw, done: make(chan struct{})}
	log := logger.Get().With(zap.String("bucket", t.Bucket), zap.String("key", t.Key))

	input := &s3.PutObjectInput{
		Bucket:      aws.String(t.Bucket),
		Key:         aws.String(t.Key),
		Body:        pr,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"producer":    "tap-gitlab",
			"compression": string(algo),
			"created":     time.Now().UTC().Format(time.RFC3339),
		},
	}
	if enc := algo.ContentEncoding(); enc != "" {
		input.ContentEncoding = aws.String(enc)
	}

	go func() {
		defer close(upload.done)
		start := time.Now()
		result, err := uploader.Upload(ctx, input)
		if err != nil {
			upload.err = errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload to S3").
				WithDetail("bucket", t.Bucket).
				WithDetail("key", t.Key)
			// unblock writers still feeding the pipe
			_ = pr.CloseWithError(upload.err)
			return
		}
		log.Info("output uploaded to S3",
			zap.String("location", result.Location),
			zap.Duration("duration", time.Since(start)))
	}()

	return singer.NewDestination("s3://"+t.Bucket+"/"+t.Key, pw, upload, algo)
}

// uploadStream ends the pipe and waits for the upload to finish
type uploadStream struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error
}

func (u *uploadStream) Close() error {
	closeErr := u.pw.Close()
	<-u.done
	if u.err != nil {
		return u.err
	}
	return closeErr
}
