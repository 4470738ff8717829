package singer

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajitpratap0/tap-gitlab/pkg/compression"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"go.uber.org/zap"
)

// Destination writes Singer messages through an optional compression codec
// into a sink. Object store destinations reuse it with an upload stream as
// the sink.
type Destination struct {
	*MessageWriter

	target string
	codec  io.WriteCloser
	sink   io.Closer

	closeOnce sync.Once
	closeErr  error
	logger    *zap.Logger
}

// NewDestination writes to w, compressed with algo. sink is closed after
// the codec on Close; pass nil to leave w open.
func NewDestination(target string, w io.Writer, sink io.Closer, algo compression.Algorithm) (*Destination, error) {
	codec, err := compression.NewWriter(w, algo, compression.Default)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create compression writer").
			WithDetail("target", target)
	}
	return &Destination{
		MessageWriter: NewMessageWriter(codec),
		target:        target,
		codec:         codec,
		sink:          sink,
		logger:        logger.Get().With(zap.String("destination", target)),
	}, nil
}

// NewStdoutDestination writes uncompressed messages to standard output
func NewStdoutDestination() *Destination {
	d, _ := NewDestination("stdout", os.Stdout, nil, compression.None)
	return d
}

// NewFileDestination creates path, and its parent directories, and writes
// messages to it. The extension selects compression: "out.jsonl.gz" is
// gzip, "out.jsonl.zst" is zstd.
func NewFileDestination(path string) (*Destination, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create output directory").
				WithDetail("path", path)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create output file").
			WithDetail("path", path)
	}
	d, err := NewDestination(path, f, f, compression.FromPath(path))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return d, nil
}

// Close flushes buffered messages, finishes the codec stream and closes
// the sink. Later calls return the first result.
func (d *Destination) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closeErr = d.close()
		stats := d.Stats()
		d.logger.Info("destination closed",
			zap.Int64("schemas", stats.Schemas),
			zap.Int64("records", stats.Records),
			zap.Int64("states", stats.States),
			zap.Int64("bytes", stats.Bytes),
			zap.Error(d.closeErr))
	})
	return d.closeErr
}

func (d *Destination) close() error {
	flushErr := d.Flush()
	codecErr := d.codec.Close()
	var sinkErr error
	if d.sink != nil {
		sinkErr = d.sink.Close()
	}

	switch {
	case flushErr != nil:
		return flushErr
	case codecErr != nil:
		return errors.Wrap(codecErr, errors.ErrorTypeFile, "failed to finish compressed stream")
	case sinkErr != nil:
		return errors.Wrap(sinkErr, errors.ErrorTypeFile, "failed to close output").WithDetail("target", d.target)
	}
	return nil
}

// Target returns where messages are written
func (d *Destination) Target() string {
	return d.target
}

func fileTarget(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	if u.Host != "" {
		return u.Host + u.Path
	}
	return u.Path
}
