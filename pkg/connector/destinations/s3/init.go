package s3

import (
	"context"
	"net/url"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("s3", func(u *url.URL) (core.Destination, error) {
		t, err := ParseTarget(u, time.Now())
		if err != nil {
			return nil, err
		}
		ctx := context.Background()
		uploader, err := NewUploader(ctx, t)
		if err != nil {
			return nil, err
		}
		d, err := NewS3Destination(ctx, t, uploader)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
