package gcs

import (
	"context"
	"net/url"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("gs", func(u *url.URL) (core.Destination, error) {
		t, err := ParseTarget(u, time.Now())
		if err != nil {
			return nil, err
		}
		ctx := context.Background()
		open, client, err := NewObjectWriter(ctx, t)
		if err != nil {
			return nil, err
		}
		d, err := NewGCSDestination(ctx, t, open, client)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
