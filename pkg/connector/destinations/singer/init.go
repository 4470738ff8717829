package singer

import (
	"net/url"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterDestination("stdout", func(*url.URL) (core.Destination, error) {
		return NewStdoutDestination(), nil
	})
	_ = registry.RegisterDestination("file", func(u *url.URL) (core.Destination, error) {
		d, err := NewFileDestination(fileTarget(u))
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
