package gitlab

import (
	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/registry"
)

func init() {
	registry.RegisterSource("gitlab", func(cfg *config.TapConfig) (core.Source, error) {
		return NewGitLabSource(cfg)
	})
}
