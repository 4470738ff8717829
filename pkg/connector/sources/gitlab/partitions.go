package gitlab

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
)

const (
	placeholderGroupID     = "{group_id}"
	placeholderProjectID   = "{project_id}"
	placeholderProjectPath = "{project_path}"
)

// GroupPartitions returns one context per configured group for streams
// keyed on {group_id}. Project streams get their partitions elsewhere and
// yield none here.
func GroupPartitions(stream *core.StreamDescriptor, cfg *config.TapConfig) ([]core.Context, error) {
	path := stream.Path

	if strings.Contains(path, placeholderGroupID) {
		groups := cfg.GroupList()
		if len(groups) == 0 {
			return nil, errors.New(errors.ErrorTypeConfig,
				fmt.Sprintf("missing `groups` setting which is required for the '%s' stream", stream.Name)).
				WithDetail("stream", stream.Name)
		}
		partitions := make([]core.Context, 0, len(groups))
		for _, id := range groups {
			partitions = append(partitions, core.Context{"group_id": id})
		}
		return partitions, nil
	}

	if hasProjectPlaceholder(path) {
		return nil, nil
	}

	return nil, errors.New(errors.ErrorTypeConfig,
		fmt.Sprintf("could not detect partition type for stream '%s' (%s); expected a path containing '{project_path}' or '{group_id}'",
			stream.Name, path)).
		WithDetail("stream", stream.Name)
}

// ProjectPartitions returns one {"project_path": p} context per entry of
// the projects setting.
func ProjectPartitions(cfg *config.TapConfig) ([]core.Context, error) {
	projects := cfg.ProjectList()
	if len(projects) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "missing `projects` setting which is required for project streams")
	}
	partitions := make([]core.Context, 0, len(projects))
	for _, p := range projects {
		partitions = append(partitions, core.Context{"project_path": p})
	}
	return partitions, nil
}

func hasProjectPlaceholder(path string) bool {
	return strings.Contains(path, placeholderProjectID) || strings.Contains(path, placeholderProjectPath)
}
