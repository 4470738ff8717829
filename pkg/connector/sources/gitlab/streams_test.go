package gitlab

import (
	"strings"
	"testing"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamNames(streams []*core.StreamDescriptor) []string {
	names := make([]string, 0, len(streams))
	for _, s := range streams {
		names = append(names, s.Name)
	}
	return names
}

func TestStreamsAreValid(t *testing.T) {
	streams, err := Streams()
	require.NoError(t, err)
	require.NotEmpty(t, streams)

	seen := map[string]bool{}
	for _, s := range streams {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, s.Validate())
			assert.NotEmpty(t, s.Schema.Properties(), "schema")
			for _, pk := range s.PrimaryKeys {
				assert.True(t, s.Schema.HasProperty(pk), "primary key %s", pk)
			}
			if s.ReplicationKey != "" {
				assert.True(t, s.Schema.HasProperty(s.ReplicationKey), "replication key")
			}
			if s.Parent != "" {
				assert.True(t, seen[s.Parent], "parent %s listed first", s.Parent)
			}
			if s.Transport == core.TransportGraphQL {
				assert.NotEmpty(t, s.GraphQLQuery)
			} else {
				assert.NotEmpty(t, s.Path)
			}
		})
		assert.False(t, seen[s.Name], "duplicate stream %s", s.Name)
		seen[s.Name] = true
	}
}

func TestStreamsReturnsFreshDescriptors(t *testing.T) {
	first, err := Streams()
	require.NoError(t, err)
	second, err := Streams()
	require.NoError(t, err)

	first[0].ExtraParams["statistics"] = "0"
	assert.Equal(t, "1", second[0].ExtraParams["statistics"])
}

func TestEnabledStreams(t *testing.T) {
	all, err := Streams()
	require.NoError(t, err)

	none := streamNames(EnabledStreams(all, func(string) bool { return false }))
	assert.Contains(t, none, "issues")
	assert.Contains(t, none, "issue_notes")
	assert.Contains(t, none, "group_milestones")
	assert.NotContains(t, none, "merge_request_commits")
	assert.NotContains(t, none, "pipelines_extended")
	assert.NotContains(t, none, "epics")
	assert.NotContains(t, none, "epic_issues")
	assert.NotContains(t, none, "project_variables")
	assert.NotContains(t, none, "group_variables")

	ultimate := streamNames(EnabledStreams(all, func(flag string) bool { return flag == "ultimate_license" }))
	assert.Contains(t, ultimate, "epics")
	assert.Contains(t, ultimate, "epic_issues")
}

func TestEnabledStreamsDropsOrphans(t *testing.T) {
	streams := []*core.StreamDescriptor{
		{Name: "parent", Gate: "flag"},
		{Name: "child", Parent: "parent"},
		{Name: "other"},
	}
	assert.Equal(t, []string{"other"}, streamNames(EnabledStreams(streams, func(string) bool { return false })))
	assert.Equal(t, []string{"parent", "child", "other"}, streamNames(EnabledStreams(streams, func(string) bool { return true })))
}

func TestChildContext(t *testing.T) {
	derive := childContext(map[string]string{"issue_iid": "iid"})
	parent := core.Context{"project_id": 1}

	child := derive(core.Record{"id": 100, "iid": 7}, parent)
	assert.Equal(t, core.Context{"project_id": 1, "issue_iid": 7}, child)
	assert.Equal(t, core.Context{"project_id": 1}, parent)

	assert.Equal(t, core.Context{"issue_iid": 7}, derive(core.Record{"iid": 7}, nil))
}

func TestChildStreamsResolveFromParentRecords(t *testing.T) {
	streams, err := Streams()
	require.NoError(t, err)

	byName := map[string]*core.StreamDescriptor{}
	partitions := map[string]core.Context{}
	record := core.Record{"id": 11, "iid": 22}

	for _, s := range streams {
		byName[s.Name] = s
		switch {
		case s.Parent != "":
			parent := byName[s.Parent]
			require.NotNil(t, parent.ChildContext, "parent %s of %s derives no child context", parent.Name, s.Name)
			partitions[s.Name] = parent.ChildContext(record, partitions[s.Parent])
		case s.Scope == core.ScopeGroup:
			partitions[s.Name] = core.Context{"group_id": "10"}
		default:
			partitions[s.Name] = core.Context{"project_path": "g/p"}
		}

		if s.Transport == core.TransportGraphQL {
			assert.Contains(t, partitions[s.Name], "project_path", s.Name)
			continue
		}
		url := ResolveURL("https://gitlab.example.com/api/v4", s.Path, nil, partitions[s.Name])
		assert.False(t, strings.Contains(url, "{"), "%s resolves to %s", s.Name, url)
	}

	assert.Equal(t, core.Context{"project_path": "g/p", "project_id": 11, "issue_iid": 22}, partitions["issue_notes"])
	assert.Equal(t, core.Context{"project_path": "g/p", "project_id": 11}, partitions["branches"])
}

func TestLoadSchemaUnknownStream(t *testing.T) {
	_, err := LoadSchema("nope")
	assert.Error(t, err)
}
