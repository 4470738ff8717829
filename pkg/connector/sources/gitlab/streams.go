package gitlab

import (
	"embed"
	"fmt"
	"sync"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]core.Schema
	schemasErr  error
)

// LoadSchema returns the embedded JSON schema of a stream
func LoadSchema(stream string) (core.Schema, error) {
	schemasOnce.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		schemas = make(map[string]core.Schema, len(entries))
		for _, e := range entries {
			data, err := schemaFS.ReadFile("schemas/" + e.Name())
			if err != nil {
				schemasErr = err
				return
			}
			var s core.Schema
			if err := json.Unmarshal(data, &s); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
			schemas[e.Name()[:len(e.Name())-len(".json")]] = s
		}
	})
	if schemasErr != nil {
		return nil, schemasErr
	}
	s, ok := schemas[stream]
	if !ok {
		return nil, fmt.Errorf("no schema for stream %s", stream)
	}
	return s, nil
}

// childContext derives a child partition from the parent partition plus
// record fields, keyed child context key -> record field.
func childContext(fields map[string]string) core.ChildContextFunc {
	return func(record core.Record, partition core.Context) core.Context {
		ctx := partition.Clone()
		if ctx == nil {
			ctx = core.Context{}
		}
		for ctxKey, recordKey := range fields {
			if v, ok := record[recordKey]; ok && v != nil {
				ctx[ctxKey] = v
			}
		}
		return ctx
	}
}

const projectStatisticsQuery = `query ($project_path: ID!) {
  project(fullPath: $project_path) {
    fullPath
    statistics {
      commitCount
      storageSize
      repositorySize
      lfsObjectsSize
      buildArtifactsSize
      packagesSize
      snippetsSize
      uploadsSize
      wikiSize
    }
  }
}`

// Streams returns a fresh set of stream descriptors, parents before
// children. Descriptors and their params are never shared between calls.
func Streams() ([]*core.StreamDescriptor, error) {
	projectKeys := []string{"project_id"}
	groupKeys := []string{"group_id"}

	streams := []*core.StreamDescriptor{
		{
			Name:               "projects",
			Path:               "/projects/{project_path}",
			PrimaryKeys:        []string{"id"},
			ReplicationKey:     "last_activity_at",
			Scope:              core.ScopeProject,
			RecordsPath:        core.RecordsPathObject,
			ExtraParams:        map[string]string{"statistics": "1"},
			StatePartitionKeys: []string{"project_path"},
			ChildContext:       childContext(map[string]string{"project_id": "id", "project_path": "path_with_namespace"}),
		},
		{
			Name:               "branches",
			Path:               "/projects/{project_id}/repository/branches",
			PrimaryKeys:        []string{"project_id", "name"},
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			Transform:          nestedIDs("commit"),
		},
		{
			Name:               "commits",
			Path:               "/projects/{project_id}/repository/commits",
			PrimaryKeys:        []string{"id"},
			ReplicationKey:     "created_at",
			Scope:              core.ScopeProject,
			ExtraParams:        map[string]string{"with_stats": "true"},
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
		},
		{
			Name:               "issues",
			Path:               "/projects/{project_id}/issues",
			PrimaryKeys:        []string{"id"},
			ReplicationKey:     "updated_at",
			BookmarkParam:      "updated_after",
			Scope:              core.ScopeProject,
			ExtraParams:        map[string]string{"scope": "all"},
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			ChildContext:       childContext(map[string]string{"issue_iid": "iid"}),
			Transform: chain(
				nestedIDs("author", "closed_by", "milestone"),
				idArrays("assignees"),
				dropFields("assignee"),
			),
		},
		{
			Name:               "issue_notes",
			Path:               "/projects/{project_id}/issues/{issue_iid}/notes",
			PrimaryKeys:        []string{"id"},
			ReplicationKey:     "updated_at",
			Scope:              core.ScopeProject,
			Pagination:         core.PaginationEmulated,
			Parent:             "issues",
			StatePartitionKeys: []string{"project_id", "issue_iid"},
			Transform:          nestedIDs("author"),
		},
		{
			Name:               "merge_requests",
			Path:               "/projects/{project_id}/merge_requests",
			PrimaryKeys:        []string{"id"},
			ReplicationKey:     "updated_at",
			BookmarkParam:      "updated_after",
			Scope:              core.ScopeProject,
			ExtraParams:        map[string]string{"scope": "all"},
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			ChildContext:       childContext(map[string]string{"merge_request_iid": "iid"}),
			Transform: chain(
				nestedIDs("author", "merged_by", "milestone"),
				idArrays("assignees", "reviewers"),
				dropFields("assignee", "closed_by"),
			),
		},
		{
			Name:               "merge_request_commits",
			Path:               "/projects/{project_id}/merge_requests/{merge_request_iid}/commits",
			PrimaryKeys:        []string{"project_id", "merge_request_iid", "commit_id"},
			Scope:              core.ScopeProject,
			Parent:             "merge_requests",
			StatePartitionKeys: []string{"project_id", "merge_request_iid"},
			Transform:          transformMergeRequestCommit,
			Gate:               "fetch_merge_request_commits",
		},
		{
			Name:               "pipelines",
			Path:               "/projects/{project_id}/pipelines",
			PrimaryKeys:        []string{"id"},
			ReplicationKey:     "updated_at",
			BookmarkParam:      "updated_after",
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			ChildContext:       childContext(map[string]string{"pipeline_id": "id"}),
		},
		{
			Name:               "pipelines_extended",
			Path:               "/projects/{project_id}/pipelines/{pipeline_id}",
			PrimaryKeys:        []string{"id"},
			Scope:              core.ScopeProject,
			RecordsPath:        core.RecordsPathObject,
			Parent:             "pipelines",
			StatePartitionKeys: []string{"project_id", "pipeline_id"},
			Transform:          chain(nestedIDs("user"), transformPipelineExtended, dropFields("detailed_status")),
			Gate:               "fetch_pipelines_extended",
		},
		{
			Name:               "jobs",
			Path:               "/projects/{project_id}/pipelines/{pipeline_id}/jobs",
			PrimaryKeys:        []string{"id"},
			Scope:              core.ScopeProject,
			Parent:             "pipelines",
			StatePartitionKeys: []string{"project_id", "pipeline_id"},
			Transform:          chain(nestedIDs("user", "commit"), dropFields("pipeline", "runner", "artifacts", "artifacts_file")),
		},
		{
			Name:               "project_milestones",
			Path:               "/projects/{project_id}/milestones",
			PrimaryKeys:        []string{"id"},
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
		},
		{
			Name:               "project_members",
			Path:               "/projects/{project_id}/members",
			PrimaryKeys:        []string{"project_id", "id"},
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
		},
		{
			Name:               "project_labels",
			Path:               "/projects/{project_id}/labels",
			PrimaryKeys:        []string{"project_id", "id"},
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
		},
		{
			Name:               "releases",
			Path:               "/projects/{project_id}/releases",
			PrimaryKeys:        []string{"project_id", "tag_name"},
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			Transform:          chain(nestedIDs("author", "commit"), dropFields("assets", "evidences", "_links", "milestones")),
		},
		{
			Name:               "tags",
			Path:               "/projects/{project_id}/repository/tags",
			PrimaryKeys:        []string{"project_id", "name"},
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			Transform:          chain(nestedIDs("commit"), dropFields("release")),
		},
		{
			Name:               "project_variables",
			Path:               "/projects/{project_id}/variables",
			PrimaryKeys:        []string{"project_id", "key"},
			Scope:              core.ScopeProject,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			Gate:               "fetch_project_variables",
		},
		{
			Name:               "project_statistics",
			PrimaryKeys:        []string{"project_id"},
			Scope:              core.ScopeProject,
			Transport:          core.TransportGraphQL,
			Parent:             "projects",
			StatePartitionKeys: projectKeys,
			GraphQLQuery:       projectStatisticsQuery,
			Transform:          transformProjectStatistics,
		},
		{
			Name:               "groups",
			Path:               "/groups/{group_id}",
			PrimaryKeys:        []string{"id"},
			Scope:              core.ScopeGroup,
			RecordsPath:        core.RecordsPathObject,
			ExtraParams:        map[string]string{"with_projects": "true"},
			StatePartitionKeys: groupKeys,
			Transform:          idArrays("projects"),
		},
		{
			Name:               "group_milestones",
			Path:               "/groups/{group_id}/milestones",
			PrimaryKeys:        []string{"id"},
			Scope:              core.ScopeGroup,
			StatePartitionKeys: groupKeys,
		},
		{
			Name:               "group_members",
			Path:               "/groups/{group_id}/members",
			PrimaryKeys:        []string{"group_id", "id"},
			Scope:              core.ScopeGroup,
			StatePartitionKeys: groupKeys,
		},
		{
			Name:               "group_labels",
			Path:               "/groups/{group_id}/labels",
			PrimaryKeys:        []string{"group_id", "id"},
			Scope:              core.ScopeGroup,
			StatePartitionKeys: groupKeys,
		},
		{
			Name:               "epics",
			Path:               "/groups/{group_id}/epics",
			PrimaryKeys:        []string{"id"},
			ReplicationKey:     "updated_at",
			BookmarkParam:      "updated_after",
			Scope:              core.ScopeGroup,
			StatePartitionKeys: groupKeys,
			ChildContext:       childContext(map[string]string{"epic_iid": "iid", "epic_id": "id"}),
			Transform:          chain(nestedIDs("author"), dropFields("references", "_links")),
			Gate:               "ultimate_license",
		},
		{
			Name:               "epic_issues",
			Path:               "/groups/{group_id}/epics/{epic_iid}/issues",
			PrimaryKeys:        []string{"group_id", "epic_iid", "id"},
			Scope:              core.ScopeGroup,
			Parent:             "epics",
			StatePartitionKeys: []string{"group_id", "epic_iid"},
			Transform: chain(
				nestedIDs("author", "milestone"),
				idArrays("assignees"),
				dropFields("assignee", "closed_by", "_links", "references"),
			),
			Gate: "ultimate_license",
		},
		{
			Name:               "group_variables",
			Path:               "/groups/{group_id}/variables",
			PrimaryKeys:        []string{"group_id", "key"},
			Scope:              core.ScopeGroup,
			StatePartitionKeys: groupKeys,
			Gate:               "fetch_group_variables",
		},
	}

	for _, s := range streams {
		schema, err := LoadSchema(s.Name)
		if err != nil {
			return nil, err
		}
		s.Schema = schema
	}
	return streams, nil
}

// UseProjectListing points the projects stream at the projects the token
// is a member of, for configs without a projects setting. The stream is
// then unpartitioned and keeps one bookmark.
func UseProjectListing(stream *core.StreamDescriptor) {
	stream.Path = "/projects"
	stream.Scope = core.ScopeNone
	stream.RecordsPath = ""
	stream.BookmarkParam = "last_activity_after"
	stream.StatePartitionKeys = nil
	stream.ExtraParams = map[string]string{"statistics": "1", "membership": "true"}
}

// EnabledStreams filters streams by their config gate. A stream whose
// parent is disabled is disabled too.
func EnabledStreams(streams []*core.StreamDescriptor, enabled func(flag string) bool) []*core.StreamDescriptor {
	on := make(map[string]bool, len(streams))
	out := make([]*core.StreamDescriptor, 0, len(streams))
	for _, s := range streams {
		if s.Gate != "" && !enabled(s.Gate) {
			continue
		}
		if s.Parent != "" && !on[s.Parent] {
			continue
		}
		on[s.Name] = true
		out = append(out, s)
	}
	return out
}
