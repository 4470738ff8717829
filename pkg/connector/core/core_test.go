package core

import (
	"testing"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuesSchema() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"id":         map[string]any{"type": "integer"},
			"project_id": map[string]any{"type": "integer"},
			"updated_at": map[string]any{"type": []any{"string", "null"}, "format": "date-time"},
			"iid":        map[string]any{"type": "integer"},
		},
	}
}

func TestContextCloneAndSubset(t *testing.T) {
	ctx := Context{"project_id": 1, "issue_iid": 7}

	clone := ctx.Clone()
	clone["project_id"] = 2
	assert.Equal(t, 1, ctx["project_id"])

	assert.Equal(t, Context{"project_id": 1}, ctx.Subset([]string{"project_id", "missing"}))
	assert.Nil(t, Context(nil).Clone())
}

func TestStreamDescriptorDefaults(t *testing.T) {
	rest := &StreamDescriptor{Name: "issues", Path: "/projects/{project_id}/issues"}
	assert.Equal(t, "since", rest.BookmarkParamName())
	assert.Equal(t, RecordsPathArray, rest.RecordsPathOrDefault())

	gql := &StreamDescriptor{Name: "stats", Transport: TransportGraphQL, GraphQLQuery: "{ x }"}
	assert.Equal(t, RecordsPathGraphQL, gql.RecordsPathOrDefault())

	obj := &StreamDescriptor{Name: "projects", RecordsPath: RecordsPathObject, BookmarkParam: "updated_after"}
	assert.Equal(t, RecordsPathObject, obj.RecordsPathOrDefault())
	assert.Equal(t, "updated_after", obj.BookmarkParamName())
}

func TestIsTimestampReplicationKey(t *testing.T) {
	s := &StreamDescriptor{Name: "issues", ReplicationKey: "updated_at", Schema: issuesSchema()}
	assert.True(t, s.IsTimestampReplicationKey())

	s.ReplicationKey = "iid"
	assert.False(t, s.IsTimestampReplicationKey())

	s.ReplicationKey = ""
	assert.False(t, s.IsTimestampReplicationKey())
}

func TestPartitionKey(t *testing.T) {
	s := &StreamDescriptor{Name: "issue_notes", StatePartitionKeys: []string{"project_id", "issue_iid"}}
	got := s.PartitionKey(Context{"project_id": 1, "issue_iid": 2, "project_path": "a/b"})
	assert.Equal(t, Context{"project_id": 1, "issue_iid": 2}, got)

	unpartitioned := &StreamDescriptor{Name: "x"}
	assert.Nil(t, unpartitioned.PartitionKey(Context{"project_id": 1}))
}

func TestStreamDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		stream  StreamDescriptor
		wantErr bool
	}{
		{name: "valid rest", stream: StreamDescriptor{Name: "issues", Path: "/issues", ReplicationKey: "updated_at", Schema: issuesSchema()}},
		{name: "missing name", stream: StreamDescriptor{Path: "/x"}, wantErr: true},
		{name: "rest without path", stream: StreamDescriptor{Name: "x"}, wantErr: true},
		{name: "graphql without query", stream: StreamDescriptor{Name: "x", Transport: TransportGraphQL}, wantErr: true},
		{name: "emulated without key", stream: StreamDescriptor{Name: "x", Path: "/x", Pagination: PaginationEmulated}, wantErr: true},
		{name: "key not in schema", stream: StreamDescriptor{Name: "x", Path: "/x", ReplicationKey: "nope", Schema: issuesSchema()}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stream.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "rest", TransportREST.String())
	assert.Equal(t, "graphql", TransportGraphQL.String())
	assert.Equal(t, "native", PaginationNative.String())
	assert.Equal(t, "emulated", PaginationEmulated.String())
	assert.Equal(t, "none", ScopeNone.String())
	assert.Equal(t, "project", ScopeProject.String())
	assert.Equal(t, "group", ScopeGroup.String())
}

func TestCatalogEntry(t *testing.T) {
	s := &StreamDescriptor{
		Name:           "issues",
		Path:           "/projects/{project_id}/issues",
		PrimaryKeys:    []string{"id"},
		ReplicationKey: "updated_at",
		Parent:         "projects",
		Schema:         issuesSchema(),
	}
	entry := NewCatalogEntry(s)

	assert.Equal(t, "issues", entry.TapStreamID)
	assert.Equal(t, ReplicationIncremental, entry.ReplicationMethod)
	assert.True(t, entry.Selected())
	assert.Len(t, entry.Metadata, 1+len(s.Schema.Properties()))
	assert.Equal(t, "projects", entry.Metadata[0].Metadata["parent-tap-stream-id"])

	full := NewCatalogEntry(&StreamDescriptor{Name: "tags", Path: "/tags", Schema: Schema{}})
	assert.Equal(t, ReplicationFullTable, full.ReplicationMethod)
}

func TestLoadCatalogSelection(t *testing.T) {
	path := testutil.WriteFile(t, "catalog.json", []byte(`{"streams":[
		{"tap_stream_id":"projects","stream":"projects","schema":{},"key_properties":["id"],"replication_method":"FULL_TABLE",
		 "metadata":[{"breadcrumb":[],"metadata":{"selected":true}}]},
		{"tap_stream_id":"issues","stream":"issues","schema":{},"key_properties":["id"],"replication_method":"INCREMENTAL",
		 "metadata":[{"breadcrumb":[],"metadata":{"selected":false}}]},
		{"tap_stream_id":"tags","stream":"tags","schema":{},"key_properties":[],"replication_method":"FULL_TABLE","metadata":[]}
	]}`))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects", "tags"}, catalog.SelectedStreams())

	_, ok := catalog.Entry("issues")
	assert.True(t, ok)

	_, err = LoadCatalog(testutil.WriteFile(t, "bad.json", []byte("{")))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
