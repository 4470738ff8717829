package gitlab

import (
	"testing"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectArrayToIDArray(t *testing.T) {
	items := []any{
		map[string]any{"id": 1, "name": "a"},
		map[string]any{"name": "no id"},
		map[string]any{"id": 3},
		"not an object",
	}
	assert.Equal(t, []any{1, 3}, ObjectArrayToIDArray(items))
	assert.Nil(t, ObjectArrayToIDArray(nil))
	assert.Nil(t, ObjectArrayToIDArray("x"))
}

func TestPopNestedID(t *testing.T) {
	record := core.Record{"author": map[string]any{"id": 5, "name": "x"}, "milestone": nil}

	assert.Equal(t, 5, PopNestedID(record, "author"))
	assert.NotContains(t, record, "author")

	assert.Nil(t, PopNestedID(record, "milestone"))
	assert.NotContains(t, record, "milestone")

	assert.Nil(t, PopNestedID(record, "missing"))
}

func TestNestedIDsAndChain(t *testing.T) {
	transform := chain(
		nestedIDs("author", "assignee"),
		idArrays("assignees"),
		dropFields("assignee_id"),
	)

	record, keep := transform(core.Record{
		"id":        1,
		"author":    map[string]any{"id": 2},
		"assignee":  map[string]any{"id": 3},
		"assignees": []any{map[string]any{"id": 3}, map[string]any{"id": 4}},
	}, nil)
	require.True(t, keep)
	assert.Equal(t, core.Record{
		"id":        1,
		"author_id": 2,
		"assignees": []any{3, 4},
	}, record)
}

func TestChainStopsAtDiscard(t *testing.T) {
	called := false
	transform := chain(
		func(core.Record, core.Context) (core.Record, bool) { return nil, false },
		func(r core.Record, _ core.Context) (core.Record, bool) { called = true; return r, true },
	)
	_, keep := transform(core.Record{}, nil)
	assert.False(t, keep)
	assert.False(t, called)
}

func TestTransformMergeRequestCommit(t *testing.T) {
	record, keep := transformMergeRequestCommit(core.Record{"id": "abc123", "short_id": "abc", "title": "t"}, nil)
	require.True(t, keep)
	assert.Equal(t, core.Record{"commit_id": "abc123", "commit_short_id": "abc", "title": "t"}, record)
}

func TestTransformPipelineExtended(t *testing.T) {
	record, keep := transformPipelineExtended(core.Record{"id": 42}, nil)
	require.True(t, keep)
	assert.Equal(t, 42, record["pipeline_id"])
	assert.Equal(t, 42, record["id"])
}

func TestTransformProjectStatistics(t *testing.T) {
	record, keep := transformProjectStatistics(core.Record{
		"fullPath": "g/p",
		"statistics": map[string]any{
			"commitCount": 12,
			"storageSize": 2048,
			"unknownSize": 1,
		},
	}, nil)
	require.True(t, keep)
	assert.Equal(t, core.Record{"fullPath": "g/p", "commit_count": 12, "storage_size": 2048}, record)

	_, keep = transformProjectStatistics(core.Record{"fullPath": "g/p", "statistics": nil}, nil)
	assert.False(t, keep)
}
