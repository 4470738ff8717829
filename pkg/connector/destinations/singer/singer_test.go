package singer

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/compression"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/registry"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/ajitpratap0/tap-gitlab/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuesStream() *core.StreamDescriptor {
	return &core.StreamDescriptor{
		Name:           "issues",
		PrimaryKeys:    []string{"id"},
		ReplicationKey: "updated_at",
		Schema: core.Schema{
			"type": "object",
			"properties": map[string]any{
				"id":         map[string]any{"type": "integer"},
				"updated_at": map[string]any{"type": "string", "format": "date-time"},
			},
		},
	}
}

func decodeLines(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg), scanner.Text())
		msgs = append(msgs, msg)
	}
	require.NoError(t, scanner.Err())
	return msgs
}

func TestMessageWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewMessageWriter(&buf)
	extracted := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, w.WriteSchema(issuesStream()))
	require.NoError(t, w.WriteRecord("issues", core.Record{"id": 1, "updated_at": "2021-05-01T00:00:00Z"}, extracted))
	assert.Zero(t, buf.Len(), "records stay buffered until a state")

	require.NoError(t, w.WriteState(map[string]any{"bookmarks": map[string]any{}}))

	msgs := decodeLines(t, &buf)
	require.Len(t, msgs, 3)

	assert.Equal(t, "SCHEMA", msgs[0]["type"])
	assert.Equal(t, "issues", msgs[0]["stream"])
	assert.Equal(t, []any{"id"}, msgs[0]["key_properties"])
	assert.Equal(t, []any{"updated_at"}, msgs[0]["bookmark_properties"])
	assert.Contains(t, msgs[0]["schema"], "properties")

	assert.Equal(t, "RECORD", msgs[1]["type"])
	assert.Equal(t, "2021-05-01T12:00:00Z", msgs[1]["time_extracted"])
	assert.Equal(t, "2021-05-01T00:00:00Z", msgs[1]["record"].(map[string]any)["updated_at"])

	assert.Equal(t, "STATE", msgs[2]["type"])
	assert.Equal(t, map[string]any{"bookmarks": map[string]any{}}, msgs[2]["value"])

	stats := w.Stats()
	assert.Equal(t, Stats{Schemas: 1, Records: 1, States: 1, Bytes: stats.Bytes}, stats)
	assert.Positive(t, stats.Bytes)
}

func TestMessageWriterFullTableSchema(t *testing.T) {
	var buf bytes.Buffer
	w := NewMessageWriter(&buf)

	require.NoError(t, w.WriteSchema(&core.StreamDescriptor{Name: "tags"}))
	require.NoError(t, w.Flush())

	msgs := decodeLines(t, &buf)
	require.Len(t, msgs, 1)
	assert.Equal(t, []any{}, msgs[0]["key_properties"])
	assert.NotContains(t, msgs[0], "bookmark_properties")
}

func TestFileDestination(t *testing.T) {
	testutil.TestLogger(t)

	for _, name := range []string{"out.jsonl", "out.jsonl.gz", "out.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			d, err := NewFileDestination(path)
			require.NoError(t, err)

			require.NoError(t, d.WriteSchema(issuesStream()))
			for i := 0; i < 50; i++ {
				require.NoError(t, d.WriteRecord("issues", core.Record{"id": i}, time.Now()))
			}
			require.NoError(t, d.WriteState(map[string]any{"bookmarks": map[string]any{}}))
			require.NoError(t, d.Close(context.Background()))
			require.NoError(t, d.Close(context.Background()), "close is idempotent")

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			r, err := compression.NewReader(f, compression.FromPath(path))
			require.NoError(t, err)
			defer r.Close()

			assert.Len(t, decodeLines(t, r), 52)
		})
	}
}

func TestFileDestinationBadPath(t *testing.T) {
	testutil.TestLogger(t)
	blocker := testutil.WriteFile(t, "blocker", []byte("x"))

	_, err := NewFileDestination(filepath.Join(blocker, "out.jsonl"))
	assert.Error(t, err)
}

func TestRegisteredDestinations(t *testing.T) {
	testutil.TestLogger(t)

	d, err := registry.CreateDestination("-")
	require.NoError(t, err)
	assert.Equal(t, "stdout", d.(*Destination).Target())

	path := filepath.Join(t.TempDir(), "singer.jsonl")
	d, err = registry.CreateDestination(path)
	require.NoError(t, err)
	assert.Equal(t, path, d.(*Destination).Target())
	require.NoError(t, d.Close(context.Background()))
	assert.FileExists(t, path)
}
