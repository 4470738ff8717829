package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/ajitpratap0/tap-gitlab/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var timestampSchema = core.Schema{
	"type": "object",
	"properties": map[string]any{
		"id":         map[string]any{"type": "integer"},
		"iid":        map[string]any{"type": "integer"},
		"project_id": map[string]any{"type": "integer"},
		"updated_at": map[string]any{"type": "string", "format": "date-time"},
	},
}

func issuesStream() *core.StreamDescriptor {
	return &core.StreamDescriptor{
		Name:               "issues",
		Path:               "/projects/{project_id}/issues",
		PrimaryKeys:        []string{"id"},
		ReplicationKey:     "updated_at",
		StatePartitionKeys: []string{"project_id"},
		Scope:              core.ScopeProject,
		Schema:             timestampSchema,
	}
}

func notesStream() *core.StreamDescriptor {
	return &core.StreamDescriptor{
		Name:               "issue_notes",
		Path:               "/projects/{project_id}/issues/{issue_iid}/notes",
		PrimaryKeys:        []string{"id"},
		ReplicationKey:     "updated_at",
		StatePartitionKeys: []string{"project_id", "issue_iid"},
		Parent:             "issues",
		Schema:             timestampSchema,
	}
}

// fakeSource serves fixed records per partition key
type fakeSource struct {
	streams    []*core.StreamDescriptor
	partitions map[string][]core.Context
	records    map[string][]core.Record
	readErr    error

	mu        sync.Mutex
	reads     []string
	bookmarks map[string]any
}

func partitionID(stream string, partition core.Context) string {
	return stream + ":" + string(mustMarshal(partition))
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func (f *fakeSource) Name() string                                        { return "fake" }
func (f *fakeSource) Type() core.ConnectorType                            { return core.ConnectorTypeSource }
func (f *fakeSource) Version() string                                     { return "test" }
func (f *fakeSource) Initialize(context.Context, *config.TapConfig) error { return nil }
func (f *fakeSource) Close(context.Context) error                         { return nil }
func (f *fakeSource) Health(context.Context) error                        { return nil }
func (f *fakeSource) Metrics() map[string]interface{}                     { return nil }
func (f *fakeSource) Streams() []*core.StreamDescriptor                   { return f.streams }

func (f *fakeSource) Discover(context.Context) (*core.Catalog, error) {
	catalog := &core.Catalog{}
	for _, s := range f.streams {
		catalog.Streams = append(catalog.Streams, core.NewCatalogEntry(s))
	}
	return catalog, nil
}

func (f *fakeSource) Partitions(_ context.Context, stream *core.StreamDescriptor) ([]core.Context, error) {
	if p, ok := f.partitions[stream.Name]; ok {
		return p, nil
	}
	return []core.Context{nil}, nil
}

func (f *fakeSource) ReadPartition(_ context.Context, stream *core.StreamDescriptor, partition core.Context, bookmark any, emit core.EmitFunc) error {
	id := partitionID(stream.Name, partition)
	f.mu.Lock()
	f.reads = append(f.reads, id)
	if f.bookmarks == nil {
		f.bookmarks = map[string]any{}
	}
	f.bookmarks[id] = bookmark
	f.mu.Unlock()

	if f.readErr != nil {
		return f.readErr
	}
	for _, r := range f.records[id] {
		if err := emit(r); err != nil {
			return err
		}
	}
	return nil
}

type message struct {
	Type   string
	Stream string
	Record core.Record
	State  map[string]any
}

// recordingDestination keeps every message, with states snapshotted
type recordingDestination struct {
	messages []message
}

func (d *recordingDestination) WriteSchema(stream *core.StreamDescriptor) error {
	d.messages = append(d.messages, message{Type: "SCHEMA", Stream: stream.Name})
	return nil
}

func (d *recordingDestination) WriteRecord(stream string, record core.Record, _ time.Time) error {
	d.messages = append(d.messages, message{Type: "RECORD", Stream: stream, Record: record})
	return nil
}

func (d *recordingDestination) WriteState(state any) error {
	var snapshot map[string]any
	if err := json.Unmarshal(mustMarshal(state), &snapshot); err != nil {
		return err
	}
	d.messages = append(d.messages, message{Type: "STATE", State: snapshot})
	return nil
}

func (d *recordingDestination) Close(context.Context) error { return nil }

func (d *recordingDestination) count(kind, stream string) int {
	n := 0
	for _, m := range d.messages {
		if m.Type == kind && (stream == "" || m.Stream == stream) {
			n++
		}
	}
	return n
}

func (d *recordingDestination) lastState() map[string]any {
	for i := len(d.messages) - 1; i >= 0; i-- {
		if d.messages[i].Type == "STATE" {
			return d.messages[i].State
		}
	}
	return nil
}

func issueRecords(project int, stamps ...string) []core.Record {
	records := make([]core.Record, 0, len(stamps))
	for i, ts := range stamps {
		records = append(records, core.Record{"id": project*100 + i, "iid": i + 1, "project_id": project, "updated_at": ts})
	}
	return records
}

func TestSyncPipelineCheckpoints(t *testing.T) {
	log := testutil.TestLogger(t)
	p1 := core.Context{"project_id": 1, "project_path": "g/one"}
	p2 := core.Context{"project_id": 2, "project_path": "g/two"}

	src := &fakeSource{
		streams:    []*core.StreamDescriptor{issuesStream()},
		partitions: map[string][]core.Context{"issues": {p1, p2}},
		records: map[string][]core.Record{
			partitionID("issues", p1): issueRecords(1,
				"2021-01-01T00:00:00Z", "2021-03-01T00:00:00Z", "2021-02-01T00:00:00Z",
				"2021-01-15T00:00:00Z", "2021-01-20T00:00:00Z"),
			partitionID("issues", p2): issueRecords(2, "2022-01-01T00:00:00Z"),
		},
	}
	dest := &recordingDestination{}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	stats, err := NewSyncPipeline(src, dest, nil, &Options{CheckpointInterval: 2}, log).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "SCHEMA", dest.messages[0].Type)
	assert.Equal(t, 1, dest.count("SCHEMA", "issues"))
	assert.Equal(t, 6, dest.count("RECORD", "issues"))
	// two mid-partition checkpoints, one per partition, one final
	assert.Equal(t, 5, dest.count("STATE", ""))
	assert.Equal(t, int64(5), stats.Checkpoints)
	assert.Equal(t, int64(6), stats.Records)
	assert.Equal(t, int64(2), stats.Streams["issues"].Partitions)
	assert.NotEmpty(t, stats.JobID)

	assert.Equal(t, map[string]any{
		"bookmarks": map[string]any{
			"issues": map[string]any{
				"partitions": []any{
					map[string]any{
						"context":               map[string]any{"project_id": float64(1)},
						"replication_key":       "updated_at",
						"replication_key_value": "2021-03-01T00:00:00Z",
					},
					map[string]any{
						"context":               map[string]any{"project_id": float64(2)},
						"replication_key":       "updated_at",
						"replication_key_value": "2022-01-01T00:00:00Z",
					},
				},
			},
		},
	}, dest.lastState())
}

func TestSyncPipelineResumesFromState(t *testing.T) {
	log := testutil.TestLogger(t)
	state, err := ParseState([]byte(`{"bookmarks":{"issues":{"partitions":[
		{"context":{"project_id":1},"replication_key":"updated_at","replication_key_value":"2021-06-01T00:00:00Z"}
	]}}}`))
	require.NoError(t, err)

	p1 := core.Context{"project_id": 1}
	p2 := core.Context{"project_id": 2}
	src := &fakeSource{
		streams:    []*core.StreamDescriptor{issuesStream()},
		partitions: map[string][]core.Context{"issues": {p1, p2}},
		records: map[string][]core.Record{
			partitionID("issues", p1): issueRecords(1, "2021-05-01T00:00:00Z"),
		},
	}
	dest := &recordingDestination{}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	_, err = NewSyncPipeline(src, dest, state, nil, log).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "2021-06-01T00:00:00Z", src.bookmarks[partitionID("issues", p1)])
	assert.Nil(t, src.bookmarks[partitionID("issues", p2)])
	assert.Equal(t, "2021-06-01T00:00:00Z", state.Bookmark(issuesStream(), p1), "older records never move a bookmark back")
}

func TestSyncPipelineChildStreams(t *testing.T) {
	log := testutil.TestLogger(t)
	issues := issuesStream()
	issues.ChildContext = func(record core.Record, partition core.Context) core.Context {
		child := partition.Clone()
		child["issue_iid"] = record["iid"]
		return child
	}
	notes := notesStream()

	p1 := core.Context{"project_id": 1}
	n1 := core.Context{"project_id": 1, "issue_iid": 1}
	n2 := core.Context{"project_id": 1, "issue_iid": 2}

	newSource := func() *fakeSource {
		return &fakeSource{
			streams:    []*core.StreamDescriptor{issues, notes},
			partitions: map[string][]core.Context{"issues": {p1}},
			records: map[string][]core.Record{
				partitionID("issues", p1): issueRecords(1, "2021-01-01T00:00:00Z", "2021-01-02T00:00:00Z"),
				partitionID("issue_notes", n1): {
					{"id": 900, "updated_at": "2021-01-05T00:00:00Z"},
					{"id": 901, "updated_at": "2021-01-06T00:00:00Z"},
				},
				partitionID("issue_notes", n2): {
					{"id": 902, "updated_at": "2021-01-07T00:00:00Z"},
				},
			},
		}
	}

	t.Run("all selected", func(t *testing.T) {
		src, dest := newSource(), &recordingDestination{}
		ctx, cancel := testutil.TestContext(t)
		defer cancel()

		stats, err := NewSyncPipeline(src, dest, nil, nil, log).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{
			partitionID("issues", p1),
			partitionID("issue_notes", n1),
			partitionID("issue_notes", n2),
		}, src.reads)
		assert.Equal(t, 2, dest.count("RECORD", "issues"))
		assert.Equal(t, 3, dest.count("RECORD", "issue_notes"))
		assert.Equal(t, int64(2), stats.Streams["issue_notes"].Partitions)
	})

	t.Run("only child selected", func(t *testing.T) {
		src, dest := newSource(), &recordingDestination{}
		ctx, cancel := testutil.TestContext(t)
		defer cancel()

		_, err := NewSyncPipeline(src, dest, nil, &Options{Selected: []string{"issue_notes"}}, log).Run(ctx)
		require.NoError(t, err)

		assert.Len(t, src.reads, 3, "parent is read to reach the child partitions")
		assert.Zero(t, dest.count("SCHEMA", "issues"))
		assert.Zero(t, dest.count("RECORD", "issues"))
		assert.Equal(t, 1, dest.count("SCHEMA", "issue_notes"))
		assert.Equal(t, 3, dest.count("RECORD", "issue_notes"))

		bookmarks := dest.lastState()["bookmarks"].(map[string]any)
		assert.NotContains(t, bookmarks, "issues")
		assert.Contains(t, bookmarks, "issue_notes")
	})

	t.Run("only parent selected", func(t *testing.T) {
		src, dest := newSource(), &recordingDestination{}
		ctx, cancel := testutil.TestContext(t)
		defer cancel()

		_, err := NewSyncPipeline(src, dest, nil, &Options{Selected: []string{"issues", "missing"}}, log).Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{partitionID("issues", p1)}, src.reads)
		assert.Zero(t, dest.count("SCHEMA", "issue_notes"))
	})
}

func TestSyncPipelineSiblingChildStreams(t *testing.T) {
	log := testutil.TestLogger(t)
	issues := issuesStream()
	issues.ChildContext = func(record core.Record, partition core.Context) core.Context {
		child := partition.Clone()
		child["issue_iid"] = record["iid"]
		return child
	}
	notes := notesStream()
	links := notesStream()
	links.Name = "issue_links"
	links.Path = "/projects/{project_id}/issues/{issue_iid}/links"

	p1 := core.Context{"project_id": 1}
	n1 := core.Context{"project_id": 1, "issue_iid": 1}
	src := &fakeSource{
		streams:    []*core.StreamDescriptor{issues, notes, links},
		partitions: map[string][]core.Context{"issues": {p1}},
		records: map[string][]core.Record{
			partitionID("issues", p1):      issueRecords(1, "2021-01-01T00:00:00Z"),
			partitionID("issue_notes", n1): {{"id": 900, "updated_at": "2021-01-05T00:00:00Z"}},
			partitionID("issue_links", n1): {{"id": 700, "updated_at": "2021-01-06T00:00:00Z"}},
		},
	}
	dest := &recordingDestination{}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	_, err := NewSyncPipeline(src, dest, nil, &Options{Selected: []string{"issue_notes", "issue_links"}}, log).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		partitionID("issues", p1),
		partitionID("issue_notes", n1),
		partitionID("issue_links", n1),
	}, src.reads)
	assert.Equal(t, 1, dest.count("RECORD", "issue_notes"))
	assert.Equal(t, 1, dest.count("RECORD", "issue_links"))
}

func TestSyncPipelineParentWithoutChildContext(t *testing.T) {
	log := testutil.TestLogger(t)
	p1 := core.Context{"project_id": 1}
	src := &fakeSource{
		streams:    []*core.StreamDescriptor{issuesStream(), notesStream()},
		partitions: map[string][]core.Context{"issues": {p1}},
		records: map[string][]core.Record{
			partitionID("issues", p1): issueRecords(1, "2021-01-01T00:00:00Z"),
		},
	}
	dest := &recordingDestination{}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	_, err := NewSyncPipeline(src, dest, nil, &Options{Selected: []string{"issue_notes"}}, log).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Empty(t, src.reads)
}

func TestSyncPipelineUnpartitionedStream(t *testing.T) {
	log := testutil.TestLogger(t)
	stream := &core.StreamDescriptor{
		Name:           "projects",
		Path:           "/projects/{project_path}",
		PrimaryKeys:    []string{"id"},
		ReplicationKey: "updated_at",
		Schema:         timestampSchema,
	}
	src := &fakeSource{
		streams: []*core.StreamDescriptor{stream},
		records: map[string][]core.Record{
			partitionID("projects", nil): {{"id": 1, "updated_at": "2021-04-01T00:00:00Z"}},
		},
	}
	dest := &recordingDestination{}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	_, err := NewSyncPipeline(src, dest, nil, &Options{CheckpointInterval: -1}, log).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, dest.count("STATE", ""))
	assert.Equal(t, map[string]any{
		"replication_key":       "updated_at",
		"replication_key_value": "2021-04-01T00:00:00Z",
	}, dest.lastState()["bookmarks"].(map[string]any)["projects"])
}

func TestSyncPipelineReadError(t *testing.T) {
	log := testutil.TestLogger(t)
	boom := errors.New(errors.ErrorTypeRateLimit, "rate limited")
	src := &fakeSource{
		streams: []*core.StreamDescriptor{issuesStream()},
		readErr: boom,
	}
	dest := &recordingDestination{}

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	_, err := NewSyncPipeline(src, dest, nil, nil, log).Run(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, dest.count("STATE", ""))
}
