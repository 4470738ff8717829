package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/compression"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/spf13/cast"
)

// State is the Singer bookmark document:
//
//	{"bookmarks": {"issues": {"partitions": [{"context": {"project_id": 1},
//	  "replication_key": "updated_at", "replication_key_value": "..."}]}}}
//
// Streams without state partition keys keep replication_key and
// replication_key_value on the stream entry itself.
type State struct {
	Bookmarks map[string]*StreamState `json:"bookmarks"`
}

// StreamState holds the bookmarks of one stream
type StreamState struct {
	ReplicationKey      string            `json:"replication_key,omitempty"`
	ReplicationKeyValue any               `json:"replication_key_value,omitempty"`
	Partitions          []*PartitionState `json:"partitions,omitempty"`
}

// PartitionState is the bookmark of one state partition
type PartitionState struct {
	Context             core.Context `json:"context"`
	ReplicationKey      string       `json:"replication_key,omitempty"`
	ReplicationKeyValue any          `json:"replication_key_value,omitempty"`
}

// NewState returns an empty state
func NewState() *State {
	return &State{Bookmarks: map[string]*StreamState{}}
}

// LoadState reads a state file. An empty path is an empty state. The file
// may hold the bookmark document, a STATE message, or a whole tap output
// whose last line is a STATE message; a .gz or .zst extension is
// decompressed.
func LoadState(path string) (*State, error) {
	if path == "" {
		return NewState(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open state").WithDetail("path", path)
	}
	defer f.Close()

	r, err := compression.NewReader(f, compression.FromPath(path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open state").WithDetail("path", path)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read state").WithDetail("path", path)
	}

	state, err := ParseState(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse state").WithDetail("path", path)
	}
	return state, nil
}

// ParseState decodes a state document, a STATE message, or JSON lines
// ending in a STATE message.
func ParseState(data []byte) (*State, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return NewState(), nil
	}

	state, err := parseStateDocument(data)
	if err == nil {
		return state, nil
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		if last, lastErr := parseStateDocument(bytes.TrimSpace(data[i+1:])); lastErr == nil {
			return last, nil
		}
	}
	return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid state")
}

func parseStateDocument(data []byte) (*State, error) {
	var envelope struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if envelope.Type == "STATE" {
		data = envelope.Value
	}

	var state State
	if err := json.UnmarshalNumber(data, &state); err != nil {
		return nil, err
	}
	if state.Bookmarks == nil {
		state.Bookmarks = map[string]*StreamState{}
	}
	return &state, nil
}

// Bookmark returns the replication value saved for a partition of stream,
// or nil.
func (s *State) Bookmark(stream *core.StreamDescriptor, partition core.Context) any {
	ss, ok := s.Bookmarks[stream.Name]
	if !ok || ss == nil {
		return nil
	}
	key := stream.PartitionKey(partition)
	if key == nil {
		return ss.ReplicationKeyValue
	}
	if p := ss.find(key); p != nil {
		return p.ReplicationKeyValue
	}
	return nil
}

// Advance moves the bookmark of a partition forward to value. Values
// behind the current bookmark are ignored. It reports whether the
// bookmark changed.
func (s *State) Advance(stream *core.StreamDescriptor, partition core.Context, value any) bool {
	if value == nil || !stream.IsIncremental() {
		return false
	}
	ss, ok := s.Bookmarks[stream.Name]
	if !ok || ss == nil {
		ss = &StreamState{}
		s.Bookmarks[stream.Name] = ss
	}

	key := stream.PartitionKey(partition)
	if key == nil {
		if ss.ReplicationKeyValue != nil && CompareValues(value, ss.ReplicationKeyValue) <= 0 {
			return false
		}
		ss.ReplicationKey = stream.ReplicationKey
		ss.ReplicationKeyValue = value
		return true
	}

	p := ss.find(key)
	if p == nil {
		p = &PartitionState{Context: key, ReplicationKey: stream.ReplicationKey}
		ss.Partitions = append(ss.Partitions, p)
	} else if p.ReplicationKeyValue != nil && CompareValues(value, p.ReplicationKeyValue) <= 0 {
		return false
	}
	p.ReplicationKey = stream.ReplicationKey
	p.ReplicationKeyValue = value
	return true
}

func (ss *StreamState) find(key core.Context) *PartitionState {
	for _, p := range ss.Partitions {
		if contextEqual(p.Context, key) {
			return p
		}
	}
	return nil
}

// contextEqual compares contexts by their string forms, so ids read back
// from a state file as numbers match ids taken from API records.
func contextEqual(a, b core.Context) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// CompareValues orders replication values: timestamps by instant, numbers
// numerically, anything else as strings.
func CompareValues(a, b any) int {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		at, aErr := cast.ToTimeInDefaultLocationE(as, time.UTC)
		bt, bErr := cast.ToTimeInDefaultLocationE(bs, time.UTC)
		if aErr == nil && bErr == nil {
			return at.Compare(bt)
		}
	}

	if !aStr && !bStr {
		af, aErr := cast.ToFloat64E(a)
		bf, bErr := cast.ToFloat64E(b)
		if aErr == nil && bErr == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	return compareStrings(cast.ToString(a), cast.ToString(b))
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
