package pipeline

import (
	"time"
)

// DefaultCheckpointInterval is the number of records between STATE
// messages when the config does not set one.
const DefaultCheckpointInterval = 1000

// Options controls a sync run
type Options struct {
	// Selected names the streams to emit. Empty means every stream the
	// source offers. Parents of selected streams are read but not emitted.
	Selected []string

	// CheckpointInterval is the number of records between intermediate
	// STATE messages. Zero uses DefaultCheckpointInterval; negative
	// disables intermediate checkpoints.
	CheckpointInterval int

	// ProgressInterval overrides how often progress is logged
	ProgressInterval time.Duration
}

// StreamStats summarizes one stream of a run
type StreamStats struct {
	Records    int64 `json:"records"`
	Partitions int64 `json:"partitions"`
}

// Stats summarizes a finished sync run
type Stats struct {
	JobID       string                  `json:"job_id"`
	Streams     map[string]*StreamStats `json:"streams"`
	Records     int64                   `json:"records"`
	Checkpoints int64                   `json:"checkpoints"`
	Duration    time.Duration           `json:"duration"`
}
