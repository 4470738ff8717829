// Package pipeline drives a sync run: it walks the stream tree of a
// source, writes Singer messages to a destination and keeps the bookmarks.
package pipeline

import (
	"context"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/base"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"github.com/ajitpratap0/tap-gitlab/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncPipeline reads every needed stream of a source partition by
// partition. Parents are read before their children; each parent record
// may yield a child partition.
type SyncPipeline struct {
	source core.Source
	dest   core.Destination
	state  *State
	opts   Options
	logger *zap.Logger
	jobID  string

	progress *base.ProgressReporter

	streams    []*core.StreamDescriptor
	children   map[string][]*core.StreamDescriptor
	selected   map[string]bool
	needed     map[string]bool
	schemaSent map[string]bool

	stats           *Stats
	sinceCheckpoint int
}

// NewSyncPipeline creates a pipeline. A nil state starts from scratch.
func NewSyncPipeline(source core.Source, dest core.Destination, state *State, opts *Options, log *zap.Logger) *SyncPipeline {
	if state == nil {
		state = NewState()
	}
	if log == nil {
		log = logger.Get()
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.CheckpointInterval == 0 {
		o.CheckpointInterval = DefaultCheckpointInterval
	}

	jobID := uuid.NewString()
	return &SyncPipeline{
		source:     source,
		dest:       dest,
		state:      state,
		opts:       o,
		logger:     log.With(zap.String("job_id", jobID)),
		jobID:      jobID,
		children:   map[string][]*core.StreamDescriptor{},
		selected:   map[string]bool{},
		needed:     map[string]bool{},
		schemaSent: map[string]bool{},
	}
}

// JobID identifies the run in logs
func (p *SyncPipeline) JobID() string {
	return p.jobID
}

// State returns the bookmarks as they stand
func (p *SyncPipeline) State() *State {
	return p.state
}

// Run syncs every selected stream and writes a final STATE message
func (p *SyncPipeline) Run(ctx context.Context) (*Stats, error) {
	ctx = context.WithValue(ctx, logger.JobIDKey, p.jobID)
	timer := metrics.NewTimer()

	p.stats = &Stats{JobID: p.jobID, Streams: map[string]*StreamStats{}}
	p.plan()

	p.progress = base.NewProgressReporter(p.logger)
	if p.opts.ProgressInterval > 0 {
		p.progress.SetReportInterval(p.opts.ProgressInterval)
	}
	p.progress.Start()
	defer p.progress.Stop()

	p.logger.Info("sync started",
		zap.Int("streams", len(p.streams)),
		zap.Int("selected", len(p.selected)))

	for _, stream := range p.streams {
		if stream.Parent != "" || !p.needed[stream.Name] {
			continue
		}
		partitions, err := p.source.Partitions(ctx, stream)
		if err != nil {
			return p.finish(timer), errors.Wrap(err, errors.TypeOf(err), "failed to list partitions").
				WithDetail("stream", stream.Name)
		}
		for _, partition := range partitions {
			if err := p.syncPartition(ctx, stream, partition); err != nil {
				return p.finish(timer), err
			}
		}
	}

	if err := p.checkpoint(); err != nil {
		return p.finish(timer), err
	}

	stats := p.finish(timer)
	p.logger.Info("sync completed",
		zap.Int64("records", stats.Records),
		zap.Int64("checkpoints", stats.Checkpoints),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// plan resolves which streams are emitted and which are only read to
// reach the partitions of a selected descendant.
func (p *SyncPipeline) plan() {
	p.streams = p.source.Streams()

	known := make(map[string]bool, len(p.streams))
	for _, s := range p.streams {
		known[s.Name] = true
		if s.Parent != "" {
			p.children[s.Parent] = append(p.children[s.Parent], s)
		}
	}

	if len(p.opts.Selected) == 0 {
		for _, s := range p.streams {
			p.selected[s.Name] = true
		}
	}
	for _, name := range p.opts.Selected {
		if !known[name] {
			p.logger.Warn("selected stream is not available", zap.String("stream", name))
			continue
		}
		p.selected[name] = true
	}

	// streams are listed parents first, so walking backwards marks every
	// ancestor of a needed stream
	for i := len(p.streams) - 1; i >= 0; i-- {
		s := p.streams[i]
		if p.selected[s.Name] {
			p.needed[s.Name] = true
		}
		if p.needed[s.Name] && s.Parent != "" {
			p.needed[s.Parent] = true
		}
	}
}

func (p *SyncPipeline) syncPartition(ctx context.Context, stream *core.StreamDescriptor, partition core.Context) error {
	ctx = context.WithValue(ctx, logger.StreamKey, stream.Name)
	log := logger.WithContext(ctx)
	p.progress.SetStream(stream.Name)

	selected := p.selected[stream.Name]
	if selected && !p.schemaSent[stream.Name] {
		if err := p.dest.WriteSchema(stream); err != nil {
			return err
		}
		p.schemaSent[stream.Name] = true
	}

	var kids []*core.StreamDescriptor
	for _, child := range p.children[stream.Name] {
		if p.needed[child.Name] {
			kids = append(kids, child)
		}
	}
	if len(kids) > 0 && stream.ChildContext == nil {
		return errors.Newf(errors.ErrorTypeConfig, "stream %s has child streams but no child context", stream.Name).
			WithDetail("child", kids[0].Name)
	}
	childPartitions := make(map[string][]core.Context, len(kids))

	st := p.streamStats(stream.Name)
	bookmark := p.state.Bookmark(stream, partition)
	log.Debug("syncing partition",
		zap.Any("partition", partition),
		zap.Any("bookmark", bookmark))

	emit := func(record core.Record) error {
		if len(kids) > 0 {
			childPartition := stream.ChildContext(record, partition)
			for _, child := range kids {
				childPartitions[child.Name] = append(childPartitions[child.Name], childPartition.Clone())
			}
		}
		if !selected {
			return nil
		}

		if err := p.dest.WriteRecord(stream.Name, record, time.Now()); err != nil {
			return err
		}
		st.Records++
		p.stats.Records++
		p.progress.IncrementProcessed(1)

		if stream.IsIncremental() {
			p.state.Advance(stream, partition, record[stream.ReplicationKey])
		}
		p.sinceCheckpoint++
		if p.opts.CheckpointInterval > 0 && p.sinceCheckpoint >= p.opts.CheckpointInterval {
			return p.checkpoint()
		}
		return nil
	}

	if err := p.source.ReadPartition(ctx, stream, partition, bookmark, emit); err != nil {
		log.Error("partition failed", zap.Any("partition", partition), zap.Error(err))
		return err
	}
	st.Partitions++

	if selected {
		if err := p.checkpoint(); err != nil {
			return err
		}
	}

	for _, child := range kids {
		for _, childPartition := range childPartitions[child.Name] {
			if err := p.syncPartition(ctx, child, childPartition); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *SyncPipeline) checkpoint() error {
	if err := p.dest.WriteState(p.state); err != nil {
		return err
	}
	metrics.StateCheckpoints.Inc()
	p.stats.Checkpoints++
	p.sinceCheckpoint = 0
	return nil
}

func (p *SyncPipeline) streamStats(name string) *StreamStats {
	st, ok := p.stats.Streams[name]
	if !ok {
		st = &StreamStats{}
		p.stats.Streams[name] = st
	}
	return st
}

func (p *SyncPipeline) finish(timer *metrics.Timer) *Stats {
	p.stats.Duration = timer.Stop()
	return p.stats
}
