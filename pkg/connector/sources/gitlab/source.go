package gitlab

import (
	"context"
	"net/http"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/base"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/observability"
	"go.uber.org/zap"
)

// Version of the GitLab source connector
const Version = "1.0.0"

// GitLabSource extracts GitLab REST and GraphQL streams
type GitLabSource struct {
	*base.BaseConnector

	cfg       *config.TapConfig
	cfgValues map[string]any
	streams   []*core.StreamDescriptor
	byName    map[string]*core.StreamDescriptor
	tracer    *observability.ConnectorTracer
	pageSize  int
}

// NewGitLabSource creates an uninitialized GitLab source
func NewGitLabSource(cfg *config.TapConfig) (*GitLabSource, error) {
	return &GitLabSource{
		BaseConnector: base.NewBaseConnector("gitlab", core.ConnectorTypeSource, Version),
		cfg:           cfg,
		tracer:        observability.NewConnectorTracer("gitlab"),
	}, nil
}

// Initialize validates the configuration, builds the HTTP client and
// resolves the enabled streams.
func (s *GitLabSource) Initialize(ctx context.Context, cfg *config.TapConfig) error {
	if cfg == nil {
		cfg = s.cfg
	}
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	s.cfgValues = cfg.Values()
	s.pageSize = cfg.Performance.PageSize

	all, err := Streams()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to load stream schemas")
	}
	for _, st := range all {
		if err := st.Validate(); err != nil {
			return err
		}
	}
	s.streams = EnabledStreams(all, cfg.Enabled)
	if len(cfg.ProjectList()) == 0 {
		for _, st := range s.streams {
			if st.Name == "projects" {
				UseProjectListing(st)
			}
		}
	}
	s.byName = make(map[string]*core.StreamDescriptor, len(s.streams))
	for _, st := range s.streams {
		s.byName[st.Name] = st
	}

	s.GetLogger().Info("GitLab source initialized",
		zap.String("api_url", cfg.BaseURL()),
		zap.Strings("groups", cfg.GroupList()),
		zap.Strings("projects", cfg.ProjectList()),
		zap.Int("streams", len(s.streams)))
	return nil
}

// Discover returns the catalog of enabled streams
func (s *GitLabSource) Discover(ctx context.Context) (*core.Catalog, error) {
	if s.streams == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "source is not initialized")
	}
	catalog := &core.Catalog{Streams: make([]*core.CatalogEntry, 0, len(s.streams))}
	for _, st := range s.streams {
		catalog.Streams = append(catalog.Streams, core.NewCatalogEntry(st))
	}
	return catalog, nil
}

// Streams returns the enabled stream descriptors, parents first
func (s *GitLabSource) Streams() []*core.StreamDescriptor {
	return s.streams
}

// Stream looks up an enabled stream by name
func (s *GitLabSource) Stream(name string) (*core.StreamDescriptor, bool) {
	st, ok := s.byName[name]
	return st, ok
}

// Partitions returns the root partitions of a stream. Child streams get
// their partitions from parent records.
func (s *GitLabSource) Partitions(ctx context.Context, stream *core.StreamDescriptor) ([]core.Context, error) {
	if stream.Parent != "" {
		return nil, errors.New(errors.ErrorTypeCapability, "child streams are partitioned by their parent").
			WithDetail("stream", stream.Name)
	}
	switch stream.Scope {
	case core.ScopeGroup:
		return GroupPartitions(stream, s.cfg)
	case core.ScopeProject:
		return ProjectPartitions(s.cfg)
	default:
		return []core.Context{nil}, nil
	}
}

// ReadPartition pages through one partition, emitting normalized records
// until the paginator reports no next page or a page comes back empty.
func (s *GitLabSource) ReadPartition(ctx context.Context, stream *core.StreamDescriptor, partition core.Context, bookmark any, emit core.EmitFunc) error {
	if s.GetHTTPClient() == nil {
		return errors.New(errors.ErrorTypeConfig, "source is not initialized")
	}
	log := s.GetLogger().With(zap.String("stream", stream.Name), zap.Any("partition", partition))
	collector := s.Collector(stream.Name)

	var starting *time.Time
	if stream.IsTimestampReplicationKey() {
		t, ok, err := StartingTimestamp(bookmark, s.cfg)
		if err != nil {
			return err
		}
		if ok {
			starting = &t
		}
	}

	return s.tracer.TracePartition(ctx, stream.Name, partition, func(ctx context.Context) error {
		paginator := NewPaginator(stream, log)
		token := ""
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "sync cancelled")
			}

			resp, body, err := s.fetchPage(ctx, stream, partition, token, starting)
			if err != nil {
				return errors.Wrap(err, errors.TypeOf(err), "failed to fetch page").
					WithDetail("stream", stream.Name).
					WithDetail("page", page)
			}
			collector.PageFetched()

			next, err := paginator.NextPageToken(resp, body, token)
			if err != nil {
				return err
			}

			records, err := ExtractRecords(stream.RecordsPathOrDefault(), body)
			if err != nil {
				return err
			}

			emitted := 0
			for _, raw := range records {
				record, keep := PostProcess(stream, raw, partition)
				if !keep {
					collector.RecordDiscarded()
					continue
				}
				if dropped := ConformToSchema(stream.Schema, record); len(dropped) > 0 && page == 1 && emitted == 0 {
					log.Debug("dropping fields not in schema", zap.Strings("fields", dropped))
				}
				if err := emit(record); err != nil {
					return err
				}
				emitted++
			}
			collector.RecordsEmitted(emitted)

			log.Debug("page fetched",
				zap.Int("page", page),
				zap.Int("records", len(records)),
				zap.String("next_page", next))

			if next == "" || next == token || len(records) == 0 {
				break
			}
			token = next
		}

		collector.PartitionCompleted()
		return nil
	})
}

func (s *GitLabSource) fetchPage(ctx context.Context, stream *core.StreamDescriptor, partition core.Context, token string, starting *time.Time) (*http.Response, []byte, error) {
	client := s.GetHTTPClient()

	if stream.Transport == core.TransportGraphQL {
		body, err := GraphQLBody(stream.GraphQLQuery, s.cfgValues, partition)
		if err != nil {
			return nil, nil, err
		}
		resp, data, err := client.Post(ctx, s.cfg.GraphQLURL(), body)
		if err != nil {
			return nil, nil, err
		}
		if err := CheckGraphQLErrors(data); err != nil {
			return nil, nil, err
		}
		return resp, data, nil
	}

	target := ResolveURL(s.cfg.BaseURL(), stream.Path, s.cfgValues, partition)
	if params := URLParams(stream, token, starting, s.pageSize); len(params) > 0 {
		target += "?" + params.Encode()
	}
	return client.Get(ctx, target)
}
