package pipeline_test

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/tap-gitlab/internal/pipeline"
	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations/singer"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/sources/gitlab"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// GitLabSyncSuite runs the GitLab source through the pipeline against a
// fake GitLab server.
type GitLabSyncSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	srv *httptest.Server

	mu      sync.Mutex
	queries map[string][]string
}

func TestGitLabSyncSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(GitLabSyncSuite))
}

func (s *GitLabSyncSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
	s.logger = zaptest.NewLogger(s.T())
	s.queries = map[string][]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/55", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":55,"name":"my-project","last_activity_at":"2021-05-01T00:00:00Z"}`)
	})
	mux.HandleFunc("/api/v4/projects/55/repository/branches", func(w http.ResponseWriter, r *http.Request) {
		s.record("branches", r.URL.Path)
		fmt.Fprint(w, `[{"name":"main","commit":{"id":"abc"}},{"name":"dev","commit":{"id":"def"}}]`)
	})
	mux.HandleFunc("/api/v4/projects/55/issues", func(w http.ResponseWriter, r *http.Request) {
		s.record("issues", r.URL.Query().Get("updated_after"))
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id":503,"iid":3,"project_id":55,"updated_at":"2021-02-15T00:00:00Z"}]`)
			return
		}
		w.Header().Set(gitlab.NextPageHeader, "2")
		fmt.Fprint(w, `[
			{"id":501,"iid":1,"project_id":55,"updated_at":"2021-02-01T00:00:00Z"},
			{"id":502,"iid":2,"project_id":55,"updated_at":"2021-03-01T00:00:00Z"}
		]`)
	})
	mux.HandleFunc("/api/v4/projects/55/issues/", func(w http.ResponseWriter, r *http.Request) {
		// /api/v4/projects/55/issues/{iid}/notes
		iid := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v4/projects/55/issues/"), "/")[0]
		s.record("notes", r.URL.Query().Get("since"))
		fmt.Fprintf(w, `[{"id":90%s,"body":"note","author":{"id":7},"updated_at":"2021-04-0%sT00:00:00Z"}]`, iid, iid)
	})
	s.srv = httptest.NewServer(mux)
}

func (s *GitLabSyncSuite) TearDownTest() {
	s.srv.Close()
	s.cancel()
}

func (s *GitLabSyncSuite) record(kind, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[kind] = append(s.queries[kind], query)
}

func (s *GitLabSyncSuite) sent(kind string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries[kind]...)
}

func (s *GitLabSyncSuite) newSource() core.Source {
	cfg := config.NewTapConfig()
	cfg.PrivateToken = "glpat-test"
	cfg.APIURL = s.srv.URL
	cfg.Projects = "55"
	cfg.StartDate = "2021-01-01T00:00:00Z"
	cfg.Reliability.RateLimitPerSec = 0
	cfg.Reliability.RetryAttempts = 1
	cfg.Reliability.CircuitBreaker = false

	src, err := gitlab.NewGitLabSource(cfg)
	s.Require().NoError(err)
	s.Require().NoError(src.Initialize(s.ctx, cfg))
	s.T().Cleanup(func() { _ = src.Close(context.Background()) })
	return src
}

func (s *GitLabSyncSuite) sync(output string, state *pipeline.State, streams ...string) *pipeline.Stats {
	if len(streams) == 0 {
		streams = []string{"issues", "issue_notes"}
	}
	dest, err := singer.NewFileDestination(output)
	s.Require().NoError(err)

	p := pipeline.NewSyncPipeline(s.newSource(), dest, state, &pipeline.Options{
		Selected: streams,
	}, s.logger)
	stats, err := p.Run(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(dest.Close(s.ctx))
	return stats
}

func (s *GitLabSyncSuite) readMessages(path string) map[string]int {
	f, err := os.Open(path)
	s.Require().NoError(err)
	defer f.Close()

	counts := map[string]int{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg struct {
			Type   string `json:"type"`
			Stream string `json:"stream"`
		}
		s.Require().NoError(json.Unmarshal(scanner.Bytes(), &msg))
		counts[msg.Type+" "+msg.Stream]++
	}
	s.Require().NoError(scanner.Err())
	return counts
}

func (s *GitLabSyncSuite) TestSyncAndResume() {
	dir := s.T().TempDir()
	first := filepath.Join(dir, "first.jsonl")

	stats := s.sync(first, nil)
	s.Equal(int64(6), stats.Records)
	s.Equal(int64(3), stats.Streams["issues"].Records)
	s.Equal(int64(3), stats.Streams["issue_notes"].Partitions)

	counts := s.readMessages(first)
	s.Zero(counts["SCHEMA projects"], "parent stream is read but not emitted")
	s.Zero(counts["RECORD projects"])
	s.Equal(1, counts["SCHEMA issues"])
	s.Equal(3, counts["RECORD issues"])
	s.Equal(1, counts["SCHEMA issue_notes"])
	s.Equal(3, counts["RECORD issue_notes"])

	s.Equal([]string{"2021-01-01T00:00:00Z", "2021-01-01T00:00:00Z"}, s.sent("issues"))

	// resume from the STATE message at the end of the first run's output
	state, err := pipeline.LoadState(first)
	s.Require().NoError(err)
	issues, ok := s.newSource().(*gitlab.GitLabSource).Stream("issues")
	s.Require().True(ok)
	s.Equal("2021-03-01T00:00:00Z", state.Bookmark(issues, core.Context{"project_id": 55}))

	s.mu.Lock()
	s.queries = map[string][]string{}
	s.mu.Unlock()

	s.sync(filepath.Join(dir, "second.jsonl.gz"), state)
	s.Equal("2021-03-01T00:00:00Z", s.sent("issues")[0])
	s.Contains(s.sent("notes"), "2021-04-02T00:00:00Z")
}

func (s *GitLabSyncSuite) TestSyncProjectChildStream() {
	output := filepath.Join(s.T().TempDir(), "branches.jsonl")

	stats := s.sync(output, nil, "branches")
	s.Equal(int64(2), stats.Records)
	s.Equal([]string{"/api/v4/projects/55/repository/branches"}, s.sent("branches"))

	counts := s.readMessages(output)
	s.Equal(1, counts["SCHEMA branches"])
	s.Equal(2, counts["RECORD branches"])
	s.Zero(counts["RECORD projects"])
}
