package main

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/ajitpratap0/tap-gitlab/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, apiURL string) string {
	t.Helper()
	return testutil.WriteFile(t, "config.yaml", []byte(fmt.Sprintf(`
private_token: glpat-test
api_url: %s
projects: "55"
start_date: "2021-01-01T00:00:00Z"
reliability:
  retry_attempts: 1
  circuit_breaker: false
  rate_limit_per_sec: 0
observability:
  log_level: error
`, apiURL)))
}

func fakeProject(t *testing.T) string {
	srv := testutil.FakeGitLab(t, map[string]http.HandlerFunc{
		"/api/v4/projects/55": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":55,"name":"my-project","path_with_namespace":"g/my-project","last_activity_at":"2021-02-01T00:00:00Z"}`)
		},
		"/api/v4/projects/55/repository/branches": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[{"name":"main","commit":{"id":"abc123"}},{"name":"dev","commit":{"id":"def456"}}]`)
		},
	})
	return srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func messageTypes(t *testing.T, output string) map[string]int {
	t.Helper()
	counts := map[string]int{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		var msg struct {
			Type   string `json:"type"`
			Stream string `json:"stream"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg), scanner.Text())
		counts[msg.Type+" "+msg.Stream]++
	}
	return counts
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tap-gitlab v")
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "gitlab")
	assert.Contains(t, out, "s3")
	assert.Contains(t, out, "gs")
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("TAP_GITLAB_GROUPS", "7 8")
	cfg := writeConfig(t, "https://gitlab.example.com")

	out, err := execute(t, "config", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "private_token: "+config.RedactedValue)
	assert.NotContains(t, out, "glpat-test")
	assert.Contains(t, out, "groups: 7 8")

	path := filepath.Join(t.TempDir(), "resolved.yaml")
	_, err = execute(t, "config", "--config", cfg, "--show-secrets", "--write", path)
	require.NoError(t, err)
	resolved, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "glpat-test", resolved.PrivateToken)
	assert.Equal(t, []string{"7", "8"}, resolved.GroupList())
}

func TestDiscover(t *testing.T) {
	cfg := writeConfig(t, "https://gitlab.example.com")

	for _, args := range [][]string{
		{"discover", "--config", cfg},
		{"--config", cfg, "--discover"},
	} {
		out, err := execute(t, args...)
		require.NoError(t, err)

		var catalog core.Catalog
		require.NoError(t, json.Unmarshal([]byte(out), &catalog))
		entry, ok := catalog.Entry("issues")
		require.True(t, ok)
		assert.Equal(t, core.ReplicationIncremental, entry.ReplicationMethod)
	}
}

func TestDiscoverRequiresToken(t *testing.T) {
	cfg := testutil.WriteFile(t, "config.json", []byte(`{"api_url": "https://gitlab.example.com"}`))
	_, err := execute(t, "discover", "--config", cfg)
	assert.Error(t, err)
}

func TestSyncToStdout(t *testing.T) {
	cfg := writeConfig(t, fakeProject(t))

	out, err := execute(t, "sync", "--config", cfg, "--streams", "projects,branches")
	require.NoError(t, err)

	counts := messageTypes(t, out)
	assert.Equal(t, 1, counts["SCHEMA projects"])
	assert.Equal(t, 1, counts["RECORD projects"])
	assert.Equal(t, 1, counts["SCHEMA branches"])
	assert.Equal(t, 2, counts["RECORD branches"])
	assert.Positive(t, counts["STATE "])
}

func TestSyncToFileWithCatalogAndState(t *testing.T) {
	cfg := writeConfig(t, fakeProject(t))
	catalog := testutil.WriteFile(t, "catalog.json", []byte(`{"streams":[
		{"tap_stream_id":"projects","stream":"projects","metadata":[{"breadcrumb":[],"metadata":{"selected":false}}]},
		{"tap_stream_id":"branches","stream":"branches","metadata":[{"breadcrumb":[],"metadata":{"selected":true}}]}
	]}`))
	state := testutil.WriteFile(t, "state.json", []byte(`{"bookmarks":{}}`))
	output := filepath.Join(t.TempDir(), "out", "singer.jsonl")

	_, err := execute(t, "--config", cfg, "--catalog", catalog, "--state", state, "--output", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	counts := messageTypes(t, string(data))
	assert.Zero(t, counts["RECORD projects"])
	assert.Equal(t, 2, counts["RECORD branches"])
}

func TestSyncBadState(t *testing.T) {
	cfg := writeConfig(t, "https://gitlab.example.com")
	state := testutil.WriteFile(t, "state.json", []byte(`{"bookmarks": [`))

	_, err := execute(t, "sync", "--config", cfg, "--state", state)
	assert.Error(t, err)
}
