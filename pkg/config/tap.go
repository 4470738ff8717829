package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/spf13/cast"
)

const (
	// DefaultAPIURL is the public GitLab REST endpoint
	DefaultAPIURL = "https://gitlab.com/api/v4"
	// DefaultGraphQLAPIURLBase is the public GitLab GraphQL root
	DefaultGraphQLAPIURLBase = "https://gitlab.com/api"
)

// TapConfig holds the GitLab settings of the tap.
type TapConfig struct {
	BaseConfig `mapstructure:",squash" yaml:",inline" json:",inline"`

	PrivateToken      string `mapstructure:"private_token" yaml:"private_token" json:"private_token"`
	OAuthToken        string `mapstructure:"oauth_token" yaml:"oauth_token" json:"oauth_token"`
	APIURL            string `mapstructure:"api_url" yaml:"api_url" json:"api_url"`
	GraphQLAPIURLBase string `mapstructure:"graphql_api_url_base" yaml:"graphql_api_url_base" json:"graphql_api_url_base"`
	UserAgent         string `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`

	// Groups and Projects are whitespace-separated lists
	Groups   string `mapstructure:"groups" yaml:"groups" json:"groups"`
	Projects string `mapstructure:"projects" yaml:"projects" json:"projects"`

	// StartDate is an ISO 8601 timestamp bounding the first sync
	StartDate string `mapstructure:"start_date" yaml:"start_date" json:"start_date"`

	UltimateLicense          bool `mapstructure:"ultimate_license" yaml:"ultimate_license" json:"ultimate_license"`
	FetchMergeRequestCommits bool `mapstructure:"fetch_merge_request_commits" yaml:"fetch_merge_request_commits" json:"fetch_merge_request_commits"`
	FetchPipelinesExtended   bool `mapstructure:"fetch_pipelines_extended" yaml:"fetch_pipelines_extended" json:"fetch_pipelines_extended"`
	FetchGroupVariables      bool `mapstructure:"fetch_group_variables" yaml:"fetch_group_variables" json:"fetch_group_variables"`
	FetchProjectVariables    bool `mapstructure:"fetch_project_variables" yaml:"fetch_project_variables" json:"fetch_project_variables"`

	// RequestsCachePath enables the on-disk response cache when set
	RequestsCachePath string `mapstructure:"requests_cache_path" yaml:"requests_cache_path" json:"requests_cache_path"`
}

// NewTapConfig returns a TapConfig with runtime defaults.
func NewTapConfig() *TapConfig {
	return &TapConfig{
		BaseConfig: *NewBaseConfig("tap-gitlab", "source"),
	}
}

// RedactedValue replaces secrets in Redacted copies
const RedactedValue = "redacted"

// Redacted returns a copy with the access tokens masked
func (c *TapConfig) Redacted() *TapConfig {
	out := *c
	if out.PrivateToken != "" {
		out.PrivateToken = RedactedValue
	}
	if out.OAuthToken != "" {
		out.OAuthToken = RedactedValue
	}
	return &out
}

// Validate checks the settings that must hold before any request is sent.
func (c *TapConfig) Validate() error {
	if c.PrivateToken == "" && c.OAuthToken == "" {
		return errors.New(errors.ErrorTypeConfig, "private_token is required")
	}
	if _, _, err := c.StartTime(); err != nil {
		return err
	}
	if c.APIURL != "" {
		if _, err := url.ParseRequestURI(c.APIURL); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid api_url")
		}
	}
	if c.GraphQLAPIURLBase != "" {
		if _, err := url.ParseRequestURI(c.GraphQLAPIURLBase); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid graphql_api_url_base")
		}
	}
	if err := c.BaseConfig.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid runtime configuration")
	}
	return nil
}

// StartTime parses start_date. The boolean is false when no start date is set.
// Timestamps without an offset are read as UTC.
func (c *TapConfig) StartTime() (time.Time, bool, error) {
	if strings.TrimSpace(c.StartDate) == "" {
		return time.Time{}, false, nil
	}
	t, err := cast.ToTimeInDefaultLocationE(strings.TrimSpace(c.StartDate), time.UTC)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeConfig, "invalid start_date").
			WithDetail("start_date", c.StartDate)
	}
	return t.UTC(), true, nil
}

// BaseURL returns the REST root without a trailing slash. A bare host gets
// /api/v4 appended.
func (c *TapConfig) BaseURL() string {
	result := strings.TrimRight(c.APIURL, "/")
	if result == "" {
		return DefaultAPIURL
	}
	if u, err := url.Parse(result); err == nil && u.Path == "" {
		result += "/api/v4"
	}
	return result
}

// GraphQLURL returns the GraphQL endpoint.
func (c *TapConfig) GraphQLURL() string {
	base := c.GraphQLAPIURLBase
	if base == "" {
		base = DefaultGraphQLAPIURLBase
	}
	return base + "/graphql"
}

// GroupList splits the groups setting on whitespace.
func (c *TapConfig) GroupList() []string {
	return strings.Fields(c.Groups)
}

// ProjectList splits the projects setting on whitespace.
func (c *TapConfig) ProjectList() []string {
	return strings.Fields(c.Projects)
}

// Values exposes the GitLab settings as a flat map for URL templating.
// Unset strings are left out so their placeholders stay literal.
func (c *TapConfig) Values() map[string]any {
	vals := map[string]any{
		"ultimate_license":            c.UltimateLicense,
		"fetch_merge_request_commits": c.FetchMergeRequestCommits,
		"fetch_pipelines_extended":    c.FetchPipelinesExtended,
		"fetch_group_variables":       c.FetchGroupVariables,
		"fetch_project_variables":     c.FetchProjectVariables,
	}
	for k, v := range map[string]string{
		"api_url":              c.APIURL,
		"graphql_api_url_base": c.GraphQLAPIURLBase,
		"user_agent":           c.UserAgent,
		"groups":               c.Groups,
		"projects":             c.Projects,
		"start_date":           c.StartDate,
		"requests_cache_path":  c.RequestsCachePath,
	} {
		if v != "" {
			vals[k] = v
		}
	}
	return vals
}

// Enabled reports whether a boolean feature flag is on. Unknown flags are off.
func (c *TapConfig) Enabled(flag string) bool {
	v, ok := c.Values()[flag].(bool)
	return ok && v
}
