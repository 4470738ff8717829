// Package config provides configuration management for tap-gitlab.
//
// # Key Features
//
// - TapConfig: the GitLab settings (token, endpoints, groups, projects, start date, feature flags)
// - BaseConfig: runtime sections shared by the HTTP client, pipeline and CLI
// - Environment variable substitution with ${VAR_NAME} syntax
// - Environment overrides with the TAP_GITLAB_ prefix
// - Automatic defaults and validation
//
// # Usage
//
//	cfg, err := config.Load("config.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Variable Substitution
//
//	# config.yaml
//	private_token: ${GITLAB_PRIVATE_TOKEN}
//	projects: my-group/api my-group/web
//	start_date: "2024-01-01T00:00:00Z"
//	reliability:
//	  retry_attempts: 8
//
// Any key can also be overridden from the environment. Nested keys join
// their path with underscores:
//
//	TAP_GITLAB_GROUPS="10 20"
//	TAP_GITLAB_RELIABILITY_RATE_LIMIT_PER_SEC=5
//
// Configuration errors are reported as errors.ErrorTypeConfig before any
// request is sent.
package config
