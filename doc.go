// Package tapgitlab is a Singer tap for GitLab. It reads projects, groups
// and their activity from the GitLab REST API (and the GraphQL API for a
// few streams) and writes Singer SCHEMA, RECORD and STATE messages.
//
// # Architecture
//
// A sync walks a tree of streams. Root streams are partitioned by the
// configured projects or groups; every record of a parent stream may open
// a partition of its child streams (an issue opens a partition of
// issue_notes, a merge request one of merge_request_commits).
//
// Each partition is read page by page:
//
//  1. The URL resolver fills the stream's path template from the
//     partition context and the config, escaping every value.
//  2. The pagination policy follows X-Next-Page. Endpoints that ignore
//     the bookmark parameter use an emulated policy that stops once a
//     page falls behind the bookmark.
//  3. The response normalizer extracts records, injects the partition
//     context, applies the stream's transform and conforms the record
//     to its schema.
//
// Bookmarks are kept per state partition and advance to the largest
// replication value seen.
//
// # Quick Start
//
//	tap-gitlab --config config.json --discover > catalog.json
//	tap-gitlab --config config.json --catalog catalog.json --state state.json > out.jsonl
//
// Messages can also go straight to a file or an object store; the
// extension picks the compression:
//
//	tap-gitlab --config config.json --output s3://bucket/gitlab/run.jsonl.zst
//	tap-gitlab --config config.json --output gs://bucket/gitlab/run.jsonl.gz
//
// # Key Packages
//
//	cmd/tap-gitlab                  - CLI: discover, sync, list, version
//	internal/pipeline               - Sync loop and Singer state
//	pkg/connector/sources/gitlab    - Streams, URL resolution, pagination, normalization
//	pkg/connector/destinations      - Singer writers for stdout, files, S3 and GCS
//	pkg/clients                     - HTTP client with retries, rate limiting and caching
//	pkg/config                      - Config file and TAP_GITLAB_* environment overlay
//	pkg/errors                      - Structured error handling
//	pkg/logger                      - Structured logging to stderr
//	pkg/metrics                     - Prometheus metrics
//	pkg/observability               - OpenTelemetry tracing
//
// # Configuration
//
//	{
//	  "private_token": "${GITLAB_TOKEN}",
//	  "api_url": "https://gitlab.com",
//	  "projects": "my-group/my-project other-group/other-project",
//	  "groups": "my-group",
//	  "start_date": "2021-01-01T00:00:00Z",
//	  "reliability": {"retry_attempts": 5, "rate_limit_per_sec": 10}
//	}
//
// Environment variables are supported with ${VAR_NAME} syntax, and any key
// can be overridden as TAP_GITLAB_<SECTION>_<KEY>.
package tapgitlab
