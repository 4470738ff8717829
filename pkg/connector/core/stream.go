package core

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
)

// DefaultBookmarkParam is the query parameter GitLab uses for "changed since"
const DefaultBookmarkParam = "since"

// Records paths understood by the normalizer
const (
	RecordsPathArray   = "$[*]"
	RecordsPathObject  = "$"
	RecordsPathGraphQL = "$.data.[*]"
)

// TransportKind selects how a stream talks to the API
type TransportKind int

const (
	TransportREST TransportKind = iota
	TransportGraphQL
)

func (k TransportKind) String() string {
	if k == TransportGraphQL {
		return "graphql"
	}
	return "rest"
}

// PaginationKind selects how the next page is decided
type PaginationKind int

const (
	// PaginationNative follows the X-Next-Page header
	PaginationNative PaginationKind = iota
	// PaginationEmulated stops once records fall behind the bookmark, for
	// endpoints that ignore the bookmark parameter
	PaginationEmulated
)

func (k PaginationKind) String() string {
	if k == PaginationEmulated {
		return "emulated"
	}
	return "native"
}

// PartitionScope tells which parent entity a stream is keyed on
type PartitionScope int

const (
	ScopeNone PartitionScope = iota
	ScopeProject
	ScopeGroup
)

func (s PartitionScope) String() string {
	switch s {
	case ScopeProject:
		return "project"
	case ScopeGroup:
		return "group"
	default:
		return "none"
	}
}

// Schema is a JSON schema document
type Schema map[string]any

// Properties returns the schema's top-level properties
func (s Schema) Properties() map[string]any {
	props, _ := s["properties"].(map[string]any)
	return props
}

// HasProperty reports whether name is a declared property
func (s Schema) HasProperty(name string) bool {
	_, ok := s.Properties()[name]
	return ok
}

// PropertyFormat returns the "format" of a declared property
func (s Schema) PropertyFormat(name string) string {
	prop, _ := s.Properties()[name].(map[string]any)
	format, _ := prop["format"].(string)
	return format
}

// RecordTransform reshapes a raw API record. Returning false discards it.
type RecordTransform func(record Record, partition Context) (Record, bool)

// ChildContextFunc derives the partition of every child stream from one
// record of the parent stream. It is set on the parent.
type ChildContextFunc func(record Record, partition Context) Context

// StreamDescriptor declares everything the sync loop needs to extract one
// stream. Descriptors are values; behavior is selected by the kind fields.
type StreamDescriptor struct {
	Name           string
	Path           string
	PrimaryKeys    []string
	ReplicationKey string
	BookmarkParam  string

	Scope      PartitionScope
	Transport  TransportKind
	Pagination PaginationKind

	RecordsPath string
	ExtraParams map[string]string

	// Parent names the stream whose records yield this stream's partitions
	Parent             string
	StatePartitionKeys []string
	ChildContext       ChildContextFunc

	Schema       Schema
	Transform    RecordTransform
	GraphQLQuery string

	// Gate names a boolean config flag that must be set for the stream to
	// be enabled
	Gate string
}

// BookmarkParamName returns the bookmark query parameter
func (s *StreamDescriptor) BookmarkParamName() string {
	if s.BookmarkParam == "" {
		return DefaultBookmarkParam
	}
	return s.BookmarkParam
}

// RecordsPathOrDefault returns the records path for the stream's transport
func (s *StreamDescriptor) RecordsPathOrDefault() string {
	if s.RecordsPath != "" {
		return s.RecordsPath
	}
	if s.Transport == TransportGraphQL {
		return RecordsPathGraphQL
	}
	return RecordsPathArray
}

// IsTimestampReplicationKey reports whether the replication key is declared
// as a date-time in the schema.
func (s *StreamDescriptor) IsTimestampReplicationKey() bool {
	return s.ReplicationKey != "" && s.Schema.PropertyFormat(s.ReplicationKey) == "date-time"
}

// IsIncremental reports whether the stream keeps a bookmark
func (s *StreamDescriptor) IsIncremental() bool {
	return s.ReplicationKey != ""
}

// IsPartitioned reports whether state is tracked per partition
func (s *StreamDescriptor) IsPartitioned() bool {
	return len(s.StatePartitionKeys) > 0
}

// PartitionKey returns the state-identifying subset of a partition context
func (s *StreamDescriptor) PartitionKey(partition Context) Context {
	if !s.IsPartitioned() || partition == nil {
		return nil
	}
	return partition.Subset(s.StatePartitionKeys)
}

// Validate checks the descriptor for internal consistency
func (s *StreamDescriptor) Validate() error {
	if s.Name == "" {
		return errors.New(errors.ErrorTypeValidation, "stream name is required")
	}
	if s.Transport == TransportREST && s.Path == "" {
		return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("stream %s: REST streams need a path", s.Name))
	}
	if s.Transport == TransportGraphQL && strings.TrimSpace(s.GraphQLQuery) == "" {
		return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("stream %s: GraphQL streams need a query", s.Name))
	}
	if s.Pagination == PaginationEmulated && s.ReplicationKey == "" {
		return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("stream %s: emulated pagination needs a replication key", s.Name))
	}
	if s.ReplicationKey != "" && s.Schema != nil && !s.Schema.HasProperty(s.ReplicationKey) {
		return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("stream %s: replication key %s is not in the schema", s.Name, s.ReplicationKey))
	}
	return nil
}
