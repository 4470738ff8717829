package core

import (
	"os"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
)

// Replication methods in catalog entries
const (
	ReplicationIncremental = "INCREMENTAL"
	ReplicationFullTable   = "FULL_TABLE"
)

// Catalog is the Singer catalog printed by discover and read back by sync
type Catalog struct {
	Streams []*CatalogEntry `json:"streams"`
}

// CatalogEntry describes one stream
type CatalogEntry struct {
	TapStreamID       string            `json:"tap_stream_id"`
	Stream            string            `json:"stream"`
	Schema            Schema            `json:"schema"`
	KeyProperties     []string          `json:"key_properties"`
	ReplicationKey    string            `json:"replication_key,omitempty"`
	ReplicationMethod string            `json:"replication_method"`
	Metadata          []CatalogMetadata `json:"metadata"`
}

// CatalogMetadata is a breadcrumb-addressed metadata block
type CatalogMetadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// NewCatalogEntry builds the catalog entry of a stream
func NewCatalogEntry(s *StreamDescriptor) *CatalogEntry {
	method := ReplicationFullTable
	var validKeys []string
	if s.IsIncremental() {
		method = ReplicationIncremental
		validKeys = []string{s.ReplicationKey}
	}

	streamMeta := map[string]any{
		"inclusion":                 "available",
		"selected":                  true,
		"table-key-properties":      s.PrimaryKeys,
		"forced-replication-method": method,
	}
	if validKeys != nil {
		streamMeta["valid-replication-keys"] = validKeys
	}
	if s.Parent != "" {
		streamMeta["parent-tap-stream-id"] = s.Parent
	}

	entry := &CatalogEntry{
		TapStreamID:       s.Name,
		Stream:            s.Name,
		Schema:            s.Schema,
		KeyProperties:     s.PrimaryKeys,
		ReplicationKey:    s.ReplicationKey,
		ReplicationMethod: method,
		Metadata:          []CatalogMetadata{{Breadcrumb: []string{}, Metadata: streamMeta}},
	}

	for name := range s.Schema.Properties() {
		inclusion := "available"
		if name == s.ReplicationKey || contains(s.PrimaryKeys, name) {
			inclusion = "automatic"
		}
		entry.Metadata = append(entry.Metadata, CatalogMetadata{
			Breadcrumb: []string{"properties", name},
			Metadata:   map[string]any{"inclusion": inclusion},
		})
	}
	return entry
}

// Selected reports whether the stream-level metadata selects the stream.
// Streams without a selected flag are selected.
func (e *CatalogEntry) Selected() bool {
	for _, md := range e.Metadata {
		if len(md.Breadcrumb) != 0 {
			continue
		}
		if v, ok := md.Metadata["selected"].(bool); ok {
			return v
		}
	}
	return true
}

// Entry looks up a stream by tap_stream_id
func (c *Catalog) Entry(name string) (*CatalogEntry, bool) {
	for _, e := range c.Streams {
		if e.TapStreamID == name {
			return e, true
		}
	}
	return nil, false
}

// SelectedStreams returns the names of selected streams
func (c *Catalog) SelectedStreams() []string {
	var names []string
	for _, e := range c.Streams {
		if e.Selected() {
			names = append(names, e.TapStreamID)
		}
	}
	return names
}

// LoadCatalog reads a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read catalog").WithDetail("path", path)
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse catalog").WithDetail("path", path)
	}
	return &catalog, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
