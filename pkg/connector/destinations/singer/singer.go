// Package singer encodes Singer SCHEMA, RECORD and STATE messages as JSON
// lines and provides the stdout and local file destinations.
package singer

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
)

// Message types of the Singer protocol
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

const defaultBufferSize = 64 * 1024

// SchemaMessage announces a stream before its first record
type SchemaMessage struct {
	Type               string      `json:"type"`
	Stream             string      `json:"stream"`
	Schema             core.Schema `json:"schema"`
	KeyProperties      []string    `json:"key_properties"`
	BookmarkProperties []string    `json:"bookmark_properties,omitempty"`
}

// RecordMessage carries one record
type RecordMessage struct {
	Type          string      `json:"type"`
	Stream        string      `json:"stream"`
	Record        core.Record `json:"record"`
	TimeExtracted string      `json:"time_extracted,omitempty"`
}

// StateMessage carries the bookmarks to resume from
type StateMessage struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Stats counts the messages written
type Stats struct {
	Schemas int64
	Records int64
	States  int64
	Bytes   int64
}

// MessageWriter writes Singer messages to w, one per line. State messages
// flush the buffer so a target never sees a state before the records it
// covers. It is safe for concurrent use.
type MessageWriter struct {
	mu    sync.Mutex
	w     *bufio.Writer
	stats Stats
}

// NewMessageWriter creates a buffered writer over w
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: bufio.NewWriterSize(w, defaultBufferSize)}
}

// WriteSchema writes the SCHEMA message of a stream
func (m *MessageWriter) WriteSchema(stream *core.StreamDescriptor) error {
	msg := SchemaMessage{
		Type:          TypeSchema,
		Stream:        stream.Name,
		Schema:        stream.Schema,
		KeyProperties: stream.PrimaryKeys,
	}
	if msg.KeyProperties == nil {
		msg.KeyProperties = []string{}
	}
	if stream.ReplicationKey != "" {
		msg.BookmarkProperties = []string{stream.ReplicationKey}
	}
	if err := m.write(msg, false); err != nil {
		return err
	}
	m.mu.Lock()
	m.stats.Schemas++
	m.mu.Unlock()
	return nil
}

// WriteRecord writes a RECORD message
func (m *MessageWriter) WriteRecord(stream string, record core.Record, extractedAt time.Time) error {
	msg := RecordMessage{
		Type:   TypeRecord,
		Stream: stream,
		Record: record,
	}
	if !extractedAt.IsZero() {
		msg.TimeExtracted = extractedAt.UTC().Format(time.RFC3339Nano)
	}
	if err := m.write(msg, false); err != nil {
		return err
	}
	m.mu.Lock()
	m.stats.Records++
	m.mu.Unlock()
	return nil
}

// WriteState writes a STATE message and flushes
func (m *MessageWriter) WriteState(state any) error {
	if err := m.write(StateMessage{Type: TypeState, Value: state}, true); err != nil {
		return err
	}
	m.mu.Lock()
	m.stats.States++
	m.mu.Unlock()
	return nil
}

// Flush writes any buffered messages
func (m *MessageWriter) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush output")
	}
	return nil
}

// Stats returns the message counts so far
func (m *MessageWriter) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MessageWriter) write(msg any, flush bool) error {
	line, err := json.MarshalLine(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.w.Write(line)
	m.stats.Bytes += int64(n)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write message")
	}
	if flush {
		if err := m.w.Flush(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush output")
		}
	}
	return nil
}
