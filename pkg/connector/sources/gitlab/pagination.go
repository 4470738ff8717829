package gitlab

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"go.uber.org/zap"
)

// NextPageHeader carries the next page number on paginated GitLab responses
const NextPageHeader = "X-Next-Page"

// Paginator decides the token of the page after resp. An empty token means
// the partition is done.
type Paginator interface {
	NextPageToken(resp *http.Response, body []byte, previous string) (string, error)
}

// NativePaginator follows the X-Next-Page header
type NativePaginator struct{}

// NextPageToken implements Paginator
func (NativePaginator) NextPageToken(resp *http.Response, _ []byte, _ string) (string, error) {
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Header.Get(NextPageHeader)), nil
}

// EmulatedPaginator stops paging once records fall behind the bookmark,
// for endpoints that accept no "changed since" filter (notes, for example).
// The cutoff is read back from the query of the request that was sent.
type EmulatedPaginator struct {
	BookmarkParam  string
	ReplicationKey string
	RecordsPath    string
	Logger         *zap.Logger

	native NativePaginator
}

// NextPageToken implements Paginator
func (p *EmulatedPaginator) NextPageToken(resp *http.Response, body []byte, previous string) (string, error) {
	cutoff, ok := p.cutoff(resp)
	if !ok {
		return p.native.NextPageToken(resp, body, previous)
	}

	records, err := ExtractRecords(p.RecordsPath, body)
	if err != nil {
		return "", err
	}
	// GitLab sometimes answers with an empty page instead of no next page
	if len(records) == 0 {
		return "", nil
	}

	last, err := p.recordTime(records[len(records)-1])
	if err != nil {
		return "", err
	}

	if len(records) > 1 {
		first, err := p.recordTime(records[0])
		if err == nil && first.After(last) {
			p.logger().Warn("page is not in ascending order, not stopping early",
				zap.String("replication_key", p.ReplicationKey),
				zap.Time("first", first),
				zap.Time("last", last))
			return p.native.NextPageToken(resp, body, previous)
		}
	}

	if last.Before(cutoff) {
		return "", nil
	}
	return p.native.NextPageToken(resp, body, previous)
}

// cutoff parses the bookmark parameter from the sent request. A missing or
// unparseable value means no cutoff.
func (p *EmulatedPaginator) cutoff(resp *http.Response) (time.Time, bool) {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return time.Time{}, false
	}
	values, err := url.ParseQuery(resp.Request.URL.RawQuery)
	if err != nil {
		return time.Time{}, false
	}
	raw := values[p.BookmarkParam]
	if len(raw) == 0 || raw[0] == "" {
		return time.Time{}, false
	}
	// ParseQuery decodes "+" as a space; put it back to keep the offset
	cutoff, err := ParseTimestamp(strings.ReplaceAll(raw[0], " ", "+"))
	if err != nil {
		p.logger().Debug("ignoring unparseable bookmark",
			zap.String("param", p.BookmarkParam),
			zap.String("value", raw[0]))
		return time.Time{}, false
	}
	return cutoff, true
}

func (p *EmulatedPaginator) recordTime(record core.Record) (time.Time, error) {
	val, ok := record[p.ReplicationKey]
	if !ok || val == nil {
		return time.Time{}, errors.Newf(errors.ErrorTypeData, "record has no %s value", p.ReplicationKey)
	}
	return ParseTimestamp(val)
}

func (p *EmulatedPaginator) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// NewPaginator returns the paginator selected by the stream's pagination kind
func NewPaginator(stream *core.StreamDescriptor, logger *zap.Logger) Paginator {
	if stream.Pagination == core.PaginationEmulated {
		return &EmulatedPaginator{
			BookmarkParam:  stream.BookmarkParamName(),
			ReplicationKey: stream.ReplicationKey,
			RecordsPath:    stream.RecordsPathOrDefault(),
			Logger:         logger,
		}
	}
	return NativePaginator{}
}

// StartingTimestamp returns the later of the partition bookmark and
// start_date. False means neither is known and the stream is read from
// the beginning.
func StartingTimestamp(bookmark any, cfg *config.TapConfig) (time.Time, bool, error) {
	var (
		start time.Time
		found bool
	)

	if cfg != nil {
		st, ok, err := cfg.StartTime()
		if err != nil {
			return time.Time{}, false, err
		}
		start, found = st, ok
	}

	if bookmark != nil && bookmark != "" {
		bt, err := ParseTimestamp(bookmark)
		if err != nil {
			return time.Time{}, false, errors.Wrap(err, errors.ErrorTypeData, "invalid bookmark").
				WithDetail("bookmark", bookmark)
		}
		if !found || bt.After(start) {
			start, found = bt, true
		}
	}

	return start, found, nil
}

// URLParams builds the query of one page request. The stream's extra
// params are copied, never shared. starting is nil when the stream is
// read from the beginning, in which case no bookmark parameter is sent.
func URLParams(stream *core.StreamDescriptor, token string, starting *time.Time, pageSize int) url.Values {
	params := url.Values{}
	for k, v := range stream.ExtraParams {
		params.Set(k, v)
	}

	if pageSize > 0 {
		params.Set("per_page", strconv.Itoa(pageSize))
	}
	if token != "" {
		params.Set("page", token)
	}
	if stream.ReplicationKey != "" {
		params.Set("sort", "asc")
		params.Set("order_by", stream.ReplicationKey)
		if stream.IsTimestampReplicationKey() && starting != nil {
			params.Set(stream.BookmarkParamName(), FormatTimestamp(*starting))
		}
	}
	return params
}
