package clients

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultCacheTTL is how long cached responses stay valid.
const DefaultCacheTTL = 24 * time.Hour

// ignoredCacheParams never take part in cache keys; credentials sent as
// query parameters must not end up on disk.
var ignoredCacheParams = map[string]bool{
	"private_token": true,
	"access_token":  true,
	"x-api-key":     true,
}

// cacheEntry is the on-disk YAML form of one response. Request headers are
// never stored, so tokens stay out of the cache.
type cacheEntry struct {
	Method   string              `yaml:"method"`
	URL      string              `yaml:"url"`
	Status   int                 `yaml:"status"`
	Header   map[string][]string `yaml:"header"`
	Body     string              `yaml:"body"`
	StoredAt time.Time           `yaml:"stored_at"`
}

// ResponseCache is a filesystem cache of successful API responses keyed on
// method, URL and request body. It is used to replay syncs during
// development without hitting the API.
type ResponseCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewResponseCache creates the cache directory when needed.
func NewResponseCache(dir string, ttl time.Duration) (*ResponseCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create requests cache directory").
			WithDetail("path", dir)
	}
	return &ResponseCache{dir: dir, ttl: ttl, now: time.Now}, nil
}

// Get returns a cached response for the request, or false on a miss or an
// expired entry.
func (c *ResponseCache) Get(method, rawURL string, body []byte) (*http.Response, []byte, bool) {
	data, err := os.ReadFile(c.path(method, rawURL, body))
	if err != nil {
		return nil, nil, false
	}

	var entry cacheEntry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, nil, false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		return nil, nil, false
	}

	resp := &http.Response{
		Status:     http.StatusText(entry.Status),
		StatusCode: entry.Status,
		Header:     http.Header(entry.Header),
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	return resp, []byte(entry.Body), true
}

// Put stores a successful response.
func (c *ResponseCache) Put(method, rawURL string, reqBody []byte, resp *http.Response, body []byte) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	entry := cacheEntry{
		Method:   method,
		URL:      rawURL,
		Status:   resp.StatusCode,
		Header:   map[string][]string(resp.Header.Clone()),
		Body:     string(body),
		StoredAt: c.now().UTC(),
	}
	data, err := yaml.Marshal(&entry)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode cache entry")
	}

	path := c.path(method, rawURL, reqBody)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write cache entry")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write cache entry")
	}
	return nil
}

func (c *ResponseCache) path(method, rawURL string, body []byte) string {
	return filepath.Join(c.dir, cacheKey(method, rawURL, body)+".yaml")
}

// cacheKey hashes the method, the URL with sorted query parameters minus
// ignored ones, and the request body.
func cacheKey(method, rawURL string, body []byte) string {
	normalized := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		q := u.Query()
		for k := range q {
			if ignoredCacheParams[strings.ToLower(k)] {
				q.Del(k)
			}
		}
		// Encode sorts by key
		u.RawQuery = q.Encode()
		normalized = u.String()
	}

	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
