package gitlab

import (
	"strings"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/spf13/cast"
)

// timestampLayouts are tried in order before falling back to cast.
// Values without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	// date with a "+HH:MM:SS" offset, e.g. "2021-01-01+00:00:00" after a
	// quote_plus round trip
	"2006-01-02Z07:00:00",
	"2006-01-02Z07:00",
	"2006-01-02",
}

// ParseTimestamp reads a GitLab or bookmark timestamp into UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t != nil {
			return t.UTC(), nil
		}
		return time.Time{}, errors.New(errors.ErrorTypeData, "empty timestamp")
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, errors.New(errors.ErrorTypeData, "empty timestamp")
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), nil
			}
		}
		v = s
	case nil:
		return time.Time{}, errors.New(errors.ErrorTypeData, "empty timestamp")
	}

	parsed, err := cast.ToTimeInDefaultLocationE(v, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeData, "unparseable timestamp").
			WithDetail("value", v)
	}
	return parsed.UTC(), nil
}

// FormatTimestamp renders a bookmark the way GitLab filters expect it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
