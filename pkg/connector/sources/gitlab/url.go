package gitlab

import (
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// ResolveURL joins base and template and substitutes every {key} found in
// config values overlaid by the partition context. Values are query-escaped
// so project paths like "group/project" become "group%2Fproject".
// Placeholders without a value are left in place.
func ResolveURL(base, template string, cfg, partition map[string]any) string {
	resolved := base + template

	vals := make(map[string]any, len(cfg)+len(partition))
	for k, v := range cfg {
		vals[k] = v
	}
	for k, v := range partition {
		vals[k] = v
	}

	for key, val := range vals {
		placeholder := "{" + key + "}"
		if !strings.Contains(resolved, placeholder) {
			continue
		}
		encoded := url.QueryEscape(stringifyURLValue(val))
		resolved = strings.ReplaceAll(resolved, placeholder, encoded)
		if key == "project_path" {
			logger.Debug("resolved project path",
				zap.String("url", resolved),
				zap.Any("value", val),
				zap.String("encoded", encoded))
		}
	}

	return resolved
}

func stringifyURLValue(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.Format(time.RFC3339)
	case json.Number:
		return v.String()
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = stringifyURLValue(p)
		}
		return strings.Join(parts, ",")
	}
	if s, err := cast.ToStringE(val); err == nil {
		return s
	}
	return ""
}
