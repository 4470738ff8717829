package gitlab

import (
	"strings"
	"sync"

	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/jmespath/go-jmespath"
)

var (
	compiledPathsMu sync.Mutex
	compiledPaths   = map[string]*jmespath.JMESPath{}
)

// ExtractRecords evaluates a records path against a response body. Paths
// use the JSONPath subset found in stream descriptors: "$[*]" for arrays,
// "$" for single-object endpoints and "$.data.[*]" for GraphQL. A path that
// matches nothing yields no records.
func ExtractRecords(path string, body []byte) ([]core.Record, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.UnmarshalNumber(body, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "response is not valid JSON")
	}

	expr, err := compileRecordsPath(path)
	if err != nil {
		return nil, err
	}
	result, err := expr.Search(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to evaluate records path").
			WithDetail("path", path)
	}

	return collectRecords(result, path)
}

func collectRecords(node any, path string) ([]core.Record, error) {
	switch v := node.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []core.Record{core.Record(v)}, nil
	case []any:
		records := make([]core.Record, 0, len(v))
		for _, item := range v {
			switch elem := item.(type) {
			case nil:
			case map[string]any:
				records = append(records, core.Record(elem))
			case []any:
				// object projections over list values
				nested, err := collectRecords(elem, path)
				if err != nil {
					return nil, err
				}
				records = append(records, nested...)
			default:
				return nil, errors.Newf(errors.ErrorTypeData, "records path %s matched a non-object value", path)
			}
		}
		return records, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "records path %s matched a non-object value", path)
	}
}

func compileRecordsPath(path string) (*jmespath.JMESPath, error) {
	compiledPathsMu.Lock()
	defer compiledPathsMu.Unlock()

	if expr, ok := compiledPaths[path]; ok {
		return expr, nil
	}
	expr, err := jmespath.Compile(toJMESPath(path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid records path").WithDetail("path", path)
	}
	compiledPaths[path] = expr
	return expr, nil
}

// toJMESPath rewrites a JSONPath records path as a JMESPath expression:
// "$" is the current node and ".[*]" over an object is a value projection.
func toJMESPath(path string) string {
	expr := strings.TrimPrefix(strings.TrimSpace(path), "$")
	expr = strings.ReplaceAll(expr, ".[*]", ".*")
	expr = strings.TrimPrefix(expr, ".")
	if expr == "" {
		return "@"
	}
	return expr
}

// PostProcess applies the stream's transform and then copies partition
// fields that the schema declares but the record lacks. Fields already in
// the record are never overwritten. False means the record is discarded.
func PostProcess(stream *core.StreamDescriptor, record core.Record, partition core.Context) (core.Record, bool) {
	result := record
	if stream.Transform != nil {
		var keep bool
		result, keep = stream.Transform(record, partition)
		if !keep || result == nil {
			return nil, false
		}
	}

	props := stream.Schema.Properties()
	for key, val := range partition {
		if _, declared := props[key]; !declared {
			continue
		}
		if _, present := result[key]; present {
			continue
		}
		result[key] = val
	}
	return result, true
}

// ConformToSchema drops fields the schema does not declare and returns
// their names. A schema without properties keeps everything.
func ConformToSchema(schema core.Schema, record core.Record) []string {
	props := schema.Properties()
	if len(props) == 0 {
		return nil
	}
	var dropped []string
	for key := range record {
		if _, ok := props[key]; !ok {
			delete(record, key)
			dropped = append(dropped, key)
		}
	}
	return dropped
}
