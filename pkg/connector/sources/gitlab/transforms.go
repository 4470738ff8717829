package gitlab

import (
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
)

// ObjectArrayToIDArray replaces a list of objects by the list of their ids.
// Items without an id are skipped.
func ObjectArrayToIDArray(items any) []any {
	list, ok := items.([]any)
	if !ok {
		return nil
	}
	ids := make([]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			if id, ok := obj["id"]; ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// PopNestedID removes the object stored under key and returns its id, or
// nil when the key is absent or not an object.
func PopNestedID(record core.Record, key string) any {
	val, ok := record[key]
	if !ok {
		return nil
	}
	delete(record, key)
	obj, ok := val.(map[string]any)
	if !ok {
		return nil
	}
	return obj["id"]
}

// nestedIDs lifts nested objects to "<key>_id" fields
func nestedIDs(keys ...string) core.RecordTransform {
	return func(record core.Record, _ core.Context) (core.Record, bool) {
		for _, key := range keys {
			if _, ok := record[key]; !ok {
				continue
			}
			record[key+"_id"] = PopNestedID(record, key)
		}
		return record, true
	}
}

// idArrays replaces object arrays by id arrays in place
func idArrays(keys ...string) core.RecordTransform {
	return func(record core.Record, _ core.Context) (core.Record, bool) {
		for _, key := range keys {
			if v, ok := record[key]; ok && v != nil {
				record[key] = ObjectArrayToIDArray(v)
			}
		}
		return record, true
	}
}

// dropFields removes deprecated or redundant fields
func dropFields(keys ...string) core.RecordTransform {
	return func(record core.Record, _ core.Context) (core.Record, bool) {
		for _, key := range keys {
			delete(record, key)
		}
		return record, true
	}
}

// chain applies transforms in order and stops at the first discard
func chain(transforms ...core.RecordTransform) core.RecordTransform {
	return func(record core.Record, partition core.Context) (core.Record, bool) {
		for _, t := range transforms {
			var keep bool
			record, keep = t(record, partition)
			if !keep {
				return nil, false
			}
		}
		return record, true
	}
}

func transformMergeRequestCommit(record core.Record, _ core.Context) (core.Record, bool) {
	if id, ok := record["id"]; ok {
		record["commit_id"] = id
		delete(record, "id")
	}
	if shortID, ok := record["short_id"]; ok {
		record["commit_short_id"] = shortID
		delete(record, "short_id")
	}
	return record, true
}

func transformPipelineExtended(record core.Record, _ core.Context) (core.Record, bool) {
	if id, ok := record["id"]; ok {
		record["pipeline_id"] = id
	}
	return record, true
}

// graphQLStatisticFields maps project statistics to column names
var graphQLStatisticFields = map[string]string{
	"commitCount":        "commit_count",
	"storageSize":        "storage_size",
	"repositorySize":     "repository_size",
	"lfsObjectsSize":     "lfs_objects_size",
	"buildArtifactsSize": "build_artifacts_size",
	"packagesSize":       "packages_size",
	"snippetsSize":       "snippets_size",
	"uploadsSize":        "uploads_size",
	"wikiSize":           "wiki_size",
}

// transformProjectStatistics flattens the GraphQL statistics object. The
// GraphQL global id is dropped in favor of the numeric project_id.
func transformProjectStatistics(record core.Record, _ core.Context) (core.Record, bool) {
	stats, ok := record["statistics"].(map[string]any)
	if !ok {
		return nil, false
	}
	out := core.Record{"fullPath": record["fullPath"]}
	for gqlName, column := range graphQLStatisticFields {
		if v, ok := stats[gqlName]; ok {
			out[column] = v
		}
	}
	return out, true
}
