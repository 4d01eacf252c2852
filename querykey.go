package qcache

import (
	"encoding/json"
	"fmt"
	"sort"
)

// QueryKey is an ordered sequence of values identifying a Query. Two keys
// that are deep-equal by value must hash identically regardless of map-key
// ordering within their elements.
type QueryKey []any

// Key is a convenience constructor for a QueryKey.
func Key(parts ...any) QueryKey {
	return QueryKey(parts)
}

// skipTokenType is the sentinel type behind SkipToken.
type skipTokenType struct{}

// SkipToken is a unique value. Stored in QueryOptions.QueryFn, it disables
// the query: QueryOptions.IsEnabled reports false, and Fetch fails with the
// skipped-query error instead of running anything.
var SkipToken = skipTokenType{}

// HashQueryKey canonicalizes a QueryKey into a stable string by recursively
// sorting map keys before JSON-encoding, so that two keys which are
// deep-equal by value (regardless of object-key ordering in their elements)
// hash identically. This is the default hashing strategy; callers may
// override it per-query via QueryOptions.QueryHashFn.
func HashQueryKey(key QueryKey) string {
	normalized := make([]any, len(key))
	for i, v := range key {
		normalized[i] = normalizeForHash(v)
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		// Values that can't be JSON-encoded (funcs, chans) still need a
		// stable, if degenerate, hash so the query can be built at all.
		return fmt.Sprintf("%#v", normalized)
	}
	return string(b)
}

// normalizeForHash recursively rewrites maps into sorted-key slices of
// [key, value] pairs so that json.Marshal (which already sorts map[string]V
// keys, but not map[any]V or nested struct field order in some encoders)
// produces identical bytes for deep-equal structures regardless of
// insertion order.
func normalizeForHash(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([][2]any, 0, len(t))
		for _, k := range keys {
			out = append(out, [2]any{k, normalizeForHash(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeForHash(e)
		}
		return out
	default:
		return v
	}
}
