// Package keyindex is a prefix-queryable index of query keys, used by
// QueryCache.FindAll to implement partial-key matching (a filter key of
// ["users"] matches a stored key of ["users", 1]) by a prefix walk over
// element-encoded keys.
package keyindex

import (
	"encoding/json"
	"sort"
	"strings"

	iradix "github.com/hashicorp/go-immutable-radix"
)

const elementSep = "\x1f"

// Index maps query hashes to their encoded key path in a radix tree,
// supporting prefix lookups over the key's elements (not its raw bytes).
type Index struct {
	tree *iradix.Tree
	keys map[string][]byte // hash -> encoded path, for Remove
}

// New constructs an empty Index.
func New() *Index {
	return &Index{tree: iradix.New(), keys: make(map[string][]byte)}
}

// Insert records hash under the encoded path of key.
func (idx *Index) Insert(hash string, key []any) {
	path := encodeKey(key)
	tree, _, _ := idx.tree.Insert(append(path, []byte(hash)...), hash)
	idx.tree = tree
	idx.keys[hash] = path
}

// Remove deletes hash from the index.
func (idx *Index) Remove(hash string) {
	path, ok := idx.keys[hash]
	if !ok {
		return
	}
	tree, _, _ := idx.tree.Delete(append(path, []byte(hash)...))
	idx.tree = tree
	delete(idx.keys, hash)
}

// MatchPrefix returns every hash whose key starts with partial's elements,
// sorted by hash string (stable, not insertion order — callers needing
// insertion order should sort by a separate timestamp).
func (idx *Index) MatchPrefix(partial []any) []string {
	prefix := encodeKey(partial)
	var out []string
	idx.tree.Root().WalkPrefix(prefix, func(k []byte, v interface{}) bool {
		out = append(out, v.(string))
		return false
	})
	sort.Strings(out)
	return out
}

// encodeKey renders key as a delimited, element-boundary-safe byte path:
// each element is JSON-encoded (maps have their keys sorted first, so
// deep-equal elements encode identically regardless of object-key order)
// and joined with a separator unlikely to appear in JSON output, with a
// trailing separator so a shorter key is always a true byte-prefix of any
// longer key that starts with the same elements.
func encodeKey(key []any) []byte {
	var b strings.Builder
	for _, e := range key {
		b.Write(mustJSON(normalize(e)))
		b.WriteString(elementSep)
	}
	return []byte(b.String())
}

func mustJSON(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		return []byte(elementSep)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([][2]any, 0, len(t))
		for _, k := range keys {
			out = append(out, [2]any{k, normalize(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}
