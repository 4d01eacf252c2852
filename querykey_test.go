package qcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashQueryKeyStableAcrossMapKeyOrder(t *testing.T) {
	a := Key("users", map[string]any{"id": 1, "active": true})
	b := Key("users", map[string]any{"active": true, "id": 1})

	assert.Equal(t, HashQueryKey(a), HashQueryKey(b))
}

func TestHashQueryKeyDistinguishesDifferentKeys(t *testing.T) {
	a := Key("users", 1)
	b := Key("users", 2)

	assert.NotEqual(t, HashQueryKey(a), HashQueryKey(b))
}

func TestHashQueryKeyNestedMapOrdering(t *testing.T) {
	a := Key("search", map[string]any{
		"filters": map[string]any{"status": "open", "owner": "alice"},
		"page":    1,
	})
	b := Key("search", map[string]any{
		"page":    1,
		"filters": map[string]any{"owner": "alice", "status": "open"},
	})

	assert.Equal(t, HashQueryKey(a), HashQueryKey(b))
}

func TestResolveQueryFnSkipToken(t *testing.T) {
	fn, skipped := ResolveQueryFn(SkipToken)
	assert.True(t, skipped)
	assert.Nil(t, fn)
}

func TestResolveQueryFnNil(t *testing.T) {
	fn, skipped := ResolveQueryFn(nil)
	assert.True(t, skipped)
	assert.Nil(t, fn)
}

func TestResolveQueryFnConcrete(t *testing.T) {
	fn, skipped := ResolveQueryFn(QueryFn(func(ctx context.Context) (any, error) {
		return "ok", nil
	}))
	assert.False(t, skipped)
	data, err := fn(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "ok", data)
}
