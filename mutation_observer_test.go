package qcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationObserverMutateReportsSuccessResult(t *testing.T) {
	client := newTestClient()
	obs := client.NewMutationObserver(MutationObserverOptions{
		MutationOptions: MutationOptions{
			MutationKey: Key("create"),
			Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
				return variables, nil
			}),
		},
	})

	var results []MutationResult
	unsub := obs.Subscribe(func(r MutationResult) {
		results = append(results, r)
	})
	defer unsub()

	res := <-obs.Mutate(context.Background(), "payload", nil)
	require.NoError(t, res.Err)

	final := obs.GetCurrentResult()
	assert.True(t, final.IsSuccess)
	assert.Equal(t, "payload", final.Data)
	assert.NotEmpty(t, results, "subscribers should have seen at least one transition")
}

// Call-site callback overrides run after the cache/observer-level ones, not
// instead of them.
func TestMutationObserverCallSiteCallbacksComposeWithBase(t *testing.T) {
	client := newTestClient()
	var order []string

	obs := client.NewMutationObserver(MutationObserverOptions{
		MutationOptions: MutationOptions{
			MutationKey: Key("composed"),
			Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
				return "ok", nil
			}),
			Callbacks: MutationCallbacks{
				OnSuccess: func(data, variables, context any) {
					order = append(order, "base")
				},
			},
		},
	})

	<-obs.Mutate(context.Background(), nil, &MutateCallbacks{
		OnSuccess: func(data, variables, context any) {
			order = append(order, "override")
		},
	})

	assert.Equal(t, []string{"base", "override"}, order)
}

func TestMutationObserverResetClearsCurrentMutation(t *testing.T) {
	client := newTestClient()
	obs := client.NewMutationObserver(MutationObserverOptions{
		MutationOptions: MutationOptions{
			MutationKey: Key("resettable"),
			Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
				return "ok", nil
			}),
		},
	})

	<-obs.Mutate(context.Background(), nil, nil)
	assert.True(t, obs.GetCurrentResult().IsSuccess)

	obs.Reset()
	assert.True(t, obs.GetCurrentResult().IsIdle)
}
