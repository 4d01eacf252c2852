package qcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationExecuteSucceeds(t *testing.T) {
	client := newTestClient()
	m := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("create-todo"),
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			return variables, nil
		}),
	})

	res := <-m.Execute(context.Background(), "payload")
	require.NoError(t, res.Err)
	assert.Equal(t, "payload", res.Data)
	assert.Equal(t, MutationSuccess, m.State().Status)
}

func TestMutationExecuteRunsCallbacksInOrder(t *testing.T) {
	client := newTestClient()
	var order []string

	m := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("with-callbacks"),
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			order = append(order, "fn")
			return "ok", nil
		}),
		Callbacks: MutationCallbacks{
			OnMutate: func(ctx any, variables any) (any, error) {
				order = append(order, "mutate")
				return nil, nil
			},
			OnSuccess: func(data, variables, context any) {
				order = append(order, "success")
			},
			OnSettled: func(data any, err error, variables, context any) {
				order = append(order, "settled")
			},
		},
	})

	<-m.Execute(context.Background(), nil)
	assert.Equal(t, []string{"mutate", "fn", "success", "settled"}, order)
}

func TestMutationResetCancelsAndReturnsIdle(t *testing.T) {
	client := newTestClient()
	block := make(chan struct{})
	m := client.mutationCache.Build(MutationOptions{
		MutationKey: Key("resettable"),
		Fn: MutationFn(func(ctx context.Context, variables any) (any, error) {
			select {
			case <-block:
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	})

	resultCh := m.Execute(context.Background(), nil)
	m.Reset()
	close(block)
	<-resultCh

	assert.Equal(t, MutationIdle, m.State().Status)
}
