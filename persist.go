package qcache

import (
	"time"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

// SchemaVersion is the dehydrated-snapshot format version. Hydrate refuses
// a snapshot whose SchemaVersion doesn't satisfy schemaConstraint.
const SchemaVersion = "1.0.0"

var schemaConstraint = mustConstraint("= " + SchemaVersion)

func mustConstraint(c string) version.Constraints {
	constraint, err := version.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// Persister is the external collaborator responsible for storing and
// retrieving a dehydrated snapshot; the engine treats persistence as
// best-effort and never blocks a fetch on it.
type Persister interface {
	PersistClient(snapshot DehydratedState) error
	RestoreClient() (DehydratedState, error)
	RemoveClient() error
}

// DehydratedQuery is the serializable snapshot of one Query.
type DehydratedQuery struct {
	QueryHash string
	QueryKey  QueryKey
	State     QueryState
}

// DehydratedMutation is the serializable snapshot of one Mutation.
type DehydratedMutation struct {
	MutationID int64
	State      MutationState
}

// DehydratedState is the full client snapshot produced by Dehydrate.
type DehydratedState struct {
	SchemaVersion string
	Queries       []DehydratedQuery
	Mutations     []DehydratedMutation
	DehydratedAt  time.Time
}

// DehydrateOptions filters what Dehydrate includes.
type DehydrateOptions struct {
	ShouldDehydrateQuery    func(*Query) bool
	ShouldDehydrateMutation func(*Mutation) bool
}

// Dehydrate produces a serializable snapshot of client's current cache
// state: queries with state and queryKey, mutations with state.
func Dehydrate(client *QueryClient, opts *DehydrateOptions) DehydratedState {
	if opts == nil {
		opts = &DehydrateOptions{}
	}

	out := DehydratedState{SchemaVersion: SchemaVersion, DehydratedAt: time.Now()}
	for _, q := range client.queryCache.GetAll() {
		if opts.ShouldDehydrateQuery != nil && !opts.ShouldDehydrateQuery(q) {
			continue
		}
		out.Queries = append(out.Queries, DehydratedQuery{
			QueryHash: q.Hash(),
			QueryKey:  q.Key(),
			State:     q.State(),
		})
	}
	for _, m := range client.mutationCache.GetAll() {
		if opts.ShouldDehydrateMutation != nil && !opts.ShouldDehydrateMutation(m) {
			continue
		}
		out.Mutations = append(out.Mutations, DehydratedMutation{
			MutationID: m.ID(),
			State:      m.State(),
		})
	}
	return out
}

// Hydrate rebuilds cache entries from snapshot via queryCache.Build and
// applies their recorded state without triggering any fetch. Refuses a
// snapshot whose SchemaVersion is incompatible with the running engine.
func Hydrate(client *QueryClient, snapshot DehydratedState) error {
	if snapshot.SchemaVersion != "" {
		v, err := version.NewVersion(snapshot.SchemaVersion)
		if err != nil {
			return errors.Wrapf(err, "qcache: invalid snapshot schema version %q", snapshot.SchemaVersion)
		}
		if !schemaConstraint.Check(v) {
			return errors.Errorf("qcache: snapshot schema version %q incompatible with %q", snapshot.SchemaVersion, SchemaVersion)
		}
	}

	for _, dq := range snapshot.Queries {
		opts := client.resolveQueryOptions(QueryOptions{QueryKey: dq.QueryKey, QueryHash: dq.QueryHash})
		q := client.queryCache.Build(opts)
		q.mu.Lock()
		q.state = dq.State
		q.mu.Unlock()
	}
	return nil
}
