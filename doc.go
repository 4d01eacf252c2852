/*
Package qcache is a framework-agnostic, asynchronous data-fetching and
caching engine.

It maintains an in-memory store of Queries (read-only fetches identified by a
key) and Mutations (write operations), deduplicates in-flight work, serves
cached data while revalidating it in the background, retries transient
failures with backoff, pauses and resumes work based on network and
window-focus state, and notifies subscribers of state changes in batched
notifications.

The engine itself never makes a network call: callers supply a QueryFn or
MutationFn and qcache handles caching, retrying, deduplication and
notification around it.

A minimal example:

	client := qcache.NewClient(qcache.ClientOptions{})
	obs := client.NewQueryObserver(qcache.QueryObserverOptions{
		QueryOptions: qcache.QueryOptions{
			QueryKey: qcache.Key("user", 1),
			QueryFn: qcache.QueryFn(func(ctx context.Context) (any, error) {
				return fetchUser(ctx, 1)
			}),
		},
	})
	unsubscribe := obs.Subscribe(func(result qcache.QueryResult) {
		fmt.Println(result.Status, result.Data)
	})
	defer unsubscribe()
*/
package qcache
