package qcache

// MutationStatus is the mutation's lifecycle state.
type MutationStatus string

const (
	MutationIdle    MutationStatus = "idle"
	MutationPending MutationStatus = "pending"
	MutationSuccess MutationStatus = "success"
	MutationError   MutationStatus = "error"
)

// MutationScope groups mutations for strict serial execution: at most one
// mutation sharing an ID may be pending at a time.
type MutationScope struct {
	ID string
}

// MutationCallbacks are the lifecycle hooks composed cache -> client
// defaults -> observer -> call-site, matching the rest of the options-layering
// discipline.
type MutationCallbacks struct {
	OnMutate  func(ctx any, variables any) (context any, err error)
	OnSuccess func(data, variables, context any)
	OnError   func(err error, variables, context any)
	OnSettled func(data any, err error, variables, context any)
}

// MutationOptions configures a Mutation.
type MutationOptions struct {
	MutationKey QueryKey
	Scope       *MutationScope

	Fn MutationFn

	Retry       RetryPolicy
	RetryDelay  RetryDelayFunc
	NetworkMode NetworkMode

	Callbacks MutationCallbacks
	Meta      map[string]any
}

// MutationState is the reducer-managed state of one Mutation.
type MutationState struct {
	Data         any
	Variables    any
	Context      any
	Err          error
	FailureCount int
	FailureErr   error
	IsPaused     bool
	Status       MutationStatus
	SubmittedAt  int64 // unix nanos; set by caller via time.Now().UnixNano()
}
