package qcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hashicorp/qcache/internal/metrics"
)

// NetworkMode controls how a Retryer reacts to connectivity.
type NetworkMode int

const (
	// NetworkOnline gates fetching on OnlineManager state (the default).
	NetworkOnline NetworkMode = iota
	// NetworkAlways ignores connectivity entirely.
	NetworkAlways
	// NetworkOfflineFirst runs the first attempt unconditionally, then
	// respects connectivity for retries.
	NetworkOfflineFirst
)

// RetryPolicy decides whether a failed attempt should be retried, given the
// number of failures before this one and the error.
type RetryPolicy func(failureCount int, err error) bool

// RetryNever never retries.
func RetryNever(int, error) bool { return false }

// RetryAlways always retries.
func RetryAlways(int, error) bool { return true }

// RetryCount returns a RetryPolicy that retries up to n times: the
// predicate is consulted with the count of failures prior to this one, so
// it returns true for n consecutive failures (n retries, n+1 attempts
// total).
func RetryCount(n int) RetryPolicy {
	return func(failureCount int, _ error) bool { return failureCount < n }
}

// DefaultRetryPolicy is the client-side default of 3 retries.
var DefaultRetryPolicy = RetryCount(3)

// RetryDelayFunc computes how long to wait before the next attempt.
type RetryDelayFunc func(failureCount int, err error) time.Duration

// DefaultRetryDelay reuses retryablehttp's DefaultBackoff, whose formula
// (min(2^attempt * min, max), no Retry-After header since resp is nil) is
// exactly the default backoff curve: min(1000*2^failureCount, 30_000)ms.
func DefaultRetryDelay(failureCount int, _ error) time.Duration {
	return retryablehttp.DefaultBackoff(time.Second, 30*time.Second, failureCount, nil)
}

// CancelOptions describe how a Cancel request should be handled by the
// owner (Query/Mutation): Revert restores pre-fetch data, Silent suppresses
// the intermediate observer notification.
type CancelOptions struct {
	Revert bool
	Silent bool
}

// CancelledError is returned (wrapped as *CancelledError) when a Retryer is
// cancelled mid-flight.
type CancelledError struct {
	CancelOptions
}

func (e *CancelledError) Error() string {
	if e.Revert {
		return "qcache: fetch cancelled (reverting)"
	}
	return "qcache: fetch cancelled"
}

// Is lets callers write errors.Is(err, qcache.ErrCancelled) instead of a
// type assertion.
func (e *CancelledError) Is(target error) bool {
	_, ok := target.(*CancelledError)
	return ok
}

// ErrCancelled is a sentinel usable with errors.Is.
var ErrCancelled error = &CancelledError{}

// Result is the outcome of a Retryer attempt sequence.
type Result struct {
	Data any
	Err  error
}

// RetryerConfig configures a single-flight attempt sequence.
type RetryerConfig struct {
	// Fn performs one attempt.
	Fn func(ctx context.Context) (any, error)
	// InitialPromise, if set, is consulted instead of Fn on the very first
	// attempt (continuation of an already-in-flight operation).
	InitialPromise <-chan Result
	// Abort is invoked (in addition to context cancellation) when Cancel is
	// called, for user-supplied fetch APIs that accept an abort signal.
	Abort func()

	OnError    func(err error)
	OnSuccess  func(data any)
	OnFail     func(failureCount int, err error)
	OnPause    func()
	OnContinue func()

	Retry       RetryPolicy
	RetryDelay  RetryDelayFunc
	NetworkMode NetworkMode

	// CanRun additionally gates running (used for mutation scope
	// serialization); nil means always allowed.
	CanRun func() bool
	// IsOnline/IsFocused report live connectivity/focus; nil defaults to
	// true/true (matching a FocusManager/OnlineManager with no platform
	// hook installed).
	IsOnline  func() bool
	IsFocused func() bool

	// Metrics, if non-nil, receives an attempt counter (MetricKey) and a
	// retry counter (MetricKey + "retry") as run progresses. A nil Metrics
	// or empty MetricKey disables recording.
	Metrics   *metrics.Recorder
	MetricKey []string
}

// Retryer is the single-flight executor for one attempt sequence, with
// cancellation and pause/continue on focus/online transitions.
type Retryer struct {
	cfg RetryerConfig

	mu               sync.Mutex
	failureCount     int
	isResolved       bool
	isRetryCancelled bool
	cancelOpts       *CancelOptions

	pauseMu    sync.Mutex
	continueFn func(valid bool)

	cancel context.CancelFunc
}

// NewRetryer constructs a Retryer from cfg, filling in default retry policy
// and delay function when unset.
func NewRetryer(cfg RetryerConfig) *Retryer {
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.RetryDelay == nil {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Retryer{cfg: cfg}
}

// FailureCount returns the number of failed attempts so far.
func (r *Retryer) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount
}

// CancelRetry sets the retry-only cancellation flag: the current or next
// attempt, if it fails, will not be retried (used during background
// refetch, where a stale in-flight attempt should be allowed to finish but
// not keep retrying).
func (r *Retryer) CancelRetry() {
	r.mu.Lock()
	r.isRetryCancelled = true
	r.mu.Unlock()
}

// ContinueRetry clears the retry-only cancellation flag.
func (r *Retryer) ContinueRetry() {
	r.mu.Lock()
	r.isRetryCancelled = false
	r.mu.Unlock()
}

// Cancel rejects the attempt sequence with a *CancelledError carrying opts,
// unless it has already resolved. It also invokes the configured Abort
// hook and, if the Retryer is currently paused, wakes it so it can observe
// the cancellation.
func (r *Retryer) Cancel(opts CancelOptions) {
	r.mu.Lock()
	if r.isResolved {
		r.mu.Unlock()
		return
	}
	r.cancelOpts = &opts
	r.mu.Unlock()

	if r.cfg.Abort != nil {
		r.cfg.Abort()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wakePaused(false)
}

// Continue resumes a paused Retryer (called by the owner on focus/online
// transitions). Returns false if the Retryer was not paused.
func (r *Retryer) Continue() bool {
	return r.wakePaused(true)
}

func (r *Retryer) wakePaused(valid bool) bool {
	r.pauseMu.Lock()
	cont := r.continueFn
	r.continueFn = nil
	r.pauseMu.Unlock()
	if cont == nil {
		return false
	}
	cont(valid)
	return true
}

// Start runs the attempt sequence in a new goroutine and returns a
// single-value channel carrying the final Result.
func (r *Retryer) Start(ctx context.Context) <-chan Result {
	innerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	out := make(chan Result, 1)
	go func() {
		data, err := r.run(innerCtx)
		if err != nil && r.cfg.OnError != nil {
			r.cfg.OnError(err)
		}
		out <- Result{Data: data, Err: err}
		close(out)
	}()
	return out
}

func (r *Retryer) runAllowed() bool {
	return r.cfg.CanRun == nil || r.cfg.CanRun()
}

func (r *Retryer) isOnline() bool {
	if r.cfg.IsOnline == nil {
		return true
	}
	return r.cfg.IsOnline()
}

func (r *Retryer) isFocused() bool {
	if r.cfg.IsFocused == nil {
		return true
	}
	return r.cfg.IsFocused()
}

// canFetch reports whether a new attempt may start right now, per
// NetworkMode.
func (r *Retryer) canFetch() bool {
	switch r.cfg.NetworkMode {
	case NetworkAlways, NetworkOfflineFirst:
		return true
	default:
		return r.isOnline()
	}
}

// canContinue reports whether a retry after failure may proceed, per
// focused AND (networkMode=='always' OR online) AND
// canRun().
func (r *Retryer) canContinue() bool {
	if !r.isFocused() {
		return false
	}
	if r.cfg.NetworkMode != NetworkAlways && !r.isOnline() {
		return false
	}
	return r.runAllowed()
}

func (r *Retryer) cancelErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelOpts != nil {
		return &CancelledError{CancelOptions: *r.cancelOpts}
	}
	return context.Canceled
}

// pause blocks until Continue is called (onContinue fires and pause
// returns nil) or the Retryer is cancelled (pause returns the cancel
// error).
func (r *Retryer) pause(ctx context.Context) error {
	ch := make(chan bool, 1)
	r.pauseMu.Lock()
	r.continueFn = func(valid bool) { ch <- valid }
	r.pauseMu.Unlock()

	if r.cfg.OnPause != nil {
		r.cfg.OnPause()
	}

	select {
	case valid := <-ch:
		if !valid {
			return r.cancelErr()
		}
		if r.cfg.OnContinue != nil {
			r.cfg.OnContinue()
		}
		return nil
	case <-ctx.Done():
		return r.cancelErr()
	}
}

// run attempts, and on failure either
// retry (after a backoff sleep, possibly pausing first if conditions
// aren't met) or reject.
func (r *Retryer) run(ctx context.Context) (any, error) {
	first := true
	for {
		var gateOK bool
		if first {
			gateOK = r.canFetch() && r.runAllowed()
		} else {
			gateOK = r.canContinue()
		}
		if !gateOK {
			if perr := r.pause(ctx); perr != nil {
				return nil, perr
			}
		}

		r.incrAttempt()

		var data any
		var err error
		switch {
		case first && r.cfg.InitialPromise != nil:
			select {
			case res := <-r.cfg.InitialPromise:
				data, err = res.Data, res.Err
			case <-ctx.Done():
				return nil, r.cancelErr()
			}
		default:
			data, err = r.cfg.Fn(ctx)
		}
		first = false

		if ctx.Err() != nil {
			// Cancel() was called while Fn was in flight: a cooperative Fn
			// already returned ctx.Err(), an uncooperative one may have
			// returned a normal result anyway, but the cancellation still
			// wins.
			return nil, r.cancelErr()
		}

		if err == nil {
			r.mu.Lock()
			r.isResolved = true
			r.mu.Unlock()
			if r.cfg.OnSuccess != nil {
				r.cfg.OnSuccess(data)
			}
			return data, nil
		}

		r.mu.Lock()
		resolved := r.isResolved
		r.mu.Unlock()
		if resolved {
			// A concurrent success already settled this Retryer; ignore.
			return nil, nil
		}

		if ce, ok := err.(*CancelledError); ok {
			return nil, ce
		}

		r.mu.Lock()
		retryCancelled := r.isRetryCancelled
		fcBefore := r.failureCount
		r.mu.Unlock()

		if retryCancelled || !r.cfg.Retry(fcBefore, err) {
			return nil, err
		}

		fc := r.bumpFailureCount()
		r.incrRetry()
		if r.cfg.OnFail != nil {
			r.cfg.OnFail(fc, err)
		}

		delay := r.cfg.RetryDelay(fc, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, r.cancelErr()
		}
	}
}

func (r *Retryer) bumpFailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureCount++
	return r.failureCount
}

// incrAttempt records one Fn invocation (first attempt or retry).
func (r *Retryer) incrAttempt() {
	if len(r.cfg.MetricKey) == 0 {
		return
	}
	r.cfg.Metrics.IncrCounter(r.cfg.MetricKey, 1)
}

// incrRetry records one scheduled retry, distinct from the attempt it leads
// to (which incrAttempt counts separately on the next loop iteration).
func (r *Retryer) incrRetry() {
	if len(r.cfg.MetricKey) == 0 {
		return
	}
	key := append(append([]string{}, r.cfg.MetricKey...), "retry")
	r.cfg.Metrics.IncrCounter(key, 1)
}
