// Package supervisor arbitrates access to the shared worker pool. It
// guarantees at most one in-flight computation per user, cooperative
// cancellation with a single unambiguous terminal outcome per submission,
// and exactly-once release of each submitted job's resources on every exit
// path.
package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkoval/atelier/internal/inference"
	"github.com/dkoval/atelier/internal/stylize"
	"github.com/dkoval/atelier/internal/workerpool"
)

// ErrRequestInFlight is returned by Submit while the user's previous handle
// is still live. Supersession is the caller's responsibility: cancel the
// existing handle and await its terminal outcome before resubmitting.
var ErrRequestInFlight = errors.New("a request is already in flight for this user")

// Resource owns externally held state (a task working directory) that must
// be reclaimed exactly once per submission. Done must be idempotent.
type Resource interface {
	Done() error
}

// Compute runs the backend computation and returns the loaded result
// assets. It is invoked on the worker pool; ctx carries the cancellation
// signal, which the computation may ignore. Results must not reference the
// task working directory: the supervisor releases it before the outcome is
// delivered.
type Compute func(ctx context.Context) ([]stylize.ResultAsset, error)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	Cancelled
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal signal of one submission.
type Outcome struct {
	Kind      OutcomeKind
	Results   []stylize.ResultAsset
	ErrorKind inference.Kind
	Err       error
}

// Handle is the awaitable reference to one in-flight computation.
type Handle struct {
	userID  string
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Await blocks until the computation reaches its terminal outcome or ctx
// expires. The handle's outcome is decided exactly once regardless of how
// many callers await it.
func (h *Handle) Await(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Terminated returns a channel closed when the handle reaches a terminal
// outcome.
func (h *Handle) Terminated() <-chan struct{} { return h.done }

type Supervisor struct {
	pool   *workerpool.Pool
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*Handle
}

func New(pool *workerpool.Pool, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		pool:     pool,
		logger:   logger,
		inflight: make(map[string]*Handle),
	}
}

// Submit atomically claims the user's slot and enqueues the computation on
// the worker pool. It returns immediately; the result is awaited through
// the handle. A live handle for the same user fails the submission.
func (s *Supervisor) Submit(userID string, res Resource, compute Compute) (*Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		userID: userID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if _, exists := s.inflight[userID]; exists {
		s.mu.Unlock()
		cancel()
		return nil, ErrRequestInFlight
	}
	s.inflight[userID] = h
	s.mu.Unlock()

	go s.run(ctx, h, res, compute)
	return h, nil
}

// Cancel requests cooperative cancellation of the user's current handle and
// reports whether one existed. Holding the registry lock while signalling
// makes the cancel/terminal race exact: a Cancel that found a handle is
// observed by that handle's terminal path, so the reported outcome is
// Cancelled even if the backend had already produced a result.
func (s *Supervisor) Cancel(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.inflight[userID]
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// InFlight returns the live handle for a user, if any.
func (s *Supervisor) InFlight(userID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.inflight[userID]
	return h, ok
}

// InFlightCount returns the number of live handles across all users.
func (s *Supervisor) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Supervisor) run(ctx context.Context, h *Handle, res Resource, compute Compute) {
	defer h.cancel()

	var results []stylize.ResultAsset
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		r, computeErr := compute(ctx)
		results = r
		return computeErr
	})

	// The outcome decision and the registry removal share one critical
	// section with Cancel: any cancel that found this handle registered
	// has already cancelled ctx by the time we get the lock, and any
	// cancel arriving later finds the registry empty. The removal guard
	// keeps a superseding handle's entry intact.
	s.mu.Lock()
	outcome := normalize(ctx, err, results)
	if s.inflight[h.userID] == h {
		delete(s.inflight, h.userID)
	}
	s.mu.Unlock()

	if cleanupErr := res.Done(); cleanupErr != nil {
		// The backend may still hold the directory open; the release is
		// logged and swallowed, never surfaced in the awaited outcome.
		s.logger.Warn().
			Err(cleanupErr).
			Str("user_id", h.userID).
			Msg("task cleanup failed")
	}

	s.logger.Debug().
		Str("user_id", h.userID).
		Str("outcome", outcome.Kind.String()).
		Msg("computation reached terminal outcome")

	h.outcome = outcome
	close(h.done)
}

func normalize(ctx context.Context, err error, results []stylize.ResultAsset) Outcome {
	if ctx.Err() != nil {
		// Late results are discarded: one unambiguous terminal signal.
		return Outcome{Kind: Cancelled}
	}
	if err != nil {
		return Outcome{Kind: Failed, ErrorKind: inference.KindOf(err), Err: err}
	}
	return Outcome{Kind: Success, Results: results}
}
