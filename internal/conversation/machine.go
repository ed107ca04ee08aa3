// Package conversation holds the per-user finite state machine for the
// stylization request flow. It is pure state: no I/O, no locking, no
// knowledge of transports or backends. Callers are responsible for
// serializing access to a Machine.
package conversation

import (
	"errors"

	"github.com/dkoval/atelier/internal/stylize"
)

// State is where a user currently is in the request flow.
type State int

const (
	Idle State = iota
	ChoosingJobType
	CollectingAssets
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ChoosingJobType:
		return "choosing_job_type"
	case CollectingAssets:
		return "collecting_assets"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// ErrWrongState reports an event that is not valid in the machine's current
// state. It is a recoverable validation outcome, never fatal.
var ErrWrongState = errors.New("event not valid in current state")

// Machine tracks one user's request flow. The zero value is not usable;
// construct with New.
type Machine struct {
	state      State
	jobType    stylize.JobType
	buffer     []stylize.AssetRecord
	generation uint64
}

func New() *Machine {
	return &Machine{state: Idle}
}

func (m *Machine) State() State             { return m.state }
func (m *Machine) JobType() stylize.JobType { return m.jobType }
func (m *Machine) AssetCount() int          { return len(m.buffer) }

// Generation identifies the request currently in Processing. A pipeline
// holds the generation it started with so a stale terminal outcome cannot
// clobber the state of a newer request.
func (m *Machine) Generation() uint64 { return m.generation }

// Begin starts a new request flow: Idle -> ChoosingJobType.
func (m *Machine) Begin() error {
	if m.state != Idle {
		return ErrWrongState
	}
	m.state = ChoosingJobType
	return nil
}

// Select records the chosen job type and opens an empty request buffer:
// ChoosingJobType -> CollectingAssets.
func (m *Machine) Select(t stylize.JobType) error {
	if m.state != ChoosingJobType {
		return ErrWrongState
	}
	m.jobType = t
	m.buffer = nil
	m.state = CollectingAssets
	return nil
}

// AddAsset appends a validated asset to the request buffer and returns the
// new buffer length. Format validation happens at ingestion, before the
// machine is involved.
func (m *Machine) AddAsset(rec stylize.AssetRecord) (int, error) {
	if m.state != CollectingAssets {
		return 0, ErrWrongState
	}
	m.buffer = append(m.buffer, rec)
	return len(m.buffer), nil
}

// PlanSubmit evaluates the capacity rule against the current buffer without
// mutating state. ok is false when the buffer is not submittable; the
// machine then stays in CollectingAssets.
func (m *Machine) PlanSubmit(limit int) (stylize.TrimPlan, bool, error) {
	if m.state != CollectingAssets {
		return stylize.TrimPlan{}, false, ErrWrongState
	}
	plan, ok := stylize.PlanSubmit(m.jobType, len(m.buffer), limit)
	return plan, ok, nil
}

// BeginProcessing applies a trim plan, consumes the buffer, and moves to
// Processing. It returns the retained assets in insertion order and the
// generation identifying this request.
func (m *Machine) BeginProcessing(plan stylize.TrimPlan) ([]stylize.AssetRecord, uint64, error) {
	if m.state != CollectingAssets {
		return nil, 0, ErrWrongState
	}
	if plan.Keep <= 0 || plan.Keep > len(m.buffer) {
		return nil, 0, ErrWrongState
	}
	assets := m.buffer[:plan.Keep]
	m.buffer = nil
	m.generation++
	m.state = Processing
	return assets, m.generation, nil
}

// FinishProcessing returns the machine to Idle after a terminal outcome of
// the request identified by gen. It reports whether the transition applied;
// a stale generation (the request was superseded) is a no-op.
func (m *Machine) FinishProcessing(gen uint64) bool {
	if m.state != Processing || m.generation != gen {
		return false
	}
	m.state = Idle
	m.buffer = nil
	return true
}

// Reset moves to Idle from any state, destroying the request buffer. It
// reports whether the machine was in Processing, in which case the caller
// must also request cancellation of the in-flight computation.
func (m *Machine) Reset() (wasProcessing bool) {
	wasProcessing = m.state == Processing
	m.state = Idle
	m.buffer = nil
	return wasProcessing
}
