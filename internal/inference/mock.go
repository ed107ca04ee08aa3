package inference

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkoval/atelier/internal/task"
)

// MockEngine is a local fallback backend used when no stylization binary is
// configured, and the workhorse of the lifecycle tests. It copies the input
// assets into the results directory unchanged.
type MockEngine struct {
	mu sync.Mutex
	// Err, when set, is returned instead of producing results.
	err error
	// gate, when set, blocks Run until released or the ctx is cancelled.
	gate chan struct{}
}

func NewMockEngine() *MockEngine { return &MockEngine{} }

// FailWith makes subsequent runs fail with err.
func (e *MockEngine) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Block makes subsequent runs wait; the returned func releases them.
func (e *MockEngine) Block() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gate = gate
	e.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (e *MockEngine) Run(ctx context.Context, t *task.Task) ([]string, error) {
	e.mu.Lock()
	gate := e.gate
	failure := e.err
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}

	entries, err := os.ReadDir(t.InputDir())
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.InputDir(), entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(t.ResultsDir(), entry.Name()), data, 0o644); err != nil {
			return nil, err
		}
	}
	return t.Results()
}
