package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/dkoval/atelier/internal/stylize"
)

// Task is one submitted stylization job: a job type plus an exclusively
// owned working directory holding the materialized input assets and,
// after the backend has run, the result assets.
type Task struct {
	ID      string
	JobType stylize.JobType
	UserID  string

	root string

	mu       sync.Mutex
	released bool
}

// New allocates an isolated working directory under baseDir with input and
// results areas. The directory name is the task ID.
func New(baseDir string, jobType stylize.JobType, userID string) (*Task, error) {
	id := uuid.NewString()
	root := filepath.Join(baseDir, id)
	for _, dir := range []string{filepath.Join(root, "input"), filepath.Join(root, "results")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("task: allocate working dir: %w", err)
		}
	}
	return &Task{
		ID:      id,
		JobType: jobType,
		UserID:  userID,
		root:    root,
	}, nil
}

// WorkDir is the task's exclusive root directory.
func (t *Task) WorkDir() string { return t.root }

// InputDir holds the materialized input assets.
func (t *Task) InputDir() string { return filepath.Join(t.root, "input") }

// ResultsDir holds whatever the backend produced.
func (t *Task) ResultsDir() string { return filepath.Join(t.root, "results") }

var ErrReleased = errors.New("task already released")

// WriteAsset materializes one asset at the given buffer position. Position
// order is significant: pair-based job types read even indexes as targets
// and odd indexes as style sources.
func (t *Task) WriteAsset(i int, rec stylize.AssetRecord) error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return ErrReleased
	}
	t.mu.Unlock()

	path := filepath.Join(t.InputDir(), strconv.Itoa(i)+rec.Format.Ext())
	if err := os.WriteFile(path, rec.Data, 0o644); err != nil {
		return fmt.Errorf("task: write asset %d: %w", i, err)
	}
	return nil
}

// Results lists the produced asset paths in name order.
func (t *Task) Results() ([]string, error) {
	entries, err := os.ReadDir(t.ResultsDir())
	if err != nil {
		return nil, fmt.Errorf("task: list results: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, filepath.Join(t.ResultsDir(), e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Done releases the working directory. It is safe to call any number of
// times; only the first call attempts the removal. A removal failure (the
// backend may still hold the directory open) is returned to be logged, but
// the task counts as released either way.
func (t *Task) Done() error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return nil
	}
	t.released = true
	t.mu.Unlock()

	if err := os.RemoveAll(t.root); err != nil {
		return fmt.Errorf("task: release working dir: %w", err)
	}
	return nil
}

// Released reports whether Done has been called.
func (t *Task) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
