// Package inference defines the contract with the stylization backend. The
// backend itself is opaque: it reads materialized inputs from a task's
// working directory, writes stylized outputs next to them, and may or may
// not honor cancellation promptly.
package inference

import (
	"context"

	"github.com/dkoval/atelier/internal/task"
)

// Engine runs one stylization job to completion and returns the produced
// result asset paths. Implementations must treat ctx as advisory: the
// supervisor independently discards results delivered after cancellation.
type Engine interface {
	Run(ctx context.Context, t *task.Task) ([]string, error)
}
