package inference

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dkoval/atelier/internal/task"
)

// CommandEngine shells out to an external stylization binary. The binary is
// invoked as:
//
//	<binary> --job <shortcut> --input <dir> --output <dir>
//
// and is expected to write result assets into the output directory. Known
// size failures are reported through well-known markers on stderr.
type CommandEngine struct {
	binaryPath string
	timeout    time.Duration
}

func NewCommandEngine(binaryPath string, timeout time.Duration) *CommandEngine {
	return &CommandEngine{binaryPath: strings.TrimSpace(binaryPath), timeout: timeout}
}

func (e *CommandEngine) Run(ctx context.Context, t *task.Task) ([]string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	args := []string{
		"--job", t.JobType.Shortcut(),
		"--input", t.InputDir(),
		"--output", t.ResultsDir(),
	}
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of
			// context cancellation.
			return nil, ctx.Err()
		}
		return nil, classifyCommandFailure(err, stderr.String())
	}
	return t.Results()
}

func classifyCommandFailure(err error, stderr string) error {
	text := strings.ToLower(stderr)
	switch {
	case strings.Contains(text, "image too big"):
		return fmt.Errorf("%w: %s", ErrImageTooBig, firstLine(stderr))
	case strings.Contains(text, "image too small"):
		return fmt.Errorf("%w: %s", ErrImageTooSmall, firstLine(stderr))
	}
	if line := firstLine(stderr); line != "" {
		return fmt.Errorf("stylize command failed: %w: %s", err, line)
	}
	return fmt.Errorf("stylize command failed: %w", err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
