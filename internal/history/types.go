package history

import (
	"context"
	"time"
)

// Record is the audit trail entry for one finished stylization request.
// This is not conversation state: nothing here is ever read back into the
// request flow.
type Record struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	JobType     string    `json:"job_type"`
	AssetCount  int       `json:"asset_count"`
	Discarded   int       `json:"discarded"`
	Outcome     string    `json:"outcome"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

type Store interface {
	SaveRecord(ctx context.Context, record Record) error
	RecentByUser(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}
