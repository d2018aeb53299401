package tracking

import (
	"time"

	"backend-runhub/internal/run"
)

const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Record is a run as stored, or as seen live while it is still going.
type Record struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Summary   *run.Summary  `json:"summary,omitempty"`
	Failure   string        `json:"failure,omitempty"`
	Current   *run.Snapshot `json:"current,omitempty"`
}

// Outcome is what gets written when a run ends.
type Outcome struct {
	Status  string
	EndedAt time.Time
	Summary run.Summary
	Failure string
}

// statusOf maps a session state to a run status. streamErr is the error the
// run's snapshot stream ended with, if any.
func statusOf(s run.State, streamErr error) string {
	switch {
	case s == run.Running:
		return StatusActive
	case s == run.Paused:
		return StatusPaused
	case streamErr != nil:
		return StatusFailed
	default:
		return StatusFinished
	}
}
