package dto

import "time"

// RunRequest selects the batches of a project and the model for one detection run.
type RunRequest struct {
	UserID    int64 // progress goes to this user's viewers; zero means everyone
	ProjectID int64
	BatchIDs  []int64
	ModelName string
}

// RunState is the lifecycle state of a detection run.
type RunState string

const (
	RunNotStarted RunState = "not_started"
	RunRunning    RunState = "running"
	RunCompleted  RunState = "completed"
	RunAborted    RunState = "aborted"
	RunCancelled  RunState = "cancelled"
)

// RunOutcome summarizes a detection run.
type RunOutcome struct {
	RunID             string    `json:"runId"`
	State             RunState  `json:"state"`
	Total             int       `json:"total"`
	Processed         int       `json:"processed"`
	Skipped           int       `json:"skipped"`
	DetectionsWritten int       `json:"detectionsWritten"`
	SkippedImageIDs   []int64   `json:"skippedImageIds,omitempty"`
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
	// Err aggregates the per-image failures of a completed run.
	Err error `json:"-"`
}
