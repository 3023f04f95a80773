// Package eventbus carries job-status transitions from the Job Runner
// to anything observing them: a Redis pub/sub channel for
// cross-process fan-out and an in-process SSE hub for the HTTP API's
// GET /logs/stream. Publishing here is purely observability — the
// runner never blocks a state transition on it succeeding.
package eventbus

import "time"

// Event is the payload published on every job status transition.
type Event struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	CurrentStage string    `json:"current_stage,omitempty"`
	Error        string    `json:"error,omitempty"`
	CostEstimate float64   `json:"cost_estimate,omitempty"`
	StageDetail  string    `json:"stage_detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
