package pipelineerrors

import "time"

// Failure is one persisted pipeline step failure, kept alongside the Analysis
// record so an auditor can see why a retry entry point was reached.
type Failure struct {
	ID         int64     `json:"id"`
	AnalysisID string    `json:"analysis_id"`
	Step       string    `json:"step"` // static | ai | report
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
