package domain

import (
	"context"
	"errors"
	"time"
)

// RunStatus describes how a run ended.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// Outcome is the result of one run as exposed to the host application.
type Outcome struct {
	RunID      string         `json:"run_id"`
	Pipeline   string         `json:"pipeline,omitempty"`
	Status     RunStatus      `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	FailedNode string         `json:"failed_node,omitempty"`
	Error      string         `json:"error,omitempty"`
	Causes     []string       `json:"causes,omitempty"`
	History    []HistoryEntry `json:"history,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// Succeeded reports whether the run completed without error.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == StatusSucceeded
}

// Fail fills the failure fields of the outcome from a run error.
func (o *Outcome) Fail(err error) {
	o.Status = StatusFailed
	o.Error = err.Error()
	o.Causes = CauseChain(err)

	var gerr *GraphExecutionError
	if errors.As(err, &gerr) {
		o.FailedNode = gerr.Node
	}
	var cancelErr *CancellationTimeoutError
	if errors.Is(err, context.Canceled) && !errors.As(err, &cancelErr) {
		o.Status = StatusCanceled
	}
}
