package domain

import (
	"fmt"
	"time"
)

// Result is the outcome of delivering a batch to one sink, or the aggregate of
// several sinks. Counts measure delivery attempts, not unique events.
type Result struct {
	Success        bool     `json:"success"`
	ProcessedCount int      `json:"processed_count"`
	FailedCount    int      `json:"failed_count"`
	Errors         []string `json:"errors,omitempty"`
}

// SuccessResult reports n events delivered.
func SuccessResult(n int) Result {
	return Result{Success: true, ProcessedCount: n}
}

// FailedResult reports every one of n events as failed with err.
func FailedResult(n int, err error) Result {
	r := Result{Success: false, FailedCount: n}
	if err != nil {
		r.Errors = []string{err.Error()}
	}
	return r
}

// NotConfiguredResult is what an unconfigured sink returns instead of failing loudly.
func NotConfiguredResult(n int, sink string) Result {
	return FailedResult(n, fmt.Errorf("%s: %w", sink, ErrSinkNotConfigured))
}

// Add folds other into r. Success holds only while every folded result had no failures.
func (r *Result) Add(other Result) {
	r.ProcessedCount += other.ProcessedCount
	r.FailedCount += other.FailedCount
	r.Errors = append(r.Errors, other.Errors...)
	r.Success = r.FailedCount == 0
}

// ConnectivityStatus is the per-sink outcome of a connectivity check.
type ConnectivityStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// FlushTrigger identifies what started a flush.
type FlushTrigger string

const (
	TriggerThreshold FlushTrigger = "threshold"
	TriggerTimer     FlushTrigger = "timer"
	TriggerManual    FlushTrigger = "manual"
	TriggerShutdown  FlushTrigger = "shutdown"
)

// FlushReport describes one completed flush. Reports are published on the
// forwarder's report channel for operators and tooling.
type FlushReport struct {
	Trigger   FlushTrigger      `json:"trigger"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration_ns"`
	BatchSize int               `json:"batch_size"`
	Result    Result            `json:"result"`
	Sinks     map[string]Result `json:"sinks,omitempty"`
	Requeued  int               `json:"requeued"`
	Dropped   int               `json:"dropped"`
}
