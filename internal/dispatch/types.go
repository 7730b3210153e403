// Package dispatch fans a batch of model calls out over a bounded worker
// pool and collects one result per request. The dispatcher itself holds no
// state between batches.
package dispatch

import (
	"time"
)

// ErrorKind classifies a failed call for downstream consumers.
type ErrorKind string

const (
	ErrKindThrottled        ErrorKind = "throttled"
	ErrKindValidation       ErrorKind = "validation"
	ErrKindAuthorization    ErrorKind = "authorization"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindRetriesExhausted ErrorKind = "retries_exhausted"
	ErrKindCancelled        ErrorKind = "cancelled"
	ErrKindUnknown          ErrorKind = "unknown"
)

// CallRequest is one unit of work for a model backend. Immutable once
// submitted; SequenceIndex preserves the caller's ordering across the
// nondeterministic completion order of the pool.
type CallRequest struct {
	BackendID     string  `json:"backend_id"`
	Payload       string  `json:"payload"`
	MaxOutput     int     `json:"max_output"`
	Temperature   float64 `json:"temperature"`
	SequenceIndex int     `json:"sequence_index"`
}

// CallResult is the outcome of exactly one CallRequest. Latency spans from
// the first attempt to the final outcome, retries and backoff included.
type CallResult struct {
	SequenceIndex int           `json:"sequence_index"`
	BackendID     string        `json:"backend_id"`
	Success       bool          `json:"success"`
	Output        string        `json:"output,omitempty"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
	Latency       time.Duration `json:"latency_ms"`
	CostEstimate  float64       `json:"cost_estimate"`
	InputTokens   int           `json:"input_tokens,omitempty"`
	OutputTokens  int           `json:"output_tokens,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Summary aggregates a completed batch.
type Summary struct {
	TotalCalls   int           `json:"total_calls"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	TotalCost    float64       `json:"total_cost"`
	TotalTime    time.Duration `json:"total_time_ms"`
}

// Summarize computes batch totals from a result set.
func Summarize(results []CallResult, elapsed time.Duration) Summary {
	s := Summary{TotalCalls: len(results), TotalTime: elapsed}
	for _, r := range results {
		if r.Success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		s.TotalCost += r.CostEstimate
	}
	return s
}
