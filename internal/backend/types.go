// Package backend talks to remote model gateways. Each model family has its
// own request/response shape; the invoker hides that behind a single Invoke
// call returning normalized output plus token usage.
package backend

import "context"

// Usage is the token accounting reported (or estimated) for one invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// InvokeRequest describes one model call.
type InvokeRequest struct {
	ModelID     string  `json:"model_id"`
	Prompt      string  `json:"prompt"`
	MaxOutput   int     `json:"max_output"`
	Temperature float64 `json:"temperature"`
}

// InvokeResult is the normalized outcome of a successful invocation.
type InvokeResult struct {
	Output string `json:"output"`
	Usage  Usage  `json:"usage"`
}

// Invoker executes a single model call. Implementations must return
// errors.TransientError for throttling so callers can retry, and
// errors.PermanentError for validation or authorization failures.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}
