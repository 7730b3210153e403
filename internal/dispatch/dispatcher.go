package dispatch

import (
	"context"
	goerrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"podium/internal/backend"
	"podium/internal/errors"
	"podium/internal/logging"
	"podium/internal/pricing"
)

// Dispatcher executes batches of CallRequests against a backend invoker.
// It is safe for concurrent use and holds no state across batches.
type Dispatcher struct {
	invoker backend.Invoker
	retry   errors.RetryConfig
	logger  logging.Logger
	metrics *Metrics
}

// NewDispatcher creates a dispatcher over the given invoker.
func NewDispatcher(invoker backend.Invoker, retry errors.RetryConfig, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		invoker: invoker,
		retry:   retry,
		logger:  logging.OrNop(logger),
		metrics: DefaultMetrics(),
	}
}

// Run executes every request with at most `workers` in flight and returns
// exactly one result per request, sorted by sequence index. No request is
// dropped: cancellation and failures surface as failed results.
func (d *Dispatcher) Run(ctx context.Context, requests []CallRequest, workers int) []CallResult {
	results := make([]CallResult, 0, len(requests))
	ch := make(chan CallResult, len(requests))
	d.runToChannel(ctx, requests, workers, ch)
	for r := range ch {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].SequenceIndex < results[j].SequenceIndex
	})
	return results
}

// runToChannel fans the batch out over a bounded pool, writing each result to
// ch as it completes, and closes ch when the batch is done.
func (d *Dispatcher) runToChannel(ctx context.Context, requests []CallRequest, workers int, ch chan<- CallResult) {
	if len(requests) == 0 {
		close(ch)
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(requests) {
		workers = len(requests)
	}

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	go func() {
		for _, req := range requests {
			if err := sem.Acquire(ctx, 1); err != nil {
				ch <- cancelledResult(req, err)
				continue
			}
			wg.Add(1)
			go func(req CallRequest) {
				defer wg.Done()
				defer sem.Release(1)
				ch <- d.executeOne(ctx, req)
			}(req)
		}
		wg.Wait()
		close(ch)
	}()
}

// executeOne runs one request through the retry policy. Latency covers the
// whole lifetime of the request, backoff waits included.
func (d *Dispatcher) executeOne(ctx context.Context, req CallRequest) CallResult {
	start := time.Now()
	d.metrics.inFlight(1)
	defer d.metrics.inFlight(-1)

	attempt := 0
	invoked, err := errors.RetryWithResult(ctx, d.retry, d.logger, func(ctx context.Context) (*backend.InvokeResult, error) {
		attempt++
		if attempt > 1 {
			d.metrics.recordRetry(req.BackendID)
		}
		return d.invoker.Invoke(ctx, backend.InvokeRequest{
			ModelID:     req.BackendID,
			Prompt:      req.Payload,
			MaxOutput:   req.MaxOutput,
			Temperature: req.Temperature,
		})
	})

	latency := time.Since(start)
	result := CallResult{
		SequenceIndex: req.SequenceIndex,
		BackendID:     req.BackendID,
		Latency:       latency,
		Timestamp:     time.Now().UTC(),
	}

	if err != nil {
		kind := classifyError(err)
		result.ErrorKind = kind
		result.Error = err.Error()
		d.metrics.observeCall(req.BackendID, "failure", latency.Seconds())
		d.metrics.recordFailure(req.BackendID, kind)
		d.logger.Warn("call %d to %s failed after %v: %v", req.SequenceIndex, req.BackendID, latency, err)
		return result
	}

	cost := pricing.Calculate(req.BackendID, invoked.Usage.InputTokens, invoked.Usage.OutputTokens)
	result.Success = true
	result.Output = invoked.Output
	result.InputTokens = invoked.Usage.InputTokens
	result.OutputTokens = invoked.Usage.OutputTokens
	result.CostEstimate = cost.TotalCost
	d.metrics.observeCall(req.BackendID, "success", latency.Seconds())
	return result
}

func cancelledResult(req CallRequest, err error) CallResult {
	return CallResult{
		SequenceIndex: req.SequenceIndex,
		BackendID:     req.BackendID,
		ErrorKind:     ErrKindCancelled,
		Error:         err.Error(),
		Timestamp:     time.Now().UTC(),
	}
}

// classifyError maps the error taxonomy onto wire-level error kinds.
func classifyError(err error) ErrorKind {
	var exhausted *errors.RetriesExhaustedError
	if goerrors.As(err, &exhausted) {
		return ErrKindRetriesExhausted
	}
	if goerrors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	if errors.IsTimeout(err) {
		return ErrKindTimeout
	}
	switch errors.StatusCode(err) {
	case http.StatusTooManyRequests:
		return ErrKindThrottled
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrKindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrKindAuthorization
	case http.StatusNotFound:
		return ErrKindNotFound
	}
	return ErrKindUnknown
}
