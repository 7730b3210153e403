package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podium/internal/errors"
	"podium/internal/logging"
	"podium/internal/pricing"
)

const defaultInvokeTimeout = 200 * time.Second

// HTTPInvoker sends invocation payloads to a model gateway over HTTP. The
// payload and response shapes depend on the model family encoded in the
// model id.
type HTTPInvoker struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

// NewHTTPInvoker creates an invoker against the given gateway base URL.
func NewHTTPInvoker(baseURL, apiKey string, logger logging.Logger) *HTTPInvoker {
	return &HTTPInvoker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultInvokeTimeout},
		logger:     logging.OrNop(logger),
	}
}

// Invoke sends one model call and normalizes the response.
func (inv *HTTPInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if req.ModelID == "" {
		return nil, errors.NewPermanentError(fmt.Errorf("model id is required"), "missing model id")
	}
	if req.MaxOutput <= 0 {
		req.MaxOutput = 4096
	}

	body, err := buildPayload(req)
	if err != nil {
		return nil, errors.NewPermanentError(err, "payload build failed")
	}

	url := fmt.Sprintf("%s/model/%s/invoke", inv.baseURL, req.ModelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if inv.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+inv.apiKey)
	}

	resp, err := inv.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	result, err := parseResponse(req.ModelID, respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", family(req.ModelID), err)
	}
	if result.Usage.InputTokens == 0 {
		result.Usage.InputTokens = pricing.EstimateTokens(req.Prompt)
	}
	if result.Usage.OutputTokens == 0 {
		result.Usage.OutputTokens = pricing.EstimateTokens(result.Output)
	}
	inv.logger.Debug("invoked %s: %d in / %d out tokens", req.ModelID, result.Usage.InputTokens, result.Usage.OutputTokens)
	return result, nil
}

// family extracts the vendor segment of a model id, ignoring region prefixes.
func family(modelID string) string {
	id := modelID
	for _, prefix := range []string{"us.", "eu.", "apac.", "global."} {
		id = strings.TrimPrefix(id, prefix)
	}
	if i := strings.Index(id, "."); i > 0 {
		return id[:i]
	}
	return id
}

func buildPayload(req InvokeRequest) ([]byte, error) {
	switch family(req.ModelID) {
	case "anthropic":
		return json.Marshal(map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        req.MaxOutput,
			"temperature":       req.Temperature,
			"messages": []map[string]any{
				{"role": "user", "content": req.Prompt},
			},
		})
	case "amazon":
		return json.Marshal(map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": []map[string]any{{"text": req.Prompt}}},
			},
			"inferenceConfig": map[string]any{
				"max_new_tokens": req.MaxOutput,
				"temperature":    req.Temperature,
			},
		})
	case "meta":
		return json.Marshal(map[string]any{
			"prompt":      req.Prompt,
			"max_gen_len": req.MaxOutput,
			"temperature": req.Temperature,
		})
	default:
		return json.Marshal(map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": req.Prompt},
			},
			"max_tokens":  req.MaxOutput,
			"temperature": req.Temperature,
		})
	}
}

func parseResponse(modelID string, body []byte) (*InvokeResult, error) {
	switch family(modelID) {
	case "anthropic":
		var parsed struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, block := range parsed.Content {
			sb.WriteString(block.Text)
		}
		return &InvokeResult{
			Output: sb.String(),
			Usage:  Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens},
		}, nil
	case "amazon":
		var parsed struct {
			Output struct {
				Message struct {
					Content []struct {
						Text string `json:"text"`
					} `json:"content"`
				} `json:"message"`
			} `json:"output"`
			Usage struct {
				InputTokens  int `json:"inputTokens"`
				OutputTokens int `json:"outputTokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, block := range parsed.Output.Message.Content {
			sb.WriteString(block.Text)
		}
		return &InvokeResult{
			Output: sb.String(),
			Usage:  Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens},
		}, nil
	case "meta":
		var parsed struct {
			Generation           string `json:"generation"`
			PromptTokenCount     int    `json:"prompt_token_count"`
			GenerationTokenCount int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		return &InvokeResult{
			Output: parsed.Generation,
			Usage:  Usage{InputTokens: parsed.PromptTokenCount, OutputTokens: parsed.GenerationTokenCount},
		}, nil
	default:
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("response contains no choices")
		}
		return &InvokeResult{
			Output: parsed.Choices[0].Message.Content,
			Usage:  Usage{InputTokens: parsed.Usage.PromptTokens, OutputTokens: parsed.Usage.CompletionTokens},
		}, nil
	}
}

// classifyStatus maps a non-200 gateway response onto the retryable/fatal
// error taxonomy. Only throttling and server-side failures are transient.
func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	base := fmt.Errorf("gateway returned %d: %s", status, msg)
	switch {
	case status == http.StatusTooManyRequests:
		return &errors.TransientError{Err: base, StatusCode: status, Message: "throttled by gateway"}
	case status >= 500:
		return &errors.TransientError{Err: base, StatusCode: status, Message: "gateway server error"}
	default:
		return &errors.PermanentError{Err: base, StatusCode: status, Message: "gateway rejected request"}
	}
}
