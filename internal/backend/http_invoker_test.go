package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"podium/internal/errors"
)

func TestFamily(t *testing.T) {
	tests := []struct {
		modelID string
		want    string
	}{
		{"anthropic.claude-sonnet-4-5-20250929-v1:0", "anthropic"},
		{"us.anthropic.claude-3-5-haiku-20241022-v1:0", "anthropic"},
		{"amazon.nova-pro-v1:0", "amazon"},
		{"eu.meta.llama3-3-70b-instruct-v1:0", "meta"},
		{"deepseek.r1-v1:0", "deepseek"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, family(tt.modelID), tt.modelID)
	}
}

func TestInvokeAnthropic(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/model/anthropic.claude-sonnet-4-5-20250929-v1:0/invoke", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"text": "hello "}, {"text": "world"}},
			"usage":   map[string]int{"input_tokens": 12, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "test-key", nil)
	result, err := inv.Invoke(context.Background(), InvokeRequest{
		ModelID:   "anthropic.claude-sonnet-4-5-20250929-v1:0",
		Prompt:    "say hello",
		MaxOutput: 256,
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Output)
	require.Equal(t, 12, result.Usage.InputTokens)
	require.Equal(t, 4, result.Usage.OutputTokens)
	require.Equal(t, "bedrock-2023-05-31", gotPayload["anthropic_version"])
}

func TestInvokeNova(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Contains(t, payload, "inferenceConfig")
		json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"message": map[string]any{
					"content": []map[string]any{{"text": "nova says hi"}},
				},
			},
			"usage": map[string]int{"inputTokens": 9, "outputTokens": 3},
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "", nil)
	result, err := inv.Invoke(context.Background(), InvokeRequest{ModelID: "amazon.nova-pro-v1:0", Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "nova says hi", result.Output)
	require.Equal(t, 9, result.Usage.InputTokens)
}

func TestInvokeOpenAIStyleDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "deep thought"}},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 2},
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "", nil)
	result, err := inv.Invoke(context.Background(), InvokeRequest{ModelID: "deepseek.r1-v1:0", Prompt: "think"})
	require.NoError(t, err)
	require.Equal(t, "deep thought", result.Output)
}

func TestInvokeEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"generation": "a generated answer with several words in it",
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "", nil)
	result, err := inv.Invoke(context.Background(), InvokeRequest{ModelID: "meta.llama3-3-70b-instruct-v1:0", Prompt: "generate"})
	require.NoError(t, err)
	require.Greater(t, result.Usage.InputTokens, 0)
	require.Greater(t, result.Usage.OutputTokens, 0)
}

func TestInvokeClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"throttled", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			}))
			defer srv.Close()

			inv := NewHTTPInvoker(srv.URL, "", nil)
			_, err := inv.Invoke(context.Background(), InvokeRequest{ModelID: "amazon.nova-lite-v1:0", Prompt: "x"})
			require.Error(t, err)
			require.Equal(t, tt.transient, errors.IsTransient(err))
			require.Equal(t, tt.status, errors.StatusCode(err))
		})
	}
}

func TestInvokeRejectsMissingModel(t *testing.T) {
	inv := NewHTTPInvoker("http://localhost:0", "", nil)
	_, err := inv.Invoke(context.Background(), InvokeRequest{Prompt: "x"})
	require.Error(t, err)
	require.False(t, errors.IsTransient(err))
}
