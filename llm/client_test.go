package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semdilemma/llm"
	_ "github.com/c360studio/semdilemma/llm/providers"
	"github.com/c360studio/semdilemma/model"
)

var fastRetry = llm.RetryConfig{
	MaxAttempts:       3,
	BackoffBase:       time.Millisecond,
	BackoffMultiplier: 1.5,
	MaxBackoff:        10 * time.Millisecond,
}

func writeChat(w http.ResponseWriter, modelName, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model": modelName,
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
	})
}

// registryFor builds a registry whose reviewing capability walks the given
// endpoints in order.
func registryFor(urls ...string) *model.Registry {
	names := make([]string, len(urls))
	endpoints := make(map[string]*model.EndpointConfig, len(urls))
	for i, u := range urls {
		names[i] = "m" + string(rune('a'+i))
		endpoints[names[i]] = &model.EndpointConfig{Provider: "ollama", URL: u, Model: names[i]}
	}
	return model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityReviewing: {Preferred: names[:1], Fallback: names[1:]},
		},
		endpoints,
	)
}

func reviewRequest() llm.Request {
	return llm.Request{
		Capability: "reviewing",
		Messages:   []llm.Message{{Role: "user", Content: "Review this vignette."}},
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeChat(w, "ma", `{"verdicts": []}`)
	}))
	defer server.Close()

	client := llm.NewClient(registryFor(server.URL))
	resp, err := client.Complete(context.Background(), reviewRequest())

	require.NoError(t, err)
	assert.Equal(t, `{"verdicts": []}`, resp.Content)
	assert.Equal(t, "ma", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
}

func TestClient_Complete_RetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attempts.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			writeChat(w, "ma", "ok")
		}
	}))
	defer server.Close()

	client := llm.NewClient(registryFor(server.URL), llm.WithRetryConfig(fastRetry))
	resp, err := client.Complete(context.Background(), reviewRequest())

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Complete_FatalStopsImmediately(t *testing.T) {
	var primary, secondary atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primary.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondary.Add(1)
		writeChat(w, "mb", "ok")
	}))
	defer good.Close()

	client := llm.NewClient(registryFor(bad.URL, good.URL), llm.WithRetryConfig(fastRetry))
	_, err := client.Complete(context.Background(), reviewRequest())

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.False(t, llm.IsRetryable(err))
	assert.Equal(t, int32(1), primary.Load())
	assert.Equal(t, int32(0), secondary.Load())
}

func TestClient_Complete_FallsBack(t *testing.T) {
	var primary, secondary atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primary.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondary.Add(1)
		writeChat(w, "mb", "from fallback")
	}))
	defer up.Close()

	retry := fastRetry
	retry.MaxAttempts = 2
	registry := registryFor(down.URL, up.URL)
	client := llm.NewClient(registry, llm.WithRetryConfig(retry))

	resp, err := client.Complete(context.Background(), reviewRequest())
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, int32(2), primary.Load())
	assert.Equal(t, int32(1), secondary.Load())

	h := registry.GetEndpointHealth("ma")
	require.NotNil(t, h)
	assert.Equal(t, 1, h.FailureCount)
}

func TestClient_Complete_AllEndpointsDownIsTransient(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	client := llm.NewClient(registryFor(down.URL), llm.WithRetryConfig(fastRetry))
	_, err := client.Complete(context.Background(), reviewRequest())

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Contains(t, err.Error(), "all endpoints failed")
}

func TestClient_Complete_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := llm.NewClient(registryFor(server.URL), llm.WithRetryConfig(fastRetry))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, reviewRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_Complete_ValidationErrors(t *testing.T) {
	client := llm.NewClient(model.NewDefaultRegistry())

	_, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability is required")

	_, err = client.Complete(context.Background(), llm.Request{Capability: "fast"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one message is required")
}

func TestClient_Complete_ObserverSeesRunID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChat(w, "ma", "ok")
	}))
	defer server.Close()

	var mu sync.Mutex
	var records []llm.CallRecord
	client := llm.NewClient(registryFor(server.URL), llm.WithCallObserver(func(rec llm.CallRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, rec)
	}))

	ctx := llm.WithRunID(context.Background(), "run-42")
	resp, err := client.Complete(ctx, reviewRequest())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, records, 1)
	assert.Equal(t, "run-42", records[0].RunID)
	assert.Equal(t, resp.RequestID, records[0].RequestID)
	assert.Equal(t, "ma", records[0].Model)
	assert.Equal(t, "ollama", records[0].Provider)
	assert.NoError(t, records[0].Err)
}
