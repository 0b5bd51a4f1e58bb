package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare base", "http://localhost:11434/v1", "http://localhost:11434/v1/chat/completions"},
		{"trailing slash", "http://localhost:11434/v1/", "http://localhost:11434/v1/chat/completions"},
		{"already full", "http://host/v1/chat/completions", "http://host/v1/chat/completions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildURL(tt.in))
		})
	}
}

func TestCompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Write([]byte(`{
			"model": "test-model",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1", "test-model")
	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestCompleteRequiresMessages(t *testing.T) {
	c := NewClient("http://localhost:11434/v1", "m")
	_, err := c.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestCompleteRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", WithRetryConfig(RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        time.Millisecond,
	}))
	resp, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteFatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m")
	_, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsTransient(classifyHTTPError(429, nil)))
	assert.True(t, IsTransient(classifyHTTPError(503, nil)))
	assert.True(t, IsFatal(classifyHTTPError(401, nil)))
	assert.True(t, IsFatal(classifyHTTPError(400, nil)))
}
