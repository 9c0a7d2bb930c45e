package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithOptions("test-key", srv.URL+"/", ClientOptions{
		ModelID:           "meta/test-model",
		RequestsPerSecond: 1000,
		Burst:             100,
		RetryConfig:       fastRetry(),
	})
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-key", "https://integrate.api.nvidia.com/v1/")
	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if client.baseURL != "https://integrate.api.nvidia.com/v1" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
	}
	if client.httpClient == nil || client.httpClient.Timeout != defaultTimeout {
		t.Errorf("unexpected http client: %+v", client.httpClient)
	}
	if client.CircuitBreakerState() != "closed" {
		t.Errorf("breaker state = %s, want closed", client.CircuitBreakerState())
	}
}

func TestClient_ChatCompletion(t *testing.T) {
	var gotReq ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{
			ID: "chatcmpl-1",
			Choices: []Choice{{
				Message: Message{Role: "assistant", Content: `{"thought":"ok"}`},
			}},
		})
	})

	resp, err := client.ChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if gotReq.Model != "meta/test-model" {
		t.Errorf("model = %q, want default model", gotReq.Model)
	}
	if gotReq.Stream {
		t.Error("stream should be forced off")
	}
	text, ok := resp.Text()
	if !ok || text != `{"thought":"ok"}` {
		t.Errorf("Text() = %q, %v", text, ok)
	}
}

func TestClient_ChatCompletionCredentialRejected(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Authentication failed","type":"auth"}}`))
	})

	_, err := client.ChatCompletion(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("auth errors must not be retried, got %d calls", calls.Load())
	}
	if !errors.Is(err, ErrCredentialRejected) {
		t.Errorf("expected ErrCredentialRejected in chain: %v", err)
	}
	if !bberrors.IsCode(err, bberrors.ErrCodeModelAuth) {
		t.Errorf("expected MODEL_AUTH code: %v", err)
	}
	if got := bberrors.Describe(err); got != "credential rejected" {
		t.Errorf("Describe = %q, want credential rejected", got)
	}
	if client.circuitBreaker.FailureCount() != 0 {
		t.Error("auth errors should not trip the breaker")
	}
}

func TestClient_ChatCompletionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{Choices: []Choice{{Message: Message{Content: "done"}}}})
	})

	resp, err := client.ChatCompletion(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if text, _ := resp.Text(); text != "done" {
		t.Errorf("text = %q", text)
	}
}

func TestClient_ChatCompletionRetriesExhausted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.ChatCompletion(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !bberrors.IsCode(err, bberrors.ErrCodeModelRateLimit) {
		t.Errorf("expected MODEL_RATE_LIMIT, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected wrapped APIError 429, got %v", err)
	}
}

func TestClient_ChatCompletionEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	})

	_, err := client.ChatCompletion(context.Background(), ChatRequest{})
	if !bberrors.IsCode(err, bberrors.ErrCodeModelAPIError) {
		t.Fatalf("expected MODEL_API_ERROR, got %v", err)
	}
}

func TestClient_ChatCompletionCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.ChatCompletion(ctx, ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter('') = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", got)
	}
}

func TestCalculateRetryDelayHonorsRetryAfter(t *testing.T) {
	client := NewClientWithOptions("k", "http://x", ClientOptions{RetryConfig: fastRetry()})
	got := client.calculateRetryDelay(0, &APIError{StatusCode: 429, RetryAfter: time.Hour})
	if got != 5*time.Millisecond {
		t.Errorf("delay = %v, want capped at MaxInterval", got)
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"string", Message{Content: "hello"}, "hello"},
		{"nil", Message{}, ""},
		{"parts", Message{Content: []ContentPart{TextPart("a"), PNGPart("xx"), TextPart("b")}}, "ab"},
		{"decoded parts", Message{Content: []any{
			map[string]any{"type": "text", "text": "x"},
			map[string]any{"type": "image_url"},
		}}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory("https://example.test/v1", ClientOptions{ModelID: "m"})
	if _, err := f.NewClient("  "); !bberrors.IsCode(err, bberrors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for blank credential, got %v", err)
	}
	c, err := f.NewClient("k1")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.apiKey != "k1" || c.ModelID() != "m" {
		t.Errorf("unexpected client: key=%q model=%q", c.apiKey, c.ModelID())
	}
}

func TestFactorySharesCircuitBreakerAcrossClients(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := NewFactory(srv.URL, ClientOptions{
		ModelID:              "m",
		RequestsPerSecond:    1000,
		Burst:                100,
		RetryConfig:          &RetryConfig{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		CircuitBreakerConfig: &CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute},
	})

	// Each run binds its own client; failures still accumulate on the endpoint.
	for i, key := range []string{"k1", "k2"} {
		c, err := f.NewClient(key)
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		if _, err := c.ChatCompletion(context.Background(), ChatRequest{}); err == nil {
			t.Fatalf("request %d: expected error", i)
		}
	}
	if got := f.CircuitBreakerState(); got != "open" {
		t.Fatalf("breaker state = %s, want open", got)
	}

	c, err := f.NewClient("k3")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.ChatCompletion(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("endpoint calls = %d, want 2 (open breaker must not call out)", calls.Load())
	}
}

func TestFactorySharesRateLimiter(t *testing.T) {
	f := NewFactory("https://example.test/v1", ClientOptions{ModelID: "m", RequestsPerSecond: 1, Burst: 1})
	a, _ := f.NewClient("k1")
	b, _ := f.NewClient("k2")
	if a.rateLimiter != b.rateLimiter || a.circuitBreaker != b.circuitBreaker || a.httpClient != b.httpClient {
		t.Fatal("clients from one factory must share limiter, breaker and HTTP client")
	}
	if !a.rateLimiter.Allow() {
		t.Fatal("first token should be available")
	}
	if b.rateLimiter.Allow() {
		t.Error("second client should see the token spent by the first")
	}
}
