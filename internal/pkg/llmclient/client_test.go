package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"embedguard/internal/core"
)

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"hello"}`))
	}))
	defer server.Close()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)

	var result struct {
		Message string `json:"message"`
	}
	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	}, &result)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Message != "hello" {
		t.Errorf("expected message 'hello', got '%s'", result.Message)
	}
}

func TestClient_Do_WithRequestBody(t *testing.T) {
	var receivedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got '%s'", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &receivedBody)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)

	var result map[string]string
	err := client.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/embeddings",
		Body:     map[string]string{"input": "test"},
	}, &result)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedBody["input"] != "test" {
		t.Errorf("expected input 'test', got '%v'", receivedBody["input"])
	}
}

func TestClient_Do_Headers(t *testing.T) {
	var receivedHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(
		Config{ProviderName: "test", BaseURL: server.URL},
		func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer token")
		},
	)

	ctx := core.WithRequestID(context.Background(), "req-123")
	err := client.Do(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
		Headers: map[string]string{
			"X-Custom": "custom-value",
		},
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedHeaders.Get("Authorization") != "Bearer token" {
		t.Errorf("expected Authorization header 'Bearer token', got '%s'", receivedHeaders.Get("Authorization"))
	}
	if receivedHeaders.Get("X-Custom") != "custom-value" {
		t.Errorf("expected X-Custom header 'custom-value', got '%s'", receivedHeaders.Get("X-Custom"))
	}
	if receivedHeaders.Get("X-Request-ID") != "req-123" {
		t.Errorf("expected X-Request-ID 'req-123', got '%s'", receivedHeaders.Get("X-Request-ID"))
	}
}

func TestClient_Do_ErrorParsing(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		body          string
		wantType      core.ErrorType
		wantTemporary bool
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limited"}}`, core.ErrorTypeRateLimit, true},
		{"authentication", http.StatusUnauthorized, `{"error":{"message":"Invalid API key"}}`, core.ErrorTypeAuthentication, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"Invalid model"}}`, core.ErrorTypeInvalidRequest, false},
		{"not found", http.StatusNotFound, `{"error":{"message":"No such model"}}`, core.ErrorTypeNotFound, false},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"Server error"}}`, core.ErrorTypeProvider, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
			err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, nil)

			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var providerErr *core.ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.Type != tt.wantType {
				t.Errorf("expected error type %s, got %s", tt.wantType, providerErr.Type)
			}
			if core.IsTemporary(err) != tt.wantTemporary {
				t.Errorf("IsTemporary = %v, want %v", core.IsTemporary(err), tt.wantTemporary)
			}
		})
	}
}

func TestClient_Do_SingleAttempt(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	if err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, nil); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestClient_Do_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	var result map[string]any
	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, &result)

	var providerErr *core.ProviderError
	if !errors.As(err, &providerErr) || providerErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 ProviderError, got %v", err)
	}
}

func TestClient_Do_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Do(ctx, Request{Method: http.MethodGet, Endpoint: "/test"}, nil)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}
