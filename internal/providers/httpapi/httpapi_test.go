package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"embedguard/internal/core"
)

func TestEmbed_Success(t *testing.T) {
	var got embeddingRequest
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,-1,2]}],"model":"m"}`))
	}))
	defer server.Close()

	p := NewWithHTTPClient(Config{BaseURL: server.URL, APIKey: "sk-test"}, server.Client())
	ctx := core.WithRequestID(context.Background(), "req-1")
	vec, err := p.Embed(ctx, "hello", "text-embedding-3-small")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -1 || vec[2] != 2 {
		t.Errorf("vector = %v, want [0.5 -1 2]", vec)
	}
	if got.Model != "text-embedding-3-small" || got.Input != "hello" {
		t.Errorf("request = %+v", got)
	}
	if headers.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get("X-Client-Request-Id") != "req-1" {
		t.Errorf("X-Client-Request-Id = %q", headers.Get("X-Client-Request-Id"))
	}
	if p.Name() != "http" {
		t.Errorf("Name() = %q, want http", p.Name())
	}
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTemporary bool
	}{
		{"missing embedding", http.StatusOK, `{"data":[]}`, true},
		{"non numeric", http.StatusOK, `{"data":[{"embedding":[1,"x"]}]}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewWithHTTPClient(Config{Name: "compat", BaseURL: server.URL}, server.Client())
			_, err := p.Embed(context.Background(), "hello", "m")

			var providerErr *core.ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if providerErr.Provider != "compat" {
				t.Errorf("Provider = %q, want compat", providerErr.Provider)
			}
			if core.IsTemporary(err) != tt.wantTemporary {
				t.Errorf("IsTemporary = %v, want %v", core.IsTemporary(err), tt.wantTemporary)
			}
		})
	}
}

func TestIsValidClientRequestID(t *testing.T) {
	if !isValidClientRequestID("abc-123") {
		t.Error("ascii id should be valid")
	}
	if isValidClientRequestID("héllo") {
		t.Error("non-ascii id should be invalid")
	}
	if isValidClientRequestID(strings.Repeat("a", 513)) {
		t.Error("overlong id should be invalid")
	}
}
