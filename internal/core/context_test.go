package core

import (
	"context"
	"testing"
)

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatal("expected generated request ID")
	}
	if got := GetRequestID(ctx); got != id {
		t.Errorf("GetRequestID() = %q, want %q", got, id)
	}

	same, again := EnsureRequestID(ctx)
	if again != id || GetRequestID(same) != id {
		t.Errorf("EnsureRequestID() replaced existing ID %q with %q", id, again)
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}
