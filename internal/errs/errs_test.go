package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsAsDispatch(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := fmt.Errorf("scan AAPL: %w", NewTransient("GET /v3/snapshot", base))

	var transient *TransientError
	if !errors.As(wrapped, &transient) {
		t.Fatal("expected TransientError through the wrap chain")
	}
	if !errors.Is(wrapped, base) {
		t.Error("expected the root cause to survive unwrapping")
	}

	var notFound *NotFoundError
	if errors.As(wrapped, &notFound) {
		t.Error("transient error must not match NotFoundError")
	}
}

func TestTaxonomyMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewNotFound("ZZZZ"), "not found: ZZZZ"},
		{NewDataValidation("bar", "open above high"), "data validation: bar: open above high"},
		{NewRateLimited("/v2/aggs", "2"), "rate limited: /v2/aggs (retry after 2)"},
		{NewFatalConfig("POLYGON_API_KEY", "missing"), "fatal config: POLYGON_API_KEY: missing"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
