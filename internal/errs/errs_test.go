package errs

import (
	"fmt"
	"testing"
)

func TestClassifyUnwrapsWrappedError(t *testing.T) {
	base := New(TransientRemote, fmt.Errorf("upstream 503"))
	wrapped := fmt.Errorf("verify round 3: %w", base)

	class, ok := Classify(wrapped)
	if !ok {
		t.Fatal("expected Classify to find the wrapped classified error")
	}
	if class != TransientRemote {
		t.Errorf("got class %v, want TransientRemote", class)
	}
}

func TestClassifyReturnsFalseForPlainError(t *testing.T) {
	_, ok := Classify(fmt.Errorf("plain error"))
	if ok {
		t.Error("expected ok=false for an unclassified error")
	}
}

func TestRetryableAndFatalClasses(t *testing.T) {
	cases := []struct {
		class       Class
		retryable   bool
		fatal       bool
	}{
		{TransientRemote, true, true},
		{InvalidRemote, false, true},
		{LocalInference, false, true},
		{Precondition, false, true},
		{Canceled, false, false},
	}
	for _, c := range cases {
		if got := c.class.IsRetryable(); got != c.retryable {
			t.Errorf("%v.IsRetryable() = %v, want %v", c.class, got, c.retryable)
		}
		if got := c.class.IsFatal(); got != c.fatal {
			t.Errorf("%v.IsFatal() = %v, want %v", c.class, got, c.fatal)
		}
	}
}
