package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"net timeout", timeoutErr{}, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"connection refused text", fmt.Errorf("dial tcp 127.0.0.1:42674: connect: connection refused"), true},
		{"malformed id", ErrMalformedID, false},
		{"invalid config", ErrInvalidConfig, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"batch rejected", ErrBatchRejected, true},
		{"retries exceeded", fmt.Errorf("flush: %w", ErrMaxRetriesExceeded), true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"malformed token", ErrMalformedToken, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient wraps fatal sentinel", &ClassifiedError{Class: ErrorTransient, Err: ErrInvalidConfig}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"malformed line", ErrMalformedLine, true},
		{"malformed id", ErrMalformedID, true},
		{"malformed tick", fmt.Errorf("tick: %w", ErrMalformedTick), true},
		{"non monotonic tick", ErrNonMonotonicTick, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil", nil, ErrorTransient},
		{"fatal sentinel", ErrInvalidConfig, ErrorFatal},
		{"invalid sentinel", ErrMalformedID, ErrorInvalid},
		{"transient sentinel", ErrConnectionLost, ErrorTransient},
		{"unknown", errors.New("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "decoder", "Decode", "id parse") != nil {
		t.Fatal("wrapping nil must return nil")
	}

	err := Wrap(ErrMalformedID, "decoder", "Decode", "id parse")
	expected := "decoder.Decode: id parse failed: malformed object id"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, ErrMalformedID) {
		t.Error("wrapped error must unwrap to the sentinel")
	}
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("dial: %w", ErrConnectionLost)

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "tacview-client", "Connect", "dial")

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ClassifiedError, got %T", err)
			}
			if ce.Class != test.class {
				t.Errorf("expected class %v, got %v", test.class, ce.Class)
			}
			if ce.Component != "tacview-client" || ce.Operation != "Connect" {
				t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
			}
			if !strings.HasPrefix(err.Error(), "tacview-client.Connect: dial failed") {
				t.Errorf("unexpected message %q", err.Error())
			}
			if !errors.Is(err, ErrConnectionLost) {
				t.Error("classified error must keep the sentinel in the chain")
			}
			if Component(err) != "tacview-client" {
				t.Errorf("unexpected component %q", Component(err))
			}
		})

		t.Run(test.name+" nil", func(t *testing.T) {
			if test.wrap(nil, "c", "m", "a") != nil {
				t.Error("wrapping nil must return nil")
			}
		})
	}
}
