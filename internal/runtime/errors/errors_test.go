package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrTopicRequired", ErrTopicRequired, "gatebridge: topic is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "gatebridge: handler function is required"},
		{"ErrHostAbsent", ErrHostAbsent, "gatebridge: no host attached"},
		{"ErrChannelClosed", ErrChannelClosed, "gatebridge: event channel is closed"},
		{"ErrConfigRequired", ErrConfigRequired, "gatebridge: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "gatebridge: logger is required"},
		{"ErrInvalidDescriptor", ErrInvalidDescriptor, "gatebridge: invalid parameter descriptor"},
		{"ErrBindingClosed", ErrBindingClosed, "gatebridge: parameter binding is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.Join(errors.New("nats: URL is required"), errors.New("metrics: invalid port -1"))
	err := ConfigValidationError{Err: inner}

	want := "gatebridge: invalid configuration: nats: URL is required\nmetrics: invalid port -1"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	if err := NewConfigValidationError(nil); err != nil {
		t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
	}

	inner := errors.New("bad config")
	err := NewConfigValidationError(inner)

	var cfgErr ConfigValidationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigValidationError, got %T", err)
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should match wrapped error")
	}
}
