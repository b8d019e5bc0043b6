package errors

import sterrors "errors"

var (
	ErrTopicRequired     = sterrors.New("gatebridge: topic is required")
	ErrHandlerRequired   = sterrors.New("gatebridge: handler function is required")
	ErrHostAbsent        = sterrors.New("gatebridge: no host attached")
	ErrChannelClosed     = sterrors.New("gatebridge: event channel is closed")
	ErrConfigRequired    = sterrors.New("gatebridge: configuration is required")
	ErrLoggerRequired    = sterrors.New("gatebridge: logger is required")
	ErrInvalidDescriptor = sterrors.New("gatebridge: invalid parameter descriptor")
	ErrBindingClosed     = sterrors.New("gatebridge: parameter binding is closed")
)

// ConfigValidationError wraps every problem Config.Validate found.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "gatebridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
