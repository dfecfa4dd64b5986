package seal

import "errors"

// Public, stable errors for callers.
var (
	ErrEmptyPassphrase = errors.New("empty passphrase")
	ErrInvalidFormat   = errors.New("invalid sealed format")
	ErrUnsupported     = errors.New("unsupported seal version")
	ErrOpenFailed      = errors.New("cannot open sealed data")
	ErrParamsTooHigh   = errors.New("seal params exceed limits")
)
