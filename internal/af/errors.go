package af

import "errors"

// Result kinds returned by Handle operations. Callers match them with errors.Is;
// operations wrap them with the reason for the failure.
var (
	// ErrInvalidParameter reports a malformed config, unknown strategy, or an
	// absent/invalid measurement sample.
	ErrInvalidParameter = errors.New("af: invalid parameter")

	// ErrWrongHandle reports use of a released (or never initialized) handle.
	ErrWrongHandle = errors.New("af: wrong handle")

	// ErrWrongState reports an operation that is not valid in the current
	// lifecycle state, e.g. ProcessFrame while Idle.
	ErrWrongState = errors.New("af: wrong state")

	// ErrUnsupported reports a sensor without a focus actuator.
	ErrUnsupported = errors.New("af: not supported")

	// ErrOutOfMemory reports an allocation failure during initialization.
	ErrOutOfMemory = errors.New("af: out of memory")

	// ErrFailure is the generic failure, e.g. TryLock on a locked context.
	ErrFailure = errors.New("af: failure")
)
