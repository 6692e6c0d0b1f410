package patcher

import "github.com/NebulousLabs/errors"

// Sentinel errors for the installer core's error taxonomy. Callers compare
// with errors.Contains rather than ==, since every error that escapes this
// package is usually Extended with extra context.
var (
	// ErrCancelled means cooperative cancellation was observed; it
	// propagates out of VerifyFiles/Install.
	ErrCancelled = errors.New("operation cancelled")

	// ErrInvariantViolated means the index reported an unverifiable part,
	// indicating a broken index. Always fatal.
	ErrInvariantViolated = errors.New("index invariant violated: part reported as unverifiable")

	// ErrTransientIO means an HTTP or I/O error occurred inside
	// HTTPInstallTask.Repair; it is retried locally with backoff.
	ErrTransientIO = errors.New("transient I/O error")

	// ErrUnexpectedEndOfStream means the multipart reader returned no part
	// on a freshly issued request; counted as a transient failure.
	ErrUnexpectedEndOfStream = errors.New("unexpected end of stream")

	// ErrInvalidArgument means programmer misuse, such as attaching a nil
	// stream for read.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExhaustedRetries means an install task failed maxOuterAttempts
	// times in a row; it wraps the last observed cause.
	ErrExhaustedRetries = errors.New("exhausted retries")

	// ErrReadOnlyStream is returned by a Stream obtained through
	// Registry.AttachForRead when a caller attempts to write through it.
	ErrReadOnlyStream = errors.New("stream was attached read-only")
)
