package checkpoint

import "github.com/pkg/errors"

// ErrInvalidArgument is the only error CheckpointManager ever returns
// for caller-facing failures — malformed key, partition mismatch, or an
// unknown cursor name. Everything else (dedup, rotation, collapse) is
// silent bookkeeping, never an error (spec.md §4.1, §7, §9).
var ErrInvalidArgument = errors.New("checkpoint: invalid argument")

// ErrNoSuchCursor is wrapped under ErrInvalidArgument when a cursor
// operation names an unregistered cursor.
var ErrNoSuchCursor = errors.New("checkpoint: no such cursor")

// wrapInvalid tags msg as an ErrInvalidArgument-class failure while
// keeping cause (if any) reachable via errors.Cause.
func wrapInvalid(cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(ErrInvalidArgument, msg)
	}
	return &invalidError{cause: cause, msg: msg}
}

// invalidError matches ErrInvalidArgument under errors.Is while cause
// stays reachable via errors.Cause and errors.Unwrap.
type invalidError struct {
	cause error
	msg   string
}

func (e *invalidError) Error() string        { return ErrInvalidArgument.Error() + ": " + e.msg + ": " + e.cause.Error() }
func (e *invalidError) Cause() error         { return e.cause }
func (e *invalidError) Unwrap() error        { return e.cause }
func (e *invalidError) Is(target error) bool { return target == ErrInvalidArgument }
