package takeonce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// FailureClass describes what a failed attempt tells us about server state.
type FailureClass int

const (
	// FailureAmbiguous: the command may have executed (timeouts, resets
	// after the write, cancellation).
	FailureAmbiguous FailureClass = iota
	// FailureTransient: the command provably never executed and may be
	// retried with the same atomic semantics.
	FailureTransient
	// FailureUnsupported: the server does not know the command.
	FailureUnsupported
	// FailureRejected: the server refused the command for a non-retryable
	// reason.
	FailureRejected
)

func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailureUnsupported:
		return "unsupported"
	case FailureRejected:
		return "rejected"
	default:
		return "ambiguous"
	}
}

// AttemptError wraps a backend failure with its classification.
type AttemptError struct {
	Class FailureClass
	Mode  Mode
	Err   error
}

func (e *AttemptError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("take once (%s, %s): %v", e.Mode, e.Class, e.Err)
}

func (e *AttemptError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is maps the class onto the package sentinels so callers can use errors.Is.
func (e *AttemptError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrIndeterminate:
		return e.Class == FailureAmbiguous
	case ErrUnavailable:
		return e.Class != FailureAmbiguous
	}
	return false
}

// Server replies that mean the command was refused before execution and a
// later attempt can succeed.
var retryableReplies = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "READONLY"}

func classify(err error) FailureClass {
	if err == nil {
		return FailureAmbiguous
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureAmbiguous
	}
	if errors.Is(err, redis.ErrClosed) {
		return FailureRejected
	}
	if strings.Contains(err.Error(), "connection pool timeout") {
		return FailureTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return FailureTransient
		}
		return FailureAmbiguous
	}
	msg := err.Error()
	if isUnknownCommand(msg) {
		return FailureUnsupported
	}
	for _, prefix := range retryableReplies {
		if strings.HasPrefix(msg, prefix+" ") || msg == prefix {
			return FailureTransient
		}
	}
	if strings.HasPrefix(msg, "ERR ") || strings.HasPrefix(msg, "WRONGTYPE") || strings.HasPrefix(msg, "NOPERM") {
		return FailureRejected
	}
	return FailureAmbiguous
}

func isUnknownCommand(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "unknown command")
}
