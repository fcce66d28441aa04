package takeonce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"deadline", context.DeadlineExceeded, FailureAmbiguous},
		{"wrapped cancel", fmt.Errorf("op: %w", context.Canceled), FailureAmbiguous},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, FailureTransient},
		{"read", &net.OpError{Op: "read", Err: errors.New("reset")}, FailureAmbiguous},
		{"unknown command", errors.New("ERR unknown command 'getdel'"), FailureUnsupported},
		{"loading", errors.New("LOADING Redis is loading the dataset in memory"), FailureTransient},
		{"readonly", errors.New("READONLY You can't write against a read only replica."), FailureTransient},
		{"pool timeout", errors.New("redis: connection pool timeout"), FailureTransient},
		{"wrongtype", errors.New("WRONGTYPE Operation against a key"), FailureRejected},
		{"generic err", errors.New("ERR syntax error"), FailureRejected},
		{"closed", redis.ErrClosed, FailureRejected},
		{"unknown", errors.New("boom"), FailureAmbiguous},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("%s: classify=%s want %s", tc.name, got, tc.want)
		}
	}
}

func TestAttemptErrorSentinels(t *testing.T) {
	amb := &AttemptError{Class: FailureAmbiguous, Mode: ModeNative, Err: context.DeadlineExceeded}
	if !errors.Is(amb, ErrIndeterminate) || errors.Is(amb, ErrUnavailable) {
		t.Fatalf("ambiguous should map to indeterminate only")
	}
	if !errors.Is(amb, context.DeadlineExceeded) {
		t.Fatalf("expected unwrap to cause")
	}
	for _, class := range []FailureClass{FailureTransient, FailureUnsupported, FailureRejected} {
		err := &AttemptError{Class: class, Mode: ModeScript, Err: errors.New("x")}
		if !errors.Is(err, ErrUnavailable) || errors.Is(err, ErrIndeterminate) {
			t.Fatalf("%s should map to unavailable only", class)
		}
		if errors.Is(err, ErrNotFound) {
			t.Fatalf("%s must never look like not found", class)
		}
	}
	var nilErr *AttemptError
	if nilErr.Error() != "" || nilErr.Unwrap() != nil {
		t.Fatalf("nil attempt error should be empty")
	}
}
