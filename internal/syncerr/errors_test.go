package syncerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		retryable  bool
		userFacing bool
	}{
		{"validation", Validationf("empty content"), false, true},
		{"permission", Permissionf("not yours"), false, true},
		{"invalid state", InvalidStatef("already deleted"), false, true},
		{"transport", Transport(errors.New("conn refused")), true, false},
		{"subscription", Subscription(errors.New("channel closed")), true, false},
		{"not found", ErrNotFound, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.retryable {
				t.Errorf("Retryable = %v, want %v", got, tc.retryable)
			}
			if got := UserFacing(tc.err); got != tc.userFacing {
				t.Errorf("UserFacing = %v, want %v", got, tc.userFacing)
			}
		})
	}
}

func TestWrappingKeepsCause(t *testing.T) {
	cause := errors.New("io timeout")
	err := Transport(cause)
	if !errors.Is(err, ErrTransport) {
		t.Fatal("transport sentinel lost")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause lost through wrapping")
	}

	wrapped := fmt.Errorf("flush: %w", Validationf("bad id %q", "x"))
	if !errors.Is(wrapped, ErrValidation) {
		t.Fatal("validation sentinel lost through another wrap")
	}
}

func TestNilPassthrough(t *testing.T) {
	if Transport(nil) != nil {
		t.Fatal("Transport(nil) should stay nil")
	}
	if Subscription(nil) != nil {
		t.Fatal("Subscription(nil) should stay nil")
	}
}
