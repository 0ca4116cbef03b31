package errcode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := Transport("edit service unreachable", errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("modify resume: %w", base)

	if got := KindOf(wrapped); got != KindTransport {
		t.Fatalf("expected transport kind, got %s", got)
	}
	if got := Message(wrapped); got != "edit service unreachable" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOfDeadline(t *testing.T) {
	err := fmt.Errorf("call model: %w", context.DeadlineExceeded)
	if got := KindOf(err); got != KindTransport {
		t.Fatalf("expected transport kind for deadline, got %s", got)
	}
	if got := KindOf(errors.New("boom")); got != KindSystem {
		t.Fatalf("expected system kind, got %s", got)
	}
}

func TestStatusAndCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{Validation("instruction is required"), http.StatusBadRequest, ValidationFailed},
		{Auth("token expired"), http.StatusUnauthorized, AuthFailed},
		{Rejected("model returned invalid html", nil), http.StatusUnprocessableEntity, ServiceRejected},
		{Transport("timeout", context.DeadlineExceeded), http.StatusBadGateway, TransportFailure},
	}
	for _, tc := range cases {
		var e *Error
		if !errors.As(tc.err, &e) {
			t.Fatalf("expected *Error, got %T", tc.err)
		}
		if e.StatusCode() != tc.status {
			t.Errorf("%s: status %d, want %d", e.Kind, e.StatusCode(), tc.status)
		}
		if e.Kind.Code() != tc.code {
			t.Errorf("%s: code %d, want %d", e.Kind, e.Kind.Code(), tc.code)
		}
	}
}
