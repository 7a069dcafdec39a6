package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	NotFound,
	FailedPrecondition,
	PermissionDenied,
	Unauthenticated,
	Unavailable,
	Internal,
	AssertionFailed,
	ElementMissing,
	DeadlineExceeded,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(err, %q) = false", code)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	causeText := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause")
	cause := errors.New(causeText)

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("wrapped error lost its cause")
	}
	if !strings.Contains(wrapped.Error(), causeText) {
		t.Fatalf("Error() should include the cause: %q", wrapped.Error())
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, "internal error")
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(nil); got != string(Internal) {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if Is(nil, Internal) {
		t.Fatalf("Is(nil, ...) must be false")
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func testHTTPStatus_Mapping(t *rapid.T) {
	cases := map[Code]int{
		InvalidArgument:    http.StatusBadRequest,
		Unauthenticated:    http.StatusUnauthorized,
		PermissionDenied:   http.StatusForbidden,
		NotFound:           http.StatusNotFound,
		FailedPrecondition: http.StatusConflict,
		Unavailable:        http.StatusServiceUnavailable,
		DeadlineExceeded:   http.StatusGatewayTimeout,
		Internal:           http.StatusInternalServerError,
	}

	code := rapid.SampledFrom(append(allCodes, Code("unknown_code"))).Draw(t, "code")

	want := http.StatusInternalServerError
	if mapped, ok := cases[code]; ok {
		want = mapped
	}
	if got := HTTPStatus(code); got != want {
		t.Fatalf("HTTPStatus mismatch: code=%q got=%d want=%d", code, got, want)
	}
}

func TestHTTPStatus_Mapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testHTTPStatus_Mapping)
}
