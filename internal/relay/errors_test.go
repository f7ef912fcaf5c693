package relay

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid request",
			err:  &InvalidRequestError{Reason: "video URL is required"},
			want: "video URL is required",
		},
		{
			name: "upstream",
			err:  &UpstreamError{StatusCode: 404, Status: "404 Not Found"},
			want: "upstream responded with HTTP 404",
		},
		{
			name: "transport",
			err:  &TransportError{Operation: "read", Err: io.ErrUnexpectedEOF},
			want: "transport error during read: unexpected EOF",
		},
		{
			name: "storage with path",
			err:  &StorageError{Operation: "create", Path: "/dl/a.mp4", Err: errors.New("permission denied")},
			want: "storage error during create of /dl/a.mp4: permission denied",
		},
		{
			name: "storage without path",
			err:  &StorageError{Operation: "claim", Err: errors.New("db closed")},
			want: "storage error during claim: db closed",
		},
		{
			name: "conflict",
			err:  &ConflictError{Filename: "a.mp4"},
			want: "a download to a.mp4 is already in progress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("cause")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"invalid", &InvalidRequestError{Reason: "bad"}, KindInvalidRequest},
		{"wrapped upstream", fmt.Errorf("fetch: %w", &UpstreamError{StatusCode: 500}), KindUpstream},
		{"transport", &TransportError{Operation: "connect", Err: cause}, KindTransport},
		{"storage", &StorageError{Operation: "write", Err: cause}, KindStorage},
		{"conflict", &ConflictError{Filename: "x"}, KindConflict},
		{"plain", cause, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")

	for _, err := range []error{
		&InvalidRequestError{Reason: "bad", Err: cause},
		&TransportError{Operation: "read", Err: cause},
		&StorageError{Operation: "write", Err: cause},
	} {
		wrapped := fmt.Errorf("context: %w", err)
		if !errors.Is(wrapped, cause) {
			t.Errorf("errors.Is() should find cause through %T", err)
		}
	}
}
