package ytchat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFetchErrorUnwrapsAuthExpiry(t *testing.T) {
	err := &FetchError{Status: 403, Err: ErrAuthExpired}
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatal("FetchError must unwrap to ErrAuthExpired")
	}
	wrapped := fmt.Errorf("poll: %w", err)
	if !errors.Is(wrapped, ErrAuthExpired) {
		t.Fatal("wrapping must preserve the auth expiry cause")
	}
}

func TestResolutionErrorUnwrap(t *testing.T) {
	cause := errors.New("dns fail")
	err := &ResolutionError{Input: "@someone", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("ResolutionError must unwrap its cause")
	}
	if !strings.Contains(err.Error(), "@someone") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&NoActiveChatError{Target: "vid123"}, "vid123"},
		{&ParseError{Context: "watch page"}, "watch page"},
		{&FetchError{Status: 500, Err: errors.New("boom")}, "500"},
		{&FetchError{Err: errors.New("conn refused")}, "conn refused"},
	}
	for _, tc := range cases {
		if !strings.Contains(tc.err.Error(), tc.want) {
			t.Fatalf("%T message %q missing %q", tc.err, tc.err.Error(), tc.want)
		}
	}
}
