package ytchat

import (
	"errors"
	"fmt"
)

// ErrAuthExpired marks a poll rejected because the scraped api key is no
// longer accepted. The distinction from "stream ended" is behavioral, not
// documented upstream; callers should treat a re-bootstrap as best effort.
var ErrAuthExpired = errors.New("ytchat: auth token rejected")

// ResolutionError means the input could not be resolved to any channel or video.
type ResolutionError struct {
	Input string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("ytchat: resolve %q: %v", e.Input, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// NoActiveChatError means the target exists but has no live chat right now
// (stream ended or never started). Not retryable.
type NoActiveChatError struct {
	Target string
}

func (e *NoActiveChatError) Error() string {
	return fmt.Sprintf("ytchat: no active live chat for %q", e.Target)
}

// ParseError means the page or payload no longer matches the shapes this
// scraper understands. It signals the scraping contract is broken and needs
// adaptation, not a retry.
type ParseError struct {
	Context string
}

func (e *ParseError) Error() string {
	return "ytchat: unrecognized format: " + e.Context
}

// FetchError wraps a transient failure of one poll round-trip (transport
// error, non-2xx status, malformed envelope). Status is zero when the request
// never produced a response.
type FetchError struct {
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ytchat: fetch failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("ytchat: fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
