package ytchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120 Safari/537.36"
	watchPageLimit  = 5 << 20
	defaultInterval = 2000 // ms, used when the page carries no hint
)

// Session is the opaque protocol state of one ingestion run. The continuation
// cursor is the sole handle for "where in the stream we are" and must be
// passed unmodified to the next fetch.
type Session struct {
	VideoID        string
	APIKey         string
	ClientVersion  string
	Continuation   string
	PollIntervalMs int
}

// Options configure a Client.
type Options struct {
	// HTTPClient overrides the default client (tests). A request timeout is
	// always enforced so a stop request is never blocked behind a hung fetch.
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// AllChat switches the bootstrap continuation from the default top-chat
	// view to the unfiltered all-chat view via one extra poll round-trip.
	AllChat bool
	// BaseURL overrides the upstream origin (tests).
	BaseURL string
}

// Client performs the unauthenticated page bootstrap and the poll round-trips.
type Client struct {
	http    *http.Client
	base    string
	allChat bool
}

func NewClient(opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	} else if httpClient.Timeout == 0 {
		httpClient.Timeout = timeout
	}
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = "https://www.youtube.com"
	}
	return &Client{http: httpClient, base: base, allChat: opts.AllChat}
}

// Bootstrap resolves the input (video id, channel id, or @handle) to a live
// video and extracts the api key, client version, and initial continuation
// from the watch page. It never retries; retry policy belongs to the caller.
func (c *Client) Bootstrap(ctx context.Context, input string) (Session, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Session{}, &ResolutionError{Input: input, Err: errors.New("empty identifier")}
	}

	videoID := input
	if !looksLikeVideoID(input) {
		resolved, err := c.resolveVideoID(ctx, input)
		if err != nil {
			return Session{}, err
		}
		videoID = resolved
	}

	page, err := c.fetchWatchPage(ctx, videoID)
	if err != nil {
		return Session{}, err
	}

	apiKey := extractString(page, `"INNERTUBE_API_KEY":"`)
	clientVersion := extractString(page, `"INNERTUBE_CLIENT_VERSION":"`)
	if clientVersion == "" {
		clientVersion = extractString(page, `"clientVersion":"`)
	}
	if apiKey == "" || clientVersion == "" {
		return Session{}, &ParseError{Context: "watch page missing INNERTUBE markers"}
	}

	continuation := extractString(page, `"continuation":"`)
	if continuation == "" {
		return Session{}, &NoActiveChatError{Target: videoID}
	}

	sess := Session{
		VideoID:        videoID,
		APIKey:         apiKey,
		ClientVersion:  clientVersion,
		Continuation:   continuation,
		PollIntervalMs: defaultInterval,
	}

	if c.allChat {
		if all, err := c.allChatContinuation(ctx, sess); err == nil && all != "" {
			sess.Continuation = all
		}
	}

	return sess, nil
}

// resolveVideoID fetches the public /live page for a channel or handle and
// reads the canonical watch link.
func (c *Client) resolveVideoID(ctx context.Context, input string) (string, error) {
	var pageURL string
	if strings.HasPrefix(input, "@") {
		pageURL = fmt.Sprintf("%s/%s/live", c.base, input)
	} else {
		pageURL = fmt.Sprintf("%s/channel/%s/live", c.base, input)
	}

	body, status, err := c.get(ctx, pageURL)
	if err != nil {
		return "", &ResolutionError{Input: input, Err: err}
	}
	if status != http.StatusOK {
		return "", &ResolutionError{Input: input, Err: fmt.Errorf("live page status %d", status)}
	}

	videoID := extractString(body, `<link rel="canonical" href="https://www.youtube.com/watch?v=`)
	if videoID == "" {
		// The channel page loaded but points at no current broadcast.
		return "", &NoActiveChatError{Target: input}
	}
	return videoID, nil
}

func (c *Client) fetchWatchPage(ctx context.Context, videoID string) (string, error) {
	body, status, err := c.get(ctx, fmt.Sprintf("%s/watch?v=%s", c.base, videoID))
	if err != nil {
		return "", &ResolutionError{Input: videoID, Err: err}
	}
	if status != http.StatusOK {
		return "", &ResolutionError{Input: videoID, Err: fmt.Errorf("watch page status %d", status)}
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, pageURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, watchPageLimit))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// allChatContinuation performs one poll against the top-chat cursor and reads
// the view selector for the unselected (all chat) entry.
func (c *Client) allChatContinuation(ctx context.Context, sess Session) (string, error) {
	payload, err := c.postLiveChat(ctx, sess)
	if err != nil {
		return "", err
	}
	header := digMap(payload, "continuationContents", "liveChatContinuation", "header", "liveChatHeaderRenderer")
	selector := digMap(header, "viewSelector", "sortFilterSubMenuRenderer")
	if selector == nil {
		return "", nil
	}
	items, _ := selector["subMenuItems"].([]any)
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if selected, _ := item["selected"].(bool); selected {
			continue
		}
		if reload := digMap(item, "continuation", "reloadContinuationData"); reload != nil {
			if cont, ok := reload["continuation"].(string); ok && cont != "" {
				return cont, nil
			}
		}
	}
	return "", nil
}

// looksLikeVideoID reports whether the input is plausibly a raw video id.
// Validation still happens through the watch-page fetch.
func looksLikeVideoID(s string) bool {
	if len(s) != 11 || strings.HasPrefix(s, "@") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func extractString(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	end := strings.Index(text[start:], `"`)
	if end == -1 {
		return ""
	}
	return text[start : start+end]
}
