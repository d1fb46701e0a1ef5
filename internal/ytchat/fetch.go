package ytchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Batch is the result of one poll round-trip. NextContinuation empty means
// the stream has ended; that is a terminal condition, not an error.
type Batch struct {
	Actions          []map[string]any
	NextContinuation string
	TimeoutMs        int // 0 = no server hint in this response
}

// Fetch performs one request against the live-chat actions endpoint using the
// session's continuation cursor. Transport failures, non-2xx statuses, and
// malformed envelopes come back as *FetchError; a rejected api key unwraps to
// ErrAuthExpired.
func (c *Client) Fetch(ctx context.Context, sess Session) (Batch, error) {
	payload, err := c.postLiveChat(ctx, sess)
	if err != nil {
		return Batch{}, err
	}

	if code := errorCode(payload); code == http.StatusUnauthorized || code == http.StatusForbidden {
		return Batch{}, &FetchError{Status: code, Err: ErrAuthExpired}
	}

	liveChat := digMap(payload, "continuationContents", "liveChatContinuation")
	if liveChat == nil {
		// Well-formed envelope without a live chat continuation: the stream
		// is over. Distinguished from a network failure on purpose.
		return Batch{}, nil
	}

	batch := Batch{}
	if rawActions, ok := liveChat["actions"].([]any); ok {
		for _, raw := range rawActions {
			if action, ok := raw.(map[string]any); ok {
				batch.Actions = append(batch.Actions, action)
			}
		}
	}
	batch.NextContinuation, batch.TimeoutMs = nextContinuation(liveChat)
	return batch, nil
}

func (c *Client) postLiveChat(ctx context.Context, sess Session) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/youtubei/v1/live_chat/get_live_chat?key=%s", c.base, url.QueryEscape(sess.APIKey))

	body := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": sess.ClientVersion,
				"hl":            "en",
			},
		},
		"continuation": sess.Continuation,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-YouTube-Client-Name", "1")
	req.Header.Set("X-YouTube-Client-Version", sess.ClientVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &FetchError{Status: resp.StatusCode, Err: ErrAuthExpired}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return nil, &FetchError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(snippet))),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: err}
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	return payload, nil
}

// nextContinuation reads the follow-up cursor and interval hint from the
// continuations list. The block type varies (timed, invalidation, reload);
// all carry the same two fields.
func nextContinuation(liveChat map[string]any) (string, int) {
	continuations, _ := liveChat["continuations"].([]any)
	for _, raw := range continuations {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"timedContinuationData", "invalidationContinuationData", "reloadContinuationData"} {
			block := digMap(entry, key)
			if block == nil {
				continue
			}
			cont, _ := block["continuation"].(string)
			if cont == "" {
				continue
			}
			return cont, intField(block, "timeoutMs")
		}
	}
	return "", 0
}

func errorCode(payload map[string]any) int {
	return intField(digMap(payload, "error"), "code")
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func digMap(m map[string]any, keys ...string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}
