package core

import "encoding/json"

// Kind is the renderer kind of a chat record. The set is open: the upstream
// format grows new renderer kinds without notice, and anything unrecognized is
// preserved as KindOther rather than dropped.
type Kind string

const (
	KindText           Kind = "text"
	KindSuperchat      Kind = "superchat"
	KindSupersticker   Kind = "supersticker"
	KindMembership     Kind = "membership"
	KindMembershipGift Kind = "membership_gift"
	KindGiftRedemption Kind = "gift_redemption"
	KindOther          Kind = "other"
)

// Monetary reports whether records of this kind carry a purchase amount.
func (k Kind) Monetary() bool {
	return k == KindSuperchat || k == KindSupersticker
}

// Part is one segment of a chat message body.
type Part struct {
	Type string `json:"type"` // "text" | "emoji" | "sticker"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	Alt  string `json:"alt,omitempty"`
}

// Colors carries per-kind styling metadata as reported upstream (hex strings
// keyed by slot, e.g. "header_bg"). Stored opaque, never interpreted.
type Colors map[string]string

// ChatRecord is the canonical unit written to SQLite. Created by the parser,
// immutable afterwards.
type ChatRecord struct {
	ID           string          `json:"id"`
	VideoID      string          `json:"video_id,omitempty"`
	TimestampMs  int64           `json:"timestamp_ms"`
	Timestamp    string          `json:"timestamp"`
	Author       string          `json:"author"`
	AuthorPhoto  string          `json:"icon,omitempty"`
	Kind         Kind            `json:"kind"`
	Text         string          `json:"text"`
	Parts        []Part          `json:"parts"`
	AmountText   string          `json:"amount_text,omitempty"`
	AmountMicros *int64          `json:"amount_micros,omitempty"`
	Colors       Colors          `json:"colors,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"` // retained source payload for unknown kinds
}

// TimeLayout is the human-readable timestamp format stored alongside epoch millis.
const TimeLayout = "2006-01-02 15:04:05"
