package ytchat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you/chatscoop/internal/core"
)

// knownRenderers maps the renderer key inside addChatItemAction items to the
// canonical kind. Order matters only for readability; at most one key is
// present per item.
var knownRenderers = []struct {
	key  string
	kind core.Kind
}{
	{"liveChatTextMessageRenderer", core.KindText},
	{"liveChatPaidMessageRenderer", core.KindSuperchat},
	{"liveChatPaidStickerRenderer", core.KindSupersticker},
	{"liveChatMembershipItemRenderer", core.KindMembership},
	{"liveChatSponsorshipsGiftPurchaseAnnouncementRenderer", core.KindMembershipGift},
	{"liveChatGiftRedemptionAnnouncementRenderer", core.KindGiftRedemption},
}

// ParseAction maps one raw chat action to zero or one ChatRecord.
//
// Pure: no network or storage access, deterministic for a given payload.
// Returns (nil, nil) for actions that are not displayable messages (banner
// updates, tooltips, ...). Unknown renderer kinds still produce a record
// tagged KindOther with the raw item retained. A known renderer shape missing
// its identity fields returns an error for the caller to report; one bad
// record must never abort a batch.
func ParseAction(action map[string]any) (*core.ChatRecord, error) {
	item := digMap(action, "addChatItemAction", "item")
	if item == nil {
		return nil, nil
	}

	for _, entry := range knownRenderers {
		if renderer := digMap(item, entry.key); renderer != nil {
			return parseKnown(entry.kind, renderer)
		}
	}

	for key, value := range item {
		if !strings.HasSuffix(key, "Renderer") {
			continue
		}
		if renderer, ok := value.(map[string]any); ok {
			return parseUnknown(key, renderer, item)
		}
	}

	return nil, nil
}

func parseKnown(kind core.Kind, renderer map[string]any) (*core.ChatRecord, error) {
	id := recordID(renderer)
	if id == "" {
		return nil, fmt.Errorf("ytchat: %s renderer without id", kind)
	}
	tsMs := timestampMs(renderer)
	if tsMs == 0 {
		return nil, fmt.Errorf("ytchat: %s renderer without timestamp (id=%s)", kind, id)
	}

	rec := &core.ChatRecord{
		ID:          id,
		TimestampMs: tsMs,
		Timestamp:   time.UnixMilli(tsMs).UTC().Format(core.TimeLayout),
		Author:      textField(renderer, "authorName"),
		Kind:        kind,
	}

	switch kind {
	case core.KindText:
		rec.Parts = messageParts(renderer)
		rec.Text = plainText(rec.Parts)

	case core.KindSuperchat:
		rec.Parts = messageParts(renderer)
		rec.Text = plainText(rec.Parts)
		rec.AmountText = simpleText(renderer, "purchaseAmountText")
		rec.AmountMicros = parseAmountMicros(rec.AmountText)
		rec.Colors = core.Colors{}
		putColor(rec.Colors, "header_bg", renderer["headerBackgroundColor"])
		putColor(rec.Colors, "header_text", renderer["headerTextColor"])
		putColor(rec.Colors, "body_bg", renderer["bodyBackgroundColor"])
		putColor(rec.Colors, "body_text", renderer["bodyTextColor"])

	case core.KindSupersticker:
		rec.Parts = stickerParts(renderer)
		rec.Text = "[STICKER]"
		rec.AmountText = simpleText(renderer, "purchaseAmountText")
		rec.AmountMicros = parseAmountMicros(rec.AmountText)
		rec.Colors = core.Colors{}
		putColor(rec.Colors, "body_bg", renderer["backgroundColor"])
		if _, ok := renderer["moneyChipTextColor"]; ok {
			putColor(rec.Colors, "body_text", renderer["moneyChipTextColor"])
		} else {
			putColor(rec.Colors, "body_text", renderer["authorNameTextColor"])
		}

	case core.KindMembership:
		rec.Parts = messageParts(renderer)
		header := runsText(renderer, "headerPrimaryText")
		sub := runsText(renderer, "headerSubtext")
		rec.Text = joinNonEmpty(" ", header, sub, plainText(rec.Parts))
		if rec.Text == "" {
			rec.Text = "[MEMBERSHIP]"
		}

	case core.KindMembershipGift:
		header := digMap(renderer, "header", "liveChatSponsorshipsHeaderRenderer")
		name := strings.TrimPrefix(textField(header, "authorName"), "@")
		message := "A viewer sent gift memberships"
		if name != "" {
			rec.Author = name
			message = name + " sent gift memberships"
		}
		rec.Text = message
		rec.Parts = []core.Part{{Type: "text", Text: message}}

	case core.KindGiftRedemption:
		rec.Text = joinNonEmpty(" ", runsText(renderer, "header"), runsText(renderer, "subtext"))
		if rec.Text == "" {
			rec.Text = "[GIFT REDEEM]"
		}
		if parts := messageParts(renderer); len(parts) > 0 {
			rec.Parts = parts
		} else {
			rec.Parts = []core.Part{{Type: "text", Text: rec.Text}}
		}
	}

	if rec.Author == "" {
		rec.Author = "Unknown"
	}
	rec.AuthorPhoto = authorPhoto(renderer, kind)
	return rec, nil
}

// parseUnknown preserves renderer kinds introduced after this parser was
// written. The raw item is retained so nothing is lost to format drift.
func parseUnknown(key string, renderer, item map[string]any) (*core.ChatRecord, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("ytchat: retain %s payload: %w", key, err)
	}

	id := recordID(renderer)
	if id == "" {
		// Deterministic fallback so re-fetched batches still deduplicate.
		id = uuid.NewSHA1(uuid.NameSpaceURL, raw).String()
	}
	tsMs := timestampMs(renderer)

	rec := &core.ChatRecord{
		ID:          id,
		TimestampMs: tsMs,
		Author:      textField(renderer, "authorName"),
		Kind:        core.KindOther,
		Parts:       messageParts(renderer),
		Raw:         raw,
	}
	if tsMs > 0 {
		rec.Timestamp = time.UnixMilli(tsMs).UTC().Format(core.TimeLayout)
	}
	rec.Text = plainText(rec.Parts)
	if rec.Text == "" {
		rec.Text = "[" + key + "]"
	}
	if rec.Author == "" {
		rec.Author = "Unknown"
	}
	rec.AuthorPhoto = authorPhoto(renderer, core.KindOther)
	return rec, nil
}

func recordID(renderer map[string]any) string {
	for _, key := range []string{"id", "messageId", "trackingParams"} {
		if s, ok := renderer[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func timestampMs(renderer map[string]any) int64 {
	switch v := renderer["timestampUsec"].(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n / 1000
		}
	case float64:
		return int64(v) / 1000
	}
	return 0
}

// messageParts flattens message runs into ordered text and emoji parts. A
// simpleText body becomes a single text part.
func messageParts(renderer map[string]any) []core.Part {
	message := digMap(renderer, "message")
	if message == nil {
		return nil
	}
	if s, ok := message["simpleText"].(string); ok && s != "" {
		return []core.Part{{Type: "text", Text: s}}
	}
	runs, _ := message["runs"].([]any)
	var parts []core.Part
	for _, raw := range runs {
		run, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := run["text"].(string); ok {
			parts = append(parts, core.Part{Type: "text", Text: text})
			continue
		}
		if emoji := digMap(run, "emoji"); emoji != nil {
			part := core.Part{Type: "emoji", URL: lastThumbnail(digMap(emoji, "image"))}
			if shortcuts, ok := emoji["shortcuts"].([]any); ok && len(shortcuts) > 0 {
				part.Alt, _ = shortcuts[0].(string)
			}
			if part.Alt == "" {
				part.Alt, _ = emoji["emojiId"].(string)
			}
			parts = append(parts, part)
		}
	}
	return parts
}

func stickerParts(renderer map[string]any) []core.Part {
	sticker := digMap(renderer, "sticker")
	if sticker == nil {
		return nil
	}
	alt, _ := digMap(sticker, "accessibility", "accessibilityData")["label"].(string)
	return []core.Part{{Type: "sticker", URL: lastThumbnail(sticker), Alt: alt}}
}

func plainText(parts []core.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func authorPhoto(renderer map[string]any, kind core.Kind) string {
	if url := lastThumbnail(digMap(renderer, "authorPhoto")); url != "" {
		return url
	}
	if kind == core.KindMembershipGift {
		header := digMap(renderer, "header", "liveChatSponsorshipsHeaderRenderer")
		return lastThumbnail(digMap(header, "authorPhoto"))
	}
	return ""
}

func lastThumbnail(m map[string]any) string {
	if m == nil {
		return ""
	}
	thumbs, _ := m["thumbnails"].([]any)
	for i := len(thumbs) - 1; i >= 0; i-- {
		if thumb, ok := thumbs[i].(map[string]any); ok {
			if url, ok := thumb["url"].(string); ok && url != "" {
				return url
			}
		}
	}
	return ""
}

// textField renders a {simpleText} or {runs} node to a plain string.
func textField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	nested := digMap(m, key)
	if nested == nil {
		return ""
	}
	if s, ok := nested["simpleText"].(string); ok {
		return s
	}
	return joinRuns(nested)
}

func simpleText(m map[string]any, key string) string {
	nested := digMap(m, key)
	if nested == nil {
		return ""
	}
	s, _ := nested["simpleText"].(string)
	return s
}

func runsText(m map[string]any, key string) string {
	return joinRuns(digMap(m, key))
}

func joinRuns(node map[string]any) string {
	if node == nil {
		return ""
	}
	runs, _ := node["runs"].([]any)
	var b strings.Builder
	for _, raw := range runs {
		if run, ok := raw.(map[string]any); ok {
			if text, ok := run["text"].(string); ok {
				b.WriteString(text)
			}
		}
	}
	return b.String()
}

func joinNonEmpty(sep string, values ...string) string {
	var kept []string
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, sep)
}

func putColor(colors core.Colors, slot string, raw any) {
	v, ok := raw.(float64)
	if !ok {
		return
	}
	colors[slot] = fmt.Sprintf("#%06X", int64(v)&0xFFFFFF)
}

// parseAmountMicros derives a machine amount from the display string
// ("$5.00", "¥1,000"). The unauthenticated payload carries no native micros
// value, so this is lossy for currencies the scan does not understand; the
// display text is always stored alongside.
func parseAmountMicros(text string) *int64 {
	start := -1
	for i, r := range text {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start == -1 {
		return nil
	}

	end := start
	sawDot := false
	for end < len(text) {
		c := text[end]
		if c >= '0' && c <= '9' || c == ',' {
			end++
			continue
		}
		if c == '.' && !sawDot {
			sawDot = true
			end++
			continue
		}
		break
	}

	numeric := strings.ReplaceAll(text[start:end], ",", "")
	numeric = strings.TrimSuffix(numeric, ".")
	intPart := numeric
	fracPart := ""
	if idx := strings.IndexByte(numeric, '.'); idx >= 0 {
		intPart, fracPart = numeric[:idx], numeric[idx+1:]
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return nil
	}
	micros := whole * 1_000_000

	if fracPart != "" {
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err == nil {
			scale := int64(1)
			for i := len(fracPart); i < 6; i++ {
				scale *= 10
			}
			micros += frac * scale
		}
	}
	return &micros
}
