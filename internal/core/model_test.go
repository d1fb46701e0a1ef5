package core

import (
	"encoding/json"
	"testing"
)

func TestKindMonetary(t *testing.T) {
	monetary := map[Kind]bool{
		KindText:           false,
		KindSuperchat:      true,
		KindSupersticker:   true,
		KindMembership:     false,
		KindMembershipGift: false,
		KindGiftRedemption: false,
		KindOther:          false,
	}
	for kind, want := range monetary {
		if got := kind.Monetary(); got != want {
			t.Fatalf("%s.Monetary() = %t, want %t", kind, got, want)
		}
	}
}

func TestChatRecordJSONOmitsEmpty(t *testing.T) {
	rec := ChatRecord{
		ID:          "m1",
		TimestampMs: 1000,
		Timestamp:   "1970-01-01 00:00:01",
		Author:      "Alice",
		Kind:        KindText,
		Text:        "hi",
		Parts:       []Part{{Type: "text", Text: "hi"}},
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, absent := range []string{"amount_text", "amount_micros", "colors", "raw", "icon", "video_id"} {
		if containsKey(t, data, absent) {
			t.Fatalf("empty field %q serialized: %s", absent, data)
		}
	}
}

func containsKey(t *testing.T, data []byte, key string) bool {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	_, ok := m[key]
	return ok
}
