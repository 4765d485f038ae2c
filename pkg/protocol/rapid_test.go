package protocol

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestPayloadRoundTripRapid checks that any text survives the base64 wrap,
// including text full of protocol delimiters and control characters.
func TestPayloadRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")

		decoded, err := DecodePayload(EncodePayload(content))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded != content {
			t.Fatalf("round-trip mismatch: got %q, want %q", decoded, content)
		}
	})
}

// TestHistoryRoundTripRapid checks that any conversation round-trips through
// the history codec with order, content, and status intact.
func TestHistoryRoundTripRapid(t *testing.T) {
	statuses := []string{StatusSent, StatusDelivered}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		entries := make([]HistoryEntry, n)
		for i := range entries {
			entries[i] = HistoryEntry{
				// Senders never contain separators; they are validated
				// usernames. Content is arbitrary.
				Sender:  rapid.StringMatching(`[a-zA-Z0-9_-]{1,20}`).Draw(t, "sender"),
				Content: rapid.String().Draw(t, "content"),
				SentAt:  base.Add(time.Duration(rapid.Int64Range(0, 1<<40).Draw(t, "offset")) * time.Millisecond).Truncate(time.Second),
				ID:      rapid.Int64Range(0, 1<<62).Draw(t, "id"),
				Status:  statuses[rapid.IntRange(0, 1).Draw(t, "status")],
			}
		}

		decoded, err := DecodeHistory(EncodeHistory(entries))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(decoded) != len(entries) {
			t.Fatalf("length mismatch: got %d, want %d", len(decoded), len(entries))
		}
		for i := range entries {
			if decoded[i].Sender != entries[i].Sender {
				t.Fatalf("record %d sender mismatch", i)
			}
			if decoded[i].Content != entries[i].Content {
				t.Fatalf("record %d content mismatch: got %q, want %q", i, decoded[i].Content, entries[i].Content)
			}
			if !decoded[i].SentAt.Equal(entries[i].SentAt) {
				t.Fatalf("record %d timestamp mismatch", i)
			}
			if decoded[i].ID != entries[i].ID {
				t.Fatalf("record %d id mismatch", i)
			}
			if decoded[i].Status != entries[i].Status {
				t.Fatalf("record %d status mismatch", i)
			}
		}
	})
}
