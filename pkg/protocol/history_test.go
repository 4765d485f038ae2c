package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRoundTrip(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		{Sender: "alice", Content: "hi bob", SentAt: base, ID: 1, Status: StatusDelivered},
		{Sender: "bob", Content: "content|with|pipes", SentAt: base.Add(time.Minute), ID: 2, Status: StatusDelivered},
		{Sender: "alice", Content: "seps ;; and :: inside", SentAt: base.Add(2 * time.Minute), ID: 3, Status: StatusSent},
		{Sender: "bob", Content: "", SentAt: base.Add(3 * time.Minute), ID: 4, Status: StatusSent},
	}

	payload := EncodeHistory(entries)

	decoded, err := DecodeHistory(payload)
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))

	for i, want := range entries {
		got := decoded[i]
		assert.Equal(t, want.Sender, got.Sender, "record %d sender", i)
		assert.Equal(t, want.Content, got.Content, "record %d content", i)
		assert.True(t, want.SentAt.Equal(got.SentAt), "record %d timestamp", i)
		assert.Equal(t, want.ID, got.ID, "record %d id", i)
		assert.Equal(t, want.Status, got.Status, "record %d status", i)
	}
}

func TestHistoryOrderPreserved(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var entries []HistoryEntry
	for i := 0; i < 20; i++ {
		entries = append(entries, HistoryEntry{
			Sender:  "alice",
			Content: "msg",
			SentAt:  base.Add(time.Duration(i) * time.Second),
			ID:      int64(i + 1),
			Status:  StatusDelivered,
		})
	}

	decoded, err := DecodeHistory(EncodeHistory(entries))
	require.NoError(t, err)
	require.Len(t, decoded, 20)
	for i, e := range decoded {
		assert.Equal(t, int64(i+1), e.ID)
	}
}

func TestDecodeHistoryEmpty(t *testing.T) {
	decoded, err := DecodeHistory("")
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeHistoryLegacyRecords(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    HistoryEntry
	}{
		{
			name:    "three-field record without status or id",
			payload: "alice::hello there::2023-11-05T08:30:00",
			want: HistoryEntry{
				Sender:  "alice",
				Content: "hello there",
				SentAt:  time.Date(2023, 11, 5, 8, 30, 0, 0, time.UTC),
				Status:  StatusUnknown,
			},
		},
		{
			name:    "four-field record with id but no status",
			payload: "bob::raw content::2023-11-05T08:30:00::17",
			want: HistoryEntry{
				Sender:  "bob",
				Content: "raw content",
				SentAt:  time.Date(2023, 11, 5, 8, 30, 0, 0, time.UTC),
				ID:      17,
				Status:  StatusUnknown,
			},
		},
		{
			name:    "legacy fractional-second timestamp",
			payload: "alice::hi::2023-11-05T08:30:00.123456",
			want: HistoryEntry{
				Sender:  "alice",
				Content: "hi",
				SentAt:  time.Date(2023, 11, 5, 8, 30, 0, 123456000, time.UTC),
				Status:  StatusUnknown,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeHistory(tt.payload)
			require.NoError(t, err)
			require.Len(t, decoded, 1)
			got := decoded[0]
			assert.Equal(t, tt.want.Sender, got.Sender)
			assert.Equal(t, tt.want.Content, got.Content)
			assert.True(t, tt.want.SentAt.Equal(got.SentAt))
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Status, got.Status)
		})
	}
}

func TestDecodeHistoryNonBase64ContentFallsBack(t *testing.T) {
	// Five-field record where content is not valid base64: treat as literal.
	payload := "alice::plain text!::2024-03-01T10:00:00Z::5::SENT"
	decoded, err := DecodeHistory(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "plain text!", decoded[0].Content)
	assert.Equal(t, StatusSent, decoded[0].Status)
}

func TestDecodeHistoryMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "too few fields", payload: "alice::hello"},
		{name: "too many fields", payload: "a::b::c::d::e::f"},
		{name: "bad timestamp", payload: "alice::aGk=::not-a-time::1::SENT"},
		{name: "bad message id", payload: "alice::aGk=::2024-03-01T10:00:00Z::nope::SENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHistory(tt.payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedHistory)
		})
	}
}

func TestHistoryPayloadNesting(t *testing.T) {
	// The dispatcher wraps the whole payload in base64 before framing it, so
	// the HISTORY_DATA frame always has exactly two fields no matter what the
	// conversation contains.
	entries := []HistoryEntry{
		{Sender: "alice", Content: "tricky ;; :: | payload", SentAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), ID: 9, Status: StatusDelivered},
	}

	frame := BuildCommand(RespHistoryData, EncodePayload(EncodeHistory(entries)))
	parts := ParseCommand(frame)
	require.Len(t, parts, 2)
	require.Equal(t, RespHistoryData, parts[0])

	inner, err := DecodePayload(parts[1])
	require.NoError(t, err)
	decoded, err := DecodeHistory(inner)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "tricky ;; :: | payload", decoded[0].Content)
	assert.False(t, strings.Contains(parts[1], Separator))
}
