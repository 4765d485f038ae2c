package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{
			name:  "command only",
			parts: []string{"LOGOUT"},
			want:  "LOGOUT",
		},
		{
			name:  "command with fields",
			parts: []string{"LOGIN", "alice", "secret1"},
			want:  "LOGIN|alice|secret1",
		},
		{
			name:  "empty field preserved",
			parts: []string{"MSG", "bob", ""},
			want:  "MSG|bob|",
		},
		{
			name:  "content with separator in final field",
			parts: []string{"MSG", "bob", "a|b|c"},
			want:  "MSG|bob|a|b|c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildCommand(tt.parts...))
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "command only",
			raw:  "USERLIST",
			want: []string{"USERLIST"},
		},
		{
			name: "command with fields",
			raw:  "LOGIN|alice|secret1",
			want: []string{"LOGIN", "alice", "secret1"},
		},
		{
			name: "trailing empty field kept",
			raw:  "MSG|bob|",
			want: []string{"MSG", "bob", ""},
		},
		{
			name: "empty frame yields one empty field",
			raw:  "",
			want: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.raw))
		})
	}
}

func TestParseCommandN(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		maxParts int
		want     []string
	}{
		{
			name:     "separator survives in final field",
			raw:      "MSG|bob|hi|there|friend",
			maxParts: 3,
			want:     []string{"MSG", "bob", "hi|there|friend"},
		},
		{
			name:     "fewer fields than limit",
			raw:      "MSG|bob",
			maxParts: 3,
			want:     []string{"MSG", "bob"},
		},
		{
			name:     "zero limit falls back to full split",
			raw:      "LOGIN|alice|secret1",
			maxParts: 0,
			want:     []string{"LOGIN", "alice", "secret1"},
		},
		{
			name:     "incoming message with pipes in content",
			raw:      "INCOMING_MSG|alice|2024-03-01T10:00:00Z|42|a|b||c",
			maxParts: IncomingMsgParts,
			want:     []string{"INCOMING_MSG", "alice", "2024-03-01T10:00:00Z", "42", "a|b||c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommandN(tt.raw, tt.maxParts))
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"hello",
		"content|with|separators",
		"history;;and::field seps",
		"newline\nand\ttab",
		"unicode héllo ∀x∈ℝ",
	}

	for _, input := range inputs {
		encoded := EncodePayload(input)
		assert.NotContains(t, encoded, Separator)
		assert.NotContains(t, encoded, "\n")

		decoded, err := DecodePayload(encoded)
		require.NoError(t, err)
		assert.Equal(t, input, decoded)
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	// Decoding must fail explicitly, not silently truncate.
	_, err := DecodePayload("not!!valid@@base64")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestTrimFrame(t *testing.T) {
	assert.Equal(t, "LOGIN|a|b", TrimFrame("LOGIN|a|b\n"))
	assert.Equal(t, "LOGIN|a|b", TrimFrame("LOGIN|a|b\r\n"))
	assert.Equal(t, "LOGIN|a|b", TrimFrame("LOGIN|a|b"))
}

func TestMaxLineBytesBound(t *testing.T) {
	// A frame carrying a full-size encoded history payload must fit.
	content := strings.Repeat("x", 1000)
	frame := BuildCommand(RespIncomingMsg, "alice", "2024-03-01T10:00:00Z", "42", content)
	assert.Less(t, len(frame), MaxLineBytes)
}
