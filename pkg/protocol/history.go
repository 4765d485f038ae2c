package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message status labels as they appear on the wire.
const (
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	// StatusUnknown marks records decoded from the legacy history format,
	// which carried no status field.
	StatusUnknown = "UNKNOWN"
)

var ErrMalformedHistory = errors.New("malformed history record")

// Legacy peers sent java.time-style local timestamps without a zone.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// HistoryEntry is one message in a serialized conversation.
type HistoryEntry struct {
	Sender  string
	Content string
	SentAt  time.Time
	ID      int64
	Status  string
}

// EncodeHistory serializes an ordered conversation into a single payload
// string. Records are joined by HistorySep and fields by HistoryFieldSep;
// the content field is base64-encoded so neither separator sequence inside a
// message body can break the record structure. The dispatcher wraps the whole
// payload in base64 again before placing it in a HISTORY_DATA frame, so the
// payload itself can never fragment the outer frame.
//
// Record shape: sender::base64(content)::timestamp::id::status
func EncodeHistory(entries []HistoryEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(HistorySep)
		}
		sb.WriteString(e.Sender)
		sb.WriteString(HistoryFieldSep)
		sb.WriteString(EncodePayload(e.Content))
		sb.WriteString(HistoryFieldSep)
		sb.WriteString(e.SentAt.UTC().Format(time.RFC3339))
		sb.WriteString(HistoryFieldSep)
		sb.WriteString(strconv.FormatInt(e.ID, 10))
		sb.WriteString(HistoryFieldSep)
		sb.WriteString(e.Status)
	}
	return sb.String()
}

// DecodeHistory parses a history payload (already unwrapped from its outer
// base64) back into the ordered message sequence.
//
// Two legacy record shapes from the pre-base64 encoding policy are accepted
// for backward compatibility: sender::content::timestamp and
// sender::content::timestamp::id, both with raw (unencoded) content and no
// status field. Such records decode with StatusUnknown.
func DecodeHistory(payload string) ([]HistoryEntry, error) {
	if payload == "" {
		return nil, nil
	}

	records := strings.Split(payload, HistorySep)
	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		fields := strings.Split(record, HistoryFieldSep)

		var entry HistoryEntry
		switch len(fields) {
		case 5:
			entry.Sender = fields[0]
			// A content field that is not valid base64 came from an
			// older peer; keep it as literal text.
			if content, err := DecodePayload(fields[1]); err == nil {
				entry.Content = content
			} else {
				entry.Content = fields[1]
			}
			sentAt, err := parseWireTime(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedHistory, fields[2])
			}
			entry.SentAt = sentAt
			id, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad message id %q", ErrMalformedHistory, fields[3])
			}
			entry.ID = id
			entry.Status = fields[4]

		case 3, 4:
			// Legacy shape: raw content, no status.
			entry.Sender = fields[0]
			entry.Content = fields[1]
			sentAt, err := parseWireTime(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedHistory, fields[2])
			}
			entry.SentAt = sentAt
			if len(fields) == 4 {
				id, err := strconv.ParseInt(fields[3], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: bad message id %q", ErrMalformedHistory, fields[3])
				}
				entry.ID = id
			}
			entry.Status = StatusUnknown

		default:
			return nil, fmt.Errorf("%w: %d fields", ErrMalformedHistory, len(fields))
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// FormatWireTime renders a timestamp the way all frames carry them.
func FormatWireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseWireTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
