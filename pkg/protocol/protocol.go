package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxLineBytes is the maximum allowed length of a single wire frame,
	// including the command name but excluding the terminating newline.
	MaxLineBytes = 64 * 1024

	// Separator delimits fields within a frame.
	Separator = "|"

	// HistorySep delimits message records inside a history payload.
	HistorySep = ";;"

	// HistoryFieldSep delimits fields inside a single history record.
	HistoryFieldSep = "::"
)

// Client → server commands
const (
	CmdLogin    = "LOGIN"    // LOGIN|user|pass
	CmdRegister = "REGISTER" // REGISTER|user|pass
	CmdLogout   = "LOGOUT"   // LOGOUT
	CmdSendMsg  = "MSG"      // MSG|toUser|content (content may contain |)
	CmdUserList = "USERLIST" // USERLIST
	CmdHistory  = "HISTORY"  // HISTORY|otherUser
)

// Server → client responses
const (
	RespLoginOK          = "LOGIN_OK"           // LOGIN_OK|id|username
	RespLoginFail        = "LOGIN_FAIL"         // LOGIN_FAIL|reason
	RespAlreadyConnected = "ALREADY_CONNECTED"  // ALREADY_CONNECTED|reason
	RespRegisterOK       = "REGISTER_OK"        // REGISTER_OK
	RespRegisterFail     = "REGISTER_FAIL"      // REGISTER_FAIL|reason
	RespMsgOK            = "MSG_OK"             // MSG_OK|messageId
	RespMsgFail          = "MSG_FAIL"           // MSG_FAIL|reason
	RespIncomingMsg      = "INCOMING_MSG"       // INCOMING_MSG|sender|timestamp|messageId|content (content last, may contain |)
	RespUserList         = "USER_LIST"          // USER_LIST|name:status,name:status,...
	RespHistoryData      = "HISTORY_DATA"       // HISTORY_DATA|base64(payload)
	RespStatusChange     = "USER_STATUS_CHANGE" // USER_STATUS_CHANGE|username|status
	RespError            = "ERROR"              // ERROR|reason
)

// IncomingMsgParts is the field count for a bounded split of INCOMING_MSG,
// so that separator characters inside the content survive parsing.
const IncomingMsgParts = 5

var (
	ErrFrameTooLong   = errors.New("frame exceeds maximum line length")
	ErrEmptyFrame     = errors.New("empty frame")
	ErrInvalidPayload = errors.New("invalid base64 payload")
)

// BuildCommand joins the given parts into one wire frame (without the
// terminating newline). Only the final part may safely contain the separator.
func BuildCommand(parts ...string) string {
	return strings.Join(parts, Separator)
}

// ParseCommand splits a frame into all of its fields. Use ParseCommandN when
// the last field is free-form content that may itself contain the separator.
func ParseCommand(raw string) []string {
	return strings.Split(raw, Separator)
}

// ParseCommandN splits a frame into at most maxParts fields, preserving any
// separator characters inside the final field. A maxParts of zero or less
// behaves like ParseCommand.
//
// ParseCommandN("MSG|bob|a|b", 3) → ["MSG", "bob", "a|b"]
func ParseCommandN(raw string, maxParts int) []string {
	if maxParts <= 0 {
		return ParseCommand(raw)
	}
	return strings.SplitN(raw, Separator, maxParts)
}

// EncodePayload wraps arbitrary text in base64 so it can travel as a single
// frame field regardless of what delimiter characters it contains.
func EncodePayload(payload string) string {
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// DecodePayload reverses EncodePayload. Malformed input is an explicit error,
// never a silent truncation; callers that need compatibility with frames from
// the pre-base64 encoding policy fall back to treating the raw text as
// literal content.
func DecodePayload(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return string(decoded), nil
}

// TrimFrame strips the line terminator from a raw frame as read off the wire.
// Both bare LF and CRLF endings are accepted.
func TrimFrame(raw string) string {
	raw = strings.TrimSuffix(raw, "\n")
	return strings.TrimSuffix(raw, "\r")
}
