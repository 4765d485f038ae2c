package database

import "errors"

// User status values as persisted in the store.
const (
	UserStatusOnline  = "ONLINE"
	UserStatusOffline = "OFFLINE"
)

// Message delivery status values. The only legal transition is
// MessageStatusSent → MessageStatusDelivered.
const (
	MessageStatusSent      = "SENT"
	MessageStatusDelivered = "DELIVERED"
)

var (
	// ErrUserNotFound indicates no user exists with the given name or id.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrInvalidStatus indicates a disallowed delivery-status transition.
	ErrInvalidStatus = errors.New("invalid message status transition")
)

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Status       string // UserStatusOnline or UserStatusOffline
	CreatedAt    int64  // Unix timestamp in milliseconds
}

// Message is one persisted direct message. SenderName is denormalized from
// the User table so callers can frame messages without a second lookup.
type Message struct {
	ID         int64
	SenderID   int64
	SenderName string
	ReceiverID int64
	Content    string
	SentAt     int64 // Unix timestamp in milliseconds
	Status     string
}

// Store is the persistence contract the server core depends on. Transaction
// handling, schema, and hashing details are the implementation's concern;
// every call is individually atomic.
type Store interface {
	// CreateUser inserts a new user with status OFFLINE. Returns
	// ErrUsernameTaken if the name is already registered.
	CreateUser(username, passwordHash string) (int64, error)
	// GetUserByUsername returns ErrUserNotFound if no such user exists.
	GetUserByUsername(username string) (*User, error)
	// GetUserByID returns ErrUserNotFound if no such user exists.
	GetUserByID(userID int64) (*User, error)
	// ListUsers returns all users sorted by username.
	ListUsers() ([]*User, error)
	// UpdateUserStatus sets a user's presence status.
	UpdateUserStatus(userID int64, status string) error
	// SetAllOffline resets every user to OFFLINE. Run at boot so a crash
	// that skipped disconnect cleanup cannot leave users stuck ONLINE.
	SetAllOffline() error

	// SaveMessage persists a new message with status SENT and returns it
	// with its id and timestamp filled in.
	SaveMessage(senderID, receiverID int64, content string) (*Message, error)
	// UpdateMessageStatus applies the SENT → DELIVERED transition. Marking
	// an already-delivered message is a no-op; any other transition is
	// ErrInvalidStatus.
	UpdateMessageStatus(messageID int64, status string) error
	// PendingMessages returns messages addressed to receiverID still in
	// status SENT, in original send order.
	PendingMessages(receiverID int64) ([]*Message, error)
	// Conversation returns all messages between the two users in
	// chronological order.
	Conversation(userID1, userID2 int64) ([]*Message, error)

	Close() error
}
