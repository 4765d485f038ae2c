package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Store.
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

var _ Store = (*DB)(nil)

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Multiple readers in WAL mode, but writes go through a dedicated
	// single connection (SQLite limitation).
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}

	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{conn: conn, writeConn: writeConn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes both connections.
func (db *DB) Close() error {
	writeErr := db.writeConn.Close()
	readErr := db.conn.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS User (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'OFFLINE',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS Message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	sent_at INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'SENT',
	FOREIGN KEY (sender_id) REFERENCES User(id) ON DELETE CASCADE,
	FOREIGN KEY (receiver_id) REFERENCES User(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_pending ON Message(receiver_id, status, sent_at);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON Message(sender_id, receiver_id, sent_at);
`

	_, err := db.conn.Exec(schema)
	return err
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateUser inserts a new user. The caller provides the already-hashed
// credential; hashing policy is not the store's concern here.
func (db *DB) CreateUser(username, passwordHash string) (int64, error) {
	result, err := db.writeConn.Exec(`
		INSERT INTO User (username, password_hash, status, created_at)
		VALUES (?, ?, ?, ?)
	`, username, passwordHash, UserStatusOffline, nowMillis())

	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}

	return result.LastInsertId()
}

// GetUserByUsername retrieves a user by name for login validation.
func (db *DB) GetUserByUsername(username string) (*User, error) {
	var user User
	err := db.conn.QueryRow(`
		SELECT id, username, password_hash, status, created_at
		FROM User
		WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Status, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// GetUserByID retrieves a user by id.
func (db *DB) GetUserByID(userID int64) (*User, error) {
	var user User
	err := db.conn.QueryRow(`
		SELECT id, username, password_hash, status, created_at
		FROM User
		WHERE id = ?
	`, userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Status, &user.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// ListUsers retrieves all registered users, sorted by username.
func (db *DB) ListUsers() ([]*User, error) {
	rows, err := db.conn.Query(`
		SELECT id, username, password_hash, status, created_at
		FROM User
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Status, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

// UpdateUserStatus sets a user's presence status.
func (db *DB) UpdateUserStatus(userID int64, status string) error {
	result, err := db.writeConn.Exec(`
		UPDATE User SET status = ? WHERE id = ?
	`, status, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetAllOffline resets every user's status to OFFLINE.
func (db *DB) SetAllOffline() error {
	_, err := db.writeConn.Exec(`UPDATE User SET status = ?`, UserStatusOffline)
	return err
}

// SaveMessage persists a new message with status SENT.
func (db *DB) SaveMessage(senderID, receiverID int64, content string) (*Message, error) {
	sentAt := nowMillis()
	result, err := db.writeConn.Exec(`
		INSERT INTO Message (sender_id, receiver_id, content, sent_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, senderID, receiverID, content, sentAt, MessageStatusSent)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	var senderName string
	if err := db.conn.QueryRow(`SELECT username FROM User WHERE id = ?`, senderID).Scan(&senderName); err != nil {
		return nil, err
	}

	return &Message{
		ID:         id,
		SenderID:   senderID,
		SenderName: senderName,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     sentAt,
		Status:     MessageStatusSent,
	}, nil
}

// UpdateMessageStatus applies the SENT → DELIVERED transition. Re-marking an
// already-delivered message is a no-op; DELIVERED never goes back to SENT.
func (db *DB) UpdateMessageStatus(messageID int64, status string) error {
	if status != MessageStatusDelivered {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	result, err := db.writeConn.Exec(`
		UPDATE Message SET status = ? WHERE id = ? AND status = ?
	`, MessageStatusDelivered, messageID, MessageStatusSent)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish "already delivered" (fine) from "no such message".
		var exists int
		err := db.conn.QueryRow(`SELECT 1 FROM Message WHERE id = ?`, messageID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return err
	}
	return nil
}

// PendingMessages returns undelivered messages for a receiver in send order.
func (db *DB) PendingMessages(receiverID int64) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT m.id, m.sender_id, u.username, m.receiver_id, m.content, m.sent_at, m.status
		FROM Message m
		JOIN User u ON u.id = m.sender_id
		WHERE m.receiver_id = ? AND m.status = ?
		ORDER BY m.sent_at ASC, m.id ASC
	`, receiverID, MessageStatusSent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Conversation returns the full message history between two users in
// chronological order.
func (db *DB) Conversation(userID1, userID2 int64) ([]*Message, error) {
	rows, err := db.conn.Query(`
		SELECT m.id, m.sender_id, u.username, m.receiver_id, m.content, m.sent_at, m.status
		FROM Message m
		JOIN User u ON u.id = m.sender_id
		WHERE (m.sender_id = ? AND m.receiver_id = ?)
		   OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.sent_at ASC, m.id ASC
	`, userID1, userID2, userID2, userID1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.ReceiverID, &m.Content, &m.SentAt, &m.Status); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
