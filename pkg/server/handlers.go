package server

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/pchastel/causerie/pkg/database"
	"github.com/pchastel/causerie/pkg/protocol"
)

// usernameRegex bounds what a stored username can look like. Keeping the
// separator characters out of usernames protects every downstream frame
// that embeds them.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

// handleLogin authenticates a session: LOGIN|username|password.
func (s *Server) handleLogin(sess *Session, line string) error {
	parts := protocol.ParseCommand(line)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return s.send(sess, protocol.RespLoginFail, "Missing username or password")
	}
	username, password := parts[1], parts[2]

	if sess.Authenticated() {
		return s.send(sess, protocol.RespLoginFail, "Already authenticated")
	}

	user, err := s.store.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			// Same reply as a bad password, so the response does not
			// reveal which usernames exist.
			return s.send(sess, protocol.RespLoginFail, "Invalid credentials")
		}
		errorLog.Printf("Session %d: login lookup failed for %q: %v", sess.ID, username, err)
		return s.send(sess, protocol.RespLoginFail, "Internal error")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return s.send(sess, protocol.RespLoginFail, "Invalid credentials")
	}

	// The registry insert is the single point that enforces one live
	// session per user; checking first and inserting later would race.
	if !s.registry.TryRegister(user.Username, sess) {
		return s.send(sess, protocol.RespAlreadyConnected, "User already connected from another session")
	}

	sess.setAuthenticated(user.ID, user.Username)
	s.metrics.RecordOnlineUsers(s.registry.Count())

	if err := s.store.UpdateUserStatus(user.ID, database.UserStatusOnline); err != nil {
		errorLog.Printf("Session %d: failed to mark %q online: %v", sess.ID, user.Username, err)
	}

	if err := s.send(sess, protocol.RespLoginOK, strconv.FormatInt(user.ID, 10), user.Username); err != nil {
		return err
	}

	s.broadcastStatusChange(user.Username, database.UserStatusOnline)
	s.deliverPendingMessages(sess)

	return nil
}

// handleRegister creates an account: REGISTER|username|password. Registration
// never authenticates the session; the client logs in afterwards.
func (s *Server) handleRegister(sess *Session, line string) error {
	parts := protocol.ParseCommand(line)
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return s.send(sess, protocol.RespRegisterFail, "Missing username or password")
	}
	username, password := parts[1], parts[2]

	if !usernameRegex.MatchString(username) || len(username) > s.config.MaxUsernameLength {
		return s.send(sess, protocol.RespRegisterFail, "Invalid username")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		errorLog.Printf("Session %d: bcrypt failure: %v", sess.ID, err)
		return s.send(sess, protocol.RespRegisterFail, "Internal error")
	}

	if _, err := s.store.CreateUser(username, string(hash)); err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return s.send(sess, protocol.RespRegisterFail, "Username already taken")
		}
		errorLog.Printf("Session %d: failed to create user %q: %v", sess.ID, username, err)
		return s.send(sess, protocol.RespRegisterFail, "Internal error")
	}

	return s.send(sess, protocol.RespRegisterOK)
}

// handleSendMessage routes one direct message: MSG|receiver|content. The
// message is persisted before any delivery attempt, so a crash between the
// save and the push degrades to store-and-forward rather than losing data.
func (s *Server) handleSendMessage(sess *Session, line string) error {
	if !sess.Authenticated() {
		return s.send(sess, protocol.RespMsgFail, "Not authenticated")
	}

	// Bounded split: the content field may itself contain separators.
	parts := protocol.ParseCommandN(line, 3)
	if len(parts) < 3 || parts[1] == "" {
		return s.send(sess, protocol.RespMsgFail, "Missing recipient or content")
	}
	receiverName, content := parts[1], parts[2]

	if strings.TrimSpace(content) == "" {
		return s.send(sess, protocol.RespMsgFail, "Empty message")
	}
	if utf8.RuneCountInString(content) > s.config.MaxMessageLength {
		return s.send(sess, protocol.RespMsgFail, "Message too long")
	}

	receiver, err := s.store.GetUserByUsername(receiverName)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return s.send(sess, protocol.RespMsgFail, "Recipient not found")
		}
		errorLog.Printf("Session %d: recipient lookup failed for %q: %v", sess.ID, receiverName, err)
		return s.send(sess, protocol.RespMsgFail, "Internal error")
	}

	sender, err := s.store.GetUserByUsername(sess.Username())
	if err != nil {
		errorLog.Printf("Session %d: sender lookup failed for %q: %v", sess.ID, sess.Username(), err)
		return s.send(sess, protocol.RespMsgFail, "Internal error")
	}

	msg, err := s.store.SaveMessage(sender.ID, receiver.ID, content)
	if err != nil {
		errorLog.Printf("Session %d: failed to save message: %v", sess.ID, err)
		return s.send(sess, protocol.RespMsgFail, "Internal error")
	}

	if err := s.send(sess, protocol.RespMsgOK, strconv.FormatInt(msg.ID, 10)); err != nil {
		return err
	}

	// Look the recipient up only after the save, so a recipient who logs
	// in concurrently either gets the push now or finds it pending.
	if receiverSess, online := s.registry.Get(receiver.Username); online {
		pushErr := s.send(receiverSess, protocol.RespIncomingMsg,
			sender.Username,
			protocol.FormatWireTime(time.UnixMilli(msg.SentAt)),
			strconv.FormatInt(msg.ID, 10),
			content,
		)
		if pushErr != nil {
			// Push failed, the message stays SENT and is redelivered
			// on the recipient's next login.
			debugLog.Printf("Session %d: push to %q failed: %v", sess.ID, receiver.Username, pushErr)
			s.metrics.RecordQueuedMessage()
			return nil
		}
		if err := s.store.UpdateMessageStatus(msg.ID, database.MessageStatusDelivered); err != nil {
			errorLog.Printf("Session %d: failed to mark message %d delivered: %v", sess.ID, msg.ID, err)
		}
		s.metrics.RecordImmediateDelivery()
	} else {
		s.metrics.RecordQueuedMessage()
	}

	return nil
}

// handleGetUsers answers USERLIST with every known account except the caller,
// as a comma-separated list of name:status pairs.
func (s *Server) handleGetUsers(sess *Session) error {
	if !sess.Authenticated() {
		return s.send(sess, protocol.RespError, "Not authenticated")
	}

	users, err := s.store.ListUsers()
	if err != nil {
		errorLog.Printf("Session %d: user list failed: %v", sess.ID, err)
		return s.send(sess, protocol.RespError, "Internal error")
	}

	entries := make([]string, 0, len(users))
	for _, u := range users {
		if u.Username == sess.Username() {
			continue
		}
		entries = append(entries, u.Username+":"+u.Status)
	}

	return s.send(sess, protocol.RespUserList, strings.Join(entries, ","))
}

// handleGetHistory answers HISTORY|otherUser with the full conversation
// between the caller and that user, oldest first, as one encoded payload.
func (s *Server) handleGetHistory(sess *Session, line string) error {
	if !sess.Authenticated() {
		return s.send(sess, protocol.RespError, "Not authenticated")
	}

	parts := protocol.ParseCommand(line)
	if len(parts) < 2 || parts[1] == "" {
		return s.send(sess, protocol.RespError, "Missing username")
	}

	other, err := s.store.GetUserByUsername(parts[1])
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return s.send(sess, protocol.RespError, "User not found")
		}
		errorLog.Printf("Session %d: history lookup failed for %q: %v", sess.ID, parts[1], err)
		return s.send(sess, protocol.RespError, "Internal error")
	}

	messages, err := s.store.Conversation(sess.UserID(), other.ID)
	if err != nil {
		errorLog.Printf("Session %d: conversation query failed: %v", sess.ID, err)
		return s.send(sess, protocol.RespError, "Internal error")
	}

	entries := make([]protocol.HistoryEntry, len(messages))
	for i, m := range messages {
		entries[i] = protocol.HistoryEntry{
			Sender:  m.SenderName,
			Content: m.Content,
			SentAt:  time.UnixMilli(m.SentAt),
			ID:      m.ID,
			Status:  m.Status,
		}
	}

	return s.send(sess, protocol.RespHistoryData, protocol.EncodePayload(protocol.EncodeHistory(entries)))
}

// handleLogout tears the session down gracefully.
func (s *Server) handleLogout(sess *Session) error {
	s.disconnect(sess)
	return ErrClientDisconnecting
}

// disconnect is the single cleanup path for a session, shared by LOGOUT,
// read-loop exit, and shutdown. It is idempotent: the first caller wins.
func (s *Server) disconnect(sess *Session) {
	sess.closeOnce.Do(func() {
		userID, username := sess.clearAuthenticated()
		if username != "" {
			s.registry.Unregister(username, sess)
			s.metrics.RecordOnlineUsers(s.registry.Count())

			if err := s.store.UpdateUserStatus(userID, database.UserStatusOffline); err != nil {
				errorLog.Printf("Session %d: failed to mark %q offline: %v", sess.ID, username, err)
			}
			s.broadcastStatusChange(username, database.UserStatusOffline)
		}
		sess.Conn.Close()
	})
}

// deliverPendingMessages pushes every stored-and-not-yet-delivered message to
// a freshly logged-in session, oldest first, flipping each to DELIVERED as it
// goes out. A write failure stops the sweep; the rest stay pending.
func (s *Server) deliverPendingMessages(sess *Session) {
	pending, err := s.store.PendingMessages(sess.UserID())
	if err != nil {
		errorLog.Printf("Session %d: pending query failed: %v", sess.ID, err)
		return
	}

	for _, m := range pending {
		err := s.send(sess, protocol.RespIncomingMsg,
			m.SenderName,
			protocol.FormatWireTime(time.UnixMilli(m.SentAt)),
			strconv.FormatInt(m.ID, 10),
			m.Content,
		)
		if err != nil {
			debugLog.Printf("Session %d: pending delivery interrupted: %v", sess.ID, err)
			return
		}
		if err := s.store.UpdateMessageStatus(m.ID, database.MessageStatusDelivered); err != nil {
			errorLog.Printf("Session %d: failed to mark message %d delivered: %v", sess.ID, m.ID, err)
		}
		s.metrics.RecordPendingDelivered()
	}
}

// broadcastStatusChange fans a USER_STATUS_CHANGE out to every online user
// except the subject. Delivery is best effort; a dead peer is cleaned up by
// its own read loop.
func (s *Server) broadcastStatusChange(username, status string) {
	s.metrics.RecordPresenceBroadcast()
	s.registry.BroadcastExcept(username, protocol.RespStatusChange, username, status)
}
