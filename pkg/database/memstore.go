package database

import (
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same semantics as the SQLite
// implementation. It backs the server test suite and is safe for concurrent
// use.
type MemStore struct {
	mu            sync.RWMutex
	users         map[int64]*User
	usersByName   map[string]int64
	messages      map[int64]*Message
	nextUserID    int64
	nextMessageID int64

	// now is swappable so tests can control message timestamps.
	now func() int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:         make(map[int64]*User),
		usersByName:   make(map[string]int64),
		messages:      make(map[int64]*Message),
		nextUserID:    1,
		nextMessageID: 1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *MemStore) CreateUser(username, passwordHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByName[username]; exists {
		return 0, ErrUsernameTaken
	}

	id := s.nextUserID
	s.nextUserID++
	s.users[id] = &User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Status:       UserStatusOffline,
		CreatedAt:    s.now(),
	}
	s.usersByName[username] = id
	return id, nil
}

func (s *MemStore) GetUserByUsername(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	user := *s.users[id]
	return &user, nil
}

func (s *MemStore) GetUserByID(userID int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemStore) ListUsers() ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*User, 0, len(s.users))
	for _, user := range s.users {
		copied := *user
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *MemStore) UpdateUserStatus(userID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Status = status
	return nil
}

func (s *MemStore) SetAllOffline() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		user.Status = UserStatusOffline
	}
	return nil
}

func (s *MemStore) SaveMessage(senderID, receiverID int64, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.users[senderID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if _, ok := s.users[receiverID]; !ok {
		return nil, ErrUserNotFound
	}

	id := s.nextMessageID
	s.nextMessageID++
	msg := &Message{
		ID:         id,
		SenderID:   senderID,
		SenderName: sender.Username,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     s.now(),
		Status:     MessageStatusSent,
	}
	s.messages[id] = msg

	copied := *msg
	return &copied, nil
}

func (s *MemStore) UpdateMessageStatus(messageID int64, status string) error {
	if status != MessageStatusDelivered {
		return ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Status == MessageStatusSent {
		msg.Status = MessageStatusDelivered
	}
	return nil
}

func (s *MemStore) PendingMessages(receiverID int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*Message
	for _, msg := range s.messages {
		if msg.ReceiverID == receiverID && msg.Status == MessageStatusSent {
			copied := *msg
			pending = append(pending, &copied)
		}
	}
	sortMessages(pending)
	return pending, nil
}

func (s *MemStore) Conversation(userID1, userID2 int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conversation []*Message
	for _, msg := range s.messages {
		if (msg.SenderID == userID1 && msg.ReceiverID == userID2) ||
			(msg.SenderID == userID2 && msg.ReceiverID == userID1) {
			copied := *msg
			conversation = append(conversation, &copied)
		}
	}
	sortMessages(conversation)
	return conversation, nil
}

func (s *MemStore) Close() error {
	return nil
}

// sortMessages orders by send time, breaking ties on insertion id the way the
// SQLite queries do.
func sortMessages(messages []*Message) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].SentAt != messages[j].SentAt {
			return messages[i].SentAt < messages[j].SentAt
		}
		return messages[i].ID < messages[j].ID
	})
}
