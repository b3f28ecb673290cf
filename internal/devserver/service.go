// Package devserver is an in-memory stand-in for the messaging backend. It
// serves the same REST and websocket surface the client consumes, so local
// development and integration tests run without the real platform.
package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/openvibe/messaging-client/internal/model"
)

var (
	errUserNotFound         = errors.New("user not found")
	errConversationNotFound = errors.New("conversation not found")
	errMessageNotFound      = errors.New("message not found")
	errNotParticipant       = errors.New("not a participant")
	errNotSender            = errors.New("only the sender can delete a message")
)

type conversation struct {
	id        int64
	userA     int64
	userB     int64
	updatedAt time.Time
	unread    map[int64]int
}

func (c *conversation) other(userID int64) int64 {
	if c.userA == userID {
		return c.userB
	}
	return c.userA
}

func (c *conversation) has(userID int64) bool {
	return c.userA == userID || c.userB == userID
}

// Service is the in-memory data layer. All access goes through the mutex.
type Service struct {
	mu sync.Mutex

	users         map[int64]model.User
	usersByName   map[string]int64
	conversations map[int64]*conversation
	messages      map[int64][]model.Message
	notifications map[int64][]model.Notification
	chatbot       map[int64]*model.ChatbotConversation

	userSeq         int64
	conversationSeq int64
	messageSeq      int64
	notificationSeq int64

	sanitizer *bluemonday.Policy
}

// NewService returns a service seeded with a few development users.
func NewService() *Service {
	s := &Service{
		users:         make(map[int64]model.User),
		usersByName:   make(map[string]int64),
		conversations: make(map[int64]*conversation),
		messages:      make(map[int64][]model.Message),
		notifications: make(map[int64][]model.Notification),
		chatbot:       make(map[int64]*model.ChatbotConversation),
		sanitizer:     bluemonday.StrictPolicy(),
	}
	for _, seed := range []struct{ username, fullName string }{
		{"alice", "Alice Martin"},
		{"bob", "Bob Chen"},
		{"carol", "Carol Okafor"},
	} {
		s.createUserLocked(seed.username, seed.fullName)
	}
	return s
}

func (s *Service) createUserLocked(username, fullName string) model.User {
	s.userSeq++
	user := model.User{
		ID:       s.userSeq,
		Username: username,
		FullName: fullName,
		Email:    username + "@example.com",
	}
	s.users[user.ID] = user
	s.usersByName[username] = user.ID
	return user
}

// Login resolves a username to a user, creating one on first sight so any
// name works during development.
func (s *Service) Login(username string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.usersByName[username]; ok {
		return s.users[id]
	}
	return s.createUserLocked(username, username)
}

// UserByID looks up a user.
func (s *Service) UserByID(id int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return model.User{}, errUserNotFound
	}
	return user, nil
}

// SearchUsers returns users whose username or full name contains the keyword,
// excluding the searcher.
func (s *Service) SearchUsers(currentID int64, keyword string, page, size int) []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyword = strings.ToLower(keyword)
	var matched []model.User
	for _, user := range s.users {
		if user.ID == currentID {
			continue
		}
		if keyword == "" ||
			strings.Contains(strings.ToLower(user.Username), keyword) ||
			strings.Contains(strings.ToLower(user.FullName), keyword) {
			matched = append(matched, user)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Username < matched[j].Username })
	return paginate(matched, page, size)
}

// ConversationSummaries lists the user's conversations in the flat summary
// shape, most recently updated first.
func (s *Service) ConversationSummaries(userID int64) []model.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ConversationSummary
	for _, conv := range s.conversations {
		if !conv.has(userID) {
			continue
		}
		other := s.users[conv.other(userID)]
		summary := model.ConversationSummary{
			ID:                 conv.id,
			OtherUserID:        other.ID,
			OtherUsername:      other.Username,
			OtherUserAvatarURL: other.AvatarURL,
			UpdatedAt:          conv.updatedAt,
			UnreadCount:        conv.unread[userID],
		}
		if msgs := s.messages[conv.id]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			summary.LastMessage = &last
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// ConversationMessages returns one page of a conversation's messages in
// ascending creation order and clears the reader's unread counter.
func (s *Service) ConversationMessages(userID, conversationID int64, page, size int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, errConversationNotFound
	}
	if !conv.has(userID) {
		return nil, errNotParticipant
	}
	conv.unread[userID] = 0
	return paginate(s.messages[conversationID], page, size), nil
}

// SendMessage stores a sanitized message in the pair's conversation, creating
// the conversation on first contact. The recipient's unread counter and a
// NEW_MESSAGE notification are updated alongside.
func (s *Service) SendMessage(senderID, recipientID int64, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.users[senderID]
	if !ok {
		return model.Message{}, errUserNotFound
	}
	if _, ok := s.users[recipientID]; !ok {
		return model.Message{}, errUserNotFound
	}

	conv := s.pairConversationLocked(senderID, recipientID)
	now := time.Now().UTC()

	s.messageSeq++
	msg := model.Message{
		ID:              s.messageSeq,
		ConversationID:  model.ConversationID(conv.id),
		SenderID:        senderID,
		Content:         s.sanitizer.Sanitize(content),
		MessageType:     model.MessageTypeText,
		CreatedAt:       now,
		SenderUsername:  sender.Username,
		SenderAvatarURL: sender.AvatarURL,
	}
	s.messages[conv.id] = append(s.messages[conv.id], msg)
	conv.updatedAt = now
	conv.unread[recipientID]++

	s.notificationSeq++
	s.notifications[recipientID] = append(s.notifications[recipientID], model.Notification{
		ID:             s.notificationSeq,
		RecipientID:    recipientID,
		SenderID:       senderID,
		SenderUsername: sender.Username,
		SenderFullName: sender.FullName,
		Type:           model.NotificationNewMessage,
		Message:        fmt.Sprintf("%s sent you a message", sender.Username),
		CreatedAt:      now,
	})

	return msg, nil
}

func (s *Service) pairConversationLocked(a, b int64) *conversation {
	for _, conv := range s.conversations {
		if (conv.userA == a && conv.userB == b) || (conv.userA == b && conv.userB == a) {
			return conv
		}
	}
	s.conversationSeq++
	conv := &conversation{
		id:        s.conversationSeq,
		userA:     a,
		userB:     b,
		updatedAt: time.Now().UTC(),
		unread:    make(map[int64]int),
	}
	s.conversations[conv.id] = conv
	return conv
}

// PairConversationID resolves the conversation shared by two users, if any.
func (s *Service) PairConversationID(a, b int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if (conv.userA == a && conv.userB == b) || (conv.userA == b && conv.userB == a) {
			return conv.id, true
		}
	}
	return 0, false
}

// DeleteMessage removes a message; only the sender may delete it.
func (s *Service) DeleteMessage(userID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for convID, msgs := range s.messages {
		for i, msg := range msgs {
			if msg.ID != messageID {
				continue
			}
			if msg.SenderID != userID {
				return errNotSender
			}
			s.messages[convID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return errMessageNotFound
}

// Notifications returns one page of the user's notifications, newest first.
func (s *Service) Notifications(userID int64, page, size int) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]model.Notification(nil), s.notifications[userID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, page, size)
}

// UnreadNotificationCount counts the user's unread notifications.
func (s *Service) UnreadNotificationCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *Service) MarkNotificationRead(userID, notificationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.notifications[userID]
	for i := range list {
		if list[i].ID == notificationID {
			list[i].IsRead = true
			return nil
		}
	}
	return errMessageNotFound
}

// MarkAllNotificationsRead marks every notification of the user as read.
func (s *Service) MarkAllNotificationsRead(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.notifications[userID]
	for i := range list {
		list[i].IsRead = true
	}
}

// ChatbotThread returns the user's chatbot conversation, creating it on
// first use.
func (s *Service) ChatbotThread(userID int64) model.ChatbotConversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.chatbotThreadLocked(userID)
}

func (s *Service) chatbotThreadLocked(userID int64) *model.ChatbotConversation {
	thread, ok := s.chatbot[userID]
	if !ok {
		now := time.Now().UTC()
		thread = &model.ChatbotConversation{
			ID:          userID,
			UserID:      userID,
			BotUsername: "support-bot",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.chatbot[userID] = thread
	}
	return thread
}

// AppendChatbotTurn records one turn in the user's chatbot thread.
func (s *Service) AppendChatbotTurn(userID int64, role, content string) model.ChatbotMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.chatbotThreadLocked(userID)
	s.messageSeq++
	msg := model.ChatbotMessage{
		ID:        s.messageSeq,
		Role:      role,
		Content:   s.sanitizer.Sanitize(content),
		CreatedAt: time.Now().UTC(),
	}
	thread.Messages = append(thread.Messages, msg)
	thread.UpdatedAt = msg.CreatedAt
	return msg
}

func paginate[T any](items []T, page, size int) []T {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	start := page * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[start:end]...)
}
