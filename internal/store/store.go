// Package store holds the single in-memory chat state container and its
// action methods. All mutation flows through the actions; inbound pushes and
// REST responses race, and the snapshot-and-replace discipline plus id-keyed
// merging keep the state consistent regardless of arrival order.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openvibe/messaging-client/internal/model"
	"github.com/openvibe/messaging-client/internal/typing"
	"github.com/openvibe/messaging-client/pkg/logger"
)

// Action-level failures callers may branch on. Every failure is also
// recovered into the state's Err field; nothing escapes as a panic.
var (
	ErrNoCurrentUser        = errors.New("current user not loaded")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrConversationNotFound = errors.New("active conversation not found")
	ErrNoRecipient          = errors.New("conversation has no other participant")
)

// Repository is the REST surface the store consumes.
type Repository interface {
	CurrentUser(ctx context.Context) (model.User, error)
	Conversations(ctx context.Context, current model.User) ([]model.Conversation, error)
	ConversationMessages(ctx context.Context, id model.ConversationID, page, size int) ([]model.Message, error)
	SendMessage(ctx context.Context, recipientID int64, content string) (model.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	SearchUsers(ctx context.Context, keyword string, page, size int) ([]model.User, error)
}

// Transport is the realtime surface the store consumes.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	SendMessage(recipientID int64, content string)
	SendTypingIndicator(recipientID int64, isTyping bool)
	OnConnect(fn func()) func()
	OnDisconnect(fn func()) func()
	OnMessage(fn func(model.Message)) func()
	OnTyping(fn func(model.TypingIndicator)) func()
	OnError(fn func(string)) func()
}

// Options tunes a Store.
type Options struct {
	Logger            *logger.Logger
	MessagePageSize   int
	TypingQuietPeriod time.Duration
}

// Store is the chat state machine.
type Store struct {
	repo      Repository
	transport Transport
	log       *logger.Logger
	pageSize  int
	composer  *typing.Notifier

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
	unhooks []func()
}

// New returns a store wired to the given repository and transport.
func New(repo Repository, tr Transport, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	pageSize := opts.MessagePageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	s := &Store{
		repo:      repo,
		transport: tr,
		log:       log,
		pageSize:  pageSize,
		state:     newState(),
		subs:      make(map[int]func(State)),
	}
	s.composer = typing.NewNotifier(opts.TypingQuietPeriod,
		func() { s.SendTypingIndicator(true) },
		func() { s.SendTypingIndicator(false) },
	)
	return s
}

// update applies one mutation under the lock and notifies subscribers with a
// snapshot afterwards.
func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers a state listener invoked after every mutation. The
// returned func unregisters it; callers must invoke it on teardown.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SetError sets or clears the user-facing error string.
func (s *Store) SetError(msg string) {
	s.update(func(st *State) { st.Err = msg })
}

// LoadCurrentUser fetches the authenticated user's profile. Failure leaves
// CurrentUser nil, which blocks conversation loading.
func (s *Store) LoadCurrentUser(ctx context.Context) error {
	s.update(func(st *State) { st.Loading = true; st.Err = "" })

	user, err := s.repo.CurrentUser(ctx)
	if err != nil {
		s.log.Error("failed to load current user", zap.Error(err))
		s.update(func(st *State) {
			st.CurrentUser = nil
			st.Loading = false
			st.Err = "failed to load current user: " + err.Error()
		})
		return err
	}

	s.update(func(st *State) {
		st.CurrentUser = &user
		st.Loading = false
	})
	return nil
}

// LoadConversations fetches and normalizes the conversation list. It refuses
// to run while the current user is unknown: no network call is made and the
// error field is set instead.
func (s *Store) LoadConversations(ctx context.Context) error {
	s.mu.Lock()
	current := s.state.CurrentUser
	s.mu.Unlock()

	if current == nil {
		s.log.Warn("skipping conversation load, current user not loaded")
		s.update(func(st *State) {
			st.Err = "cannot load conversations before the current user"
			st.Loading = false
		})
		return ErrNoCurrentUser
	}

	s.update(func(st *State) { st.Loading = true; st.Err = "" })

	conversations, err := s.repo.Conversations(ctx, *current)
	if err != nil {
		s.log.Error("failed to load conversations", zap.Error(err))
		s.update(func(st *State) {
			st.Loading = false
			st.Err = "failed to load conversations: " + err.Error()
		})
		return err
	}

	s.update(func(st *State) {
		st.Conversations = conversations
		st.Loading = false
		st.Err = ""
		if st.ActiveConversationID.Zero() && len(conversations) > 0 {
			st.ActiveConversationID = conversations[0].ID
		}
	})
	return nil
}

// SetActiveConversation points the session at a conversation and loads its
// first message page. A response arriving after the active conversation has
// moved on is discarded; a failed fetch leaves previously cached messages
// untouched.
func (s *Store) SetActiveConversation(ctx context.Context, id model.ConversationID) error {
	s.update(func(st *State) {
		st.ActiveConversationID = id
		st.Loading = true
	})

	messages, err := s.repo.ConversationMessages(ctx, id, 0, s.pageSize)

	var stale bool
	s.update(func(st *State) {
		if st.ActiveConversationID != id {
			stale = true
			return
		}
		st.Loading = false
		if err != nil {
			st.Err = "failed to load messages: " + err.Error()
			return
		}
		sortMessagesAscending(messages)
		st.MessagesByConversation[id] = messages
		if conv, ok := st.conversationByID(id); ok {
			conv.UnreadCount = 0
		}
		st.Err = ""
	})

	if stale {
		s.log.Debug("discarding stale message page",
			zap.Int64("conversation_id", int64(id)))
		return nil
	}
	return err
}

// SelectUser opens a conversation with the given user. An existing
// conversation containing the user is reused (placeholders included, so
// selecting the same person twice never creates two); otherwise a
// client-only placeholder conversation becomes active without any network
// call.
func (s *Store) SelectUser(ctx context.Context, user model.User) error {
	s.mu.Lock()
	current := s.state.CurrentUser
	var existing model.ConversationID
	for _, conv := range s.state.Conversations {
		if conv.HasParticipant(user.ID) {
			existing = conv.ID
			break
		}
	}
	s.mu.Unlock()

	if current == nil {
		s.update(func(st *State) { st.Err = "cannot start a conversation before the current user" })
		return ErrNoCurrentUser
	}

	if !existing.Zero() {
		s.log.Debug("reusing existing conversation",
			zap.Int64("conversation_id", int64(existing)),
			zap.Int64("user_id", user.ID))
		return s.SetActiveConversation(ctx, existing)
	}

	placeholder := model.NewPlaceholderConversation(*current, user)
	s.log.Info("created placeholder conversation",
		zap.Int64("placeholder_id", int64(placeholder.ID)),
		zap.Int64("recipient_id", user.ID))

	s.update(func(st *State) {
		st.Conversations = append([]model.Conversation{placeholder}, st.Conversations...)
		st.MessagesByConversation[placeholder.ID] = []model.Message{}
		st.ActiveConversationID = placeholder.ID
		st.Loading = false
		st.Err = ""
	})
	return nil
}

// SendMessage sends content to the active conversation's other participant.
// A placeholder conversation routes through the REST path and is promoted to
// the server-confirmed conversation on success; a persisted conversation
// publishes over the transport, and the sent message reappears through the
// inbound push path.
func (s *Store) SendMessage(ctx context.Context, content string) error {
	s.composer.Flush()

	s.mu.Lock()
	active := s.state.ActiveConversationID
	current := s.state.CurrentUser
	var conv model.Conversation
	convFound := false
	if c, ok := s.state.conversationByID(active); ok {
		conv = *c
		convFound = true
	}
	s.mu.Unlock()

	if active.Zero() || current == nil {
		s.update(func(st *State) { st.Err = "no conversation selected" })
		return ErrNoActiveConversation
	}
	if !convFound {
		s.update(func(st *State) { st.Err = "conversation not found" })
		return ErrConversationNotFound
	}
	recipient, ok := conv.OtherParticipant(current.ID)
	if !ok {
		s.log.Error("active conversation has no recipient",
			zap.Int64("conversation_id", int64(active)))
		return ErrNoRecipient
	}

	if active.Pending() {
		return s.sendFirstMessage(ctx, active, recipient.UserID, content)
	}

	s.transport.SendMessage(recipient.UserID, content)
	return nil
}

// sendFirstMessage performs the placeholder promotion: the REST send returns
// the authoritative conversation id, and the placeholder is replaced (not
// updated) under that id in one mutation. On failure the placeholder stays
// so the user can retry without losing typed content.
func (s *Store) sendFirstMessage(ctx context.Context, placeholder model.ConversationID, recipientID int64, content string) error {
	msg, err := s.repo.SendMessage(ctx, recipientID, content)
	if err != nil {
		s.log.Error("first message send failed, keeping placeholder",
			zap.Int64("placeholder_id", int64(placeholder)), zap.Error(err))
		s.update(func(st *State) { st.Err = "failed to send message: " + err.Error() })
		return err
	}

	realID := msg.ConversationID
	s.log.Info("placeholder promoted",
		zap.Int64("placeholder_id", int64(placeholder)),
		zap.Int64("conversation_id", int64(realID)))

	s.update(func(st *State) {
		kept := make([]model.Conversation, 0, len(st.Conversations))
		var promoted model.Conversation
		found := false
		for _, c := range st.Conversations {
			if c.ID == placeholder {
				promoted = c
				found = true
				continue
			}
			kept = append(kept, c)
		}
		if !found {
			// Promotion already applied by a racing send; merge the echo only.
			list := st.MessagesByConversation[realID]
			if merged, added := mergeMessage(list, msg); added {
				st.MessagesByConversation[realID] = merged
			}
			return
		}

		promoted.ID = realID
		promoted.LastMessage = &msg
		promoted.UpdatedAt = msg.CreatedAt
		kept = append(kept, promoted)
		sortConversationsByRecency(kept)

		st.Conversations = kept
		delete(st.MessagesByConversation, placeholder)
		st.MessagesByConversation[realID] = []model.Message{msg}
		if st.ActiveConversationID == placeholder {
			st.ActiveConversationID = realID
		}
		st.Err = ""
	})
	return nil
}

// handleInboundMessage reconciles a transport-pushed message into the state.
// Duplicate delivery is expected (history fetch plus live push) and resolved
// by id; a message without a conversation id is dropped rather than guessed
// into the active conversation.
func (s *Store) handleInboundMessage(msg model.Message) {
	if msg.ConversationID.Zero() {
		s.log.Error("dropping inbound message without conversation id",
			zap.Int64("message_id", msg.ID))
		return
	}

	s.update(func(st *State) {
		list := st.MessagesByConversation[msg.ConversationID]
		merged, added := mergeMessage(list, msg)
		if !added {
			s.log.Debug("ignoring duplicate message", zap.Int64("message_id", msg.ID))
			return
		}
		st.MessagesByConversation[msg.ConversationID] = merged

		if conv, ok := st.conversationByID(msg.ConversationID); ok {
			m := msg
			conv.LastMessage = &m
			conv.UpdatedAt = msg.CreatedAt
			if msg.ConversationID != st.ActiveConversationID {
				conv.UnreadCount++
			}
		}
		sortConversationsByRecency(st.Conversations)
	})
}

// handleInboundTyping replaces any prior indicator for the same user. Stopped
// indicators are retained with IsTyping=false; consumers filter on the flag.
func (s *Store) handleInboundTyping(t model.TypingIndicator) {
	s.update(func(st *State) {
		kept := make([]model.TypingIndicator, 0, len(st.TypingIndicators)+1)
		for _, existing := range st.TypingIndicators {
			if existing.UserID != t.UserID {
				kept = append(kept, existing)
			}
		}
		st.TypingIndicators = append(kept, t)
	})
}

// TypingUsers returns the users currently composing in the conversation.
func (s *Store) TypingUsers(id model.ConversationID) []model.TypingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TypingIndicator
	for _, t := range s.state.TypingIndicators {
		if t.ConversationID == id && t.IsTyping {
			out = append(out, t)
		}
	}
	return out
}

// Composing records composer activity for the active conversation. The
// debounce timer turns bursts of calls into one started signal and one
// stopped signal.
func (s *Store) Composing() {
	s.composer.Keystroke()
}

// SendTypingIndicator emits a typing signal to the active conversation's
// other participant. Best-effort: with no active conversation or recipient
// it does nothing.
func (s *Store) SendTypingIndicator(isTyping bool) {
	s.mu.Lock()
	current := s.state.CurrentUser
	var recipientID int64
	if conv, ok := s.state.conversationByID(s.state.ActiveConversationID); ok && current != nil {
		if recipient, ok := conv.OtherParticipant(current.ID); ok {
			recipientID = recipient.UserID
		}
	}
	s.mu.Unlock()

	if recipientID == 0 {
		return
	}
	s.transport.SendTypingIndicator(recipientID, isTyping)
}

// DeleteMessage deletes a message and removes it from the active
// conversation's cached list.
func (s *Store) DeleteMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	active := s.state.ActiveConversationID
	s.mu.Unlock()
	if active.Zero() {
		return ErrNoActiveConversation
	}

	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		s.log.Error("failed to delete message",
			zap.Int64("message_id", messageID), zap.Error(err))
		s.update(func(st *State) { st.Err = "failed to delete message: " + err.Error() })
		return err
	}

	s.update(func(st *State) {
		list := st.MessagesByConversation[active]
		kept := make([]model.Message, 0, len(list))
		for _, m := range list {
			if m.ID != messageID {
				kept = append(kept, m)
			}
		}
		st.MessagesByConversation[active] = kept
	})
	return nil
}

// SearchUsers proxies the recipient search.
func (s *Store) SearchUsers(ctx context.Context, keyword string, page, size int) ([]model.User, error) {
	users, err := s.repo.SearchUsers(ctx, keyword, page, size)
	if err != nil {
		s.update(func(st *State) { st.Err = "user search failed: " + err.Error() })
		return nil, err
	}
	return users, nil
}

// Connect wires the transport callbacks into the store and establishes the
// realtime session. A handshake rejection sets the error field and leaves
// Connected false.
func (s *Store) Connect(ctx context.Context, token string) error {
	unhooks := []func(){
		s.transport.OnConnect(func() {
			s.update(func(st *State) { st.Connected = true; st.Err = "" })
		}),
		s.transport.OnDisconnect(func() {
			s.update(func(st *State) { st.Connected = false })
		}),
		s.transport.OnError(func(msg string) {
			s.log.Warn("transport error", zap.String("error", msg))
			s.update(func(st *State) { st.Err = msg })
		}),
		s.transport.OnMessage(s.handleInboundMessage),
		s.transport.OnTyping(s.handleInboundTyping),
	}
	s.mu.Lock()
	s.unhooks = append(s.unhooks, unhooks...)
	s.mu.Unlock()

	if err := s.transport.Connect(ctx, token); err != nil {
		s.log.Error("failed to connect to chat server", zap.Error(err))
		s.update(func(st *State) {
			st.Connected = false
			st.Err = "failed to connect to chat server: " + err.Error()
		})
		return err
	}
	return nil
}

// Close tears the session down: typing burst flushed, transport disconnected
// (which clears its callback registrations), connection flag dropped.
func (s *Store) Close() {
	s.composer.Flush()
	s.transport.Disconnect()

	s.mu.Lock()
	unhooks := s.unhooks
	s.unhooks = nil
	s.mu.Unlock()
	for _, unhook := range unhooks {
		unhook()
	}

	s.update(func(st *State) { st.Connected = false })
}
