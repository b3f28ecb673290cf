package store

import (
	"sort"

	"github.com/openvibe/messaging-client/internal/model"
)

// State is the chat session state. Mutations happen only through Store
// actions; subscribers receive defensive copies.
type State struct {
	CurrentUser            *model.User
	Conversations          []model.Conversation
	MessagesByConversation map[model.ConversationID][]model.Message
	ActiveConversationID   model.ConversationID
	TypingIndicators       []model.TypingIndicator
	Connected              bool
	Loading                bool
	Err                    string
}

func newState() State {
	return State{
		Conversations:          []model.Conversation{},
		MessagesByConversation: make(map[model.ConversationID][]model.Message),
		TypingIndicators:       []model.TypingIndicator{},
	}
}

// clone copies the state deeply enough that holders of a snapshot never
// observe later mutations.
func (s State) clone() State {
	out := s
	if s.CurrentUser != nil {
		user := *s.CurrentUser
		out.CurrentUser = &user
	}
	out.Conversations = append([]model.Conversation(nil), s.Conversations...)
	out.MessagesByConversation = make(map[model.ConversationID][]model.Message, len(s.MessagesByConversation))
	for id, msgs := range s.MessagesByConversation {
		out.MessagesByConversation[id] = append([]model.Message(nil), msgs...)
	}
	out.TypingIndicators = append([]model.TypingIndicator(nil), s.TypingIndicators...)
	return out
}

// conversationByID finds a conversation in place.
func (s *State) conversationByID(id model.ConversationID) (*model.Conversation, bool) {
	for i := range s.Conversations {
		if s.Conversations[i].ID == id {
			return &s.Conversations[i], true
		}
	}
	return nil, false
}

// mergeMessage inserts msg into list deduplicated by id and sorted ascending
// by createdAt. The second return is false when msg was already present.
func mergeMessage(list []model.Message, msg model.Message) ([]model.Message, bool) {
	for _, m := range list {
		if m.ID == msg.ID {
			return list, false
		}
	}
	merged := append(append([]model.Message(nil), list...), msg)
	sortMessagesAscending(merged)
	return merged, true
}

func sortMessagesAscending(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func sortConversationsByRecency(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
