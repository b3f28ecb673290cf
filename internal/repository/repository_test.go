package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvibe/messaging-client/internal/model"
)

var currentUser = model.User{ID: 1, Username: "alice", FullName: "Alice Martin"}

func newTestRepo(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, StaticToken("test-token"), nil)
}

func TestNoTokenRefusesWithoutNetworkCall(t *testing.T) {
	var called bool
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	repo.tokens = StaticToken("")

	_, err := repo.CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
	assert.False(t, called, "no request leaves the client without a token")
}

func TestBearerTokenAttached(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":1,"username":"alice","fullName":"Alice Martin"}`))
	})

	user, err := repo.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestCurrentUserUnwrapsEnvelope(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"id":1,"username":"alice","fullName":"Alice Martin"}}`))
	})

	user, err := repo.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
}

func TestEnvelopeFailureBecomesError(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"session expired"}`))
	})

	_, err := repo.CurrentUser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
}

func TestNon2xxBecomesError(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"conversation not found"}`))
	})

	_, err := repo.ConversationMessages(context.Background(), 42, 0, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation not found")
}

func TestConversationsBareFullShape(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":10,"participants":[
				{"userId":1,"user":{"id":1,"username":"alice"}},
				{"userId":2,"user":{"id":2,"username":"bob"}}
			],"unreadCount":3,"createdAt":"2026-08-01T10:00:00Z","updatedAt":"2026-08-01T12:00:00Z"}
		]`))
	})

	conversations, err := repo.Conversations(context.Background(), currentUser)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, model.ConversationID(10), conversations[0].ID)
	assert.Equal(t, 3, conversations[0].UnreadCount)
	assert.True(t, conversations[0].HasParticipant(2))
}

func TestConversationsFlatSummaryShape(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":10,"otherUserId":2,"otherUsername":"bob","updatedAt":"2026-08-01T12:00:00Z","unreadCount":1,
			 "lastMessage":{"id":5,"conversationId":10,"senderId":2,"content":"hey","createdAt":"2026-08-01T12:00:00Z"}}
		]`))
	})

	conversations, err := repo.Conversations(context.Background(), currentUser)
	require.NoError(t, err)
	require.Len(t, conversations, 1)

	conv := conversations[0]
	assert.Equal(t, model.ConversationID(10), conv.ID)
	assert.True(t, conv.HasParticipant(currentUser.ID), "current user synthesized in")
	other, ok := conv.OtherParticipant(currentUser.ID)
	require.True(t, ok)
	assert.Equal(t, int64(2), other.UserID)
	assert.Equal(t, "bob", other.User.Username)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, int64(5), conv.LastMessage.ID)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestConversationsPageEnvelope(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[
			{"id":10,"otherUserId":2,"otherUsername":"bob","updatedAt":"2026-08-01T12:00:00Z"}
		],"pageNumber":0,"pageSize":20,"totalElements":1,"totalPages":1,"last":true}`))
	})

	conversations, err := repo.Conversations(context.Background(), currentUser)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, model.ConversationID(10), conversations[0].ID)
}

func TestConversationsWrappedPageEnvelope(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"content":[
			{"id":10,"participants":[
				{"userId":1,"user":{"id":1,"username":"alice"}},
				{"userId":2,"user":{"id":2,"username":"bob"}}
			],"createdAt":"2026-08-01T10:00:00Z","updatedAt":"2026-08-01T12:00:00Z"}
		],"pageNumber":0,"pageSize":20,"totalElements":1,"totalPages":1,"last":true}}`))
	})

	conversations, err := repo.Conversations(context.Background(), currentUser)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
}

func TestConversationsEmptyVariants(t *testing.T) {
	for name, payload := range map[string]string{
		"empty array": `[]`,
		"null":        `null`,
		"empty page":  `{"content":[],"pageNumber":0,"pageSize":20,"totalElements":0,"totalPages":0,"last":true}`,
		"null data":   `{"success":true,"data":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(payload))
			})
			conversations, err := repo.Conversations(context.Background(), currentUser)
			require.NoError(t, err)
			assert.Empty(t, conversations)
		})
	}
}

func TestConversationsUnknownShapeIsError(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"somethingElse":true}]`))
	})

	_, err := repo.Conversations(context.Background(), currentUser)
	require.Error(t, err)
}

func TestConversationMessagesShapes(t *testing.T) {
	bare := `[{"id":1,"conversationId":10,"senderId":2,"content":"a","createdAt":"2026-08-01T12:00:00Z"}]`
	paged := `{"content":` + bare + `,"pageNumber":0,"pageSize":20,"totalElements":1,"totalPages":1,"last":true}`

	for name, payload := range map[string]string{"bare": bare, "paged": paged} {
		t.Run(name, func(t *testing.T) {
			repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "0", r.URL.Query().Get("page"))
				assert.Equal(t, "20", r.URL.Query().Get("size"))
				w.Write([]byte(payload))
			})
			messages, err := repo.ConversationMessages(context.Background(), 10, 0, 20)
			require.NoError(t, err)
			require.Len(t, messages, 1)
			assert.Equal(t, int64(1), messages[0].ID)
		})
	}
}

func TestSendMessageReturnsAuthoritativeConversation(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/messages", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"data":{"id":501,"conversationId":77,"senderId":1,"content":"hello","createdAt":"2026-08-01T12:00:00Z"}}`))
	})

	msg, err := repo.SendMessage(context.Background(), 2, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(501), msg.ID)
	assert.Equal(t, model.ConversationID(77), msg.ConversationID)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), msg.CreatedAt)
}

func TestSearchUsersShapes(t *testing.T) {
	bare := `[{"id":2,"username":"bob","fullName":"Bob Chen"}]`
	paged := `{"content":` + bare + `,"pageNumber":0,"pageSize":10,"totalElements":1,"totalPages":1,"last":true}`

	for name, payload := range map[string]string{"bare": bare, "paged": paged} {
		t.Run(name, func(t *testing.T) {
			repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "bo", r.URL.Query().Get("keyword"))
				w.Write([]byte(payload))
			})
			users, err := repo.SearchUsers(context.Background(), "bo", 0, 10)
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Equal(t, "bob", users[0].Username)
		})
	}
}

func TestUnreadNotificationCount(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"unreadCount":4}}`))
	})

	count, err := repo.UnreadNotificationCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestChatbotMessage(t *testing.T) {
	repo := newTestRepo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"botMessage":{"id":3,"role":"assistant","content":"hi there","createdAt":"2026-08-01T12:00:00Z"},"conversationId":1}`))
	})

	reply, err := repo.SendChatbotMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply.BotMessage.Content)
}
