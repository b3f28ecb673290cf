package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvibe/messaging-client/internal/model"
)

var (
	alice = model.User{ID: 1, Username: "alice", FullName: "Alice Martin"}
	bob   = model.User{ID: 2, Username: "bob", FullName: "Bob Chen"}
	carol = model.User{ID: 3, Username: "carol", FullName: "Carol Okafor"}
)

type fakeRepo struct {
	mu sync.Mutex

	currentUser     model.User
	currentUserErr  error
	conversations   []model.Conversation
	conversationErr error
	messages        map[model.ConversationID][]model.Message
	messagesErr     error
	messagesHook    func(id model.ConversationID)
	sendResult      model.Message
	sendErr         error
	sendCalls       int
	deleted         []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		currentUser: alice,
		messages:    make(map[model.ConversationID][]model.Message),
	}
}

func (r *fakeRepo) CurrentUser(ctx context.Context) (model.User, error) {
	return r.currentUser, r.currentUserErr
}

func (r *fakeRepo) Conversations(ctx context.Context, current model.User) ([]model.Conversation, error) {
	return r.conversations, r.conversationErr
}

func (r *fakeRepo) ConversationMessages(ctx context.Context, id model.ConversationID, page, size int) ([]model.Message, error) {
	if r.messagesHook != nil {
		r.messagesHook(id)
	}
	if r.messagesErr != nil {
		return nil, r.messagesErr
	}
	return r.messages[id], nil
}

func (r *fakeRepo) SendMessage(ctx context.Context, recipientID int64, content string) (model.Message, error) {
	r.mu.Lock()
	r.sendCalls++
	r.mu.Unlock()
	return r.sendResult, r.sendErr
}

func (r *fakeRepo) DeleteMessage(ctx context.Context, messageID int64) error {
	r.mu.Lock()
	r.deleted = append(r.deleted, messageID)
	r.mu.Unlock()
	return nil
}

func (r *fakeRepo) SearchUsers(ctx context.Context, keyword string, page, size int) ([]model.User, error) {
	return []model.User{bob, carol}, nil
}

type sentMessage struct {
	recipientID int64
	content     string
}

type fakeTransport struct {
	mu sync.Mutex

	connectErr   error
	connected    bool
	disconnected bool
	sent         []sentMessage
	typing       []bool

	onConnect    func()
	onDisconnect func()
	onMessage    func(model.Message)
	onTyping     func(model.TypingIndicator)
	onError      func(string)
}

func (t *fakeTransport) Connect(ctx context.Context, token string) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	if t.onConnect != nil {
		t.onConnect()
	}
	return nil
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	t.disconnected = true
	t.mu.Unlock()
}

func (t *fakeTransport) SendMessage(recipientID int64, content string) {
	t.mu.Lock()
	t.sent = append(t.sent, sentMessage{recipientID, content})
	t.mu.Unlock()
}

func (t *fakeTransport) SendTypingIndicator(recipientID int64, isTyping bool) {
	t.mu.Lock()
	t.typing = append(t.typing, isTyping)
	t.mu.Unlock()
}

func (t *fakeTransport) OnConnect(fn func()) func()    { t.onConnect = fn; return func() {} }
func (t *fakeTransport) OnDisconnect(fn func()) func() { t.onDisconnect = fn; return func() {} }
func (t *fakeTransport) OnMessage(fn func(model.Message)) func() {
	t.onMessage = fn
	return func() {}
}
func (t *fakeTransport) OnTyping(fn func(model.TypingIndicator)) func() {
	t.onTyping = fn
	return func() {}
}
func (t *fakeTransport) OnError(fn func(string)) func() { t.onError = fn; return func() {} }

func newTestStore(t *testing.T) (*Store, *fakeRepo, *fakeTransport) {
	t.Helper()
	repo := newFakeRepo()
	tr := &fakeTransport{}
	s := New(repo, tr, Options{TypingQuietPeriod: 50 * time.Millisecond})
	return s, repo, tr
}

func pairConversation(id model.ConversationID, other model.User, updatedAt time.Time) model.Conversation {
	return model.Conversation{
		ID:           id,
		Participants: []model.Participant{alice.AsParticipant(), other.AsParticipant()},
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
}

func msgAt(id int64, conv model.ConversationID, sender int64, at time.Time) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Content:        "m",
		MessageType:    model.MessageTypeText,
		CreatedAt:      at,
	}
}

func TestLoadConversationsRequiresCurrentUser(t *testing.T) {
	s, repo, _ := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(10, bob, time.Now())}

	err := s.LoadConversations(context.Background())
	require.ErrorIs(t, err, ErrNoCurrentUser)

	st := s.Snapshot()
	assert.Empty(t, st.Conversations)
	assert.NotEmpty(t, st.Err)

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))

	st = s.Snapshot()
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, model.ConversationID(10), st.ActiveConversationID)
}

func TestInboundMessagesSortedAndDeduplicated(t *testing.T) {
	s, repo, tr := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo.conversations = []model.Conversation{
		pairConversation(10, bob, base),
		pairConversation(11, carol, base.Add(-time.Hour)),
	}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.Connect(context.Background(), "token"))
	require.NoError(t, s.LoadConversations(context.Background()))

	m1 := msgAt(1, 10, bob.ID, base.Add(1*time.Minute))
	m2 := msgAt(2, 10, bob.ID, base.Add(2*time.Minute))
	m3 := msgAt(3, 10, bob.ID, base.Add(3*time.Minute))

	// Out of order arrival plus a duplicate.
	tr.onMessage(m2)
	tr.onMessage(m1)
	tr.onMessage(m3)
	tr.onMessage(m2)

	st := s.Snapshot()
	msgs := st.MessagesByConversation[10]
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, int64(2), msgs[1].ID)
	assert.Equal(t, int64(3), msgs[2].ID)

	conv, ok := st.conversationByID(10)
	require.True(t, ok)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, int64(3), conv.LastMessage.ID, "duplicate does not move the preview")
}

func TestInboundMessageUnreadAndRecency(t *testing.T) {
	s, repo, tr := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo.conversations = []model.Conversation{
		pairConversation(10, bob, base),
		pairConversation(11, carol, base.Add(-time.Hour)),
	}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.Connect(context.Background(), "token"))
	require.NoError(t, s.LoadConversations(context.Background()))
	require.Equal(t, model.ConversationID(10), s.Snapshot().ActiveConversationID)

	// Activity in the inactive conversation bumps unread and reorders.
	tr.onMessage(msgAt(5, 11, carol.ID, base.Add(time.Minute)))

	st := s.Snapshot()
	assert.Equal(t, model.ConversationID(11), st.Conversations[0].ID)
	conv, _ := st.conversationByID(11)
	assert.Equal(t, 1, conv.UnreadCount)

	// Activity in the active conversation stays read.
	tr.onMessage(msgAt(6, 10, bob.ID, base.Add(2*time.Minute)))
	st = s.Snapshot()
	conv, _ = st.conversationByID(10)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestInboundMessageWithoutConversationDropped(t *testing.T) {
	s, repo, tr := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(10, bob, time.Now())}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.Connect(context.Background(), "token"))
	require.NoError(t, s.LoadConversations(context.Background()))

	tr.onMessage(model.Message{ID: 9, SenderID: bob.ID, Content: "orphan"})

	st := s.Snapshot()
	for _, msgs := range st.MessagesByConversation {
		for _, m := range msgs {
			assert.NotEqual(t, int64(9), m.ID)
		}
	}
}

func TestSelectUserCreatesAndReusesPlaceholder(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.LoadCurrentUser(context.Background()))

	require.NoError(t, s.SelectUser(context.Background(), bob))
	first := s.Snapshot().ActiveConversationID
	assert.True(t, first.Pending())

	// Same recipient reuses the placeholder instead of minting another.
	require.NoError(t, s.SelectUser(context.Background(), bob))
	st := s.Snapshot()
	assert.Equal(t, first, st.ActiveConversationID)
	require.Len(t, st.Conversations, 1)

	// A different recipient gets a distinct placeholder.
	require.NoError(t, s.SelectUser(context.Background(), carol))
	second := s.Snapshot().ActiveConversationID
	assert.True(t, second.Pending())
	assert.NotEqual(t, first, second)
}

func TestSelectUserReusesPersistedConversation(t *testing.T) {
	s, repo, _ := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(10, bob, time.Now())}
	repo.messages[10] = []model.Message{msgAt(1, 10, bob.ID, time.Now())}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))
	require.NoError(t, s.SelectUser(context.Background(), bob))

	st := s.Snapshot()
	assert.Equal(t, model.ConversationID(10), st.ActiveConversationID)
	assert.Len(t, st.Conversations, 1)
}

func TestFirstSendPromotesPlaceholder(t *testing.T) {
	s, repo, _ := newTestStore(t)
	sent := msgAt(501, 77, alice.ID, time.Now().UTC())
	sent.Content = "hello"
	repo.sendResult = sent

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.SelectUser(context.Background(), bob))
	placeholder := s.Snapshot().ActiveConversationID
	require.True(t, placeholder.Pending())

	require.NoError(t, s.SendMessage(context.Background(), "hello"))

	st := s.Snapshot()
	assert.Equal(t, model.ConversationID(77), st.ActiveConversationID)

	_, stillThere := st.MessagesByConversation[placeholder]
	assert.False(t, stillThere, "placeholder message list removed")

	msgs := st.MessagesByConversation[77]
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(501), msgs[0].ID)

	conv, ok := st.conversationByID(77)
	require.True(t, ok)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, int64(501), conv.LastMessage.ID)

	for _, c := range st.Conversations {
		assert.False(t, c.ID.Pending(), "no placeholder survives promotion")
	}
}

func TestFirstSendFailureKeepsPlaceholder(t *testing.T) {
	s, repo, _ := newTestStore(t)
	repo.sendErr = errors.New("backend down")

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.SelectUser(context.Background(), bob))
	placeholder := s.Snapshot().ActiveConversationID

	err := s.SendMessage(context.Background(), "hello")
	require.Error(t, err)

	st := s.Snapshot()
	assert.Equal(t, placeholder, st.ActiveConversationID)
	assert.NotEmpty(t, st.Err)
	_, kept := st.MessagesByConversation[placeholder]
	assert.True(t, kept)
}

func TestSendToPersistedConversationUsesTransport(t *testing.T) {
	s, repo, tr := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(10, bob, time.Now())}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))
	require.NoError(t, s.SendMessage(context.Background(), "over the wire"))

	require.Len(t, tr.sent, 1)
	assert.Equal(t, bob.ID, tr.sent[0].recipientID)
	assert.Equal(t, "over the wire", tr.sent[0].content)
	assert.Zero(t, repo.sendCalls)

	// No optimistic append: the echo arrives through the push path.
	assert.Empty(t, s.Snapshot().MessagesByConversation[10])
}

func TestSendMessageWithoutActiveConversation(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.LoadCurrentUser(context.Background()))

	err := s.SendMessage(context.Background(), "to nobody")
	require.ErrorIs(t, err, ErrNoActiveConversation)
}

func TestSetActiveConversationStaleResponseDiscarded(t *testing.T) {
	s, repo, _ := newTestStore(t)
	base := time.Now().UTC()
	repo.conversations = []model.Conversation{
		pairConversation(1, bob, base),
		pairConversation(2, carol, base.Add(-time.Hour)),
	}
	repo.messages[1] = []model.Message{msgAt(100, 1, bob.ID, base)}
	repo.messages[2] = []model.Message{msgAt(200, 2, carol.ID, base)}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))

	// While conversation 1's page is in flight the user moves to 2.
	fired := false
	repo.messagesHook = func(id model.ConversationID) {
		if id == 1 && !fired {
			fired = true
			require.NoError(t, s.SetActiveConversation(context.Background(), 2))
		}
	}
	require.NoError(t, s.SetActiveConversation(context.Background(), 1))

	st := s.Snapshot()
	assert.Equal(t, model.ConversationID(2), st.ActiveConversationID)
	assert.Empty(t, st.MessagesByConversation[1], "stale page for 1 discarded")
	require.Len(t, st.MessagesByConversation[2], 1)
	assert.Equal(t, int64(200), st.MessagesByConversation[2][0].ID)
}

func TestSetActiveConversationFailureKeepsCache(t *testing.T) {
	s, repo, _ := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(1, bob, time.Now())}
	repo.messages[1] = []model.Message{msgAt(100, 1, bob.ID, time.Now())}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))
	require.NoError(t, s.SetActiveConversation(context.Background(), 1))
	require.Len(t, s.Snapshot().MessagesByConversation[1], 1)

	repo.messagesErr = errors.New("timeout")
	err := s.SetActiveConversation(context.Background(), 1)
	require.Error(t, err)

	st := s.Snapshot()
	assert.Len(t, st.MessagesByConversation[1], 1, "cached page untouched")
	assert.NotEmpty(t, st.Err)
}

func TestTypingIndicatorReplacedPerUser(t *testing.T) {
	s, repo, tr := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(10, bob, time.Now())}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.Connect(context.Background(), "token"))
	require.NoError(t, s.LoadConversations(context.Background()))

	tr.onTyping(model.TypingIndicator{ConversationID: 10, UserID: bob.ID, Username: "bob", IsTyping: true})
	tr.onTyping(model.TypingIndicator{ConversationID: 10, UserID: carol.ID, Username: "carol", IsTyping: true})
	require.Len(t, s.TypingUsers(10), 2)

	// The stopped state replaces the live one; it is kept, not removed.
	tr.onTyping(model.TypingIndicator{ConversationID: 10, UserID: bob.ID, Username: "bob", IsTyping: false})

	st := s.Snapshot()
	require.Len(t, st.TypingIndicators, 2)
	live := s.TypingUsers(10)
	require.Len(t, live, 1)
	assert.Equal(t, carol.ID, live[0].UserID)
}

func TestComposingDebouncesTypingSignals(t *testing.T) {
	s, repo, tr := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(10, bob, time.Now())}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))

	s.Composing()
	s.Composing()
	s.Composing()

	time.Sleep(150 * time.Millisecond)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Equal(t, []bool{true, false}, tr.typing, "one start and one stop per burst")
}

func TestSendFlushesTypingStop(t *testing.T) {
	s, repo, tr := newTestStore(t)
	repo.conversations = []model.Conversation{pairConversation(10, bob, time.Now())}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))

	s.Composing()
	require.NoError(t, s.SendMessage(context.Background(), "sent mid-burst"))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Equal(t, []bool{true, false}, tr.typing, "stop emitted immediately on send")
}

func TestDeleteMessageRemovesFromCache(t *testing.T) {
	s, repo, _ := newTestStore(t)
	base := time.Now().UTC()
	repo.conversations = []model.Conversation{pairConversation(10, bob, base)}
	repo.messages[10] = []model.Message{
		msgAt(1, 10, alice.ID, base),
		msgAt(2, 10, bob.ID, base.Add(time.Minute)),
	}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.LoadConversations(context.Background()))
	require.NoError(t, s.SetActiveConversation(context.Background(), 10))

	require.NoError(t, s.DeleteMessage(context.Background(), 1))

	st := s.Snapshot()
	require.Len(t, st.MessagesByConversation[10], 1)
	assert.Equal(t, int64(2), st.MessagesByConversation[10][0].ID)
	assert.Equal(t, []int64{1}, repo.deleted)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s, _, _ := newTestStore(t)

	var calls int
	unsubscribe := s.Subscribe(func(State) { calls++ })

	s.SetError("one")
	assert.Equal(t, 1, calls)

	unsubscribe()
	s.SetError("two")
	assert.Equal(t, 1, calls)
}

func TestSnapshotIsolation(t *testing.T) {
	s, repo, tr := newTestStore(t)
	base := time.Now().UTC()
	repo.conversations = []model.Conversation{pairConversation(10, bob, base)}

	require.NoError(t, s.LoadCurrentUser(context.Background()))
	require.NoError(t, s.Connect(context.Background(), "token"))
	require.NoError(t, s.LoadConversations(context.Background()))

	before := s.Snapshot()
	tr.onMessage(msgAt(1, 10, bob.ID, base.Add(time.Minute)))

	assert.Empty(t, before.MessagesByConversation[10], "snapshot unaffected by later pushes")
	assert.Len(t, s.Snapshot().MessagesByConversation[10], 1)
}

func TestConnectFailureSetsError(t *testing.T) {
	s, _, tr := newTestStore(t)
	tr.connectErr = errors.New("handshake rejected")

	err := s.Connect(context.Background(), "bad-token")
	require.Error(t, err)

	st := s.Snapshot()
	assert.False(t, st.Connected)
	assert.Contains(t, st.Err, "handshake rejected")
}

func TestCloseDisconnectsTransport(t *testing.T) {
	s, _, tr := newTestStore(t)
	require.NoError(t, s.Connect(context.Background(), "token"))
	require.True(t, s.Snapshot().Connected)

	s.Close()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.True(t, tr.disconnected)
	assert.False(t, s.Snapshot().Connected)
}
