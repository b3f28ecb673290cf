package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openvibe/messaging-client/internal/model"
	"github.com/openvibe/messaging-client/internal/transport"
	"github.com/openvibe/messaging-client/pkg/logger"
	"github.com/openvibe/messaging-client/pkg/metrics"
)

// typingTTL is how long a typing indicator stays live before the server
// pushes the cleared state on the sender's behalf.
const typingTTL = 5 * time.Second

const sessionSendBuffer = 32

// session is one authenticated websocket connection.
type session struct {
	userID   int64
	username string
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	done     chan struct{}
}

// Hub fans frames out to per-user sessions. Registration goes through
// channels owned by the run loop; delivery walks a snapshot of the user's
// sessions.
type Hub struct {
	log        *logger.Logger
	register   chan *session
	unregister chan *session
	deliver    chan delivery

	typingMu     sync.Mutex
	typingTimers map[typingKey]*time.Timer
}

type delivery struct {
	userID      int64
	destination string
	body        any
}

type typingKey struct {
	from int64
	to   int64
}

// NewHub creates a hub. Run must be started before sessions attach.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:          log,
		register:     make(chan *session),
		unregister:   make(chan *session),
		deliver:      make(chan delivery, 64),
		typingTimers: make(map[typingKey]*time.Timer),
	}
}

// Run owns the session table until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sessions := make(map[int64]map[*session]struct{})

	for {
		select {
		case <-ctx.Done():
			for _, set := range sessions {
				for sess := range set {
					close(sess.done)
				}
			}
			return

		case sess := <-h.register:
			if sessions[sess.userID] == nil {
				sessions[sess.userID] = make(map[*session]struct{})
			}
			sessions[sess.userID][sess] = struct{}{}
			metrics.WSSessionsActive.Inc()
			h.log.Info("session registered",
				zap.Int64("user_id", sess.userID),
				zap.String("username", sess.username))

		case sess := <-h.unregister:
			if set, ok := sessions[sess.userID]; ok {
				if _, ok := set[sess]; ok {
					delete(set, sess)
					close(sess.done)
					metrics.WSSessionsActive.Dec()
					if len(set) == 0 {
						delete(sessions, sess.userID)
					}
					h.log.Info("session unregistered", zap.Int64("user_id", sess.userID))
				}
			}

		case d := <-h.deliver:
			data, err := transport.EncodeFrame(d.destination, d.body)
			if err != nil {
				h.log.Error("failed to encode frame", zap.Error(err))
				continue
			}
			for sess := range sessions[d.userID] {
				select {
				case sess.send <- data:
				default:
					h.log.Warn("session send buffer full, dropping frame",
						zap.Int64("user_id", d.userID),
						zap.String("destination", d.destination))
				}
			}
		}
	}
}

// SendToUser queues a frame for every session of the user.
func (h *Hub) SendToUser(userID int64, destination string, body any) {
	h.deliver <- delivery{userID: userID, destination: destination, body: body}
}

// NotifyTyping pushes a live typing indicator to the recipient and arms the
// server-side timeout that clears it if no further pulse arrives.
func (h *Hub) NotifyTyping(from model.User, to int64, conversationID model.ConversationID) {
	indicator := model.TypingIndicator{
		ConversationID: conversationID,
		UserID:         from.ID,
		Username:       from.Username,
		IsTyping:       true,
	}
	h.SendToUser(to, transport.DestTyping, indicator)

	key := typingKey{from: from.ID, to: to}
	h.typingMu.Lock()
	if t, ok := h.typingTimers[key]; ok {
		t.Stop()
	}
	h.typingTimers[key] = time.AfterFunc(typingTTL, func() {
		h.typingMu.Lock()
		delete(h.typingTimers, key)
		h.typingMu.Unlock()

		cleared := indicator
		cleared.IsTyping = false
		h.SendToUser(to, transport.DestTyping, cleared)
	})
	h.typingMu.Unlock()
}

// writePump drains the session's send queue onto the connection.
func (h *Hub) writePump(ctx context.Context, sess *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.done:
			return
		case data := <-sess.send:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := sess.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Warn("session write failed",
					zap.Int64("user_id", sess.userID), zap.Error(err))
				return
			}
		}
	}
}
