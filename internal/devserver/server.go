package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openvibe/messaging-client/internal/llm"
	"github.com/openvibe/messaging-client/internal/middleware"
	"github.com/openvibe/messaging-client/internal/model"
	"github.com/openvibe/messaging-client/internal/transport"
	"github.com/openvibe/messaging-client/pkg/logger"
)

// Options configures the dev server.
type Options struct {
	Logger            *logger.Logger
	JWTSecret         string
	JWTExpiration     time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Bot               llm.Client
}

// Server serves the backend surface the messaging client consumes.
type Server struct {
	log    *logger.Logger
	opts   Options
	svc    *Service
	hub    *Hub
	bot    llm.Client
	router chi.Router
}

// New assembles the server. Start the hub with Run before serving traffic.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if opts.JWTExpiration <= 0 {
		opts.JWTExpiration = 24 * time.Hour
	}
	if opts.RateLimitRequests <= 0 {
		opts.RateLimitRequests = 60
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}
	bot := opts.Bot
	if bot == nil {
		bot = llm.NewCannedClient()
	}

	s := &Server{
		log:  log,
		opts: opts,
		svc:  NewService(),
		hub:  NewHub(log),
		bot:  bot,
	}
	s.router = s.routes()
	return s
}

// Run owns the hub loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.opts.JWTSecret))
		r.Use(middleware.Logging(s.log))
		r.Use(middleware.RateLimit(s.opts.RateLimitRequests, s.opts.RateLimitWindow))

		r.Get("/api/users/me", s.handleCurrentUser)
		r.Get("/api/users/search", s.handleSearchUsers)

		r.Get("/api/messages/conversations", s.handleConversations)
		r.Get("/api/messages/conversations/{conversationId}", s.handleConversationMessages)
		r.Post("/api/messages", s.handleSendMessage)
		r.Delete("/api/messages/{messageId}", s.handleDeleteMessage)

		r.Get("/api/notifications", s.handleNotifications)
		r.Get("/api/notifications/unread-count", s.handleUnreadCount)
		r.Put("/api/notifications/{notificationId}/read", s.handleMarkNotificationRead)
		r.Put("/api/notifications/read-all", s.handleMarkAllNotificationsRead)

		r.Post("/api/chatbot/message", s.handleChatbotMessage)
		r.Get("/api/chatbot/conversation", s.handleChatbotConversation)
		r.Get("/api/chatbot/health", s.handleChatbotHealth)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData wraps the payload in the success envelope.
func writeData(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	writeJSON(w, status, model.Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.Envelope{Success: false, Message: message})
}

func pageOf[T any](items []T, page, size int) model.Page[T] {
	if size <= 0 {
		size = 20
	}
	return model.Page[T]{
		Content:       items,
		PageNumber:    page,
		PageSize:      size,
		TotalElements: int64(len(items)),
		TotalPages:    1,
		Last:          len(items) < size,
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := s.svc.Login(req.Username)
	token, err := middleware.GenerateToken(s.opts.JWTSecret, user.ID, user.Username, s.opts.JWTExpiration)
	if err != nil {
		s.log.Error("failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.UserByID(middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeData(w, http.StatusOK, user)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)

	users := s.svc.SearchUsers(middleware.GetUserID(r.Context()), keyword, page, size)
	writeData(w, http.StatusOK, pageOf(users, page, size))
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	summaries := s.svc.ConversationSummaries(middleware.GetUserID(r.Context()))
	writeData(w, http.StatusOK, pageOf(summaries, 0, 20))
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.ParseInt(chi.URLParam(r, "conversationId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)

	messages, err := s.svc.ConversationMessages(middleware.GetUserID(r.Context()), conversationID, page, size)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeData(w, http.StatusOK, pageOf(messages, page, size))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	senderID := middleware.GetUserID(r.Context())
	msg, err := s.svc.SendMessage(senderID, req.RecipientID, req.Content)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.hub.SendToUser(req.RecipientID, transport.DestMessages, msg)
	writeData(w, http.StatusCreated, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if err := s.svc.DeleteMessage(middleware.GetUserID(r.Context()), messageID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)
	notifications := s.svc.Notifications(middleware.GetUserID(r.Context()), page, size)
	writeData(w, http.StatusOK, notifications)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	count := s.svc.UnreadNotificationCount(middleware.GetUserID(r.Context()))
	writeData(w, http.StatusOK, map[string]int{"unreadCount": count})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	notificationID, err := strconv.ParseInt(chi.URLParam(r, "notificationId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := s.svc.MarkNotificationRead(middleware.GetUserID(r.Context()), notificationID); err != nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	s.svc.MarkAllNotificationsRead(middleware.GetUserID(r.Context()))
	writeData(w, http.StatusOK, nil)
}

func (s *Server) handleChatbotMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := middleware.GetUserID(r.Context())
	s.svc.AppendChatbotTurn(userID, llm.RoleUser, req.Content)

	thread := s.svc.ChatbotThread(userID)
	history := make([]llm.ChatMessage, len(thread.Messages))
	for i, m := range thread.Messages {
		history[i] = llm.ChatMessage{Role: m.Role, Content: m.Content}
	}

	reply, err := s.bot.Reply(r.Context(), history)
	if err != nil {
		s.log.Error("chatbot reply failed",
			zap.String("provider", s.bot.Name()), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, model.ChatbotReply{
			Success: false,
			Message: "chatbot unavailable",
		})
		return
	}

	botMsg := s.svc.AppendChatbotTurn(userID, llm.RoleAssistant, reply)
	writeJSON(w, http.StatusOK, model.ChatbotReply{
		Success:        true,
		BotMessage:     botMsg,
		ConversationID: thread.ID,
	})
}

func (s *Server) handleChatbotConversation(w http.ResponseWriter, r *http.Request) {
	thread := s.svc.ChatbotThread(middleware.GetUserID(r.Context()))
	writeData(w, http.StatusOK, thread)
}

func (s *Server) handleChatbotHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.bot.Name(),
	})
}

// wsToken extracts the session token from the Authorization header or, for
// clients that cannot set headers on the upgrade, the token query parameter.
func wsToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, username, err := middleware.ParseToken(s.opts.JWTSecret, wsToken(r))
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	user, err := s.svc.UserByID(userID)
	if err != nil {
		http.Error(w, `{"error":"unknown user"}`, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}

	sess := &session{
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, sessionSendBuffer),
		limiter:  rate.NewLimiter(rate.Every(50*time.Millisecond), 20),
		done:     make(chan struct{}),
	}

	// Ready ack before anything else; the client blocks its handshake on it.
	ack, err := transport.EncodeFrame(transport.DestConnected, username)
	if err == nil {
		writeCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		err = conn.Write(writeCtx, websocket.MessageText, ack)
		cancel()
	}
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return
	}

	s.hub.register <- sess
	go s.hub.writePump(r.Context(), sess)
	s.readPump(r.Context(), sess, user)
	s.hub.unregister <- sess
}

// readPump consumes client frames until the connection drops.
func (s *Server) readPump(ctx context.Context, sess *session, user model.User) {
	defer sess.conn.Close(websocket.StatusNormalClosure, "session closed")

	for {
		msgType, data, err := sess.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				s.log.Debug("session read ended",
					zap.Int64("user_id", sess.userID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if !sess.limiter.Allow() {
			s.hub.SendToUser(sess.userID, transport.DestErrors, "rate limit exceeded")
			continue
		}

		frame, err := transport.DecodeFrame(data)
		if err != nil {
			s.hub.SendToUser(sess.userID, transport.DestErrors, "malformed frame")
			continue
		}

		switch frame.Destination {
		case transport.DestChatSend:
			s.handleChatSend(sess, user, frame.Body)
		case transport.DestChatTyping:
			s.handleChatTyping(user, frame.Body)
		default:
			s.log.Debug("ignoring frame for unknown destination",
				zap.String("destination", frame.Destination))
		}
	}
}

func (s *Server) handleChatSend(sess *session, user model.User, body json.RawMessage) {
	var req model.SendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.hub.SendToUser(sess.userID, transport.DestErrors, "malformed send payload")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		s.hub.SendToUser(sess.userID, transport.DestErrors, err.Error())
		return
	}

	msg, err := s.svc.SendMessage(user.ID, req.RecipientID, req.Content)
	if err != nil {
		s.hub.SendToUser(sess.userID, transport.DestErrors, err.Error())
		return
	}

	// Both sides receive the stored message; the sender's copy is the echo
	// that lands it in their own view.
	s.hub.SendToUser(req.RecipientID, transport.DestMessages, msg)
	s.hub.SendToUser(user.ID, transport.DestMessages, msg)
}

// handleChatTyping relays a typing pulse. The wire body is the bare
// recipient id.
func (s *Server) handleChatTyping(user model.User, body json.RawMessage) {
	var recipientID int64
	if err := json.Unmarshal(body, &recipientID); err != nil {
		return
	}
	conversationID, ok := s.svc.PairConversationID(user.ID, recipientID)
	if !ok {
		return
	}
	s.hub.NotifyTyping(user, recipientID, model.ConversationID(conversationID))
}
