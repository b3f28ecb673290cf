// Package main is a terminal chat client for exercising the messaging stack
// against a running backend or the dev server.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openvibe/messaging-client/internal/config"
	"github.com/openvibe/messaging-client/internal/model"
	"github.com/openvibe/messaging-client/internal/repository"
	"github.com/openvibe/messaging-client/internal/store"
	"github.com/openvibe/messaging-client/internal/transport"
	"github.com/openvibe/messaging-client/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	token := cfg.AuthToken
	if token == "" && cfg.Username != "" {
		token, err = login(cfg.APIBaseURL, cfg.Username)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "set CHAT_AUTH_TOKEN or CHAT_USERNAME")
		os.Exit(1)
	}

	repo := repository.New(cfg.APIBaseURL, repository.StaticToken(token), log)
	ws := transport.New(transport.Options{
		URL:               cfg.WSURL,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            log,
	})
	chat := store.New(repo, ws, store.Options{
		Logger:            log,
		MessagePageSize:   cfg.MessagePageSize,
		TypingQuietPeriod: cfg.TypingQuietPeriod,
	})
	defer chat.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := chat.LoadCurrentUser(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cannot start session: %v\n", err)
		os.Exit(1)
	}
	if err := chat.Connect(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "realtime connection failed: %v\n", err)
	}
	if err := chat.LoadConversations(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "loading conversations failed: %v\n", err)
	}

	unsubscribe := chat.Subscribe(printEvents(chat))
	defer unsubscribe()

	printHelp()
	repl(ctx, chat, repo)
}

func login(baseURL, username string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	res, err := http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if !envelope.Success || envelope.Data.Token == "" {
		return "", fmt.Errorf("login rejected for %q", username)
	}
	return envelope.Data.Token, nil
}

// printEvents reports inbound activity outside the active conversation. The
// active conversation's messages are printed by the REPL itself.
func printEvents(chat *store.Store) func(store.State) {
	var lastErr string
	return func(st store.State) {
		if st.Err != "" && st.Err != lastErr {
			fmt.Printf("! %s\n", st.Err)
		}
		lastErr = st.Err

		for _, t := range st.TypingIndicators {
			if t.IsTyping && t.ConversationID == st.ActiveConversationID {
				fmt.Printf("... %s is typing\n", t.Username)
			}
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  /list                 list conversations
  /open <id>            open a conversation
  /search <keyword>     search users
  /to <user id>         start a conversation with a user
  /delete <message id>  delete one of your messages
  /notifications        list notifications
  /bot <text>           ask the support chatbot
  /quit                 exit
anything else is sent to the open conversation`)
}

func repl(ctx context.Context, chat *store.Store, repo *repository.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case line == "/list":
			st := chat.Snapshot()
			current := int64(0)
			if st.CurrentUser != nil {
				current = st.CurrentUser.ID
			}
			for _, conv := range st.Conversations {
				name := "(unknown)"
				if other, ok := conv.OtherParticipant(current); ok {
					name = other.User.Username
				}
				marker := " "
				if conv.ID == st.ActiveConversationID {
					marker = "*"
				}
				fmt.Printf("%s %d  %s  unread=%d\n", marker, conv.ID, name, conv.UnreadCount)
			}

		case strings.HasPrefix(line, "/open "):
			id, err := strconv.ParseInt(strings.TrimSpace(line[len("/open "):]), 10, 64)
			if err != nil {
				fmt.Println("usage: /open <conversation id>")
				continue
			}
			if err := chat.SetActiveConversation(ctx, model.ConversationID(id)); err != nil {
				continue
			}
			st := chat.Snapshot()
			for _, msg := range st.MessagesByConversation[model.ConversationID(id)] {
				fmt.Printf("[%s] %s: %s\n",
					msg.CreatedAt.Format("15:04"), msg.SenderUsername, msg.Content)
			}

		case strings.HasPrefix(line, "/search "):
			keyword := strings.TrimSpace(line[len("/search "):])
			users, err := chat.SearchUsers(ctx, keyword, 0, 10)
			if err != nil {
				continue
			}
			for _, user := range users {
				fmt.Printf("%d  %s (%s)\n", user.ID, user.Username, user.FullName)
			}

		case strings.HasPrefix(line, "/to "):
			id, err := strconv.ParseInt(strings.TrimSpace(line[len("/to "):]), 10, 64)
			if err != nil {
				fmt.Println("usage: /to <user id>")
				continue
			}
			users, err := chat.SearchUsers(ctx, "", 0, 100)
			if err != nil {
				continue
			}
			var target *model.User
			for i := range users {
				if users[i].ID == id {
					target = &users[i]
					break
				}
			}
			if target == nil {
				fmt.Println("user not found")
				continue
			}
			if err := chat.SelectUser(ctx, *target); err == nil {
				fmt.Printf("conversation with %s open\n", target.Username)
			}

		case strings.HasPrefix(line, "/delete "):
			id, err := strconv.ParseInt(strings.TrimSpace(line[len("/delete "):]), 10, 64)
			if err != nil {
				fmt.Println("usage: /delete <message id>")
				continue
			}
			if err := chat.DeleteMessage(ctx, id); err == nil {
				fmt.Println("deleted")
			}

		case line == "/notifications":
			notifications, err := repo.Notifications(ctx, 0, 20)
			if err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			for _, n := range notifications {
				read := " "
				if n.IsRead {
					read = "r"
				}
				fmt.Printf("[%s] %s %s\n", read, n.CreatedAt.Format("Jan 2 15:04"), n.Message)
			}

		case strings.HasPrefix(line, "/bot "):
			reply, err := repo.SendChatbotMessage(ctx, strings.TrimSpace(line[len("/bot "):]))
			if err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			fmt.Printf("bot: %s\n", reply.BotMessage.Content)

		default:
			chat.Composing()
			if err := chat.SendMessage(ctx, line); err != nil {
				continue
			}
		}
	}
}
