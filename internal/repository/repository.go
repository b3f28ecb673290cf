// Package repository wraps the one-shot REST calls to the messaging backend
// and normalizes its response envelope variants into canonical types.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openvibe/messaging-client/internal/model"
	"github.com/openvibe/messaging-client/pkg/logger"
	"github.com/openvibe/messaging-client/pkg/metrics"
)

// ErrNoToken is returned when a call is attempted without a bearer token.
// No network request is made in that case.
var ErrNoToken = errors.New("authentication token not available")

// DefaultMessagePageSize is the page size used when callers pass size <= 0.
const DefaultMessagePageSize = 20

// TokenSource supplies the bearer token for outgoing requests. The token is
// issued outside this module; an empty string means no session.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource wrapping a fixed token string.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() string { return string(t) }

// Client is the REST repository.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *logger.Logger
	tracer  trace.Tracer
}

// New returns a repository for the given API origin.
func New(baseURL string, tokens TokenSource, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		tokens:  tokens,
		log:     log,
		tracer:  otel.Tracer("messaging-client/repository"),
	}
}

// do issues one authenticated request and returns the raw response body.
// Network failures and non-2xx statuses come back as errors; callers never
// see a panic out of this layer.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	ctx, span := c.tracer.Start(ctx, method+" "+path)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordAPIRequest(method, path, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	metrics.RecordAPIRequest(method, path, strconv.Itoa(res.StatusCode), time.Since(start).Seconds())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		span.SetStatus(codes.Error, res.Status)
		c.log.Warn("API request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", res.StatusCode))
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, res.Status, serverErrorMessage(data))
	}

	return data, nil
}

// serverErrorMessage pulls a human-readable message out of an error body.
func serverErrorMessage(data []byte) string {
	var probe struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		if probe.Message != "" {
			return probe.Message
		}
		if probe.Error != "" {
			return probe.Error
		}
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(bytes.TrimSpace(data))
}

// unwrap strips the optional success/data envelope. A bare payload passes
// through untouched; an unsuccessful envelope becomes an error carrying the
// server message.
func unwrap(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var probe struct {
		Success *bool           `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &probe); err == nil && probe.Success != nil {
		if !*probe.Success {
			if probe.Message == "" {
				probe.Message = "request failed"
			}
			return nil, errors.New(probe.Message)
		}
		return probe.Data, nil
	}
	return trimmed, nil
}

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (model.User, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/users/me", nil, nil)
	if err != nil {
		return model.User{}, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return model.User{}, err
	}
	var user model.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return model.User{}, fmt.Errorf("decode current user: %w", err)
	}
	return user, nil
}

// SearchUsers finds candidate recipients. The backend excludes the searching
// user from results.
func (c *Client) SearchUsers(ctx context.Context, keyword string, page, size int) ([]model.User, error) {
	if size <= 0 {
		size = 10
	}
	q := url.Values{
		"keyword": {keyword},
		"page":    {strconv.Itoa(page)},
		"size":    {strconv.Itoa(size)},
	}
	data, err := c.do(ctx, http.MethodGet, "/api/users/search", q, nil)
	if err != nil {
		return nil, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return nil, err
	}

	var users []model.User
	if err := json.Unmarshal(payload, &users); err == nil {
		return users, nil
	}
	var paged model.Page[model.User]
	if err := json.Unmarshal(payload, &paged); err != nil {
		return nil, fmt.Errorf("decode user search results: %w", err)
	}
	return paged.Content, nil
}

// ConversationMessages fetches one page of a conversation's history. The
// server's ordering is preserved; callers sort as needed.
func (c *Client) ConversationMessages(ctx context.Context, id model.ConversationID, page, size int) ([]model.Message, error) {
	if size <= 0 {
		size = DefaultMessagePageSize
	}
	q := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	path := "/api/messages/conversations/" + strconv.FormatInt(int64(id), 10)
	data, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return nil, err
	}

	var messages []model.Message
	if err := json.Unmarshal(payload, &messages); err == nil {
		return messages, nil
	}
	var paged model.Page[model.Message]
	if err := json.Unmarshal(payload, &paged); err != nil {
		return nil, fmt.Errorf("decode message page: %w", err)
	}
	return paged.Content, nil
}

// SendMessage is the single REST entry point used both for sending into an
// existing conversation and for creating a conversation with a new recipient
// via the first message. The returned message carries the authoritative
// conversation id, which may be newly minted.
func (c *Client) SendMessage(ctx context.Context, recipientID int64, content string) (model.Message, error) {
	body := model.SendMessageRequest{RecipientID: recipientID, Content: content}
	data, err := c.do(ctx, http.MethodPost, "/api/messages", nil, body)
	if err != nil {
		return model.Message{}, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return model.Message{}, err
	}
	var msg model.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return model.Message{}, fmt.Errorf("decode sent message: %w", err)
	}
	metrics.RecordMessageSent("rest")
	return msg, nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	path := "/api/messages/" + strconv.FormatInt(messageID, 10)
	data, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	_, err = unwrap(data)
	return err
}
