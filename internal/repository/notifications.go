package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/openvibe/messaging-client/internal/model"
)

// Notifications fetches one page of the current user's notifications.
func (c *Client) Notifications(ctx context.Context, page, size int) ([]model.Notification, error) {
	if size <= 0 {
		size = 20
	}
	q := url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	}
	data, err := c.do(ctx, http.MethodGet, "/api/notifications", q, nil)
	if err != nil {
		return nil, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return nil, err
	}

	var notifications []model.Notification
	if err := json.Unmarshal(payload, &notifications); err == nil {
		return notifications, nil
	}
	var paged model.Page[model.Notification]
	if err := json.Unmarshal(payload, &paged); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return paged.Content, nil
}

// UnreadNotificationCount fetches the number of unread notifications.
func (c *Client) UnreadNotificationCount(ctx context.Context) (int, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	payload, err := unwrap(data)
	if err != nil {
		return 0, err
	}
	var count struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := json.Unmarshal(payload, &count); err != nil {
		return 0, fmt.Errorf("decode unread count: %w", err)
	}
	return count.UnreadCount, nil
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	path := "/api/notifications/" + strconv.FormatInt(id, 10) + "/read"
	data, err := c.do(ctx, http.MethodPut, path, nil, nil)
	if err != nil {
		return err
	}
	_, err = unwrap(data)
	return err
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	data, err := c.do(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil)
	if err != nil {
		return err
	}
	_, err = unwrap(data)
	return err
}
