package model

import "time"

// NotificationType classifies a social notification.
type NotificationType string

const (
	NotificationLikePost      NotificationType = "LIKE_POST"
	NotificationCommentOnPost NotificationType = "COMMENT_ON_POST"
	NotificationNewFollower   NotificationType = "NEW_FOLLOWER"
	NotificationNewMessage    NotificationType = "NEW_MESSAGE"
)

// Notification is a social event delivered to the current user.
type Notification struct {
	ID              int64            `json:"id"`
	RecipientID     int64            `json:"recipientId"`
	SenderID        int64            `json:"senderId"`
	SenderUsername  string           `json:"senderUsername"`
	SenderFullName  string           `json:"senderFullName,omitempty"`
	SenderAvatarURL string           `json:"senderAvatarUrl,omitempty"`
	Type            NotificationType `json:"type"`
	PostID          *int64           `json:"postId,omitempty"`
	PostImageURL    string           `json:"postImageUrl,omitempty"`
	IsRead          bool             `json:"isRead"`
	Message         string           `json:"message"`
	CreatedAt       time.Time        `json:"createdAt"`
}
