// Package model defines data structures for the messaging client.
package model

import "time"

// User is an identity record as served by the backend. The locally cached
// current user is loaded once at session start and not expected to change.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	// Profile extras returned by the search endpoint.
	Email          string `json:"email,omitempty"`
	Bio            string `json:"bio,omitempty"`
	FollowersCount int    `json:"followersCount,omitempty"`
	FollowingCount int    `json:"followingCount,omitempty"`
	PostsCount     int    `json:"postsCount,omitempty"`
	IsFollowing    bool   `json:"isFollowing,omitempty"`
}

// Participant is a denormalized embedding of a User inside a Conversation so
// consumers never need a separate join.
type Participant struct {
	UserID   int64      `json:"userId"`
	User     User       `json:"user"`
	JoinedAt *time.Time `json:"joinedAt,omitempty"`
}

// AsParticipant embeds the user into a Participant record.
func (u User) AsParticipant() Participant {
	return Participant{UserID: u.ID, User: u}
}
