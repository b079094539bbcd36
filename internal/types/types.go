package types

import (
	"strings"
	"time"
)

type User struct {
	Id           int       `json:"-"`
	ExternalId   string    `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// ChatMessage is the immutable unit of conversation. Id is assigned by the
// sending session at creation time and is the sole deduplication key.
type ChatMessage struct {
	Id         string    `json:"id"`
	SenderId   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

type PresenceRecord struct {
	UserId   string    `json:"user_id"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
}

// ConversationId derives the id of the conversation between two users. The
// pair is unordered: both participants compute the same id regardless of who
// initiates.
func ConversationId(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, "-")
}
