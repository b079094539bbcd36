package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	ExternalId   string
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one row of the append-only per-conversation log. Seq is the
// insertion order assigned by the database and breaks ordering ties between
// messages with equal timestamps.
type Message struct {
	Seq            int64
	Id             string
	ConversationId string
	SenderId       string
	SenderName     sql.NullString
	Content        string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	ExternalId   string
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}
