package chatlog

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/duochat/duochat/internal/database"
	"github.com/duochat/duochat/internal/types"
)

// DBLog stores conversation logs in the database and fans change
// notifications out to in-process subscribers. The design assumes a single
// relay process, so no cross-process change feed is needed.
type DBLog struct {
	log  *log.Logger
	db   database.Repository
	mu   sync.RWMutex
	subs map[string]map[int]func([]types.ChatMessage)
	next int
}

func NewDBLog(logger *log.Logger, db database.Repository) *DBLog {
	return &DBLog{
		log:  logger,
		db:   db,
		subs: make(map[string]map[int]func([]types.ChatMessage)),
	}
}

func (l *DBLog) Append(conversationId string, msg types.ChatMessage) error {
	record := database.Message{
		Id:             msg.Id,
		ConversationId: conversationId,
		SenderId:       msg.SenderId,
		Content:        msg.Text,
		CreatedAt:      msg.Timestamp,
	}
	if msg.SenderName != "" {
		record.SenderName = sql.NullString{String: msg.SenderName, Valid: true}
	}

	if err := l.db.AppendMessage(record); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	l.notify(conversationId)
	return nil
}

func (l *DBLog) ReadAll(conversationId string) ([]types.ChatMessage, error) {
	records, err := l.db.GetMessages(conversationId)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	messages := make([]types.ChatMessage, 0, len(records))
	for _, rec := range records {
		messages = append(messages, toChatMessage(rec))
	}

	return messages, nil
}

func (l *DBLog) Subscribe(conversationId string, fn func([]types.ChatMessage)) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subs[conversationId] == nil {
		l.subs[conversationId] = make(map[int]func([]types.ChatMessage))
	}

	token := l.next
	l.next++
	l.subs[conversationId][token] = fn
	return token
}

func (l *DBLog) Unsubscribe(conversationId string, token int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if subs, ok := l.subs[conversationId]; ok {
		delete(subs, token)
		if len(subs) == 0 {
			delete(l.subs, conversationId)
		}
	}
}

// notify re-reads the conversation and delivers the full sequence to every
// subscriber. A failed read only suppresses this round of notifications;
// the data is already durable and will be seen on the next change.
func (l *DBLog) notify(conversationId string) {
	l.mu.RLock()
	subs := make([]func([]types.ChatMessage), 0, len(l.subs[conversationId]))
	for _, fn := range l.subs[conversationId] {
		subs = append(subs, fn)
	}
	l.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	messages, err := l.ReadAll(conversationId)
	if err != nil {
		l.log.Printf("chatlog: notify %q: %v", conversationId, err)
		return
	}

	for _, fn := range subs {
		fn(messages)
	}
}

func toChatMessage(rec database.Message) types.ChatMessage {
	msg := types.ChatMessage{
		Id:        rec.Id,
		SenderId:  rec.SenderId,
		Text:      rec.Content,
		Timestamp: rec.CreatedAt,
	}
	if rec.SenderName.Valid {
		msg.SenderName = rec.SenderName.String
	}
	return msg
}
