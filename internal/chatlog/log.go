// Package chatlog provides the durable, subscribable per-conversation
// message log. Live relay delivery is best-effort; the log subscription is
// the path that guarantees every session eventually sees every message.
package chatlog

import (
	"github.com/duochat/duochat/internal/types"
)

type Log interface {
	// Append durably persists msg in the conversation's log and notifies
	// subscribers of that conversation. Append is safe to retry with the
	// same message id.
	Append(conversationId string, msg types.ChatMessage) error
	// ReadAll returns a point-in-time snapshot of the conversation's
	// messages ordered by timestamp, insertion order breaking ties.
	ReadAll(conversationId string) ([]types.ChatMessage, error)
	// Subscribe registers fn to receive the full ordered sequence whenever
	// the conversation's log changes.
	Subscribe(conversationId string, fn func([]types.ChatMessage)) int
	Unsubscribe(conversationId string, token int)
}
