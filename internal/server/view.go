package server

import (
	"sort"
	"sync"

	"github.com/duochat/duochat/internal/types"
)

// ConversationView is a session's visible message list. Messages reach it
// from two independent paths, the live relay and the durable log
// subscription, in no particular order. The view collapses the two paths:
// insert-if-absent keyed on message id, then a stable re-sort by timestamp,
// so arrival order never affects the final state.
type ConversationView struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	messages []types.ChatMessage
}

func NewConversationView() *ConversationView {
	return &ConversationView{
		seen: make(map[string]struct{}),
	}
}

// Add admits msg unless a message with the same id is already visible.
// Returns false for duplicates.
func (v *ConversationView) Add(msg types.ChatMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.addLocked(msg)
}

// Merge admits every unseen message of a full log snapshot and returns the
// newly admitted messages in their final display order.
func (v *ConversationView) Merge(msgs []types.ChatMessage) []types.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()

	var admitted []types.ChatMessage
	for _, msg := range msgs {
		if v.addLocked(msg) {
			admitted = append(admitted, msg)
		}
	}

	sort.SliceStable(admitted, func(i, j int) bool {
		return admitted[i].Timestamp.Before(admitted[j].Timestamp)
	})
	return admitted
}

// Messages returns a copy of the visible list ordered by timestamp, ties
// broken by order of admission.
func (v *ConversationView) Messages() []types.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]types.ChatMessage, len(v.messages))
	copy(out, v.messages)
	return out
}

func (v *ConversationView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.messages)
}

func (v *ConversationView) addLocked(msg types.ChatMessage) bool {
	if _, ok := v.seen[msg.Id]; ok {
		return false
	}

	v.seen[msg.Id] = struct{}{}
	v.messages = append(v.messages, msg)
	sort.SliceStable(v.messages, func(i, j int) bool {
		return v.messages[i].Timestamp.Before(v.messages[j].Timestamp)
	})
	return true
}
