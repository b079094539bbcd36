package server

import (
	"log"
	"strings"
	"time"

	"github.com/duochat/duochat/internal/stats"
	"github.com/duochat/duochat/internal/types"
	"github.com/google/uuid"
)

const idleRoomTimeout = time.Second * 5

// Room is the relay-side grouping of connections for one conversation. A
// single goroutine owns the member set, so joins, leaves and publishes on
// the same conversation are serialized and publishes from one session reach
// the other members in the order they were sent.
type Room struct {
	conversationId string
	cs             *ChatServer
	log            *log.Logger
	members        map[*Client]struct{}
	joinChan       chan *ClientMessage
	leaveChan      chan *ClientMessage
	publishChan    chan *ClientMessage
	// killTimer unloads the room once it has been empty for a while
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newRoom(conversationId string, cs *ChatServer) *Room {
	return &Room{
		conversationId: conversationId,
		cs:             cs,
		log:            cs.log,
		members:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		leaveChan:      make(chan *ClientMessage, 256),
		publishChan:    make(chan *ClientMessage, 256),
		exit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.conversationId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.publishChan:
			r.handlePublish(msg)
		case <-r.killTimer.C:
			r.handleTimeout()
		case <-r.exit:
			r.handleExit()
			return
		}
	}
}

// handleJoin admits the client, hydrates its view from the durable log and
// subscribes it to log changes so messages missed by the live relay are
// backfilled. Membership is authoritative here: attaching evicts the
// session from whichever room it was a member of before, so a session never
// sits in two member sets no matter how its joins interleaved.
func (r *Room) handleJoin(msg *ClientMessage) {
	c := msg.client

	select {
	case <-c.stop:
		// the session ended while the join was in flight
		if len(r.members) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	default:
	}

	r.killTimer.Stop()

	view := NewConversationView()
	token := r.cs.chatLog.Subscribe(r.conversationId, func(msgs []types.ChatMessage) {
		c.backfill(view, msgs)
	})

	history, err := r.cs.chatLog.ReadAll(r.conversationId)
	if err != nil {
		r.log.Printf("hydrate %q: %v", r.conversationId, err)
		r.cs.chatLog.Unsubscribe(r.conversationId, token)
		c.queueMessage(ErrInternalError(msg.Id))
		if len(r.members) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}
	view.Merge(history)

	r.members[c] = struct{}{}
	if prev := c.attachConversation(r, view, token); prev != nil && prev != r {
		prev.evict(c)
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"conversation_id": r.conversationId,
	}))
	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		History: &History{
			ConversationId: r.conversationId,
			Messages:       view.Messages(),
		},
	})
}

func (r *Room) handleLeave(msg *ClientMessage) {
	c := msg.client
	if _, ok := r.members[c]; !ok {
		return
	}

	r.log.Printf("removing client %q from room %q", c.user.Username, r.conversationId)
	delete(r.members, c)

	if msg.Id > 0 {
		c.queueMessage(NoErrOK(msg.Id, nil))
	}

	if len(r.members) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.conversationId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// handlePublish appends the message to the durable log before any fan-out.
// If the append fails the error is surfaced to the sender and nothing is
// relayed: an unpersisted message must never be delivered.
func (r *Room) handlePublish(msg *ClientMessage) {
	c := msg.client

	text := strings.TrimSpace(msg.Publish.Text)
	if text == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	chatMsg := types.ChatMessage{
		Id:         uuid.NewString(),
		SenderId:   c.user.ExternalId,
		SenderName: c.user.Username,
		Text:       text,
		Timestamp:  msg.Timestamp,
	}

	if err := r.cs.chatLog.Append(r.conversationId, chatMsg); err != nil {
		r.log.Println("error saving message:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}
	r.cs.stats.Incr(stats.MessagesPersisted)

	c.queueMessage(NoErrAccepted(msg.Id))

	// The sender is skipped: its copy arrives through its own log
	// subscription. Downstream dedup holds either way.
	r.broadcast(chatMsg, c)
	r.cs.stats.Incr(stats.MessagesPublished)
}

func (r *Room) broadcast(msg types.ChatMessage, skip *Client) {
	for client := range r.members {
		if client == skip {
			continue
		}
		client.deliverChat(r, msg)
	}
}

// evict queues a leave for c. Safe to call for rooms c is not a member of;
// handleLeave treats those as no-ops.
func (r *Room) evict(c *Client) {
	select {
	case r.leaveChan <- &ClientMessage{client: c, Leave: &Leave{}}:
	default:
		r.log.Printf("leaveChan full for room %q", r.conversationId)
	}
}

func (r *Room) handleTimeout() {
	r.log.Printf("room %q timed out", r.conversationId)
	select {
	case r.cs.unloadRoomChan <- r.conversationId:
	default:
		// unload queue full, try again later
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleExit() {
	r.log.Printf("room %q is exiting", r.conversationId)
	for c := range r.members {
		c.dropConversation(r)
	}
	close(r.done)
}
