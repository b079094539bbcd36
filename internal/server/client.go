package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/duochat/duochat/internal/stats"
	"github.com/duochat/duochat/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one conversation session: the server-side half of a websocket
// connection. It lives from upgrade to connection loss and is never reused;
// a reconnecting user gets a fresh session.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once

	// mu guards the session's single active conversation
	mu       sync.Mutex
	room     *Room
	view     *ConversationView
	subToken int
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read is also the connection-loss detector: a failed read, whether from a
// clean close, an abrupt socket drop or a missed pong deadline, ends the
// pump and triggers cleanup. Presence correction never depends on the
// client announcing its departure.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		switch {
		case msg.Join != nil:
			c.joinConversation(&msg)
		case msg.Leave != nil:
			c.leaveConversation(&msg)
		case msg.Publish != nil:
			c.publish(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *Client) joinConversation(msg *ClientMessage) {
	if msg.Join.PeerId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	// one active conversation per session: switching peers leaves the
	// current room first
	if room := c.currentRoom(); room != nil &&
		room.conversationId != types.ConversationId(c.user.ExternalId, msg.Join.PeerId) {
		c.leaveCurrent()
	}

	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveConversation(msg *ClientMessage) {
	room := c.detachConversation()
	if room == nil {
		c.queueMessage(ErrNotJoined(msg.Id))
		return
	}

	select {
	case room.leaveChan <- msg:
	default:
		c.log.Printf("leaveChan full for room %q", room.conversationId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) publish(msg *ClientMessage) {
	room := c.currentRoom()
	if room == nil {
		c.queueMessage(ErrNotJoined(msg.Id))
		return
	}

	select {
	case room.publishChan <- msg:
	default:
		c.log.Printf("publishChan full for room %q", room.conversationId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// deliverChat is the live-relay delivery path. The message is admitted
// through the session's view so a copy that already arrived via the log
// subscription is dropped. A delivery from a room the session has since
// left is discarded: the view only ever holds one conversation.
func (c *Client) deliverChat(r *Room, msg types.ChatMessage) {
	c.mu.Lock()
	var view *ConversationView
	if c.room == r {
		view = c.view
	}
	c.mu.Unlock()

	if view == nil {
		return
	}

	if !view.Add(msg) {
		c.chatServer.stats.Incr(stats.DuplicatesSuppressed)
		return
	}

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Message:     &msg,
	})
}

// backfill is the log-subscription delivery path. It feeds the same view as
// deliverChat, so the two paths are commutative: only messages the session
// has not yet seen are forwarded.
func (c *Client) backfill(view *ConversationView, msgs []types.ChatMessage) {
	for _, msg := range view.Merge(msgs) {
		msg := msg
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Message:     &msg,
		})
	}
}

// attachConversation installs the new conversation state, cancelling the
// previous subscription if one exists, and returns the room the session was
// attached to before. The caller owns evicting the session from that room's
// member set.
func (c *Client) attachConversation(r *Room, view *ConversationView, token int) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.room
	if prev != nil {
		c.chatServer.chatLog.Unsubscribe(prev.conversationId, c.subToken)
	}
	c.room = r
	c.view = view
	c.subToken = token
	return prev
}

// detachConversation clears the session's conversation state and cancels
// its log subscription. Returns the room left, or nil.
func (c *Client) detachConversation() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.room
	if room == nil {
		return nil
	}

	c.chatServer.chatLog.Unsubscribe(room.conversationId, c.subToken)
	c.room = nil
	c.view = nil
	return room
}

// dropConversation detaches only if the session is attached to r. Called by
// the room itself, on rejoin or room unload.
func (c *Client) dropConversation(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room != r {
		return
	}

	c.chatServer.chatLog.Unsubscribe(r.conversationId, c.subToken)
	c.room = nil
	c.view = nil
}

func (c *Client) currentRoom() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) leaveCurrent() {
	room := c.detachConversation()
	if room == nil {
		return
	}

	select {
	case room.leaveChan <- &ClientMessage{client: c, Leave: &Leave{}}:
	default:
		c.log.Printf("leaveChan full for room %q", room.conversationId)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup ends the session. The stop channel is closed first so a join
// still in flight is refused by the room, then deregistration sweeps any
// membership the session left behind.
func (c *Client) cleanup() {
	c.stopClient()
	c.leaveCurrent()
	c.chatServer.DeregisterClient(c)
}
