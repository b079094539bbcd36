package server

import (
	"context"
	"log"
	"sync"

	"github.com/duochat/duochat/internal/chatlog"
	"github.com/duochat/duochat/internal/database"
	"github.com/duochat/duochat/internal/presence"
	"github.com/duochat/duochat/internal/stats"
	"github.com/duochat/duochat/internal/types"
)

// ChatServer owns the room registry and the connected client set. All room
// lifecycle changes go through its run loop, so concurrent joins and
// unloads never race into an inconsistent member set.
type ChatServer struct {
	log      *log.Logger
	db       database.Repository
	chatLog  chatlog.Log
	presence *presence.Registry
	stats    stats.StatsProvider

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	onlineCount int

	rooms          map[string]*Room
	joinChan       chan *ClientMessage
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, chatLog chatlog.Log,
	reg *presence.Registry, st stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		chatLog:        chatLog,
		presence:       reg,
		stats:          st,
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan *ClientMessage),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan string, 16),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	st.RegisterMetric(stats.ActiveConnections, "Currently open client connections")
	st.RegisterMetric(stats.ActiveRooms, "Currently loaded conversation rooms")
	st.RegisterMetric(stats.OnlineUsers, "Identities currently in the presence registry")
	st.RegisterMetric(stats.MessagesPublished, "Messages fanned out to room members")
	st.RegisterMetric(stats.MessagesPersisted, "Messages appended to the durable log")
	st.RegisterMetric(stats.DuplicatesSuppressed, "Messages dropped by session dedup")

	reg.Subscribe(cs.broadcastRoster)

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case msg := <-cs.joinChan:
			cs.handleJoin(msg)
		case client := <-cs.registerChan:
			cs.log.Printf("adding connection from %q", client.user.Username)
			cs.addClient(client)
			cs.stats.Incr(stats.ActiveConnections)
			cs.presence.Register(client.user.ExternalId, client.user.Username)
		case client := <-cs.deRegisterChan:
			cs.handleDeregister(client)
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for id, r := range cs.rooms {
				delete(cs.rooms, id)
				close(r.exit)
				<-r.done
			}
			close(cs.done)
			return
		}
	}
}

// handleJoin resolves the requested peer, derives the conversation id and
// routes the join to the conversation's room, loading it if needed.
func (cs *ChatServer) handleJoin(msg *ClientMessage) {
	peer, err := cs.db.GetAccountByExternalId(msg.Join.PeerId)
	if err != nil {
		cs.log.Printf("join: peer %q: %v", msg.Join.PeerId, err)
		msg.client.queueMessage(ErrPeerNotFound(msg.Id))
		return
	}

	convId := types.ConversationId(msg.client.user.ExternalId, peer.ExternalId)

	room, ok := cs.rooms[convId]
	if !ok {
		room = newRoom(convId, cs)
		cs.rooms[convId] = room
		cs.stats.Incr(stats.ActiveRooms)
		go room.start()
	}

	select {
	case room.joinChan <- msg:
	default:
		cs.log.Printf("join channel full on room %q", convId)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// handleDeregister removes the connection and its presence record, then
// sweeps every room for leftover membership. A session whose transport died
// while a join was in flight may sit in a member set it never got to leave;
// the sweep is what guarantees its removal.
func (cs *ChatServer) handleDeregister(c *Client) {
	cs.log.Printf("removing connection from %q", c.user.Username)
	cs.removeClient(c)
	cs.stats.Decr(stats.ActiveConnections)
	cs.presence.Deregister(c.user.ExternalId)

	for _, r := range cs.rooms {
		r.evict(c)
	}
}

func (cs *ChatServer) unloadRoom(id string) {
	r, ok := cs.rooms[id]
	if !ok {
		return
	}

	cs.log.Printf("unloading room %q", id)
	delete(cs.rooms, id)
	cs.stats.Decr(stats.ActiveRooms)
	close(r.exit)
	<-r.done
}

func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.stop:
	}
}

func (cs *ChatServer) DeregisterClient(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.stop:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

// broadcastRoster pushes the full online set to every connected client
// whenever the presence registry changes.
func (cs *ChatServer) broadcastRoster(records []types.PresenceRecord) {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Roster:      &Roster{Users: records},
	}

	cs.clientsLock.Lock()
	for cs.onlineCount < len(records) {
		cs.stats.Incr(stats.OnlineUsers)
		cs.onlineCount++
	}
	for cs.onlineCount > len(records) {
		cs.stats.Decr(stats.OnlineUsers)
		cs.onlineCount--
	}
	for client := range cs.clients {
		client.queueMessage(msg)
	}
	cs.clientsLock.Unlock()
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
