package server

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/duochat/duochat/internal/chatlog"
	"github.com/duochat/duochat/internal/database"
	"github.com/duochat/duochat/internal/presence"
	"github.com/duochat/duochat/internal/stats"
	"github.com/duochat/duochat/internal/testutil"
	"github.com/duochat/duochat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is a stateful in-memory repository for relay tests. Accounts are
// materialized on demand so any peer id resolves.
type memRepo struct {
	mu       sync.Mutex
	seq      int64
	messages []database.Message
}

func (m *memRepo) Ping() error { return nil }
func (m *memRepo) CreateAccount(params database.CreateAccountParams) (database.User, error) {
	return database.User{ExternalId: params.ExternalId, Username: params.Username}, nil
}
func (m *memRepo) UpdateAccount(params database.UpdateAccountParams) (database.User, error) {
	return database.User{}, nil
}
func (m *memRepo) GetAccountById(accountId int) (database.User, error) {
	return database.User{Id: accountId}, nil
}
func (m *memRepo) GetAccountByExternalId(externalId string) (database.User, error) {
	return database.User{Id: 1, ExternalId: externalId, Username: externalId}, nil
}
func (m *memRepo) GetAccountByEmail(email string) (database.User, error) {
	return database.User{}, nil
}
func (m *memRepo) AppendMessage(msg database.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.messages {
		if existing.Id == msg.Id {
			return nil
		}
	}

	m.seq++
	msg.Seq = m.seq
	m.messages = append(m.messages, msg)
	return nil
}
func (m *memRepo) GetMessages(conversationId string) ([]database.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []database.Message
	for _, msg := range m.messages {
		if msg.ConversationId == conversationId {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func newTestChatServer(t *testing.T, repo database.Repository) *ChatServer {
	t.Helper()

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, repo, chatlog.NewDBLog(logger, repo),
		presence.NewRegistry(logger), stats.NoopStats{})
	require.NoError(t, err)
	return cs
}

func newTestClient(t *testing.T, cs *ChatServer, externalId string) *Client {
	t.Helper()

	return &Client{
		chatServer: cs,
		log:        testutil.TestLogger(t),
		user:       types.User{Id: 1, ExternalId: externalId, Username: externalId},
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

// collectFrames drains the client's send queue for the given duration.
func collectFrames(c *Client, d time.Duration) []*ServerMessage {
	var out []*ServerMessage
	deadline := time.After(d)
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		case <-deadline:
			return out
		}
	}
}

func chatFrames(frames []*ServerMessage) []types.ChatMessage {
	var out []types.ChatMessage
	for _, f := range frames {
		if f.Message != nil {
			out = append(out, *f.Message)
		}
	}
	return out
}

func joinMsg(c *Client, id int, peerId string) *ClientMessage {
	return &ClientMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: Now()},
		Join:        &Join{PeerId: peerId},
		client:      c,
	}
}

func publishMsg(c *Client, id int, text string) *ClientMessage {
	return &ClientMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: Now()},
		Publish:     &Publish{Text: text},
		client:      c,
	}
}

func Test_handleJoin_SymmetricConversation(t *testing.T) {
	cs := newTestChatServer(t, &memRepo{})

	alice := newTestClient(t, cs, "alice")
	bob := newTestClient(t, cs, "bob")

	cs.handleJoin(joinMsg(alice, 1, "bob"))
	cs.handleJoin(joinMsg(bob, 2, "alice"))

	assert.Len(t, cs.rooms, 1, "expected both participants to resolve the same room")
	room, ok := cs.rooms[types.ConversationId("alice", "bob")]
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return alice.currentRoom() == room && bob.currentRoom() == room
	}, time.Second, 10*time.Millisecond, "expected both clients to be joined")
}

func Test_handleJoin_UnknownPeer(t *testing.T) {
	repo := &database.MockRepository{}
	repo.On("GetAccountByExternalId", "ghost").Return(database.User{}, assert.AnError)

	cs := newTestChatServer(t, repo)
	c := newTestClient(t, cs, "alice")

	cs.handleJoin(joinMsg(c, 1, "ghost"))

	frames := collectFrames(c, 50*time.Millisecond)
	require.Len(t, frames, 1)
	assert.Equal(t, 404, frames[0].Response.ResponseCode)
	assert.Empty(t, cs.rooms, "expected no room for an unresolvable peer")
}

// A session whose transport died mid-join can hold membership in a room its
// leave never reached. Deregistration must sweep it out so the room can
// empty and unload.
func Test_handleDeregister_SweepsRoomMembership(t *testing.T) {
	cs := newTestChatServer(t, &memRepo{})
	convId := types.ConversationId("alice", "bob")
	r := newTestRoom(cs, convId)
	cs.rooms[convId] = r

	alice := newTestClient(t, cs, "alice")
	r.handleJoin(joinMsg(alice, 1, "bob"))
	require.Contains(t, r.members, alice)

	// the session detached its view, but its leave never reached the room
	alice.detachConversation()
	cs.handleDeregister(alice)

	select {
	case msg := <-r.leaveChan:
		r.handleLeave(msg)
	default:
		t.Fatal("expected deregistration to queue an eviction")
	}

	assert.Empty(t, r.members, "expected the dead session swept from the member set")
	assert.True(t, r.killTimer.Stop(), "expected the emptied room to idle out")
	assert.Empty(t, cs.presence.ListOnline())
}

func Test_RegisterAndDeregister_Presence(t *testing.T) {
	cs := newTestChatServer(t, &memRepo{})
	go cs.Run()

	c := newTestClient(t, cs, "alice")
	cs.RegisterClient(c)

	require.Eventually(t, func() bool {
		return len(cs.presence.ListOnline()) == 1
	}, time.Second, 10*time.Millisecond, "expected presence record after register")

	frames := collectFrames(c, 50*time.Millisecond)
	var roster *Roster
	for _, f := range frames {
		if f.Roster != nil {
			roster = f.Roster
		}
	}
	require.NotNil(t, roster, "expected a roster push after registration")
	assert.Equal(t, "alice", roster.Users[0].UserId)

	cs.DeregisterClient(c)
	require.Eventually(t, func() bool {
		return len(cs.presence.ListOnline()) == 0
	}, time.Second, 10*time.Millisecond, "expected presence record removed after deregister")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))
}

// An abruptly terminated connection sends no farewell. Cleanup is driven by
// the read pump exiting, and presence must correct itself from that alone.
func Test_UncleanDisconnect_SelfHeals(t *testing.T) {
	cs := newTestChatServer(t, &memRepo{})
	go cs.Run()

	alice := newTestClient(t, cs, "alice")
	cs.RegisterClient(alice)
	alice.joinConversation(joinMsg(alice, 1, "bob"))

	require.Eventually(t, func() bool {
		return alice.currentRoom() != nil
	}, time.Second, 10*time.Millisecond)

	// transport loss: the read pump exits and runs cleanup
	alice.cleanup()

	require.Eventually(t, func() bool {
		return len(cs.presence.ListOnline()) == 0
	}, time.Second, 10*time.Millisecond, "expected presence to self-heal without a client message")
	assert.Nil(t, alice.currentRoom(), "expected conversation detached on cleanup")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))
}

func Test_SwitchingPeersLeavesPreviousRoom(t *testing.T) {
	cs := newTestChatServer(t, &memRepo{})
	go cs.Run()

	alice := newTestClient(t, cs, "alice")
	bob := newTestClient(t, cs, "bob")

	alice.joinConversation(joinMsg(alice, 1, "bob"))
	bob.joinConversation(joinMsg(bob, 2, "alice"))
	require.Eventually(t, func() bool {
		return alice.currentRoom() != nil && bob.currentRoom() != nil
	}, time.Second, 10*time.Millisecond)

	// alice switches to a conversation with carol
	alice.joinConversation(joinMsg(alice, 3, "carol"))
	require.Eventually(t, func() bool {
		r := alice.currentRoom()
		return r != nil && r.conversationId == types.ConversationId("alice", "carol")
	}, time.Second, 10*time.Millisecond)

	collectFrames(alice, 50*time.Millisecond)

	// a publish in the old conversation must no longer reach alice
	bob.publish(publishMsg(bob, 4, "still there?"))
	require.Eventually(t, func() bool {
		return len(chatFrames(collectFrames(bob, 20*time.Millisecond))) > 0
	}, time.Second, 10*time.Millisecond, "expected bob to see his own message")

	assert.Empty(t, chatFrames(collectFrames(alice, 100*time.Millisecond)),
		"expected no delivery to a session that left the room")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))
}

// End-to-end walk of the delivery contract: live fan-out, presence
// self-healing and history hydration on reconnect, with no duplicates
// anywhere.
func Test_Scenario_SendDisconnectRehydrate(t *testing.T) {
	cs := newTestChatServer(t, &memRepo{})
	go cs.Run()

	alice := newTestClient(t, cs, "alice")
	bob := newTestClient(t, cs, "bob")
	cs.RegisterClient(alice)
	cs.RegisterClient(bob)

	alice.joinConversation(joinMsg(alice, 1, "bob"))
	bob.joinConversation(joinMsg(bob, 2, "alice"))
	require.Eventually(t, func() bool {
		return alice.currentRoom() != nil && bob.currentRoom() != nil
	}, time.Second, 10*time.Millisecond)

	collectFrames(alice, 50*time.Millisecond)
	collectFrames(bob, 50*time.Millisecond)

	alice.publish(publishMsg(alice, 3, "hi"))

	var received []types.ChatMessage
	require.Eventually(t, func() bool {
		received = append(received, chatFrames(collectFrames(bob, 20*time.Millisecond))...)
		return len(received) > 0
	}, time.Second, 10*time.Millisecond, "expected bob to receive the message")

	require.Len(t, received, 1, "expected exactly one delivery despite two paths")
	assert.Equal(t, "hi", received[0].Text)
	assert.Equal(t, "alice", received[0].SenderId)
	msgId := received[0].Id

	ownCopies := chatFrames(collectFrames(alice, 100*time.Millisecond))
	require.Len(t, ownCopies, 1, "expected the sender to see its message exactly once")
	assert.Equal(t, msgId, ownCopies[0].Id)

	// alice drops without a clean goodbye
	alice.cleanup()
	require.Eventually(t, func() bool {
		online := cs.presence.ListOnline()
		return len(online) == 1 && online[0].UserId == "bob"
	}, time.Second, 10*time.Millisecond, "expected alice removed from presence")

	// bob reconnects with a fresh session and rehydrates
	bob2 := newTestClient(t, cs, "bob")
	cs.RegisterClient(bob2)
	bob2.joinConversation(joinMsg(bob2, 4, "alice"))
	require.Eventually(t, func() bool {
		return bob2.currentRoom() != nil
	}, time.Second, 10*time.Millisecond)

	frames := collectFrames(bob2, 100*time.Millisecond)
	var history *History
	for _, f := range frames {
		if f.History != nil {
			history = f.History
		}
	}
	require.NotNil(t, history, "expected history frame on join")
	require.Len(t, history.Messages, 1)
	assert.Equal(t, msgId, history.Messages[0].Id)
	assert.Empty(t, chatFrames(frames), "expected no duplicate deliveries after hydration")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))
}
