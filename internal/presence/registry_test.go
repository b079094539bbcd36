package presence

import (
	"sync"
	"testing"

	"github.com/duochat/duochat/internal/testutil"
	"github.com/duochat/duochat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRegisterAndListOnline(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Register("u2", "bob")
	r.Register("u1", "alice")

	online := r.ListOnline()
	assert.Len(t, online, 2)
	assert.Equal(t, "u1", online[0].UserId, "expected snapshot sorted by user id")
	assert.Equal(t, "u2", online[1].UserId)
	assert.False(t, online[0].LastSeen.IsZero(), "expected last seen to be set")
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Register("u1", "alice")
	r.Register("u1", "alice")

	assert.Len(t, r.ListOnline(), 1, "expected a single record per identity")
}

func TestDeregister(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	r.Register("u1", "alice")
	r.Deregister("u1")
	assert.Empty(t, r.ListOnline(), "expected record removed after deregister")

	// deregistering an unknown identity is a no-op
	r.Deregister("u1")
	r.Deregister("never-registered")
	assert.Empty(t, r.ListOnline())
}

func TestSubscribeReceivesFullSnapshots(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	var snapshots [][]types.PresenceRecord
	token := r.Subscribe(func(records []types.PresenceRecord) {
		snapshots = append(snapshots, records)
	})

	r.Register("u1", "alice")
	r.Register("u2", "bob")
	r.Deregister("u1")

	assert.Len(t, snapshots, 3, "expected one callback per set change")
	assert.Len(t, snapshots[0], 1)
	assert.Len(t, snapshots[1], 2)
	assert.Len(t, snapshots[2], 1)
	assert.Equal(t, "u2", snapshots[2][0].UserId)

	r.Unsubscribe(token)
	r.Register("u3", "carol")
	assert.Len(t, snapshots, 3, "expected no callbacks after unsubscribe")
}

func TestDeregisterUnknownDoesNotNotify(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))

	var calls int
	r.Subscribe(func([]types.PresenceRecord) { calls++ })

	r.Deregister("ghost")
	assert.Zero(t, calls, "expected no notification when the set did not change")
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t))
	r.Subscribe(func([]types.PresenceRecord) {})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		id := string(rune('a' + i%26))
		go func() {
			defer wg.Done()
			r.Register(id, id)
		}()
		go func() {
			defer wg.Done()
			r.Deregister(id)
			r.ListOnline()
		}()
	}
	wg.Wait()
}
