package presence

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/duochat/duochat/internal/types"
)

// Registry tracks which identities currently hold a live connection. Records
// are created when the transport reports a connection and removed when the
// transport reports connection loss, clean or not. Clients never remove
// themselves with an explicit message.
type Registry struct {
	log         *log.Logger
	mu          sync.RWMutex
	records     map[string]types.PresenceRecord
	subscribers map[int]func([]types.PresenceRecord)
	nextToken   int
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		log:         logger,
		records:     make(map[string]types.PresenceRecord),
		subscribers: make(map[int]func([]types.PresenceRecord)),
	}
}

// Register upserts a record for the identity and marks it seen now. Safe to
// call repeatedly for the same identity.
func (r *Registry) Register(userId, username string) {
	r.mu.Lock()
	r.records[userId] = types.PresenceRecord{
		UserId:   userId,
		Username: username,
		LastSeen: time.Now().UTC(),
	}
	snapshot := r.snapshotLocked()
	subs := r.subscribersLocked()
	r.mu.Unlock()

	r.notify(subs, snapshot)
}

// Deregister removes the identity's record. Deregistering an identity that
// is not present is a no-op, not an error.
func (r *Registry) Deregister(userId string) {
	r.mu.Lock()
	if _, ok := r.records[userId]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.records, userId)
	snapshot := r.snapshotLocked()
	subs := r.subscribersLocked()
	r.mu.Unlock()

	r.log.Printf("presence: removed %q", userId)
	r.notify(subs, snapshot)
}

// ListOnline returns a point-in-time snapshot of all live records, sorted by
// user id for stable output.
func (r *Registry) ListOnline() []types.PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Subscribe registers fn to be called with the full record set whenever the
// set changes. The returned token is passed to Unsubscribe.
func (r *Registry) Subscribe(fn func([]types.PresenceRecord)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := r.nextToken
	r.nextToken++
	r.subscribers[token] = fn
	return token
}

func (r *Registry) Unsubscribe(token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, token)
}

func (r *Registry) snapshotLocked() []types.PresenceRecord {
	records := make([]types.PresenceRecord, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UserId < records[j].UserId
	})
	return records
}

func (r *Registry) subscribersLocked() []func([]types.PresenceRecord) {
	subs := make([]func([]types.PresenceRecord), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

// notify runs outside the registry lock so a subscriber may call back into
// the registry without deadlocking.
func (r *Registry) notify(subs []func([]types.PresenceRecord), snapshot []types.PresenceRecord) {
	for _, fn := range subs {
		fn(snapshot)
	}
}
