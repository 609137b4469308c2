// Package presence tracks who else is connected to a workspace. Entries are
// ephemeral: they are refreshed by heartbeats, removed on disconnect and
// expire when a peer goes silent for longer than the TTL.
package presence

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultHeartbeat is how often a session re-broadcasts its state.
	DefaultHeartbeat = 15 * time.Second
	// DefaultTTL is how long a silent peer is kept. Two missed heartbeats.
	DefaultTTL = 30 * time.Second
)

// Colors is the palette identities are drawn from.
var Colors = []string{
	"#30bced", "#6eeb83", "#ffbc42", "#ecd444",
	"#ee6352", "#9ac2c9", "#8acb88", "#1dd3b0",
}

// Names is the list of display names given to anonymous sessions.
var Names = []string{
	"AdaLovelace", "GraceHopper", "AlanTuring", "LinusTorvalds",
	"JohnCarmack", "MargaretHamilton", "BrendanEich", "GuidoVanRossum",
}

// Identity is what other sessions see of a user.
type Identity struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// RandomIdentity picks a name and color.
func RandomIdentity(rng *rand.Rand) Identity {
	return Identity{
		Name:  Names[rng.Intn(len(Names))],
		Color: Colors[rng.Intn(len(Colors))],
	}
}

// State is one session's presence as broadcast on the awareness channel.
// Clock increases with every broadcast from that session so stale
// deliveries can be told apart.
type State struct {
	Session string `json:"session"`
	Clock   uint64 `json:"clock"`
	Identity
}

// Peer is a State plus local bookkeeping.
type Peer struct {
	State
	Local    bool      `json:"local"`
	LastSeen time.Time `json:"lastSeen"`
}

// Registry is the presence table of one session.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	clock clockwork.Clock
	ttl   time.Duration
	local State
	peers map[string]*Peer
}

// NewRegistry creates a registry for the local session. A zero ttl uses
// DefaultTTL.
func NewRegistry(session string, clk clockwork.Clock, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		clock: clk,
		ttl:   ttl,
		local: State{Session: session},
		peers: make(map[string]*Peer),
	}
}

// TTL returns the expiry window.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// SetLocal overwrites the local identity and returns the state to broadcast.
func (r *Registry) SetLocal(id Identity) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.Identity = id
	r.local.Clock++
	return r.local
}

// Heartbeat bumps the local clock and returns the state to re-broadcast.
func (r *Registry) Heartbeat() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.Clock++
	return r.local
}

// Local returns the local state without bumping it.
func (r *Registry) Local() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// Apply records a remote state. Returns false if st is the local session
// or older than what is already known.
func (r *Registry) Apply(st State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.Session == "" || st.Session == r.local.Session {
		return false
	}
	now := r.clock.Now()
	if p, ok := r.peers[st.Session]; ok && st.Clock <= p.Clock {
		if st.Clock == p.Clock {
			p.LastSeen = now
		}
		return false
	}
	r.peers[st.Session] = &Peer{State: st, LastSeen: now}
	return true
}

// Remove drops a session, typically on a disconnect signal from the
// transport.
func (r *Registry) Remove(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[session]; !ok {
		return false
	}
	delete(r.peers, session)
	return true
}

// Expire drops remote sessions not heard from within the TTL and returns
// their ids, sorted.
func (r *Registry) Expire() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock.Now().Add(-r.ttl)
	var expired []string
	for id, p := range r.peers {
		if p.LastSeen.Before(cutoff) {
			expired = append(expired, id)
			delete(r.peers, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// List returns every known session, local first, then remote sessions
// sorted by id.
func (r *Registry) List() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers)+1)
	out = append(out, Peer{State: r.local, Local: true, LastSeen: r.clock.Now()})

	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, *r.peers[id])
	}
	return out
}

// Count returns the number of sessions online, the local one included.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers) + 1
}
