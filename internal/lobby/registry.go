// internal/lobby/registry.go
package lobby

import (
	"sync"

	"github.com/google/uuid"
)

// regShardCount is the number of registry shards. Lobby ids are random, so
// the first id byte spreads evenly.
const regShardCount = 32

type regShard struct {
	mu      sync.RWMutex
	lobbies map[uuid.UUID]*Lobby
}

// registry is the sharded lobbyId -> Lobby map. Gets, puts, and removals
// are atomic per shard; per-lobby state is guarded by the lobby's own mutex.
type registry struct {
	shards [regShardCount]*regShard
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i] = &regShard{lobbies: make(map[uuid.UUID]*Lobby)}
	}
	return r
}

func (r *registry) shard(id uuid.UUID) *regShard {
	return r.shards[int(id[0])%regShardCount]
}

func (r *registry) get(id uuid.UUID) (*Lobby, bool) {
	s := r.shard(id)
	s.mu.RLock()
	l, ok := s.lobbies[id]
	s.mu.RUnlock()
	return l, ok
}

func (r *registry) put(l *Lobby) {
	s := r.shard(l.ID)
	s.mu.Lock()
	s.lobbies[l.ID] = l
	s.mu.Unlock()
}

func (r *registry) remove(id uuid.UUID) {
	s := r.shard(id)
	s.mu.Lock()
	delete(s.lobbies, id)
	s.mu.Unlock()
}

// snapshot returns the current lobby pointers across all shards. Callers
// lock each lobby before reading its mutable fields.
func (r *registry) snapshot() []*Lobby {
	var out []*Lobby
	for _, s := range r.shards {
		s.mu.RLock()
		for _, l := range s.lobbies {
			out = append(out, l)
		}
		s.mu.RUnlock()
	}
	return out
}

func (r *registry) count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.lobbies)
		s.mu.RUnlock()
	}
	return n
}

// codeRegistry tracks claimed lobby codes so the uniqueness check and the
// lobby insertion stay linearizable.
type codeRegistry struct {
	mu    sync.Mutex
	codes map[string]uuid.UUID
}

func newCodeRegistry() *codeRegistry {
	return &codeRegistry{codes: make(map[string]uuid.UUID)}
}

// claim records code -> id unless the code is already taken.
func (c *codeRegistry) claim(code string, id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.codes[code]; taken {
		return false
	}
	c.codes[code] = id
	return true
}

// release frees a code if it is still bound to the given lobby.
func (c *codeRegistry) release(code string, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.codes[code]; ok && cur == id {
		delete(c.codes, code)
	}
}

// memberKey scopes a session token to one game.
type memberKey struct {
	gameID uuid.UUID
	token  string
}

// memberIndex maps (gameId, token) -> lobbyId, enforcing one lobby per
// token per game. Inserts and removals are independent atomic operations;
// membership itself is arbitrated inside each lobby's mutex.
type memberIndex struct {
	mu sync.RWMutex
	m  map[memberKey]uuid.UUID
}

func newMemberIndex() *memberIndex {
	return &memberIndex{m: make(map[memberKey]uuid.UUID)}
}

func (ix *memberIndex) get(gameID uuid.UUID, token string) (uuid.UUID, bool) {
	ix.mu.RLock()
	id, ok := ix.m[memberKey{gameID, token}]
	ix.mu.RUnlock()
	return id, ok
}

// reserve binds the token to lobbyID unless it is already bound to a
// different lobby in the same game. Returns the winning binding and whether
// the requested binding holds.
func (ix *memberIndex) reserve(gameID uuid.UUID, token string, lobbyID uuid.UUID) (uuid.UUID, bool) {
	key := memberKey{gameID, token}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, ok := ix.m[key]; ok {
		return cur, cur == lobbyID
	}
	ix.m[key] = lobbyID
	return lobbyID, true
}

// remove clears the binding if it still points at the given lobby.
func (ix *memberIndex) remove(gameID uuid.UUID, token string, lobbyID uuid.UUID) {
	key := memberKey{gameID, token}
	ix.mu.Lock()
	if cur, ok := ix.m[key]; ok && cur == lobbyID {
		delete(ix.m, key)
	}
	ix.mu.Unlock()
}
