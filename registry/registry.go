// Package registry assigns short human-readable aliases to opaque
// host-assigned session identifiers, bidirectionally, and tracks which
// identifiers are currently live versus permanently retired.
package registry

import (
	"sort"
	"sync"
	"time"
)

// defaultResolveTTL bounds how long a resolve-cache entry stays fresh.
const defaultResolveTTL = 30 * time.Second

// Identity binds a host session identifier to its assigned alias.
type Identity struct {
	SessionID    string    `json:"session_id"`
	Alias        string    `json:"alias"`
	RootID       string    `json:"root_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

type cacheEntry struct {
	sessionID string
	expires   time.Time
}

// Registry owns the sessionID ↔ alias bijection. Aliases are assigned from a
// single monotonic counter that survives Reset, so they never collide across
// successive batches of agents.
type Registry struct {
	mu      sync.Mutex
	prefix  string
	counter int
	byID    map[string]*Identity
	byAlias map[string]string
	retired map[string]struct{}

	resolveTTL   time.Duration
	resolveCache map[string]cacheEntry
}

// New creates a Registry. prefix is prepended to every alias; empty means
// "agent". resolveTTL <= 0 uses the default.
func New(prefix string, resolveTTL time.Duration) *Registry {
	if prefix == "" {
		prefix = "agent"
	}
	if resolveTTL <= 0 {
		resolveTTL = defaultResolveTTL
	}
	return &Registry{
		prefix:       prefix,
		byID:         make(map[string]*Identity),
		byAlias:      make(map[string]string),
		retired:      make(map[string]struct{}),
		resolveTTL:   resolveTTL,
		resolveCache: make(map[string]cacheEntry),
	}
}

// Register assigns an alias to sessionID. It is idempotent: an already-live
// sessionID gets its existing alias back with no side effect. A retired
// sessionID is a silent no-op (ok=false) so a stale in-flight callback cannot
// resurrect a finished agent under a reused identity.
func (r *Registry) Register(sessionID, rootID string) (alias string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, gone := r.retired[sessionID]; gone {
		return "", false
	}
	if id, exists := r.byID[sessionID]; exists {
		return id.Alias, true
	}

	alias = aliasFor(r.prefix, r.counter)
	r.counter++
	r.byID[sessionID] = &Identity{
		SessionID:    sessionID,
		Alias:        alias,
		RootID:       rootID,
		RegisteredAt: time.Now(),
	}
	r.byAlias[alias] = sessionID
	return alias, true
}

// Alias returns the alias for sessionID, falling back to the raw identifier
// when unregistered. Callers must tolerate an unknown identity.
func (r *Registry) Alias(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, exists := r.byID[sessionID]; exists {
		return id.Alias
	}
	return sessionID
}

// Resolve maps an alias or raw session identifier to a live sessionID.
// Hits are cached for a short TTL; misses are never cached, so a reference
// probed before its agent registers resolves as soon as the agent is live.
func (r *Registry) Resolve(ref string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, hit := r.resolveCache[ref]; hit && time.Now().Before(e.expires) {
		return e.sessionID, true
	}

	sessionID, ok := r.byAlias[ref]
	if !ok {
		if _, live := r.byID[ref]; live {
			sessionID, ok = ref, true
		}
	}
	if !ok {
		return "", false
	}
	r.resolveCache[ref] = cacheEntry{
		sessionID: sessionID,
		expires:   time.Now().Add(r.resolveTTL),
	}
	return sessionID, true
}

// Lookup returns the full identity for a live sessionID.
func (r *Registry) Lookup(sessionID string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, exists := r.byID[sessionID]; exists {
		return *id, true
	}
	return Identity{}, false
}

// RootOf returns the root task identifier for a live sessionID.
func (r *Registry) RootOf(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, exists := r.byID[sessionID]; exists {
		return id.RootID, true
	}
	return "", false
}

// Live returns all live identities ordered by alias assignment.
func (r *Registry) Live() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Identity, 0, len(r.byID))
	for _, id := range r.byID {
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// IsLive reports whether sessionID is currently registered.
func (r *Registry) IsLive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, live := r.byID[sessionID]
	return live
}

// IsRetired reports whether sessionID has been permanently retired.
func (r *Registry) IsRetired(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, gone := r.retired[sessionID]
	return gone
}

// Reset retires every live identity and clears the live tables. The alias
// counter and the retired set are preserved so aliases are never reassigned.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID := range r.byID {
		r.retired[sessionID] = struct{}{}
	}
	r.byID = make(map[string]*Identity)
	r.byAlias = make(map[string]string)
	r.resolveCache = make(map[string]cacheEntry)
}

// SweepResolveCache drops resolve-cache entries that expired before now.
// Called by the reaper on its fixed interval.
func (r *Registry) SweepResolveCache(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for ref, e := range r.resolveCache {
		if now.After(e.expires) {
			delete(r.resolveCache, ref)
			dropped++
		}
	}
	return dropped
}
