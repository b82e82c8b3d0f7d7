package cache

import (
	"sync"

	"github.com/schoolops/rollcall/pkg/types"
)

// ProfileCache stores member profiles for the lifetime of the process so
// repeated runs within a day skip refetching static reference data.
// There is no eviction; a restart starts empty.
type ProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]types.Profile
}

// NewProfileCache creates an empty profile cache
func NewProfileCache() *ProfileCache {
	return &ProfileCache{profiles: make(map[string]types.Profile)}
}

// Get returns the cached profile for a member id
func (c *ProfileCache) Get(memberID string) (types.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[memberID]
	return p, ok
}

// Put stores a profile, replacing any existing entry
func (c *ProfileCache) Put(p types.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.MemberID] = p
}

// Len returns the number of cached profiles
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}

// ChangeCache stores dismissal-change records captured when a member is
// marked absent, keyed by member id, so the original routing can be
// restored if the member later arrives. Entries are consumed with Take.
type ChangeCache struct {
	mu      sync.Mutex
	records map[string]types.ChangeRecord
}

// NewChangeCache creates an empty change-record cache
func NewChangeCache() *ChangeCache {
	return &ChangeCache{records: make(map[string]types.ChangeRecord)}
}

// Put stores a change record for a member
func (c *ChangeCache) Put(rec types.ChangeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.MemberID] = rec
}

// Take returns and removes the record for a member id, if present
func (c *ChangeCache) Take(memberID string) (types.ChangeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[memberID]
	if ok {
		delete(c.records, memberID)
	}
	return rec, ok
}

// Len returns the number of cached records
func (c *ChangeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
