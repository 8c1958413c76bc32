package mesh

import (
	"sort"
	"sync"
)

// ResultStore keeps the latest FitOutcome per request ID for HTTP endpoints
type ResultStore struct {
	mu       sync.RWMutex
	outcomes map[string]*FitOutcome
	latest   string // ID of the most recently stored outcome
}

// NewResultStore creates an empty result store
func NewResultStore() *ResultStore {
	return &ResultStore{
		outcomes: make(map[string]*FitOutcome),
	}
}

// Put stores an outcome under its RequestID, replacing any previous one.
// Outcomes without an ID are stored under "default".
func (rs *ResultStore) Put(o FitOutcome) string {
	id := o.RequestID
	if id == "" {
		id = "default"
	}
	o.RequestID = id

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.outcomes[id] = &o
	rs.latest = id
	return id
}

// Get returns a copy of the outcome stored under id
func (rs *ResultStore) Get(id string) (FitOutcome, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	o, ok := rs.outcomes[id]
	if !ok {
		return FitOutcome{}, false
	}
	return *o, true
}

// Latest returns the most recently stored outcome
func (rs *ResultStore) Latest() (FitOutcome, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if rs.latest == "" {
		return FitOutcome{}, false
	}
	return *rs.outcomes[rs.latest], true
}

// IDs returns the stored request IDs in sorted order
func (rs *ResultStore) IDs() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	ids := make([]string, 0, len(rs.outcomes))
	for id := range rs.outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored outcomes
func (rs *ResultStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.outcomes)
}
