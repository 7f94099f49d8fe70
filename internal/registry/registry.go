package registry

import (
	"sync"

	"github.com/onchainlabs1/sentinel/internal/models"
)

// Registry is the keyed in-memory incident store shared by the scheduler,
// escalation checker, and API. All mutation goes through Update so callers
// never hold a reference into the live map.
type Registry struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{incidents: make(map[string]*models.Incident)}
}

// Put inserts or replaces an incident record.
func (r *Registry) Put(inc models.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := inc.Clone()
	r.incidents[inc.ID] = &copied
}

// Get returns a copy of the incident and whether it exists.
func (r *Registry) Get(id string) (models.Incident, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inc, ok := r.incidents[id]
	if !ok {
		return models.Incident{}, false
	}
	return inc.Clone(), true
}

// Update applies fn to the stored incident under the registry lock and
// reports whether the incident exists.
func (r *Registry) Update(id string, fn func(*models.Incident)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return false
	}
	fn(inc)
	return true
}

// Snapshot returns copies of all incidents currently tracked.
func (r *Registry) Snapshot() []models.Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Incident, 0, len(r.incidents))
	for _, inc := range r.incidents {
		out = append(out, inc.Clone())
	}
	return out
}

// Active returns copies of incidents still requiring attention.
func (r *Registry) Active() []models.Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Incident, 0, len(r.incidents))
	for _, inc := range r.incidents {
		if inc.Active() {
			out = append(out, inc.Clone())
		}
	}
	return out
}

// Remove drops an incident from the registry once it has been archived.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.incidents, id)
}

// Len returns the number of tracked incidents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.incidents)
}
