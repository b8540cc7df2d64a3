package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/malluvkcr7/cloudcom/pkg/metrics"
	"github.com/malluvkcr7/cloudcom/pkg/types"
)

// Registry is the controller's view of the worker fleet, keyed by worker
// identifier. All mutation happens under one mutex; readers take snapshots
// and release the lock before any wire I/O.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*types.Worker
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		workers: make(map[string]*types.Worker),
		now:     time.Now,
	}
}

// UpsertResult describes what a heartbeat did to the registry.
type UpsertResult int

const (
	UpsertRefreshed UpsertResult = iota // known live worker beat again
	UpsertNew                           // first heartbeat ever
	UpsertRevived                       // was down, now up again
)

// Upsert ingests a heartbeat. Last-heartbeat only moves forward; a beat
// from a down worker flips it back to up.
func (r *Registry) Upsert(id, address string) UpsertResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.workers[id]
	if !ok {
		r.workers[id] = &types.Worker{
			ID:            id,
			Address:       address,
			Status:        types.WorkerStatusUp,
			LastHeartbeat: now,
			FirstSeen:     now,
		}
		r.updateGauges()
		return UpsertNew
	}

	w.Address = address
	if now.After(w.LastHeartbeat) {
		w.LastHeartbeat = now
	}
	if w.Status == types.WorkerStatusDown {
		w.Status = types.WorkerStatusUp
		r.updateGauges()
		return UpsertRevived
	}
	return UpsertRefreshed
}

// MarkDown flips a worker to down. The entry is preserved so a later
// heartbeat can revive it. Returns false if the worker is unknown or
// already down.
func (r *Registry) MarkDown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok || w.Status == types.WorkerStatusDown {
		return false
	}
	w.Status = types.WorkerStatusDown
	r.updateGauges()
	return true
}

// Get returns a copy of one entry.
func (r *Registry) Get(id string) (types.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return types.Worker{}, false
	}
	return *w, true
}

// Snapshot returns copies of every entry, ordered by identifier.
func (r *Registry) Snapshot() []types.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Live returns the live workers, ordered by identifier.
func (r *Registry) Live() []types.Worker {
	all := r.Snapshot()
	live := all[:0]
	for _, w := range all {
		if w.Live() {
			live = append(live, w)
		}
	}
	return live
}

// LiveIDs returns just the identifiers of live workers, ordered.
func (r *Registry) LiveIDs() []string {
	live := r.Live()
	ids := make([]string, len(live))
	for i, w := range live {
		ids[i] = w.ID
	}
	return ids
}

// Address resolves a worker identifier to its dialable address.
func (r *Registry) Address(id string) (string, bool) {
	w, ok := r.Get(id)
	if !ok {
		return "", false
	}
	return w.Address, true
}

// Stale returns the live workers whose last heartbeat is older than the
// timeout, measured against now.
func (r *Registry) Stale(timeout time.Duration) []types.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var stale []types.Worker
	for _, w := range r.workers {
		if w.Status == types.WorkerStatusUp && now.Sub(w.LastHeartbeat) > timeout {
			stale = append(stale, *w)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale
}

// Len returns the number of registered workers, live or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// updateGauges is called with the lock held.
func (r *Registry) updateGauges() {
	live, down := 0, 0
	for _, w := range r.workers {
		if w.Status == types.WorkerStatusUp {
			live++
		} else {
			down++
		}
	}
	metrics.WorkersLive.Set(float64(live))
	metrics.WorkersDown.Set(float64(down))
}
