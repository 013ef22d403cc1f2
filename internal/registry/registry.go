// Package registry maps run ids to run records for polling.
//
// The in-memory set is bounded: once it holds more than its capacity, the
// least recently touched terminal runs are evicted. Active runs are never
// evicted, so the set can temporarily exceed capacity when every record is
// active. With a Store configured, every write is persisted and evicted
// runs are read back from the store.
package registry

import (
	"cmp"
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurogenx/neurogenx/internal/model"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

// ErrRunExists is returned by Create for a run id already registered.
var ErrRunExists = errors.New("registry: run already exists")

// Store persists run records. GetRun returns an error wrapping
// model.ErrRunNotFound for unknown ids.
type Store interface {
	SaveRun(ctx context.Context, rec model.RunRecord) error
	GetRun(ctx context.Context, id uuid.UUID) (model.RunRecord, error)
	ListRuns(ctx context.Context, status model.RunStatus, limit int) ([]model.RunRecord, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	capacity     int
	store        Store
	storeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*list.Element
	lru     *list.List // front = most recently touched; values are *model.RunRecord
}

// New returns a registry holding up to capacity records in memory. store
// may be nil.
func New(capacity int, store Store, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity:     capacity,
		store:        store,
		storeTimeout: 5 * time.Second,
		logger:       logger,
		entries:      make(map[uuid.UUID]*list.Element),
		lru:          list.New(),
	}
}

// Create registers a new record. Each run id may be created once.
func (r *Registry) Create(ctx context.Context, rec model.RunRecord) error {
	snap := rec.Clone()
	r.mu.Lock()
	if _, ok := r.entries[rec.RunID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRunExists, rec.RunID)
	}
	r.entries[rec.RunID] = r.lru.PushFront(&snap)
	r.evictLocked()
	r.mu.Unlock()

	return r.persist(ctx, snap)
}

// Update replaces the stored snapshot for rec.RunID. The in-memory copy is
// always updated; a store failure is returned after that.
func (r *Registry) Update(ctx context.Context, rec model.RunRecord) error {
	snap := rec.Clone()
	r.mu.Lock()
	if el, ok := r.entries[rec.RunID]; ok {
		el.Value = &snap
		r.lru.MoveToFront(el)
	} else {
		r.entries[rec.RunID] = r.lru.PushFront(&snap)
	}
	r.evictLocked()
	r.mu.Unlock()

	return r.persist(ctx, snap)
}

// Get returns a snapshot of the run, falling back to the store for runs no
// longer held in memory. Unknown ids yield model.ErrRunNotFound.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (model.RunRecord, error) {
	r.mu.Lock()
	if el, ok := r.entries[id]; ok {
		r.lru.MoveToFront(el)
		snap := el.Value.(*model.RunRecord).Clone()
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	if r.store == nil {
		return model.RunRecord{}, model.ErrRunNotFound
	}
	rec, err := r.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			return model.RunRecord{}, model.ErrRunNotFound
		}
		return model.RunRecord{}, fmt.Errorf("registry: load run %s: %w", id, err)
	}
	return rec, nil
}

// List returns snapshots of the in-memory records, newest first.
func (r *Registry) List() []model.RunRecord {
	r.mu.Lock()
	out := make([]model.RunRecord, 0, len(r.entries))
	for el := r.lru.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*model.RunRecord).Clone())
	}
	r.mu.Unlock()
	slices.SortStableFunc(out, func(a, b model.RunRecord) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return out
}

// Query returns up to limit snapshots, newest first, optionally filtered by
// status. With a store it lists from the store, so evicted runs are
// included. In-memory snapshots replace stored ones for runs still held,
// and held runs the store is missing are merged in.
func (r *Registry) Query(ctx context.Context, status model.RunStatus, limit int) ([]model.RunRecord, error) {
	if r.store == nil {
		out := make([]model.RunRecord, 0)
		for _, rec := range r.List() {
			if status != "" && rec.Status != status {
				continue
			}
			if len(out) == limit {
				break
			}
			out = append(out, rec)
		}
		return out, nil
	}

	stored, err := r.store.ListRuns(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: list runs: %w", err)
	}
	r.mu.Lock()
	out := make([]model.RunRecord, 0, len(stored))
	seen := make(map[uuid.UUID]struct{}, len(stored))
	for _, rec := range stored {
		seen[rec.RunID] = struct{}{}
		if el, ok := r.entries[rec.RunID]; ok {
			live := el.Value.(*model.RunRecord)
			if status != "" && live.Status != status {
				continue
			}
			rec = live.Clone()
		}
		out = append(out, rec)
	}
	for id, el := range r.entries {
		live := el.Value.(*model.RunRecord)
		if _, ok := seen[id]; ok || (status != "" && live.Status != status) {
			continue
		}
		out = append(out, live.Clone())
	}
	r.mu.Unlock()

	slices.SortStableFunc(out, func(a, b model.RunRecord) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of records held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Active returns the number of in-memory records that are not terminal.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for el := r.lru.Front(); el != nil; el = el.Next() {
		if !el.Value.(*model.RunRecord).Status.Terminal() {
			n++
		}
	}
	return n
}

// evictLocked drops least recently touched terminal records until the set
// fits capacity or only active records remain. Caller holds r.mu.
func (r *Registry) evictLocked() {
	el := r.lru.Back()
	for len(r.entries) > r.capacity && el != nil {
		prev := el.Prev()
		rec := el.Value.(*model.RunRecord)
		if rec.Status.Terminal() {
			r.lru.Remove(el)
			delete(r.entries, rec.RunID)
		}
		el = prev
	}
}

func (r *Registry) persist(ctx context.Context, rec model.RunRecord) error {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()
	if err := r.store.SaveRun(ctx, rec); err != nil {
		r.logger.Warn("registry: persist run failed", "run_id", rec.RunID, "status", rec.Status, "error", err)
		return fmt.Errorf("registry: persist run %s: %w", rec.RunID, err)
	}
	return nil
}
