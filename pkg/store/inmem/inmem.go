// Package inmem is a Store that lives only as long as the process.
package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
	"github.com/fluxcd/ecs-bluegreen/pkg/store"
)

type serviceKey struct {
	cluster, service string
}

func NewDB() *DB {
	return &DB{
		runs:   make(map[deploy.RunID][]byte),
		active: make(map[serviceKey]deploy.RunID),
		events: make(map[deploy.RunID][]event.Event),
	}
}

// DB keeps runs serialised, so callers can never alias a stored
// run's slices.
type DB struct {
	mtx    sync.Mutex
	runs   map[deploy.RunID][]byte
	order  []deploy.RunID
	active map[serviceKey]deploy.RunID
	events map[deploy.RunID][]event.Event
	nextID event.EventID
}

var _ store.Store = &DB{}

func keyOf(r deploy.Run) serviceKey {
	return serviceKey{r.Descriptor.Cluster, r.Descriptor.Service}
}

func (db *DB) load(id deploy.RunID) (deploy.Run, error) {
	var r deploy.Run
	b, found := db.runs[id]
	if !found {
		return r, fmt.Errorf("run %q: %w", id, store.ErrNotFound)
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("unmarshal run: %w", err)
	}
	return r, nil
}

func (db *DB) save(r deploy.Run) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	db.runs[r.ID] = b
	k := keyOf(r)
	switch {
	case store.Active(r):
		db.active[k] = r.ID
	case db.active[k] == r.ID:
		delete(db.active, k)
	}
	return nil
}

func (db *DB) Create(ctx context.Context, r deploy.Run) (deploy.Run, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	if _, found := db.runs[r.ID]; found {
		return r, fmt.Errorf("run %q: %w", r.ID, store.ErrAlreadyExists)
	}
	if other, found := db.active[keyOf(r)]; found && store.Active(r) {
		return r, fmt.Errorf("run %s for %s/%s: %w", other, r.Descriptor.Cluster, r.Descriptor.Service, store.ErrActiveRun)
	}
	r.Version = 1
	if err := db.save(r); err != nil {
		return r, err
	}
	db.order = append(db.order, r.ID)
	return r, nil
}

func (db *DB) Get(ctx context.Context, id deploy.RunID) (deploy.Run, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.load(id)
}

func (db *DB) Update(ctx context.Context, r deploy.Run) (deploy.Run, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	current, err := db.load(r.ID)
	if err != nil {
		return r, err
	}
	if current.Version != r.Version {
		return r, fmt.Errorf("run %q at version %d, not %d: %w", r.ID, current.Version, r.Version, store.ErrConflict)
	}
	if other, found := db.active[keyOf(r)]; found && other != r.ID && store.Active(r) {
		return r, fmt.Errorf("run %s for %s/%s: %w", other, r.Descriptor.Cluster, r.Descriptor.Service, store.ErrActiveRun)
	}
	r.Version++
	if err := db.save(r); err != nil {
		return r, err
	}
	return r, nil
}

func (db *DB) List(ctx context.Context, f store.Filter) ([]deploy.Run, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	var runs []deploy.Run
	for i := len(db.order) - 1; i >= 0; i-- {
		r, err := db.load(db.order[i])
		if err != nil {
			return nil, err
		}
		if f.Match(r) {
			runs = append(runs, r)
		}
	}
	// Newest first; the later insert wins a tie.
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if f.Limit > 0 && len(runs) > f.Limit {
		runs = runs[:f.Limit]
	}
	return runs, nil
}

func (db *DB) AppendEvent(ctx context.Context, e event.Event) (event.Event, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	if _, found := db.runs[e.RunID]; !found {
		return e, fmt.Errorf("run %q: %w", e.RunID, store.ErrNotFound)
	}
	db.nextID++
	e.ID = db.nextID
	db.events[e.RunID] = append(db.events[e.RunID], e)
	return e, nil
}

func (db *DB) Events(ctx context.Context, id deploy.RunID) ([]event.Event, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()

	if _, found := db.runs[id]; !found {
		return nil, fmt.Errorf("run %q: %w", id, store.ErrNotFound)
	}
	return append([]event.Event{}, db.events[id]...), nil
}
