// Package store keeps deployment runs and their audit events, so a
// run parked at an approval gate survives a restart.
package store

import (
	"context"
	"errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
)

var (
	ErrNotFound      = errors.New("run not found")
	ErrAlreadyExists = errors.New("run already exists")
	// ErrConflict is returned by Update when the run was changed
	// since it was read.
	ErrConflict = errors.New("run was modified concurrently")
	// ErrActiveRun is returned when a service already has a run in
	// progress.
	ErrActiveRun = errors.New("service already has an active run")
)

// Active reports whether a run still holds its service. A failed run
// does, until it is retried to completion or discarded.
func Active(r deploy.Run) bool {
	switch r.Phase {
	case deploy.PhaseReclaimed, deploy.PhaseAbandoned, deploy.PhaseDiscarded:
		return false
	}
	return true
}

// Filter selects runs for List. Zero fields match everything.
type Filter struct {
	Cluster string
	Service string
	Active  bool
	Limit   int
}

// Match reports whether the run passes the filter (ignoring Limit).
func (f Filter) Match(r deploy.Run) bool {
	if f.Cluster != "" && r.Descriptor.Cluster != f.Cluster {
		return false
	}
	if f.Service != "" && r.Descriptor.Service != f.Service {
		return false
	}
	if f.Active && !Active(r) {
		return false
	}
	return true
}

type RunReader interface {
	// Get returns the run, or ErrNotFound.
	Get(ctx context.Context, id deploy.RunID) (deploy.Run, error)
	// List returns matching runs, newest first.
	List(ctx context.Context, f Filter) ([]deploy.Run, error)
	// Events returns the run's events in the order they were
	// appended.
	Events(ctx context.Context, id deploy.RunID) ([]event.Event, error)
}

type RunWriter interface {
	// Create stores a new run at version 1. It fails with
	// ErrActiveRun if another run for the same service is active.
	Create(ctx context.Context, r deploy.Run) (deploy.Run, error)
	// Update stores r if its Version is still the stored version,
	// and returns it with the version incremented.
	Update(ctx context.Context, r deploy.Run) (deploy.Run, error)
	// AppendEvent adds an event to a run's log and returns it with
	// its ID set.
	AppendEvent(ctx context.Context, e event.Event) (event.Event, error)
}

type Store interface {
	RunReader
	RunWriter
}

// EventWriter adapts a store to event.EventWriter.
func EventWriter(s RunWriter) event.EventWriter {
	return writer{s}
}

type writer struct {
	s RunWriter
}

func (w writer) LogEvent(e event.Event) error {
	_, err := w.s.AppendEvent(context.Background(), e)
	return err
}
