package api

import (
	"context"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
)

// ListRunsOptions narrows ListRuns. Zero fields match everything.
type ListRunsOptions struct {
	Cluster string
	Service string
	// Active restricts the list to runs still holding their service.
	Active bool
	Limit  int
}

// Server is what bluegreend offers to bluegreenctl. The pipeline
// implements it directly, and the HTTP client implements it over the
// wire.
type Server interface {
	Ping(context.Context) error
	Version(context.Context) (string, error)

	// StartRun resolves the topology and queues the run. It fails if
	// the service already has an active run.
	StartRun(context.Context, deploy.Topology) (deploy.RunID, error)
	ListRuns(context.Context, ListRunsOptions) ([]deploy.RunStatus, error)
	GetRun(context.Context, deploy.RunID) (deploy.Run, error)
	RunStatus(context.Context, deploy.RunID) (deploy.RunStatus, error)
	RunEvents(context.Context, deploy.RunID) ([]event.Event, error)

	// Decide records an approval decision for the gate the run is
	// parked at.
	Decide(context.Context, deploy.RunID, deploy.Approval) error
	// Retry re-invokes the stage a failed run stopped in.
	Retry(context.Context, deploy.RunID) error
	// Discard rolls back the green environment of a run that will
	// not be swapped.
	Discard(context.Context, deploy.RunID) error
}
