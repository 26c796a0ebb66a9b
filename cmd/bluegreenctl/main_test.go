// Shared main test code
package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
)

const testRunID = deploy.RunID("0f8fad5b-d9cb-469f-a165-70867728950e")

// mockServer answers from canned values and records what it was
// asked to do.
type mockServer struct {
	status   deploy.RunStatus
	events   []event.Event
	topology deploy.Topology
	listOpts api.ListRunsOptions
	approval deploy.Approval
	retried  deploy.RunID
	discard  deploy.RunID
}

func newMockServer() *mockServer {
	return &mockServer{
		status: deploy.RunStatus{
			ID:          testRunID,
			Cluster:     "prod",
			Service:     "web",
			Phase:       deploy.PhaseReady,
			Status:      deploy.StatusAwaitingApproval,
			PendingGate: deploy.GateSwap,
			UpdatedAt:   time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

var errNoSuchRun = &bgerr.Error{Type: bgerr.Missing, Help: "no such run", Err: errors.New("run not found")}

func (s *mockServer) Ping(context.Context) error { return nil }

func (s *mockServer) Version(context.Context) (string, error) { return "test", nil }

func (s *mockServer) StartRun(_ context.Context, topo deploy.Topology) (deploy.RunID, error) {
	s.topology = topo
	return testRunID, nil
}

func (s *mockServer) ListRuns(_ context.Context, opts api.ListRunsOptions) ([]deploy.RunStatus, error) {
	s.listOpts = opts
	return []deploy.RunStatus{s.status}, nil
}

func (s *mockServer) GetRun(_ context.Context, id deploy.RunID) (deploy.Run, error) {
	if id != testRunID {
		return deploy.Run{}, errNoSuchRun
	}
	return deploy.Run{ID: id, Phase: s.status.Phase}, nil
}

func (s *mockServer) RunStatus(_ context.Context, id deploy.RunID) (deploy.RunStatus, error) {
	if id != testRunID {
		return deploy.RunStatus{}, errNoSuchRun
	}
	return s.status, nil
}

func (s *mockServer) RunEvents(_ context.Context, id deploy.RunID) ([]event.Event, error) {
	if id != testRunID {
		return nil, errNoSuchRun
	}
	return s.events, nil
}

func (s *mockServer) Decide(_ context.Context, id deploy.RunID, a deploy.Approval) error {
	s.approval = a
	return nil
}

func (s *mockServer) Retry(_ context.Context, id deploy.RunID) error {
	s.retried = id
	return nil
}

func (s *mockServer) Discard(_ context.Context, id deploy.RunID) error {
	s.discard = id
	return nil
}

func mockRootOpts(s *mockServer) *rootOpts {
	return &rootOpts{API: s, Timeout: 5 * time.Second}
}

// execute runs a command with the given arguments, returning what it
// wrote to stdout and stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func assertUsageError(t *testing.T, err error) {
	t.Helper()
	if !isUsageError(err) {
		t.Fatalf("expected a usage error, got %v", err)
	}
}
