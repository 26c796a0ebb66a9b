package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
	transport "github.com/fluxcd/ecs-bluegreen/pkg/http"
	"github.com/fluxcd/ecs-bluegreen/pkg/http/daemon"
	"github.com/fluxcd/ecs-bluegreen/pkg/http/httperror"
)

// fakeServer answers from canned values and records what it was asked.
type fakeServer struct {
	topology deploy.Topology
	listOpts api.ListRunsOptions
	approval deploy.Approval
	retried  deploy.RunID
	run      deploy.Run
}

var errNoSuchRun = &bgerr.Error{Type: bgerr.Missing, Help: "no such run", Err: errors.New("run not found")}

func (s *fakeServer) Ping(context.Context) error { return nil }

func (s *fakeServer) Version(context.Context) (string, error) { return "1.2.3", nil }

func (s *fakeServer) StartRun(_ context.Context, topo deploy.Topology) (deploy.RunID, error) {
	s.topology = topo
	return s.run.ID, nil
}

func (s *fakeServer) ListRuns(_ context.Context, opts api.ListRunsOptions) ([]deploy.RunStatus, error) {
	s.listOpts = opts
	return []deploy.RunStatus{s.run.Summary()}, nil
}

func (s *fakeServer) GetRun(_ context.Context, id deploy.RunID) (deploy.Run, error) {
	if id != s.run.ID {
		return deploy.Run{}, errNoSuchRun
	}
	return s.run, nil
}

func (s *fakeServer) RunStatus(ctx context.Context, id deploy.RunID) (deploy.RunStatus, error) {
	run, err := s.GetRun(ctx, id)
	return run.Summary(), err
}

func (s *fakeServer) RunEvents(_ context.Context, id deploy.RunID) ([]event.Event, error) {
	return []event.Event{{
		ID:       1,
		RunID:    id,
		Type:     event.EventStart,
		LogLevel: event.LogLevelInfo,
	}}, nil
}

func (s *fakeServer) Decide(_ context.Context, _ deploy.RunID, a deploy.Approval) error {
	s.approval = a
	return nil
}

func (s *fakeServer) Retry(_ context.Context, id deploy.RunID) error {
	s.retried = id
	return nil
}

func (s *fakeServer) Discard(context.Context, deploy.RunID) error {
	return &bgerr.Error{Type: bgerr.User, Help: "run can't be discarded", Err: errors.New("run is in progress")}
}

func setup(t *testing.T, token string) (*fakeServer, *Client) {
	now := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	run := deploy.NewRun("0f8fad5b-d9cb-469f-a165-70867728950e", deploy.Descriptor{Cluster: "prod", Service: "web"}, now)
	run.SetPhase(deploy.PhaseReady, now)
	fake := &fakeServer{run: run}

	handler := daemon.RequireToken("s3cret", daemon.NewHandler(fake, daemon.NewRouter()))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return fake, New(http.DefaultClient, transport.NewAPIRouter(), srv.URL, Token(token))
}

func TestClient_RoundTrip(t *testing.T) {
	fake, c := setup(t, "s3cret")
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	id, err := c.StartRun(ctx, deploy.Topology{Cluster: "prod", Service: "web", ContainerPort: 8080})
	require.NoError(t, err)
	assert.Equal(t, fake.run.ID, id)
	assert.Equal(t, int64(8080), fake.topology.ContainerPort)

	runs, err := c.ListRuns(ctx, api.ListRunsOptions{Cluster: "prod", Active: true, Limit: 3})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, api.ListRunsOptions{Cluster: "prod", Active: true, Limit: 3}, fake.listOpts)

	status, err := c.RunStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deploy.StatusAwaitingApproval, status.Status)
	assert.Equal(t, deploy.GateSwap, status.PendingGate)

	run, err := c.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseReady, run.Phase)

	events, err := c.RunEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.EventStart, events[0].Type)

	require.NoError(t, c.Decide(ctx, id, deploy.Approval{Gate: "SWAP", Decision: deploy.Approve, By: "alice"}))
	assert.Equal(t, deploy.GateSwap, fake.approval.Gate)
	assert.Equal(t, "alice", fake.approval.By)

	require.NoError(t, c.Retry(ctx, id))
	assert.Equal(t, id, fake.retried)
}

func TestClient_Errors(t *testing.T) {
	_, c := setup(t, "s3cret")
	ctx := context.Background()

	_, err := c.GetRun(ctx, "nope")
	assert.True(t, bgerr.IsMissing(err))

	err = c.Discard(ctx, "whatever")
	assert.True(t, bgerr.IsUser(err))
	assert.Equal(t, "run is in progress", err.Error())
}

func TestClient_Unauthorized(t *testing.T) {
	_, c := setup(t, "wrong")
	err := c.Ping(context.Background())
	assert.Equal(t, transport.ErrorUnauthorized, err)
}

func TestClient_NotOurError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(http.DefaultClient, transport.NewAPIRouter(), srv.URL, "")
	err := c.Ping(context.Background())
	var apiErr *httperror.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsUnavailable())
}
