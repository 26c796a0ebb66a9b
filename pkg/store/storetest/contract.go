// Package storetest provides contract tests for [store.Store]
// implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
	"github.com/fluxcd/ecs-bluegreen/pkg/store"
)

// Factory creates a fresh [store.Store] for each test.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleRun(id deploy.RunID, service string, at time.Time) deploy.Run {
	return deploy.NewRun(id, deploy.Descriptor{
		Cluster:        "prod",
		Service:        service,
		TaskDefinition: "web:7",
		Subnets:        []string{"subnet-a"},
		Blue:           deploy.Environment{TaskSet: "ts-1", TargetGroup: "tg-1"},
		ResolvedAt:     at,
	}, at)
}

// Run exercises the [store.Store] contract.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := factory(t)
		created, err := s.Create(ctx, sampleRun("r1", "web", epoch))
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, deploy.PhaseResolved, got.Phase)
		assert.Equal(t, "web", got.Descriptor.Service)
		assert.Equal(t, []string{"subnet-a"}, got.Descriptor.Subnets)
		assert.Equal(t, "ts-1", got.Descriptor.Blue.TaskSet)
		assert.True(t, got.CreatedAt.Equal(epoch))
		require.Len(t, got.History, 1)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := factory(t)
		r := sampleRun("r1", "web", epoch)
		r.Phase = deploy.PhaseAbandoned
		_, err := s.Create(ctx, r)
		require.NoError(t, err)
		_, err = s.Create(ctx, r)
		assert.True(t, errors.Is(err, store.ErrAlreadyExists), "got %v", err)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := factory(t)
		_, err := s.Get(ctx, "nonexistent")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("SingleFlight", func(t *testing.T) {
		s := factory(t)
		first, err := s.Create(ctx, sampleRun("r1", "web", epoch))
		require.NoError(t, err)

		_, err = s.Create(ctx, sampleRun("r2", "web", epoch.Add(time.Minute)))
		assert.True(t, errors.Is(err, store.ErrActiveRun), "got %v", err)

		_, err = s.Create(ctx, sampleRun("r3", "api", epoch.Add(time.Minute)))
		assert.NoError(t, err, "a different service is unaffected")

		// A failed run still holds the service.
		first.Fail(deploy.StageProvision, errors.New("boom"), epoch.Add(2*time.Minute))
		first, err = s.Update(ctx, first)
		require.NoError(t, err)
		_, err = s.Create(ctx, sampleRun("r2", "web", epoch.Add(3*time.Minute)))
		assert.True(t, errors.Is(err, store.ErrActiveRun), "got %v", err)

		first.SetPhase(deploy.PhaseDiscarded, epoch.Add(4*time.Minute))
		_, err = s.Update(ctx, first)
		require.NoError(t, err)
		_, err = s.Create(ctx, sampleRun("r2", "web", epoch.Add(5*time.Minute)))
		assert.NoError(t, err)
	})

	t.Run("UpdateVersion", func(t *testing.T) {
		s := factory(t)
		r, err := s.Create(ctx, sampleRun("r1", "web", epoch))
		require.NoError(t, err)

		stale := r
		r.SetPhase(deploy.PhaseTargetGroupCreated, epoch.Add(time.Second))
		r.Green.TargetGroup = "tg-2"
		r, err = s.Update(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Version)

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, deploy.PhaseTargetGroupCreated, got.Phase)
		assert.Equal(t, "tg-2", got.Green.TargetGroup)
		assert.Equal(t, int64(2), got.Version)

		stale.SetPhase(deploy.PhaseFailed, epoch.Add(time.Second))
		_, err = s.Update(ctx, stale)
		assert.True(t, errors.Is(err, store.ErrConflict), "got %v", err)

		got, err = s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, deploy.PhaseTargetGroupCreated, got.Phase, "stale write was not applied")

		missing := sampleRun("nope", "web", epoch)
		missing.Version = 1
		_, err = s.Update(ctx, missing)
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("List", func(t *testing.T) {
		s := factory(t)
		for i, svc := range []string{"web", "api", "worker"} {
			r := sampleRun(deploy.RunID("r"+svc), svc, epoch.Add(time.Duration(i)*time.Minute))
			_, err := s.Create(ctx, r)
			require.NoError(t, err)
		}
		done, err := s.Get(ctx, "rapi")
		require.NoError(t, err)
		done.SetPhase(deploy.PhaseReclaimed, epoch.Add(time.Hour))
		_, err = s.Update(ctx, done)
		require.NoError(t, err)

		all, err := s.List(ctx, store.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, deploy.RunID("rworker"), all[0].ID, "newest first")
		assert.Equal(t, deploy.RunID("rweb"), all[2].ID)

		active, err := s.List(ctx, store.Filter{Active: true})
		require.NoError(t, err)
		assert.Len(t, active, 2)

		api, err := s.List(ctx, store.Filter{Cluster: "prod", Service: "api"})
		require.NoError(t, err)
		require.Len(t, api, 1)
		assert.Equal(t, deploy.PhaseReclaimed, api[0].Phase)

		limited, err := s.List(ctx, store.Filter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		none, err := s.List(ctx, store.Filter{Cluster: "staging"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Events", func(t *testing.T) {
		s := factory(t)
		_, err := s.Create(ctx, sampleRun("r1", "web", epoch))
		require.NoError(t, err)

		first, err := s.AppendEvent(ctx, event.ForTransition("r1", deploy.PhaseNone, deploy.Transition{Phase: deploy.PhaseResolved, At: epoch}))
		require.NoError(t, err)
		second, err := s.AppendEvent(ctx, event.Event{
			RunID:     "r1",
			Type:      event.EventApproval,
			StartedAt: epoch.Add(time.Minute),
			EndedAt:   epoch.Add(time.Minute),
			LogLevel:  event.LogLevelInfo,
			Metadata:  &event.ApprovalEventMetadata{Approval: deploy.Approval{Gate: deploy.GateSwap, Decision: deploy.Reject, By: "bob"}},
		})
		require.NoError(t, err)
		assert.True(t, second.ID > first.ID)

		events, err := s.Events(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, first.ID, events[0].ID)
		assert.Equal(t, event.EventPhase, events[0].Type)
		assert.True(t, events[0].StartedAt.Equal(epoch))
		approval, ok := events[1].Metadata.(*event.ApprovalEventMetadata)
		require.True(t, ok, "metadata is %T", events[1].Metadata)
		assert.Equal(t, deploy.Reject, approval.Decision)
		assert.Equal(t, "Gate swap: reject by bob", events[1].String())

		_, err = s.AppendEvent(ctx, event.Event{RunID: "nope", Type: event.EventRetry, LogLevel: event.LogLevelInfo})
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
		_, err = s.Events(ctx, "nope")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("EventWriter", func(t *testing.T) {
		s := factory(t)
		_, err := s.Create(ctx, sampleRun("r1", "web", epoch))
		require.NoError(t, err)
		w := store.EventWriter(s)
		require.NoError(t, w.LogEvent(event.Event{RunID: "r1", Type: event.EventRetry, LogLevel: event.LogLevelInfo, StartedAt: epoch, EndedAt: epoch}))
		events, err := s.Events(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Nil(t, events[0].Metadata)
	})
}
