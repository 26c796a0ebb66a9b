package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform/mock"
)

func TestReclaim_BlockedWhileBluePrimary(t *testing.T) {
	f := setup(t)
	run := f.swapped(t)
	// Someone put blue back.
	require.NoError(t, f.platform.UpdatePrimaryTaskSet(context.Background(), mock.Cluster, mock.Service, mock.BlueTaskSet))
	f.platform.ResetCalls()

	run, err := NewReclaimer(f.env).Reclaim(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, deploy.ReclaimBlocked, deploy.KindOf(err))
	assert.Zero(t, f.platform.CountOf(mock.OpDeleteTaskSet))
	assert.Zero(t, f.platform.CountOf(mock.OpDeleteTargetGroup))
	assert.Equal(t, deploy.PhaseFailed, run.Phase)
	assert.Equal(t, deploy.PhaseSwapped, run.Failure.Phase)
	assert.Len(t, f.platform.TaskSets(mock.Cluster, mock.Service), 2)
}

func TestReclaim_BlockedWhileRuleOnBlue(t *testing.T) {
	f := setup(t)
	run := f.swapped(t)
	require.NoError(t, f.platform.ModifyRule(context.Background(), mock.TestRule, deploy.RuleTarget{TargetGroup: mock.BlueTarget}))
	f.platform.ResetCalls()

	_, err := NewReclaimer(f.env).Reclaim(context.Background(), run)
	assert.Equal(t, deploy.ReclaimBlocked, deploy.KindOf(err))
	assert.Empty(t, f.platform.Mutations())
}

func TestReclaim_BlockedBeforeSwap(t *testing.T) {
	f := setup(t)
	run := f.ready(t)
	_, err := NewReclaimer(f.env).Reclaim(context.Background(), run)
	assert.Equal(t, deploy.ReclaimBlocked, deploy.KindOf(err))
	assert.Empty(t, f.platform.Calls())
}

func TestReclaim_RetryAfterBlock(t *testing.T) {
	f := setup(t)
	run := f.swapped(t)
	require.NoError(t, f.platform.UpdatePrimaryTaskSet(context.Background(), mock.Cluster, mock.Service, mock.BlueTaskSet))
	run, err := NewReclaimer(f.env).Reclaim(context.Background(), run)
	require.Error(t, err)

	require.NoError(t, f.platform.UpdatePrimaryTaskSet(context.Background(), mock.Cluster, mock.Service, "ts-2"))
	run, err = NewReclaimer(f.env).Reclaim(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseReclaimed, run.Phase)
	assert.Nil(t, run.Failure)
}

func TestReclaim_Idempotent(t *testing.T) {
	f := setup(t)
	run, err := NewReclaimer(f.env).Reclaim(context.Background(), f.swapped(t))
	require.NoError(t, err)
	f.platform.ResetCalls()

	again, err := NewReclaimer(f.env).Reclaim(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseReclaimed, again.Phase)
	assert.Empty(t, f.platform.Calls())

	// Blue already gone, from a reclaim that died before recording
	// its result.
	f.platform.ResetCalls()
	run.Phase = deploy.PhaseSwapped
	again, err = NewReclaimer(f.env).Reclaim(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseReclaimed, again.Phase)
}

func TestReclaim_TargetGroupInUse(t *testing.T) {
	f := setup(t)
	run := f.swapped(t)
	inUse := 2
	f.platform.Fail = func(op, arg string) error {
		if op == mock.OpDeleteTargetGroup && inUse > 0 {
			inUse--
			return platform.ErrInUse
		}
		return nil
	}

	var err error
	f.drive(func() {
		run, err = NewReclaimer(f.env).Reclaim(context.Background(), run)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.platform.CountOf(mock.OpDeleteTargetGroup))
	_, ok := f.platform.TargetGroups[mock.BlueTarget]
	assert.False(t, ok)
}

func TestReclaim_FirstDeployment(t *testing.T) {
	f := setup(t)
	run := f.swapped(t)
	// Pretend there was no blue.
	run.Descriptor.Blue = deploy.Environment{}
	run, err := NewReclaimer(f.env).Reclaim(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseReclaimed, run.Phase)
	assert.Empty(t, f.platform.Mutations())
}

func TestReclaim_TargetGroupPattern(t *testing.T) {
	f := setup(t)
	run := f.swapped(t)
	f.env.Config.TargetGroupPattern = "bg-*"

	run, err := NewReclaimer(f.env).Reclaim(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, deploy.ReclaimBlocked, deploy.KindOf(err))
	assert.Empty(t, f.platform.Mutations())
	assert.Equal(t, deploy.PhaseSwapped, run.Failure.Phase)
	_, ok := f.platform.TargetGroups[mock.BlueTarget]
	assert.True(t, ok)
}
