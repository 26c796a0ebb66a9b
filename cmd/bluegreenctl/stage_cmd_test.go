package main

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecs-bluegreen/pkg/artifact"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform/mock"
)

type stageFixture struct {
	dir      string
	platform *mock.Platform
	topology deploy.Topology
	clock    clockwork.FakeClock
}

func setupStages(t *testing.T) *stageFixture {
	dir, err := ioutil.TempDir("", "bluegreenctl-stages")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	p, topo := mock.BlueGreen()
	return &stageFixture{
		dir:      dir,
		platform: p,
		topology: topo,
		clock:    clockwork.NewFakeClockAt(time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func (f *stageFixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

// run executes a stage command against the mock platform, moving the
// fake clock forward meanwhile so that polls see time pass.
func (f *stageFixture) run(s deploy.Stage, args ...string) (string, error) {
	opts := newStage(s)
	opts.platform = f.platform
	opts.clock = f.clock
	opts.files = &artifact.Files{}
	cmd := opts.Command()

	type result struct {
		stderr string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		_, stderr, err := execute(cmd, args...)
		done <- result{stderr, err}
	}()
	for {
		select {
		case r := <-done:
			return r.stderr, r.err
		case <-time.After(time.Millisecond):
			f.clock.Advance(5 * time.Second)
		}
	}
}

func (f *stageFixture) readRun(t *testing.T, name string) deploy.Run {
	b, err := ioutil.ReadFile(f.path(name))
	require.NoError(t, err)
	run, err := artifact.DecodeRun(b)
	require.NoError(t, err)
	return run
}

func (f *stageFixture) writeTopology(t *testing.T) {
	b, err := json.Marshal(f.topology)
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(f.path("topology.json"), b, 0600))
}

func TestStageCommands_HappyPath(t *testing.T) {
	f := setupStages(t)
	f.writeTopology(t)

	_, err := f.run(deploy.StageResolve, "--in", f.path("topology.json"), "--out", f.path("resolved.json"), "--run-id", string(testRunID))
	require.NoError(t, err)
	resolved := f.readRun(t, "resolved.json")
	assert.Equal(t, testRunID, resolved.ID)
	assert.Equal(t, deploy.PhaseResolved, resolved.Phase)
	assert.Empty(t, f.platform.Mutations())

	_, err = f.run(deploy.StageProvision, "--in", f.path("resolved.json"), "--out", f.path("ready.json"))
	require.NoError(t, err)
	ready := f.readRun(t, "ready.json")
	assert.Equal(t, deploy.PhaseReady, ready.Phase)
	assert.Equal(t, ready.Green.TargetGroup, f.platform.Rules[mock.TestRule].Target.TargetGroup)

	_, err = f.run(deploy.StageSwap, "--in", f.path("ready.json"), "--out", f.path("swapped.json"))
	require.NoError(t, err)
	swapped := f.readRun(t, "swapped.json")
	assert.Equal(t, deploy.PhaseSwapped, swapped.Phase)
	assert.Equal(t, ready.Green.TargetGroup, f.platform.Rules[mock.ProdRule].Target.TargetGroup)

	_, err = f.run(deploy.StageReclaim, "--in", f.path("swapped.json"), "--out", f.path("done.json"))
	require.NoError(t, err)
	done := f.readRun(t, "done.json")
	assert.Equal(t, deploy.PhaseReclaimed, done.Phase)
	_, blueLeft := f.platform.TargetGroups[mock.BlueTarget]
	assert.False(t, blueLeft)

	tasksets := f.platform.TaskSets(mock.Cluster, mock.Service)
	require.Len(t, tasksets, 1)
	assert.Equal(t, platform.TaskSetPrimary, tasksets[0].Status)
	assert.Equal(t, ready.Green.TaskSet, tasksets[0].ID)
}

func TestStageCommands_FailureIsRecordedAndRetried(t *testing.T) {
	f := setupStages(t)
	f.writeTopology(t)
	_, err := f.run(deploy.StageResolve, "--in", f.path("topology.json"), "--out", f.path("resolved.json"))
	require.NoError(t, err)

	f.platform.Fail = func(op, arg string) error {
		if op == mock.OpCreateTaskSet {
			return errors.New("service limit exceeded")
		}
		return nil
	}
	stderr, err := f.run(deploy.StageProvision, "--in", f.path("resolved.json"), "--out", f.path("provisioned.json"))
	require.Error(t, err)
	assert.Equal(t, deploy.ProvisioningFailed, deploy.KindOf(err))
	assert.Contains(t, stderr, "service limit exceeded")

	failed := f.readRun(t, "provisioned.json")
	assert.Equal(t, deploy.PhaseFailed, failed.Phase)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, deploy.StageProvision, failed.Failure.Stage)

	// The same command, given the failed run, carries on from there.
	f.platform.Fail = nil
	_, err = f.run(deploy.StageProvision, "--in", f.path("provisioned.json"), "--out", f.path("ready.json"))
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseReady, f.readRun(t, "ready.json").Phase)
}

func TestStageCommands_WrongOrder(t *testing.T) {
	f := setupStages(t)
	f.writeTopology(t)
	_, err := f.run(deploy.StageResolve, "--in", f.path("topology.json"), "--out", f.path("resolved.json"))
	require.NoError(t, err)

	_, err = f.run(deploy.StageReclaim, "--in", f.path("resolved.json"), "--out", f.path("reclaimed.json"))
	require.Error(t, err)
	assert.Equal(t, deploy.ReclaimBlocked, deploy.KindOf(err))
	assert.Empty(t, f.platform.Mutations())
}

func TestStageCommands_IncompleteTopologyWritesNothing(t *testing.T) {
	f := setupStages(t)
	f.topology.TestRule = ""
	f.writeTopology(t)

	_, err := f.run(deploy.StageResolve, "--in", f.path("topology.json"), "--out", f.path("resolved.json"))
	require.Error(t, err)
	assert.Equal(t, deploy.IncompleteTopology, deploy.KindOf(err))
	_, statErr := os.Stat(f.path("resolved.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStageCommands_Stdio(t *testing.T) {
	f := setupStages(t)
	b, err := json.Marshal(f.topology)
	require.NoError(t, err)

	opts := newStage(deploy.StageResolve)
	opts.platform = f.platform
	opts.clock = f.clock
	cmd := opts.Command()
	cmd.SetIn(strings.NewReader(string(b)))
	stdout, _, err := execute(cmd)
	require.NoError(t, err)

	run, err := artifact.DecodeRun([]byte(stdout))
	require.NoError(t, err)
	assert.Equal(t, deploy.PhaseResolved, run.Phase)
	assert.Equal(t, mock.Service, run.Descriptor.Service)
}

func TestStageCommands_BadConfig(t *testing.T) {
	f := setupStages(t)
	_, err := f.run(deploy.StageSwap, "--test-route-after-swap=nowhere")
	assertUsageError(t, err)
}
