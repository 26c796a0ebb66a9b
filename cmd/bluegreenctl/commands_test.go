package main

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
)

const topologyYAML = `
cluster: prod
service: web
prodListener: l-80
prodRule: r-80
testListener: l-8080
testRule: r-8080
taskDefinition: web:8
containerName: web
`

func TestStart(t *testing.T) {
	dir, err := ioutil.TempDir("", "bluegreenctl")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "topology.yaml")
	require.NoError(t, ioutil.WriteFile(file, []byte(topologyYAML), 0600))

	s := newMockServer()
	stdout, _, err := execute(newStart(mockRootOpts(s)).Command(), "-f", file)
	require.NoError(t, err)
	assert.Equal(t, string(testRunID), strings.TrimSpace(stdout))
	assert.Equal(t, "web", s.topology.Service)
	assert.Equal(t, "web:8", s.topology.TaskDefinition)
}

func TestStart_Stdin(t *testing.T) {
	s := newMockServer()
	cmd := newStart(mockRootOpts(s)).Command()
	cmd.SetIn(strings.NewReader(topologyYAML))
	_, _, err := execute(cmd, "-f", "-")
	require.NoError(t, err)
	assert.Equal(t, "prod", s.topology.Cluster)
}

func TestStart_Wait(t *testing.T) {
	s := newMockServer()
	cmd := newStart(mockRootOpts(s)).Command()
	cmd.SetIn(strings.NewReader(topologyYAML))
	_, stderr, err := execute(cmd, "-f", "-", "--wait")
	require.NoError(t, err)
	assert.Contains(t, stderr, "waiting for approval at the swap gate")

	s.status.Status = deploy.StatusFailed
	s.status.Failure = &deploy.Failure{Stage: deploy.StageProvision, Reason: "no capacity"}
	cmd = newStart(mockRootOpts(s)).Command()
	cmd.SetIn(strings.NewReader(topologyYAML))
	_, _, err = execute(cmd, "-f", "-", "--wait")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")
}

func TestStart_InputFailure(t *testing.T) {
	s := newMockServer()
	_, _, err := execute(newStart(mockRootOpts(s)).Command())
	assertUsageError(t, err)

	_, _, err = execute(newStart(mockRootOpts(s)).Command(), "-f", "topology.yaml", "extra")
	assertUsageError(t, err)

	cmd := newStart(mockRootOpts(s)).Command()
	cmd.SetIn(strings.NewReader("cluster: prod\nreplicas: 3\n"))
	_, _, err = execute(cmd, "-f", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replicas")
}

func TestDecide(t *testing.T) {
	s := newMockServer()
	_, stderr, err := execute(newDecide(mockRootOpts(s), decideApprove).Command(),
		string(testRunID), "--gate=swap", "--user=alice", "-m", "looks good")
	require.NoError(t, err)
	assert.Equal(t, deploy.Approval{
		Gate:     deploy.GateSwap,
		Decision: deploy.Approve,
		By:       "alice",
		Comment:  "looks good",
	}, s.approval)
	assert.Contains(t, stderr, "approve")

	_, _, err = execute(newDecide(mockRootOpts(s), decideReject).Command(), string(testRunID))
	require.NoError(t, err)
	assert.Equal(t, deploy.Reject, s.approval.Decision)
	assert.Equal(t, deploy.Gate(""), s.approval.Gate)
}

func TestDecide_InputFailure(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"a", "b"},
		{string(testRunID), "--gate=production"},
	} {
		_, _, err := execute(newDecide(mockRootOpts(newMockServer()), decideApprove).Command(), args...)
		assertUsageError(t, err)
	}
}

func TestStatus(t *testing.T) {
	s := newMockServer()
	stdout, _, err := execute(newStatus(mockRootOpts(s)).Command(), string(testRunID))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"RUN", "SERVICE", "PHASE", "STATUS", "GATE", "UPDATED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{string(testRunID), "prod/web", "READY", "AWAITING_APPROVAL", "swap"}, strings.Fields(lines[1])[:5])

	stdout, _, err = execute(newStatus(mockRootOpts(s)).Command(), string(testRunID), "-o", "json")
	require.NoError(t, err)
	var status deploy.RunStatus
	require.NoError(t, json.Unmarshal([]byte(stdout), &status))
	assert.Equal(t, s.status, status)

	_, _, err = execute(newStatus(mockRootOpts(s)).Command(), "nope")
	assert.True(t, bgerr.IsMissing(err))
}

func TestList(t *testing.T) {
	s := newMockServer()
	stdout, _, err := execute(newList(mockRootOpts(s)).Command(), "--cluster=prod", "--active", "--limit=3", "-o", "yaml")
	require.NoError(t, err)
	assert.Equal(t, "prod", s.listOpts.Cluster)
	assert.True(t, s.listOpts.Active)
	assert.Equal(t, 3, s.listOpts.Limit)
	assert.Contains(t, stdout, "pendingGate: swap")

	_, _, err = execute(newList(mockRootOpts(s)).Command(), "-o", "xml")
	assertUsageError(t, err)
	_, _, err = execute(newList(mockRootOpts(s)).Command(), "--limit=-1")
	assertUsageError(t, err)
}

func TestGet(t *testing.T) {
	s := newMockServer()
	stdout, _, err := execute(newGet(mockRootOpts(s)).Command(), string(testRunID))
	require.NoError(t, err)
	var run deploy.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &run))
	assert.Equal(t, testRunID, run.ID)

	_, _, err = execute(newGet(mockRootOpts(s)).Command(), string(testRunID), "-o", "tab")
	assertUsageError(t, err)
}

func TestEvents(t *testing.T) {
	s := newMockServer()
	at := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)
	s.events = []event.Event{
		{RunID: testRunID, Type: event.EventStart, StartedAt: at, EndedAt: at},
		{RunID: testRunID, Type: event.EventPhase, StartedAt: at, EndedAt: at, Metadata: &event.PhaseEventMetadata{
			From: deploy.PhaseTaskSetStabilizing, To: deploy.PhaseReady,
		}},
	}
	stdout, _, err := execute(newEvents(mockRootOpts(s)).Command(), string(testRunID))
	require.NoError(t, err)
	assert.Contains(t, stdout, "Started run "+string(testRunID))
	assert.Contains(t, stdout, "Phase: TASK_SET_STABILIZING -> READY")
}

func TestRetryDiscard(t *testing.T) {
	s := newMockServer()
	_, _, err := execute(newRetry(mockRootOpts(s)).Command(), string(testRunID))
	require.NoError(t, err)
	assert.Equal(t, testRunID, s.retried)

	_, _, err = execute(newDiscard(mockRootOpts(s)).Command(), string(testRunID))
	require.NoError(t, err)
	assert.Equal(t, testRunID, s.discard)

	_, _, err = execute(newDiscard(mockRootOpts(s)).Command())
	assertUsageError(t, err)
}

func TestRootCommand_URLFromEnvironment(t *testing.T) {
	os.Setenv(EnvVariableURL, "http://bluegreend.example:3031")
	defer os.Unsetenv(EnvVariableURL)

	root := newRoot()
	_, _, err := execute(root.Command(), "version")
	require.NoError(t, err)
	assert.Equal(t, "http://bluegreend.example:3031", root.URL)
	assert.NotNil(t, root.API)
}
