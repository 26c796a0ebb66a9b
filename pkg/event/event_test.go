package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

func TestEvent_ParseApprovalMetadata(t *testing.T) {
	approval := deploy.Approval{
		Gate:     deploy.GateSwap,
		Decision: deploy.Approve,
		By:       "alice",
	}
	origEvent := Event{
		RunID:    "run-1",
		Type:     EventApproval,
		Metadata: &ApprovalEventMetadata{approval},
	}

	bytes, _ := json.Marshal(origEvent)

	e := Event{}
	err := e.UnmarshalJSON(bytes)
	if err != nil {
		t.Fatal(err)
	}
	switch r := e.Metadata.(type) {
	case *ApprovalEventMetadata:
		if r.Gate != approval.Gate || r.By != approval.By {
			t.Fatal("Approval event wasn't marshalled/unmarshalled")
		}
	default:
		t.Fatal("Wrong event type unmarshalled")
	}
	if e.String() != "Gate swap: approve by alice" {
		t.Errorf("unexpected message %q", e.String())
	}
}

func TestEvent_ParseNoMetadata(t *testing.T) {
	origEvent := Event{
		Type: EventRetry,
	}

	bytes, _ := json.Marshal(origEvent)

	e := Event{}
	err := e.UnmarshalJSON(bytes)
	if err != nil {
		t.Fatal(err)
	}
	if e.Metadata != nil {
		t.Fatal("Hasn't been unmarshalled properly")
	}
}

func TestEvent_EmptyType(t *testing.T) {
	e := Event{}
	if err := json.Unmarshal([]byte(`{"runID":"x"}`), &e); err == nil {
		t.Fatal("expected an error for an event without a type")
	}
}

func TestForTransition(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	e := ForTransition("run-1", deploy.PhaseReady, deploy.Transition{Phase: deploy.PhaseProductionRetargeted, At: now})
	if e.Type != EventPhase || e.LogLevel != LogLevelInfo || !e.StartedAt.Equal(now) {
		t.Fatalf("unexpected event %+v", e)
	}
	if got := e.String(); got != "Phase: READY -> PRODUCTION_RETARGETED" {
		t.Errorf("unexpected message %q", got)
	}
	if e.Metadata.(*PhaseEventMetadata).Stage != deploy.StageSwap {
		t.Error("expected the swap stage")
	}

	failed := ForTransition("run-1", deploy.PhaseReady, deploy.Transition{Phase: deploy.PhaseFailed, At: now})
	if failed.LogLevel != LogLevelWarn {
		t.Errorf("expected warn, got %s", failed.LogLevel)
	}
}

func TestEvent_FailureString(t *testing.T) {
	e := Event{
		Type: EventFailure,
		Metadata: &FailureEventMetadata{deploy.Failure{
			Stage:  deploy.StageReclaim,
			Kind:   deploy.ReclaimBlocked,
			Phase:  deploy.PhaseSwapped,
			Reason: "blue is still primary",
		}},
	}
	want := "Failed in reclaim at SWAPPED: ReclaimBlocked: blue is still primary"
	if got := e.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
