package deploy

import (
	"time"

	"github.com/google/uuid"
)

// RunID identifies a deployment run.
type RunID string

// NewRunID returns a fresh random run id.
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// Short is the first eight characters of the id, used where names
// are length-limited (target group names).
func (id RunID) Short() string {
	s := string(id)
	clean := make([]byte, 0, 8)
	for i := 0; i < len(s) && len(clean) < 8; i++ {
		if s[i] != '-' {
			clean = append(clean, s[i])
		}
	}
	return string(clean)
}

type Phase string

const (
	PhaseNone               Phase = "NONE"
	PhaseResolved           Phase = "RESOLVED"
	PhaseTargetGroupCreated Phase = "TARGET_GROUP_CREATED"
	PhaseTaskSetCreated     Phase = "TASK_SET_CREATED"
	PhaseTaskSetStabilizing Phase = "TASK_SET_STABILIZING"
	PhaseReady              Phase = "READY"
	PhaseRolledBack         Phase = "ROLLED_BACK"

	PhaseProductionRetargeted Phase = "PRODUCTION_RETARGETED"
	PhasePrimaryPromoted      Phase = "PRIMARY_PROMOTED"
	PhaseSwapped              Phase = "SWAPPED"

	PhaseReclaimed Phase = "RECLAIMED"

	PhaseFailed    Phase = "FAILED"
	PhaseAbandoned Phase = "ABANDONED"
	PhaseDiscarded Phase = "DISCARDED"
)

// Terminal phases admit no further stage (FAILED admits a retry of
// the failed stage, which is an explicit operator decision).
func (p Phase) Terminal() bool {
	switch p {
	case PhaseReclaimed, PhaseFailed, PhaseAbandoned, PhaseDiscarded:
		return true
	}
	return false
}

type Stage string

const (
	StageResolve   Stage = "resolve"
	StageProvision Stage = "provision"
	StageSwap      Stage = "swap"
	StageReclaim   Stage = "reclaim"
)

// StageFor returns the stage that owns (and so may resume from) a
// non-terminal phase.
func StageFor(p Phase) Stage {
	switch p {
	case PhaseNone:
		return StageResolve
	case PhaseResolved, PhaseTargetGroupCreated, PhaseTaskSetCreated, PhaseTaskSetStabilizing, PhaseRolledBack:
		return StageProvision
	case PhaseReady, PhaseProductionRetargeted, PhasePrimaryPromoted:
		return StageSwap
	case PhaseSwapped:
		return StageReclaim
	}
	return ""
}

// Gate is a manual approval boundary.
type Gate string

const (
	GateSwap    Gate = "swap"
	GateReclaim Gate = "reclaim"
)

// GateBefore returns the gate that must be passed before a stage can
// start, if any.
func GateBefore(s Stage) Gate {
	switch s {
	case StageSwap:
		return GateSwap
	case StageReclaim:
		return GateReclaim
	}
	return ""
}

type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// Approval is an external decision correlated to a run and gate.
type Approval struct {
	Gate     Gate      `json:"gate"`
	Decision Decision  `json:"decision"`
	By       string    `json:"by,omitempty"`
	Comment  string    `json:"comment,omitempty"`
	At       time.Time `json:"at"`
}

// Failure records why a run stopped.
type Failure struct {
	Stage  Stage  `json:"stage"`
	Kind   Kind   `json:"kind,omitempty"`
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"`
}

// Transition is one entry of a run's phase history.
type Transition struct {
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// Run is the state threaded through the pipeline. Each stage reads
// the run produced by its predecessor and returns it advanced; only
// the fields owned by that stage change.
type Run struct {
	ID         RunID      `json:"id"`
	Descriptor Descriptor `json:"descriptor"`
	Phase      Phase      `json:"phase"`

	// Green is set by the provisioner as it creates things.
	Green Environment `json:"green"`
	// TestRuleBound is true while the test rule forwards to green
	// because the provisioner put it there.
	TestRuleBound bool `json:"testRuleBound,omitempty"`

	Approvals []Approval   `json:"approvals,omitempty"`
	Failure   *Failure     `json:"failure,omitempty"`
	History   []Transition `json:"history,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Version is maintained by the store for optimistic concurrency.
	Version int64 `json:"version"`
}

// NewRun starts a run for a resolved descriptor, which it copies.
func NewRun(id RunID, d Descriptor, now time.Time) Run {
	r := Run{
		ID:         id,
		Descriptor: d.Copy(),
		Phase:      PhaseNone,
		CreatedAt:  now,
	}
	r.SetPhase(PhaseResolved, now)
	return r
}

// SetPhase moves the run to a phase and records the transition.
func (r *Run) SetPhase(p Phase, now time.Time) {
	if r.Phase == p {
		return
	}
	r.Phase = p
	r.UpdatedAt = now
	r.History = append(r.History, Transition{Phase: p, At: now})
}

// Reached reports whether the run has ever been in phase p.
func (r Run) Reached(p Phase) bool {
	for _, t := range r.History {
		if t.Phase == p {
			return true
		}
	}
	return r.Phase == p
}

// Fail marks the run failed, remembering the phase it failed in so
// the same stage can be retried from there.
func (r *Run) Fail(stage Stage, err error, now time.Time) {
	r.Failure = &Failure{
		Stage:  stage,
		Kind:   KindOf(err),
		Phase:  r.Phase,
		Reason: err.Error(),
	}
	r.SetPhase(PhaseFailed, now)
}

// ResumePhase is the phase a stage should resume from: the run's own
// phase, or the phase it failed in.
func (r Run) ResumePhase() Phase {
	if r.Phase == PhaseFailed && r.Failure != nil {
		return r.Failure.Phase
	}
	return r.Phase
}

// ClearFailure readies a failed run for a retry of the failed stage.
func (r *Run) ClearFailure(now time.Time) {
	if r.Phase != PhaseFailed || r.Failure == nil {
		return
	}
	p := r.Failure.Phase
	r.Failure = nil
	r.SetPhase(p, now)
}

// ApprovalFor returns the decision recorded for a gate, if any.
func (r Run) ApprovalFor(g Gate) (Approval, bool) {
	for i := len(r.Approvals) - 1; i >= 0; i-- {
		if r.Approvals[i].Gate == g {
			return r.Approvals[i], true
		}
	}
	return Approval{}, false
}

// PendingGate returns the gate the run is parked at, or "" if it is
// not waiting for a decision.
func (r Run) PendingGate() Gate {
	if r.Phase.Terminal() {
		return ""
	}
	g := GateBefore(StageFor(r.Phase))
	if g == "" {
		return ""
	}
	// Only the first phase of a gated stage waits; a stage that has
	// already started is past its gate.
	switch {
	case g == GateSwap && r.Phase != PhaseReady:
		return ""
	case g == GateReclaim && r.Phase != PhaseSwapped:
		return ""
	}
	if _, ok := r.ApprovalFor(g); ok {
		return ""
	}
	return g
}

// Status is the summary exposed by the status query.
type Status string

const (
	StatusRunning          Status = "RUNNING"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusSucceeded        Status = "SUCCEEDED"
	StatusFailed           Status = "FAILED"
	StatusAbandoned        Status = "ABANDONED"
)

// RunStatus answers "where is this run?"
type RunStatus struct {
	ID          RunID     `json:"id"`
	Cluster     string    `json:"cluster"`
	Service     string    `json:"service"`
	Phase       Phase     `json:"phase"`
	Status      Status    `json:"status"`
	PendingGate Gate      `json:"pendingGate,omitempty"`
	Failure     *Failure  `json:"failure,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Summary derives the run's status.
func (r Run) Summary() RunStatus {
	s := RunStatus{
		ID:          r.ID,
		Cluster:     r.Descriptor.Cluster,
		Service:     r.Descriptor.Service,
		Phase:       r.Phase,
		PendingGate: r.PendingGate(),
		Failure:     r.Failure,
		UpdatedAt:   r.UpdatedAt,
	}
	switch {
	case r.Phase == PhaseReclaimed:
		s.Status = StatusSucceeded
	case r.Phase == PhaseFailed:
		s.Status = StatusFailed
	case r.Phase == PhaseAbandoned, r.Phase == PhaseDiscarded:
		s.Status = StatusAbandoned
	case s.PendingGate != "":
		s.Status = StatusAwaitingApproval
	default:
		s.Status = StatusRunning
	}
	return s
}
