// Package pipeline drives deployment runs through the stages, parking
// them at the two approval gates. Runs are kept in a store between
// steps, so a parked (or interrupted) run survives a restart.
//
// Every change to a run after it is created is made by a job on the
// queue, and there is one worker, so the worker is the only writer.
// The API methods check what they can up front and report problems
// straight away; the job checks again before acting.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	bgerr "github.com/fluxcd/ecs-bluegreen/pkg/errors"
	"github.com/fluxcd/ecs-bluegreen/pkg/event"
	"github.com/fluxcd/ecs-bluegreen/pkg/job"
	bgmetrics "github.com/fluxcd/ecs-bluegreen/pkg/metrics"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
	"github.com/fluxcd/ecs-bluegreen/pkg/stage"
	"github.com/fluxcd/ecs-bluegreen/pkg/store"
)

// saveTimeout bounds the save after a stage returns, which may be
// after the job's own context was cancelled.
const saveTimeout = 10 * time.Second

// Orchestrator is the daemon's implementation of api.Server.
type Orchestrator struct {
	V        string
	Store    store.Store
	Jobs     *job.Queue
	Platform platform.Platform
	Config   stage.Config
	Clock    clockwork.Clock
	Logger   log.Logger
}

var _ api.Server = &Orchestrator{}

func (o *Orchestrator) clock() clockwork.Clock {
	if o.Clock == nil {
		return clockwork.NewRealClock()
	}
	return o.Clock
}

func (o *Orchestrator) logger() log.Logger {
	if o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

func (o *Orchestrator) env(checkpoint stage.Checkpoint) stage.Env {
	return stage.Env{
		Platform:   o.Platform,
		Config:     o.Config,
		Clock:      o.clock(),
		Logger:     o.logger(),
		Checkpoint: checkpoint,
	}
}

func (o *Orchestrator) Version(ctx context.Context) (string, error) {
	return o.V, nil
}

// Ping checks the store can be read.
func (o *Orchestrator) Ping(ctx context.Context) error {
	_, err := o.Store.List(ctx, store.Filter{Limit: 1})
	return err
}

func (o *Orchestrator) StartRun(ctx context.Context, topo deploy.Topology) (deploy.RunID, error) {
	// Don't bother resolving if the store will refuse the run anyway.
	active, err := o.Store.List(ctx, store.Filter{Cluster: topo.Cluster, Service: topo.Service, Active: true, Limit: 1})
	if err != nil {
		return "", errors.Wrap(err, "checking for active runs")
	}
	if len(active) > 0 {
		return "", activeRunError(active[0])
	}

	id := deploy.NewRunID()
	logger := log.With(o.logger(), "run", id)
	run, err := stage.NewResolver(o.env(nil)).Run(ctx, id, topo)
	if err != nil {
		if deploy.HasKind(err, deploy.IncompleteTopology) {
			return "", &bgerr.Error{
				Type: bgerr.User,
				Help: "The topology could not be resolved:\n\n    " + err.Error() + "\n\nFix the topology (or the resources it names) and start the run again.\n",
				Err:  err,
			}
		}
		return "", err
	}

	run, err = o.Store.Create(ctx, run)
	switch {
	case errors.Is(err, store.ErrActiveRun):
		// Lost a race with another start for the same service.
		return "", &bgerr.Error{
			Type: bgerr.User,
			Help: fmt.Sprintf("Service %s in cluster %s already has a run in progress.\n", topo.Service, topo.Cluster),
			Err:  err,
		}
	case err != nil:
		return "", errors.Wrap(err, "storing run")
	}
	logger.Log("info", "run started", "cluster", topo.Cluster, "service", topo.Service)

	o.logEvent(ctx, logger, event.Event{
		RunID:     id,
		Type:      event.EventStart,
		StartedAt: run.CreatedAt,
		EndedAt:   run.CreatedAt,
		LogLevel:  event.LogLevelInfo,
	})
	o.logTransitions(ctx, logger, deploy.Run{}, run)
	if err := o.queueJob(id, "advance", o.advance); err != nil {
		// The run is stored; Resume picks it up after the restart.
		logger.Log("run", id, "err", err, "info", "will resume on restart")
	}
	return id, nil
}

func (o *Orchestrator) ListRuns(ctx context.Context, opts api.ListRunsOptions) ([]deploy.RunStatus, error) {
	runs, err := o.Store.List(ctx, store.Filter{
		Cluster: opts.Cluster,
		Service: opts.Service,
		Active:  opts.Active,
		Limit:   opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	res := make([]deploy.RunStatus, 0, len(runs))
	for _, run := range runs {
		res = append(res, run.Summary())
	}
	return res, nil
}

func (o *Orchestrator) GetRun(ctx context.Context, id deploy.RunID) (deploy.Run, error) {
	run, err := o.Store.Get(ctx, id)
	if err != nil {
		return deploy.Run{}, storeError(id, err)
	}
	return run, nil
}

func (o *Orchestrator) RunStatus(ctx context.Context, id deploy.RunID) (deploy.RunStatus, error) {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return deploy.RunStatus{}, err
	}
	return run.Summary(), nil
}

func (o *Orchestrator) RunEvents(ctx context.Context, id deploy.RunID) ([]event.Event, error) {
	events, err := o.Store.Events(ctx, id)
	if err != nil {
		return nil, storeError(id, err)
	}
	return events, nil
}

// Decide records a decision at the gate the run is parked at. An
// approval lets the run on to the next stage; a rejection abandons it
// where it stands, without touching anything.
func (o *Orchestrator) Decide(ctx context.Context, id deploy.RunID, a deploy.Approval) error {
	switch a.Decision {
	case deploy.Approve, deploy.Reject:
	default:
		return userError(errors.Errorf("unknown decision %q", a.Decision),
			"The decision must be either %q or %q.\n", deploy.Approve, deploy.Reject)
	}
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if a.Gate == "" {
		a.Gate = run.PendingGate()
	}
	if err := o.checkIdle(id); err != nil {
		return err
	}
	if err := checkGate(run, a.Gate); err != nil {
		return err
	}
	if a.At.IsZero() {
		a.At = o.clock().Now().UTC()
	}

	return o.queueJob(id, "decide", func(ctx context.Context, logger log.Logger, rec *recorder) error {
		run := rec.saved
		if err := checkGate(run, a.Gate); err != nil {
			return err
		}
		run.Approvals = append(run.Approvals, a)
		if a.Decision == deploy.Reject {
			run.SetPhase(deploy.PhaseAbandoned, o.clock().Now())
		}
		if _, err := rec.save(ctx, run); err != nil {
			return err
		}
		gateDecisions.With(bgmetrics.LabelGate, string(a.Gate), bgmetrics.LabelOutcome, string(a.Decision)).Add(1)
		logger.Log("gate", a.Gate, "decision", a.Decision, "by", a.By)
		if a.Decision == deploy.Reject {
			return nil
		}
		return o.advance(ctx, logger, rec)
	})
}

// Retry runs the stage a failed run stopped in again, from where it
// stopped, and carries on from there as usual. A run abandoned at the
// reclaim gate still has blue running beside it, which holds the
// service; retrying it goes ahead with the reclaim after all.
func (o *Orchestrator) Retry(ctx context.Context, id deploy.RunID) error {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if err := o.checkIdle(id); err != nil {
		return err
	}
	if err := checkRetry(run); err != nil {
		return err
	}

	return o.queueJob(id, "retry", func(ctx context.Context, logger log.Logger, rec *recorder) error {
		if err := checkRetry(rec.saved); err != nil {
			return err
		}
		now := o.clock().Now()
		o.logEvent(ctx, logger, event.Event{
			RunID:     id,
			Type:      event.EventRetry,
			StartedAt: now,
			EndedAt:   now,
			LogLevel:  event.LogLevelInfo,
		})
		if rec.saved.Phase == deploy.PhaseAbandoned {
			run := rec.saved
			run.SetPhase(deploy.PhaseSwapped, now)
			if _, err := rec.save(ctx, run); err != nil {
				return err
			}
		}
		if err := o.runStage(ctx, logger, rec, deploy.StageFor(rec.saved.ResumePhase())); err != nil {
			return err
		}
		return o.advance(ctx, logger, rec)
	})
}

// Discard removes the green environment of a run that was abandoned,
// or that failed before production was moved to it, and closes the
// run. Once production has been retargeted, green is production, and
// discarding it is refused.
func (o *Orchestrator) Discard(ctx context.Context, id deploy.RunID) error {
	run, err := o.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if err := o.checkIdle(id); err != nil {
		return err
	}
	if err := checkDiscard(run); err != nil {
		return err
	}

	return o.queueJob(id, "discard", func(ctx context.Context, logger log.Logger, rec *recorder) error {
		if err := checkDiscard(rec.saved); err != nil {
			return err
		}
		now := o.clock().Now()
		o.logEvent(ctx, logger, event.Event{
			RunID:     id,
			Type:      event.EventDiscard,
			StartedAt: now,
			EndedAt:   now,
			LogLevel:  event.LogLevelInfo,
		})
		// No checkpoints: a run left ROLLED_BACK would look like one
		// waiting to be provisioned again.
		run, err := stage.NewProvisioner(o.env(nil)).Rollback(ctx, rec.saved)
		if err != nil {
			// Keep what was removed, so a second discard doesn't look
			// for it.
			if _, serr := rec.save(ctx, run); serr != nil {
				logger.Log("err", serr)
			}
			return errors.Wrap(err, "discarding green environment")
		}
		run.SetPhase(deploy.PhaseDiscarded, o.clock().Now())
		_, err = rec.save(ctx, run)
		return err
	})
}

// Resume queues every run that was interrupted mid-stage, e.g., by a
// restart. Parked and finished runs are left alone.
func (o *Orchestrator) Resume(ctx context.Context) error {
	runs, err := o.Store.List(ctx, store.Filter{Active: true})
	if err != nil {
		return errors.Wrap(err, "listing active runs")
	}
	for _, run := range runs {
		if run.Phase.Terminal() || run.PendingGate() != "" {
			continue
		}
		o.logger().Log("run", run.ID, "phase", run.Phase, "info", "resuming")
		if err := o.queueJob(run.ID, "resume", o.advance); err != nil {
			return err
		}
	}
	return nil
}

// advance runs stages until the run is parked at a gate or is
// finished.
func (o *Orchestrator) advance(ctx context.Context, logger log.Logger, rec *recorder) error {
	for {
		run := rec.saved
		if run.Phase.Terminal() {
			return nil
		}
		if g := run.PendingGate(); g != "" {
			logger.Log("phase", run.Phase, "gate", g, "info", "waiting for approval")
			return nil
		}
		if err := o.runStage(ctx, logger, rec, deploy.StageFor(run.Phase)); err != nil {
			return err
		}
		if rec.saved.Phase == run.Phase {
			return errors.Errorf("stage %s made no progress from %s", deploy.StageFor(run.Phase), run.Phase)
		}
	}
}

// runStage runs one stage and saves whatever it returns. A stage that
// fails without marking the run failed (it refused to start) has the
// failure recorded here, so the run doesn't sit in a phase nothing
// will move it from.
func (o *Orchestrator) runStage(ctx context.Context, logger log.Logger, rec *recorder, s deploy.Stage) error {
	env := o.env(func(ctx context.Context, run deploy.Run) error {
		_, err := rec.save(ctx, run)
		return err
	})
	var do func(context.Context, deploy.Run) (deploy.Run, error)
	switch s {
	case deploy.StageProvision:
		do = stage.NewProvisioner(env).Provision
	case deploy.StageSwap:
		do = stage.NewSwapper(env).Swap
	case deploy.StageReclaim:
		do = stage.NewReclaimer(env).Reclaim
	default:
		return errors.Errorf("no stage resumes run %s from phase %s", rec.saved.ID, rec.saved.ResumePhase())
	}

	run, err := do(ctx, rec.saved)
	shuttingDown := ctx.Err() != nil
	if err != nil && !shuttingDown && run.Phase != deploy.PhaseFailed {
		run.Fail(s, err, o.clock().Now())
	}
	sctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if _, serr := rec.save(sctx, run); serr != nil {
		if err == nil {
			return serr
		}
		logger.Log("err", serr)
	}
	return err
}

func (o *Orchestrator) checkIdle(id deploy.RunID) error {
	if o.Jobs.Pending(id) {
		return userError(errors.Errorf("run %s has work queued", id),
			"Run %s already has a request queued. Check its status once that has run.\n", id)
	}
	return nil
}

func checkGate(run deploy.Run, g deploy.Gate) error {
	pending := run.PendingGate()
	if pending == "" {
		return userError(errors.Errorf("run %s is not waiting for approval (phase %s)", run.ID, run.Phase),
			"Run %s is in phase %s, which is not an approval gate.\n", run.ID, run.Phase)
	}
	if pending != g {
		return userError(errors.Errorf("run %s is waiting at the %s gate, not %s", run.ID, pending, g),
			"Run %s is waiting for a decision at the %s gate.\n", run.ID, pending)
	}
	return nil
}

func checkRetry(run deploy.Run) error {
	if abandonedAtReclaim(run) {
		return nil
	}
	if run.Phase == deploy.PhaseAbandoned {
		return userError(errors.Errorf("run %s was abandoned before production moved", run.ID),
			"Run %s was abandoned at the %s gate. Discard it to remove its environment, then start a new run.\n", run.ID, deploy.GateSwap)
	}
	if run.Phase != deploy.PhaseFailed {
		return userError(errors.Errorf("run %s has not failed (phase %s)", run.ID, run.Phase),
			"Only a failed run can be retried; run %s is in phase %s.\n", run.ID, run.Phase)
	}
	return nil
}

// abandonedAtReclaim is a run rejected at the reclaim gate: green
// serves production and blue is still there.
func abandonedAtReclaim(run deploy.Run) bool {
	return run.Phase == deploy.PhaseAbandoned && run.Reached(deploy.PhaseSwapped)
}

func checkDiscard(run deploy.Run) error {
	switch run.Phase {
	case deploy.PhaseAbandoned, deploy.PhaseFailed:
	default:
		return userError(errors.Errorf("run %s cannot be discarded in phase %s", run.ID, run.Phase),
			"Only an abandoned or failed run can be discarded; run %s is in phase %s.\n", run.ID, run.Phase)
	}
	if run.Reached(deploy.PhaseProductionRetargeted) {
		return userError(errors.Errorf("run %s has already moved production", run.ID),
			"Production traffic already went to run %s's environment, so it cannot be discarded. Retry it instead, to finish the swap or reclaim the old environment.\n", run.ID)
	}
	return nil
}

func activeRunError(run deploy.Run) error {
	return &bgerr.Error{
		Type: bgerr.User,
		Help: fmt.Sprintf(`Service %s in cluster %s already has run %s in progress (phase %s).

Only one run per service may be active. Wait for it to finish, or
reject it at its gate (or discard it, if it failed) first.
`, run.Descriptor.Service, run.Descriptor.Cluster, run.ID, run.Phase),
		Err: store.ErrActiveRun,
	}
}

func userError(err error, help string, args ...interface{}) error {
	return &bgerr.Error{Type: bgerr.User, Help: fmt.Sprintf(help, args...), Err: err}
}

func storeError(id deploy.RunID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &bgerr.Error{
			Type: bgerr.Missing,
			Help: fmt.Sprintf("There is no run with ID %s.\n", id),
			Err:  err,
		}
	}
	return err
}

// recorder saves a run as it moves along, and logs an event for each
// phase it passes through. The worker being the only writer, the
// stored version is tracked here rather than handed back through the
// stages.
type recorder struct {
	o      *Orchestrator
	logger log.Logger
	saved  deploy.Run
}

func (r *recorder) save(ctx context.Context, run deploy.Run) (deploy.Run, error) {
	run.Version = r.saved.Version
	stored, err := r.o.Store.Update(ctx, run)
	if err != nil {
		return run, errors.Wrapf(err, "saving run %s", run.ID)
	}
	r.o.logTransitions(ctx, r.logger, r.saved, stored)
	r.saved = stored
	return stored, nil
}

// logTransitions logs events for the phases after has been through
// since before, and counts any finished run.
func (o *Orchestrator) logTransitions(ctx context.Context, logger log.Logger, before, after deploy.Run) {
	if len(after.History) <= len(before.History) {
		return
	}
	failed := false
	for i := len(before.History); i < len(after.History); i++ {
		var from deploy.Phase
		if i > 0 {
			from = after.History[i-1].Phase
		}
		t := after.History[i]
		o.logEvent(ctx, logger, event.ForTransition(after.ID, from, t))
		if t.Phase.Terminal() {
			runOutcomes.With(bgmetrics.LabelOutcome, strings.ToLower(string(t.Phase))).Add(1)
		}
		failed = failed || t.Phase == deploy.PhaseFailed
	}
	if failed && after.Failure != nil {
		at := after.History[len(after.History)-1].At
		o.logEvent(ctx, logger, event.Event{
			RunID:     after.ID,
			Type:      event.EventFailure,
			StartedAt: at,
			EndedAt:   at,
			LogLevel:  event.LogLevelError,
			Metadata:  &event.FailureEventMetadata{Failure: *after.Failure},
		})
	}
}

func (o *Orchestrator) logEvent(ctx context.Context, logger log.Logger, e event.Event) {
	if _, err := o.Store.AppendEvent(ctx, e); err != nil {
		logger.Log("err", errors.Wrapf(err, "logging %s event", e.Type))
	}
}

// queueJob queues work on a run. The job loads the run when it starts,
// not now, so it sees whatever the jobs before it did.
func (o *Orchestrator) queueJob(id deploy.RunID, what string, do func(context.Context, log.Logger, *recorder) error) error {
	jobID := job.ID(uuid.New().String())
	enqueuedAt := o.clock().Now()
	err := o.Jobs.Enqueue(&job.Job{
		ID:    jobID,
		RunID: id,
		Do: func(ctx context.Context, logger log.Logger) error {
			queueDuration.Observe(o.clock().Since(enqueuedAt).Seconds())
			logger = log.With(logger, "run", id, "job", what)
			run, err := o.Store.Get(ctx, id)
			if err != nil {
				return errors.Wrapf(err, "loading run %s", id)
			}
			return do(ctx, logger, &recorder{o: o, logger: logger, saved: run})
		},
	})
	if err != nil {
		return &bgerr.Error{
			Type: bgerr.Server,
			Help: "The daemon is shutting down and did not take the request. Try again once it is back.\n",
			Err:  err,
		}
	}
	queueLength.Set(float64(o.Jobs.Len()))
	return nil
}
