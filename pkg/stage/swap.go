package stage

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

// Swapper moves production traffic to green: the production rule is
// pointed at green's target group, green becomes the primary task
// set, and the test rule is released.
type Swapper struct {
	env Env
}

func NewSwapper(env Env) *Swapper {
	return &Swapper{env: env.withDefaults()}
}

// Swap advances a run from READY to SWAPPED. The production rule moves
// before the primary task set does, so production never points at a
// target group the service does not consider live.
//
// Nothing is changed until green has been re-checked. A failure after
// the production rule has moved is SwapPartiallyApplied: the run
// records how far it got, and calling Swap again finishes the job.
func (s *Swapper) Swap(ctx context.Context, run deploy.Run) (_ deploy.Run, err error) {
	began := s.env.Clock.Now()
	defer func() { s.env.observe(deploy.StageSwap, began, err) }()
	logger := log.With(s.env.Logger, "run", run.ID, "stage", deploy.StageSwap)

	from := run.ResumePhase()
	switch from {
	case deploy.PhaseReady, deploy.PhaseProductionRetargeted, deploy.PhasePrimaryPromoted:
	case deploy.PhaseSwapped:
		if run.Phase == deploy.PhaseSwapped {
			return run, nil
		}
	default:
		return run, deploy.Errorf(deploy.InvalidPhase, deploy.StageSwap, "cannot swap a run in phase %s", run.Phase)
	}
	if run.Green.Empty() {
		return run, deploy.Errorf(deploy.InvalidPhase, deploy.StageSwap, "run has no green environment")
	}
	run.ClearFailure(s.env.Clock.Now())
	d := run.Descriptor
	fail := func(kind deploy.Kind, err error) (deploy.Run, error) {
		if kind != "" {
			err = deploy.Wrap(kind, deploy.StageSwap, err)
		}
		logger.Log("err", err)
		run.Fail(deploy.StageSwap, err, s.env.Clock.Now())
		return run, err
	}

	if run.Phase == deploy.PhaseReady {
		// A swap that moved the production rule but died before
		// recording it. Production is on green already, so this is past
		// the point where verification can stop anything.
		prod, err := s.env.Platform.DescribeRule(ctx, d.ProdRule)
		if err != nil {
			return fail("", errors.Wrap(err, "describing production rule"))
		}
		if prod.Target.TargetGroup == run.Green.TargetGroup {
			logger.Log("info", "production rule already forwards to green", "targetGroup", run.Green.TargetGroup)
			s.env.advance(ctx, logger, &run, deploy.PhaseProductionRetargeted)
		}
	}

	if run.Phase == deploy.PhaseReady {
		err := s.env.awaitHealthy(ctx, logger, deploy.StageSwap, d, run.Green, s.env.Config.VerifyTimeout, false)
		if err != nil {
			if ctx.Err() != nil {
				return run, err
			}
			return fail(deploy.SwapVerificationFailed, err)
		}
		// A failure moving the production rule leaves nothing half
		// done, so it carries no kind.
		if _, err := s.env.retarget(ctx, d.ProdRule, deploy.RuleTarget{TargetGroup: run.Green.TargetGroup}); err != nil {
			return fail("", errors.Wrap(err, "retargeting production"))
		}
		s.env.advance(ctx, logger, &run, deploy.PhaseProductionRetargeted)
	}

	if run.Phase == deploy.PhaseProductionRetargeted {
		// Re-assert the production rule on a resume; cheap when it is
		// already right.
		if _, err := s.env.retarget(ctx, d.ProdRule, deploy.RuleTarget{TargetGroup: run.Green.TargetGroup}); err != nil {
			return fail(deploy.SwapPartiallyApplied, errors.Wrap(err, "retargeting production"))
		}
		if err := s.promote(ctx, d, run.Green.TaskSet); err != nil {
			return fail(deploy.SwapPartiallyApplied, err)
		}
		s.env.advance(ctx, logger, &run, deploy.PhasePrimaryPromoted)
	}

	target := deploy.RuleTarget{TargetGroup: run.Green.TargetGroup}
	if s.env.Config.TestRouteAfterSwap == TestRoutePlaceholder {
		fr := s.env.Config.Placeholder
		target = deploy.RuleTarget{FixedResponse: &fr}
	}
	if _, err := s.env.retarget(ctx, d.TestRule, target); err != nil {
		return fail(deploy.SwapPartiallyApplied, errors.Wrap(err, "releasing test rule"))
	}
	run.TestRuleBound = false
	s.env.advance(ctx, logger, &run, deploy.PhaseSwapped)
	return run, nil
}

// promote makes a task set primary, unless it already is.
func (s *Swapper) promote(ctx context.Context, d deploy.Descriptor, id string) error {
	svc, err := s.env.Platform.DescribeService(ctx, d.Cluster, d.Service)
	if err != nil {
		return errors.Wrap(err, "describing service")
	}
	if primary, ok := svc.Primary(); ok && primary.ID == id {
		return nil
	}
	if _, ok := svc.TaskSet(id); !ok {
		return errors.Errorf("task set %s is gone from service %s", id, d.Service)
	}
	if err := s.env.Platform.UpdatePrimaryTaskSet(ctx, d.Cluster, d.Service, id); err != nil {
		return errors.Wrapf(err, "promoting task set %s", id)
	}
	return nil
}
