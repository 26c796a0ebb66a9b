package stage

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

// Reclaimer deletes the old (blue) environment once green has taken
// over.
type Reclaimer struct {
	env Env
}

func NewReclaimer(env Env) *Reclaimer {
	return &Reclaimer{env: env.withDefaults()}
}

func blocked(format string, args ...interface{}) error {
	return deploy.Errorf(deploy.ReclaimBlocked, deploy.StageReclaim, format, args...)
}

// Reclaim advances a run from SWAPPED to RECLAIMED. Before deleting
// anything it checks, against the platform rather than the run, that
// blue is no longer primary, that green is, that neither listener rule
// still sends traffic to blue, and that blue's target group is named
// within the configured pattern; if any of that is not so it returns
// ReclaimBlocked having deleted nothing.
func (r *Reclaimer) Reclaim(ctx context.Context, run deploy.Run) (_ deploy.Run, err error) {
	began := r.env.Clock.Now()
	defer func() { r.env.observe(deploy.StageReclaim, began, err) }()
	logger := log.With(r.env.Logger, "run", run.ID, "stage", deploy.StageReclaim)

	switch run.ResumePhase() {
	case deploy.PhaseSwapped:
	case deploy.PhaseReclaimed:
		return run, nil
	default:
		return run, blocked("swap has not completed (run is %s)", run.Phase)
	}
	run.ClearFailure(r.env.Clock.Now())
	d := run.Descriptor
	fail := func(err error) (deploy.Run, error) {
		logger.Log("err", err)
		run.Fail(deploy.StageReclaim, err, r.env.Clock.Now())
		return run, err
	}

	if err := r.check(ctx, run); err != nil {
		if ctx.Err() != nil {
			return run, err
		}
		return fail(err)
	}

	if !d.Blue.Empty() {
		if d.Blue.TaskSet != "" {
			if err := r.env.deleteTaskSet(ctx, d, d.Blue.TaskSet); err != nil {
				return fail(err)
			}
			logger.Log("deleted", d.Blue.TaskSet)
		}
		if d.Blue.TargetGroup != "" && d.Blue.TargetGroup != run.Green.TargetGroup {
			if err := r.env.deleteTargetGroup(ctx, deploy.StageReclaim, d.Blue.TargetGroup); err != nil {
				return fail(err)
			}
			logger.Log("deleted", d.Blue.TargetGroup)
		}
	}

	if err := r.verifyRules(ctx, run); err != nil {
		return fail(err)
	}
	r.env.advance(ctx, logger, &run, deploy.PhaseReclaimed)
	return run, nil
}

// check is the read-only gate in front of the deletes.
func (r *Reclaimer) check(ctx context.Context, run deploy.Run) error {
	d := run.Descriptor
	svc, err := r.env.Platform.DescribeService(ctx, d.Cluster, d.Service)
	if err != nil {
		return errors.Wrap(err, "describing service")
	}
	if d.Blue.TaskSet != "" {
		if ts, ok := svc.TaskSet(d.Blue.TaskSet); ok && ts.Status == platform.TaskSetPrimary {
			return blocked("blue task set %s is still primary", ts.ID)
		}
	}
	primary, ok := svc.Primary()
	if !ok {
		return blocked("service %s has no primary task set", d.Service)
	}
	if primary.ID != run.Green.TaskSet {
		return blocked("primary task set is %s, not green %s", primary.ID, run.Green.TaskSet)
	}
	if d.Blue.TargetGroup == "" {
		return nil
	}
	for _, arn := range []string{d.ProdRule, d.TestRule} {
		rule, err := r.env.Platform.DescribeRule(ctx, arn)
		if err != nil {
			return errors.Wrapf(err, "describing rule %s", arn)
		}
		if rule.Target.TargetGroup == d.Blue.TargetGroup {
			return blocked("rule %s still forwards to blue target group %s", arn, d.Blue.TargetGroup)
		}
	}
	if d.Blue.TargetGroup == run.Green.TargetGroup {
		return nil
	}
	tg, err := r.env.Platform.DescribeTargetGroup(ctx, d.Blue.TargetGroup)
	switch {
	case platform.IsNotFound(err):
		return nil
	case err != nil:
		return errors.Wrapf(err, "describing target group %s", d.Blue.TargetGroup)
	}
	if err := r.env.checkTargetGroupName(tg.Name); err != nil {
		return blocked("not deleting blue target group %s: %v", d.Blue.TargetGroup, err)
	}
	return nil
}

// verifyRules checks the rules only reference green (or a fixed
// response, on the test rule).
func (r *Reclaimer) verifyRules(ctx context.Context, run deploy.Run) error {
	d := run.Descriptor
	prod, err := r.env.Platform.DescribeRule(ctx, d.ProdRule)
	if err != nil {
		return errors.Wrap(err, "describing production rule")
	}
	if prod.Target.TargetGroup != run.Green.TargetGroup {
		return errors.Errorf("production rule forwards to %s, expected %s", prod.Target, run.Green.TargetGroup)
	}
	test, err := r.env.Platform.DescribeRule(ctx, d.TestRule)
	if err != nil {
		return errors.Wrap(err, "describing test rule")
	}
	if test.Target.TargetGroup != "" && test.Target.TargetGroup != run.Green.TargetGroup {
		return errors.Errorf("test rule forwards to %s, expected %s or a fixed response", test.Target, run.Green.TargetGroup)
	}
	return nil
}
