package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

// rollbackTimeout bounds a rollback started because the stage's own
// context was cancelled mid-failure.
const rollbackTimeout = 2 * time.Minute

// Provisioner stands up the green environment next to blue: a target
// group, a task set registered in it, and the test rule pointing at
// it. Production is not touched.
type Provisioner struct {
	env Env
}

func NewProvisioner(env Env) *Provisioner {
	return &Provisioner{env: env.withDefaults()}
}

// Provision advances a run from RESOLVED (or any provisioning phase it
// stopped in) to READY. On failure everything it created is removed
// again and the run is returned FAILED from ROLLED_BACK, so a retry
// starts over.
func (p *Provisioner) Provision(ctx context.Context, run deploy.Run) (_ deploy.Run, err error) {
	began := p.env.Clock.Now()
	defer func() { p.env.observe(deploy.StageProvision, began, err) }()
	logger := log.With(p.env.Logger, "run", run.ID, "stage", deploy.StageProvision)

	switch run.ResumePhase() {
	case deploy.PhaseReady:
		if run.Phase == deploy.PhaseReady {
			return run, nil
		}
	case deploy.PhaseResolved, deploy.PhaseTargetGroupCreated, deploy.PhaseTaskSetCreated, deploy.PhaseTaskSetStabilizing, deploy.PhaseRolledBack:
	default:
		return run, deploy.Errorf(deploy.InvalidPhase, deploy.StageProvision, "cannot provision a run in phase %s", run.Phase)
	}
	run.ClearFailure(p.env.Clock.Now())
	if run.Phase == deploy.PhaseRolledBack {
		run.Green = deploy.Environment{}
		run.TestRuleBound = false
		p.env.advance(ctx, logger, &run, deploy.PhaseResolved)
	}

	run, err = p.provision(ctx, logger, run)
	if err == nil {
		return run, nil
	}
	if ctx.Err() != nil {
		// Shutting down, not failing: leave everything for a resume.
		return run, err
	}

	logger.Log("err", err, "rollback", "starting")
	rctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	run, rerr := p.Rollback(rctx, run)
	perr := deploy.Wrap(deploy.ProvisioningFailed, deploy.StageProvision, err)
	if rerr != nil {
		logger.Log("rollback", "incomplete", "err", rerr)
		perr = deploy.Wrap(deploy.ProvisioningFailed, deploy.StageProvision, fmt.Errorf("%v; rollback incomplete: %v", err, rerr))
	}
	run.Fail(deploy.StageProvision, perr, p.env.Clock.Now())
	return run, perr
}

func (p *Provisioner) provision(ctx context.Context, logger log.Logger, run deploy.Run) (deploy.Run, error) {
	d := run.Descriptor
	cfg := p.env.Config

	if run.Green.TargetGroup == "" {
		name := TargetGroupName(d.Service, run.ID)
		if err := p.env.checkTargetGroupName(name); err != nil {
			return run, err
		}
		tg, err := p.env.Platform.CreateTargetGroup(ctx, platform.TargetGroupSpec{
			Name:        name,
			VPC:         d.VPC,
			Port:        d.ContainerPort,
			Protocol:    cfg.TargetGroupProtocol,
			HealthCheck: d.HealthCheck,
			Tags: map[string]string{
				"bluegreen:run":     string(run.ID),
				"bluegreen:service": d.Service,
			},
		})
		if err != nil {
			return run, errors.Wrapf(err, "creating target group %s", name)
		}
		run.Green.TargetGroup = tg.ARN
		logger.Log("targetGroup", tg.ARN, "name", name)
		p.env.advance(ctx, logger, &run, deploy.PhaseTargetGroupCreated)
	}

	if run.Green.TaskSet == "" {
		ts, err := p.createTaskSet(ctx, run)
		if err != nil {
			return run, err
		}
		run.Green.TaskSet = ts.ID
		logger.Log("taskSet", ts.ID)
		p.env.advance(ctx, logger, &run, deploy.PhaseTaskSetCreated)
	}

	if _, err := p.env.retarget(ctx, d.TestRule, deploy.RuleTarget{TargetGroup: run.Green.TargetGroup}); err != nil {
		return run, err
	}
	run.TestRuleBound = true
	p.env.advance(ctx, logger, &run, deploy.PhaseTaskSetStabilizing)

	if err := p.env.awaitHealthy(ctx, logger, deploy.StageProvision, d, run.Green, cfg.StabilizeTimeout, true); err != nil {
		return run, err
	}
	p.env.advance(ctx, logger, &run, deploy.PhaseReady)
	return run, nil
}

// createTaskSet creates green's task set, or finds the one created by
// an earlier attempt of the same run.
func (p *Provisioner) createTaskSet(ctx context.Context, run deploy.Run) (platform.TaskSet, error) {
	d := run.Descriptor
	svc, err := p.env.Platform.DescribeService(ctx, d.Cluster, d.Service)
	if err != nil {
		return platform.TaskSet{}, errors.Wrap(err, "describing service")
	}
	if ts, ok := svc.ByExternalID(string(run.ID)); ok {
		return ts, nil
	}
	ts, err := p.env.Platform.CreateTaskSet(ctx, platform.TaskSetSpec{
		Cluster:        d.Cluster,
		Service:        d.Service,
		ExternalID:     string(run.ID),
		TaskDefinition: d.TaskDefinition,
		ContainerName:  d.ContainerName,
		ContainerPort:  d.ContainerPort,
		TargetGroup:    run.Green.TargetGroup,
		Subnets:        d.Subnets,
		SecurityGroups: d.SecurityGroups,
		AssignPublicIP: d.AssignPublicIP,
		Placement:      p.env.Config.Placement,
	})
	if err != nil {
		return ts, errors.Wrap(err, "creating task set")
	}
	return ts, nil
}

// Rollback undoes whatever provisioning did, in reverse: the test rule
// goes back to its original target, then the task set and the target
// group are deleted. It is used both after a failed provision and to
// discard a green environment that was never promoted. The run comes
// back ROLLED_BACK if everything was undone.
func (p *Provisioner) Rollback(ctx context.Context, run deploy.Run) (deploy.Run, error) {
	logger := log.With(p.env.Logger, "run", run.ID, "stage", deploy.StageProvision)
	if run.Reached(deploy.PhaseProductionRetargeted) {
		return run, deploy.Errorf(deploy.InvalidPhase, deploy.StageProvision, "production already routed to green; cannot roll back")
	}
	d := run.Descriptor
	if err := p.checkRollback(ctx, run); err != nil {
		return run, err
	}
	var errs []string
	note := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Only undo the test rule if it still points at green; someone
	// may have moved it since.
	if run.Green.TargetGroup != "" {
		rule, err := p.env.Platform.DescribeRule(ctx, d.TestRule)
		switch {
		case err != nil:
			note(errors.Wrap(err, "describing test rule"))
		case rule.Target.TargetGroup == run.Green.TargetGroup:
			note(errors.Wrap(p.env.Platform.ModifyRule(ctx, d.TestRule, d.TestRuleOriginal), "restoring test rule"))
		}
	}
	if len(errs) == 0 {
		run.TestRuleBound = false
	}

	taskSet := run.Green.TaskSet
	if taskSet == "" {
		// It may have been created without us hearing about it.
		if svc, err := p.env.Platform.DescribeService(ctx, d.Cluster, d.Service); err == nil {
			if ts, ok := svc.ByExternalID(string(run.ID)); ok {
				taskSet = ts.ID
			}
		} else {
			note(errors.Wrap(err, "describing service"))
		}
	}
	if taskSet != "" {
		if taskSet == d.Blue.TaskSet {
			note(fmt.Errorf("refusing to delete blue task set %s", taskSet))
		} else if err := p.env.deleteTaskSet(ctx, d, taskSet); err != nil {
			note(err)
		} else {
			run.Green.TaskSet = ""
		}
	}

	targetGroup := run.Green.TargetGroup
	if targetGroup == "" {
		tg, err := p.env.Platform.TargetGroupByName(ctx, TargetGroupName(d.Service, run.ID))
		switch {
		case err == nil:
			targetGroup = tg.ARN
		case !platform.IsNotFound(err):
			note(errors.Wrap(err, "looking up target group"))
		}
	}
	if targetGroup != "" && run.Green.TargetGroup == "" {
		if err := p.env.checkTargetGroupName(TargetGroupName(d.Service, run.ID)); err != nil {
			note(errors.Wrap(err, "refusing to delete green target group"))
			targetGroup = ""
		}
	}
	if targetGroup != "" {
		if targetGroup == d.Blue.TargetGroup {
			note(fmt.Errorf("refusing to delete blue target group %s", targetGroup))
		} else if err := p.env.deleteTargetGroup(ctx, deploy.StageProvision, targetGroup); err != nil {
			note(err)
		} else {
			run.Green.TargetGroup = ""
		}
	}

	if len(errs) > 0 {
		rollbacks.With("success", "false").Add(1)
		return run, errors.Errorf("rollback: %v", errs)
	}
	rollbacks.With("success", "true").Add(1)
	p.env.advance(ctx, logger, &run, deploy.PhaseRolledBack)
	return run, nil
}

// checkRollback refuses, before anything is touched, to take down a
// green environment that production forwards to, or whose target group
// is outside the configured pattern.
func (p *Provisioner) checkRollback(ctx context.Context, run deploy.Run) error {
	d := run.Descriptor
	if run.Green.TargetGroup == "" {
		return nil
	}
	prod, err := p.env.Platform.DescribeRule(ctx, d.ProdRule)
	if err != nil {
		return errors.Wrap(err, "describing production rule")
	}
	if prod.Target.TargetGroup == run.Green.TargetGroup {
		return deploy.Errorf(deploy.InvalidPhase, deploy.StageProvision, "production rule forwards to green target group %s; cannot roll back", run.Green.TargetGroup)
	}
	tg, err := p.env.Platform.DescribeTargetGroup(ctx, run.Green.TargetGroup)
	switch {
	case platform.IsNotFound(err):
		return nil
	case err != nil:
		return errors.Wrapf(err, "describing target group %s", run.Green.TargetGroup)
	}
	return errors.Wrap(p.env.checkTargetGroupName(tg.Name), "refusing to delete green target group")
}
