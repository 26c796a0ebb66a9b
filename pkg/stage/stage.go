// Package stage implements the four stages of a blue/green deployment:
// resolve, provision, swap and reclaim. Each stage takes the run left
// by its predecessor and returns it advanced. Every stage can be
// invoked again on its own output, or on the run it failed with, and
// will pick up where it stopped without repeating completed mutations.
package stage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	glob "github.com/ryanuber/go-glob"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

// Checkpoint persists a run between the steps of a stage, so that a
// crash mid-stage resumes from the last completed step.
type Checkpoint func(ctx context.Context, run deploy.Run) error

// Env is what every stage runs against.
type Env struct {
	Platform   platform.Platform
	Config     Config
	Clock      clockwork.Clock
	Logger     log.Logger
	Checkpoint Checkpoint
}

func (e Env) withDefaults() Env {
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	if e.Logger == nil {
		e.Logger = log.NewNopLogger()
	}
	e.Config = e.Config.WithDefaults()
	return e
}

func (e Env) poller() Poller {
	return Poller{Clock: e.Clock, Interval: e.Config.PollInterval, MaxInterval: e.Config.MaxPollInterval}
}

// advance moves the run to a phase and checkpoints it. A failed
// checkpoint is logged but does not fail the stage; every step is
// safe to repeat, so the worst case is repeating one.
func (e Env) advance(ctx context.Context, logger log.Logger, run *deploy.Run, p deploy.Phase) {
	run.SetPhase(p, e.Clock.Now())
	logger.Log("phase", p)
	if e.Checkpoint == nil {
		return
	}
	if err := e.Checkpoint(ctx, *run); err != nil {
		logger.Log("phase", p, "checkpoint", "failed", "err", err)
	}
}

func (e Env) observe(stage deploy.Stage, began time.Time, err error) {
	stageDuration.With("stage", string(stage), "success", strconv.FormatBool(err == nil)).Observe(e.Clock.Since(began).Seconds())
}

// retarget points a rule at target, unless it already is.
func (e Env) retarget(ctx context.Context, ruleARN string, target deploy.RuleTarget) (changed bool, err error) {
	rule, err := e.Platform.DescribeRule(ctx, ruleARN)
	if err != nil {
		return false, errors.Wrapf(err, "describing rule %s", ruleARN)
	}
	if rule.Target.Equal(target) {
		return false, nil
	}
	if err := e.Platform.ModifyRule(ctx, ruleARN, target); err != nil {
		return false, errors.Wrapf(err, "pointing rule %s at %s", ruleARN, target)
	}
	return true, nil
}

// greenHealth reports whether a task set is steady and every target in
// its target group is healthy, and if not, why not.
func (e Env) greenHealth(ctx context.Context, d deploy.Descriptor, green deploy.Environment) (bool, string, error) {
	ts, err := e.Platform.DescribeTaskSet(ctx, d.Cluster, d.Service, green.TaskSet)
	if err != nil {
		return false, "", errors.Wrapf(err, "describing task set %s", green.TaskSet)
	}
	switch ts.Status {
	case platform.TaskSetDraining, platform.TaskSetDeleted:
		return false, "", fmt.Errorf("task set %s is %s", ts.ID, ts.Status)
	}
	if !ts.Steady {
		return false, fmt.Sprintf("task set %s running %d of %d", ts.ID, ts.RunningCount, ts.DesiredCount), nil
	}
	targets, err := e.Platform.DescribeTargetHealth(ctx, green.TargetGroup)
	if err != nil {
		return false, "", errors.Wrapf(err, "describing target health of %s", green.TargetGroup)
	}
	healthy := 0
	for _, th := range targets {
		if th.State == platform.TargetHealthy {
			healthy++
		}
	}
	if healthy == 0 || healthy < len(targets) {
		return false, fmt.Sprintf("%d of %d targets healthy in %s", healthy, len(targets), green.TargetGroup), nil
	}
	return true, "", nil
}

// awaitHealthy polls until green is healthy. A missing task set is
// tolerated only if tolerateMissing, since a just-created one may not
// be visible yet.
func (e Env) awaitHealthy(ctx context.Context, logger log.Logger, stage deploy.Stage, d deploy.Descriptor, green deploy.Environment, timeout time.Duration, tolerateMissing bool) error {
	var last string
	n, err := e.poller().Until(ctx, timeout, func() (bool, error) {
		ok, why, err := e.greenHealth(ctx, d, green)
		if err != nil && tolerateMissing && platform.IsNotFound(err) {
			last = err.Error()
			return false, nil
		}
		if why != "" && why != last {
			logger.Log("waiting", why)
		}
		last = why
		return ok, err
	})
	pollIterations.With("stage", string(stage)).Add(float64(n))
	if err == ErrPollTimeout {
		return deploy.Errorf(deploy.Timeout, stage, "green not healthy after %s: %s", timeout, last)
	}
	return err
}

// deleteTaskSet deletes a task set, treating "already gone" as done.
func (e Env) deleteTaskSet(ctx context.Context, d deploy.Descriptor, id string) error {
	err := e.Platform.DeleteTaskSet(ctx, d.Cluster, d.Service, id)
	if err != nil && !platform.IsNotFound(err) {
		return errors.Wrapf(err, "deleting task set %s", id)
	}
	return nil
}

// deleteTargetGroup deletes a target group, treating "already gone"
// as done and waiting out "in use" (which persists for a while after
// its task set is deleted).
func (e Env) deleteTargetGroup(ctx context.Context, stage deploy.Stage, arn string) error {
	var last error
	_, err := e.poller().Until(ctx, e.Config.ReclaimTimeout, func() (bool, error) {
		err := e.Platform.DeleteTargetGroup(ctx, arn)
		switch {
		case err == nil, platform.IsNotFound(err):
			return true, nil
		case platform.IsInUse(err):
			last = err
			return false, nil
		}
		return false, errors.Wrapf(err, "deleting target group %s", arn)
	})
	if err == ErrPollTimeout {
		return deploy.Errorf(deploy.Timeout, stage, "target group %s still in use after %s: %v", arn, e.Config.ReclaimTimeout, last)
	}
	return err
}

var nameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

const maxTargetGroupName = 32

// TargetGroupName is the deterministic name of a run's target group,
// tg-<service>-<run>, shortened to fit the 32 character limit.
func TargetGroupName(service string, id deploy.RunID) string {
	svc := strings.Trim(nameUnsafe.ReplaceAllString(service, "-"), "-")
	short := id.Short()
	room := maxTargetGroupName - len("tg-") - len("-") - len(short)
	if len(svc) > room {
		svc = strings.TrimRight(svc[:room], "-")
	}
	if svc == "" {
		return "tg-" + short
	}
	return "tg-" + svc + "-" + short
}

// checkTargetGroupName refuses names outside the configured pattern,
// so the stages never create (or delete) anything not meant for them.
func (e Env) checkTargetGroupName(name string) error {
	if !glob.Glob(e.Config.TargetGroupPattern, name) {
		return errors.Errorf("target group name %q does not match %q", name, e.Config.TargetGroupPattern)
	}
	return nil
}
