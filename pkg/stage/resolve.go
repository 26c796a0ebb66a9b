package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

// Resolver turns an operator's topology into a descriptor, checking
// that everything it names exists and fits together. It never changes
// anything.
type Resolver struct {
	env Env
}

func NewResolver(env Env) *Resolver {
	return &Resolver{env: env.withDefaults()}
}

// Run resolves a topology and starts a run with the result.
func (r *Resolver) Run(ctx context.Context, id deploy.RunID, topo deploy.Topology) (deploy.Run, error) {
	d, err := r.Resolve(ctx, topo)
	if err != nil {
		return deploy.Run{}, err
	}
	return deploy.NewRun(id, d, r.env.Clock.Now()), nil
}

func incomplete(format string, args ...interface{}) error {
	return deploy.Errorf(deploy.IncompleteTopology, deploy.StageResolve, format, args...)
}

// Resolve looks up the topology's identities. Missing or inconsistent
// references are IncompleteTopology; anything else (throttling that
// outlasted its retries, a dead network) is returned as is.
func (r *Resolver) Resolve(ctx context.Context, topo deploy.Topology) (d deploy.Descriptor, err error) {
	began := r.env.Clock.Now()
	defer func() { r.env.observe(deploy.StageResolve, began, err) }()
	logger := log.With(r.env.Logger, "stage", deploy.StageResolve, "cluster", topo.Cluster, "service", topo.Service)

	if missing := missingFields(topo); len(missing) > 0 {
		return d, incomplete("missing %s", strings.Join(missing, ", "))
	}
	p := r.env.Platform

	svc, err := p.DescribeService(ctx, topo.Cluster, topo.Service)
	if platform.IsNotFound(err) {
		return d, incomplete("service %s not found in cluster %s", topo.Service, topo.Cluster)
	} else if err != nil {
		return d, errors.Wrap(err, "describing service")
	}
	if svc.Controller != platform.ControllerExternal {
		return d, incomplete("service %s uses the %q deployment controller, not %s", topo.Service, svc.Controller, platform.ControllerExternal)
	}
	blue, hasBlue := svc.Primary()
	for _, ts := range svc.TaskSets {
		if ts.Status != platform.TaskSetPrimary {
			return d, incomplete("service %s has a task set %s (%s) besides the primary; finish or clean up the previous deployment first", topo.Service, ts.ID, ts.Status)
		}
	}

	prodListener, err := r.listener(ctx, "production", topo.ProdListener)
	if err != nil {
		return d, err
	}
	testListener, err := r.listener(ctx, "test", topo.TestListener)
	if err != nil {
		return d, err
	}
	if prodListener.ARN == testListener.ARN {
		return d, incomplete("production and test listener are the same listener %s", prodListener.ARN)
	}
	if prodListener.VPC != "" && testListener.VPC != "" && prodListener.VPC != testListener.VPC {
		return d, incomplete("production listener is in %s but test listener is in %s", prodListener.VPC, testListener.VPC)
	}
	prodRule, err := r.rule(ctx, "production", topo.ProdRule, prodListener.ARN)
	if err != nil {
		return d, err
	}
	testRule, err := r.rule(ctx, "test", topo.TestRule, testListener.ARN)
	if err != nil {
		return d, err
	}
	if hasBlue && prodRule.Target.TargetGroup != blue.TargetGroup {
		return d, incomplete("production rule forwards to %s, not to the primary task set's target group %s", prodRule.Target, blue.TargetGroup)
	}

	td, err := p.DescribeTaskDefinition(ctx, topo.TaskDefinition)
	if platform.IsNotFound(err) {
		return d, incomplete("task definition %s not found", topo.TaskDefinition)
	} else if err != nil {
		return d, errors.Wrap(err, "describing task definition")
	}
	container, ok := td.Container(topo.ContainerName)
	if !ok {
		return d, incomplete("task definition %s has no container %q", topo.TaskDefinition, topo.ContainerName)
	}
	port := topo.ContainerPort
	if port == 0 {
		if len(container.Ports) == 0 {
			return d, incomplete("container %q exposes no port and none was given", container.Name)
		}
		port = container.Ports[0]
	}
	if err := r.checkImage(ctx, logger, container.Image); err != nil {
		return d, err
	}

	d = deploy.Descriptor{
		Cluster:          topo.Cluster,
		Service:          topo.Service,
		TaskDefinition:   td.ARN,
		ContainerName:    container.Name,
		ContainerPort:    port,
		Image:            container.Image,
		VPC:              prodListener.VPC,
		Subnets:          topo.Subnets,
		SecurityGroups:   topo.SecurityGroups,
		AssignPublicIP:   topo.AssignPublicIP,
		ProdListener:     prodListener.ARN,
		ProdRule:         prodRule.ARN,
		TestListener:     testListener.ARN,
		TestRule:         testRule.ARN,
		HealthCheck:      topo.HealthCheck,
		TestRuleOriginal: testRule.Target,
		ResolvedAt:       r.env.Clock.Now(),
	}
	if hasBlue {
		d.Blue = deploy.Environment{TaskSet: blue.ID, TargetGroup: blue.TargetGroup}
		if len(d.Subnets) == 0 {
			d.Subnets = blue.Subnets
			d.AssignPublicIP = blue.AssignPublicIP
		}
		if len(d.SecurityGroups) == 0 {
			d.SecurityGroups = blue.SecurityGroups
		}
		tg, err := p.DescribeTargetGroup(ctx, blue.TargetGroup)
		if platform.IsNotFound(err) {
			return d, incomplete("primary task set's target group %s not found", blue.TargetGroup)
		} else if err != nil {
			return d, errors.Wrap(err, "describing target group")
		}
		if d.VPC == "" {
			d.VPC = tg.VPC
		}
		if err := mergo.Merge(&d.HealthCheck, tg.HealthCheck); err != nil {
			return d, errors.Wrap(err, "merging health check")
		}
	}
	if err := mergo.Merge(&d.HealthCheck, deploy.DefaultHealthCheck); err != nil {
		return d, errors.Wrap(err, "merging health check")
	}
	if len(d.Subnets) == 0 {
		return d, incomplete("no subnets given and no primary task set to take them from")
	}
	if d.VPC == "" {
		return d, incomplete("cannot tell which VPC listener %s is in", prodListener.ARN)
	}

	logger.Log("blue", fmt.Sprintf("%s/%s", d.Blue.TaskSet, d.Blue.TargetGroup), "image", d.Image, "resolved", "ok")
	return d, nil
}

func missingFields(topo deploy.Topology) []string {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"cluster", topo.Cluster},
		{"service", topo.Service},
		{"production listener", topo.ProdListener},
		{"production rule", topo.ProdRule},
		{"test listener", topo.TestListener},
		{"test rule", topo.TestRule},
		{"task definition", topo.TaskDefinition},
		{"container name", topo.ContainerName},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (r *Resolver) listener(ctx context.Context, which, arn string) (platform.Listener, error) {
	l, err := r.env.Platform.DescribeListener(ctx, arn)
	if platform.IsNotFound(err) {
		return l, incomplete("%s listener %s not found", which, arn)
	} else if err != nil {
		return l, errors.Wrapf(err, "describing %s listener", which)
	}
	return l, nil
}

func (r *Resolver) rule(ctx context.Context, which, arn, listener string) (platform.Rule, error) {
	rule, err := r.env.Platform.DescribeRule(ctx, arn)
	if platform.IsNotFound(err) {
		return rule, incomplete("%s rule %s not found", which, arn)
	} else if err != nil {
		return rule, errors.Wrapf(err, "describing %s rule", which)
	}
	owner := rule.Listener
	if owner == "" {
		owner = platform.ListenerOfRule(rule.ARN)
	}
	if owner != listener {
		return rule, incomplete("%s rule %s does not belong to listener %s", which, arn, listener)
	}
	return rule, nil
}

func (r *Resolver) checkImage(ctx context.Context, logger log.Logger, image string) error {
	if _, err := platform.ParseImage(image); err != nil {
		return incomplete("container image: %v", err)
	}
	exists, known, err := r.env.Platform.ImageExists(ctx, image)
	if err != nil {
		return errors.Wrapf(err, "checking image %s", image)
	}
	if !known {
		logger.Log("image", image, "check", "skipped", "reason", "registry not checkable")
		return nil
	}
	if !exists {
		return incomplete("image %s not found in its registry", image)
	}
	return nil
}
