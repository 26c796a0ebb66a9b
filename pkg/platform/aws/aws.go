// Package aws implements platform.Platform with ECS task sets behind
// an Application Load Balancer, checking images in ECR.
package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecr/ecriface"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

const (
	apiECS   = "ecs"
	apiELBv2 = "elbv2"
	apiECR   = "ecr"

	actionForward       = "forward"
	actionFixedResponse = "fixed-response"
	actionRedirect      = "redirect"
)

var notFoundCodes = map[string]bool{
	ecs.ErrCodeServiceNotFoundException:        true,
	ecs.ErrCodeClusterNotFoundException:        true,
	ecs.ErrCodeTaskSetNotFoundException:        true,
	elbv2.ErrCodeRuleNotFoundException:         true,
	elbv2.ErrCodeListenerNotFoundException:     true,
	elbv2.ErrCodeTargetGroupNotFoundException:  true,
	elbv2.ErrCodeLoadBalancerNotFoundException: true,
	ecr.ErrCodeImageNotFoundException:          true,
	ecr.ErrCodeRepositoryNotFoundException:     true,
}

// translate maps AWS error codes onto the platform's sentinel errors.
func translate(err error) error {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return err
	}
	switch {
	case notFoundCodes[aerr.Code()]:
		return fmt.Errorf("%s: %w", aerr.Message(), platform.ErrNotFound)
	case aerr.Code() == elbv2.ErrCodeResourceInUseException:
		return fmt.Errorf("%s: %w", aerr.Message(), platform.ErrInUse)
	}
	return err
}

// Config says where to find AWS.
type Config struct {
	Region string
	// Profile names a shared config profile; empty means the default
	// credential chain.
	Profile string
}

// NewSession creates an AWS session honouring the shared config
// files.
func NewSession(cfg Config) (*session.Session, error) {
	opts := session.Options{
		SharedConfigState: session.SharedConfigEnable,
		Profile:           cfg.Profile,
	}
	if cfg.Region != "" {
		opts.Config.Region = aws.String(cfg.Region)
	}
	sess, err := session.NewSessionWithOptions(opts)
	return sess, errors.Wrap(err, "creating AWS session")
}

// Platform talks to ECS, ELBv2 and ECR.
type Platform struct {
	ecs      ecsiface.ECSAPI
	elb      elbv2iface.ELBV2API
	throttle *Throttle
	logger   log.Logger

	// ECR repositories may live in other regions than the service.
	ecrFor     func(region string) ecriface.ECRAPI
	ecrMu      sync.Mutex
	ecrClients map[string]ecriface.ECRAPI
}

var _ platform.Platform = &Platform{}

// New creates a platform from a session.
func New(sess *session.Session, throttle *Throttle, logger log.Logger) *Platform {
	return NewFromClients(ecs.New(sess), elbv2.New(sess), func(region string) ecriface.ECRAPI {
		return ecr.New(sess, aws.NewConfig().WithRegion(region))
	}, throttle, logger)
}

// NewFromClients creates a platform from existing clients.
func NewFromClients(ecsClient ecsiface.ECSAPI, elbClient elbv2iface.ELBV2API, ecrFor func(region string) ecriface.ECRAPI, throttle *Throttle, logger log.Logger) *Platform {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Platform{
		ecs:        ecsClient,
		elb:        elbClient,
		ecrFor:     ecrFor,
		ecrClients: map[string]ecriface.ECRAPI{},
		throttle:   throttle,
		logger:     logger,
	}
}

func (p *Platform) do(ctx context.Context, api string, f func() error) error {
	return translate(p.throttle.Do(ctx, api, f))
}

func (p *Platform) ecrClient(region string) ecriface.ECRAPI {
	p.ecrMu.Lock()
	defer p.ecrMu.Unlock()
	c, ok := p.ecrClients[region]
	if !ok && p.ecrFor != nil {
		c = p.ecrFor(region)
		p.ecrClients[region] = c
	}
	return c
}

// ECS

func (p *Platform) DescribeService(ctx context.Context, cluster, service string) (platform.Service, error) {
	var out *ecs.DescribeServicesOutput
	err := p.do(ctx, apiECS, func() (err error) {
		out, err = p.ecs.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(cluster),
			Services: aws.StringSlice([]string{service}),
		})
		return err
	})
	if err != nil {
		return platform.Service{}, err
	}
	for _, svc := range out.Services {
		if aws.StringValue(svc.Status) == "INACTIVE" {
			continue
		}
		s := platform.Service{
			Cluster:    cluster,
			Name:       aws.StringValue(svc.ServiceName),
			Controller: ecs.DeploymentControllerTypeEcs,
		}
		if svc.DeploymentController != nil {
			s.Controller = aws.StringValue(svc.DeploymentController.Type)
		}
		for _, ts := range svc.TaskSets {
			s.TaskSets = append(s.TaskSets, fromTaskSet(ts))
		}
		return s, nil
	}
	return platform.Service{}, fmt.Errorf("service %s in cluster %s: %w", service, cluster, platform.ErrNotFound)
}

func fromTaskSet(ts *ecs.TaskSet) platform.TaskSet {
	out := platform.TaskSet{
		ID:             aws.StringValue(ts.Id),
		ExternalID:     aws.StringValue(ts.ExternalId),
		DesiredCount:   aws.Int64Value(ts.ComputedDesiredCount),
		RunningCount:   aws.Int64Value(ts.RunningCount),
		TaskDefinition: aws.StringValue(ts.TaskDefinition),
	}
	switch aws.StringValue(ts.Status) {
	case "PRIMARY":
		out.Status = platform.TaskSetPrimary
	case "DRAINING":
		out.Status = platform.TaskSetDraining
	default:
		out.Status = platform.TaskSetActive
	}
	out.Steady = aws.StringValue(ts.StabilityStatus) == ecs.StabilityStatusSteadyState &&
		out.RunningCount == out.DesiredCount
	if out.Status == platform.TaskSetActive && !out.Steady && out.RunningCount == 0 {
		out.Status = platform.TaskSetProvisioning
	}
	for _, lb := range ts.LoadBalancers {
		if lb.TargetGroupArn != nil {
			out.TargetGroup = aws.StringValue(lb.TargetGroupArn)
			break
		}
	}
	if nc := ts.NetworkConfiguration; nc != nil && nc.AwsvpcConfiguration != nil {
		out.Subnets = aws.StringValueSlice(nc.AwsvpcConfiguration.Subnets)
		out.SecurityGroups = aws.StringValueSlice(nc.AwsvpcConfiguration.SecurityGroups)
		out.AssignPublicIP = aws.StringValue(nc.AwsvpcConfiguration.AssignPublicIp) == ecs.AssignPublicIpEnabled
	}
	return out
}

func (p *Platform) DescribeTaskDefinition(ctx context.Context, ref string) (platform.TaskDefinition, error) {
	var out *ecs.DescribeTaskDefinitionOutput
	err := p.do(ctx, apiECS, func() (err error) {
		out, err = p.ecs.DescribeTaskDefinitionWithContext(ctx, &ecs.DescribeTaskDefinitionInput{
			TaskDefinition: aws.String(ref),
		})
		return err
	})
	if aerr, ok := errors.Cause(err).(awserr.Error); ok && aerr.Code() == ecs.ErrCodeClientException {
		// ECS has no dedicated code for a missing task definition.
		return platform.TaskDefinition{}, fmt.Errorf("task definition %s: %s: %w", ref, aerr.Message(), platform.ErrNotFound)
	}
	if err != nil {
		return platform.TaskDefinition{}, err
	}
	td := platform.TaskDefinition{ARN: aws.StringValue(out.TaskDefinition.TaskDefinitionArn)}
	for _, cd := range out.TaskDefinition.ContainerDefinitions {
		c := platform.Container{Name: aws.StringValue(cd.Name), Image: aws.StringValue(cd.Image)}
		for _, pm := range cd.PortMappings {
			c.Ports = append(c.Ports, aws.Int64Value(pm.ContainerPort))
		}
		td.Containers = append(td.Containers, c)
	}
	return td, nil
}

func (p *Platform) ImageExists(ctx context.Context, image string) (bool, bool, error) {
	ref, err := platform.ParseImage(image)
	if err != nil {
		return false, false, err
	}
	registryID, region, ok := ref.ECRRegistry()
	if !ok {
		return false, false, nil
	}
	client := p.ecrClient(region)
	if client == nil {
		return false, false, nil
	}
	id := &ecr.ImageIdentifier{}
	if ref.Digest != "" {
		id.ImageDigest = aws.String(ref.Digest.String())
	} else {
		id.ImageTag = aws.String(ref.Tag)
	}
	err = p.do(ctx, apiECR, func() error {
		_, err := client.DescribeImagesWithContext(ctx, &ecr.DescribeImagesInput{
			RegistryId:     aws.String(registryID),
			RepositoryName: aws.String(ref.Repository),
			ImageIds:       []*ecr.ImageIdentifier{id},
		})
		return err
	})
	switch {
	case err == nil:
		return true, true, nil
	case platform.IsNotFound(err):
		return false, true, nil
	}
	return false, false, err
}

func (p *Platform) CreateTaskSet(ctx context.Context, spec platform.TaskSetSpec) (platform.TaskSet, error) {
	assign := ecs.AssignPublicIpDisabled
	if spec.AssignPublicIP {
		assign = ecs.AssignPublicIpEnabled
	}
	in := &ecs.CreateTaskSetInput{
		Cluster:        aws.String(spec.Cluster),
		Service:        aws.String(spec.Service),
		ExternalId:     aws.String(spec.ExternalID),
		ClientToken:    aws.String(spec.ExternalID),
		TaskDefinition: aws.String(spec.TaskDefinition),
		LoadBalancers: []*ecs.LoadBalancer{{
			ContainerName:  aws.String(spec.ContainerName),
			ContainerPort:  aws.Int64(spec.ContainerPort),
			TargetGroupArn: aws.String(spec.TargetGroup),
		}},
		NetworkConfiguration: &ecs.NetworkConfiguration{
			AwsvpcConfiguration: &ecs.AwsVpcConfiguration{
				Subnets:        aws.StringSlice(spec.Subnets),
				SecurityGroups: aws.StringSlice(spec.SecurityGroups),
				AssignPublicIp: aws.String(assign),
			},
		},
		Scale: &ecs.Scale{
			Unit:  aws.String(ecs.ScaleUnitPercent),
			Value: aws.Float64(spec.Placement.ScalePercent),
		},
	}
	if spec.Placement.LaunchType != "" {
		in.LaunchType = aws.String(spec.Placement.LaunchType)
	}
	if spec.Placement.PlatformVersion != "" {
		in.PlatformVersion = aws.String(spec.Placement.PlatformVersion)
	}
	for _, cp := range spec.Placement.CapacityProvider {
		in.CapacityProviderStrategy = append(in.CapacityProviderStrategy, &ecs.CapacityProviderStrategyItem{
			CapacityProvider: aws.String(cp.Name),
			Base:             aws.Int64(cp.Base),
			Weight:           aws.Int64(cp.Weight),
		})
	}
	var out *ecs.CreateTaskSetOutput
	err := p.do(ctx, apiECS, func() (err error) {
		out, err = p.ecs.CreateTaskSetWithContext(ctx, in)
		return err
	})
	if err != nil {
		return platform.TaskSet{}, err
	}
	return fromTaskSet(out.TaskSet), nil
}

func (p *Platform) DescribeTaskSet(ctx context.Context, cluster, service, id string) (platform.TaskSet, error) {
	var out *ecs.DescribeTaskSetsOutput
	err := p.do(ctx, apiECS, func() (err error) {
		out, err = p.ecs.DescribeTaskSetsWithContext(ctx, &ecs.DescribeTaskSetsInput{
			Cluster:  aws.String(cluster),
			Service:  aws.String(service),
			TaskSets: aws.StringSlice([]string{id}),
		})
		return err
	})
	if err != nil {
		return platform.TaskSet{}, err
	}
	if len(out.TaskSets) == 0 {
		return platform.TaskSet{}, fmt.Errorf("task set %s: %w", id, platform.ErrNotFound)
	}
	return fromTaskSet(out.TaskSets[0]), nil
}

func (p *Platform) UpdatePrimaryTaskSet(ctx context.Context, cluster, service, id string) error {
	return p.do(ctx, apiECS, func() error {
		_, err := p.ecs.UpdateServicePrimaryTaskSetWithContext(ctx, &ecs.UpdateServicePrimaryTaskSetInput{
			Cluster:        aws.String(cluster),
			Service:        aws.String(service),
			PrimaryTaskSet: aws.String(id),
		})
		return err
	})
}

func (p *Platform) DeleteTaskSet(ctx context.Context, cluster, service, id string) error {
	return p.do(ctx, apiECS, func() error {
		_, err := p.ecs.DeleteTaskSetWithContext(ctx, &ecs.DeleteTaskSetInput{
			Cluster: aws.String(cluster),
			Service: aws.String(service),
			TaskSet: aws.String(id),
			Force:   aws.Bool(true),
		})
		return err
	})
}

// ELBv2

func (p *Platform) DescribeListener(ctx context.Context, arn string) (platform.Listener, error) {
	var out *elbv2.DescribeListenersOutput
	err := p.do(ctx, apiELBv2, func() (err error) {
		out, err = p.elb.DescribeListenersWithContext(ctx, &elbv2.DescribeListenersInput{
			ListenerArns: aws.StringSlice([]string{arn}),
		})
		return err
	})
	if err != nil {
		return platform.Listener{}, err
	}
	if len(out.Listeners) == 0 {
		return platform.Listener{}, fmt.Errorf("listener %s: %w", arn, platform.ErrNotFound)
	}
	l := out.Listeners[0]
	listener := platform.Listener{
		ARN:          aws.StringValue(l.ListenerArn),
		LoadBalancer: aws.StringValue(l.LoadBalancerArn),
		Port:         aws.Int64Value(l.Port),
	}

	var lbs *elbv2.DescribeLoadBalancersOutput
	err = p.do(ctx, apiELBv2, func() (err error) {
		lbs, err = p.elb.DescribeLoadBalancersWithContext(ctx, &elbv2.DescribeLoadBalancersInput{
			LoadBalancerArns: aws.StringSlice([]string{listener.LoadBalancer}),
		})
		return err
	})
	if err != nil {
		return listener, errors.Wrapf(err, "describing load balancer of listener %s", arn)
	}
	if len(lbs.LoadBalancers) > 0 {
		listener.VPC = aws.StringValue(lbs.LoadBalancers[0].VpcId)
	}
	return listener, nil
}

func (p *Platform) describeRule(ctx context.Context, arn string) (*elbv2.Rule, error) {
	var out *elbv2.DescribeRulesOutput
	err := p.do(ctx, apiELBv2, func() (err error) {
		out, err = p.elb.DescribeRulesWithContext(ctx, &elbv2.DescribeRulesInput{
			RuleArns: aws.StringSlice([]string{arn}),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out.Rules) == 0 {
		return nil, fmt.Errorf("rule %s: %w", arn, platform.ErrNotFound)
	}
	return out.Rules[0], nil
}

func (p *Platform) DescribeRule(ctx context.Context, arn string) (platform.Rule, error) {
	r, err := p.describeRule(ctx, arn)
	if err != nil {
		return platform.Rule{}, err
	}
	return platform.Rule{
		ARN:      aws.StringValue(r.RuleArn),
		Listener: platform.ListenerOfRule(aws.StringValue(r.RuleArn)),
		Target:   ruleTarget(r.Actions),
	}, nil
}

// ruleTarget reads the terminal action of a rule.
func ruleTarget(actions []*elbv2.Action) deploy.RuleTarget {
	for _, a := range actions {
		switch aws.StringValue(a.Type) {
		case actionForward:
			if a.TargetGroupArn != nil {
				return deploy.RuleTarget{TargetGroup: aws.StringValue(a.TargetGroupArn)}
			}
			if a.ForwardConfig != nil && len(a.ForwardConfig.TargetGroups) == 1 {
				return deploy.RuleTarget{TargetGroup: aws.StringValue(a.ForwardConfig.TargetGroups[0].TargetGroupArn)}
			}
		case actionFixedResponse:
			if fr := a.FixedResponseConfig; fr != nil {
				return deploy.RuleTarget{FixedResponse: &deploy.FixedResponse{
					StatusCode:  aws.StringValue(fr.StatusCode),
					ContentType: aws.StringValue(fr.ContentType),
					MessageBody: aws.StringValue(fr.MessageBody),
				}}
			}
		}
	}
	return deploy.RuleTarget{}
}

// ruleActions replaces the terminal action of a rule, keeping any
// actions in front of it (authentication, say).
func ruleActions(existing []*elbv2.Action, target deploy.RuleTarget) []*elbv2.Action {
	var actions []*elbv2.Action
	var order int64
	for _, a := range existing {
		switch aws.StringValue(a.Type) {
		case actionForward, actionFixedResponse, actionRedirect:
			continue
		}
		actions = append(actions, a)
		if o := aws.Int64Value(a.Order); o > order {
			order = o
		}
	}
	terminal := &elbv2.Action{}
	if len(actions) > 0 {
		terminal.Order = aws.Int64(order + 1)
	}
	if target.FixedResponse != nil {
		terminal.Type = aws.String(actionFixedResponse)
		terminal.FixedResponseConfig = &elbv2.FixedResponseActionConfig{
			StatusCode:  aws.String(target.FixedResponse.StatusCode),
			ContentType: aws.String(target.FixedResponse.ContentType),
			MessageBody: aws.String(target.FixedResponse.MessageBody),
		}
	} else {
		terminal.Type = aws.String(actionForward)
		terminal.TargetGroupArn = aws.String(target.TargetGroup)
	}
	return append(actions, terminal)
}

func (p *Platform) ModifyRule(ctx context.Context, arn string, target deploy.RuleTarget) error {
	r, err := p.describeRule(ctx, arn)
	if err != nil {
		return err
	}
	return p.do(ctx, apiELBv2, func() error {
		_, err := p.elb.ModifyRuleWithContext(ctx, &elbv2.ModifyRuleInput{
			RuleArn: aws.String(arn),
			Actions: ruleActions(r.Actions, target),
		})
		return err
	})
}

func (p *Platform) CreateTargetGroup(ctx context.Context, spec platform.TargetGroupSpec) (platform.TargetGroup, error) {
	hc := spec.HealthCheck
	in := &elbv2.CreateTargetGroupInput{
		Name:                       aws.String(spec.Name),
		Port:                       aws.Int64(spec.Port),
		Protocol:                   aws.String(spec.Protocol),
		VpcId:                      aws.String(spec.VPC),
		TargetType:                 aws.String(elbv2.TargetTypeEnumIp),
		HealthCheckEnabled:         aws.Bool(true),
		HealthCheckProtocol:        aws.String(hc.Protocol),
		HealthCheckPath:            aws.String(hc.Path),
		HealthCheckPort:            aws.String(hc.Port),
		HealthCheckIntervalSeconds: aws.Int64(hc.IntervalSeconds),
		HealthCheckTimeoutSeconds:  aws.Int64(hc.TimeoutSeconds),
		HealthyThresholdCount:      aws.Int64(hc.HealthyThreshold),
		UnhealthyThresholdCount:    aws.Int64(hc.UnhealthyThreshold),
		Matcher:                    &elbv2.Matcher{HttpCode: aws.String(hc.Matcher)},
	}
	for k, v := range spec.Tags {
		in.Tags = append(in.Tags, &elbv2.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	var out *elbv2.CreateTargetGroupOutput
	err := p.do(ctx, apiELBv2, func() (err error) {
		out, err = p.elb.CreateTargetGroupWithContext(ctx, in)
		return err
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == elbv2.ErrCodeDuplicateTargetGroupNameException {
		// Same name, different settings: it is still ours.
		return p.TargetGroupByName(ctx, spec.Name)
	}
	if err != nil {
		return platform.TargetGroup{}, err
	}
	if len(out.TargetGroups) == 0 {
		return platform.TargetGroup{}, errors.Errorf("creating target group %s returned nothing", spec.Name)
	}
	return fromTargetGroup(out.TargetGroups[0]), nil
}

func fromTargetGroup(tg *elbv2.TargetGroup) platform.TargetGroup {
	out := platform.TargetGroup{
		ARN:  aws.StringValue(tg.TargetGroupArn),
		Name: aws.StringValue(tg.TargetGroupName),
		VPC:  aws.StringValue(tg.VpcId),
		Port: aws.Int64Value(tg.Port),
		HealthCheck: deploy.HealthCheck{
			Protocol:           aws.StringValue(tg.HealthCheckProtocol),
			Path:               aws.StringValue(tg.HealthCheckPath),
			Port:               aws.StringValue(tg.HealthCheckPort),
			IntervalSeconds:    aws.Int64Value(tg.HealthCheckIntervalSeconds),
			TimeoutSeconds:     aws.Int64Value(tg.HealthCheckTimeoutSeconds),
			HealthyThreshold:   aws.Int64Value(tg.HealthyThresholdCount),
			UnhealthyThreshold: aws.Int64Value(tg.UnhealthyThresholdCount),
		},
	}
	if tg.Matcher != nil {
		out.HealthCheck.Matcher = aws.StringValue(tg.Matcher.HttpCode)
	}
	return out
}

func (p *Platform) describeTargetGroups(ctx context.Context, in *elbv2.DescribeTargetGroupsInput, what string) (platform.TargetGroup, error) {
	var out *elbv2.DescribeTargetGroupsOutput
	err := p.do(ctx, apiELBv2, func() (err error) {
		out, err = p.elb.DescribeTargetGroupsWithContext(ctx, in)
		return err
	})
	if err != nil {
		return platform.TargetGroup{}, err
	}
	if len(out.TargetGroups) == 0 {
		return platform.TargetGroup{}, fmt.Errorf("target group %s: %w", what, platform.ErrNotFound)
	}
	return fromTargetGroup(out.TargetGroups[0]), nil
}

func (p *Platform) DescribeTargetGroup(ctx context.Context, arn string) (platform.TargetGroup, error) {
	return p.describeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{TargetGroupArns: aws.StringSlice([]string{arn})}, arn)
}

func (p *Platform) TargetGroupByName(ctx context.Context, name string) (platform.TargetGroup, error) {
	return p.describeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{Names: aws.StringSlice([]string{name})}, name)
}

func (p *Platform) DescribeTargetHealth(ctx context.Context, arn string) ([]platform.TargetHealth, error) {
	var out *elbv2.DescribeTargetHealthOutput
	err := p.do(ctx, apiELBv2, func() (err error) {
		out, err = p.elb.DescribeTargetHealthWithContext(ctx, &elbv2.DescribeTargetHealthInput{
			TargetGroupArn: aws.String(arn),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	var ths []platform.TargetHealth
	for _, d := range out.TargetHealthDescriptions {
		th := platform.TargetHealth{}
		if d.Target != nil {
			th.ID = aws.StringValue(d.Target.Id)
			th.Port = aws.Int64Value(d.Target.Port)
		}
		if d.TargetHealth != nil {
			th.State = aws.StringValue(d.TargetHealth.State)
			th.Reason = aws.StringValue(d.TargetHealth.Reason)
		}
		ths = append(ths, th)
	}
	return ths, nil
}

func (p *Platform) DeleteTargetGroup(ctx context.Context, arn string) error {
	err := p.do(ctx, apiELBv2, func() error {
		_, err := p.elb.DeleteTargetGroupWithContext(ctx, &elbv2.DeleteTargetGroupInput{
			TargetGroupArn: aws.String(arn),
		})
		return err
	})
	if err != nil {
		p.logger.Log("targetGroup", arn, "delete", "failed", "err", err)
	}
	return err
}
