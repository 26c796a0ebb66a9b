package aws

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecr/ecriface"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/aws/aws-sdk-go/service/elbv2/elbv2iface"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

type mockECS struct {
	ecsiface.ECSAPI
	services      []*ecs.Service
	taskSets      []*ecs.TaskSet
	createInput   *ecs.CreateTaskSetInput
	describeErrs  []error
	describeCalls int
}

func (m *mockECS) DescribeServicesWithContext(ctx aws.Context, in *ecs.DescribeServicesInput, _ ...request.Option) (*ecs.DescribeServicesOutput, error) {
	return &ecs.DescribeServicesOutput{Services: m.services}, nil
}

func (m *mockECS) DescribeTaskSetsWithContext(ctx aws.Context, in *ecs.DescribeTaskSetsInput, _ ...request.Option) (*ecs.DescribeTaskSetsOutput, error) {
	m.describeCalls++
	if len(m.describeErrs) > 0 {
		err := m.describeErrs[0]
		m.describeErrs = m.describeErrs[1:]
		return nil, err
	}
	return &ecs.DescribeTaskSetsOutput{TaskSets: m.taskSets}, nil
}

func (m *mockECS) CreateTaskSetWithContext(ctx aws.Context, in *ecs.CreateTaskSetInput, _ ...request.Option) (*ecs.CreateTaskSetOutput, error) {
	m.createInput = in
	return &ecs.CreateTaskSetOutput{TaskSet: &ecs.TaskSet{
		Id:         aws.String("ecs-svc/1234"),
		ExternalId: in.ExternalId,
		Status:     aws.String("ACTIVE"),
	}}, nil
}

func (m *mockECS) DescribeTaskDefinitionWithContext(ctx aws.Context, in *ecs.DescribeTaskDefinitionInput, _ ...request.Option) (*ecs.DescribeTaskDefinitionOutput, error) {
	return nil, awserr.New(ecs.ErrCodeClientException, "Unable to describe task definition.", nil)
}

type mockELB struct {
	elbv2iface.ELBV2API
	rule        *elbv2.Rule
	modifyInput *elbv2.ModifyRuleInput
	deleteErr   error
}

func (m *mockELB) DescribeRulesWithContext(ctx aws.Context, in *elbv2.DescribeRulesInput, _ ...request.Option) (*elbv2.DescribeRulesOutput, error) {
	if m.rule == nil {
		return nil, awserr.New(elbv2.ErrCodeRuleNotFoundException, "One or more rules not found", nil)
	}
	return &elbv2.DescribeRulesOutput{Rules: []*elbv2.Rule{m.rule}}, nil
}

func (m *mockELB) ModifyRuleWithContext(ctx aws.Context, in *elbv2.ModifyRuleInput, _ ...request.Option) (*elbv2.ModifyRuleOutput, error) {
	m.modifyInput = in
	return &elbv2.ModifyRuleOutput{}, nil
}

func (m *mockELB) DeleteTargetGroupWithContext(ctx aws.Context, in *elbv2.DeleteTargetGroupInput, _ ...request.Option) (*elbv2.DeleteTargetGroupOutput, error) {
	return &elbv2.DeleteTargetGroupOutput{}, m.deleteErr
}

type mockECR struct {
	ecriface.ECRAPI
	input *ecr.DescribeImagesInput
	err   error
}

func (m *mockECR) DescribeImagesWithContext(ctx aws.Context, in *ecr.DescribeImagesInput, _ ...request.Option) (*ecr.DescribeImagesOutput, error) {
	m.input = in
	return &ecr.DescribeImagesOutput{}, m.err
}

const ruleARN = "arn:aws:elasticloadbalancing:us-east-1:123456789012:listener-rule/app/web/50dc6c495c0c9188/f2f7dc8efc522ab2/9683b2d02a6cabee"

func newPlatform(e *mockECS, l *mockELB, r *mockECR) *Platform {
	throttle := NewThrottle(1000, 100, clockwork.NewRealClock(), nil)
	throttle.InitialBackoff = time.Millisecond
	throttle.MaxBackoff = 2 * time.Millisecond
	return NewFromClients(e, l, func(string) ecriface.ECRAPI { return r }, throttle, nil)
}

func TestDescribeService(t *testing.T) {
	e := &mockECS{services: []*ecs.Service{{
		ServiceName:          aws.String("web"),
		Status:               aws.String("ACTIVE"),
		DeploymentController: &ecs.DeploymentController{Type: aws.String(ecs.DeploymentControllerTypeExternal)},
		TaskSets: []*ecs.TaskSet{{
			Id:                   aws.String("ecs-svc/1"),
			Status:               aws.String("PRIMARY"),
			StabilityStatus:      aws.String(ecs.StabilityStatusSteadyState),
			ComputedDesiredCount: aws.Int64(2),
			RunningCount:         aws.Int64(2),
			LoadBalancers:        []*ecs.LoadBalancer{{TargetGroupArn: aws.String("tg-1")}},
			NetworkConfiguration: &ecs.NetworkConfiguration{AwsvpcConfiguration: &ecs.AwsVpcConfiguration{
				Subnets:        aws.StringSlice([]string{"subnet-a"}),
				SecurityGroups: aws.StringSlice([]string{"sg-1"}),
				AssignPublicIp: aws.String(ecs.AssignPublicIpEnabled),
			}},
		}, {
			Id:                   aws.String("ecs-svc/2"),
			Status:               aws.String("ACTIVE"),
			StabilityStatus:      aws.String(ecs.StabilityStatusStabilizing),
			ComputedDesiredCount: aws.Int64(2),
			RunningCount:         aws.Int64(0),
		}},
	}}}
	p := newPlatform(e, &mockELB{}, &mockECR{})

	svc, err := p.DescribeService(context.Background(), "c", "web")
	require.NoError(t, err)
	assert.Equal(t, platform.ControllerExternal, svc.Controller)
	primary, ok := svc.Primary()
	require.True(t, ok)
	assert.Equal(t, "ecs-svc/1", primary.ID)
	assert.True(t, primary.Steady)
	assert.Equal(t, "tg-1", primary.TargetGroup)
	assert.Equal(t, []string{"subnet-a"}, primary.Subnets)
	assert.True(t, primary.AssignPublicIP)
	assert.Equal(t, platform.TaskSetProvisioning, svc.TaskSets[1].Status)

	e.services = []*ecs.Service{{ServiceName: aws.String("web"), Status: aws.String("INACTIVE")}}
	_, err = p.DescribeService(context.Background(), "c", "web")
	assert.True(t, platform.IsNotFound(err))
}

func TestDescribeTaskSet_Throttled(t *testing.T) {
	throttled := awserr.New("ThrottlingException", "Rate exceeded", nil)
	e := &mockECS{
		describeErrs: []error{throttled, throttled},
		taskSets:     []*ecs.TaskSet{{Id: aws.String("ecs-svc/1"), Status: aws.String("ACTIVE")}},
	}
	p := newPlatform(e, &mockELB{}, &mockECR{})
	ts, err := p.DescribeTaskSet(context.Background(), "c", "web", "ecs-svc/1")
	require.NoError(t, err)
	assert.Equal(t, "ecs-svc/1", ts.ID)
	assert.Equal(t, 3, e.describeCalls)

	e.describeErrs = []error{awserr.New(ecs.ErrCodeTaskSetNotFoundException, "gone", nil)}
	_, err = p.DescribeTaskSet(context.Background(), "c", "web", "ecs-svc/1")
	assert.True(t, platform.IsNotFound(err))

	e.describeErrs = nil
	e.taskSets = nil
	_, err = p.DescribeTaskSet(context.Background(), "c", "web", "ecs-svc/1")
	assert.True(t, platform.IsNotFound(err))
}

func TestThrottle_GivesUp(t *testing.T) {
	throttle := NewThrottle(1000, 100, clockwork.NewRealClock(), nil)
	throttle.InitialBackoff = time.Millisecond
	throttle.MaxAttempts = 3
	calls := 0
	err := throttle.Do(context.Background(), "ecs", func() error {
		calls++
		return awserr.New("Throttling", "slow down", nil)
	})
	assert.True(t, IsThrottling(err))
	assert.Equal(t, 3, calls)
	assert.True(t, float64(throttle.limiter("ecs").Limit()) < 1000)
}

func TestThrottle_Recovers(t *testing.T) {
	throttle := NewThrottle(1000, 100, clockwork.NewRealClock(), nil)
	throttle.MaxAttempts = 1
	err := throttle.Do(context.Background(), "ecs", func() error {
		return awserr.New("Throttling", "slow down", nil)
	})
	require.True(t, IsThrottling(err))
	assert.Equal(t, 500.0, float64(throttle.limiter("ecs").Limit()))

	// Plain successes bring it back, up to the configured rate.
	for i := 0; i < 3; i++ {
		require.NoError(t, throttle.Do(context.Background(), "ecs", func() error { return nil }))
	}
	assert.Equal(t, 1000.0, float64(throttle.limiter("ecs").Limit()))
	assert.Equal(t, 1000.0, float64(throttle.limiter("elbv2").Limit()))
}

func TestCreateTaskSet(t *testing.T) {
	e := &mockECS{}
	p := newPlatform(e, &mockELB{}, &mockECR{})
	ts, err := p.CreateTaskSet(context.Background(), platform.TaskSetSpec{
		Cluster:        "c",
		Service:        "web",
		ExternalID:     "run-1",
		TaskDefinition: "web:2",
		ContainerName:  "web",
		ContainerPort:  80,
		TargetGroup:    "tg-2",
		Subnets:        []string{"subnet-a"},
		SecurityGroups: []string{"sg-1"},
		Placement: platform.Placement{
			ScalePercent:     100,
			CapacityProvider: []platform.CapacityProvider{{Name: "FARGATE_SPOT", Weight: 100}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", ts.ExternalID)

	in := e.createInput
	assert.Equal(t, "run-1", aws.StringValue(in.ClientToken))
	assert.Equal(t, "tg-2", aws.StringValue(in.LoadBalancers[0].TargetGroupArn))
	assert.Equal(t, ecs.AssignPublicIpDisabled, aws.StringValue(in.NetworkConfiguration.AwsvpcConfiguration.AssignPublicIp))
	assert.Equal(t, ecs.ScaleUnitPercent, aws.StringValue(in.Scale.Unit))
	assert.Nil(t, in.LaunchType)
	require.Len(t, in.CapacityProviderStrategy, 1)
	assert.Equal(t, "FARGATE_SPOT", aws.StringValue(in.CapacityProviderStrategy[0].CapacityProvider))
}

func TestDescribeTaskDefinition_Missing(t *testing.T) {
	p := newPlatform(&mockECS{}, &mockELB{}, &mockECR{})
	_, err := p.DescribeTaskDefinition(context.Background(), "web:99")
	assert.True(t, platform.IsNotFound(err))
}

func TestRules(t *testing.T) {
	l := &mockELB{rule: &elbv2.Rule{
		RuleArn: aws.String(ruleARN),
		Actions: []*elbv2.Action{
			{Type: aws.String("authenticate-oidc"), Order: aws.Int64(1)},
			{Type: aws.String("fixed-response"), Order: aws.Int64(2), FixedResponseConfig: &elbv2.FixedResponseActionConfig{
				StatusCode:  aws.String("503"),
				ContentType: aws.String("text/plain"),
				MessageBody: aws.String("down"),
			}},
		},
	}}
	p := newPlatform(&mockECS{}, l, &mockECR{})

	rule, err := p.DescribeRule(context.Background(), ruleARN)
	require.NoError(t, err)
	assert.Equal(t, platform.ListenerOfRule(ruleARN), rule.Listener)
	require.NotNil(t, rule.Target.FixedResponse)
	assert.Equal(t, "503", rule.Target.FixedResponse.StatusCode)

	require.NoError(t, p.ModifyRule(context.Background(), ruleARN, deploy.RuleTarget{TargetGroup: "tg-2"}))
	actions := l.modifyInput.Actions
	require.Len(t, actions, 2)
	assert.Equal(t, "authenticate-oidc", aws.StringValue(actions[0].Type))
	assert.Equal(t, "forward", aws.StringValue(actions[1].Type))
	assert.Equal(t, "tg-2", aws.StringValue(actions[1].TargetGroupArn))
	assert.Equal(t, int64(2), aws.Int64Value(actions[1].Order))

	l.rule = nil
	_, err = p.DescribeRule(context.Background(), ruleARN)
	assert.True(t, platform.IsNotFound(err))
}

func TestDeleteTargetGroup_InUse(t *testing.T) {
	l := &mockELB{deleteErr: awserr.New(elbv2.ErrCodeResourceInUseException, "Target group is currently in use by a listener or a rule", nil)}
	p := newPlatform(&mockECS{}, l, &mockECR{})
	err := p.DeleteTargetGroup(context.Background(), "tg-1")
	assert.True(t, platform.IsInUse(err))
}

func TestImageExists(t *testing.T) {
	r := &mockECR{}
	p := newPlatform(&mockECS{}, &mockELB{}, r)

	exists, ok, err := p.ImageExists(context.Background(), "123456789012.dkr.ecr.eu-west-1.amazonaws.com/team/web:v2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, exists)
	assert.Equal(t, "123456789012", aws.StringValue(r.input.RegistryId))
	assert.Equal(t, "team/web", aws.StringValue(r.input.RepositoryName))
	assert.Equal(t, "v2", aws.StringValue(r.input.ImageIds[0].ImageTag))

	r.err = awserr.New(ecr.ErrCodeImageNotFoundException, "not there", nil)
	exists, ok, err = p.ImageExists(context.Background(), "123456789012.dkr.ecr.eu-west-1.amazonaws.com/team/web:v3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, exists)

	_, ok, err = p.ImageExists(context.Background(), "docker.io/library/nginx:1.17")
	require.NoError(t, err)
	assert.False(t, ok)
}
