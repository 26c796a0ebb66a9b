package mock

import (
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

// Identities used by BlueGreen.
const (
	Cluster        = "bluegreen"
	Service        = "web"
	TaskDefinition = "arn:aws:ecs:us-east-1:123456789012:task-definition/web:2"
	Container      = "web"
	Image          = "123456789012.dkr.ecr.us-east-1.amazonaws.com/web:latest"
	VPC            = "vpc-0a1b2c3d"
	LoadBalancer   = "arn:aws:elasticloadbalancing:us-east-1:123456789012:loadbalancer/app/web/50dc6c495c0c9188"
	ProdListener   = "arn:aws:elasticloadbalancing:us-east-1:123456789012:listener/app/web/50dc6c495c0c9188/f2f7dc8efc522ab2"
	ProdRule       = "arn:aws:elasticloadbalancing:us-east-1:123456789012:listener-rule/app/web/50dc6c495c0c9188/f2f7dc8efc522ab2/9683b2d02a6cabee"
	TestListener   = "arn:aws:elasticloadbalancing:us-east-1:123456789012:listener/app/web/50dc6c495c0c9188/0467ef3c8400ae65"
	TestRule       = "arn:aws:elasticloadbalancing:us-east-1:123456789012:listener-rule/app/web/50dc6c495c0c9188/0467ef3c8400ae65/3e2c5d1bd8e1f6a4"
	BlueTaskSet    = "ts-1"
	BlueTarget     = "tg-1"
)

// Placeholder is the test rule's neutral target.
var Placeholder = deploy.RuleTarget{FixedResponse: &deploy.FixedResponse{
	StatusCode:  "503",
	ContentType: "text/plain",
	MessageBody: "dummy response : please deploy workload",
}}

// BlueGreen returns a platform in steady state: a service with a
// single primary task set ts-1 in target group tg-1, the production
// rule forwarding to tg-1, and the test rule answering with a fixed
// response. The returned topology describes it.
func BlueGreen() (*Platform, deploy.Topology) {
	p := New()
	p.AddService(Cluster, Service, platform.ControllerExternal)
	p.TaskDefinitions[TaskDefinition] = platform.TaskDefinition{
		ARN: TaskDefinition,
		Containers: []platform.Container{
			{Name: Container, Image: Image, Ports: []int64{80}},
		},
	}
	p.Images[Image] = true
	p.AddTargetGroup(platform.TargetGroup{
		ARN:  BlueTarget,
		Name: "tg-web-blue",
		VPC:  VPC,
		Port: 80,
		HealthCheck: deploy.HealthCheck{
			Protocol:        "HTTP",
			Path:            "/healthz",
			IntervalSeconds: 10,
		},
	}, 2)
	p.AddTaskSet(Cluster, Service, platform.TaskSet{
		ID:             BlueTaskSet,
		Status:         platform.TaskSetPrimary,
		TargetGroup:    BlueTarget,
		DesiredCount:   2,
		RunningCount:   2,
		TaskDefinition: "arn:aws:ecs:us-east-1:123456789012:task-definition/web:1",
		Subnets:        []string{"subnet-a", "subnet-b"},
		SecurityGroups: []string{"sg-default"},
	})
	p.Listeners[ProdListener] = platform.Listener{ARN: ProdListener, LoadBalancer: LoadBalancer, VPC: VPC, Port: 80}
	p.Listeners[TestListener] = platform.Listener{ARN: TestListener, LoadBalancer: LoadBalancer, VPC: VPC, Port: 8080}
	p.Rules[ProdRule] = platform.Rule{ARN: ProdRule, Listener: ProdListener, Target: deploy.RuleTarget{TargetGroup: BlueTarget}}
	p.Rules[TestRule] = platform.Rule{ARN: TestRule, Listener: TestListener, Target: Placeholder}

	return p, deploy.Topology{
		Cluster:        Cluster,
		Service:        Service,
		ProdListener:   ProdListener,
		ProdRule:       ProdRule,
		TestListener:   TestListener,
		TestRule:       TestRule,
		TaskDefinition: TaskDefinition,
		ContainerName:  Container,
	}
}
