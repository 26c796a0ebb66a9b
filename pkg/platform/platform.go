// Package platform describes the operations the deployment protocol
// needs from the container platform and the load balancer in front of
// it. Implementations must make every mutating call safe to repeat:
// creating something that already exists returns the existing thing,
// and deleting something that is already gone succeeds.
package platform

import (
	"context"
	"errors"
	"strings"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

// ErrNotFound is wrapped by implementations when the thing asked
// about does not exist (or no longer exists).
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means the resource is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrInUse is wrapped when a delete is refused because something still
// references the resource. It usually clears by itself.
var ErrInUse = errors.New("in use")

func IsInUse(err error) bool {
	return errors.Is(err, ErrInUse)
}

// ListenerOfRule derives the listener ARN a rule ARN belongs to, or ""
// if the rule ARN is not in the expected form.
func ListenerOfRule(ruleARN string) string {
	i := strings.Index(ruleARN, ":listener-rule/")
	j := strings.LastIndex(ruleARN, "/")
	if i < 0 || j <= i+len(":listener-rule/") {
		return ""
	}
	return ruleARN[:i] + ":listener/" + ruleARN[i+len(":listener-rule/"):j]
}

// TaskSetStatus is the protocol's view of a task set.
type TaskSetStatus string

const (
	TaskSetProvisioning TaskSetStatus = "PROVISIONING"
	TaskSetActive       TaskSetStatus = "ACTIVE"
	TaskSetPrimary      TaskSetStatus = "PRIMARY"
	TaskSetDraining     TaskSetStatus = "DRAINING"
	TaskSetDeleted      TaskSetStatus = "DELETED"
)

const (
	ControllerExternal = "EXTERNAL"
)

type TaskSet struct {
	ID          string
	ExternalID  string
	Status      TaskSetStatus
	TargetGroup string
	// Steady is true once the platform considers the task set stable
	// (desired count reached and running).
	Steady         bool
	DesiredCount   int64
	RunningCount   int64
	TaskDefinition string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

type Service struct {
	Cluster    string
	Name       string
	Controller string
	TaskSets   []TaskSet
}

// Primary returns the service's primary task set, if it has one.
func (s Service) Primary() (TaskSet, bool) {
	for _, ts := range s.TaskSets {
		if ts.Status == TaskSetPrimary {
			return ts, true
		}
	}
	return TaskSet{}, false
}

// TaskSet finds a task set by id.
func (s Service) TaskSet(id string) (TaskSet, bool) {
	for _, ts := range s.TaskSets {
		if ts.ID == id {
			return ts, true
		}
	}
	return TaskSet{}, false
}

// ByExternalID finds a task set by the external id it was created with.
func (s Service) ByExternalID(externalID string) (TaskSet, bool) {
	for _, ts := range s.TaskSets {
		if ts.ExternalID == externalID {
			return ts, true
		}
	}
	return TaskSet{}, false
}

type Container struct {
	Name  string
	Image string
	Ports []int64
}

type TaskDefinition struct {
	ARN        string
	Containers []Container
}

func (td TaskDefinition) Container(name string) (Container, bool) {
	for _, c := range td.Containers {
		if c.Name == name {
			return c, true
		}
	}
	return Container{}, false
}

type Listener struct {
	ARN          string
	LoadBalancer string
	VPC          string
	Port         int64
}

type Rule struct {
	ARN      string
	Listener string
	Target   deploy.RuleTarget
}

type TargetGroup struct {
	ARN         string
	Name        string
	VPC         string
	Port        int64
	HealthCheck deploy.HealthCheck
}

const (
	TargetHealthy   = "healthy"
	TargetUnhealthy = "unhealthy"
	TargetInitial   = "initial"
	TargetDraining  = "draining"
)

type TargetHealth struct {
	ID     string
	Port   int64
	State  string
	Reason string
}

// TaskSetSpec is everything needed to create a task set.
type TaskSetSpec struct {
	Cluster        string
	Service        string
	ExternalID     string
	TaskDefinition string
	ContainerName  string
	ContainerPort  int64
	TargetGroup    string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
	Placement      Placement
}

// Placement is the configuration-driven part of a task set: how many
// tasks, and where they run.
type Placement struct {
	// ScalePercent is the task set's share of the service's desired
	// count.
	ScalePercent     float64            `json:"scalePercent,omitempty" mapstructure:"scalePercent"`
	LaunchType       string             `json:"launchType,omitempty" mapstructure:"launchType"`
	PlatformVersion  string             `json:"platformVersion,omitempty" mapstructure:"platformVersion"`
	CapacityProvider []CapacityProvider `json:"capacityProviders,omitempty" mapstructure:"capacityProviders"`
}

type CapacityProvider struct {
	Name   string `json:"name" mapstructure:"name"`
	Base   int64  `json:"base,omitempty" mapstructure:"base"`
	Weight int64  `json:"weight,omitempty" mapstructure:"weight"`
}

// TargetGroupSpec is everything needed to create a target group.
type TargetGroupSpec struct {
	Name        string
	VPC         string
	Port        int64
	Protocol    string
	HealthCheck deploy.HealthCheck
	Tags        map[string]string
}

// Platform is the full set of operations used by the stages.
type Platform interface {
	DescribeService(ctx context.Context, cluster, service string) (Service, error)
	DescribeTaskDefinition(ctx context.Context, ref string) (TaskDefinition, error)
	// ImageExists reports whether a registry the platform knows about
	// has the image. ok is false when the image is in a registry the
	// platform cannot check.
	ImageExists(ctx context.Context, image string) (exists, ok bool, err error)

	CreateTaskSet(ctx context.Context, spec TaskSetSpec) (TaskSet, error)
	DescribeTaskSet(ctx context.Context, cluster, service, id string) (TaskSet, error)
	UpdatePrimaryTaskSet(ctx context.Context, cluster, service, id string) error
	DeleteTaskSet(ctx context.Context, cluster, service, id string) error

	DescribeListener(ctx context.Context, arn string) (Listener, error)
	DescribeRule(ctx context.Context, arn string) (Rule, error)
	ModifyRule(ctx context.Context, arn string, target deploy.RuleTarget) error

	CreateTargetGroup(ctx context.Context, spec TargetGroupSpec) (TargetGroup, error)
	DescribeTargetGroup(ctx context.Context, arn string) (TargetGroup, error)
	// TargetGroupByName looks a target group up by its (unique) name.
	TargetGroupByName(ctx context.Context, name string) (TargetGroup, error)
	DescribeTargetHealth(ctx context.Context, arn string) ([]TargetHealth, error)
	DeleteTargetGroup(ctx context.Context, arn string) error
}
