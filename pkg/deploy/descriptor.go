package deploy

import (
	"time"
)

// Topology identifies the service being deployed and the routing
// around it. It is what an operator (or the pipeline) supplies; the
// resolver turns it into a Descriptor.
type Topology struct {
	Cluster string `json:"cluster"`
	Service string `json:"service"`

	ProdListener string `json:"prodListener"`
	ProdRule     string `json:"prodRule"`
	TestListener string `json:"testListener"`
	TestRule     string `json:"testRule"`

	TaskDefinition string `json:"taskDefinition"`
	ContainerName  string `json:"containerName"`
	// ContainerPort may be left zero, in which case the first port
	// mapping of the named container is used.
	ContainerPort int64 `json:"containerPort,omitempty"`

	// Network placement. When empty, the placement of the current
	// primary task set is used.
	Subnets        []string `json:"subnets,omitempty"`
	SecurityGroups []string `json:"securityGroups,omitempty"`
	AssignPublicIP bool     `json:"assignPublicIp,omitempty"`

	// HealthCheck overrides the health check inherited from the blue
	// target group. Zero fields are filled from blue, then defaults.
	HealthCheck HealthCheck `json:"healthCheck,omitempty"`
}

// HealthCheck is the target group health check configuration.
type HealthCheck struct {
	Protocol           string `json:"protocol,omitempty"`
	Path               string `json:"path,omitempty"`
	Port               string `json:"port,omitempty"`
	IntervalSeconds    int64  `json:"intervalSeconds,omitempty"`
	TimeoutSeconds     int64  `json:"timeoutSeconds,omitempty"`
	HealthyThreshold   int64  `json:"healthyThreshold,omitempty"`
	UnhealthyThreshold int64  `json:"unhealthyThreshold,omitempty"`
	Matcher            string `json:"matcher,omitempty"`
}

// DefaultHealthCheck is used for anything neither the topology nor
// the blue target group specifies.
var DefaultHealthCheck = HealthCheck{
	Protocol:           "HTTP",
	Path:               "/",
	Port:               "traffic-port",
	IntervalSeconds:    15,
	TimeoutSeconds:     5,
	HealthyThreshold:   2,
	UnhealthyThreshold: 3,
	Matcher:            "200",
}

// RuleTarget is what a listener rule forwards to: either a single
// target group, or a fixed response.
type RuleTarget struct {
	TargetGroup   string         `json:"targetGroup,omitempty"`
	FixedResponse *FixedResponse `json:"fixedResponse,omitempty"`
}

// FixedResponse is a static listener response, used as the neutral
// target for the test rule.
type FixedResponse struct {
	StatusCode  string `json:"statusCode"`
	ContentType string `json:"contentType,omitempty"`
	MessageBody string `json:"messageBody,omitempty"`
}

// Equal reports whether two rule targets route to the same place.
func (t RuleTarget) Equal(o RuleTarget) bool {
	if t.TargetGroup != o.TargetGroup {
		return false
	}
	if t.FixedResponse == nil || o.FixedResponse == nil {
		return t.FixedResponse == nil && o.FixedResponse == nil
	}
	return *t.FixedResponse == *o.FixedResponse
}

func (t RuleTarget) String() string {
	switch {
	case t.TargetGroup != "":
		return "forward:" + t.TargetGroup
	case t.FixedResponse != nil:
		return "fixed-response:" + t.FixedResponse.StatusCode
	}
	return "none"
}

// Environment is one of the two serving slots: a task set and the
// target group it registers its tasks in.
type Environment struct {
	TaskSet     string `json:"taskSet,omitempty"`
	TargetGroup string `json:"targetGroup,omitempty"`
}

// Empty is true for the blue slot of a first deployment.
func (e Environment) Empty() bool {
	return e.TaskSet == "" && e.TargetGroup == ""
}

// Descriptor is the resolved, immutable snapshot of the steady-state
// topology that every later stage works from.
type Descriptor struct {
	Cluster string `json:"cluster"`
	Service string `json:"service"`

	TaskDefinition string `json:"taskDefinition"`
	ContainerName  string `json:"containerName"`
	ContainerPort  int64  `json:"containerPort"`
	Image          string `json:"image,omitempty"`

	VPC            string   `json:"vpc"`
	Subnets        []string `json:"subnets"`
	SecurityGroups []string `json:"securityGroups"`
	AssignPublicIP bool     `json:"assignPublicIp,omitempty"`

	ProdListener string `json:"prodListener"`
	ProdRule     string `json:"prodRule"`
	TestListener string `json:"testListener"`
	TestRule     string `json:"testRule"`

	HealthCheck HealthCheck `json:"healthCheck"`

	// Blue is the environment serving production when the run was
	// resolved. Empty for a first deployment.
	Blue Environment `json:"blue"`
	// TestRuleOriginal is where the test rule pointed at resolution
	// time; rollback restores it.
	TestRuleOriginal RuleTarget `json:"testRuleOriginal"`

	ResolvedAt time.Time `json:"resolvedAt"`
}

// Copy returns a deep copy, sharing no slices or pointers with d.
func (d Descriptor) Copy() Descriptor {
	c := d
	c.Subnets = append([]string(nil), d.Subnets...)
	c.SecurityGroups = append([]string(nil), d.SecurityGroups...)
	if d.TestRuleOriginal.FixedResponse != nil {
		fr := *d.TestRuleOriginal.FixedResponse
		c.TestRuleOriginal.FixedResponse = &fr
	}
	return c
}
