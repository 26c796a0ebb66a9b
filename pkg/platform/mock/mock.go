// Package mock is an in-memory platform.Platform. It keeps enough
// state to run the whole protocol end to end, records every call so
// tests can assert on ordering and on the absence of mutations, and
// lets tests inject failures per operation.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

// Operation names, as recorded in the call log.
const (
	OpDescribeService        = "DescribeService"
	OpDescribeTaskDefinition = "DescribeTaskDefinition"
	OpImageExists            = "ImageExists"
	OpCreateTaskSet          = "CreateTaskSet"
	OpDescribeTaskSet        = "DescribeTaskSet"
	OpUpdatePrimaryTaskSet   = "UpdatePrimaryTaskSet"
	OpDeleteTaskSet          = "DeleteTaskSet"
	OpDescribeListener       = "DescribeListener"
	OpDescribeRule           = "DescribeRule"
	OpModifyRule             = "ModifyRule"
	OpCreateTargetGroup      = "CreateTargetGroup"
	OpDescribeTargetGroup    = "DescribeTargetGroup"
	OpTargetGroupByName      = "TargetGroupByName"
	OpDescribeTargetHealth   = "DescribeTargetHealth"
	OpDeleteTargetGroup      = "DeleteTargetGroup"
)

var mutating = map[string]bool{
	OpCreateTaskSet:        true,
	OpUpdatePrimaryTaskSet: true,
	OpDeleteTaskSet:        true,
	OpModifyRule:           true,
	OpCreateTargetGroup:    true,
	OpDeleteTargetGroup:    true,
}

// Call is one entry in the call log. Arg is the main identifier the
// call was about (an ARN, id, or name).
type Call struct {
	Op  string
	Arg string
}

func (c Call) String() string {
	return c.Op + "(" + c.Arg + ")"
}

type taskSet struct {
	platform.TaskSet
	describes int
}

type service struct {
	platform.Service
	taskSets []*taskSet
}

// Platform is the in-memory implementation. The exported maps may be
// seeded directly before use.
type Platform struct {
	// StabilizeAfter is how many DescribeTaskSet calls a new task set
	// takes to reach a steady state with healthy targets. Negative
	// means never.
	StabilizeAfter int
	// Fail is consulted before each call; a non-nil return fails the
	// call without effect.
	Fail func(op, arg string) error

	TaskDefinitions map[string]platform.TaskDefinition
	Images          map[string]bool
	Listeners       map[string]platform.Listener
	Rules           map[string]platform.Rule
	TargetGroups    map[string]platform.TargetGroup
	Health          map[string][]platform.TargetHealth

	mu       sync.Mutex
	services map[string]*service
	calls    []Call
	seq      map[string]int
}

var _ platform.Platform = &Platform{}

func New() *Platform {
	return &Platform{
		StabilizeAfter:  1,
		TaskDefinitions: map[string]platform.TaskDefinition{},
		Images:          map[string]bool{},
		Listeners:       map[string]platform.Listener{},
		Rules:           map[string]platform.Rule{},
		TargetGroups:    map[string]platform.TargetGroup{},
		Health:          map[string][]platform.TargetHealth{},
		services:        map[string]*service{},
		seq:             map[string]int{},
	}
}

func key(cluster, svc string) string {
	return cluster + "/" + svc
}

// AddService seeds a service.
func (p *Platform) AddService(cluster, name, controller string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[key(cluster, name)] = &service{
		Service: platform.Service{Cluster: cluster, Name: name, Controller: controller},
	}
}

// AddTaskSet seeds a task set on an existing service; it is steady
// from the start.
func (p *Platform) AddTaskSet(cluster, name string, ts platform.TaskSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	svc := p.services[key(cluster, name)]
	ts.Steady = true
	svc.taskSets = append(svc.taskSets, &taskSet{TaskSet: ts})
	p.bump("ts")
}

// AddTargetGroup seeds a target group and its (healthy) targets.
func (p *Platform) AddTargetGroup(tg platform.TargetGroup, healthy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TargetGroups[tg.ARN] = tg
	p.Health[tg.ARN] = healthyTargets(tg.ARN, healthy)
	p.bump("tg")
}

// SetTargetHealth overrides the state of every target in a group.
func (p *Platform) SetTargetHealth(tg, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.Health[tg] {
		p.Health[tg][i].State = state
	}
}

func healthyTargets(tg string, n int) []platform.TargetHealth {
	var ths []platform.TargetHealth
	for i := 0; i < n; i++ {
		ths = append(ths, platform.TargetHealth{
			ID:    fmt.Sprintf("10.0.%d.%d", len(tg)%250, i+1),
			Port:  80,
			State: platform.TargetHealthy,
		})
	}
	return ths
}

func (p *Platform) bump(kind string) int {
	p.seq[kind]++
	return p.seq[kind]
}

// Calls returns a copy of the call log.
func (p *Platform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Mutations returns the mutating calls from the log.
func (p *Platform) Mutations() []Call {
	var ms []Call
	for _, c := range p.Calls() {
		if mutating[c.Op] {
			ms = append(ms, c)
		}
	}
	return ms
}

// CountOf counts calls to an operation.
func (p *Platform) CountOf(op string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (p *Platform) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// TaskSets returns the live task sets of a service.
func (p *Platform) TaskSets(cluster, name string) []platform.TaskSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []platform.TaskSet
	if svc, ok := p.services[key(cluster, name)]; ok {
		for _, ts := range svc.taskSets {
			out = append(out, ts.TaskSet)
		}
	}
	return out
}

// record logs the call and runs failure injection. Must be called
// with the lock held.
func (p *Platform) record(op, arg string) error {
	p.calls = append(p.calls, Call{Op: op, Arg: arg})
	if p.Fail != nil {
		return p.Fail(op, arg)
	}
	return nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, platform.ErrNotFound)
}

func (p *Platform) DescribeService(ctx context.Context, cluster, name string) (platform.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeService, key(cluster, name)); err != nil {
		return platform.Service{}, err
	}
	svc, ok := p.services[key(cluster, name)]
	if !ok {
		return platform.Service{}, notFound("service", key(cluster, name))
	}
	out := svc.Service
	out.TaskSets = nil
	for _, ts := range svc.taskSets {
		out.TaskSets = append(out.TaskSets, ts.TaskSet)
	}
	return out, nil
}

func (p *Platform) DescribeTaskDefinition(ctx context.Context, ref string) (platform.TaskDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeTaskDefinition, ref); err != nil {
		return platform.TaskDefinition{}, err
	}
	td, ok := p.TaskDefinitions[ref]
	if !ok {
		return platform.TaskDefinition{}, notFound("task definition", ref)
	}
	return td, nil
}

func (p *Platform) ImageExists(ctx context.Context, image string) (bool, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpImageExists, image); err != nil {
		return false, false, err
	}
	exists, known := p.Images[image]
	return exists, known, nil
}

func (p *Platform) CreateTaskSet(ctx context.Context, spec platform.TaskSetSpec) (platform.TaskSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpCreateTaskSet, spec.ExternalID); err != nil {
		return platform.TaskSet{}, err
	}
	svc, ok := p.services[key(spec.Cluster, spec.Service)]
	if !ok {
		return platform.TaskSet{}, notFound("service", key(spec.Cluster, spec.Service))
	}
	for _, ts := range svc.taskSets {
		if spec.ExternalID != "" && ts.ExternalID == spec.ExternalID {
			return ts.TaskSet, nil
		}
	}
	if _, ok := p.TargetGroups[spec.TargetGroup]; !ok {
		return platform.TaskSet{}, notFound("target group", spec.TargetGroup)
	}
	ts := &taskSet{TaskSet: platform.TaskSet{
		ID:             fmt.Sprintf("ts-%d", p.bump("ts")),
		ExternalID:     spec.ExternalID,
		Status:         platform.TaskSetProvisioning,
		TargetGroup:    spec.TargetGroup,
		DesiredCount:   2,
		TaskDefinition: spec.TaskDefinition,
		Subnets:        spec.Subnets,
		SecurityGroups: spec.SecurityGroups,
		AssignPublicIP: spec.AssignPublicIP,
	}}
	p.Health[spec.TargetGroup] = []platform.TargetHealth{
		{ID: "pending-1", Port: spec.ContainerPort, State: platform.TargetInitial},
	}
	svc.taskSets = append(svc.taskSets, ts)
	return ts.TaskSet, nil
}

func (p *Platform) findTaskSet(cluster, name, id string) (*service, *taskSet, int) {
	svc, ok := p.services[key(cluster, name)]
	if !ok {
		return nil, nil, -1
	}
	for i, ts := range svc.taskSets {
		if ts.ID == id {
			return svc, ts, i
		}
	}
	return svc, nil, -1
}

func (p *Platform) DescribeTaskSet(ctx context.Context, cluster, name, id string) (platform.TaskSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeTaskSet, id); err != nil {
		return platform.TaskSet{}, err
	}
	_, ts, _ := p.findTaskSet(cluster, name, id)
	if ts == nil {
		return platform.TaskSet{}, notFound("task set", id)
	}
	ts.describes++
	if !ts.Steady && p.StabilizeAfter >= 0 && ts.describes >= p.StabilizeAfter {
		ts.Steady = true
		ts.RunningCount = ts.DesiredCount
		if ts.Status == platform.TaskSetProvisioning {
			ts.Status = platform.TaskSetActive
		}
		p.Health[ts.TargetGroup] = healthyTargets(ts.TargetGroup, int(ts.DesiredCount))
	}
	return ts.TaskSet, nil
}

func (p *Platform) UpdatePrimaryTaskSet(ctx context.Context, cluster, name, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpUpdatePrimaryTaskSet, id); err != nil {
		return err
	}
	svc, ts, _ := p.findTaskSet(cluster, name, id)
	if ts == nil {
		return notFound("task set", id)
	}
	for _, other := range svc.taskSets {
		if other.Status == platform.TaskSetPrimary {
			other.Status = platform.TaskSetActive
		}
	}
	ts.Status = platform.TaskSetPrimary
	return nil
}

func (p *Platform) DeleteTaskSet(ctx context.Context, cluster, name, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDeleteTaskSet, id); err != nil {
		return err
	}
	svc, ts, i := p.findTaskSet(cluster, name, id)
	if ts == nil {
		return notFound("task set", id)
	}
	if ts.Status == platform.TaskSetPrimary {
		return fmt.Errorf("task set %q is the primary task set and cannot be deleted", id)
	}
	svc.taskSets = append(svc.taskSets[:i], svc.taskSets[i+1:]...)
	return nil
}

func (p *Platform) DescribeListener(ctx context.Context, arn string) (platform.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeListener, arn); err != nil {
		return platform.Listener{}, err
	}
	l, ok := p.Listeners[arn]
	if !ok {
		return platform.Listener{}, notFound("listener", arn)
	}
	return l, nil
}

func (p *Platform) DescribeRule(ctx context.Context, arn string) (platform.Rule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeRule, arn); err != nil {
		return platform.Rule{}, err
	}
	r, ok := p.Rules[arn]
	if !ok {
		return platform.Rule{}, notFound("rule", arn)
	}
	return r, nil
}

func (p *Platform) ModifyRule(ctx context.Context, arn string, target deploy.RuleTarget) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpModifyRule, arn); err != nil {
		return err
	}
	r, ok := p.Rules[arn]
	if !ok {
		return notFound("rule", arn)
	}
	if target.TargetGroup != "" {
		if _, ok := p.TargetGroups[target.TargetGroup]; !ok {
			return notFound("target group", target.TargetGroup)
		}
	}
	r.Target = target
	p.Rules[arn] = r
	return nil
}

func (p *Platform) CreateTargetGroup(ctx context.Context, spec platform.TargetGroupSpec) (platform.TargetGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpCreateTargetGroup, spec.Name); err != nil {
		return platform.TargetGroup{}, err
	}
	for _, tg := range p.TargetGroups {
		if tg.Name == spec.Name {
			return tg, nil
		}
	}
	tg := platform.TargetGroup{
		ARN:         fmt.Sprintf("tg-%d", p.bump("tg")),
		Name:        spec.Name,
		VPC:         spec.VPC,
		Port:        spec.Port,
		HealthCheck: spec.HealthCheck,
	}
	p.TargetGroups[tg.ARN] = tg
	p.Health[tg.ARN] = nil
	return tg, nil
}

func (p *Platform) DescribeTargetGroup(ctx context.Context, arn string) (platform.TargetGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeTargetGroup, arn); err != nil {
		return platform.TargetGroup{}, err
	}
	tg, ok := p.TargetGroups[arn]
	if !ok {
		return platform.TargetGroup{}, notFound("target group", arn)
	}
	return tg, nil
}

func (p *Platform) TargetGroupByName(ctx context.Context, name string) (platform.TargetGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpTargetGroupByName, name); err != nil {
		return platform.TargetGroup{}, err
	}
	for _, tg := range p.TargetGroups {
		if tg.Name == name {
			return tg, nil
		}
	}
	return platform.TargetGroup{}, notFound("target group", name)
}

func (p *Platform) DescribeTargetHealth(ctx context.Context, arn string) ([]platform.TargetHealth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDescribeTargetHealth, arn); err != nil {
		return nil, err
	}
	if _, ok := p.TargetGroups[arn]; !ok {
		return nil, notFound("target group", arn)
	}
	return append([]platform.TargetHealth(nil), p.Health[arn]...), nil
}

func (p *Platform) DeleteTargetGroup(ctx context.Context, arn string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(OpDeleteTargetGroup, arn); err != nil {
		return err
	}
	if _, ok := p.TargetGroups[arn]; !ok {
		return notFound("target group", arn)
	}
	var users []string
	for ruleARN, r := range p.Rules {
		if r.Target.TargetGroup == arn {
			users = append(users, ruleARN)
		}
	}
	if len(users) > 0 {
		return fmt.Errorf("target group %q is used by %s: %w", arn, strings.Join(users, ", "), platform.ErrInUse)
	}
	delete(p.TargetGroups, arn)
	delete(p.Health, arn)
	return nil
}
