package stage

import (
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
)

// Where the test rule points once the swap is done.
const (
	TestRoutePlaceholder = "placeholder"
	TestRouteGreen       = "green"
)

// Config tunes the stages. Zero values are replaced by the defaults
// below.
type Config struct {
	PollInterval     time.Duration `mapstructure:"pollInterval"`
	MaxPollInterval  time.Duration `mapstructure:"maxPollInterval"`
	StabilizeTimeout time.Duration `mapstructure:"stabilizeTimeout"`
	VerifyTimeout    time.Duration `mapstructure:"verifyTimeout"`
	// ReclaimTimeout bounds how long a delete waits for a target
	// group to stop being in use.
	ReclaimTimeout time.Duration `mapstructure:"reclaimTimeout"`

	Placement platform.Placement `mapstructure:"placement"`

	TargetGroupPattern  string `mapstructure:"targetGroupPattern"`
	TargetGroupProtocol string `mapstructure:"targetGroupProtocol"`

	TestRouteAfterSwap string               `mapstructure:"testRouteAfterSwap"`
	Placeholder        deploy.FixedResponse `mapstructure:"placeholder"`
}

var DefaultConfig = Config{
	PollInterval:        10 * time.Second,
	MaxPollInterval:     30 * time.Second,
	StabilizeTimeout:    10 * time.Minute,
	VerifyTimeout:       2 * time.Minute,
	ReclaimTimeout:      5 * time.Minute,
	TargetGroupPattern:  "tg-*",
	TargetGroupProtocol: "HTTP",
	TestRouteAfterSwap:  TestRoutePlaceholder,
	Placeholder: deploy.FixedResponse{
		StatusCode:  "503",
		ContentType: "text/plain",
		MessageBody: "dummy response : please deploy workload",
	},
	Placement: platform.Placement{
		ScalePercent: 100,
	},
}

// DefaultCapacityProviders is used when neither a launch type nor a
// capacity provider strategy is configured.
var DefaultCapacityProviders = []platform.CapacityProvider{
	{Name: "FARGATE_SPOT", Base: 0, Weight: 100},
}

// WithDefaults fills in zero fields.
func (c Config) WithDefaults() Config {
	if err := mergo.Merge(&c, DefaultConfig); err != nil {
		// Only possible with mismatched types, which can't happen here.
		panic(err)
	}
	if c.Placement.LaunchType == "" && len(c.Placement.CapacityProvider) == 0 {
		c.Placement.CapacityProvider = append([]platform.CapacityProvider(nil), DefaultCapacityProviders...)
	}
	return c
}

// Validate checks a defaulted config.
func (c Config) Validate() error {
	switch c.TestRouteAfterSwap {
	case TestRoutePlaceholder, TestRouteGreen:
	default:
		return errors.Errorf("test route after swap must be %q or %q, got %q", TestRoutePlaceholder, TestRouteGreen, c.TestRouteAfterSwap)
	}
	if c.Placement.LaunchType != "" && len(c.Placement.CapacityProvider) > 0 {
		return errors.New("launch type and capacity providers are mutually exclusive")
	}
	if c.Placement.ScalePercent <= 0 || c.Placement.ScalePercent > 100 {
		return errors.Errorf("scale percent must be in (0, 100], got %v", c.Placement.ScalePercent)
	}
	if c.PollInterval <= 0 || c.StabilizeTimeout <= 0 || c.VerifyTimeout <= 0 || c.ReclaimTimeout <= 0 {
		return errors.New("poll interval and timeouts must be positive")
	}
	if c.Placeholder.StatusCode == "" {
		return errors.New("placeholder response needs a status code")
	}
	return nil
}
