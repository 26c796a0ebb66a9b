// config is the package containing configuration for bluegreend,
// shared so that bluegreenctl's pipeline-mode commands tune the
// stages the same way the daemon does.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
	"github.com/fluxcd/ecs-bluegreen/pkg/stage"
)

const (
	ConfigPath    = "/etc/bluegreend"
	ConfigName    = "bluegreend.yaml"
	ConfigType    = "yaml"
	ConfigVersion = "v1"

	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). If it is not equal to ConfigVersion
	// above, the file is considered an invalid configuration.
	ConfigVersion string `mapstructure:"bluegreenConfigVersion"`

	LogFormat     string `mapstructure:"logFormat"`
	Listen        string `mapstructure:"listen"`
	ListenMetrics string `mapstructure:"listenMetrics"`
	// Token, if set, must be presented by API clients as a bearer
	// token.
	Token string `mapstructure:"token"`

	Store     string `mapstructure:"store"`
	StorePath string `mapstructure:"storePath"`

	AWSRegion  string  `mapstructure:"awsRegion"`
	AWSProfile string  `mapstructure:"awsProfile"`
	AWSRPS     float64 `mapstructure:"awsRps"`
	AWSBurst   int     `mapstructure:"awsBurst"`

	PollInterval     time.Duration `mapstructure:"pollInterval"`
	MaxPollInterval  time.Duration `mapstructure:"maxPollInterval"`
	StabilizeTimeout time.Duration `mapstructure:"stabilizeTimeout"`
	VerifyTimeout    time.Duration `mapstructure:"verifyTimeout"`
	ReclaimTimeout   time.Duration `mapstructure:"reclaimTimeout"`

	TargetGroupPattern  string `mapstructure:"targetGroupPattern"`
	TargetGroupProtocol string `mapstructure:"targetGroupProtocol"`
	TestRouteAfterSwap  string `mapstructure:"testRouteAfterSwap"`

	ScalePercent      float64  `mapstructure:"scalePercent"`
	LaunchType        string   `mapstructure:"launchType"`
	PlatformVersion   string   `mapstructure:"platformVersion"`
	CapacityProviders []string `mapstructure:"capacityProviders"`
}

// IsValid checks a config read from a file.
func (c Config) IsValid() error {
	if c.ConfigVersion != ConfigVersion {
		return fmt.Errorf("config file is expected to include `bluegreenConfigVersion: %s` to mark it as a bluegreend config", ConfigVersion)
	}
	return nil
}

// Stage returns the stage tuning, defaulted and validated.
func (c Config) Stage() (stage.Config, error) {
	sc := stage.Config{
		PollInterval:        c.PollInterval,
		MaxPollInterval:     c.MaxPollInterval,
		StabilizeTimeout:    c.StabilizeTimeout,
		VerifyTimeout:       c.VerifyTimeout,
		ReclaimTimeout:      c.ReclaimTimeout,
		TargetGroupPattern:  c.TargetGroupPattern,
		TargetGroupProtocol: c.TargetGroupProtocol,
		TestRouteAfterSwap:  c.TestRouteAfterSwap,
		Placement: platform.Placement{
			ScalePercent:    c.ScalePercent,
			LaunchType:      c.LaunchType,
			PlatformVersion: c.PlatformVersion,
		},
	}
	for _, s := range c.CapacityProviders {
		cp, err := ParseCapacityProvider(s)
		if err != nil {
			return sc, err
		}
		sc.Placement.CapacityProvider = append(sc.Placement.CapacityProvider, cp)
	}
	sc = sc.WithDefaults()
	return sc, sc.Validate()
}

// ParseCapacityProvider reads NAME:WEIGHT or NAME:WEIGHT:BASE.
func ParseCapacityProvider(s string) (platform.CapacityProvider, error) {
	var cp platform.CapacityProvider
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return cp, errors.Errorf("capacity provider %q is not NAME:WEIGHT[:BASE]", s)
	}
	cp.Name = parts[0]
	weight, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || weight < 0 {
		return cp, errors.Errorf("capacity provider %q has an invalid weight", s)
	}
	cp.Weight = weight
	if len(parts) == 3 {
		base, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || base < 0 {
			return cp, errors.Errorf("capacity provider %q has an invalid base", s)
		}
		cp.Base = base
	}
	return cp, nil
}
