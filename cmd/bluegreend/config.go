package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/ecs-bluegreen/pkg/config"
	"github.com/fluxcd/ecs-bluegreen/pkg/stage"
)

// defineConfigFlags defines the flags that can also be set in a
// config file, binding each to the config.Config field it sets.
// The binding goes through the field's mapstructure name, since
// that's the key viper will find in the file.
func defineConfigFlags(fs *pflag.FlagSet, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		field, ok := reflect.TypeOf(config.Config{}).FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		// Same rule as mapstructure: the tag names the key, the field
		// name is the fallback, and "-" means the field isn't read.
		mappedName := field.Name
		if namePart := strings.Split(field.Tag.Get("mapstructure"), ",")[0]; namePart != "" {
			if namePart == "-" {
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		return viper.BindPFlag(mappedName, fs.Lookup(flagName))
	}

	bindOrBail := func(fieldName, flagName string) {
		if err := bind(fieldName, flagName); err != nil {
			bail(err)
		}
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringP := func(fieldName, flagName, short, def, desc string) {
		fs.StringP(flagName, short, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	def := stage.DefaultConfig

	defineString("LogFormat", "log-format", "fmt", "change the log format (fmt or json).")
	defineStringP("Listen", "listen", "l", ":3031", "listen address where the API (and /metrics, unless --listen-metrics is given) will be served")
	defineString("ListenMetrics", "listen-metrics", "", "listen address for /metrics endpoint")
	defineString("Token", "token", "", "if set, API requests must carry this as a bearer token")

	// run store
	defineString("Store", "store", config.StoreSQLite, fmt.Sprintf("where runs are kept (one of {%s})", strings.Join([]string{config.StoreSQLite, config.StoreMemory}, ",")))
	defineString("StorePath", "store-path", "/var/lib/bluegreen/runs.db", "path of the SQLite database, when --store=sqlite")

	// AWS
	defineString("AWSRegion", "aws-region", "", "AWS region of the cluster and load balancer; defaults to the environment's")
	defineString("AWSProfile", "aws-profile", "", "shared config profile to use for AWS credentials")
	defineFloat64("AWSRPS", "aws-rps", 10, "maximum AWS API requests per second, per API")
	defineInt("AWSBurst", "aws-burst", 20, "maximum burst of AWS API requests, per API")

	// polling
	defineDuration("PollInterval", "poll-interval", def.PollInterval, "period at which to poll task set and target health")
	defineDuration("MaxPollInterval", "max-poll-interval", def.MaxPollInterval, "longest period between polls, as the interval backs off")
	defineDuration("StabilizeTimeout", "stabilize-timeout", def.StabilizeTimeout, "how long a new task set has to become healthy before provisioning fails")
	defineDuration("VerifyTimeout", "verify-timeout", def.VerifyTimeout, "how long green has to pass the health re-check before a swap")
	defineDuration("ReclaimTimeout", "reclaim-timeout", def.ReclaimTimeout, "how long to wait for a target group to stop being in use before deleting it")

	// green environment
	defineString("TargetGroupPattern", "target-group-pattern", def.TargetGroupPattern, "glob that the names of target groups created (and deleted) must match")
	defineString("TargetGroupProtocol", "target-group-protocol", def.TargetGroupProtocol, "protocol of green target groups")
	defineString("TestRouteAfterSwap", "test-route-after-swap", def.TestRouteAfterSwap, fmt.Sprintf("where the test rule points once a swap is done (one of {%s})", strings.Join([]string{stage.TestRoutePlaceholder, stage.TestRouteGreen}, ",")))
	defineFloat64("ScalePercent", "scale-percent", def.Placement.ScalePercent, "size of the green task set, as a percentage of the service's desired count")
	defineString("LaunchType", "launch-type", "", "launch type of green task sets (e.g., FARGATE); overrides --capacity-provider")
	defineString("PlatformVersion", "platform-version", "", "Fargate platform version of green task sets")
	defineStringSlice("CapacityProviders", "capacity-provider", nil, "capacity provider strategy entries for green task sets, as NAME:WEIGHT[:BASE]; the default is FARGATE_SPOT:100")
}
