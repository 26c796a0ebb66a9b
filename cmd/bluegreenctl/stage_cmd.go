package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/artifact"
	"github.com/fluxcd/ecs-bluegreen/pkg/config"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
	"github.com/fluxcd/ecs-bluegreen/pkg/platform"
	awsplatform "github.com/fluxcd/ecs-bluegreen/pkg/platform/aws"
	"github.com/fluxcd/ecs-bluegreen/pkg/stage"
)

// stageOpts runs a single stage against the platform directly, with
// no daemon: the input artifact is the previous stage's output, and
// the output artifact is the next stage's input.
type stageOpts struct {
	stage deploy.Stage
	in    string
	out   string
	runID string

	logFormat  string
	awsRegion  string
	awsProfile string
	awsRPS     float64
	awsBurst   int
	cfg        config.Config

	// Set in tests; otherwise built from the AWS flags.
	platform platform.Platform
	files    *artifact.Files
	clock    clockwork.Clock
}

var stageHelp = map[deploy.Stage]struct {
	short, in, out string
}{
	deploy.StageResolve: {
		short: "Look up a topology's identities and write the run artifact the other stages work from.",
		in:    "topology (YAML or JSON)",
		out:   "run, in phase RESOLVED",
	},
	deploy.StageProvision: {
		short: "Create the green target group and task set, and point the test listener at green.",
		in:    "run from resolve (or a failed provision)",
		out:   "run, in phase READY",
	},
	deploy.StageSwap: {
		short: "Point production traffic at green, and make green the primary task set.",
		in:    "run from provision (or a failed swap)",
		out:   "run, in phase SWAPPED",
	},
	deploy.StageReclaim: {
		short: "Delete the old (blue) task set and target group.",
		in:    "run from swap (or a failed reclaim)",
		out:   "run, in phase RECLAIMED",
	},
}

func newStageCommands() []*cobra.Command {
	var cmds []*cobra.Command
	for _, s := range []deploy.Stage{deploy.StageResolve, deploy.StageProvision, deploy.StageSwap, deploy.StageReclaim} {
		cmds = append(cmds, newStage(s).Command())
	}
	return cmds
}

func newStage(s deploy.Stage) *stageOpts {
	return &stageOpts{stage: s}
}

func (opts *stageOpts) Command() *cobra.Command {
	help := stageHelp[opts.stage]
	cmd := &cobra.Command{
		Use:   string(opts.stage),
		Short: help.short,
		Long: strings.TrimSpace(fmt.Sprintf(`
%s

Reads: %s
Writes: %s

Locations are local paths, s3://bucket/key, or - for stdin/stdout. If the
stage fails, the run is still written, recording the failure; running the
same stage again with that as input picks up where it stopped. The exit
code is non-zero whenever the stage did not complete.`, help.short, help.in, help.out)),
		Example: makeExample(
			fmt.Sprintf("bluegreenctl %s --in in.json --out out.json", opts.stage),
		),
		RunE: opts.RunE,
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.in, "in", "i", artifact.Stdio, "location of the input artifact")
	fs.StringVarP(&opts.out, "out", "o", artifact.Stdio, "location to write the output artifact")
	if opts.stage == deploy.StageResolve {
		fs.StringVar(&opts.runID, "run-id", "", "ID for the new run; a random one is generated if not given")
	}

	fs.StringVar(&opts.logFormat, "log-format", "fmt", "change the log format (fmt or json)")
	fs.StringVar(&opts.awsRegion, "aws-region", "", "AWS region; defaults to the environment's")
	fs.StringVar(&opts.awsProfile, "aws-profile", "", "shared config profile to use for AWS credentials")
	fs.Float64Var(&opts.awsRPS, "aws-rps", 10, "maximum AWS API requests per second, per API")
	fs.IntVar(&opts.awsBurst, "aws-burst", 20, "maximum burst of AWS API requests, per API")

	def := stage.DefaultConfig
	switch opts.stage {
	case deploy.StageProvision:
		fs.DurationVar(&opts.cfg.StabilizeTimeout, "stabilize-timeout", def.StabilizeTimeout, "how long the green task set has to become healthy")
		fs.StringVar(&opts.cfg.TargetGroupPattern, "target-group-pattern", def.TargetGroupPattern, "glob that the green target group's name must match")
		fs.StringVar(&opts.cfg.TargetGroupProtocol, "target-group-protocol", def.TargetGroupProtocol, "protocol of the green target group")
		fs.Float64Var(&opts.cfg.ScalePercent, "scale-percent", def.Placement.ScalePercent, "size of the green task set, as a percentage of the service's desired count")
		fs.StringVar(&opts.cfg.LaunchType, "launch-type", "", "launch type of the green task set (e.g., FARGATE); overrides --capacity-provider")
		fs.StringVar(&opts.cfg.PlatformVersion, "platform-version", "", "Fargate platform version of the green task set")
		fs.StringSliceVar(&opts.cfg.CapacityProviders, "capacity-provider", nil, "capacity provider strategy entries, as NAME:WEIGHT[:BASE]; the default is FARGATE_SPOT:100")
	case deploy.StageSwap:
		fs.DurationVar(&opts.cfg.VerifyTimeout, "verify-timeout", def.VerifyTimeout, "how long green has to pass the health re-check before traffic moves")
		fs.StringVar(&opts.cfg.TestRouteAfterSwap, "test-route-after-swap", def.TestRouteAfterSwap, fmt.Sprintf("where the test rule points once the swap is done (%s or %s)", stage.TestRoutePlaceholder, stage.TestRouteGreen))
	case deploy.StageReclaim:
		fs.DurationVar(&opts.cfg.ReclaimTimeout, "reclaim-timeout", def.ReclaimTimeout, "how long to wait for the blue target group to stop being in use")
		fs.StringVar(&opts.cfg.TargetGroupPattern, "target-group-pattern", def.TargetGroupPattern, "glob that a target group's name must match for it to be deleted")
	}
	if opts.stage != deploy.StageResolve {
		fs.DurationVar(&opts.cfg.PollInterval, "poll-interval", def.PollInterval, "period at which to poll task set and target health")
	}
	return cmd
}

func (opts *stageOpts) logger(out io.Writer) (log.Logger, error) {
	var logger log.Logger
	switch opts.logFormat {
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(out))
	case "fmt":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(out))
	default:
		return nil, newUsageError(fmt.Sprintf("unsupported log format %q", opts.logFormat))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return log.With(logger, "stage", opts.stage), nil
}

// connect fills in whatever a test hasn't: the platform, and the S3
// client for artifacts, from one AWS session.
func (opts *stageOpts) connect(cmd *cobra.Command, logger log.Logger) error {
	if opts.files == nil {
		opts.files = &artifact.Files{Stdin: cmd.InOrStdin(), Stdout: cmd.OutOrStdout()}
	}
	if opts.clock == nil {
		opts.clock = clockwork.NewRealClock()
	}
	if opts.platform != nil {
		return nil
	}
	sess, err := awsplatform.NewSession(awsplatform.Config{
		Region:  opts.awsRegion,
		Profile: opts.awsProfile,
	})
	if err != nil {
		return err
	}
	if opts.files.S3 == nil {
		opts.files.S3 = s3.New(sess)
	}
	throttle := awsplatform.NewThrottle(opts.awsRPS, opts.awsBurst, opts.clock, logger)
	opts.platform = awsplatform.New(sess, throttle, logger)
	return nil
}

func (opts *stageOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	logger, err := opts.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	sc, err := opts.cfg.Stage()
	if err != nil {
		return newUsageError(err.Error())
	}
	if err := opts.connect(cmd, logger); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)
		select {
		case sig := <-c:
			logger.Log("signal", sig, "info", "stopping; the output artifact records how far the stage got")
			cancel()
		case <-ctx.Done():
		}
	}()

	env := stage.Env{
		Platform: opts.platform,
		Config:   sc,
		Clock:    opts.clock,
		Logger:   logger,
	}
	// Checkpoints go to the output location as the stage goes, unless
	// that is stdout, which can only be written once.
	if opts.out != artifact.Stdio {
		env.Checkpoint = func(ctx context.Context, run deploy.Run) error {
			return opts.write(ctx, run)
		}
	}

	in, err := opts.files.Read(ctx, opts.in)
	if err != nil {
		return errors.Wrap(err, "reading input artifact")
	}

	var run deploy.Run
	var stageErr error
	switch opts.stage {
	case deploy.StageResolve:
		topo, err := artifact.ParseTopology(in)
		if err != nil {
			return err
		}
		id := deploy.RunID(opts.runID)
		if id == "" {
			id = deploy.NewRunID()
		}
		// Nothing has been created, so there is no run to hand on.
		if run, err = stage.NewResolver(env).Run(ctx, id, topo); err != nil {
			return err
		}
	default:
		if run, err = artifact.DecodeRun(in); err != nil {
			return err
		}
		began := opts.clock.Now()
		run, stageErr = opts.step(env)(ctx, run)
		logger.Log("run", run.ID, "phase", run.Phase, "took", opts.clock.Since(began).Round(time.Millisecond))
	}

	// The stage's own context may be cancelled by now; the artifact
	// is still worth writing.
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer writeCancel()
	if err := opts.write(writeCtx, run); err != nil {
		if stageErr != nil {
			logger.Log("err", err)
			return stageErr
		}
		return err
	}
	return stageErr
}

func (opts *stageOpts) step(env stage.Env) func(context.Context, deploy.Run) (deploy.Run, error) {
	switch opts.stage {
	case deploy.StageProvision:
		return stage.NewProvisioner(env).Provision
	case deploy.StageSwap:
		return stage.NewSwapper(env).Swap
	case deploy.StageReclaim:
		return stage.NewReclaimer(env).Reclaim
	}
	panic("no step for stage " + opts.stage)
}

func (opts *stageOpts) write(ctx context.Context, run deploy.Run) error {
	b, err := artifact.EncodeRun(run)
	if err != nil {
		return err
	}
	return errors.Wrap(opts.files.Write(ctx, opts.out, b), "writing output artifact")
}
