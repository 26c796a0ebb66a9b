package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
	transport "github.com/fluxcd/ecs-bluegreen/pkg/http"
	"github.com/fluxcd/ecs-bluegreen/pkg/http/client"
)

type rootOpts struct {
	URL     string
	Token   string
	Timeout time.Duration
	API     api.Server
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

const (
	EnvVariableURL   = "BLUEGREEN_URL"
	EnvVariableToken = "BLUEGREEN_TOKEN"

	defaultURL = "http://localhost:3031"
)

var rootLongHelp = strings.TrimSpace(`
bluegreenctl drives blue/green deployments of ECS services.

Against a bluegreend daemon:
  bluegreenctl start -f topology.yaml           # Provision green; prints the run ID
  bluegreenctl status <run>                      # Where is the run? Is it waiting at a gate?
  bluegreenctl approve <run> --gate=swap         # Send production traffic to green
  bluegreenctl approve <run> --gate=reclaim      # Delete the old (blue) environment
  bluegreenctl reject <run> --gate=swap          # Stop here; green is left in place
  bluegreenctl discard <run>                     # Tear down green after a rejection or failure

As one step of a pipeline, passing run artifacts between steps:
  bluegreenctl resolve --in topology.yaml --out s3://bucket/run/resolved.json
  bluegreenctl provision --in s3://bucket/run/resolved.json --out s3://bucket/run/ready.json
  bluegreenctl swap --in s3://bucket/run/ready.json --out s3://bucket/run/swapped.json
  bluegreenctl reclaim --in s3://bucket/run/swapped.json --out s3://bucket/run/done.json
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "bluegreenctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}

	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "",
		fmt.Sprintf("base URL of the bluegreend API server; you can also set the environment variable %s (default %q)", EnvVariableURL, defaultURL))
	cmd.PersistentFlags().StringVarP(&opts.Token, "token", "t", "",
		fmt.Sprintf("API token for bluegreend; you can also set the environment variable %s", EnvVariableToken))
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 60*time.Second,
		"global command timeout; you can also set the environment variable BLUEGREEN_TIMEOUT")

	cmd.AddCommand(
		newVersion(opts).Command(),
		newStart(opts).Command(),
		newStatus(opts).Command(),
		newList(opts).Command(),
		newGet(opts).Command(),
		newEvents(opts).Command(),
		newDecide(opts, decideApprove).Command(),
		newDecide(opts, decideReject).Command(),
		newRetry(opts).Command(),
		newDiscard(opts).Command(),
	)
	cmd.AddCommand(newStageCommands()...)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	// Environment variables only fill in what wasn't given as a flag.
	setFromEnvIfNotSet(cmd.Flags(), "url", EnvVariableURL)
	setFromEnvIfNotSet(cmd.Flags(), "token", EnvVariableToken)
	setFromEnvIfNotSet(cmd.Flags(), "timeout", "BLUEGREEN_TIMEOUT")

	if opts.URL == "" {
		opts.URL = defaultURL
	}
	if _, err := transport.MakeURL(opts.URL, transport.NewAPIRouter(), transport.Ping); err != nil {
		return newUsageError(fmt.Sprintf("invalid --url %q: %s", opts.URL, err))
	}
	opts.API = client.New(http.DefaultClient, transport.NewAPIRouter(), opts.URL, client.Token(opts.Token))
	return nil
}

// context bounds an API call by --timeout.
func (opts *rootOpts) context() (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), opts.Timeout)
}

func setFromEnvIfNotSet(flags *pflag.FlagSet, flagName string, envName string) {
	if flags.Changed(flagName) {
		return
	}
	if env := os.Getenv(envName); env != "" {
		flags.Set(flagName, env)
	}
}
