package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

type retryOpts struct {
	*rootOpts
	wait        bool
	waitTimeout time.Duration
}

func newRetry(parent *rootOpts) *retryOpts {
	return &retryOpts{rootOpts: parent}
}

func (opts *retryOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "retry <run>",
		Short:   "Run the stage a failed run stopped in again, or reclaim after a rejection at the reclaim gate.",
		Example: makeExample("bluegreenctl retry 0f8fad5b-d9cb-469f-a165-70867728950e --wait"),
		RunE:    opts.RunE,
	}
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "wait until the run reaches the next gate (or finishes, or fails again)")
	cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 20*time.Minute, "how long to --wait")
	return cmd
}

func (opts *retryOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	id := deploy.RunID(args[0])
	ctx, cancel := opts.context()
	defer cancel()
	if err := opts.API.Retry(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Retry of run %s queued\n", id)

	if opts.wait {
		return waitAndReport(cmd, opts.API, id, opts.waitTimeout)
	}
	return nil
}
