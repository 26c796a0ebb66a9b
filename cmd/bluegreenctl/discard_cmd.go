package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

type discardOpts struct {
	*rootOpts
}

func newDiscard(parent *rootOpts) *discardOpts {
	return &discardOpts{rootOpts: parent}
}

func (opts *discardOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <run>",
		Short: "Tear down the green environment of a rejected or failed run that never took production traffic.",
		Example: makeExample(
			"bluegreenctl reject 0f8fad5b-d9cb-469f-a165-70867728950e --gate=swap",
			"bluegreenctl discard 0f8fad5b-d9cb-469f-a165-70867728950e",
		),
		RunE: opts.RunE,
	}
}

func (opts *discardOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	id := deploy.RunID(args[0])
	ctx, cancel := opts.context()
	defer cancel()
	if err := opts.API.Discard(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Discard of run %s queued; see `bluegreenctl status %s`\n", id, id)
	return nil
}
