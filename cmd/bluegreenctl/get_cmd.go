package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

type getOpts struct {
	*rootOpts
	outputFormat string
}

func newGet(parent *rootOpts) *getOpts {
	return &getOpts{rootOpts: parent}
}

func (opts *getOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <run>",
		Short: "Output a run in full, as the run artifact.",
		Example: makeExample(
			"bluegreenctl get 0f8fad5b-d9cb-469f-a165-70867728950e",
			"bluegreenctl get 0f8fad5b-d9cb-469f-a165-70867728950e -o yaml",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatJSON, "output format (json or yaml)")
	return cmd
}

func (opts *getOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	if !outputFormatIsValid(opts.outputFormat, false) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()
	run, err := opts.API.GetRun(ctx, deploy.RunID(args[0]))
	if err != nil {
		return err
	}
	return printStructured(cmd.OutOrStdout(), opts.outputFormat, run)
}
