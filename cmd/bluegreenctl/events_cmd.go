package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

type eventsOpts struct {
	*rootOpts
	outputFormat string
}

func newEvents(parent *rootOpts) *eventsOpts {
	return &eventsOpts{rootOpts: parent}
}

func (opts *eventsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "events <run>",
		Short:   "Show the history of a run: phases, approvals and failures.",
		Example: makeExample("bluegreenctl events 0f8fad5b-d9cb-469f-a165-70867728950e"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format (tab, json or yaml)")
	return cmd
}

func (opts *eventsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	if !outputFormatIsValid(opts.outputFormat, true) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()
	events, err := opts.API.RunEvents(ctx, deploy.RunID(args[0]))
	if err != nil {
		return err
	}

	if opts.outputFormat != outputFormatTab {
		return printStructured(cmd.OutOrStdout(), opts.outputFormat, events)
	}
	w := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n", formatTime(e.StartedAt), e.Type, e.String())
	}
	w.Flush()
	return nil
}
