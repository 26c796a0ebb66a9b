package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

type statusOpts struct {
	*rootOpts
	outputFormat string
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status <run>",
		Short:   "Show where a run is, and whether it is waiting for approval.",
		Example: makeExample("bluegreenctl status 0f8fad5b-d9cb-469f-a165-70867728950e"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format (tab, json or yaml)")
	return cmd
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	if !outputFormatIsValid(opts.outputFormat, true) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()
	status, err := opts.API.RunStatus(ctx, deploy.RunID(args[0]))
	if err != nil {
		return err
	}

	if opts.outputFormat != outputFormatTab {
		return printStructured(cmd.OutOrStdout(), opts.outputFormat, status)
	}
	printStatuses(cmd.OutOrStdout(), []deploy.RunStatus{status})
	if status.Failure != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\nFailed in %s at %s: %s\n", status.Failure.Stage, status.Failure.Phase, status.Failure.Reason)
	}
	return nil
}

func printStatuses(out io.Writer, statuses []deploy.RunStatus) {
	w := newTabwriter(out)
	fmt.Fprintf(w, "RUN\tSERVICE\tPHASE\tSTATUS\tGATE\tUPDATED\n")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%s\n", s.ID, s.Cluster, s.Service, s.Phase, s.Status, s.PendingGate, formatTime(s.UpdatedAt))
	}
	w.Flush()
}
