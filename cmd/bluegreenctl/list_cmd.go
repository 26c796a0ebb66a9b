package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
)

type listOpts struct {
	*rootOpts
	cluster      string
	service      string
	active       bool
	limit        int
	outputFormat string
}

func newList(parent *rootOpts) *listOpts {
	return &listOpts{rootOpts: parent}
}

func (opts *listOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, most recent first.",
		Example: makeExample(
			"bluegreenctl list --active",
			"bluegreenctl list --cluster=prod --service=web --limit=5",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.cluster, "cluster", "c", "", "only runs for services in this cluster")
	cmd.Flags().StringVarP(&opts.service, "service", "s", "", "only runs for this service")
	cmd.Flags().BoolVarP(&opts.active, "active", "a", false, "only runs still holding their service")
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 0, "list at most this many runs (0 for all)")
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTab, "output format (tab, json or yaml)")
	return cmd
}

func (opts *listOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if !outputFormatIsValid(opts.outputFormat, true) {
		return errorInvalidOutputFormat
	}
	if opts.limit < 0 {
		return newUsageError("--limit must not be negative")
	}

	ctx, cancel := opts.context()
	defer cancel()
	statuses, err := opts.API.ListRuns(ctx, api.ListRunsOptions{
		Cluster: opts.cluster,
		Service: opts.service,
		Active:  opts.active,
		Limit:   opts.limit,
	})
	if err != nil {
		return err
	}

	if opts.outputFormat != outputFormatTab {
		return printStructured(cmd.OutOrStdout(), opts.outputFormat, statuses)
	}
	printStatuses(cmd.OutOrStdout(), statuses)
	return nil
}
