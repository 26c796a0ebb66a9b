package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at link time.
var version string

type versionOpts struct {
	*rootOpts
	server bool
}

func newVersion(parent *rootOpts) *versionOpts {
	return &versionOpts{rootOpts: parent}
}

func (opts *versionOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of bluegreenctl, and optionally of bluegreend.",
		Example: makeExample(
			"bluegreenctl version",
			"bluegreenctl version --server",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVarP(&opts.server, "server", "s", false, "also ask the daemon for its version")
	return cmd
}

func (opts *versionOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	client := version
	if client == "" {
		client = "unversioned"
	}
	if !opts.server {
		fmt.Fprintln(cmd.OutOrStdout(), client)
		return nil
	}

	ctx, cancel := opts.context()
	defer cancel()
	server, err := opts.API.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "bluegreenctl: %s\nbluegreend: %s\n", client, server)
	return nil
}
