package main

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/artifact"
)

type startOpts struct {
	*rootOpts
	file        string
	wait        bool
	waitTimeout time.Duration
}

func newStart(parent *rootOpts) *startOpts {
	return &startOpts{rootOpts: parent}
}

func (opts *startOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a deployment run from a topology file.",
		Example: makeExample(
			"bluegreenctl start -f topology.yaml",
			"bluegreenctl start -f topology.yaml --wait",
			"generate-topology | bluegreenctl start -f -",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "topology file (YAML or JSON), or - for stdin")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "wait until green is ready (or the run fails)")
	cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 20*time.Minute, "how long to --wait")
	return cmd
}

func (opts *startOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.file == "" {
		return newUsageError("please supply a topology with -f")
	}

	var (
		b   []byte
		err error
	)
	if opts.file == artifact.Stdio {
		b, err = ioutil.ReadAll(cmd.InOrStdin())
	} else {
		b, err = ioutil.ReadFile(opts.file)
	}
	if err != nil {
		return err
	}
	topo, err := artifact.ParseTopology(b)
	if err != nil {
		return err
	}

	ctx, cancel := opts.context()
	defer cancel()
	id, err := opts.API.StartRun(ctx, topo)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)

	if opts.wait {
		return waitAndReport(cmd, opts.API, id, opts.waitTimeout)
	}
	return nil
}
