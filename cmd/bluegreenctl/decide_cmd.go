package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

type decideKind struct {
	decision deploy.Decision
	use      string
	short    string
}

var (
	decideApprove = decideKind{
		decision: deploy.Approve,
		use:      "approve <run>",
		short:    "Let a run through the gate it is waiting at.",
	}
	decideReject = decideKind{
		decision: deploy.Reject,
		use:      "reject <run>",
		short:    "Stop a run at the gate it is waiting at. Green is left in place; see discard.",
	}
)

type decideOpts struct {
	*rootOpts
	kind        decideKind
	gate        string
	by          string
	comment     string
	wait        bool
	waitTimeout time.Duration
}

func newDecide(parent *rootOpts, kind decideKind) *decideOpts {
	return &decideOpts{rootOpts: parent, kind: kind}
}

func (opts *decideOpts) Command() *cobra.Command {
	verb := string(opts.kind.decision)
	cmd := &cobra.Command{
		Use:   opts.kind.use,
		Short: opts.kind.short,
		Example: makeExample(
			fmt.Sprintf("bluegreenctl %s 0f8fad5b-d9cb-469f-a165-70867728950e --gate=swap", verb),
			fmt.Sprintf("bluegreenctl %s 0f8fad5b-d9cb-469f-a165-70867728950e -m 'checked the test listener'", verb),
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.gate, "gate", "g", "", "the gate (swap or reclaim) this decision is for; defaults to the one the run is waiting at")
	cmd.Flags().StringVar(&opts.by, "user", "", "override the user reported as making the decision")
	cmd.Flags().StringVarP(&opts.comment, "message", "m", "", "attach a message to the decision")
	if opts.kind.decision == deploy.Approve {
		cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "wait until the run reaches the next gate (or finishes, or fails)")
		cmd.Flags().DurationVar(&opts.waitTimeout, "wait-timeout", 20*time.Minute, "how long to --wait")
	}
	return cmd
}

func (opts *decideOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	switch deploy.Gate(opts.gate) {
	case "", deploy.GateSwap, deploy.GateReclaim:
	default:
		return newUsageError(fmt.Sprintf("--gate must be %q or %q", deploy.GateSwap, deploy.GateReclaim))
	}

	by := opts.by
	if by == "" {
		by = os.Getenv("USER")
	}

	id := deploy.RunID(args[0])
	ctx, cancel := opts.context()
	defer cancel()
	if err := opts.API.Decide(ctx, id, deploy.Approval{
		Gate:     deploy.Gate(opts.gate),
		Decision: opts.kind.decision,
		By:       by,
		Comment:  opts.comment,
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Decision recorded: %s\n", opts.kind.decision)

	if opts.wait {
		return waitAndReport(cmd, opts.API, id, opts.waitTimeout)
	}
	return nil
}
