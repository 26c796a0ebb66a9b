package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/ecs-bluegreen/pkg/api"
	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

var ErrTimeout = errors.New("timeout")

// awaitRun polls a run until it stops moving: it is parked at a gate,
// or finished one way or another.
func awaitRun(ctx context.Context, client api.Server, id deploy.RunID, timeout time.Duration) (deploy.RunStatus, error) {
	var status deploy.RunStatus
	err := backoff(ctx, time.Second, 2, 10, timeout, func() (bool, error) {
		var err error
		status, err = client.RunStatus(ctx, id)
		if err != nil {
			return false, err
		}
		return status.Status != deploy.StatusRunning, nil
	})
	return status, err
}

// backoff polls for f() to have been completed, with exponential backoff.
func backoff(ctx context.Context, initialDelay, factor, maxFactor, timeout time.Duration, f func() (bool, error)) error {
	maxDelay := initialDelay * maxFactor
	finish := time.Now().Add(timeout)
	for delay := initialDelay; time.Now().Before(finish); delay = min(delay*factor, maxDelay) {
		ok, err := f()
		if ok || err != nil {
			return err
		}
		// If we don't have time to try again, stop
		if time.Now().Add(delay).After(finish) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return ErrTimeout
}

func min(t1, t2 time.Duration) time.Duration {
	if t1 < t2 {
		return t1
	}
	return t2
}

// waitAndReport waits for the run to stop moving and says where it
// stopped. A run that failed is an error, so the exit code shows it.
func waitAndReport(cmd *cobra.Command, client api.Server, id deploy.RunID, timeout time.Duration) error {
	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "Waiting for run %s...\n", id)
	status, err := awaitRun(context.Background(), client, id, timeout)
	if err != nil {
		return err
	}
	switch status.Status {
	case deploy.StatusAwaitingApproval:
		fmt.Fprintf(stderr, "Run %s is %s, waiting for approval at the %s gate\n", id, status.Phase, status.PendingGate)
	case deploy.StatusFailed:
		if status.Failure != nil {
			return fmt.Errorf("run %s failed in %s: %s", id, status.Failure.Stage, status.Failure.Reason)
		}
		return fmt.Errorf("run %s failed", id)
	default:
		fmt.Fprintf(stderr, "Run %s is %s (%s)\n", id, status.Status, status.Phase)
	}
	return nil
}
