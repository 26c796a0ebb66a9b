package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"

	"github.com/fluxcd/ecs-bluegreen/pkg/job"
	bgmetrics "github.com/fluxcd/ecs-bluegreen/pkg/metrics"
)

// Loop is the worker: it takes jobs off the queue one at a time until
// stop is closed. A job in progress when stop closes has its context
// cancelled; the stages leave the run where it was, to be resumed.
func (o *Orchestrator) Loop(stop <-chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case j := <-o.Jobs.Ready():
			queueLength.Set(float64(o.Jobs.Len()))
			o.runJob(ctx, j, logger)
		}
	}
}

func (o *Orchestrator) runJob(ctx context.Context, j *job.Job, logger log.Logger) error {
	jobLogger := log.With(logger, "jobID", j.ID)
	jobLogger.Log("state", "in-progress")
	started := o.clock().Now()
	err := j.Do(ctx, jobLogger)
	jobDuration.With(
		bgmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(o.clock().Since(started).Seconds())
	if err != nil {
		jobLogger.Log("state", "done", "success", "false", "err", err)
	} else {
		jobLogger.Log("state", "done", "success", "true")
	}
	return err
}
