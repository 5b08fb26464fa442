package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker creates and starts a Temporal worker serving the integrity
// workflow and its activity.
func StartWorker(c client.Client, taskQueue string, acts *Activities) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(IntegrityWorkflow)
	w.RegisterActivity(acts)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	return w, nil
}

// ScheduleIntegrityCheck starts the integrity workflow on a cron schedule.
// If the schedule is already running the existing run is returned.
func ScheduleIntegrityCheck(ctx context.Context, c client.Client, taskQueue, cron string) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:           IntegrityWorkflowID,
		TaskQueue:    taskQueue,
		CronSchedule: cron,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, IntegrityWorkflow, IntegrityInput{})
	if err != nil {
		return nil, fmt.Errorf("schedule integrity check: %w", err)
	}
	return run, nil
}

// RunIntegrityCheck starts one unscheduled check and waits for its result.
func RunIntegrityCheck(ctx context.Context, c client.Client, taskQueue string, input IntegrityInput) (*IntegrityOutput, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{TaskQueue: taskQueue}, IntegrityWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start integrity check: %w", err)
	}
	var out IntegrityOutput
	if err := run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
