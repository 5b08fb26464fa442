package temporal

import (
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// IntegrityWorkflowID is the fixed id of the scheduled check, so that
// starting the schedule twice attaches to the running cron.
const IntegrityWorkflowID = "vectordb-integrity-check"

// ErrTypeIntegrityViolation is the application error type returned when
// FailOnViolation is set and the stores disagree.
const ErrTypeIntegrityViolation = "IntegrityViolation"

// IntegrityInput holds the workflow parameters.
type IntegrityInput struct {
	// FailOnViolation fails the run when any collection is inconsistent,
	// so the violation shows up as a failed execution.
	FailOnViolation bool
}

// IntegrityOutput summarises one consistency check.
type IntegrityOutput struct {
	OK         bool
	Checked    int
	Violations []string
	CheckedAt  time.Time
}

// IntegrityWorkflow runs one consistency check between the metadata store
// and the index store. It never repairs anything.
func IntegrityWorkflow(ctx workflow.Context, input IntegrityInput) (*IntegrityOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var a *Activities
	var out IntegrityOutput
	if err := workflow.ExecuteActivity(ctx, a.CheckIntegrity, input).Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("check integrity: %w", err)
	}

	if !out.OK {
		logger.Warn("stores disagree", "violations", out.Violations)
		if input.FailOnViolation {
			return &out, sdktemporal.NewNonRetryableApplicationError(
				fmt.Sprintf("%d of %d collections inconsistent", len(out.Violations), out.Checked),
				ErrTypeIntegrityViolation, nil, out.Violations)
		}
	}
	return &out, nil
}
