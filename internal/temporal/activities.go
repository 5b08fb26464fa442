package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/efebarandurmaz/vectordb/internal/integrity"
	"github.com/efebarandurmaz/vectordb/internal/observability"
)

// Activities holds the resources the activities need. Register a populated
// value with the worker; the methods become the activity implementations.
type Activities struct {
	Checker *integrity.Checker
	Audit   *observability.AuditLogger
}

// CheckIntegrity runs one consistency check.
func (a *Activities) CheckIntegrity(ctx context.Context, _ IntegrityInput) (IntegrityOutput, error) {
	info := activity.GetInfo(ctx)
	start := time.Now()
	workflowType := "IntegrityWorkflow"
	if info.WorkflowType != nil {
		workflowType = info.WorkflowType.Name
	}
	a.Audit.LogWorkflowStart(info.WorkflowExecution.ID, workflowType)

	report, err := a.Checker.Check(ctx)
	if err != nil {
		a.Audit.LogWorkflowEnd(info.WorkflowExecution.ID, false, time.Since(start))
		return IntegrityOutput{}, err
	}

	a.Audit.LogWorkflowEnd(info.WorkflowExecution.ID, report.OK, time.Since(start))
	return IntegrityOutput{
		OK:         report.OK,
		Checked:    len(report.Collections),
		Violations: report.Violations(),
		CheckedAt:  report.CheckedAt,
	}, nil
}
