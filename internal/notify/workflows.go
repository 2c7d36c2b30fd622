package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

type WorkflowConfig struct {
	ProjectID         string
	Location          string
	PreviewWorkflowID string
	IndexWorkflowID   string
}

type createExecution func(ctx context.Context, req *executionspb.CreateExecutionRequest) (*executionspb.Execution, error)

// WorkflowNotifier starts one Cloud Workflows execution per notification.
// An empty workflow id disables that notification.
type WorkflowNotifier struct {
	create createExecution
	close  func() error
	config WorkflowConfig
	logger *slog.Logger
}

func NewWorkflowNotifier(client *executions.Client, cfg WorkflowConfig, logger *slog.Logger) *WorkflowNotifier {
	n := newWorkflowNotifier(func(ctx context.Context, req *executionspb.CreateExecutionRequest) (*executionspb.Execution, error) {
		return client.CreateExecution(ctx, req)
	}, cfg, logger)
	n.close = client.Close
	return n
}

func newWorkflowNotifier(create createExecution, cfg WorkflowConfig, logger *slog.Logger) *WorkflowNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowNotifier{create: create, close: func() error { return nil }, config: cfg, logger: logger}
}

func (n *WorkflowNotifier) trigger(ctx context.Context, workflowID, task string, kwargs map[string]any) error {
	logCtx := n.logger.With("task", task, "workflowId", workflowID)
	if workflowID == "" {
		logCtx.Debug("no workflow configured, skipping")
		return nil
	}
	payload, err := json.Marshal(TaskMessage{Task: task, Kwargs: kwargs})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", n.config.ProjectID, n.config.Location, workflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	exec, err := n.create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	logCtx.Info("workflow execution started", "execution", exec.GetName())
	return nil
}

func (n *WorkflowNotifier) GeneratePreview(ctx context.Context, documentID string) error {
	return n.trigger(ctx, n.config.PreviewWorkflowID, TaskGeneratePreview, map[string]any{"doc_id": documentID})
}

func (n *WorkflowNotifier) IndexAdd(ctx context.Context, documentIDs []string) error {
	return n.trigger(ctx, n.config.IndexWorkflowID, TaskIndexAddDocs, map[string]any{"doc_ids": documentIDs})
}

func (n *WorkflowNotifier) Close() error { return n.close() }
