package pipeline

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Workflow type names, used by starters so they never import workflow
// function values across process boundaries.
const (
	DownloadWorkflowName   = "DownloadWorkflow"
	TranscribeWorkflowName = "TranscribeWorkflow"
)

// Register attaches the pipeline's workflows and activities to a worker.
func Register(w worker.Registry, a *Activities) {
	w.RegisterWorkflow(DownloadWorkflow)
	w.RegisterWorkflow(TranscribeWorkflow)
	w.RegisterActivity(a)
}

// NewWorker builds a Temporal worker for the task queue with the pipeline
// registered.
func NewWorker(c client.Client, taskQueue string, a *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w, a)
	return w
}
