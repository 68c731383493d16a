package pipeline

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DownloadWorkflowInput starts a download job. When Transcribe is set the
// workflow continues into the full transcription pipeline after ingest.
type DownloadWorkflowInput struct {
	JobID      int64
	OwnerID    string
	URL        string
	Transcribe bool
}

// TranscribeWorkflowInput starts a transcription job over an already stored
// media file.
type TranscribeWorkflowInput struct {
	JobID           int64
	OwnerID         string
	MediaFileID     int64
	TranscriptionID int64
}

// dbOptions covers the quick bookkeeping activities (status flips, terminal
// writes). These touch only the database and retry aggressively.
func dbOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})
}

func downloadOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
}

func transcribeOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
}

func chunkOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
		},
	})
}

func topicsOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
		},
	})
}

func embedOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
}

// DownloadWorkflow drives a download job: fetch, ingest, and optionally the
// full transcription pipeline over the resulting media file. The job's
// terminal state is written exactly once, failure included.
func DownloadWorkflow(ctx workflow.Context, in DownloadWorkflowInput) error {
	var a *Activities

	err := workflow.ExecuteActivity(dbOptions(ctx), a.MarkJobProcessing, in.JobID).Get(ctx, nil)
	if err != nil {
		return failJob(ctx, in.JobID, nil, err)
	}

	var dl DownloadOutput
	err = workflow.ExecuteActivity(downloadOptions(ctx), a.Download, DownloadInput{
		JobID:   in.JobID,
		OwnerID: in.OwnerID,
		URL:     in.URL,
	}).Get(ctx, &dl)
	if err != nil {
		return failJob(ctx, in.JobID, nil, err)
	}

	complete := CompleteJobInput{JobID: in.JobID, MediaFileID: &dl.MediaFileID}
	if in.Transcribe {
		var transcriptionID int64
		err = workflow.ExecuteActivity(dbOptions(ctx), a.CreateTranscription,
			in.OwnerID, dl.MediaFileID).Get(ctx, &transcriptionID)
		if err != nil {
			return failJob(ctx, in.JobID, nil, err)
		}
		if err := runTranscription(ctx, in.JobID, dl.MediaFileID, transcriptionID); err != nil {
			return failJob(ctx, in.JobID, &transcriptionID, err)
		}
		complete.TranscriptionID = &transcriptionID
	}

	return workflow.ExecuteActivity(dbOptions(ctx), a.CompleteJob, complete).Get(ctx, nil)
}

// TranscribeWorkflow drives a transcription job over stored media.
func TranscribeWorkflow(ctx workflow.Context, in TranscribeWorkflowInput) error {
	var a *Activities

	err := workflow.ExecuteActivity(dbOptions(ctx), a.MarkJobProcessing, in.JobID).Get(ctx, nil)
	if err != nil {
		return failJob(ctx, in.JobID, &in.TranscriptionID, err)
	}
	if err := runTranscription(ctx, in.JobID, in.MediaFileID, in.TranscriptionID); err != nil {
		return failJob(ctx, in.JobID, &in.TranscriptionID, err)
	}
	return workflow.ExecuteActivity(dbOptions(ctx), a.CompleteJob, CompleteJobInput{
		JobID:           in.JobID,
		MediaFileID:     &in.MediaFileID,
		TranscriptionID: &in.TranscriptionID,
	}).Get(ctx, nil)
}

// runTranscription executes the four pipeline stages in order. Each stage is
// idempotent, so a stage retry never corrupts the output of an earlier one.
func runTranscription(ctx workflow.Context, jobID, mediaFileID, transcriptionID int64) error {
	var a *Activities
	stage := StageInput{JobID: jobID, TranscriptionID: transcriptionID}

	err := workflow.ExecuteActivity(transcribeOptions(ctx), a.Transcribe, TranscribeInput{
		JobID:           jobID,
		TranscriptionID: transcriptionID,
		MediaFileID:     mediaFileID,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}
	if err := workflow.ExecuteActivity(chunkOptions(ctx), a.Chunk, stage).Get(ctx, nil); err != nil {
		return err
	}
	if err := workflow.ExecuteActivity(topicsOptions(ctx), a.AssignTopics, stage).Get(ctx, nil); err != nil {
		return err
	}
	return workflow.ExecuteActivity(embedOptions(ctx), a.Embed, stage).Get(ctx, nil)
}

// failJob records the terminal failure on a disconnected context so the
// write goes through even when the workflow context is already cancelled,
// then surfaces the original error.
func failJob(ctx workflow.Context, jobID int64, transcriptionID *int64, cause error) error {
	var a *Activities
	dctx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	ferr := workflow.ExecuteActivity(dbOptions(dctx), a.FailJob, FailJobInput{
		JobID:           jobID,
		TranscriptionID: transcriptionID,
		Reason:          cause.Error(),
	}).Get(dctx, nil)
	if ferr != nil {
		workflow.GetLogger(ctx).Error("terminal failure write failed",
			"job", jobID, "error", ferr)
	}
	return cause
}
