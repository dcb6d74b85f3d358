package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type RenderJobArgs struct {
	JobID      uuid.UUID       `json:"job_id"`
	AccountID  uuid.UUID       `json:"account_id"`
	EngineID   uuid.UUID       `json:"engine_id"`
	WebhookURL string          `json:"webhook_url"`
	Timeline   json.RawMessage `json:"timeline"`
}

func (RenderJobArgs) Kind() string { return "render_video" }

// JobService defines the contract the worker needs to report success/failure
type JobService interface {
	MarkRenderDone(ctx context.Context, jobID uuid.UUID, outputURL string) error
	MarkRenderFailed(ctx context.Context, jobID uuid.UUID, reason string) error
}

type RenderWorker struct {
	river.WorkerDefaults[RenderJobArgs]
	jobService JobService
	httpClient *http.Client
}

func NewRenderWorker(js JobService) *RenderWorker {
	return &RenderWorker{
		jobService: js,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// engineResponse is what a render engine replies with when the render
// finished synchronously.
type engineResponse struct {
	OutputURL string `json:"output_url"`
}

func (w *RenderWorker) Work(ctx context.Context, job *river.Job[RenderJobArgs]) error {
	args := job.Args

	body, err := json.Marshal(struct {
		JobID    uuid.UUID       `json:"job_id"`
		Timeline json.RawMessage `json:"timeline"`
	}{JobID: args.JobID, Timeline: args.Timeline})
	if err != nil {
		return w.failJob(ctx, args.JobID, fmt.Sprintf("failed to encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, args.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return w.failJob(ctx, args.JobID, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		// Transient network errors stay with River for retry.
		return fmt.Errorf("network error calling engine webhook: %w", err)
	}
	defer resp.Body.Close()

	// 202 means the engine accepted the job and will report the outcome via
	// the completion endpoint later. The hold stays open until then.
	if resp.StatusCode == http.StatusAccepted {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return w.failJob(ctx, args.JobID, fmt.Sprintf("engine returned non-200 status: %d", resp.StatusCode))
	}

	var out engineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return w.failJob(ctx, args.JobID, "engine returned invalid JSON")
	}
	if out.OutputURL == "" {
		return w.failJob(ctx, args.JobID, "engine returned no output_url")
	}

	if err := w.jobService.MarkRenderDone(ctx, args.JobID, out.OutputURL); err != nil {
		return fmt.Errorf("failed to mark render done: %w", err)
	}
	return nil
}

func (w *RenderWorker) failJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	markErr := w.jobService.MarkRenderFailed(ctx, jobID, reason)
	if markErr != nil {
		return fmt.Errorf("render failed (%s) AND failed to mark job as failed: %w", reason, markErr)
	}
	return nil
}
