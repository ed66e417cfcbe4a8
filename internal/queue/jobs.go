package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// PreviewTask is scheduled each time a found item's photo is archived.
	PreviewTask = "found_item:preview"
)

// PreviewPayload is serialized into the task payload so the worker knows which
// object to download from MinIO.
type PreviewPayload struct {
	FoundItemID string `json:"found_item_id"`
	ObjectKey   string `json:"object_key"`
}

// NewPreviewTask builds the asynq task for payload.
func NewPreviewTask(payload PreviewPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(PreviewTask, data), nil
}

// EnqueuePreview enqueues a preview generation job.
func EnqueuePreview(ctx context.Context, client *asynq.Client, payload PreviewPayload) error {
	task, err := NewPreviewTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue preview task: %w", err)
	}
	return nil
}

// Scheduler enqueues preview jobs on a shared asynq client.
type Scheduler struct {
	client *asynq.Client
}

// NewScheduler wraps client.
func NewScheduler(client *asynq.Client) *Scheduler {
	return &Scheduler{client: client}
}

// SchedulePreview enqueues a preview job for the archived object.
func (s *Scheduler) SchedulePreview(ctx context.Context, itemID, objectKey string) error {
	return EnqueuePreview(ctx, s.client, PreviewPayload{FoundItemID: itemID, ObjectKey: objectKey})
}

// Close releases the client connection.
func (s *Scheduler) Close() error { return s.client.Close() }
