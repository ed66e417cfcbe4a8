// Package worker hosts the asynq handlers run by `vanguard worker`.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/vanguard/internal/imaging"
	"github.com/dharsanguruparan/vanguard/internal/logging"
	"github.com/dharsanguruparan/vanguard/internal/queue"
	"github.com/dharsanguruparan/vanguard/internal/s3storage"
)

const previewQuality = 80

// ObjectStore is the slice of s3storage.Storage the worker needs.
type ObjectStore interface {
	DownloadOriginal(ctx context.Context, objectKey string) ([]byte, error)
	UploadPreview(ctx context.Context, objectKey string, data []byte) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store    ObjectStore
	maxPixel int
}

// NewProcessor constructs a worker processor producing previews whose longest
// side is at most maxPixel.
func NewProcessor(store ObjectStore, maxPixel int) *Processor {
	return &Processor{store: store, maxPixel: maxPixel}
}

// Handler registers the preview job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.PreviewTask, p.handlePreview)
	return mux
}

func (p *Processor) handlePreview(ctx context.Context, task *asynq.Task) error {
	var payload queue.PreviewPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	failure := func(err error) error {
		logging.Errorf("preview failed for %s: %v", payload.FoundItemID, err)
		return err
	}
	data, err := p.store.DownloadOriginal(ctx, payload.ObjectKey)
	if err != nil {
		if errors.Is(err, s3storage.ErrObjectNotFound) {
			return failure(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
		}
		return failure(err)
	}
	dec, err := imaging.Decode(data)
	if err != nil {
		// The same bytes will never decode on a retry.
		return failure(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
	}
	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, imaging.Thumbnail(dec.Image, p.maxPixel), previewQuality); err != nil {
		return failure(err)
	}
	if err := p.store.UploadPreview(ctx, s3storage.PreviewKey(payload.FoundItemID), buf.Bytes()); err != nil {
		return failure(err)
	}
	logging.Infof("preview for found item %s stored (%d bytes)", payload.FoundItemID, buf.Len())
	return nil
}
