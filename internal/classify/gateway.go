// Package classify turns a decoded image into a single top-1 classification by
// calling a pluggable inference backend.
package classify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/dharsanguruparan/vanguard/internal/model"
	"github.com/dharsanguruparan/vanguard/internal/processing"
)

// Prediction is one raw (label, confidence) pair reported by a backend.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Backend runs the pretrained model. Implementations may be slow and need not
// be safe for concurrent use when the Gateway is given a worker pool.
type Backend interface {
	Predict(ctx context.Context, img image.Image) ([]Prediction, error)
}

// ErrMalformedResult means the backend answered but gave nothing usable.
var ErrMalformedResult = errors.New("malformed inference result")

// InferenceError wraps every failure of a classification attempt.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Gateway bounds and normalizes backend calls.
type Gateway struct {
	backend Backend
	timeout time.Duration
	pool    *processing.Processor
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each Classify call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithPool runs backend calls on p instead of the caller's goroutine.
func WithPool(p *processing.Processor) Option {
	return func(g *Gateway) { g.pool = p }
}

// NewGateway wraps backend.
func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{backend: backend}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Classify returns the highest-confidence prediction for img. Any failure is
// returned as *InferenceError.
func (g *Gateway) Classify(ctx context.Context, img image.Image) (model.Classification, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var preds []Prediction
	run := func(ctx context.Context) error {
		var err error
		preds, err = g.backend.Predict(ctx, img)
		return err
	}

	var err error
	if g.pool != nil {
		err = g.pool.Submit(ctx, processing.Job{Name: "classify", Run: run})
	} else {
		err = run(ctx)
	}
	if err != nil {
		op := "predict"
		switch {
		case errors.Is(err, processing.ErrQueueFull), errors.Is(err, processing.ErrStopped):
			op = "queue"
		case errors.Is(err, context.DeadlineExceeded):
			op = "timeout"
		}
		return model.Classification{}, &InferenceError{Op: op, Err: err}
	}

	top, err := Top(preds)
	if err != nil {
		return model.Classification{}, &InferenceError{Op: "result", Err: err}
	}
	return top, nil
}

// Top picks the highest-confidence prediction. Labels are trimmed and
// confidences clamped to [0,1]; NaN confidences and empty sets are malformed.
func Top(preds []Prediction) (model.Classification, error) {
	if len(preds) == 0 {
		return model.Classification{}, fmt.Errorf("%w: no predictions", ErrMalformedResult)
	}
	best := -1
	for i, p := range preds {
		if math.IsNaN(p.Confidence) {
			return model.Classification{}, fmt.Errorf("%w: NaN confidence for %q", ErrMalformedResult, p.Label)
		}
		if best < 0 || p.Confidence > preds[best].Confidence {
			best = i
		}
	}
	return model.Classification{
		Label:      strings.TrimSpace(preds[best].Label),
		Confidence: math.Min(1, math.Max(0, preds[best].Confidence)),
	}, nil
}
