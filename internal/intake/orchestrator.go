package intake

import (
	"context"
	"errors"
	"image"
	"io"
	"time"

	"github.com/dharsanguruparan/vanguard/internal/classify"
	"github.com/dharsanguruparan/vanguard/internal/events"
	"github.com/dharsanguruparan/vanguard/internal/imaging"
	"github.com/dharsanguruparan/vanguard/internal/logging"
	"github.com/dharsanguruparan/vanguard/internal/model"
	"github.com/dharsanguruparan/vanguard/internal/store"
)

// Classifier produces the top-1 classification of an image. Failures must be
// *classify.InferenceError.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (model.Classification, error)
}

// Locator picks the coordinates of a report.
type Locator interface {
	Resolve(ctx context.Context, img *imaging.Decoded, lat, lon *float64) model.Coordinates
}

// Archive stores the photo of a persisted found item.
type Archive interface {
	UploadOriginal(ctx context.Context, itemID string, data []byte, contentType string) (string, error)
}

// PreviewScheduler queues preview generation for an archived photo.
type PreviewScheduler interface {
	SchedulePreview(ctx context.Context, itemID, objectKey string) error
}

// Request is one photo upload.
type Request struct {
	Body      io.Reader
	MediaType string
	FileName  string
	Lat       *float64
	Lon       *float64
}

// Response is the classification outcome returned to the client.
type Response struct {
	TopConf         float64  `json:"top_conf"`
	TopName         string   `json:"top_name"`
	Lat             float64  `json:"lat"`
	Lon             float64  `json:"lon"`
	ExplosionRadius *float64 `json:"explosion_radius"`
}

// Orchestrator sequences validation, decoding, coordinate resolution,
// classification, the confidence gate and persistence.
type Orchestrator struct {
	validator     *Validator
	locator       Locator
	classifier    Classifier
	store         store.Store
	minConfidence float64

	archive  Archive
	previews PreviewScheduler
	events   events.Sink
	// eventTimeout bounds how long a request waits on the event sinks.
	eventTimeout time.Duration
	now          func() time.Time
}

// DefaultEventTimeout is the publish deadline used unless WithEventTimeout
// overrides it.
const DefaultEventTimeout = 2 * time.Second

// Option configures optional side effects.
type Option func(*Orchestrator)

// WithArchive stores the photo of every persisted found item.
func WithArchive(a Archive) Option { return func(o *Orchestrator) { o.archive = a } }

// WithPreviews schedules a preview job for every archived photo.
func WithPreviews(p PreviewScheduler) Option { return func(o *Orchestrator) { o.previews = p } }

// WithEvents publishes an event for every classification.
func WithEvents(s events.Sink) Option { return func(o *Orchestrator) { o.events = s } }

// WithEventTimeout bounds the time spent publishing each event.
func WithEventTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.eventTimeout = d
		}
	}
}

// NewOrchestrator wires the pipeline. minConfidence is the persistence gate.
func NewOrchestrator(v *Validator, locator Locator, classifier Classifier, st store.Store, minConfidence float64, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		validator:     v,
		locator:       locator,
		classifier:    classifier,
		store:         st,
		minConfidence: minConfidence,
		events:        events.Discard{},
		eventTimeout:  DefaultEventTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs the pipeline for req. It returns a *Rejection for client
// errors and a *classify.InferenceError when the model call fails. Storage
// problems after a successful classification are logged, never returned.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	data, _, err := o.validator.check(req.Body, req.MediaType)
	if err != nil {
		return nil, err
	}
	dec, err := imaging.Decode(data)
	if err != nil {
		return nil, reject(InvalidImage, "uploaded file is not a valid image", err)
	}

	coords := o.locator.Resolve(ctx, dec, req.Lat, req.Lon)
	logging.Debugf("coordinates for %q from %s: %.5f, %.5f", req.FileName, coords.Source, coords.Lat, coords.Lon)

	result, err := o.classifier.Classify(ctx, dec.Image)
	if err != nil {
		var inf *classify.InferenceError
		if !errors.As(err, &inf) {
			err = &classify.InferenceError{Op: "classify", Err: err}
		}
		return nil, err
	}

	resp := &Response{
		TopConf: result.Confidence,
		TopName: result.Label,
		Lat:     coords.Lat,
		Lon:     coords.Lon,
	}
	ev := events.Event{
		At:          o.now().UTC(),
		Label:       result.Label,
		Confidence:  result.Confidence,
		Lat:         coords.Lat,
		Lon:         coords.Lon,
		CoordSource: string(coords.Source),
	}

	if result.Confidence >= o.minConfidence {
		ev.Accepted = true
		typ, item := o.persist(ctx, result, coords)
		if typ != nil {
			radius := typ.ExplosionRadius
			resp.ExplosionRadius = &radius
			ev.TypeID = typ.ID
			ev.ExplosionRadius = &radius
		}
		if item != nil {
			ev.FoundItemID = item.ID
			o.afterPersist(ctx, item, data, dec.Format)
		}
	}
	o.emit(ctx, ev)
	return resp, nil
}

// persist resolves the label to an item type and stores one found item. It
// returns the matched type (nil if none) and the stored item (nil on failure).
func (o *Orchestrator) persist(ctx context.Context, result model.Classification, coords model.Coordinates) (*model.ItemType, *model.FoundItem) {
	typ, err := o.store.ItemTypeByTitle(ctx, result.Label)
	if errors.Is(err, store.ErrNotFound) {
		logging.Warnf("item type %q not found, skipping save", result.Label)
		return nil, nil
	}
	if err != nil {
		logging.Warnf("failed to look up item type %q: %v", result.Label, err)
		return nil, nil
	}
	item := &model.FoundItem{Lat: coords.Lat, Lon: coords.Lon, TypeID: typ.ID}
	if err := o.store.CreateFoundItem(ctx, item); err != nil {
		logging.Warnf("failed to save found item: %v", err)
		return typ, nil
	}
	logging.Infof("saved found item %s (%s) at (%.5f, %.5f)", item.ID, typ.Title, item.Lat, item.Lon)
	return typ, item
}

// afterPersist archives the photo and schedules its preview.
func (o *Orchestrator) afterPersist(ctx context.Context, item *model.FoundItem, data []byte, format imaging.Format) {
	if o.archive == nil {
		return
	}
	key, err := o.archive.UploadOriginal(ctx, item.ID, data, "image/"+string(format))
	if err != nil {
		logging.Warnf("failed to archive photo of found item %s: %v", item.ID, err)
		return
	}
	if o.previews == nil {
		return
	}
	if err := o.previews.SchedulePreview(ctx, item.ID, key); err != nil {
		logging.Warnf("failed to schedule preview for found item %s: %v", item.ID, err)
	}
}

// emit publishes ev on a context detached from the request, so a client
// disconnect does not drop the audit record, bounded by eventTimeout.
func (o *Orchestrator) emit(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.eventTimeout)
	defer cancel()
	if err := o.events.Publish(ctx, ev); err != nil {
		logging.Warnf("failed to publish intake event: %v", err)
	}
}
