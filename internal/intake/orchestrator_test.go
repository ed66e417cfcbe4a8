package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/vanguard/internal/classify"
	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/events"
	"github.com/dharsanguruparan/vanguard/internal/geo"
	"github.com/dharsanguruparan/vanguard/internal/logging"
	"github.com/dharsanguruparan/vanguard/internal/model"
	"github.com/dharsanguruparan/vanguard/internal/storage"
)

func init() { logging.SetLogger(nil) }

type stubClassifier struct {
	result model.Classification
	err    error
	calls  int
	onCall func()
}

func (s *stubClassifier) Classify(context.Context, image.Image) (model.Classification, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	return s.result, s.err
}

type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) CreateFoundItem(context.Context, *model.FoundItem) error {
	return errors.New("connection reset by peer")
}

type recordingArchive struct {
	ids   []string
	types []string
	err   error
}

func (a *recordingArchive) UploadOriginal(_ context.Context, id string, _ []byte, contentType string) (string, error) {
	a.ids = append(a.ids, id)
	a.types = append(a.types, contentType)
	return "found/" + id + "/original", a.err
}

type recordingPreviews struct{ keys []string }

func (p *recordingPreviews) SchedulePreview(_ context.Context, _, key string) error {
	p.keys = append(p.keys, key)
	return nil
}

type recordingSink struct {
	events  []events.Event
	ctxErrs []error
}

func (s *recordingSink) Publish(ctx context.Context, ev events.Event) error {
	s.events = append(s.events, ev)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return errors.New("broker unavailable")
}
func (s *recordingSink) Close() error { return nil }

// stalledSink blocks until its context ends.
type stalledSink struct{ err error }

func (s *stalledSink) Publish(ctx context.Context, _ events.Event) error {
	<-ctx.Done()
	s.err = ctx.Err()
	return s.err
}
func (s *stalledSink) Close() error { return nil }

func newOrchestrator(st *storage.MemoryStore, cls Classifier, opts ...Option) *Orchestrator {
	return NewOrchestrator(newValidator(), geo.NewResolver(geo.EXIFExtractor{}), cls, st, 0.6, opts...)
}

func foundCount(t *testing.T, st *storage.MemoryStore) int {
	t.Helper()
	items, err := st.FoundItems(context.Background())
	require.NoError(t, err)
	return len(items)
}

func upload(t *testing.T) Request {
	return Request{Body: bytes.NewReader(jpegBytes(t, 64, 64)), MediaType: "image/jpeg", FileName: "photo.jpg"}
}

func ptr(v float64) *float64 { return &v }

func TestHandleEndToEnd(t *testing.T) {
	st := storage.NewSeededMemoryStore()
	o := newOrchestrator(st, &stubClassifier{result: model.Classification{Label: "grenades", Confidence: 0.95}})

	resp, err := o.Handle(context.Background(), upload(t))
	require.NoError(t, err)
	assert.Equal(t, 0.95, resp.TopConf)
	assert.Equal(t, "grenades", resp.TopName)
	assert.GreaterOrEqual(t, resp.Lat, geo.FallbackLatMin)
	assert.LessOrEqual(t, resp.Lat, geo.FallbackLatMax)
	assert.GreaterOrEqual(t, resp.Lon, geo.FallbackLonMin)
	assert.LessOrEqual(t, resp.Lon, geo.FallbackLonMax)
	require.NotNil(t, resp.ExplosionRadius)
	assert.Equal(t, 10.0, *resp.ExplosionRadius)

	items, err := st.FoundItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	grenades, err := st.ItemTypeByTitle(context.Background(), "grenades")
	require.NoError(t, err)
	assert.Equal(t, grenades.ID, items[0].TypeID)
	assert.Equal(t, resp.Lat, items[0].Lat)
	assert.Equal(t, resp.Lon, items[0].Lon)
}

func TestHandleConfidenceGate(t *testing.T) {
	cases := []struct {
		conf    float64
		persist bool
	}{
		{0.59, false},
		{0.60, true},
	}
	for _, tc := range cases {
		st := storage.NewSeededMemoryStore()
		o := newOrchestrator(st, &stubClassifier{result: model.Classification{Label: "mortars", Confidence: tc.conf}})

		resp, err := o.Handle(context.Background(), upload(t))
		require.NoError(t, err)
		assert.Equal(t, tc.conf, resp.TopConf)
		if tc.persist {
			assert.Equal(t, 1, foundCount(t, st), "conf %.2f", tc.conf)
			require.NotNil(t, resp.ExplosionRadius)
			assert.Equal(t, 20.0, *resp.ExplosionRadius)
		} else {
			assert.Zero(t, foundCount(t, st), "conf %.2f", tc.conf)
			assert.Nil(t, resp.ExplosionRadius)
		}
	}
}

func TestHandleUnknownLabel(t *testing.T) {
	st := storage.NewSeededMemoryStore()
	o := newOrchestrator(st, &stubClassifier{result: model.Classification{Label: "tanks", Confidence: 0.99}})

	resp, err := o.Handle(context.Background(), upload(t))
	require.NoError(t, err)
	assert.Equal(t, "tanks", resp.TopName)
	assert.Nil(t, resp.ExplosionRadius)
	assert.Zero(t, foundCount(t, st))

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"explosion_radius":null`)
}

func TestHandlePersistenceFailureIsNonFatal(t *testing.T) {
	mem := storage.NewSeededMemoryStore()
	archive := &recordingArchive{}
	o := NewOrchestrator(newValidator(), geo.NewResolver(), &stubClassifier{result: model.Classification{Label: "rockets", Confidence: 0.8}},
		failingStore{mem}, 0.6, WithArchive(archive))

	resp, err := o.Handle(context.Background(), upload(t))
	require.NoError(t, err)
	assert.Equal(t, "rockets", resp.TopName)
	require.NotNil(t, resp.ExplosionRadius)
	assert.Equal(t, 40.0, *resp.ExplosionRadius)
	assert.Zero(t, foundCount(t, mem))
	assert.Empty(t, archive.ids)
}

func TestHandleInferenceError(t *testing.T) {
	st := storage.NewSeededMemoryStore()
	cls := &stubClassifier{err: &classify.InferenceError{Op: "predict", Err: errors.New("model crashed")}}
	o := newOrchestrator(st, cls)

	resp, err := o.Handle(context.Background(), upload(t))
	assert.Nil(t, resp)
	var inf *classify.InferenceError
	require.True(t, errors.As(err, &inf))
	assert.Zero(t, foundCount(t, st))

	// Plain errors from a classifier are still reported as inference errors.
	cls.err = errors.New("raw failure")
	_, err = o.Handle(context.Background(), upload(t))
	assert.True(t, errors.As(err, &inf))
}

func TestHandleRejectsBeforeClassifying(t *testing.T) {
	cls := &stubClassifier{result: model.Classification{Label: "fuzes", Confidence: 1}}
	o := newOrchestrator(storage.NewSeededMemoryStore(), cls)

	_, err := o.Handle(context.Background(), Request{Body: bytes.NewReader([]byte("hello")), MediaType: "text/plain"})
	assert.Equal(t, NotAnImage, reasonOf(t, err))

	_, err = o.Handle(context.Background(), Request{Body: bytes.NewReader([]byte("hello")), MediaType: "image/png"})
	assert.Equal(t, InvalidImage, reasonOf(t, err))

	big := bytes.NewReader(make([]byte, config.MaxUploadBytes+1))
	_, err = o.Handle(context.Background(), Request{Body: big, MediaType: "image/png"})
	assert.Equal(t, TooLarge, reasonOf(t, err))
	assert.Zero(t, cls.calls)
}

func TestHandleClientCoordinates(t *testing.T) {
	st := storage.NewSeededMemoryStore()
	o := newOrchestrator(st, &stubClassifier{result: model.Classification{Label: "landmines", Confidence: 0.7}})

	req := upload(t)
	req.Lat, req.Lon = ptr(50.4501), ptr(30.5234)
	resp, err := o.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 50.4501, resp.Lat)
	assert.Equal(t, 30.5234, resp.Lon)

	items, err := st.FoundItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 50.4501, items[0].Lat)
}

func TestHandleSideEffects(t *testing.T) {
	st := storage.NewSeededMemoryStore()
	archive := &recordingArchive{}
	previews := &recordingPreviews{}
	sink := &recordingSink{}
	cls := &stubClassifier{result: model.Classification{Label: "fuzes", Confidence: 0.9}}
	o := newOrchestrator(st, cls, WithArchive(archive), WithPreviews(previews), WithEvents(sink))

	_, err := o.Handle(context.Background(), upload(t))
	require.NoError(t, err, "sink errors must not fail the request")

	items, err := st.FoundItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{items[0].ID}, archive.ids)
	assert.Equal(t, []string{"image/jpeg"}, archive.types)
	assert.Equal(t, []string{"found/" + items[0].ID + "/original"}, previews.keys)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.True(t, ev.Accepted)
	assert.Equal(t, items[0].ID, ev.FoundItemID)
	assert.Equal(t, "fallback", ev.CoordSource)
	assert.Equal(t, 5.0, *ev.ExplosionRadius)

	// Below the gate: audited, nothing archived.
	cls.result.Confidence = 0.1
	_, err = o.Handle(context.Background(), upload(t))
	require.NoError(t, err)
	require.Len(t, sink.events, 2)
	assert.False(t, sink.events[1].Accepted)
	assert.False(t, sink.events[1].Persisted())
	assert.Len(t, archive.ids, 1)
}

func TestHandleArchiveFailureSkipsPreview(t *testing.T) {
	archive := &recordingArchive{err: errors.New("minio unreachable")}
	previews := &recordingPreviews{}
	o := newOrchestrator(storage.NewSeededMemoryStore(),
		&stubClassifier{result: model.Classification{Label: "projectiles", Confidence: 0.9}},
		WithArchive(archive), WithPreviews(previews))

	resp, err := o.Handle(context.Background(), upload(t))
	require.NoError(t, err)
	assert.Equal(t, 30.0, *resp.ExplosionRadius)
	assert.Len(t, archive.ids, 1)
	assert.Empty(t, previews.keys)
}

func TestHandleBoundsEventPublishing(t *testing.T) {
	sink := &stalledSink{}
	o := newOrchestrator(storage.NewSeededMemoryStore(),
		&stubClassifier{result: model.Classification{Label: "grenades", Confidence: 0.95}},
		WithEvents(sink), WithEventTimeout(20*time.Millisecond))

	start := time.Now()
	resp, err := o.Handle(context.Background(), upload(t))
	require.NoError(t, err)
	assert.Equal(t, "grenades", resp.TopName)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, sink.err, context.DeadlineExceeded)
}

func TestHandlePublishesAfterClientCancel(t *testing.T) {
	sink := &recordingSink{}
	cls := &stubClassifier{result: model.Classification{Label: "mortars", Confidence: 0.9}}
	o := newOrchestrator(storage.NewSeededMemoryStore(), cls, WithEvents(sink))

	ctx, cancel := context.WithCancel(context.Background())
	cls.onCall = cancel
	_, err := o.Handle(ctx, upload(t))
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.NoError(t, sink.ctxErrs[0])
}
