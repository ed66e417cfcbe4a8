// Package geo resolves the location of a report: client-supplied
// coordinates first, then embedded GPS metadata, then a randomized point in
// the default operating area.
package geo

import (
	"context"
	"errors"
	"math/rand"

	"github.com/dharsanguruparan/vanguard/internal/imaging"
	"github.com/dharsanguruparan/vanguard/internal/logging"
	"github.com/dharsanguruparan/vanguard/internal/model"
)

// Default operating area used when neither the client nor the image provides
// a location.
const (
	FallbackLatMin = 52.0
	FallbackLatMax = 53.0
	FallbackLonMin = 12.9
	FallbackLonMax = 13.9
)

// Resolver picks the coordinates attached to a report. It never fails.
type Resolver struct {
	extractors []Extractor
	rand       func() float64
}

// NewResolver returns a Resolver that consults extractors in order.
func NewResolver(extractors ...Extractor) *Resolver {
	return &Resolver{extractors: extractors, rand: rand.Float64}
}

// WithRand replaces the uniform [0,1) source used for fallback points.
func (r *Resolver) WithRand(fn func() float64) *Resolver {
	r.rand = fn
	return r
}

// Resolve returns the client pair verbatim when both lat and lon are set.
// Otherwise it tries each extractor and finally falls back to a random point
// inside the default area. Extraction errors are logged and swallowed.
func (r *Resolver) Resolve(ctx context.Context, img *imaging.Decoded, lat, lon *float64) model.Coordinates {
	if lat != nil && lon != nil {
		return model.Coordinates{Lat: *lat, Lon: *lon, Source: model.SourceClient}
	}
	if img != nil {
		for _, ex := range r.extractors {
			coords, err := ex.Extract(ctx, img)
			if err == nil {
				return coords
			}
			if !errors.Is(err, ErrNoGPS) {
				logging.Debugf("gps extraction failed: %v", err)
			}
		}
	}
	return r.Fallback()
}

// Fallback draws a point uniformly from the default area.
func (r *Resolver) Fallback() model.Coordinates {
	return model.Coordinates{
		Lat:    FallbackLatMin + r.rand()*(FallbackLatMax-FallbackLatMin),
		Lon:    FallbackLonMin + r.rand()*(FallbackLonMax-FallbackLonMin),
		Source: model.SourceFallback,
	}
}
