// Package model contains the struct definitions shared across packages.
package model

import (
	"time"
)

// ItemType is one ordnance category of the fixed vocabulary. Title is unique
// and is the join key from a classifier label to a stored type.
type ItemType struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	ExplosionRadius float64 `json:"explosion_radius"`
}

// FoundItem is a persisted report of an ordnance item observed at a location.
type FoundItem struct {
	ID        string    `json:"id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	TypeID    string    `json:"type_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CoordinateSource records where a coordinate pair came from.
type CoordinateSource string

const (
	SourceClient   CoordinateSource = "client"
	SourceEXIF     CoordinateSource = "exif"
	SourceFallback CoordinateSource = "fallback"
)

// Coordinates is a latitude/longitude pair in signed decimal degrees.
type Coordinates struct {
	Lat    float64          `json:"lat"`
	Lon    float64          `json:"lon"`
	Source CoordinateSource `json:"-"`
}

// Classification is the top-1 result of a model prediction.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Vocabulary is the seeded set of item types with their explosion radius in
// metres.
var Vocabulary = []ItemType{
	{Title: "aircraft-bombs", ExplosionRadius: 100},
	{Title: "fuzes", ExplosionRadius: 5},
	{Title: "grenades", ExplosionRadius: 10},
	{Title: "landmines", ExplosionRadius: 8},
	{Title: "mortars", ExplosionRadius: 20},
	{Title: "projectiles", ExplosionRadius: 30},
	{Title: "rockets", ExplosionRadius: 40},
	{Title: "submunitions", ExplosionRadius: 6},
}
