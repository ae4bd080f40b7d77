// Package trail synthesizes and checks the checkpoint/GPS evidence attached to a
// delivery when it is confirmed.
package trail

import (
	"fmt"
	"time"

	"github.com/quarryline/quarryline/internal/shared"
)

// MaxCheckpoints caps the checkpoints stored on a delivery.
const MaxCheckpoints = 12

var (
	// ErrTooManyCheckpoints is returned when a trail exceeds MaxCheckpoints.
	ErrTooManyCheckpoints = fmt.Errorf("%w: trail exceeds %d checkpoints", shared.ErrValidationFailed, MaxCheckpoints)
	// ErrTrackMismatch is returned when the GPS track is not parallel to the checkpoints.
	ErrTrackMismatch = fmt.Errorf("%w: gps track length differs from checkpoints", shared.ErrValidationFailed)
	// ErrOutOfOrder is returned when checkpoint timestamps are not ascending.
	ErrOutOfOrder = fmt.Errorf("%w: checkpoints not ascending by timestamp", shared.ErrValidationFailed)
	// ErrRouteIncomplete is returned when the route lacks coordinates.
	ErrRouteIncomplete = fmt.Errorf("%w: route endpoints required", shared.ErrPreconditionFailed)
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Checkpoint is a timestamped location marker along a route.
type Checkpoint struct {
	Name         string    `json:"name"`
	Timestamp    time.Time `json:"timestamp"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	AutoDetected bool      `json:"auto_detected"`
}

// Point returns the checkpoint coordinate.
func (c Checkpoint) Point() Point {
	return Point{Lat: c.Lat, Lng: c.Lng}
}

// GPSPoint is a single track sample.
type GPSPoint struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Route describes the endpoints of a haul.
type Route struct {
	OriginName      string
	Origin          Point
	DestinationName string
	Destination     Point
}

// Strategy produces the checkpoint trail recorded at confirmation time.
type Strategy interface {
	Synthesize(route Route, now time.Time) ([]Checkpoint, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(route Route, now time.Time) ([]Checkpoint, error)

// Synthesize calls f.
func (f StrategyFunc) Synthesize(route Route, now time.Time) ([]Checkpoint, error) {
	return f(route, now)
}

// Track projects checkpoints onto the GPS track stored alongside them.
func Track(checkpoints []Checkpoint) []GPSPoint {
	track := make([]GPSPoint, 0, len(checkpoints))
	for _, cp := range checkpoints {
		track = append(track, GPSPoint{Lat: cp.Lat, Lng: cp.Lng, Timestamp: cp.Timestamp})
	}
	return track
}

// Validate enforces the trail invariants: at most MaxCheckpoints entries,
// ascending timestamps and a GPS track parallel to the checkpoints.
func Validate(checkpoints []Checkpoint, track []GPSPoint) error {
	if len(checkpoints) > MaxCheckpoints {
		return ErrTooManyCheckpoints
	}
	if len(track) != len(checkpoints) {
		return ErrTrackMismatch
	}
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i].Timestamp.Before(checkpoints[i-1].Timestamp) {
			return ErrOutOfOrder
		}
	}
	return nil
}
