package trail

import (
	"math"
	"time"
)

// Default checkpoint labels, origin first.
var defaultNames = [MaxCheckpoints]string{
	"Quarry Departure",
	"Scale House",
	"County Road Junction",
	"Highway On-Ramp",
	"Fuel Stop",
	"Weigh Station",
	"Highway Exit",
	"Lease Road Gate",
	"Field Office",
	"Staging Area",
	"Well Pad Entrance",
	"Well Site Arrival",
}

// FixedPath lays MaxCheckpoints points on a gently bent path between the route
// endpoints, spaced Interval apart and ending Interval before now. The first
// point sits on the origin and the last on the destination.
type FixedPath struct {
	// Interval between consecutive checkpoints. Zero means 10 minutes.
	Interval time.Duration
	// Bend is the lateral offset at mid-route as a fraction of the haul length.
	Bend float64
}

// DefaultFixedPath returns the placeholder trail used until telemetry is ingested.
func DefaultFixedPath() FixedPath {
	return FixedPath{Interval: 10 * time.Minute, Bend: 0.08}
}

// Synthesize implements Strategy.
func (f FixedPath) Synthesize(route Route, now time.Time) ([]Checkpoint, error) {
	if route.Origin == (Point{}) && route.Destination == (Point{}) {
		return nil, ErrRouteIncomplete
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	dLat := route.Destination.Lat - route.Origin.Lat
	dLng := route.Destination.Lng - route.Origin.Lng

	checkpoints := make([]Checkpoint, MaxCheckpoints)
	last := MaxCheckpoints - 1
	for i := 0; i < MaxCheckpoints; i++ {
		t := float64(i) / float64(last)
		// offset perpendicular to the straight line, zero at both ends
		offset := f.Bend * math.Sin(math.Pi*t)
		checkpoints[i] = Checkpoint{
			Name:         defaultNames[i],
			Timestamp:    now.Add(-time.Duration(MaxCheckpoints-i) * interval),
			Lat:          route.Origin.Lat + dLat*t - dLng*offset,
			Lng:          route.Origin.Lng + dLng*t + dLat*offset,
			AutoDetected: true,
		}
	}

	checkpoints[0].Lat, checkpoints[0].Lng = route.Origin.Lat, route.Origin.Lng
	checkpoints[last].Lat, checkpoints[last].Lng = route.Destination.Lat, route.Destination.Lng
	if route.OriginName != "" {
		checkpoints[0].Name = "Departed " + route.OriginName
	}
	if route.DestinationName != "" {
		checkpoints[last].Name = "Arrived " + route.DestinationName
	}
	return checkpoints, nil
}
