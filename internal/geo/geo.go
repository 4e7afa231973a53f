// Package geo validates coordinates and answers the bounded-radius questions
// the engine needs. Radius filtering uses a planar degree approximation
// (1 degree ~ 69 miles), which is good enough for the city-sized areas a map
// view covers; great-circle distance is only used for display and ordering.
package geo

import (
	"errors"
	"math"

	"github.com/golang/geo/s2"
)

const (
	// MilesPerDegree is the planar conversion used for radius filtering.
	MilesPerDegree = 69.0
	// EarthRadiusMiles is the mean earth radius.
	EarthRadiusMiles = 3958.8
)

var (
	ErrNonFinite = errors.New("coordinate is not a finite number")
	ErrLatitude  = errors.New("latitude out of range [-90, 90]")
	ErrLongitude = errors.New("longitude out of range [-180, 180]")
	ErrHeading   = errors.New("heading out of range [0, 360]")
	ErrSpeed     = errors.New("speed must be a non-negative finite number")
	ErrRadius    = errors.New("radius must be a positive finite number")
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Validate checks that both coordinates are finite and in range. The bounds
// are inclusive: 90 and -180 are valid.
func (p Point) Validate() error {
	if !finite(p.Lat) || !finite(p.Lng) {
		return ErrNonFinite
	}
	if p.Lat < -90 || p.Lat > 90 {
		return ErrLatitude
	}
	if p.Lng < -180 || p.Lng > 180 {
		return ErrLongitude
	}
	return nil
}

// ValidateHeading accepts a compass heading in degrees.
func ValidateHeading(h float64) error {
	if !finite(h) || h < 0 || h > 360 {
		return ErrHeading
	}
	return nil
}

// ValidateSpeed accepts any non-negative finite speed.
func ValidateSpeed(s float64) error {
	if !finite(s) || s < 0 {
		return ErrSpeed
	}
	return nil
}

// PlanarMiles is the Euclidean degree distance between a and b scaled to miles.
func PlanarMiles(a, b Point) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng) * MilesPerDegree
}

// Within reports whether p lies inside the planar radius around center.
func Within(center Point, radiusMiles float64, p Point) bool {
	return PlanarMiles(center, p) <= radiusMiles
}

// GreatCircleMiles returns the geodesic distance between a and b.
func GreatCircleMiles(a, b Point) float64 {
	la := s2.LatLngFromDegrees(a.Lat, a.Lng)
	lb := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return la.Distance(lb).Radians() * EarthRadiusMiles
}

// Area is an optional center and radius used to scope a query.
type Area struct {
	Center      Point
	RadiusMiles float64
}

// Validate checks the center and that the radius is positive.
func (a Area) Validate() error {
	if err := a.Center.Validate(); err != nil {
		return err
	}
	if !finite(a.RadiusMiles) || a.RadiusMiles <= 0 {
		return ErrRadius
	}
	return nil
}

// Contains reports whether p falls inside the area. A nil area contains everything.
func (a *Area) Contains(p Point) bool {
	if a == nil {
		return true
	}
	return Within(a.Center, a.RadiusMiles, p)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
