// Package geo implements spherical geometry on the earth's surface: great
// circle interpolation, initial bearing and distances.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/saviobatista/flightpath/internal/types"
)

// ErrInvalidInput is returned for degenerate solver inputs
var ErrInvalidInput = errors.New("invalid great circle input")

const (
	// Below this angular distance (radians) start and end are the same point.
	coincidentEpsilon = 1e-12
	// Within this distance of pi the great circle through two points is undefined.
	antipodalEpsilon = 1e-9
)

// Solve returns n points along the great circle arc from start to end,
// start and end included.
func Solve(start, end types.GeoPoint, n int) ([]types.GeoPoint, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: sample count must be at least 2, got %d", ErrInvalidInput, n)
	}
	if err := start.Validate(); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrInvalidInput, err)
	}
	if err := end.Validate(); err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrInvalidInput, err)
	}

	d := AngularDistance(start, end)
	points := make([]types.GeoPoint, n)

	if d < coincidentEpsilon {
		for i := range points {
			points[i] = start
		}
		return points, nil
	}
	if math.Pi-d < antipodalEpsilon {
		return nil, fmt.Errorf("%w: %s and %s are antipodal", ErrInvalidInput, start, end)
	}

	lat1, lon1 := toRad(start.Lat), toRad(start.Lon)
	lat2, lon2 := toRad(end.Lat), toRad(end.Lon)
	sinD := math.Sin(d)

	for i := 0; i < n; i++ {
		f := float64(i) / float64(n-1)
		a := math.Sin((1-f)*d) / sinD
		b := math.Sin(f*d) / sinD

		x := a*math.Cos(lat1)*math.Cos(lon1) + b*math.Cos(lat2)*math.Cos(lon2)
		y := a*math.Cos(lat1)*math.Sin(lon1) + b*math.Cos(lat2)*math.Sin(lon2)
		z := a*math.Sin(lat1) + b*math.Sin(lat2)

		points[i] = types.GeoPoint{
			Lat: toDeg(math.Atan2(z, math.Sqrt(x*x+y*y))),
			Lon: toDeg(math.Atan2(y, x)),
		}
	}

	// Pin the endpoints so round-off never moves the departure or arrival.
	points[0] = start
	points[n-1] = end

	return points, nil
}

// AngularDistance returns the central angle between a and b in radians,
// using the spherical law of cosines
func AngularDistance(a, b types.GeoPoint) float64 {
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLon := toRad(b.Lon - a.Lon)
	c := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(dLon)
	// acos is undefined just outside [-1, 1], which round-off can produce
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// InitialBearing returns the compass bearing from a towards b in degrees,
// normalized to [0, 360)
func InitialBearing(a, b types.GeoPoint) float64 {
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLon := toRad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return Normalize(toDeg(math.Atan2(y, x)))
}

// Distance returns the haversine distance between a and b in meters
func Distance(a, b types.GeoPoint) float64 {
	return orbgeo.DistanceHaversine(ToOrb(a), ToOrb(b))
}

// Normalize maps any angle in degrees into [0, 360)
func Normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// ToOrb converts a point to orb's [lon, lat] representation
func ToOrb(p types.GeoPoint) orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
