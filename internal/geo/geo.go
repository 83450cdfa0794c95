package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000

// Distance calculates the great-circle distance in meters between two
// coordinates using the haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// SpeedMS returns the implied speed in m/s for covering meters in seconds.
// A non-positive elapsed time yields +Inf for any positive distance, so
// callers treat zero-interval displacement as implausible.
func SpeedMS(meters, seconds float64) float64 {
	if seconds <= 0 {
		if meters <= 0 {
			return 0
		}
		return math.Inf(1)
	}
	return meters / seconds
}

// ValidateCoordinates checks latitude and longitude ranges.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", lng)
	}
	return nil
}

// Round5 rounds a coordinate to 5 decimal places (~1.1 m of latitude),
// the precision used for idempotency hashing.
func Round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
