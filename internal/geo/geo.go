package geo

import "math"

const earthRadiusKm = 6371.0

// Vec3 is a point in 3D space. Positions produced by ToUnitSphere have length 1.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// ValidCoordinates reports whether lat/lon are finite and within range.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// HaversineDistance returns the great-circle distance in kilometers.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLat := toRadians(lat2 - lat1)
	deltaLon := toRadians(lon2 - lon1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// ToUnitSphere maps lat/lon onto the unit sphere with Y pointing at the north pole.
// The axis convention matches the globe renderer: longitude 0 lies on -X.
func ToUnitSphere(lat, lon float64) Vec3 {
	phi := toRadians(lat)
	lambda := toRadians(lon)
	return Vec3{
		X: -math.Cos(phi) * math.Cos(lambda),
		Y: math.Sin(phi),
		Z: math.Cos(phi) * math.Sin(lambda),
	}
}

// Midpoint returns the great-circle midpoint between two coordinates.
func Midpoint(lat1, lon1, lat2, lon2 float64) (float64, float64) {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	lambda1 := toRadians(lon1)
	deltaLon := toRadians(lon2 - lon1)

	bx := math.Cos(phi2) * math.Cos(deltaLon)
	by := math.Cos(phi2) * math.Sin(deltaLon)

	phi := math.Atan2(math.Sin(phi1)+math.Sin(phi2), math.Sqrt((math.Cos(phi1)+bx)*(math.Cos(phi1)+bx)+by*by))
	lambda := lambda1 + math.Atan2(by, math.Cos(phi1)+bx)

	lon := math.Mod(toDegrees(lambda)+540, 360) - 180
	return toDegrees(phi), lon
}
