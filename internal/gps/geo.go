package gps

import "math"

const earthRadiusM = 6_371_000.0

// HaversineMeters returns the great-circle distance between two coordinates
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)

	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance returns the distance between two points in meters
func Distance(a, b Point) float64 {
	return HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// TrackLength returns the length of the path through points in meters
func TrackLength(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// Downsample reduces points to at most limit entries by taking every
// floor(N/limit)-th point. The first and last points are always kept so the
// path's true start and end survive; a limit of 1 keeps only the first.
func Downsample(points []Point, limit int) []Point {
	n := len(points)
	if n == 0 || limit <= 0 {
		return nil
	}
	if n <= limit {
		return append([]Point(nil), points...)
	}
	if limit == 1 {
		return []Point{points[0]}
	}

	stride := n / limit

	out := make([]Point, 0, limit)
	for i := 0; i < n-1 && len(out) < limit-1; i += stride {
		out = append(out, points[i])
	}
	return append(out, points[n-1])
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
