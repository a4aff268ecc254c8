// Package polyline decodes the compact polyline strings returned by directions services.
// The format is Google's encoded polyline algorithm at precision 5:
// https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"math"

	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// precision is the fixed-point scale of encoded values (5 decimal places).
const precision = 1e5

// Decode decodes an encoded polyline into its ordered coordinates.
//
// Decoding never fails: malformed or truncated input produces meaningless coordinates
// rather than an error, so callers that accept strings from untrusted sources should
// validate the result.
func Decode(encoded string) []geo.Coordinate {
	if encoded == "" {
		return nil
	}

	coords := make([]geo.Coordinate, 0, len(encoded)/4)
	index := 0
	lat := 0
	lng := 0

	for index < len(encoded) {
		latDelta, next := decodeValue(encoded, index)
		index = next
		lat += latDelta

		lngDelta, next := decodeValue(encoded, index)
		index = next
		lng += lngDelta

		coords = append(coords, geo.Coordinate{
			Latitude:  float64(lat) / precision,
			Longitude: float64(lng) / precision,
		})
	}

	return coords
}

// decodeValue reads one zigzag-encoded varint starting at index.
// Returns the decoded delta and the index of the next unread character.
func decodeValue(encoded string, index int) (int, int) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index
	}
	return result >> 1, index
}

// Encode encodes coordinates with the standard algorithm.
// Routes are produced upstream; Encode exists so decoded geometry can be re-served compactly.
func Encode(coords []geo.Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(coords)*8)
	prevLat := 0
	prevLng := 0

	for _, c := range coords {
		lat := int(math.Round(c.Latitude * precision))
		lng := int(math.Round(c.Longitude * precision))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lng-prevLng)

		prevLat = lat
		prevLng = lng
	}

	return string(encoded)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// Length returns the length of the path through coords in meters.
func Length(coords []geo.Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += geo.Distance(coords[i-1], coords[i])
	}
	return total
}

// Sample thins a path to points spaced roughly intervalMeters apart along it.
// The first and last points are always kept.
func Sample(coords []geo.Coordinate, intervalMeters float64) []geo.Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if intervalMeters <= 0 {
		return coords
	}

	sampled := []geo.Coordinate{coords[0]}
	accumulated := 0.0

	for i := 1; i < len(coords); i++ {
		from := coords[i-1]
		to := coords[i]
		segment := geo.Distance(from, to)
		consumed := 0.0

		for accumulated+(segment-consumed) >= intervalMeters {
			consumed += intervalMeters - accumulated
			fraction := consumed / segment
			sampled = append(sampled, geo.Coordinate{
				Latitude:  from.Latitude + fraction*(to.Latitude-from.Latitude),
				Longitude: from.Longitude + fraction*(to.Longitude-from.Longitude),
			})
			accumulated = 0
		}

		accumulated += segment - consumed
	}

	if last := coords[len(coords)-1]; sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}

	return sampled
}
