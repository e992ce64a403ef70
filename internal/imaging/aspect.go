package imaging

import "math"

// supportedRatios are the aspect ratios the image model accepts, paired with
// their numeric width/height value.
var supportedRatios = []struct {
	name  string
	value float64
}{
	{"1:1", 1.0},
	{"3:4", 3.0 / 4.0},
	{"4:3", 4.0 / 3.0},
	{"9:16", 9.0 / 16.0},
	{"16:9", 16.0 / 9.0},
}

// DefaultAspectRatio is used when source dimensions are unknown.
const DefaultAspectRatio = "1:1"

// ClosestAspectRatio maps source dimensions to the supported ratio with the
// smallest numeric difference, so generated variations keep roughly the
// framing of the image they branch from.
func ClosestAspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return DefaultAspectRatio
	}
	ratio := float64(width) / float64(height)

	best := supportedRatios[0].name
	bestDiff := math.Abs(ratio - supportedRatios[0].value)
	for _, r := range supportedRatios[1:] {
		if d := math.Abs(ratio - r.value); d < bestDiff {
			best = r.name
			bestDiff = d
		}
	}
	return best
}
