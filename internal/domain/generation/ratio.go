package generation

import "math"

type aspectOption struct {
	label string
	value float64
}

// order matters: on an exact tie the first option wins
var aspectOptions = []aspectOption{
	{label: DefaultAspectRatio, value: 16.0 / 9.0},
	{label: PortraitAspectRatio, value: 9.0 / 16.0},
}

// DetectAspectRatio picks the supported ratio closest to width/height.
func DetectAspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return DefaultAspectRatio
	}

	ratio := float64(width) / float64(height)
	best := aspectOptions[0]
	bestDiff := math.Abs(ratio - best.value)
	for _, opt := range aspectOptions[1:] {
		if diff := math.Abs(ratio - opt.value); diff < bestDiff {
			best, bestDiff = opt, diff
		}
	}
	return best.label
}

// ResolveAspectRatio returns the ratio sent to the provider. A ratio detected
// from a source image always wins; the caller's choice applies only without
// an image, then 16:9.
func ResolveAspectRatio(detected, requested string) string {
	if detected != "" {
		return detected
	}
	if requested != "" {
		return requested
	}
	return DefaultAspectRatio
}
