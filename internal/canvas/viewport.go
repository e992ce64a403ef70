// Package canvas implements the viewport and gesture engine for the infinite
// canvas: pure math converting pointer and multi-touch input into pan/zoom
// transforms anchored at an interaction point.
package canvas

import "math"

// Scale bounds for the viewport.
const (
	MinScale = 0.1
	MaxScale = 5.0
)

// Point is a 2D coordinate. Whether it is canvas-space or screen-space
// depends on context; the viewport maps between the two.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y}
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{p.X + q.X, p.Y + q.Y}
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Mid returns the midpoint of p and q.
func (p Point) Mid(q Point) Point {
	return Point{(p.X + q.X) / 2, (p.Y + q.Y) / 2}
}

// Viewport describes the affine map from canvas space to screen space:
// screen = canvas*Scale + Pan.
type Viewport struct {
	Pan   Point
	Scale float64
}

// ClampScale clamps s to [MinScale, MaxScale].
func ClampScale(s float64) float64 {
	return math.Min(math.Max(MinScale, s), MaxScale)
}

// ToScreen maps a canvas-space point to screen space.
func (v Viewport) ToScreen(p Point) Point {
	return Point{p.X*v.Scale + v.Pan.X, p.Y*v.Scale + v.Pan.Y}
}

// ToCanvas maps a screen-space point to canvas space.
func (v Viewport) ToCanvas(p Point) Point {
	return Point{(p.X - v.Pan.X) / v.Scale, (p.Y - v.Pan.Y) / v.Scale}
}

// PannedBy returns the viewport translated by a screen-space delta.
// Panning is unclamped; the canvas is conceptually infinite.
func (v Viewport) PannedBy(dx, dy float64) Viewport {
	return Viewport{Pan: Point{v.Pan.X + dx, v.Pan.Y + dy}, Scale: v.Scale}
}

// ZoomedAt returns the viewport rescaled to newScale such that the
// screen-space anchor maps to the same canvas point before and after:
//
//	pan' = anchor - (anchor - pan) * (newScale/oldScale)
//
// This is the single formula behind wheel zoom (anchor = pointer), button
// zoom (anchor = viewport center), and the end of a pinch gesture.
// newScale is clamped before applying.
func (v Viewport) ZoomedAt(anchor Point, newScale float64) Viewport {
	newScale = ClampScale(newScale)
	factor := newScale / v.Scale
	return Viewport{
		Pan: Point{
			X: anchor.X - (anchor.X-v.Pan.X)*factor,
			Y: anchor.Y - (anchor.Y-v.Pan.Y)*factor,
		},
		Scale: newScale,
	}
}
