// Package vision holds the per-frame person detection types and the identity
// tracker that keeps them stable across frames.
package vision

import "image/color"

// UnassignedID is the sentinel identity carried by detections fresh from the
// detector, before the tracker has matched them to a track.
const UnassignedID = -1

// Rect is an axis-aligned bounding box in frame pixel coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area returns the box area in pixels. Degenerate boxes have zero area.
func (r Rect) Area() int {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// AspectRatio returns width/height, or 0 when the height is degenerate.
func (r Rect) AspectRatio() float64 {
	if r.H <= 0 || r.W <= 0 {
		return 0
	}
	return float64(r.W) / float64(r.H)
}

// Intersect returns the overlapping region of r and o. The result has
// non-positive width or height when the boxes are disjoint.
func (r Rect) Intersect(o Rect) Rect {
	x1 := max(r.X, o.X)
	y1 := max(r.Y, o.Y)
	x2 := min(r.X+r.W, o.X+o.W)
	y2 := min(r.Y+r.H, o.Y+o.H)
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// ClampTo clips r to a frame of the given dimensions. The returned box never
// extends past the frame edges; it may be degenerate (zero area) when r lies
// entirely outside the frame.
func (r Rect) ClampTo(frameW, frameH int) Rect {
	x1 := max(r.X, 0)
	y1 := max(r.Y, 0)
	x2 := min(r.X+r.W, frameW)
	y2 := min(r.Y+r.H, frameH)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// IoU computes the intersection-over-union of two boxes. Disjoint or
// degenerate boxes yield 0.
func IoU(a, b Rect) float64 {
	inter := a.Intersect(b).Area()
	if inter <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Detection is one candidate person instance in a single frame. The detector
// produces these with ID set to UnassignedID; the tracker fills in ID, Color
// and (for matched tracks) Name.
type Detection struct {
	ID         int        `json:"id"`
	Box        Rect       `json:"box"`
	Confidence float64    `json:"confidence"`
	Color      color.RGBA `json:"-"`
	Name       string     `json:"name,omitempty"`
	Fallen     bool       `json:"fallen"`
}

// trackPalette holds the display colors cycled through as identities are
// assigned. Same identity, same color, for the lifetime of the process.
var trackPalette = []color.RGBA{
	{R: 0x2e, G: 0xcc, B: 0x71, A: 0xff}, // green
	{R: 0x34, G: 0x98, B: 0xdb, A: 0xff}, // blue
	{R: 0xe6, G: 0x7e, B: 0x22, A: 0xff}, // orange
	{R: 0x9b, G: 0x59, B: 0xb6, A: 0xff}, // purple
	{R: 0xf1, G: 0xc4, B: 0x0f, A: 0xff}, // yellow
	{R: 0x1a, G: 0xbc, B: 0x9c, A: 0xff}, // teal
	{R: 0xe7, G: 0x4c, B: 0x3c, A: 0xff}, // red
	{R: 0x95, G: 0xa5, B: 0xa6, A: 0xff}, // grey
}

// ColorForID returns the display color for an identity. Deterministic in the
// identity so re-renders of the same track always look the same.
func ColorForID(id int) color.RGBA {
	if id < 0 {
		return trackPalette[0]
	}
	return trackPalette[id%len(trackPalette)]
}
