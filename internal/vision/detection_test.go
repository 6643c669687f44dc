package vision

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want float64
	}{
		{
			name: "identical boxes",
			a:    Rect{X: 10, Y: 10, W: 100, H: 100},
			b:    Rect{X: 10, Y: 10, W: 100, H: 100},
			want: 1.0,
		},
		{
			name: "disjoint boxes",
			a:    Rect{X: 0, Y: 0, W: 50, H: 50},
			b:    Rect{X: 100, Y: 100, W: 50, H: 50},
			want: 0,
		},
		{
			name: "touching edges",
			a:    Rect{X: 0, Y: 0, W: 50, H: 50},
			b:    Rect{X: 50, Y: 0, W: 50, H: 50},
			want: 0,
		},
		{
			name: "quarter overlap",
			// 50x50 intersection, union 10000+10000-2500
			a:    Rect{X: 0, Y: 0, W: 100, H: 100},
			b:    Rect{X: 50, Y: 50, W: 100, H: 100},
			want: 2500.0 / 17500.0,
		},
		{
			name: "contained box",
			a:    Rect{X: 0, Y: 0, W: 100, H: 100},
			b:    Rect{X: 25, Y: 25, W: 50, H: 50},
			want: 2500.0 / 10000.0,
		},
		{
			name: "degenerate box",
			a:    Rect{X: 0, Y: 0, W: 0, H: 100},
			b:    Rect{X: 0, Y: 0, W: 100, H: 100},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIoUSymmetric(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 80, H: 220}
	b := Rect{X: 30, Y: 40, W: 90, H: 200}
	if IoU(a, b) != IoU(b, a) {
		t.Errorf("IoU not symmetric: %f vs %f", IoU(a, b), IoU(b, a))
	}
}

func TestAspectRatio(t *testing.T) {
	wide := Rect{X: 0, Y: 0, W: 300, H: 100}
	if got := wide.AspectRatio(); got != 3.0 {
		t.Errorf("wide box aspect ratio = %f, want 3.0", got)
	}

	tall := Rect{X: 0, Y: 0, W: 100, H: 300}
	if got := tall.AspectRatio(); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("tall box aspect ratio = %f, want %f", got, 1.0/3.0)
	}

	if got := (Rect{W: 100, H: 0}).AspectRatio(); got != 0 {
		t.Errorf("zero-height box aspect ratio = %f, want 0", got)
	}
	if got := (Rect{W: -10, H: 100}).AspectRatio(); got != 0 {
		t.Errorf("negative-width box aspect ratio = %f, want 0", got)
	}
}

func TestClampTo(t *testing.T) {
	tests := []struct {
		name string
		in   Rect
		want Rect
	}{
		{
			name: "inside frame unchanged",
			in:   Rect{X: 10, Y: 20, W: 100, H: 50},
			want: Rect{X: 10, Y: 20, W: 100, H: 50},
		},
		{
			name: "negative origin clipped",
			in:   Rect{X: -20, Y: -10, W: 100, H: 50},
			want: Rect{X: 0, Y: 0, W: 80, H: 40},
		},
		{
			name: "overflow right edge clipped",
			in:   Rect{X: 600, Y: 0, W: 100, H: 50},
			want: Rect{X: 600, Y: 0, W: 40, H: 50},
		},
		{
			name: "entirely outside frame",
			in:   Rect{X: 700, Y: 500, W: 50, H: 50},
			want: Rect{X: 700, Y: 500, W: 0, H: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.ClampTo(640, 480)
			if got != tt.want {
				t.Errorf("ClampTo(640, 480) on %v = %v, want %v", tt.in, got, tt.want)
			}
			if got.X < 0 || got.Y < 0 || got.X+got.W > 640 || got.Y+got.H > 480 {
				t.Errorf("clamped box %v extends past frame", got)
			}
		})
	}
}

func TestColorForID(t *testing.T) {
	if ColorForID(0) != ColorForID(len(trackPalette)) {
		t.Error("palette should cycle")
	}
	if ColorForID(3) == ColorForID(4) {
		t.Error("adjacent identities should get distinct colors")
	}
	// Never panics on the sentinel.
	_ = ColorForID(UnassignedID)
}
