package pipeline

import (
	"context"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/ashgrove-care/carewatch/internal/vision"
)

// SimFrame is one scripted frame for the simulated camera: the detections a
// real model would have produced.
type SimFrame struct {
	Boxes []vision.Rect
}

// SimCamera replays a scripted sequence of frames with detections, for dev
// mode and tests. It implements both FrameSource and Detector: Next and
// Detect advance in lockstep because the pipeline calls them once per frame.
type SimCamera struct {
	frames   []SimFrame
	interval time.Duration
	size     image.Rectangle

	mu   sync.Mutex
	pos  int
	loop bool
}

// NewSimCamera creates a simulated camera replaying frames at the given
// interval. With loop set, the script repeats instead of ending the stream.
func NewSimCamera(frames []SimFrame, interval time.Duration, loop bool) *SimCamera {
	return &SimCamera{
		frames:   frames,
		interval: interval,
		size:     image.Rect(0, 0, 640, 480),
		loop:     loop,
	}
}

// WalkThenFall is a canned scenario: a person walks across the frame upright,
// then drops into ground posture and stays down. Driven at one frame per
// second it exercises the full alert path.
func WalkThenFall() []SimFrame {
	frames := []SimFrame{}
	// Upright walk, box taller than wide.
	for x := 50; x <= 200; x += 30 {
		frames = append(frames, SimFrame{Boxes: []vision.Rect{{X: x, Y: 100, W: 80, H: 220}}})
	}
	// On the ground, box wider than tall, long enough to cross the threshold.
	for i := 0; i < 15; i++ {
		frames = append(frames, SimFrame{Boxes: []vision.Rect{{X: 180, Y: 300, W: 240, H: 90}}})
	}
	return frames
}

// Next blocks for the frame interval, then returns a blank frame. Returns
// io.EOF once the script is exhausted and looping is off.
func (c *SimCamera) Next(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.interval):
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.frames) {
		if !c.loop {
			return nil, io.EOF
		}
		c.pos = 0
	}

	img := image.NewRGBA(c.size)
	return img, nil
}

// Detect returns the scripted detections for the current frame and advances
// the script.
func (c *SimCamera) Detect(ctx context.Context, frame image.Image) ([]vision.Detection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.frames) {
		return nil, nil
	}

	sf := c.frames[c.pos]
	c.pos++

	detections := make([]vision.Detection, 0, len(sf.Boxes))
	for _, box := range sf.Boxes {
		detections = append(detections, vision.Detection{
			ID:         vision.UnassignedID,
			Box:        box,
			Confidence: 0.9,
			Color:      color.RGBA{},
		})
	}
	return detections, nil
}

// Close implements FrameSource.
func (c *SimCamera) Close() error { return nil }
