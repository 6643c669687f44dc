// Package fall converts instantaneous per-frame posture signals into durable,
// deduplicated fall alerts.
package fall

import (
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/ashgrove-care/carewatch/internal/timeutil"
	"github.com/ashgrove-care/carewatch/internal/vision"
)

// MonitorConfig holds configuration parameters for the fall monitor.
type MonitorConfig struct {
	// FallDuration is how long a person must stay in ground posture before
	// an alert fires.
	FallDuration time.Duration

	// GroundAspectRatio is the width/height ratio above which a bounding box
	// is classified as ground posture.
	GroundAspectRatio float64
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		FallDuration:      10 * time.Second,
		GroundAspectRatio: 1.5,
	}
}

// Event tracks how long one identity has continuously appeared in ground
// posture, and whether an alert has already fired for it.
type Event struct {
	// PersonID is the tracker identity this event belongs to.
	PersonID int `json:"person_id"`

	// StartTime is when continuous ground posture was first observed.
	StartTime time.Time `json:"start_time"`

	// Alerted is set exactly once, when the duration threshold is crossed.
	Alerted bool `json:"alerted"`

	// Position is the last bounding box observed in ground posture.
	Position vision.Rect `json:"position"`

	// Snapshot is a crop of the frame captured at event creation, clipped to
	// frame bounds. Nil when the clipped box had no area. Never refreshed.
	Snapshot image.Image `json:"-"`
}

// Monitor owns the per-identity fall event state machine. It is designed for
// single-writer access from one camera pipeline; the accessor methods return
// copies so other threads never observe a torn update.
type Monitor struct {
	mu     sync.Mutex
	config MonitorConfig
	clock  timeutil.Clock

	events    map[int]*Event
	newAlerts []int
}

// NewMonitor creates a fall monitor. A nil clock defaults to the real clock.
func NewMonitor(config MonitorConfig, clock timeutil.Clock) *Monitor {
	if config.FallDuration <= 0 {
		config.FallDuration = DefaultMonitorConfig().FallDuration
	}
	if config.GroundAspectRatio <= 0 {
		config.GroundAspectRatio = DefaultMonitorConfig().GroundAspectRatio
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{
		config: config,
		clock:  clock,
		events: make(map[int]*Event),
	}
}

// Analyze advances the fall state machine by one frame. Detections must
// already carry stable identities. Each detection in ground posture either
// creates an event or refreshes the existing one; a detection out of ground
// posture erases its event immediately. Events for identities absent from
// this frame are swept afterwards: one missed frame clears the event and any
// accumulated duration. The frame is used only for snapshot capture and may
// be nil.
func (m *Monitor) Analyze(detections []vision.Detection, frame image.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.newAlerts = m.newAlerts[:0]
	now := m.clock.Now()

	seen := make(map[int]bool, len(detections))
	for i := range detections {
		d := &detections[i]
		seen[d.ID] = true

		if !m.isPersonOnGround(d) && !m.poseIndicatesFall(d) {
			d.Fallen = false
			delete(m.events, d.ID)
			continue
		}
		d.Fallen = true

		ev, ok := m.events[d.ID]
		if !ok {
			m.events[d.ID] = &Event{
				PersonID:  d.ID,
				StartTime: now,
				Position:  d.Box,
				Snapshot:  captureSnapshot(frame, d.Box),
			}
			continue
		}

		ev.Position = d.Box
		if !ev.Alerted && now.Sub(ev.StartTime) >= m.config.FallDuration {
			ev.Alerted = true
			m.newAlerts = append(m.newAlerts, d.ID)
		}
	}

	// Sweep events whose identity left the frame entirely.
	for id := range m.events {
		if !seen[id] {
			delete(m.events, id)
		}
	}
}

// isPersonOnGround is the ground-posture heuristic: a box wider than it is
// tall suggests a body lying horizontally. Degenerate boxes are treated as
// not on the ground rather than rejected.
func (m *Monitor) isPersonOnGround(d *vision.Detection) bool {
	ratio := d.Box.AspectRatio()
	return ratio > m.config.GroundAspectRatio
}

// poseIndicatesFall is an extension point for keypoint-based fall
// classification. No pose model is wired up yet, so it never triggers.
func (m *Monitor) poseIndicatesFall(d *vision.Detection) bool {
	return false
}

// captureSnapshot copies the frame region under box, clipped to the frame
// bounds. Returns nil when there is no frame or the clipped region is empty.
func captureSnapshot(frame image.Image, box vision.Rect) image.Image {
	if frame == nil {
		return nil
	}
	b := frame.Bounds()
	clipped := box.ClampTo(b.Dx(), b.Dy())
	if clipped.Area() <= 0 {
		return nil
	}
	crop := image.Rect(
		b.Min.X+clipped.X,
		b.Min.Y+clipped.Y,
		b.Min.X+clipped.X+clipped.W,
		b.Min.Y+clipped.Y+clipped.H,
	)
	out := image.NewRGBA(image.Rect(0, 0, clipped.W, clipped.H))
	draw.Draw(out, out.Bounds(), frame, crop.Min, draw.Src)
	return out
}

// ActiveEvents returns a snapshot of all current fall events, one per
// identity presently in ground posture.
func (m *Monitor) ActiveEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, *ev)
	}
	return out
}

// Event returns the active event for an identity, if any.
func (m *Monitor) Event(personID int) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[personID]
	if !ok {
		return Event{}, false
	}
	return *ev, true
}

// NewAlerts returns the identities that crossed the alert threshold during
// the most recent Analyze call. The list is rebuilt on every call to Analyze;
// it is not cumulative.
func (m *Monitor) NewAlerts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.newAlerts))
	copy(out, m.newAlerts)
	return out
}
