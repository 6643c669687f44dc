package vision

import "sync"

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	// MatchThreshold is the minimum IoU between a detection and a previous
	// track for the two to be considered the same person.
	MatchThreshold float64
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MatchThreshold: 0.3,
	}
}

// Tracker assigns stable identities to per-frame detections by greedy
// best-overlap matching against the previous frame's tracks.
//
// Matching is deliberately greedy and first-come-first-served in detection
// order rather than globally optimal: each detection independently claims the
// unclaimed previous track it overlaps best, which is cheap, deterministic,
// and good enough for smoothly moving people. Exactly one generation of
// tracks is retained; a person absent from a frame is dropped and will
// receive a fresh identity if they reappear.
type Tracker struct {
	mu     sync.Mutex
	config TrackerConfig

	// tracks is the previous frame's identity-bearing detections.
	tracks []Detection

	// nextID is a process-lifetime monotonic counter. Identities are never
	// reused, even after a track is dropped.
	nextID int
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MatchThreshold <= 0 {
		config.MatchThreshold = DefaultTrackerConfig().MatchThreshold
	}
	return &Tracker{config: config}
}

// Update assigns identities to this frame's detections and returns them.
// Matched detections inherit the identity, color and name of the previous
// track they overlap best; unmatched detections get a fresh sequential
// identity and a palette color. The input slice is mutated in place. The new
// generation replaces the stored track set wholesale once the pass completes,
// so concurrent readers of Tracks never observe a partial update.
func (t *Tracker) Update(detections []Detection) []Detection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.tracks) == 0 {
		for i := range detections {
			t.assignFresh(&detections[i])
		}
		t.setTracks(detections)
		return detections
	}

	claimed := make([]bool, len(t.tracks))
	for i := range detections {
		best := -1
		bestIoU := t.config.MatchThreshold
		for j := range t.tracks {
			if claimed[j] {
				continue
			}
			// Strictly-greater keeps the earliest previous track on ties.
			if iou := IoU(detections[i].Box, t.tracks[j].Box); iou > bestIoU {
				bestIoU = iou
				best = j
			}
		}
		if best >= 0 {
			claimed[best] = true
			detections[i].ID = t.tracks[best].ID
			detections[i].Color = t.tracks[best].Color
			detections[i].Name = t.tracks[best].Name
		} else {
			t.assignFresh(&detections[i])
		}
	}

	// Previous tracks that matched nothing are dropped here: the new
	// generation is exactly the current frame's detections.
	t.setTracks(detections)
	return detections
}

// assignFresh gives a detection a never-used identity and its display color.
func (t *Tracker) assignFresh(d *Detection) {
	d.ID = t.nextID
	t.nextID++
	d.Color = ColorForID(d.ID)
}

func (t *Tracker) setTracks(detections []Detection) {
	tracks := make([]Detection, len(detections))
	copy(tracks, detections)
	t.tracks = tracks
}

// Tracks returns a copy of the current track generation for cross-thread
// readers such as the API and overlay renderers.
func (t *Tracker) Tracks() []Detection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Detection, len(t.tracks))
	copy(out, t.tracks)
	return out
}

// SetName attaches a display name to the track with the given identity, if it
// is still active. The name propagates across subsequent frames with the
// identity. Returns false when no such track exists.
func (t *Tracker) SetName(id int, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.tracks {
		if t.tracks[i].ID == id {
			t.tracks[i].Name = name
			return true
		}
	}
	return false
}

// Reset drops all tracks. The identity counter is not reset; identities stay
// unique for the process lifetime.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
}
