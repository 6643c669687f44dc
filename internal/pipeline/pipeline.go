// Package pipeline runs the per-camera processing loop: pull a frame,
// detect people, carry identities across frames, advance the fall state
// machine, and fan escalated alerts out to storage and notification.
package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashgrove-care/carewatch/internal/fall"
	"github.com/ashgrove-care/carewatch/internal/metrics"
	"github.com/ashgrove-care/carewatch/internal/monitoring"
	"github.com/ashgrove-care/carewatch/internal/notify"
	"github.com/ashgrove-care/carewatch/internal/store"
	"github.com/ashgrove-care/carewatch/internal/timeutil"
	"github.com/ashgrove-care/carewatch/internal/vision"
)

// FrameSource produces frames from one camera. Next blocks until a frame is
// available or ctx is cancelled; it returns io.EOF when the stream ends.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Detector finds people in a frame. Returned detections carry boxes and
// confidences but no identities; the tracker assigns those.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]vision.Detection, error)
}

// Config holds per-pipeline settings.
type Config struct {
	// CameraName is the operator-facing camera label.
	CameraName string

	// FallDetection is the initial state of the fall-analysis toggle.
	FallDetection bool

	// ErrorBackoff is how long to wait after a source or detector error
	// before trying the next frame.
	ErrorBackoff time.Duration
}

// DefaultConfig returns default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		FallDetection: true,
		ErrorBackoff:  time.Second,
	}
}

// Pipeline is the processing loop for one camera. Run owns the tracker and
// monitor as their single writer; all other methods read published copies.
type Pipeline struct {
	id     string
	config Config

	source   FrameSource
	detector Detector
	tracker  *vision.Tracker
	monitor  *fall.Monitor
	alerts   *store.AlertStore
	users    *store.UserStore
	notifier *notify.Manager
	clock    timeutil.Clock

	mu            sync.Mutex
	fallDetection bool
	lastTracks    []vision.Detection
	lastFrameAt   time.Time
	frameCount    uint64
}

// New creates a pipeline for one camera. The alert store, user store and
// notifier may be nil; alerts are then logged but not persisted or fanned
// out, which keeps tests and the dev harness self-contained.
func New(config Config, source FrameSource, detector Detector,
	tracker *vision.Tracker, monitor *fall.Monitor,
	alerts *store.AlertStore, users *store.UserStore, notifier *notify.Manager,
	clock timeutil.Clock) *Pipeline {
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = DefaultConfig().ErrorBackoff
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{
		id:            uuid.NewString(),
		config:        config,
		source:        source,
		detector:      detector,
		tracker:       tracker,
		monitor:       monitor,
		alerts:        alerts,
		users:         users,
		notifier:      notifier,
		clock:         clock,
		fallDetection: config.FallDetection,
	}
}

// ID returns the pipeline's generated camera identifier.
func (p *Pipeline) ID() string { return p.id }

// Name returns the operator-facing camera label.
func (p *Pipeline) Name() string { return p.config.CameraName }

// Run processes frames until ctx is cancelled or the source ends. Source and
// detector errors are logged and retried after a backoff rather than killing
// the loop; cameras drop out and come back all the time.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.source.Close()

	monitoring.Logf("pipeline %s (%s): started", p.config.CameraName, p.id)
	for {
		if ctx.Err() != nil {
			monitoring.Logf("pipeline %s: stopping", p.config.CameraName)
			return nil
		}

		frame, err := p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			monitoring.Logf("pipeline %s: stream ended", p.config.CameraName)
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			monitoring.Logf("pipeline %s: frame read failed: %v", p.config.CameraName, err)
			p.clock.Sleep(p.config.ErrorBackoff)
			continue
		}

		if err := p.processFrame(ctx, frame); err != nil {
			monitoring.Logf("pipeline %s: frame processing failed: %v", p.config.CameraName, err)
			p.clock.Sleep(p.config.ErrorBackoff)
		}
	}
}

// processFrame runs one frame through detect, track and analyze, publishes
// the results, and handles any alerts that fired.
func (p *Pipeline) processFrame(ctx context.Context, frame image.Image) error {
	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		return err
	}

	tracked := p.tracker.Update(detections)

	if p.FallDetectionEnabled() {
		p.monitor.Analyze(tracked, frame)
		for _, personID := range p.monitor.NewAlerts() {
			p.handleAlert(personID)
		}
	}

	p.publish(tracked)

	metrics.FramesProcessed.WithLabelValues(p.config.CameraName).Inc()
	metrics.ActiveTracks.WithLabelValues(p.config.CameraName).Set(float64(len(tracked)))
	metrics.ActiveFallEvents.WithLabelValues(p.config.CameraName).Set(float64(len(p.monitor.ActiveEvents())))
	return nil
}

// handleAlert persists an escalated fall event and notifies the matched
// user's emergency contacts.
func (p *Pipeline) handleAlert(personID int) {
	ev, ok := p.monitor.Event(personID)
	if !ok {
		return
	}
	metrics.AlertsFired.WithLabelValues(p.config.CameraName).Inc()
	monitoring.Logf("pipeline %s: FALL ALERT for person %d after %s on the ground",
		p.config.CameraName, personID, p.clock.Since(ev.StartTime).Round(time.Second))

	if p.alerts != nil {
		snapshot, err := store.EncodeSnapshot(ev.Snapshot)
		if err != nil {
			monitoring.Logf("pipeline %s: snapshot encode failed: %v", p.config.CameraName, err)
		}
		alert := &store.FallAlert{
			CameraID:    p.id,
			PersonID:    personID,
			StartedUnix: float64(ev.StartTime.UnixMilli()) / 1000.0,
			AlertedUnix: float64(p.clock.Now().UnixMilli()) / 1000.0,
			Box:         ev.Position,
			Snapshot:    snapshot,
		}
		if err := p.alerts.InsertAlert(alert); err != nil {
			monitoring.Logf("pipeline %s: failed to record alert: %v", p.config.CameraName, err)
		}
	}

	if p.notifier != nil {
		user := p.resolveUser(personID)
		if user == nil {
			monitoring.Logf("pipeline %s: no user match for person %d, skipping notification",
				p.config.CameraName, personID)
			return
		}
		queued := p.notifier.NotifyFallEvent(ev, user)
		monitoring.Logf("pipeline %s: queued %d notifications for %s", p.config.CameraName, queued, user.Name)
	}
}

// resolveUser maps a tracked person to a monitored user. A track named by the
// operator matches the user with that name; otherwise a sole registered user
// is assumed to be the person in frame. Returns nil when the mapping is
// ambiguous.
func (p *Pipeline) resolveUser(personID int) *store.User {
	if p.users == nil {
		return nil
	}

	var trackName string
	for _, d := range p.tracker.Tracks() {
		if d.ID == personID {
			trackName = d.Name
			break
		}
	}

	all, err := p.users.ListUsers()
	if err != nil {
		monitoring.Logf("pipeline %s: user lookup failed: %v", p.config.CameraName, err)
		return nil
	}
	if trackName != "" {
		for _, u := range all {
			if u.Name == trackName {
				return u
			}
		}
	}
	if len(all) == 1 {
		return all[0]
	}
	return nil
}

// publish stores a copy of the frame's tracks for cross-thread readers.
func (p *Pipeline) publish(tracked []vision.Detection) {
	snapshot := make([]vision.Detection, len(tracked))
	copy(snapshot, tracked)

	p.mu.Lock()
	p.lastTracks = snapshot
	p.lastFrameAt = p.clock.Now()
	p.frameCount++
	p.mu.Unlock()
}

// Tracks returns the most recently published frame's tracks.
func (p *Pipeline) Tracks() []vision.Detection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]vision.Detection, len(p.lastTracks))
	copy(out, p.lastTracks)
	return out
}

// LastFrameAt returns when the pipeline last finished a frame, and how many
// frames it has processed.
func (p *Pipeline) LastFrameAt() (time.Time, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFrameAt, p.frameCount
}

// FallDetectionEnabled reports the current state of the analysis toggle.
func (p *Pipeline) FallDetectionEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fallDetection
}

// SetFallDetection flips fall analysis at runtime. Tracking continues either
// way; only the posture analysis and alerting stop.
func (p *Pipeline) SetFallDetection(enabled bool) {
	p.mu.Lock()
	p.fallDetection = enabled
	p.mu.Unlock()
	monitoring.Logf("pipeline %s: fall detection %v", p.config.CameraName, enabled)
}

// Monitor exposes the fall monitor for API reads.
func (p *Pipeline) Monitor() *fall.Monitor { return p.monitor }

// Tracker exposes the tracker for API reads and renaming.
func (p *Pipeline) Tracker() *vision.Tracker { return p.tracker }
