package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/ashgrove-care/carewatch/internal/fall"
	"github.com/ashgrove-care/carewatch/internal/notify"
	"github.com/ashgrove-care/carewatch/internal/store"
	"github.com/ashgrove-care/carewatch/internal/timeutil"
	"github.com/ashgrove-care/carewatch/internal/vision"
)

// stubDetector returns a fixed set of boxes every frame.
type stubDetector struct {
	boxes []vision.Rect
}

func (d *stubDetector) Detect(ctx context.Context, frame image.Image) ([]vision.Detection, error) {
	out := make([]vision.Detection, 0, len(d.boxes))
	for _, b := range d.boxes {
		out = append(out, vision.Detection{ID: vision.UnassignedID, Box: b, Confidence: 0.9})
	}
	return out, nil
}

type nopSource struct{}

func (nopSource) Next(ctx context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 640, 480)), nil
}
func (nopSource) Close() error { return nil }

// recordingSender captures notification deliveries.
type recordingSender struct {
	mu  sync.Mutex
	sms []string
}

func (r *recordingSender) SendSMS(ctx context.Context, phone, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sms = append(r.sms, body)
	return nil
}

func (r *recordingSender) SendEmail(ctx context.Context, email, subject, body string) error {
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sms)
}

func groundBox() vision.Rect  { return vision.Rect{X: 100, Y: 300, W: 300, H: 100} }
func uprightBox() vision.Rect { return vision.Rect{X: 100, Y: 100, W: 100, H: 300} }

func newTestPipeline(t *testing.T, detector Detector, clock timeutil.Clock,
	alerts *store.AlertStore, users *store.UserStore, notifier *notify.Manager) *Pipeline {
	t.Helper()
	return New(
		Config{CameraName: "test-cam", FallDetection: true},
		nopSource{}, detector,
		vision.NewTracker(vision.DefaultTrackerConfig()),
		fall.NewMonitor(fall.DefaultMonitorConfig(), clock),
		alerts, users, notifier, clock,
	)
}

func TestPipelinePublishesTracks(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	detector := &stubDetector{boxes: []vision.Rect{uprightBox()}}
	p := newTestPipeline(t, detector, clock, nil, nil, nil)

	if err := p.processFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 640, 480))); err != nil {
		t.Fatalf("processFrame failed: %v", err)
	}

	tracks := p.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("expected 1 published track, got %d", len(tracks))
	}
	if tracks[0].ID != 0 {
		t.Errorf("track ID = %d, want 0", tracks[0].ID)
	}
	if _, frames := p.LastFrameAt(); frames != 1 {
		t.Errorf("frame count = %d, want 1", frames)
	}
}

func TestPipelineAlertPersistedAndNotified(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	users := store.NewUserStore(db)
	if err := users.AddUser(&store.User{
		Name:              "Margaret Hale",
		EmergencyContacts: []store.EmergencyContact{{Name: "John", Phone: "+447700900001"}},
	}); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	notifier := notify.NewManager(notify.DefaultConfig(), sender, clock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier.Start(ctx)

	alerts := store.NewAlertStore(db)
	detector := &stubDetector{boxes: []vision.Rect{groundBox()}}
	p := newTestPipeline(t, detector, clock, alerts, users, notifier)

	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for i := 0; i < 12; i++ {
		if err := p.processFrame(ctx, frame); err != nil {
			t.Fatalf("processFrame failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	rows, err := alerts.ListAlerts("", 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 persisted alert, got %d", len(rows))
	}
	if rows[0].CameraID != p.ID() {
		t.Errorf("alert camera = %q, want pipeline ID %q", rows[0].CameraID, p.ID())
	}
	if rows[0].PersonID != 0 {
		t.Errorf("alert person = %d, want 0", rows[0].PersonID)
	}

	// The single registered user's contact gets the message.
	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Errorf("delivered %d notifications, want 1", sender.count())
	}
}

func TestPipelineFallDetectionToggle(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	detector := &stubDetector{boxes: []vision.Rect{groundBox()}}
	p := newTestPipeline(t, detector, clock, nil, nil, nil)

	p.SetFallDetection(false)
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for i := 0; i < 12; i++ {
		if err := p.processFrame(context.Background(), frame); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}

	if events := p.Monitor().ActiveEvents(); len(events) != 0 {
		t.Errorf("analysis ran while disabled: %d events", len(events))
	}
	// Tracking still works.
	if tracks := p.Tracks(); len(tracks) != 1 {
		t.Errorf("tracking stopped while fall detection disabled")
	}

	// Re-enabling starts the state machine from scratch.
	p.SetFallDetection(true)
	p.processFrame(context.Background(), frame)
	events := p.Monitor().ActiveEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event after re-enable, got %d", len(events))
	}
	if events[0].Alerted {
		t.Error("event should not inherit duration from disabled period")
	}
}

func TestRunStopsOnEOF(t *testing.T) {
	sim := NewSimCamera([]SimFrame{
		{Boxes: []vision.Rect{uprightBox()}},
		{Boxes: []vision.Rect{uprightBox()}},
	}, time.Millisecond, false)

	p := New(
		Config{CameraName: "sim", FallDetection: true},
		sim, sim,
		vision.NewTracker(vision.DefaultTrackerConfig()),
		fall.NewMonitor(fall.DefaultMonitorConfig(), nil),
		nil, nil, nil, nil,
	)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop at end of stream")
	}

	if _, frames := p.LastFrameAt(); frames != 2 {
		t.Errorf("processed %d frames, want 2", frames)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sim := NewSimCamera(WalkThenFall(), 10*time.Millisecond, true)
	p := New(
		Config{CameraName: "sim", FallDetection: true},
		sim, sim,
		vision.NewTracker(vision.DefaultTrackerConfig()),
		fall.NewMonitor(fall.DefaultMonitorConfig(), nil),
		nil, nil, nil, nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
