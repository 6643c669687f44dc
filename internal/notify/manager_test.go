package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashgrove-care/carewatch/internal/fall"
	"github.com/ashgrove-care/carewatch/internal/store"
	"github.com/ashgrove-care/carewatch/internal/timeutil"
)

// fakeSender records deliveries and fails a configurable number of times.
type fakeSender struct {
	mu        sync.Mutex
	failFirst int
	sms       []string
	emails    []string
}

func (f *fakeSender) SendSMS(ctx context.Context, phone, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("provider unavailable")
	}
	f.sms = append(f.sms, phone)
	return nil
}

func (f *fakeSender) SendEmail(ctx context.Context, email, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("provider unavailable")
	}
	f.emails = append(f.emails, email)
	return nil
}

func (f *fakeSender) smsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sms)
}

func (f *fakeSender) emailCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emails)
}

func testUser() *store.User {
	return &store.User{
		UserID: 1,
		Name:   "Margaret Hale",
		EmergencyContacts: []store.EmergencyContact{
			{Name: "John", Phone: "+447700900001"},
			{Name: "Beth", Email: "beth@example.com"},
		},
	}
}

func runManager(t *testing.T, m *Manager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		m.Wait()
	})
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotifyFallEventFansOut(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(DefaultConfig(), sender, timeutil.NewMockClock(time.Now()))
	runManager(t, m)

	queued := m.NotifyFallEvent(fall.Event{PersonID: 0}, testUser())
	if queued != 2 {
		t.Fatalf("queued %d messages, want 2", queued)
	}

	waitFor(t, func() bool { return sender.smsCount() == 1 && sender.emailCount() == 1 })
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{failFirst: 2}
	clock := timeutil.NewMockClock(time.Now())
	m := NewManager(Config{MaxRetries: 3, RetryDelay: 5 * time.Second, QueueSize: 4}, sender, clock)
	runManager(t, m)

	m.NotifyFallEvent(fall.Event{PersonID: 0}, &store.User{
		Name:              "Arthur",
		EmergencyContacts: []store.EmergencyContact{{Name: "Carer", Phone: "+447700900003"}},
	})

	waitFor(t, func() bool { return sender.smsCount() == 1 })
	if sleeps := clock.Sleeps(); len(sleeps) != 2 {
		t.Errorf("expected 2 retry delays, got %v", sleeps)
	}
}

func TestDeliveryFailsAfterRetryBudget(t *testing.T) {
	sender := &fakeSender{failFirst: 100}
	m := NewManager(Config{MaxRetries: 1, RetryDelay: time.Second, QueueSize: 4}, sender, timeutil.NewMockClock(time.Now()))
	runManager(t, m)

	m.NotifyFallEvent(fall.Event{PersonID: 0}, &store.User{
		Name:              "Arthur",
		EmergencyContacts: []store.EmergencyContact{{Name: "Carer", Phone: "+447700900003"}},
	})

	waitFor(t, func() bool {
		for id := range allStatuses(m) {
			if s, _ := m.MessageStatus(id); s == StatusFailed {
				return true
			}
		}
		return false
	})
}

// allStatuses snapshots the status map under the manager's lock.
func allStatuses(m *Manager) map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

func TestQueueFullDropsMessages(t *testing.T) {
	sender := &fakeSender{}
	// No worker started, so the queue never drains.
	m := NewManager(Config{MaxRetries: 0, RetryDelay: time.Second, QueueSize: 1}, sender, timeutil.NewMockClock(time.Now()))

	u := testUser()
	queued := m.NotifyFallEvent(fall.Event{PersonID: 0}, u)
	if queued != 1 {
		t.Fatalf("queued %d, want 1 (queue capacity)", queued)
	}
	if m.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", m.Dropped())
	}
}

func TestContactWithoutChannelsFails(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(Config{MaxRetries: 0, QueueSize: 4}, sender, timeutil.NewMockClock(time.Now()))
	runManager(t, m)

	m.NotifyFallEvent(fall.Event{PersonID: 0}, &store.User{
		Name:              "Arthur",
		EmergencyContacts: []store.EmergencyContact{{Name: "Unreachable"}},
	})

	waitFor(t, func() bool {
		for _, s := range allStatuses(m) {
			if s == StatusFailed {
				return true
			}
		}
		return false
	})
	if sender.smsCount() != 0 || sender.emailCount() != 0 {
		t.Error("no delivery should be attempted without phone or email")
	}
}
