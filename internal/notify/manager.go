// Package notify queues and delivers emergency notifications for fall
// alerts. Delivery transports (SMS, email) are pluggable so the service
// never depends on a particular provider.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashgrove-care/carewatch/internal/fall"
	"github.com/ashgrove-care/carewatch/internal/monitoring"
	"github.com/ashgrove-care/carewatch/internal/store"
	"github.com/ashgrove-care/carewatch/internal/timeutil"
)

// Status is the delivery state of one notification message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is one queued notification for one emergency contact.
type Message struct {
	ID        string                 `json:"id"`
	UserID    int64                  `json:"user_id"`
	PersonID  int                    `json:"person_id"`
	Contact   store.EmergencyContact `json:"contact"`
	Body      string                 `json:"body"`
	Status    Status                 `json:"status"`
	Attempts  int                    `json:"attempts"`
	CreatedAt time.Time              `json:"created_at"`
}

// Sender delivers a message over a concrete transport. Both methods should
// return quickly; the manager's worker applies the retry policy.
type Sender interface {
	SendSMS(ctx context.Context, phone, body string) error
	SendEmail(ctx context.Context, email, subject, body string) error
}

// Config holds manager tuning.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
	QueueSize  int
}

// DefaultConfig returns default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		QueueSize:  64,
	}
}

// Manager fans fall alerts out to a user's emergency contacts from a single
// worker goroutine. Enqueueing never blocks the camera pipeline: when the
// queue is full the message is dropped and counted, not waited on.
type Manager struct {
	config Config
	sender Sender
	clock  timeutil.Clock

	queue chan *Message

	mu       sync.Mutex
	statuses map[string]Status
	dropped  int

	wg sync.WaitGroup
}

// NewManager creates a notification manager. A nil clock defaults to the
// real clock.
func NewManager(config Config, sender Sender, clock timeutil.Clock) *Manager {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		config:   config,
		sender:   sender,
		clock:    clock,
		queue:    make(chan *Message, config.QueueSize),
		statuses: make(map[string]Status),
	}
}

// Start launches the delivery worker. It runs until ctx is cancelled, then
// drains whatever is already queued.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case msg := <-m.queue:
				m.deliver(ctx, msg)
			case <-ctx.Done():
				m.drain()
				return
			}
		}
	}()
}

// Wait blocks until the worker has exited. Call after cancelling the context
// passed to Start.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// NotifyFallEvent queues one message per emergency contact of the user
// matched to the fall event. Returns the number of messages queued.
func (m *Manager) NotifyFallEvent(ev fall.Event, user *store.User) int {
	body := fmt.Sprintf(
		"EMERGENCY: %s may have fallen and has not gotten up for an extended period. Please check on them immediately.",
		user.Name,
	)

	queued := 0
	for _, contact := range user.EmergencyContacts {
		msg := &Message{
			ID:        uuid.NewString(),
			UserID:    user.UserID,
			PersonID:  ev.PersonID,
			Contact:   contact,
			Body:      body,
			Status:    StatusPending,
			CreatedAt: m.clock.Now(),
		}

		select {
		case m.queue <- msg:
			m.setStatus(msg.ID, StatusPending)
			queued++
		default:
			m.mu.Lock()
			m.dropped++
			m.mu.Unlock()
			monitoring.Logf("notify: queue full, dropping message for contact %s", contact.Name)
		}
	}
	return queued
}

// deliver attempts SMS first, then email, retrying up to the configured
// budget with a fixed delay between attempts.
func (m *Manager) deliver(ctx context.Context, msg *Message) {
	subject := "CareWatch emergency alert"

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			m.clock.Sleep(m.config.RetryDelay)
		}
		msg.Attempts++

		err := m.send(ctx, msg, subject)
		if err == nil {
			m.setStatus(msg.ID, StatusSent)
			monitoring.Logf("notify: delivered message %s to %s (attempt %d)", msg.ID, msg.Contact.Name, msg.Attempts)
			return
		}
		monitoring.Logf("notify: delivery attempt %d for message %s failed: %v", msg.Attempts, msg.ID, err)

		if ctx.Err() != nil {
			break
		}
	}

	m.setStatus(msg.ID, StatusFailed)
}

func (m *Manager) send(ctx context.Context, msg *Message, subject string) error {
	var smsErr, emailErr error

	if msg.Contact.Phone != "" {
		smsErr = m.sender.SendSMS(ctx, msg.Contact.Phone, msg.Body)
		if smsErr == nil {
			return nil
		}
	}
	if msg.Contact.Email != "" {
		emailErr = m.sender.SendEmail(ctx, msg.Contact.Email, subject, msg.Body)
		if emailErr == nil {
			return nil
		}
	}

	if msg.Contact.Phone == "" && msg.Contact.Email == "" {
		return fmt.Errorf("contact %s has no phone or email", msg.Contact.Name)
	}
	return fmt.Errorf("sms: %v, email: %v", smsErr, emailErr)
}

// drain delivers already-queued messages after shutdown was requested, each
// with a single attempt so shutdown stays bounded.
func (m *Manager) drain() {
	for {
		select {
		case msg := <-m.queue:
			msg.Attempts++
			if err := m.send(context.Background(), msg, "CareWatch emergency alert"); err != nil {
				monitoring.Logf("notify: drain delivery for message %s failed: %v", msg.ID, err)
				m.setStatus(msg.ID, StatusFailed)
			} else {
				m.setStatus(msg.ID, StatusSent)
			}
		default:
			return
		}
	}
}

func (m *Manager) setStatus(id string, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = s
}

// MessageStatus returns the delivery status of a message.
func (m *Manager) MessageStatus(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[id]
	return s, ok
}

// Dropped returns how many messages were discarded because the queue was
// full.
func (m *Manager) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
