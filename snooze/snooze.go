// Package snooze suspends an idle resource and resumes it on demand. A
// Manager calls down after a period without activity and up again before the
// next unit of work; transitions are serialized and redundant requests
// collapse into no-ops.
package snooze

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qri-io/framestack"
	"github.com/qri-io/framestack/log"
)

// Topic names a kind of Message.
type Topic string

const (
	TopicSnooze         Topic = "SNOOZE"
	TopicUnsnoozeStart  Topic = "UNSNOOZE_START"
	TopicUnsnoozeDone   Topic = "UNSNOOZE_DONE"
	TopicUpdateActivity Topic = "UPDATE_ACTIVITY"
)

// Message is published on every state change and on activity.
type Message struct {
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger. If not provided, nothing is logged.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCheckInterval sets how often the idle timer looks at the activity.
// It defaults to a quarter of the timeout.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// Manager tracks activity and snoozes after timeout without any.
type Manager struct {
	up, down func() error
	timeout  time.Duration
	interval time.Duration
	subs     *Subscriptions
	logger   log.Logger

	// transition serializes up and down.
	transition sync.Mutex

	mu           sync.Mutex
	keepAlive    int
	snoozing     bool
	lastActivity time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a Manager. up resumes and down suspends the managed resource.
// subs may be nil, in which case the Manager creates its own.
func New(up, down func() error, timeout time.Duration, subs *Subscriptions, opts ...Option) (*Manager, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: snooze timeout must be positive, got %s", framestack.ErrConfig, timeout)
	}
	if up == nil || down == nil {
		return nil, fmt.Errorf("%w: snooze needs up and down functions", framestack.ErrConfig)
	}
	if subs == nil {
		subs = NewSubscriptions()
	}
	m := &Manager{
		up:           up,
		down:         down,
		timeout:      timeout,
		subs:         subs,
		logger:       log.NoopLogger{},
		lastActivity: time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = max(timeout/4, time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
	return m, nil
}

// Subscriptions returns the manager's message dispatcher.
func (m *Manager) Subscriptions() *Subscriptions { return m.subs }

// Close stops the idle timer. It does not change the snooze state.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.idle() {
				if err := m.Snooze(); err != nil {
					m.logger.Warn("snooze failed", log.Err(err))
				}
			}
		}
	}
}

func (m *Manager) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.snoozing && m.keepAlive == 0 && time.Since(m.lastActivity) >= m.timeout
}

// IsSnoozing reports whether the resource is suspended.
func (m *Manager) IsSnoozing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snoozing
}

// KeepAliveCount is the number of unreleased KeepAlive calls.
func (m *Manager) KeepAliveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keepAlive
}

// KeepAlive marks the start of work: the resource is resumed if needed and
// is not snoozed until the returned release function is called. release may
// be called more than once.
func (m *Manager) KeepAlive() (release func(), err error) {
	m.mu.Lock()
	m.keepAlive++
	m.mu.Unlock()

	if err := m.Unsnooze(); err != nil {
		m.mu.Lock()
		m.keepAlive--
		m.mu.Unlock()
		return nil, err
	}
	m.touch()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.keepAlive--
			m.mu.Unlock()
			m.touch()
		})
	}, nil
}

// Run calls fn while keeping the resource alive.
func (m *Manager) Run(fn func() error) error {
	release, err := m.KeepAlive()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (m *Manager) touch() {
	now := time.Now()
	m.mu.Lock()
	m.lastActivity = now
	m.mu.Unlock()
	m.subs.Publish(Message{Topic: TopicUpdateActivity, Timestamp: now})
}

// Snooze suspends the resource unless it is already suspended or kept alive.
func (m *Manager) Snooze() error {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	skip := m.snoozing || m.keepAlive > 0
	m.mu.Unlock()
	if skip {
		return nil
	}

	if err := m.down(); err != nil {
		return err
	}
	m.mu.Lock()
	m.snoozing = true
	m.mu.Unlock()
	m.logger.Info("snoozed", log.Duration("timeout", m.timeout))
	m.subs.Publish(Message{Topic: TopicSnooze, Timestamp: time.Now()})
	return nil
}

// Unsnooze resumes the resource if it is suspended.
func (m *Manager) Unsnooze() error {
	m.transition.Lock()
	defer m.transition.Unlock()

	if !m.IsSnoozing() {
		return nil
	}
	m.subs.Publish(Message{Topic: TopicUnsnoozeStart, Timestamp: time.Now()})
	start := time.Now()
	if err := m.up(); err != nil {
		return err
	}
	now := time.Now()
	m.mu.Lock()
	m.snoozing = false
	m.lastActivity = now
	m.mu.Unlock()
	m.logger.Info("unsnoozed", log.Duration("took", now.Sub(start)))
	m.subs.Publish(Message{Topic: TopicUnsnoozeDone, Timestamp: now})
	return nil
}
