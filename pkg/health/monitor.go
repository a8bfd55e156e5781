// Package health watches the change-notification channel and drives
// reconnection when it drops.
//
// The monitor is a two-state machine, connected or disconnected. It flips to
// disconnected as soon as the channel stops listening, and schedules a
// reconnect attempt after the retryer's delay on the next trigger — either
// the periodic timer or an explicit Poke (e.g. the editor regaining focus).
// While disconnected, writes keep flowing into the offline queue; reconnect
// success fires OnReconnect so the queue can be flushed.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the monitor's connection state.
type State int

const (
	StateConnected State = iota
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "invalid"
	}
}

// Channel is the monitored real-time feed.
type Channel interface {
	// IsListening reports whether the feed is currently delivering events.
	IsListening() bool
	// Reconnect re-establishes the feed. Bounded by ctx.
	Reconnect(ctx context.Context) error
}

// DefaultCheckInterval is the periodic trigger cadence.
const DefaultCheckInterval = 30 * time.Second

// DefaultReconnectDelay is the fixed pause before a reconnect attempt.
const DefaultReconnectDelay = 5 * time.Second

// Monitor drives reconnection for one session's channel.
type Monitor struct {
	channel  Channel
	retryer  Retryer
	interval time.Duration
	logger   zerolog.Logger

	// OnReconnect runs after every successful reconnect, before the state
	// transition is logged. The offline store's Flush goes here.
	OnReconnect func(ctx context.Context)

	mu      sync.Mutex
	state   State
	attempt int

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithRetryer(r Retryer) Option {
	return func(m *Monitor) { m.retryer = r }
}

func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func NewMonitor(channel Channel, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		channel:   channel,
		retryer:   NewFixedDelayRetryer(DefaultReconnectDelay, 0),
		interval:  DefaultCheckInterval,
		logger:    logger.With().Str("component", "health").Logger(),
		state:     StateConnected,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic check loop. Calling Start twice is an error.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("health: monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	go m.loop(ctx)
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check(ctx)
		case <-m.triggerCh:
			m.check(ctx)
		}
	}
}

// Poke requests an immediate health check, as on regaining foreground focus.
// It never blocks; coalescing concurrent pokes is fine.
func (m *Monitor) Poke() {
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

// check observes the channel and, when disconnected, runs one delayed
// reconnect attempt. Failure leaves the monitor disconnected until the next
// trigger.
func (m *Monitor) check(ctx context.Context) {
	if m.channel.IsListening() {
		m.transitionTo(StateConnected)
		return
	}

	m.transitionTo(StateDisconnected)

	m.mu.Lock()
	attempt := m.attempt
	m.mu.Unlock()

	delay, retry := m.retryer.NextDelay(attempt)
	if !retry {
		m.logger.Warn().Int("attempt", attempt).Msg("reconnect retries exhausted")
		return
	}

	m.logger.Info().Dur("delay", delay).Int("attempt", attempt).Msg("scheduling reconnect")
	select {
	case <-ctx.Done():
		return
	case <-m.stopCh:
		return
	case <-time.After(delay):
	}

	if err := m.channel.Reconnect(ctx); err != nil {
		m.mu.Lock()
		m.attempt++
		m.mu.Unlock()
		m.logger.Warn().Err(err).Msg("reconnect failed, staying disconnected")
		return
	}

	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
	m.retryer.Reset()

	if m.OnReconnect != nil {
		m.OnReconnect(ctx)
	}
	m.transitionTo(StateConnected)
	m.logger.Info().Msg("real-time channel reconnected")
}

func (m *Monitor) transitionTo(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()
	if prev != next {
		m.logger.Info().
			Stringer("from", prev).
			Stringer("to", next).
			Msg("connection state changed")
	}
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cleanup stops the loop and any pending delayed reconnect. Safe to call on
// a monitor that was never started, and safe to call twice.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	select {
	case <-m.stopCh:
		m.mu.Unlock()
		<-m.doneCh
		return
	default:
	}
	close(m.stopCh)
	m.mu.Unlock()
	<-m.doneCh
}
