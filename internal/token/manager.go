// Package token keeps a service-account access token continuously valid in
// the background.
package token

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jgaa/go-push/internal/metrics"
	"github.com/jgaa/go-push/internal/oauth"
)

// State is the manager's phase in its refresh state machine. Transitions only
// move forward; Stopping and Stopped are never left once entered.
type State int32

const (
	Starting State = iota
	Available
	Error
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Available:
		return "available"
	case Error:
		return "error"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// AssertionSource produces a fresh signed assertion for one exchange.
type AssertionSource interface {
	Assertion(now time.Time) (string, error)
}

// Options tune the refresh schedule.
type Options struct {
	// RefreshMargin is how long before token expiry a proactive refresh
	// fires. Defaults to 3 minutes.
	RefreshMargin time.Duration
	// RetryDelay is the wait after a failed exchange. Defaults to 30 seconds.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

const (
	DefaultRefreshMargin = 3 * time.Minute
	DefaultRetryDelay    = 30 * time.Second

	// minRefreshIn keeps a refresh from firing sooner than this, even for
	// tokens granted with very short lifetimes.
	minRefreshIn = time.Minute
)

// Manager owns the current access token and drives the background refresh
// loop. The loop goroutine is the only writer of the token and the state;
// both are read lock-free by any number of callers.
type Manager struct {
	source     AssertionSource
	exchanger  oauth.Exchanger
	margin     time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
	now        func() time.Time

	state   atomic.Int32
	current atomic.Value // oauth.Token

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	runOnce  sync.Once
	stopOnce sync.Once
}

// NewManager constructs a manager. Call Run to start the refresh loop.
func NewManager(source AssertionSource, exchanger oauth.Exchanger, opts Options) *Manager {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = DefaultRefreshMargin
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		source:     source,
		exchanger:  exchanger,
		margin:     opts.RefreshMargin,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.state.Store(int32(Starting))
	return m
}

// Run starts the background refresh loop. Subsequent calls are no-ops.
func (m *Manager) Run() {
	m.runOnce.Do(func() {
		m.started.Store(true)
		go m.loop()
	})
}

// IsReady reports whether a valid token is published and the manager is in
// the Available state. Safe to poll from any goroutine.
func (m *Manager) IsReady() bool {
	return State(m.state.Load()) == Available
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Token returns a snapshot of the most recently acquired token. The snapshot
// may outlive a transition to the Error state: the last known-good token
// persists until replaced. Callers needing a strict guarantee must check
// IsReady first.
func (m *Manager) Token() (oauth.Token, bool) {
	v := m.current.Load()
	if v == nil {
		return oauth.Token{}, false
	}
	return v.(oauth.Token), true
}

// Stop terminates the refresh loop and waits until it has fully exited.
// Idempotent; later calls wait for the same shutdown.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.setState(Stopping)
		m.cancel()
	})
	if !m.started.Load() {
		m.state.Store(int32(Stopped))
		return nil
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	defer m.state.Store(int32(Stopped))

	m.logger.Info("token refresh loop started")
	for {
		wait := m.acquire()
		if m.ctx.Err() != nil {
			m.logger.Info("token refresh loop stopping")
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			m.logger.Info("token refresh loop stopping")
			return
		case <-timer.C:
		}
	}
}

// acquire performs one sign-and-exchange attempt and returns the wait until
// the next attempt.
func (m *Manager) acquire() time.Duration {
	assertion, err := m.source.Assertion(m.now())
	if err != nil {
		return m.fail("sign assertion", err)
	}

	tok, err := m.exchanger.Exchange(m.ctx, assertion)
	if err != nil {
		return m.fail("exchange token", err)
	}

	m.current.Store(tok)
	m.setState(Available)
	metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()

	wait := refreshIn(tok.Expiry, m.now(), m.margin)
	m.logger.Debug("access token refreshed",
		zap.Time("expiry", tok.Expiry),
		zap.Duration("next_refresh_in", wait))
	return wait
}

func (m *Manager) fail(op string, err error) time.Duration {
	if m.ctx.Err() != nil {
		return 0
	}
	m.setState(Error)
	metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
	m.logger.Warn("token acquisition failed",
		zap.String("op", op),
		zap.Duration("retry_in", m.retryDelay),
		zap.Error(err))
	return m.retryDelay
}

// setState advances the state unless a stop has already been requested.
func (m *Manager) setState(s State) {
	for {
		cur := m.state.Load()
		if State(cur) == Stopping || State(cur) == Stopped {
			return
		}
		if m.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// refreshIn computes the wait before the next proactive refresh: margin
// before expiry, but never sooner than minRefreshIn.
func refreshIn(expiry, now time.Time, margin time.Duration) time.Duration {
	wait := expiry.Sub(now) - margin
	if wait < minRefreshIn {
		return minRefreshIn
	}
	return wait
}
