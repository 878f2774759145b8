package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/router"
)

type Config struct {
	// HeartbeatWait bounds the handshake.
	HeartbeatWait time.Duration
	// LivenessTimeout is the longest gap between heartbeats before the link
	// counts as lost.
	LivenessTimeout time.Duration
	// ReadTimeout bounds each blocking receive.
	ReadTimeout  time.Duration
	CloseTimeout time.Duration
	BackoffBase  time.Duration
	MaxAttempts  int
	// ErrorDebounce is the pause after an unexpected receive error.
	ErrorDebounce time.Duration

	DefaultBaud     int
	StreamIntervals []StreamInterval
	StreamGap       time.Duration

	Gate Gate
}

func (c *Config) applyDefaults() {
	if c.HeartbeatWait <= 0 {
		c.HeartbeatWait = 10 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = c.ReadTimeout + time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ErrorDebounce <= 0 {
		c.ErrorDebounce = 100 * time.Millisecond
	}
	if c.DefaultBaud <= 0 {
		c.DefaultBaud = DefaultBaud
	}
	if c.StreamIntervals == nil {
		c.StreamIntervals = DefaultStreamIntervals
	}
	if c.StreamGap <= 0 {
		c.StreamGap = 50 * time.Millisecond
	}
	if len(c.Gate.AllowedModes) == 0 {
		c.Gate.AllowedModes = []string{"GUIDED"}
	}
	if c.Gate.MinAltitudeM <= 0 {
		c.Gate.MinAltitudeM = 1
	}
	if c.Gate.MaxAltitudeM <= 0 {
		c.Gate.MaxAltitudeM = 100
	}
}

// Bus is the part of the router the Manager needs.
type Bus interface {
	Publish(category router.Category, payload any)
	Subscribe(category router.Category, h router.Handler, opts ...router.Option)
}

type ManagerOption func(*Manager)

// WithScheduler replaces the timer used for reconnect backoff.
func WithScheduler(s Scheduler) ManagerOption {
	return func(m *Manager) { m.sched = s }
}

// WithClock replaces time.Now for liveness tracking.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager owns the connection state, the active Session and the
// reconnection Supervisor. Every state transition runs on its work loop,
// so status events leave in the order the transitions happened.
type Manager struct {
	cfg     Config
	streams []streamRequest
	bus     Bus
	dial    Dialer
	sup     *Supervisor
	sched   Scheduler
	work    *router.Loop
	log     *zap.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	message    string
	desc       Descriptor
	handle     Handle
	runCtx     context.Context
	cancelOpen context.CancelFunc

	// session is only touched on the work loop.
	session *Session
}

// Snapshot is the Manager's state for status pages.
type Snapshot struct {
	State       State      `json:"state"`
	Message     string     `json:"message,omitempty"`
	Locator     string     `json:"locator,omitempty"`
	Baud        int        `json:"baud,omitempty"`
	Session     *Handle    `json:"session,omitempty"`
	Retry       RetryState `json:"retry"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
}

func NewManager(cfg Config, bus Bus, dial Dialer, log *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if bus == nil {
		return nil, fmt.Errorf("link manager bus is required")
	}
	if dial == nil {
		return nil, fmt.Errorf("link manager dialer is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()
	streams, err := resolveStreams(cfg.StreamIntervals)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		streams: streams,
		bus:     bus,
		dial:    dial,
		work:    router.NewLoop(),
		log:     log,
		now:     time.Now,
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sup, err = NewSupervisor(cfg.BackoffBase, cfg.MaxAttempts, m.sched)
	if err != nil {
		return nil, err
	}

	bus.Subscribe(events.ConnectionRequested, router.Func("link.connect", m.onConnectRequested))
	bus.Subscribe(events.DisconnectRequested, router.Func("link.disconnect", m.onDisconnectRequested))
	bus.Subscribe(events.ArmTakeoffRequested, router.Func("link.arm_takeoff", m.onArmTakeoffRequested))
	return m, nil
}

// Run processes link work until ctx is done, then closes any open session.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	m.work.Run(ctx)

	m.interrupt()
	m.disconnect()
}

// Open connects to desc, replacing any current session, and returns once
// the handshake has succeeded or failed. Run must be active.
func (m *Manager) Open(ctx context.Context, desc Descriptor) (Handle, error) {
	type result struct {
		h   Handle
		err error
	}
	ch := make(chan result, 1)
	m.interrupt()
	m.work.Post(func() {
		h, err := m.connect(desc)
		ch <- result{h, err}
	})
	select {
	case r := <-ch:
		return r.h, r.err
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}
}

// Close tears down the session and cancels any pending reconnect. It is
// idempotent and safe before any Open. Run must be active.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	m.interrupt()
	m.work.Post(func() {
		m.disconnect()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		State:       m.state,
		Message:     m.message,
		Locator:     m.desc.Locator,
		Baud:        m.desc.Baud,
		MaxAttempts: m.cfg.MaxAttempts,
	}
	if m.handle.ID != "" {
		h := m.handle
		snap.Session = &h
	}
	m.mu.Unlock()
	snap.Retry = m.sup.State()
	snap.Attempts = m.sup.Attempts()
	return snap
}

func (m *Manager) onConnectRequested(payload any) error {
	req, ok := payload.(events.ConnectRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	m.log.Info("link: connection requested", zap.String("locator", req.Locator), zap.Int("baud", req.Baud))
	m.interrupt()
	m.work.Post(func() {
		if _, err := m.connect(Descriptor{Locator: req.Locator, Baud: req.Baud}); err != nil {
			m.log.Warn("link: connect failed", zap.String("locator", req.Locator), zap.Error(err))
		}
	})
	return nil
}

func (m *Manager) onDisconnectRequested(any) error {
	m.log.Info("link: disconnect requested")
	m.interrupt()
	m.work.Post(m.disconnect)
	return nil
}

func (m *Manager) onArmTakeoffRequested(payload any) error {
	req, ok := payload.(events.ArmTakeoffRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	m.work.Post(func() {
		m.bus.Publish(events.CommandResponded, m.armTakeoff(req.AltitudeM))
	})
	return nil
}

// interrupt runs on the caller's goroutine: it aborts an in-flight
// handshake and any pending retry so a new request does not queue behind
// them.
func (m *Manager) interrupt() {
	m.mu.Lock()
	if m.cancelOpen != nil {
		m.cancelOpen()
	}
	m.mu.Unlock()
	m.sup.Reset()
}

func (m *Manager) connect(desc Descriptor) (Handle, error) {
	m.sup.Reset()
	m.dropSession()

	m.mu.Lock()
	m.desc = desc
	m.mu.Unlock()
	return m.open(desc)
}

// open performs one connection attempt for desc.
func (m *Manager) open(desc Descriptor) (Handle, error) {
	m.mu.Lock()
	ctx, cancel := context.WithCancel(m.runCtx)
	m.cancelOpen = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelOpen = nil
		m.mu.Unlock()
		cancel()
	}()

	m.setStatus(StateConnecting, fmt.Sprintf("Connecting to %s...", desc.Locator))

	ep, err := ParseDescriptor(desc, m.cfg.DefaultBaud)
	if err != nil {
		m.setStatus(StateError, err.Error())
		return Handle{}, err
	}
	tr, err := m.dial.Dial(ctx, ep)
	if err != nil {
		m.setStatus(StateError, fmt.Sprintf("Connection failed: %v", err))
		return Handle{}, fmt.Errorf("dial %s: %w", ep, err)
	}

	s := newSession(m.cfg, desc, ep, tr, sessionHooks{publish: m.bus.Publish, lost: m.onSessionLost}, m.log, m.now)
	m.setStatus(StateConnecting, "Waiting for heartbeat...")
	if err := s.awaitHeartbeat(ctx); err != nil {
		s.closeTransport()
		reason := "Heartbeat timed out"
		switch {
		case errors.Is(err, context.Canceled):
			reason = "Connection attempt cancelled"
		case !errors.Is(err, ErrHeartbeatTimeout):
			reason = fmt.Sprintf("Connection failed: %v", err)
		}
		m.setStatus(StateError, reason)
		return Handle{}, fmt.Errorf("handshake %s: %w", ep, err)
	}

	m.session = s
	h := s.Handle()
	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()

	m.setStatus(StateConnected, fmt.Sprintf("Heartbeat received (sys:%d comp:%d)", h.Target.System, h.Target.Component))
	s.start()
	go s.requestStreams(m.streams)
	return h, nil
}

// onSessionLost is called by a receive loop on its way out.
func (m *Manager) onSessionLost(s *Session, reason string, fault bool) {
	m.work.Post(func() {
		if m.session != s {
			return
		}
		m.dropSession()
		if fault {
			m.setStatus(StateError, reason)
		} else {
			m.setStatus(StateReconnecting, reason)
		}
		m.scheduleRetry()
	})
}

func (m *Manager) scheduleRetry() {
	attempt, delay, ok := m.sup.Schedule(func(gen uint64) {
		m.work.Post(func() { m.retry(gen) })
	})
	if !ok {
		m.log.Error("link: giving up", zap.Int("attempts", m.cfg.MaxAttempts))
		m.setStatus(StateError, fmt.Sprintf("Reconnect failed after %d attempts", m.cfg.MaxAttempts))
		return
	}
	m.log.Warn("link: reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("retry_in", delay))
	m.setStatus(StateReconnecting, fmt.Sprintf("Reconnecting in %s (attempt %d/%d)", delay, attempt, m.cfg.MaxAttempts))
}

func (m *Manager) retry(gen uint64) {
	if !m.sup.Claim(gen) {
		return
	}
	attempts := m.sup.Attempts()
	m.dropSession()

	m.mu.Lock()
	desc := m.desc
	m.mu.Unlock()

	if _, err := m.open(desc); err != nil {
		m.log.Warn("link: reconnect attempt failed", zap.Int("attempt", attempts), zap.Error(err))
		// A request that arrived during the attempt reset the supervisor.
		if m.sup.Claim(gen) {
			m.scheduleRetry()
		}
		return
	}
	m.sup.Reset()
	m.setStatus(StateConnected, fmt.Sprintf("Link recovered after %d attempt(s)", attempts))
}

// dropSession tears down the current session without a status change.
func (m *Manager) dropSession() {
	if m.session == nil {
		return
	}
	m.session.shutdown(m.cfg.CloseTimeout)
	m.session = nil
	m.mu.Lock()
	m.handle = Handle{}
	m.mu.Unlock()
}

func (m *Manager) disconnect() {
	m.sup.Reset()
	m.dropSession()
	m.setStatus(StateDisconnected, "Connection closed.")
}

func (m *Manager) armTakeoff(altitudeM float64) events.CommandResponse {
	resp := events.CommandResponse{Command: CommandArmTakeoff}
	s := m.session
	if s == nil {
		resp.Message = "Not connected"
		return resp
	}
	if reason, ok := m.cfg.Gate.Check(s.Vehicle(), altitudeM); !ok {
		m.log.Warn("link: arm/takeoff rejected", zap.String("reason", reason))
		resp.Message = reason
		return resp
	}

	arm := commandLong(s.target, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
	if err := s.send(arm); err != nil {
		resp.Message = fmt.Sprintf("Arm command failed: %v", err)
		return resp
	}
	takeoff := commandLong(s.target, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitudeM))
	if err := s.send(takeoff); err != nil {
		resp.Message = fmt.Sprintf("Takeoff command failed: %v", err)
		return resp
	}
	m.log.Info("link: arm/takeoff sent", zap.Float64("altitude_m", altitudeM))
	resp.Success = true
	resp.Message = fmt.Sprintf("Arm and takeoff to %.1f m sent", altitudeM)
	return resp
}

// setStatus applies a transition and publishes it. A repeat of the current
// state is only published when it carries a new message.
func (m *Manager) setStatus(state State, msg string) {
	m.mu.Lock()
	if state == m.state && (msg == "" || msg == m.message) {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.message = msg
	loc := m.desc.Locator
	m.mu.Unlock()

	fields := []zap.Field{zap.Stringer("status", state), zap.String("message", msg)}
	if state == StateError {
		m.log.Error("link: status", fields...)
	} else {
		m.log.Info("link: status", fields...)
	}
	m.bus.Publish(events.ConnectionStatusChanged, events.ConnectionStatus{
		Status:  state.String(),
		Message: msg,
		Locator: loc,
	})
}
