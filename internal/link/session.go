package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/router"
	"groundlink/internal/telemetry"
)

const (
	// MAV_TYPE_GCS; heartbeats from other ground stations are not liveness.
	mavTypeGCS = 6
	// MAV_SEVERITY_ERROR and more severe are logged as errors.
	severityError = 3
)

// Target identifies the vehicle that answered the handshake.
type Target struct {
	System    uint8 `json:"system"`
	Component uint8 `json:"component"`
}

// Handle describes an open session.
type Handle struct {
	ID      string `json:"id"`
	Locator string `json:"locator"`
	Target  Target `json:"target"`
}

// VehicleView is the last arm state and mode seen in a heartbeat. The
// command gate uses it.
type VehicleView struct {
	Known bool
	Armed bool
	Mode  string
}

type sessionHooks struct {
	publish func(router.Category, any)
	// lost is called from the receive loop right before it exits because
	// the link is gone. It must not block.
	lost func(s *Session, reason string, fault bool)
}

// Session is one open link: the transport, the receive loop that reads it,
// and the liveness state for that loop.
type Session struct {
	id     string
	desc   Descriptor
	ep     Endpoint
	cfg    Config
	tr     Transport
	target Target
	hooks  sessionHooks
	log    *zap.Logger
	now    func() time.Time

	sendMu    sync.Mutex
	trClosed  bool
	closeOnce sync.Once

	lastHeartbeat atomic.Int64
	vehicle       atomic.Pointer[VehicleView]

	stop     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

func newSession(cfg Config, desc Descriptor, ep Endpoint, tr Transport, hooks sessionHooks, log *zap.Logger, now func() time.Time) *Session {
	id := uuid.NewString()
	return &Session{
		id:    id,
		desc:  desc,
		ep:    ep,
		cfg:   cfg,
		tr:    tr,
		hooks: hooks,
		log:   log.With(zap.String("session", id), zap.String("endpoint", ep.String())),
		now:   now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (s *Session) Handle() Handle {
	return Handle{ID: s.id, Locator: s.desc.Locator, Target: s.target}
}

func (s *Session) Vehicle() VehicleView {
	if v := s.vehicle.Load(); v != nil {
		return *v
	}
	return VehicleView{}
}

// awaitHeartbeat blocks until the first vehicle heartbeat, the configured
// wait elapses, or ctx is done.
func (s *Session) awaitHeartbeat(ctx context.Context) error {
	deadline := s.now().Add(s.cfg.HeartbeatWait)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return ErrHeartbeatTimeout
		}

		f, err := s.tr.Receive(min(remaining, s.cfg.ReadTimeout))
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrMalformed):
			continue
		default:
			return err
		}

		hb, ok := f.Message.(*common.MessageHeartbeat)
		if !ok || int(hb.Type) == mavTypeGCS {
			continue
		}
		s.target = Target{System: f.SystemID, Component: f.ComponentID}
		s.noteHeartbeat(hb)
		return nil
	}
}

func (s *Session) noteHeartbeat(hb *common.MessageHeartbeat) {
	s.lastHeartbeat.Store(s.now().UnixNano())
	if rec, ok := telemetry.Classify(hb, s.now()); ok {
		st := rec.(telemetry.SystemStatus)
		s.vehicle.Store(&VehicleView{Known: true, Armed: *st.Armed, Mode: *st.Mode})
	}
}

func (s *Session) start() {
	s.started.Store(true)
	go s.receiveLoop()
}

func (s *Session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	defer s.closeTransport()

	s.log.Info("link: receive loop started")
	defer s.log.Info("link: receive loop finished")

	for {
		if s.stopping() {
			return
		}
		f, err := s.tr.Receive(s.cfg.ReadTimeout)
		if s.stopping() {
			return
		}

		switch {
		case err == nil:
			s.handleFrame(f)
		case errors.Is(err, ErrTimeout):
		case errors.Is(err, ErrMalformed):
			s.log.Warn("link: skipping malformed frame", zap.Error(err))
		case IsDisconnect(err):
			s.log.Error("link: transport fault", zap.Error(err))
			s.hooks.lost(s, fmt.Sprintf("Transport fault: %v", err), true)
			return
		default:
			s.log.Error("link: unexpected receive error", zap.Error(err))
			if !s.pause(s.cfg.ErrorDebounce) {
				return
			}
		}

		since := s.now().Sub(time.Unix(0, s.lastHeartbeat.Load()))
		if since > s.cfg.LivenessTimeout {
			s.log.Warn("link: heartbeat lost", zap.Duration("since_last", since))
			s.hooks.lost(s, fmt.Sprintf("No heartbeat for %s", s.cfg.LivenessTimeout), false)
			return
		}
	}
}

func (s *Session) handleFrame(f Frame) {
	if f.SystemID != s.target.System {
		return
	}
	if ack, ok := f.Message.(*common.MessageCommandAck); ok {
		s.hooks.publish(events.CommandResponded, ackResponse(ack))
		return
	}
	if !telemetry.Tracked(f.Message) {
		return
	}
	if hb, ok := f.Message.(*common.MessageHeartbeat); ok {
		if int(hb.Type) == mavTypeGCS {
			return
		}
		s.noteHeartbeat(hb)
	}

	rec, ok := telemetry.Classify(f.Message, s.now())
	if !ok {
		return
	}
	if st, isText := rec.(telemetry.StatusText); isText {
		fields := []zap.Field{zap.Int("severity", st.Severity), zap.String("text", st.Text)}
		if st.Severity <= severityError {
			s.log.Error("link: vehicle status", fields...)
		} else {
			s.log.Info("link: vehicle status", fields...)
		}
		s.hooks.publish(events.StatusLogReceived, events.StatusLog{Text: st.Text, Severity: st.Severity, Time: st.Time})
		return
	}
	s.hooks.publish(events.TelemetryReceived, events.Telemetry{Record: rec})
}

// pause waits d unless the session is stopped first.
func (s *Session) pause(d time.Duration) bool {
	if d <= 0 {
		return !s.stopping()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Session) send(msg message.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.trClosed || s.stopping() {
		return ErrNotConnected
	}
	return s.tr.Send(msg)
}

func (s *Session) closeTransport() {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.trClosed = true
		s.sendMu.Unlock()
		if err := s.tr.Close(); err != nil {
			s.log.Warn("link: transport close failed", zap.Error(err))
		}
	})
}

// shutdown stops the receive loop, waits up to timeout for it to exit and
// releases the transport. Safe to call more than once and from any state.
func (s *Session) shutdown(timeout time.Duration) {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		t := time.NewTimer(timeout)
		select {
		case <-s.done:
		case <-t.C:
			s.log.Warn("link: receive loop did not exit in time", zap.Duration("timeout", timeout))
		}
		t.Stop()
	}
	s.closeTransport()
}

// requestStreams asks the vehicle for each configured message rate, one
// COMMAND_LONG at a time with a short gap in between.
func (s *Session) requestStreams(streams []streamRequest) {
	for i, st := range streams {
		if i > 0 && !s.pause(s.cfg.StreamGap) {
			return
		}
		msg := commandLong(s.target, common.MAV_CMD_SET_MESSAGE_INTERVAL, float32(st.id), float32(st.interval.Microseconds()))
		if err := s.send(msg); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return
			}
			s.log.Warn("link: stream request failed", zap.String("message", st.name), zap.Error(err))
			continue
		}
		s.log.Debug("link: stream requested", zap.String("message", st.name), zap.Duration("interval", st.interval))
	}
}
