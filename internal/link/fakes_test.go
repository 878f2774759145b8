package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/router"
)

type fakeTransport struct {
	frames chan Frame
	errs   chan error

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	sent    []message.Message
	sendErr error
}

func newFakeTransport(frames ...Frame) *fakeTransport {
	t := &fakeTransport{
		frames: make(chan Frame, 64),
		errs:   make(chan error, 4),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		t.frames <- f
	}
	return t
}

func (t *fakeTransport) Receive(timeout time.Duration) (Frame, error) {
	wait := min(timeout, 2*time.Millisecond)
	select {
	case f := <-t.frames:
		return f, nil
	case err := <-t.errs:
		return Frame{}, err
	case <-t.closed:
		return Frame{}, ErrTransportClosed
	case <-time.After(wait):
		return Frame{}, ErrTimeout
	}
}

func (t *fakeTransport) Send(msg message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) sentMessages() []message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]message.Message(nil), t.sent...)
}

// fakeDialer hands out queued transports or errors in order. Once the queue
// is empty every dial fails.
type fakeDialer struct {
	mu    sync.Mutex
	queue []any
	calls []Endpoint
}

func (d *fakeDialer) push(v any) {
	d.mu.Lock()
	d.queue = append(d.queue, v)
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, ep Endpoint) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, ep)
	if len(d.queue) == 0 {
		return nil, errors.New("no route to vehicle")
	}
	v := d.queue[0]
	d.queue = d.queue[1:]
	switch v := v.(type) {
	case *fakeTransport:
		return v, nil
	case error:
		return nil, v
	}
	panic("fakeDialer: bad queue entry")
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type scheduled struct {
	delay time.Duration
	fn    func()
	timer *fakeTimer
}

// fakeScheduler records timers and fires them only when asked.
type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	s.calls = append(s.calls, scheduled{delay: d, fn: fn, timer: t})
	return t
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.delay)
	}
	return out
}

func (s *fakeScheduler) get(i int) scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

// fire runs the i-th timer's callback the way time.AfterFunc would, even if
// it was stopped, so tests can model a timer that fired just before Stop.
func (s *fakeScheduler) fire(i int) {
	s.get(i).fn()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type statusEntry struct {
	Status  string
	Message string
}

// recorder collects what the manager publishes.
type recorder struct {
	mu        sync.Mutex
	statuses  []statusEntry
	telemetry []events.Telemetry
	logs      []events.StatusLog
	responses []events.CommandResponse
}

func newRecorder(r *router.Router) *recorder {
	rec := &recorder{}
	r.Subscribe(events.ConnectionStatusChanged, router.Func("test.status", func(p any) error {
		st := p.(events.ConnectionStatus)
		rec.mu.Lock()
		rec.statuses = append(rec.statuses, statusEntry{st.Status, st.Message})
		rec.mu.Unlock()
		return nil
	}))
	r.Subscribe(events.TelemetryReceived, router.Func("test.telemetry", func(p any) error {
		rec.mu.Lock()
		rec.telemetry = append(rec.telemetry, p.(events.Telemetry))
		rec.mu.Unlock()
		return nil
	}))
	r.Subscribe(events.StatusLogReceived, router.Func("test.log", func(p any) error {
		rec.mu.Lock()
		rec.logs = append(rec.logs, p.(events.StatusLog))
		rec.mu.Unlock()
		return nil
	}))
	r.Subscribe(events.CommandResponded, router.Func("test.response", func(p any) error {
		rec.mu.Lock()
		rec.responses = append(rec.responses, p.(events.CommandResponse))
		rec.mu.Unlock()
		return nil
	}))
	return rec
}

func (r *recorder) takeStatuses() []statusEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.statuses
	r.statuses = nil
	return out
}

func (r *recorder) counts() (telemetry, logs, responses int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.telemetry), len(r.logs), len(r.responses)
}

func (r *recorder) lastResponse() events.CommandResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		return events.CommandResponse{}
	}
	return r.responses[len(r.responses)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func requireStatuses(t *testing.T, got []statusEntry, want ...statusEntry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("statuses=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status[%d]=%v want %v (all: %v)", i, got[i], want[i], got)
		}
	}
}

func vehicleHeartbeat(mode uint32, armed bool) *common.MessageHeartbeat {
	base := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	if armed {
		base |= common.MAV_MODE_FLAG_SAFETY_ARMED
	}
	return &common.MessageHeartbeat{
		Type:         common.MAV_TYPE_QUADROTOR,
		Autopilot:    common.MAV_AUTOPILOT_ARDUPILOTMEGA,
		BaseMode:     base,
		CustomMode:   mode,
		SystemStatus: common.MAV_STATE_STANDBY,
	}
}

const modeGuided = 4

func vehicleFrame(msg message.Message) Frame {
	return Frame{Message: msg, SystemID: 1, ComponentID: 1}
}

type harness struct {
	m      *Manager
	bus    *router.Router
	rec    *recorder
	dialer *fakeDialer
	sched  *fakeScheduler
	clock  *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.StreamIntervals == nil {
		cfg.StreamIntervals = []StreamInterval{}
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Millisecond
	}
	h := &harness{
		bus:    router.New(zap.NewNop(), nil),
		dialer: &fakeDialer{},
		sched:  &fakeScheduler{},
		clock:  newFakeClock(),
	}
	h.rec = newRecorder(h.bus)
	m, err := NewManager(cfg, h.bus, h.dialer, zap.NewNop(), WithScheduler(h.sched), WithClock(h.clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.m = m
	t.Cleanup(func() {
		h.m.interrupt()
		h.m.disconnect()
	})
	return h
}

// connect publishes a connect request and drives the work loop through the
// handshake.
func (h *harness) connect(locator string) {
	h.bus.Publish(events.ConnectionRequested, events.ConnectRequest{Locator: locator})
	h.m.work.RunPending()
}

func (h *harness) connectedTransport(t *testing.T, frames ...Frame) *fakeTransport {
	t.Helper()
	tr := newFakeTransport(append([]Frame{vehicleFrame(vehicleHeartbeat(modeGuided, false))}, frames...)...)
	h.dialer.push(tr)
	h.connect("udp:localhost:14550")
	if got := h.m.State(); got != StateConnected {
		t.Fatalf("state=%v want CONNECTED", got)
	}
	return tr
}

// drainLoss waits for the receive loop to report a lost link and processes
// the report.
func (h *harness) drainLoss(t *testing.T) {
	t.Helper()
	waitFor(t, "link loss report", func() bool { return h.m.work.Pending() > 0 })
	h.m.work.RunPending()
}
