// Package monitor is a terminal dashboard for the link and the vehicle. The
// bubbletea program doubles as the router's UI context.
package monitor

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/model"
	"groundlink/internal/router"
)

// teaProgram abstracts tea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// runMsg carries a router delivery into Update.
type runMsg struct{ fn func() }

type Subscriber interface {
	Subscribe(category router.Category, h router.Handler, opts ...router.Option)
}

// Actions are the operator keys. Nil entries are ignored.
type Actions struct {
	Connect     func()
	Disconnect  func()
	ClearStatus func()
}

// view is the state the screen renders. It is only touched on the program's
// goroutine.
type view struct {
	locator  string
	conn     model.ConnectionSnapshot
	vehicle  model.VehicleSnapshot
	status   model.StatusSnapshot
	response *events.CommandResponse
}

// Monitor implements router.Dispatcher. Posted functions are queued and
// forwarded into the program in order, so Post never blocks even before
// the program starts.
type Monitor struct {
	log     *zap.Logger
	actions Actions
	queue   *router.Loop
	st      *view
	program teaProgram
	opts    []tea.ProgramOption
}

func New(locator string, actions Actions, log *zap.Logger, opts ...tea.ProgramOption) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		log:     log,
		actions: actions,
		queue:   router.NewLoop(),
		st:      &view{locator: locator, conn: model.ConnectionSnapshot{Status: "DISCONNECTED"}},
		opts:    opts,
	}
}

func (m *Monitor) Post(fn func()) {
	if fn == nil {
		return
	}
	m.queue.Post(func() { m.program.Send(runMsg{fn: fn}) })
}

// Attach subscribes the screen to the model snapshots and command
// responses. Deliveries run on the program's goroutine.
func (m *Monitor) Attach(bus Subscriber) {
	bus.Subscribe(events.ConnectionModelChanged, router.Func("monitor.connection", func(p any) error {
		s, ok := p.(model.ConnectionSnapshot)
		if !ok {
			return fmt.Errorf("monitor: unexpected payload %T", p)
		}
		m.st.conn = s
		return nil
	}), router.OnUI())
	bus.Subscribe(events.VehicleModelChanged, router.Func("monitor.vehicle", func(p any) error {
		s, ok := p.(model.VehicleSnapshot)
		if !ok {
			return fmt.Errorf("monitor: unexpected payload %T", p)
		}
		m.st.vehicle = s
		return nil
	}), router.OnUI())
	bus.Subscribe(events.StatusModelChanged, router.Func("monitor.status", func(p any) error {
		s, ok := p.(model.StatusSnapshot)
		if !ok {
			return fmt.Errorf("monitor: unexpected payload %T", p)
		}
		m.st.status = s
		return nil
	}), router.OnUI())
	bus.Subscribe(events.CommandResponded, router.Func("monitor.response", func(p any) error {
		r, ok := p.(events.CommandResponse)
		if !ok {
			return fmt.Errorf("monitor: unexpected payload %T", p)
		}
		m.st.response = &r
		return nil
	}), router.OnUI())
}

// Run shows the dashboard until the operator quits or ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newScreen(m.st, m.actions), append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, m.opts...)...)
	m.program = p
	go m.queue.Run(ctx)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("monitor: %w", err)
	}
	m.log.Debug("monitor: closed")
	return nil
}
