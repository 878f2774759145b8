package model

import (
	"sync"

	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/router"
)

const statusDisconnected = "DISCONNECTED"

type ConnectionSnapshot struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Locator string `json:"locator"`
	Baud    int    `json:"baud"`
}

// ConnectionModel mirrors the link's connection status. The only way it
// can influence the link is by publishing requests.
type ConnectionModel struct {
	bus Bus
	log *zap.Logger

	mu   sync.Mutex
	snap ConnectionSnapshot
}

func NewConnectionModel(bus Bus, log *zap.Logger, opts ...router.Option) *ConnectionModel {
	if log == nil {
		log = zap.NewNop()
	}
	m := &ConnectionModel{bus: bus, log: log, snap: ConnectionSnapshot{Status: statusDisconnected}}
	bus.Subscribe(events.ConnectionStatusChanged, router.Func("model.connection.status", m.onStatus), opts...)
	bus.Subscribe(events.ConnectionRequested, router.Func("model.connection.request", m.onRequest), opts...)
	return m
}

func (m *ConnectionModel) Snapshot() ConnectionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RequestConnect asks the link to connect to locator.
func (m *ConnectionModel) RequestConnect(locator string, baud int) {
	m.bus.Publish(events.ConnectionRequested, events.ConnectRequest{Locator: locator, Baud: baud})
}

func (m *ConnectionModel) RequestDisconnect() {
	m.bus.Publish(events.DisconnectRequested, events.DisconnectRequest{})
}

func (m *ConnectionModel) Reset() {
	m.update(func(s *ConnectionSnapshot) { *s = ConnectionSnapshot{Status: statusDisconnected} })
}

func (m *ConnectionModel) onStatus(payload any) error {
	st, ok := payload.(events.ConnectionStatus)
	if !ok {
		return unexpected(payload)
	}
	m.update(func(s *ConnectionSnapshot) {
		s.Status = st.Status
		s.Message = st.Message
		if st.Locator != "" && st.Locator != s.Locator {
			s.Locator = st.Locator
			s.Baud = 0
		}
	})
	return nil
}

// onRequest remembers the requested baud; status events do not carry it.
func (m *ConnectionModel) onRequest(payload any) error {
	req, ok := payload.(events.ConnectRequest)
	if !ok {
		return unexpected(payload)
	}
	m.update(func(s *ConnectionSnapshot) {
		s.Locator = req.Locator
		s.Baud = req.Baud
	})
	return nil
}

func (m *ConnectionModel) update(fn func(*ConnectionSnapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	snap := m.snap
	m.mu.Unlock()

	m.log.Debug("model: connection changed", zap.String("status", snap.Status), zap.String("locator", snap.Locator))
	m.bus.Publish(events.ConnectionModelChanged, snap)
}
