package model

import (
	"sync"

	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/router"
)

// DefaultStatusEntries is how many status_log entries are kept.
const DefaultStatusEntries = 100

type StatusSnapshot struct {
	Entries []events.StatusLog `json:"entries"`
	Dropped uint64             `json:"dropped"`
}

// StatusModel keeps the most recent vehicle status texts, oldest first.
type StatusModel struct {
	bus Bus
	log *zap.Logger

	mu      sync.Mutex
	max     int
	entries []events.StatusLog
	dropped uint64
}

func NewStatusModel(bus Bus, maxEntries int, log *zap.Logger, opts ...router.Option) *StatusModel {
	if maxEntries <= 0 {
		maxEntries = DefaultStatusEntries
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &StatusModel{bus: bus, log: log, max: maxEntries, entries: make([]events.StatusLog, 0, maxEntries)}
	bus.Subscribe(events.StatusLogReceived, router.Func("model.status", m.onStatusLog), opts...)
	return m
}

func (m *StatusModel) Snapshot() StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Clear empties the log.
func (m *StatusModel) Clear() {
	m.mu.Lock()
	m.entries = m.entries[:0]
	m.dropped = 0
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.log.Info("model: status log cleared")
	m.bus.Publish(events.StatusModelChanged, snap)
}

func (m *StatusModel) Reset() { m.Clear() }

func (m *StatusModel) onStatusLog(payload any) error {
	entry, ok := payload.(events.StatusLog)
	if !ok {
		return unexpected(payload)
	}

	m.mu.Lock()
	if len(m.entries) < m.max {
		m.entries = append(m.entries, entry)
	} else {
		copy(m.entries, m.entries[1:])
		m.entries[len(m.entries)-1] = entry
		m.dropped++
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.bus.Publish(events.StatusModelChanged, snap)
	return nil
}

func (m *StatusModel) snapshotLocked() StatusSnapshot {
	out := make([]events.StatusLog, 0, len(m.entries))
	out = append(out, m.entries...)
	return StatusSnapshot{Entries: out, Dropped: m.dropped}
}
