package model

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"groundlink/internal/events"
	"groundlink/internal/router"
	"groundlink/internal/telemetry"
)

// VehicleSnapshot is the merged vehicle state. A field stays at its last
// reported value until Reset; a record that omits it does not clear it.
type VehicleSnapshot struct {
	Attitude     *telemetry.Attitude              `json:"attitude,omitempty"`
	Position     telemetry.Position               `json:"position"`
	GPS          telemetry.GPSInfo                `json:"gps"`
	SystemStatus telemetry.SystemStatus           `json:"system_status"`
	SpeedHeading telemetry.SpeedHeading           `json:"speed_heading"`
	RCChannels   *telemetry.RCChannels            `json:"rc_channels,omitempty"`
	Updated      map[telemetry.Category]time.Time `json:"updated"`
}

type VehicleModel struct {
	bus Bus
	log *zap.Logger

	mu    sync.Mutex
	state VehicleSnapshot
}

func NewVehicleModel(bus Bus, log *zap.Logger, opts ...router.Option) *VehicleModel {
	if log == nil {
		log = zap.NewNop()
	}
	m := &VehicleModel{bus: bus, log: log}
	m.state.Updated = map[telemetry.Category]time.Time{}
	bus.Subscribe(events.TelemetryReceived, router.Func("model.vehicle", m.onTelemetry), opts...)
	return m
}

func (m *VehicleModel) Snapshot() VehicleSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *VehicleModel) Reset() {
	m.mu.Lock()
	m.state = VehicleSnapshot{Updated: map[telemetry.Category]time.Time{}}
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.bus.Publish(events.VehicleModelChanged, snap)
}

func (m *VehicleModel) onTelemetry(payload any) error {
	t, ok := payload.(events.Telemetry)
	if !ok || t.Record == nil {
		return unexpected(payload)
	}

	m.mu.Lock()
	merged := m.mergeLocked(t.Record)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if !merged {
		m.log.Debug("model: telemetry category not merged", zap.String("category", string(t.Category())))
		return nil
	}
	m.bus.Publish(events.VehicleModelChanged, snap)
	return nil
}

func (m *VehicleModel) mergeLocked(rec telemetry.Record) bool {
	s := &m.state
	switch r := rec.(type) {
	case telemetry.Attitude:
		a := r
		s.Attitude = &a
	case telemetry.Position:
		s.Position.Time = r.Time
		merge(&s.Position.Lat, r.Lat)
		merge(&s.Position.Lon, r.Lon)
		merge(&s.Position.Altitude, r.Altitude)
	case telemetry.GPSInfo:
		s.GPS.Time = r.Time
		merge(&s.GPS.FixType, r.FixType)
		merge(&s.GPS.Satellites, r.Satellites)
	case telemetry.SystemStatus:
		s.SystemStatus.Time = r.Time
		merge(&s.SystemStatus.Armed, r.Armed)
		merge(&s.SystemStatus.Mode, r.Mode)
		merge(&s.SystemStatus.SystemStatus, r.SystemStatus)
		merge(&s.SystemStatus.BatteryVoltage, r.BatteryVoltage)
		merge(&s.SystemStatus.BatteryCurrent, r.BatteryCurrent)
		merge(&s.SystemStatus.BatteryRemaining, r.BatteryRemaining)
	case telemetry.SpeedHeading:
		s.SpeedHeading.Time = r.Time
		merge(&s.SpeedHeading.Airspeed, r.Airspeed)
		merge(&s.SpeedHeading.Groundspeed, r.Groundspeed)
		merge(&s.SpeedHeading.Heading, r.Heading)
		merge(&s.SpeedHeading.Throttle, r.Throttle)
		merge(&s.SpeedHeading.ClimbRate, r.ClimbRate)
	case telemetry.RCChannels:
		rc := telemetry.RCChannels{Time: r.Time, Channels: append([]uint16(nil), r.Channels...)}
		s.RCChannels = &rc
	default:
		return false
	}
	s.Updated[rec.Category()] = rec.CapturedAt()
	return true
}

// merge replaces *dst only when the update carries a value. Records are
// immutable, so sharing the pointer is safe.
func merge[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

func (m *VehicleModel) snapshotLocked() VehicleSnapshot {
	snap := m.state
	snap.Updated = make(map[telemetry.Category]time.Time, len(m.state.Updated))
	for k, v := range m.state.Updated {
		snap.Updated[k] = v
	}
	return snap
}
