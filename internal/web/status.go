package web

import (
	"sync/atomic"
	"time"

	"groundlink/internal/link"
	"groundlink/internal/model"
)

type LinkView interface {
	Snapshot() link.Snapshot
}

type ConnectionView interface {
	Snapshot() model.ConnectionSnapshot
}

type VehicleView interface {
	Snapshot() model.VehicleSnapshot
}

type StatusLogView interface {
	Snapshot() model.StatusSnapshot
}

// Status gathers the snapshots served by /api/status. Any view may be nil.
type Status struct {
	startUnixNano int64
	requests      atomic.Uint64

	Link       LinkView
	Connection ConnectionView
	Vehicle    VehicleView
	StatusLog  StatusLogView
}

func NewStatus() *Status {
	return &Status{startUnixNano: time.Now().UTC().UnixNano()}
}

type StatusSnapshot struct {
	Service    string                    `json:"service"`
	NowUTC     string                    `json:"now_utc"`
	UptimeSec  int64                     `json:"uptime_sec"`
	Requests   uint64                    `json:"api_requests"`
	Link       *link.Snapshot            `json:"link,omitempty"`
	Connection *model.ConnectionSnapshot `json:"connection,omitempty"`
	Vehicle    *model.VehicleSnapshot    `json:"vehicle,omitempty"`
	StatusLog  *model.StatusSnapshot     `json:"status_log,omitempty"`
}

func (s *Status) countRequest() {
	s.requests.Add(1)
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	start := time.Unix(0, s.startUnixNano).UTC()
	snap := StatusSnapshot{
		Service:   "groundlink",
		NowUTC:    nowUTC.Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Requests:  s.requests.Load(),
	}
	if s.Link != nil {
		v := s.Link.Snapshot()
		snap.Link = &v
	}
	if s.Connection != nil {
		v := s.Connection.Snapshot()
		snap.Connection = &v
	}
	if s.Vehicle != nil {
		v := s.Vehicle.Snapshot()
		snap.Vehicle = &v
	}
	if s.StatusLog != nil {
		v := s.StatusLog.Snapshot()
		snap.StatusLog = &v
	}
	return snap
}
