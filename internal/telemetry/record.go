// Package telemetry turns decoded MAVLink messages into normalized,
// strongly typed records.
package telemetry

import "time"

type Category string

const (
	CategoryAttitude     Category = "attitude"
	CategoryPosition     Category = "position"
	CategoryGPS          Category = "gps"
	CategorySystemStatus Category = "system_status"
	CategorySpeedHeading Category = "speed_heading"
	CategoryRCChannels   Category = "rc_channels"
	CategoryStatusText   Category = "status_text"
)

// Record is one normalized fact. The set of implementations is closed.
type Record interface {
	Category() Category
	CapturedAt() time.Time
	// Fields returns only the fields that carry a value, keyed by their
	// wire-neutral names.
	Fields() map[string]any

	record()
}

// Attitude angles are in degrees.
type Attitude struct {
	Time  time.Time `json:"time"`
	Roll  float64   `json:"roll"`
	Pitch float64   `json:"pitch"`
	Yaw   float64   `json:"yaw"`
}

// Position uses decimal degrees. Heading lives in SpeedHeading only.
type Position struct {
	Time     time.Time `json:"time"`
	Lat      *float64  `json:"lat,omitempty"`
	Lon      *float64  `json:"lon,omitempty"`
	Altitude *Altitude `json:"altitude,omitempty"`
}

// Altitude in meters, above mean sea level and above the home position.
type Altitude struct {
	MSL float64 `json:"msl"`
	AGL float64 `json:"agl"`
}

type GPSInfo struct {
	Time       time.Time `json:"time"`
	FixType    *int      `json:"fix_type,omitempty"`
	Satellites *int      `json:"satellites,omitempty"`
}

// SystemStatus is fed by both HEARTBEAT (arm state, mode, system state) and
// SYS_STATUS (battery). Each message fills only its own fields.
type SystemStatus struct {
	Time             time.Time `json:"time"`
	Armed            *bool     `json:"armed,omitempty"`
	Mode             *string   `json:"mode,omitempty"`
	SystemStatus     *int      `json:"system_status,omitempty"`
	BatteryVoltage   *float64  `json:"battery_voltage,omitempty"`
	BatteryCurrent   *float64  `json:"battery_current,omitempty"`
	BatteryRemaining *int      `json:"battery_remaining,omitempty"`
}

// SpeedHeading speeds are m/s, throttle is percent.
type SpeedHeading struct {
	Time        time.Time `json:"time"`
	Airspeed    *float64  `json:"airspeed,omitempty"`
	Groundspeed *float64  `json:"groundspeed,omitempty"`
	Heading     *float64  `json:"heading,omitempty"`
	Throttle    *int      `json:"throttle,omitempty"`
	ClimbRate   *float64  `json:"climb_rate,omitempty"`
}

type RCChannels struct {
	Time     time.Time `json:"time"`
	Channels []uint16  `json:"channels"`
}

// StatusText is free text from the vehicle. It is routed to the status log
// and never merged into vehicle state.
type StatusText struct {
	Time     time.Time `json:"time"`
	Text     string    `json:"text"`
	Severity int       `json:"severity"`
}

func (Attitude) Category() Category     { return CategoryAttitude }
func (Position) Category() Category     { return CategoryPosition }
func (GPSInfo) Category() Category      { return CategoryGPS }
func (SystemStatus) Category() Category { return CategorySystemStatus }
func (SpeedHeading) Category() Category { return CategorySpeedHeading }
func (RCChannels) Category() Category   { return CategoryRCChannels }
func (StatusText) Category() Category   { return CategoryStatusText }

func (r Attitude) CapturedAt() time.Time     { return r.Time }
func (r Position) CapturedAt() time.Time     { return r.Time }
func (r GPSInfo) CapturedAt() time.Time      { return r.Time }
func (r SystemStatus) CapturedAt() time.Time { return r.Time }
func (r SpeedHeading) CapturedAt() time.Time { return r.Time }
func (r RCChannels) CapturedAt() time.Time   { return r.Time }
func (r StatusText) CapturedAt() time.Time   { return r.Time }

func (Attitude) record()     {}
func (Position) record()     {}
func (GPSInfo) record()      {}
func (SystemStatus) record() {}
func (SpeedHeading) record() {}
func (RCChannels) record()   {}
func (StatusText) record()   {}

func (r Attitude) Fields() map[string]any {
	return map[string]any{"roll": r.Roll, "pitch": r.Pitch, "yaw": r.Yaw}
}

func (r Position) Fields() map[string]any {
	f := fields{}
	f.float("lat", r.Lat)
	f.float("lon", r.Lon)
	if r.Altitude != nil {
		f["altitude"] = *r.Altitude
	}
	return f
}

func (r GPSInfo) Fields() map[string]any {
	f := fields{}
	f.int("fix_type", r.FixType)
	f.int("satellites", r.Satellites)
	return f
}

func (r SystemStatus) Fields() map[string]any {
	f := fields{}
	if r.Armed != nil {
		f["armed"] = *r.Armed
	}
	if r.Mode != nil {
		f["mode"] = *r.Mode
	}
	f.int("system_status", r.SystemStatus)
	f.float("battery_voltage", r.BatteryVoltage)
	f.float("battery_current", r.BatteryCurrent)
	f.int("battery_remaining", r.BatteryRemaining)
	return f
}

func (r SpeedHeading) Fields() map[string]any {
	f := fields{}
	f.float("airspeed", r.Airspeed)
	f.float("groundspeed", r.Groundspeed)
	f.float("heading", r.Heading)
	f.int("throttle", r.Throttle)
	f.float("climb_rate", r.ClimbRate)
	return f
}

func (r RCChannels) Fields() map[string]any {
	return map[string]any{"channels": append([]uint16(nil), r.Channels...)}
}

func (r StatusText) Fields() map[string]any {
	return map[string]any{"text": r.Text, "severity": r.Severity}
}

type fields map[string]any

func (f fields) float(key string, v *float64) {
	if v != nil {
		f[key] = *v
	}
}

func (f fields) int(key string, v *int) {
	if v != nil {
		f[key] = *v
	}
}
