package telemetry

import (
	"math"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	// MAV_MODE_FLAG_SAFETY_ARMED
	modeFlagSafetyArmed = 128
	// MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	modeFlagCustomModeEnabled = 1

	voltageUnknown   = math.MaxUint16
	currentUnknown   = -1
	remainingUnknown = -1
	satsUnknown      = math.MaxUint8
)

// Tracked reports whether msg belongs to one of the message types this
// package understands. Anything else is dropped by the receive loop before
// classification.
func Tracked(msg message.Message) bool {
	switch msg.(type) {
	case *common.MessageHeartbeat,
		*common.MessageAttitude,
		*common.MessageGlobalPositionInt,
		*common.MessageGpsRawInt,
		*common.MessageSysStatus,
		*common.MessageVfrHud,
		*common.MessageRcChannels,
		*common.MessageStatustext:
		return true
	}
	return false
}

// Classify extracts the tracked fields of msg into a Record captured at now.
// It returns false when msg is not tracked or carries no usable field.
func Classify(msg message.Message, now time.Time) (Record, bool) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		armed := uint64(m.BaseMode)&modeFlagSafetyArmed != 0
		mode := ModeString(int(m.Type), uint64(m.BaseMode), m.CustomMode)
		state := int(m.SystemStatus)
		return SystemStatus{Time: now, Armed: &armed, Mode: &mode, SystemStatus: &state}, true

	case *common.MessageSysStatus:
		r := SystemStatus{Time: now}
		if m.VoltageBattery != voltageUnknown {
			r.BatteryVoltage = floatp(float64(m.VoltageBattery) / 1000)
		}
		if m.CurrentBattery != currentUnknown {
			r.BatteryCurrent = floatp(float64(m.CurrentBattery) / 100)
		}
		if m.BatteryRemaining != remainingUnknown {
			r.BatteryRemaining = intp(int(m.BatteryRemaining))
		}
		if r.BatteryVoltage == nil && r.BatteryCurrent == nil && r.BatteryRemaining == nil {
			return nil, false
		}
		return r, true

	case *common.MessageAttitude:
		return Attitude{
			Time:  now,
			Roll:  degrees(m.Roll),
			Pitch: degrees(m.Pitch),
			Yaw:   degrees(m.Yaw),
		}, true

	case *common.MessageGlobalPositionInt:
		// hdg is ignored; VFR_HUD supplies the heading.
		return Position{
			Time:     now,
			Lat:      floatp(float64(m.Lat) / 1e7),
			Lon:      floatp(float64(m.Lon) / 1e7),
			Altitude: &Altitude{MSL: float64(m.Alt) / 1000, AGL: float64(m.RelativeAlt) / 1000},
		}, true

	case *common.MessageGpsRawInt:
		r := GPSInfo{Time: now, FixType: intp(int(m.FixType))}
		if m.SatellitesVisible != satsUnknown {
			r.Satellites = intp(int(m.SatellitesVisible))
		}
		return r, true

	case *common.MessageVfrHud:
		r := SpeedHeading{
			Time:        now,
			Airspeed:    floatp(float64(m.Airspeed)),
			Groundspeed: floatp(float64(m.Groundspeed)),
			Throttle:    intp(int(m.Throttle)),
			ClimbRate:   floatp(float64(m.Climb)),
		}
		// 0..359 only; anything else means the autopilot has no heading.
		if m.Heading >= 0 && m.Heading < 360 {
			r.Heading = floatp(float64(m.Heading))
		}
		return r, true

	case *common.MessageRcChannels:
		return RCChannels{
			Time: now,
			Channels: []uint16{
				m.Chan1Raw, m.Chan2Raw, m.Chan3Raw, m.Chan4Raw,
				m.Chan5Raw, m.Chan6Raw, m.Chan7Raw, m.Chan8Raw,
			},
		}, true

	case *common.MessageStatustext:
		text := strings.TrimSpace(strings.TrimRight(m.Text, "\x00"))
		if text == "" {
			return nil, false
		}
		return StatusText{Time: now, Text: text, Severity: int(m.Severity)}, true
	}
	return nil, false
}

// MessageName returns the MAVLink name of the tracked message types, for
// logging.
func MessageName(msg message.Message) string {
	switch msg.(type) {
	case *common.MessageHeartbeat:
		return "HEARTBEAT"
	case *common.MessageAttitude:
		return "ATTITUDE"
	case *common.MessageGlobalPositionInt:
		return "GLOBAL_POSITION_INT"
	case *common.MessageGpsRawInt:
		return "GPS_RAW_INT"
	case *common.MessageSysStatus:
		return "SYS_STATUS"
	case *common.MessageVfrHud:
		return "VFR_HUD"
	case *common.MessageRcChannels:
		return "RC_CHANNELS"
	case *common.MessageStatustext:
		return "STATUSTEXT"
	case *common.MessageCommandAck:
		return "COMMAND_ACK"
	case nil:
		return "<nil>"
	}
	return "UNKNOWN"
}

func degrees(rad float32) float64 { return float64(rad) * 180 / math.Pi }

func floatp(v float64) *float64 { return &v }

func intp(v int) *int { return &v }
