package link

import (
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"groundlink/internal/events"
)

// CommandArmTakeoff names the combined arm-then-takeoff request in
// command_response events.
const CommandArmTakeoff = "ARM_TAKEOFF"

// StreamInterval asks the vehicle to send Message every Interval.
type StreamInterval struct {
	Message  string
	Interval time.Duration
}

// DefaultStreamIntervals mirror the rates a typical ground station asks an
// ArduPilot vehicle for.
var DefaultStreamIntervals = []StreamInterval{
	{Message: "ATTITUDE", Interval: 100 * time.Millisecond},
	{Message: "GPS_RAW_INT", Interval: 200 * time.Millisecond},
	{Message: "GLOBAL_POSITION_INT", Interval: 200 * time.Millisecond},
	{Message: "SYS_STATUS", Interval: time.Second},
	{Message: "RC_CHANNELS", Interval: 500 * time.Millisecond},
	{Message: "VFR_HUD", Interval: 200 * time.Millisecond},
	{Message: "HEARTBEAT", Interval: time.Second},
}

var streamMessages = map[string]message.Message{
	"ATTITUDE":            &common.MessageAttitude{},
	"GPS_RAW_INT":         &common.MessageGpsRawInt{},
	"GLOBAL_POSITION_INT": &common.MessageGlobalPositionInt{},
	"SYS_STATUS":          &common.MessageSysStatus{},
	"RC_CHANNELS":         &common.MessageRcChannels{},
	"VFR_HUD":             &common.MessageVfrHud{},
	"HEARTBEAT":           &common.MessageHeartbeat{},
}

type streamRequest struct {
	name     string
	id       uint32
	interval time.Duration
}

func resolveStreams(in []StreamInterval) ([]streamRequest, error) {
	out := make([]streamRequest, 0, len(in))
	for _, si := range in {
		name := strings.ToUpper(strings.TrimSpace(si.Message))
		msg, ok := streamMessages[name]
		if !ok {
			return nil, fmt.Errorf("unknown stream message %q", si.Message)
		}
		if si.Interval <= 0 {
			return nil, fmt.Errorf("stream %s interval must be > 0", name)
		}
		out = append(out, streamRequest{name: name, id: msg.GetID(), interval: si.Interval})
	}
	return out, nil
}

func commandLong(t Target, cmd common.MAV_CMD, params ...float32) *common.MessageCommandLong {
	var p [7]float32
	copy(p[:], params)
	return &common.MessageCommandLong{
		TargetSystem:    t.System,
		TargetComponent: t.Component,
		Command:         cmd,
		Param1:          p[0],
		Param2:          p[1],
		Param3:          p[2],
		Param4:          p[3],
		Param5:          p[4],
		Param6:          p[5],
		Param7:          p[6],
	}
}

func commandName(cmd common.MAV_CMD) string {
	switch cmd {
	case common.MAV_CMD_COMPONENT_ARM_DISARM:
		return "COMPONENT_ARM_DISARM"
	case common.MAV_CMD_NAV_TAKEOFF:
		return "NAV_TAKEOFF"
	case common.MAV_CMD_SET_MESSAGE_INTERVAL:
		return "SET_MESSAGE_INTERVAL"
	}
	return fmt.Sprintf("MAV_CMD(%d)", int(cmd))
}

// MAV_RESULT values.
var resultText = map[int]string{
	0: "accepted",
	1: "temporarily rejected",
	2: "denied",
	3: "unsupported",
	4: "failed",
	5: "in progress",
	6: "cancelled",
}

func ackResponse(ack *common.MessageCommandAck) events.CommandResponse {
	text, ok := resultText[int(ack.Result)]
	if !ok {
		text = fmt.Sprintf("result %d", int(ack.Result))
	}
	return events.CommandResponse{
		Command: commandName(ack.Command),
		Success: ack.Result == common.MAV_RESULT_ACCEPTED,
		Message: text,
	}
}

// Gate is the safety check in front of arm and takeoff.
type Gate struct {
	AllowedModes []string
	MinAltitudeM float64
	MaxAltitudeM float64
}

// Check returns a human-readable reason when the request must be refused.
func (g Gate) Check(v VehicleView, altitudeM float64) (string, bool) {
	// Written so NaN fails the range too.
	if !(altitudeM >= g.MinAltitudeM && altitudeM <= g.MaxAltitudeM) {
		return fmt.Sprintf("Takeoff altitude %.1f m outside %.0f-%.0f m", altitudeM, g.MinAltitudeM, g.MaxAltitudeM), false
	}
	if !v.Known {
		return "Vehicle state unknown, no heartbeat yet", false
	}
	if v.Armed {
		return "Vehicle is already armed", false
	}
	for _, m := range g.AllowedModes {
		if strings.EqualFold(m, v.Mode) {
			return "", true
		}
	}
	return fmt.Sprintf("Mode %s not allowed for takeoff (allowed: %s)", v.Mode, strings.Join(g.AllowedModes, ", ")), false
}
