// Package events names the router categories shared by the link, the state
// models and the front ends, along with their payload types.
package events

import (
	"encoding/json"
	"time"

	"groundlink/internal/router"
	"groundlink/internal/telemetry"
)

// Inbound requests. Front ends publish these; only the link manager acts on
// them.
const (
	ConnectionRequested router.Category = "connection_requested"
	DisconnectRequested router.Category = "disconnect_requested"
	ArmTakeoffRequested router.Category = "arm_takeoff_requested"
)

// Outbound facts.
const (
	ConnectionStatusChanged router.Category = "connection_status_changed"
	TelemetryReceived       router.Category = "telemetry"
	StatusLogReceived       router.Category = "status_log"
	CommandResponded        router.Category = "command_response"

	ConnectionModelChanged router.Category = "connection_model_changed"
	VehicleModelChanged    router.Category = "vehicle_model_changed"
	StatusModelChanged     router.Category = "status_model_changed"
)

// All lists every category, outbound first. The web event stream subscribes
// to each of them.
var All = []router.Category{
	ConnectionStatusChanged,
	TelemetryReceived,
	StatusLogReceived,
	CommandResponded,
	ConnectionModelChanged,
	VehicleModelChanged,
	StatusModelChanged,
	ConnectionRequested,
	DisconnectRequested,
	ArmTakeoffRequested,
}

type ConnectRequest struct {
	Locator string `json:"locator"`
	Baud    int    `json:"baud"`
}

type DisconnectRequest struct{}

type ArmTakeoffRequest struct {
	AltitudeM float64 `json:"altitude_m"`
}

// ConnectionStatus is published on every link state transition, and when the
// state is unchanged but the message is new.
type ConnectionStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Locator string `json:"locator"`
}

// Telemetry wraps one classified record.
type Telemetry struct {
	Record telemetry.Record
}

func (t Telemetry) Category() telemetry.Category { return t.Record.Category() }

func (t Telemetry) Fields() map[string]any { return t.Record.Fields() }

func (t Telemetry) Time() time.Time { return t.Record.CapturedAt() }

func (t Telemetry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Category telemetry.Category `json:"category"`
		Fields   map[string]any     `json:"fields"`
		Time     time.Time          `json:"time"`
	}{t.Category(), t.Fields(), t.Time()})
}

type StatusLog struct {
	Text     string    `json:"text"`
	Severity int       `json:"severity"`
	Time     time.Time `json:"time"`
}

type CommandResponse struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}
