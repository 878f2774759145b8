package telemetry

import "fmt"

// MAV_TYPE values that select an ArduPilot mode table.
const (
	mavTypeFixedWing   = 1
	mavTypeQuadrotor   = 2
	mavTypeCoaxial     = 3
	mavTypeHelicopter  = 4
	mavTypeGroundRover = 10
	mavTypeSurfaceBoat = 11
	mavTypeHexarotor   = 13
	mavTypeOctorotor   = 14
	mavTypeTricopter   = 15
	mavTypeVTOLFirst   = 19
	mavTypeVTOLLast    = 25
	mavTypeDodecarotor = 29
	mavTypeDecarotor   = 35
)

var copterModes = map[uint32]string{
	0: "STABILIZE", 1: "ACRO", 2: "ALT_HOLD", 3: "AUTO", 4: "GUIDED",
	5: "LOITER", 6: "RTL", 7: "CIRCLE", 9: "LAND", 11: "DRIFT",
	13: "SPORT", 14: "FLIP", 15: "AUTOTUNE", 16: "POSHOLD", 17: "BRAKE",
	18: "THROW", 19: "AVOID_ADSB", 20: "GUIDED_NOGPS", 21: "SMART_RTL",
}

var planeModes = map[uint32]string{
	0: "MANUAL", 1: "CIRCLE", 2: "STABILIZE", 3: "TRAINING", 4: "ACRO",
	5: "FBWA", 6: "FBWB", 7: "CRUISE", 8: "AUTOTUNE", 10: "AUTO",
	11: "RTL", 12: "LOITER", 13: "TAKEOFF", 15: "GUIDED", 17: "QSTABILIZE",
	18: "QHOVER", 19: "QLOITER", 20: "QLAND", 21: "QRTL",
}

var roverModes = map[uint32]string{
	0: "MANUAL", 1: "ACRO", 3: "STEERING", 4: "HOLD", 5: "LOITER",
	6: "FOLLOW", 7: "SIMPLE", 10: "AUTO", 11: "RTL", 12: "SMART_RTL",
	15: "GUIDED",
}

// ModeString names the flight mode reported by a HEARTBEAT, using the
// ArduPilot custom-mode tables. Unknown combinations render as
// "Mode(0x%08x)".
func ModeString(vehicleType int, baseMode uint64, customMode uint32) string {
	if baseMode&modeFlagCustomModeEnabled == 0 {
		return fmt.Sprintf("Mode(0x%08x)", baseMode)
	}
	var table map[uint32]string
	switch {
	case vehicleType == mavTypeFixedWing,
		vehicleType >= mavTypeVTOLFirst && vehicleType <= mavTypeVTOLLast:
		table = planeModes
	case vehicleType == mavTypeQuadrotor, vehicleType == mavTypeCoaxial,
		vehicleType == mavTypeHelicopter, vehicleType == mavTypeHexarotor,
		vehicleType == mavTypeOctorotor, vehicleType == mavTypeTricopter,
		vehicleType == mavTypeDodecarotor, vehicleType == mavTypeDecarotor:
		table = copterModes
	case vehicleType == mavTypeGroundRover, vehicleType == mavTypeSurfaceBoat:
		table = roverModes
	}
	if name, ok := table[customMode]; ok {
		return name
	}
	return fmt.Sprintf("Mode(0x%08x)", customMode)
}
