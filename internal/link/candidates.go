package link

import (
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
)

// Candidate is a locator offered to the operator before connecting.
type Candidate struct {
	Locator     string `json:"locator"`
	Description string `json:"description"`
	Serial      bool   `json:"serial"`
}

// DefaultLocators are the network endpoints autopilots and simulators
// usually expose.
var DefaultLocators = []Candidate{
	{Locator: "udp:localhost:14550", Description: "UDP listen 14550 (SITL, telemetry radios)"},
	{Locator: "udp:localhost:14551", Description: "UDP listen 14551"},
	{Locator: "tcp:localhost:5760", Description: "TCP 5760 (SITL)"},
}

// PortLister enumerates serial ports.
type PortLister func() ([]*enumerator.PortDetails, error)

// Candidates returns the default network locators followed by every serial
// port list reports. A failing enumerator still yields the network entries.
func Candidates(list PortLister) ([]Candidate, error) {
	out := append([]Candidate(nil), DefaultLocators...)
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return out, fmt.Errorf("enumerate serial ports: %w", err)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	for _, p := range ports {
		if p == nil || p.Name == "" {
			continue
		}
		desc := "Serial port"
		if p.IsUSB {
			desc = fmt.Sprintf("USB serial %s:%s", p.VID, p.PID)
			if p.SerialNumber != "" {
				desc += " sn " + p.SerialNumber
			}
		}
		out = append(out, Candidate{Locator: p.Name, Description: desc, Serial: true})
	}
	return out, nil
}
