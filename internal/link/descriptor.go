package link

import (
	"fmt"
	"net"
	"strings"
)

// DefaultBaud is used for serial links when the request does not name one.
const DefaultBaud = 115200

// Descriptor identifies how to reach the vehicle. Baud only matters for
// serial links.
type Descriptor struct {
	Locator string
	Baud    int
}

type Kind int

const (
	KindUDPListen Kind = iota + 1
	KindUDPDial
	KindTCP
	KindSerial
	KindReplay
)

func (k Kind) String() string {
	switch k {
	case KindUDPListen:
		return "udpin"
	case KindUDPDial:
		return "udpout"
	case KindTCP:
		return "tcp"
	case KindSerial:
		return "serial"
	case KindReplay:
		return "replay"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Stream reports whether the transport is a byte stream whose closure means
// the peer is gone. Datagram links only notice loss through heartbeats.
func (k Kind) Stream() bool {
	return k == KindTCP || k == KindSerial || k == KindReplay
}

// Endpoint is a parsed Descriptor.
type Endpoint struct {
	Kind    Kind
	Address string
	Baud    int
}

func (e Endpoint) String() string {
	if e.Kind == KindSerial {
		return fmt.Sprintf("serial:%s@%d", e.Address, e.Baud)
	}
	return e.Kind.String() + ":" + e.Address
}

// ParseDescriptor accepts:
//
//	udp:host:port, udpin:host:port   listen for the vehicle
//	udpout:host:port                 send to the vehicle
//	tcp:host:port
//	serial:/dev/ttyUSB0, /dev/..., COMn
//	replay:/path/to/capture.log
func ParseDescriptor(d Descriptor, defaultBaud int) (Endpoint, error) {
	loc := strings.TrimSpace(d.Locator)
	if loc == "" {
		return Endpoint{}, fmt.Errorf("link locator is required")
	}

	prefix, rest, hasPrefix := strings.Cut(loc, ":")
	if hasPrefix {
		switch strings.ToLower(prefix) {
		case "udp", "udpin":
			return networkEndpoint(KindUDPListen, loc, rest)
		case "udpout":
			return networkEndpoint(KindUDPDial, loc, rest)
		case "tcp":
			return networkEndpoint(KindTCP, loc, rest)
		case "serial":
			return serialEndpoint(loc, rest, d.Baud, defaultBaud)
		case "replay":
			if strings.TrimSpace(rest) == "" {
				return Endpoint{}, fmt.Errorf("replay locator %q has no path", loc)
			}
			return Endpoint{Kind: KindReplay, Address: strings.TrimSpace(rest)}, nil
		}
	}

	if strings.HasPrefix(loc, "/dev/") || strings.HasPrefix(strings.ToUpper(loc), "COM") {
		return serialEndpoint(loc, loc, d.Baud, defaultBaud)
	}
	return Endpoint{}, fmt.Errorf("unsupported link locator %q", loc)
}

func networkEndpoint(kind Kind, loc, addr string) (Endpoint, error) {
	addr = strings.TrimSpace(addr)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid %s locator %q: %w", kind, loc, err)
	}
	if port == "" {
		return Endpoint{}, fmt.Errorf("invalid %s locator %q: missing port", kind, loc)
	}
	return Endpoint{Kind: kind, Address: net.JoinHostPort(host, port)}, nil
}

func serialEndpoint(loc, device string, baud, defaultBaud int) (Endpoint, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return Endpoint{}, fmt.Errorf("serial locator %q has no device", loc)
	}
	if baud <= 0 {
		baud = defaultBaud
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	return Endpoint{Kind: KindSerial, Address: device, Baud: baud}, nil
}
