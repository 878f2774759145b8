package link

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"syscall"
	"testing"

	"go.bug.st/serial/enumerator"
)

func TestParseDescriptor(t *testing.T) {
	cases := []struct {
		in      Descriptor
		want    Endpoint
		wantErr bool
	}{
		{in: Descriptor{Locator: "udp:localhost:14550"}, want: Endpoint{Kind: KindUDPListen, Address: "localhost:14550"}},
		{in: Descriptor{Locator: "udpin:0.0.0.0:14550"}, want: Endpoint{Kind: KindUDPListen, Address: "0.0.0.0:14550"}},
		{in: Descriptor{Locator: "udpout:10.0.0.2:14550"}, want: Endpoint{Kind: KindUDPDial, Address: "10.0.0.2:14550"}},
		{in: Descriptor{Locator: "tcp:localhost:5760"}, want: Endpoint{Kind: KindTCP, Address: "localhost:5760"}},
		{in: Descriptor{Locator: " TCP:127.0.0.1:5760 "}, want: Endpoint{Kind: KindTCP, Address: "127.0.0.1:5760"}},
		{in: Descriptor{Locator: "/dev/ttyACM0", Baud: 57600}, want: Endpoint{Kind: KindSerial, Address: "/dev/ttyACM0", Baud: 57600}},
		{in: Descriptor{Locator: "serial:/dev/ttyUSB0"}, want: Endpoint{Kind: KindSerial, Address: "/dev/ttyUSB0", Baud: 921600}},
		{in: Descriptor{Locator: "COM3"}, want: Endpoint{Kind: KindSerial, Address: "COM3", Baud: 921600}},
		{in: Descriptor{Locator: "replay:/tmp/flight.log"}, want: Endpoint{Kind: KindReplay, Address: "/tmp/flight.log"}},

		{in: Descriptor{Locator: ""}, wantErr: true},
		{in: Descriptor{Locator: "udp:14550"}, wantErr: true},
		{in: Descriptor{Locator: "tcp:localhost:"}, wantErr: true},
		{in: Descriptor{Locator: "serial:"}, wantErr: true},
		{in: Descriptor{Locator: "replay:"}, wantErr: true},
		{in: Descriptor{Locator: "http://vehicle"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in.Locator, func(t *testing.T) {
			got, err := ParseDescriptor(tc.in, 921600)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDescriptor: %v", err)
			}
			if got != tc.want {
				t.Fatalf("endpoint=%+v want %+v", got, tc.want)
			}
		})
	}
}

func TestEndpoint_String(t *testing.T) {
	if got := (Endpoint{Kind: KindSerial, Address: "/dev/ttyUSB0", Baud: 57600}).String(); got != "serial:/dev/ttyUSB0@57600" {
		t.Fatalf("String()=%q", got)
	}
	if got := (Endpoint{Kind: KindUDPDial, Address: "host:1"}).String(); got != "udpout:host:1" {
		t.Fatalf("String()=%q", got)
	}
}

func TestIsDisconnect(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrTimeout, false},
		{fmt.Errorf("%w: crc", ErrMalformed), false},
		{errors.New("something odd"), false},
		{ErrTransportClosed, true},
		{io.EOF, true},
		{fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{net.ErrClosed, true},
		{&net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{fmt.Errorf("write: %w", syscall.EPIPE), true},
	}
	for _, tc := range cases {
		if got := IsDisconnect(tc.err); got != tc.want {
			t.Fatalf("IsDisconnect(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}

func TestParseState_RoundTrip(t *testing.T) {
	for s := StateDisconnected; s <= StateError; s++ {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseState(%q)=%v,%v", s.String(), got, err)
		}
	}
	if _, err := ParseState("FLYING"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

func TestCandidates(t *testing.T) {
	list := func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A1"},
			{Name: "/dev/ttyS0"},
			{Name: ""},
		}, nil
	}
	got, err := Candidates(list)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(got) != len(DefaultLocators)+2 {
		t.Fatalf("candidates=%d want %d", len(got), len(DefaultLocators)+2)
	}
	if got[0].Locator != "udp:localhost:14550" || got[0].Serial {
		t.Fatalf("first candidate=%+v", got[0])
	}
	s0, usb := got[len(DefaultLocators)], got[len(DefaultLocators)+1]
	if s0.Locator != "/dev/ttyS0" || s0.Description != "Serial port" {
		t.Fatalf("serial candidate=%+v", s0)
	}
	if usb.Description != "USB serial 0403:6001 sn A1" || !usb.Serial {
		t.Fatalf("usb candidate=%+v", usb)
	}
}

func TestCandidates_EnumeratorFailureKeepsNetworkEntries(t *testing.T) {
	got, err := Candidates(func() ([]*enumerator.PortDetails, error) { return nil, errors.New("no sysfs") })
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(got) != len(DefaultLocators) {
		t.Fatalf("candidates=%d want %d", len(got), len(DefaultLocators))
	}
}

func TestGate_Check(t *testing.T) {
	g := Gate{AllowedModes: []string{"GUIDED"}, MinAltitudeM: 1, MaxAltitudeM: 100}
	cases := []struct {
		name string
		v    VehicleView
		alt  float64
		ok   bool
	}{
		{"unknown vehicle", VehicleView{}, 10, false},
		{"armed", VehicleView{Known: true, Armed: true, Mode: "GUIDED"}, 10, false},
		{"mode case-insensitive", VehicleView{Known: true, Mode: "guided"}, 10, true},
		{"low", VehicleView{Known: true, Mode: "GUIDED"}, 0.5, false},
		{"bounds inclusive", VehicleView{Known: true, Mode: "GUIDED"}, 100, true},
		{"nan altitude", VehicleView{Known: true, Mode: "GUIDED"}, math.NaN(), false},
		{"infinite altitude", VehicleView{Known: true, Mode: "GUIDED"}, math.Inf(1), false},
	}
	for _, tc := range cases {
		if reason, ok := g.Check(tc.v, tc.alt); ok != tc.ok {
			t.Fatalf("%s: ok=%v want %v (reason %q)", tc.name, ok, tc.ok, reason)
		}
	}
}
