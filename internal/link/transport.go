package link

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

var (
	// ErrTimeout is returned by Transport.Receive when nothing arrived in
	// time. It is not a fault.
	ErrTimeout = errors.New("link: receive timeout")
	// ErrTransportClosed means the transport or its peer went away.
	ErrTransportClosed = errors.New("link: transport closed")
	// ErrMalformed wraps a frame that could not be decoded.
	ErrMalformed = errors.New("link: malformed frame")
	// ErrNotConnected is returned for sends without an open session.
	ErrNotConnected = errors.New("link: not connected")
	// ErrHeartbeatTimeout means no heartbeat arrived during the handshake.
	ErrHeartbeatTimeout = errors.New("link: heartbeat timed out")
)

// Frame is one decoded message plus the identity of its sender.
type Frame struct {
	Message     message.Message
	SystemID    uint8
	ComponentID uint8
}

// Transport is a duplex MAVLink channel. Receive is only ever called from
// one goroutine; Send may be called from others.
type Transport interface {
	Receive(timeout time.Duration) (Frame, error)
	Send(msg message.Message) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Transport, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, ep Endpoint) (Transport, error)

func (f DialFunc) Dial(ctx context.Context, ep Endpoint) (Transport, error) { return f(ctx, ep) }

// IsDisconnect reports whether err means the link itself is gone (peer
// reset, broken pipe, closed stream) as opposed to a bad frame or a
// transient error.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	return isResetErrno(err)
}
