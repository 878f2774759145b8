package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"groundlink/internal/replay"
)

// GCSSystemID is the MAVLink system id this station sends with.
const GCSSystemID = 255

// MAVDialer opens gomavlib-backed transports.
type MAVDialer struct {
	// RecordPath, when set, captures every byte read from tcp and serial
	// links. Each dial truncates the file.
	RecordPath  string
	ReplaySpeed float64
	ReplayLoop  bool
	Log         *zap.Logger
}

func (d *MAVDialer) Dial(ctx context.Context, ep Endpoint) (Transport, error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	conf, err := d.endpointConf(ctx, ep)
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{conf},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: GCSSystemID,
	})
	if err != nil {
		if c, ok := conf.(gomavlib.EndpointCustom); ok {
			_ = c.ReadWriteCloser.Close()
		}
		return nil, fmt.Errorf("mavlink node: %w", err)
	}

	log.Debug("link: transport open", zap.Stringer("endpoint", ep))
	return &mavTransport{
		node:   node,
		events: node.Events(),
		stream: ep.Kind.Stream(),
		closed: make(chan struct{}),
	}, nil
}

func (d *MAVDialer) endpointConf(ctx context.Context, ep Endpoint) (gomavlib.EndpointConf, error) {
	switch ep.Kind {
	case KindUDPListen:
		return gomavlib.EndpointUDPServer{Address: ep.Address}, nil

	case KindUDPDial:
		return gomavlib.EndpointUDPClient{Address: ep.Address}, nil

	case KindTCP:
		var nd net.Dialer
		conn, err := nd.DialContext(ctx, "tcp", ep.Address)
		if err != nil {
			return nil, err
		}
		rwc, err := d.record(conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return gomavlib.EndpointCustom{ReadWriteCloser: rwc}, nil

	case KindSerial:
		port, err := serial.Open(ep.Address, &serial.Mode{BaudRate: ep.Baud})
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", ep.Address, err)
		}
		rwc, err := d.record(port)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		return gomavlib.EndpointCustom{ReadWriteCloser: rwc}, nil

	case KindReplay:
		speed := d.ReplaySpeed
		if speed <= 0 {
			speed = 1
		}
		st, err := replay.OpenStream(ep.Address, speed, d.ReplayLoop)
		if err != nil {
			return nil, fmt.Errorf("open replay %s: %w", ep.Address, err)
		}
		return gomavlib.EndpointCustom{ReadWriteCloser: st}, nil
	}
	return nil, fmt.Errorf("unsupported endpoint kind %s", ep.Kind)
}

func (d *MAVDialer) record(rwc io.ReadWriteCloser) (io.ReadWriteCloser, error) {
	if d.RecordPath == "" {
		return rwc, nil
	}
	w, err := replay.CreateWriter(d.RecordPath)
	if err != nil {
		return nil, fmt.Errorf("create capture %s: %w", d.RecordPath, err)
	}
	return &recordingConn{ReadWriteCloser: rwc, w: w, now: time.Now}, nil
}

// recordingConn copies every chunk read from the link into a capture file.
type recordingConn struct {
	io.ReadWriteCloser
	w   *replay.Writer
	now func() time.Time
}

func (c *recordingConn) Read(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Read(p)
	if n > 0 {
		_ = c.w.WriteChunk(c.now(), p[:n])
	}
	return n, err
}

func (c *recordingConn) Close() error {
	err := c.ReadWriteCloser.Close()
	if werr := c.w.Close(); err == nil {
		err = werr
	}
	return err
}

type mavTransport struct {
	node   *gomavlib.Node
	events chan gomavlib.Event
	stream bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (t *mavTransport) Receive(timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-t.closed:
			return Frame{}, ErrTransportClosed

		case <-timer.C:
			return Frame{}, ErrTimeout

		case ev, ok := <-t.events:
			if !ok {
				return Frame{}, ErrTransportClosed
			}
			switch e := ev.(type) {
			case *gomavlib.EventFrame:
				return Frame{Message: e.Message(), SystemID: e.SystemID(), ComponentID: e.ComponentID()}, nil
			case *gomavlib.EventParseError:
				return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, e.Error)
			case *gomavlib.EventChannelClose:
				if t.stream {
					return Frame{}, ErrTransportClosed
				}
			}
		}
	}
}

func (t *mavTransport) Send(msg message.Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	return t.node.WriteMessageAll(msg)
}

func (t *mavTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.node.Close()
	})
	return nil
}
