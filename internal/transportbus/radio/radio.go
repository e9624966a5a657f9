// Package radio is a demo stand-in for the public 433MHz channel: it
// broadcasts codec frames as QUIC datagrams so a multi-process demo can
// exercise the protocol over a real network instead of an in-process bus.
// It is not a physical radio driver; see internal/bus's package doc.
package radio

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/tommie/openepo/internal/bus"
	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/logging"
	"github.com/tommie/openepo/internal/recovery"
)

const (
	// idleTimeout closes a peer connection that has gone quiet, mirroring
	// radio hardware that stops listening when nothing has arrived in a
	// while.
	idleTimeout = 60 * time.Second

	// keepAlivePeriod keeps NAT bindings and the QUIC path alive between
	// infrequent remote-control transmissions.
	keepAlivePeriod = 30 * time.Second
)

// Bus is a bus.Bus backed by QUIC datagrams: every Send broadcasts one
// datagram to every connected peer, and every datagram received from a
// peer is delivered to local subscribers. A Bus can act as a listener, a
// dialer, or both, so the demo can run either role on either side.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[int]bus.Handler
	nextID   int
	conns    map[quic.Connection]struct{}

	listener *quic.Listener
	closed   bool
}

// New returns an empty radio Bus. A nil logger discards log output.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(logging.KeyTransport, "radio")
	return &Bus{
		logger:   logger,
		handlers: make(map[int]bus.Handler),
		conns:    make(map[quic.Connection]struct{}),
	}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
		EnableDatagrams: true,
	}
}

// Listen starts accepting QUIC connections on addr, using tlsConfig (whose
// NextProtos must include the ALPN the dialers use). Accepted connections
// are read from and broadcast to until ctx is done or the Bus is closed.
func (b *Bus) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	ln, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return fmt.Errorf("radio: listen: %w", err)
	}

	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()

	b.logger.Info("listening", logging.KeyAddress, addr)
	go b.acceptLoop(ctx, ln)
	return nil
}

func (b *Bus) acceptLoop(ctx context.Context, ln *quic.Listener) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("radio: accept failed", logging.KeyError, err)
			return
		}
		b.addConn(ctx, conn)
	}
}

// Dial connects to a remote radio Bus peer at addr and joins its
// broadcast: datagrams it sends are delivered to local subscribers, and
// local Sends are broadcast to it.
func (b *Bus) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return fmt.Errorf("radio: dial: %w", err)
	}
	b.logger.Info("dialed", logging.KeyAddress, addr)
	b.addConn(ctx, conn)
	return nil
}

func (b *Bus) addConn(ctx context.Context, conn quic.Connection) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.CloseWithError(0, "bus closed")
		return
	}
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	go b.receiveLoop(ctx, conn)
}

func (b *Bus) receiveLoop(ctx context.Context, conn quic.Connection) {
	defer b.dropConn(conn)

	for {
		msg, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Debug("radio: connection ended", logging.KeyError, err)
			}
			return
		}

		frame, err := codec.DecodeFrame(msg)
		if err != nil {
			b.logger.Warn("radio: dropping undecodable datagram", logging.KeyError, err)
			continue
		}
		b.deliverLocally(frame)
	}
}

func (b *Bus) dropConn(conn quic.Connection) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
}

func (b *Bus) deliverLocally(frame codec.Frame) {
	b.mu.Lock()
	handlers := make([]bus.Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.dispatch(h, frame)
	}
}

func (b *Bus) dispatch(h bus.Handler, frame codec.Frame) {
	defer recovery.RecoverWithLog(b.logger, "radio.Bus.dispatch")
	h(frame)
}

// Send implements bus.Bus: it delivers frame to local subscribers and
// broadcasts it as a datagram to every connected peer. A QUIC send failure
// on one peer is logged and does not prevent delivery to the others; Send
// only returns an error if frame cannot be encoded at all.
func (b *Bus) Send(frame codec.Frame) error {
	raw, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("radio: encode: %w", err)
	}

	b.deliverLocally(frame)

	b.mu.Lock()
	conns := make([]quic.Connection, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		if err := c.SendDatagram(raw); err != nil {
			b.logger.Warn("radio: datagram send failed", logging.KeyError, err)
		}
	}
	return nil
}

// Subscribe implements bus.Bus.
func (b *Bus) Subscribe(handler bus.Handler) bus.Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Close shuts down the listener, if any, and every peer connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conns := make([]quic.Connection, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[quic.Connection]struct{})
	ln := b.listener
	b.mu.Unlock()

	for _, c := range conns {
		c.CloseWithError(0, "bus closed")
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

var _ bus.Bus = (*Bus)(nil)
