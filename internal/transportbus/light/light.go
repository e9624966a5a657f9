// Package light is a demo stand-in for the trusted line-of-sight private
// channel: it carries codec frames as binary WebSocket messages between a
// single pairing operator process and a single device process. It is not
// a physical light/IR driver; see internal/bus's package doc.
package light

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/tommie/openepo/internal/bus"
	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/logging"
	"github.com/tommie/openepo/internal/recovery"
)

const (
	// path is the fixed HTTP path the private bus upgrades on. The light
	// channel has exactly one correspondent at a time, so no routing by
	// path is needed beyond this.
	path = "/openepo/light"

	// readLimit bounds a single frame; Openepo frames are a few dozen
	// bytes, so this is generous headroom rather than a tuned limit.
	readLimit = 4096
)

// Bus is a bus.Bus backed by a single WebSocket connection: every Send
// writes one binary message, and every binary message received is
// delivered to local subscribers. Unlike the radio Bus, light has exactly
// one correspondent, matching the private channel's line-of-sight,
// one-operator-at-a-time semantics.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[int]bus.Handler
	nextID   int
	conn     *websocket.Conn
	server   *http.Server
	closed   bool
}

// New returns a light Bus with no connection yet. A nil logger discards
// log output.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(logging.KeyTransport, "light")
	return &Bus{
		logger:   logger,
		handlers: make(map[int]bus.Handler),
	}
}

// Listen starts an HTTP server on addr that accepts exactly one WebSocket
// upgrade on the light path and begins reading frames from it. A second
// connection attempt while one is active is rejected.
func (b *Bus) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		if b.conn != nil {
			b.mu.Unlock()
			http.Error(w, "light channel already in use", http.StatusConflict)
			return
		}
		b.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		b.adopt(ctx, conn)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("light: listen: %w", err)
	}

	b.server = &http.Server{Handler: mux, TLSConfig: tlsConfig}

	go func() {
		var serveErr error
		if tlsConfig != nil {
			serveErr = b.server.ServeTLS(ln, "", "")
		} else {
			serveErr = b.server.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			b.logger.Error("light: server stopped", logging.KeyError, serveErr)
		}
	}()

	b.logger.Info("listening", logging.KeyAddress, addr)
	return nil
}

// Dial connects to a light Bus listener at addr and begins reading frames
// from it.
func (b *Bus) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	scheme := "ws"
	var httpClient *http.Client
	if tlsConfig != nil {
		scheme = "wss"
		httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
	}

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("%s://%s%s", scheme, addr, path), &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	if err != nil {
		return fmt.Errorf("light: dial: %w", err)
	}
	b.logger.Info("dialed", logging.KeyAddress, addr)
	b.adopt(ctx, conn)
	return nil
}

func (b *Bus) adopt(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)

	b.mu.Lock()
	if b.closed || b.conn != nil {
		b.mu.Unlock()
		conn.Close(websocket.StatusPolicyViolation, "light channel already in use")
		return
	}
	b.conn = conn
	b.mu.Unlock()

	go b.readLoop(ctx, conn)
}

func (b *Bus) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer b.dropConn(conn)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Debug("light: connection ended", logging.KeyError, err)
			}
			return
		}
		if msgType != websocket.MessageBinary {
			b.logger.Warn("light: ignoring non-binary message")
			continue
		}

		frame, err := codec.DecodeFrame(data)
		if err != nil {
			b.logger.Warn("light: dropping undecodable message", logging.KeyError, err)
			continue
		}
		b.deliverLocally(frame)
	}
}

func (b *Bus) dropConn(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
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
	defer recovery.RecoverWithLog(b.logger, "light.Bus.dispatch")
	h(frame)
}

// Send implements bus.Bus: it delivers frame to local subscribers and, if
// a connection is active, writes it as a binary WebSocket message. Sending
// with no active connection is a silent no-op, matching a line-of-sight
// channel with no correspondent present.
func (b *Bus) Send(frame codec.Frame) error {
	raw, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("light: encode: %w", err)
	}

	b.deliverLocally(frame)

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, raw); err != nil {
		b.logger.Warn("light: write failed", logging.KeyError, err)
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

// Close shuts down the server, if any, and the active connection, if any.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.conn = nil
	server := b.server
	b.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "bus closed")
	}
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
	return nil
}

var _ bus.Bus = (*Bus)(nil)
