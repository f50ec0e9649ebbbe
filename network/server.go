// Package network runs the TCP transport for the protocol engine: the accept
// loop, one goroutine per connection, per-frame read deadlines and teardown.
// All protocol semantics live in the vault package; the server only moves
// frames and decides when to sever a connection.
package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"govault/protocol"
	"govault/vault"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

const (
	// DefaultFrameReadTimeout bounds the wait for a declared payload to arrive
	// once its header has been read. A client that never completes a frame is
	// severed and its partial session state discarded.
	DefaultFrameReadTimeout = 30 * time.Second
)

// Server accepts inbound TCP connections and serves the protocol on each.
type Server struct {
	listener net.Listener
	registry vault.Registry
	files    vault.FileStore

	frameReadTimeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithFileStore sets the store that persists decrypted file contents.
func WithFileStore(files vault.FileStore) Cfg {
	return func(s *Server) error {
		s.files = files
		return nil
	}
}

// WithFrameReadTimeout overrides the per-frame read deadline. Zero disables it.
func WithFrameReadTimeout(timeout time.Duration) Cfg {
	return func(s *Server) error {
		s.frameReadTimeout = timeout
		return nil
	}
}

// Listen starts a TCP listener and the accept loop.
func Listen(address string, registry vault.Registry, cfgs ...Cfg) (*Server, error) {
	if registry == nil {
		return nil, errors.New("network: registry is required")
	}
	if address == "" {
		address = ":0"
	}

	server := &Server{
		registry:         registry,
		frameReadTimeout: DefaultFrameReadTimeout,
		closed:           make(chan struct{}),
		conns:            make(map[net.Conn]struct{}),
	}
	for _, cfg := range cfgs {
		if err := cfg(server); err != nil {
			return nil, fmt.Errorf("apply Server cfg failed: %w", err)
		}
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}
	server.listener = listener

	server.wg.Add(1)
	go server.acceptLoop()
	logger.WithField("addr", listener.Addr().String()).Info("server listening")
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting, severs every open connection and waits for the
// connection goroutines to drain. A goroutine parked in a blocking read only
// notices shutdown through its conn closing, so the listener alone is not enough.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.closeConns()
		s.wg.Wait()
	})
	return closeErr
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) closeConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.WithError(err).Warning("accept connection failed")
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn serves one connection: a strict request-then-response loop until
// the client disconnects or commits an unrecoverable framing error.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
	}()

	s.trackConn(conn)
	defer s.untrackConn(conn)

	remote := conn.RemoteAddr().String()
	connLogger := logger.WithField("remote", remote)
	connLogger.Info("connection accepted")

	session, err := vault.NewSession(s.registry, vault.WithFileStore(s.files))
	if err != nil {
		connLogger.WithError(err).Error("create session failed")
		return
	}
	defer session.Close()

	for {
		select {
		case <-s.closed:
			connLogger.Info("connection closed on server shutdown")
			return
		default:
		}

		req, err := s.readRequest(conn)
		switch {
		case err == nil:
			// fall through to dispatch
		case errors.Is(err, protocol.ErrUnknownCode):
			// Recoverable: the frame was fully consumed, answer and keep going.
			connLogger.WithField("code", req.Code.String()).Info("unknown request code")
			if err := protocol.WriteResponse(conn, vault.FramingErrorResponse(req.Version)); err != nil {
				return
			}
			continue
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			connLogger.Info("client disconnected")
			return
		case errors.Is(err, protocol.ErrPayloadTooLarge), errors.Is(err, protocol.ErrTruncated):
			// The stream position is lost; answer if possible and sever.
			connLogger.WithError(err).Warning("unrecoverable framing error, closing connection")
			_ = protocol.WriteResponse(conn, vault.FramingErrorResponse(req.Version))
			return
		default:
			connLogger.WithError(err).Warning("read request failed, closing connection")
			return
		}

		connLogger.WithFields(logrus.Fields{
			"code":   req.Code.String(),
			"client": req.ClientID.String(),
		}).Debug("request received")

		resp := session.Handle(req)
		if err := protocol.WriteResponse(conn, resp); err != nil {
			connLogger.WithError(err).Warning("write response failed, closing connection")
			return
		}

		connLogger.WithField("code", resp.Code.String()).Debug("response sent")
	}
}

// readRequest blocks indefinitely for the next frame header, then bounds the
// remainder of the frame with the configured read deadline.
func (s *Server) readRequest(conn net.Conn) (protocol.Request, error) {
	if s.frameReadTimeout > 0 {
		reader := &deadlineReader{conn: conn, timeout: s.frameReadTimeout}
		return protocol.ReadRequest(reader)
	}
	return protocol.ReadRequest(conn)
}

// deadlineReader arms the read deadline after the first byte of a frame
// arrives, so idle connections may wait forever but a started frame must
// finish within the timeout.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
	started bool
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if !r.started {
		if err := r.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, fmt.Errorf("clear read deadline: %w", err)
		}
		n, err := r.conn.Read(p)
		if n > 0 {
			r.started = true
			if deadlineErr := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); deadlineErr != nil {
				return n, fmt.Errorf("set read deadline: %w", deadlineErr)
			}
		}
		return n, err
	}
	return r.conn.Read(p)
}
