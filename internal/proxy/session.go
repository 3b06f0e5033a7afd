// Package proxy implements the per-client bidirectional pump (C5) that ties
// the RESP framer, fault engine, and upstream connector together. The accept
// loop, connection tracking, and graceful shutdown draining are adapted from
// redkit's Server.Serve/Shutdown/handleConnectionInternal (server.go):
// goroutine-per-connection, a tracked-connections map guarded by a mutex, a
// sync.WaitGroup for drain-on-shutdown, and an atomic shutdown flag.
package proxy

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Toyota-Connected-India/red-monkey/internal/fault"
	"github.com/Toyota-Connected-India/red-monkey/internal/registry"
	"github.com/Toyota-Connected-India/red-monkey/internal/resp"
	"github.com/Toyota-Connected-India/red-monkey/internal/upstream"
)

const readChunkSize = 32 * 1024

// Connector is the subset of upstream.Connector a Session needs, narrowed
// for testability.
type Connector interface {
	Connect(ctx context.Context) (net.Conn, error)
}

var _ Connector = (*upstream.Connector)(nil)

// Session owns one client connection end-to-end: the accepted client
// socket, the dialed upstream socket, and the concurrent pumps that move
// bytes between them.
type Session struct {
	client   net.Conn
	upstream net.Conn
	registry *registry.Registry
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// clientDataCh carries chunks read from the client socket by readClient
	// to pumpClientToUpstream. It is unbuffered, so a chunk is always fully
	// consumed before clientClosed can be observed closed: readClient only
	// closes clientClosed after its (blocking) send of any final chunk has
	// completed.
	clientDataCh chan []byte
	// clientClosed is closed by readClient the instant the client socket
	// errors or reaches EOF, including while pumpClientToUpstream is
	// blocked waiting out a Delay — so a client disconnect abandons a
	// pending Delay immediately instead of waiting for it to elapse.
	clientClosed chan struct{}

	writeMu   sync.Mutex // serializes all writes to the client socket
	closeOnce sync.Once
}

func newSession(ctx context.Context, client, upstreamConn net.Conn, reg *registry.Registry, logger *zap.Logger) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)
	return &Session{
		client:       client,
		upstream:     upstreamConn,
		registry:     reg,
		logger:       logger,
		ctx:          sessionCtx,
		cancel:       cancel,
		clientDataCh: make(chan []byte),
		clientClosed: make(chan struct{}),
	}
}

// Run starts the client reader and both pumps and blocks until all three
// have stopped. Each one closes the session as soon as it returns, so the
// first side to observe EOF, an I/O error, or a DropConn immediately
// unblocks the others' socket I/O instead of waiting on the others to
// notice independently.
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer s.Close()
		s.readClient()
	}()
	go func() {
		defer wg.Done()
		defer s.Close()
		s.pumpClientToUpstream()
	}()
	go func() {
		defer wg.Done()
		defer s.Close()
		s.pumpUpstreamToClient()
	}()
	wg.Wait()
}

// Close cancels any in-progress Delay and closes both sockets exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.client.Close()
		s.upstream.Close()
	})
}

// readClient reads from the client socket for the life of the session and
// hands chunks to pumpClientToUpstream over clientDataCh, independently of
// whatever pumpClientToUpstream is currently doing (including sitting
// inside a Delay's select). It is the sole reader of the client socket.
func (s *Session) readClient() {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := s.client.Read(chunk)
		if n > 0 {
			data := append([]byte(nil), chunk[:n]...)
			select {
			case s.clientDataCh <- data:
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			close(s.clientClosed)
			return
		}
	}
}

// pumpClientToUpstream consumes client bytes delivered by readClient, frames
// complete RESP requests, consults the fault engine for each, and
// forwards/delays/rejects/drops accordingly. A Delay holds back frames k+1…
// from this connection but never reorders them: each frame is fully
// resolved before the next one is handled.
func (s *Session) pumpClientToUpstream() {
	var buf bytes.Buffer

	for {
		select {
		case data := <-s.clientDataCh:
			buf.Write(data)
			if !s.drainFrames(&buf) {
				return
			}
		case <-s.clientClosed:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// drainFrames processes every complete RESP frame currently buffered,
// leaving any trailing partial frame in place for the next read. It
// returns false if the session must terminate.
func (s *Session) drainFrames(buf *bytes.Buffer) bool {
	for {
		pending := buf.Bytes()
		frame, status := resp.Scan(pending)

		switch status {
		case resp.NeedMore:
			return true
		case resp.Malformed:
			s.logger.Warn("malformed client request, closing session",
				zap.String("remote", s.client.RemoteAddr().String()))
			return false
		}

		if !s.handleFrame(frame.CommandUpper, pending[:frame.End]) {
			return false
		}

		remaining := append([]byte(nil), pending[frame.End:]...)
		buf.Reset()
		buf.Write(remaining)
	}
}

// handleFrame applies the fault decision for one complete frame. It returns
// false if the session must terminate (Drop, an abandoned Delay, or an I/O
// error).
func (s *Session) handleFrame(commandUpper string, rawFrame []byte) bool {
	decision := fault.Decide(commandUpper, s.registry)

	switch decision.Kind {
	case fault.PassThrough:
		if _, err := s.upstream.Write(rawFrame); err != nil {
			return false
		}
		return true

	case fault.DelayThenPass:
		timer := time.NewTimer(decision.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			return false
		case <-s.clientClosed:
			return false
		}
		if _, err := s.upstream.Write(rawFrame); err != nil {
			return false
		}
		return true

	case fault.ReplyErrorAndDiscard:
		s.writeMu.Lock()
		_, err := s.client.Write([]byte("-" + decision.ErrorMsg + "\r\n"))
		s.writeMu.Unlock()
		return err == nil

	case fault.Drop:
		s.logger.Info("dropping connection per fault plan",
			zap.String("remote", s.client.RemoteAddr().String()))
		return false

	default:
		return false
	}
}

// pumpUpstreamToClient is a straight byte copy with no framing. Writes to
// the client are serialized against pumpClientToUpstream's Error-fault
// writes via writeMu so a synthetic error can never interleave with
// in-flight upstream bytes.
func (s *Session) pumpUpstreamToClient() {
	chunk := make([]byte, readChunkSize)
	for {
		n, readErr := s.upstream.Read(chunk)
		if n > 0 {
			s.writeMu.Lock()
			_, writeErr := s.client.Write(chunk[:n])
			s.writeMu.Unlock()
			if writeErr != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

// Listener accepts client connections and constructs a Session bound to a
// fresh upstream connection for each, tracking active sessions for
// graceful shutdown.
type Listener struct {
	Address   string
	Connector Connector
	Registry  *registry.Registry
	Logger    *zap.Logger

	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	sessions   map[*Session]struct{}
	inShutdown atomic.Bool
}

// NewListener constructs a Listener for the data-plane accept loop.
func NewListener(address string, connector Connector, reg *registry.Registry, logger *zap.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		Address:   address,
		Connector: connector,
		Registry:  reg,
		Logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[*Session]struct{}),
	}
}

// ListenAndServe binds Address and blocks accepting client connections
// until Shutdown is called.
func (l *Listener) ListenAndServe() error {
	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return err
	}
	l.listener = ln
	l.Logger.Info("data-plane proxy listening", zap.String("address", l.Address))

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.inShutdown.Load() {
				return nil
			}
			l.Logger.Warn("accept error", zap.Error(err))
			continue
		}

		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			l.handle(c)
		}(conn)
	}
}

func (l *Listener) handle(client net.Conn) {
	upstreamConn, err := l.Connector.Connect(l.ctx)
	if err != nil {
		l.Logger.Warn("failed to connect to origin, closing client", zap.Error(err))
		client.Close()
		return
	}

	session := newSession(l.ctx, client, upstreamConn, l.Registry, l.Logger)

	l.mu.Lock()
	l.sessions[session] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.sessions, session)
		l.mu.Unlock()
	}()

	session.Run()
}

// Shutdown stops accepting new connections, closes every active session
// (abandoning any in-progress Delay), and waits for their pumps to return
// or ctx to expire.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.inShutdown.Store(true)
	l.cancel()

	if l.listener != nil {
		l.listener.Close()
	}

	l.mu.Lock()
	for session := range l.sessions {
		session.Close()
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// ActiveSessions returns the number of sessions currently being pumped.
func (l *Listener) ActiveSessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
