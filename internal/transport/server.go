// Package transport owns the WebSocket surface: listening, the token-gated
// upgrade handshake, and the per-connection read/write loops that bridge
// frames to the broadcast engine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/watsonu/WebChat-Furia/internal/chat"
	"github.com/watsonu/WebChat-Furia/internal/config"
	"github.com/watsonu/WebChat-Furia/internal/session"
)

// Server accepts TCP connections, upgrades them to WebSocket with gobwas/ws
// and runs the chat event loop for each.
type Server struct {
	cfg      config.ChatConfig
	logger   *zap.Logger
	engine   *chat.Engine
	registry *session.Registry
	listener net.Listener
	wg       sync.WaitGroup
}

func NewServer(cfg config.ChatConfig, logger *zap.Logger, engine *chat.Engine, registry *session.Registry) *Server {
	return &Server{cfg: cfg, logger: logger, engine: engine, registry: registry}
}

// EncodeMessage is the broadcast frame codec handed to the engine, so the
// fan-out payload and the transport wire format stay defined in one place.
func EncodeMessage(msg chat.Message) ([]byte, error) {
	return encodeMessageEvent(msg)
}

func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("transport already started")
	}

	ln, err := net.Listen("tcp", s.cfg.ChatAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("chat transport listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if shouldRetryAccept(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept error", zap.Error(err))
			}
			return
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}
}

// shouldRetryAccept keeps the accept loop alive through transient listener
// errors (EMFILE bursts, aborted handshakes); a dead loop would leave the
// process running with no way to connect.
func shouldRetryAccept(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Temporary() //nolint:staticcheck // no replacement distinguishes transient accept errors
}

// upgrader builds the handshake gate for one connection attempt. The token
// must match before the upgrade completes; no chat event is ever processed
// on a rejected connection.
func (s *Server) upgrader() ws.Upgrader {
	return ws.Upgrader{
		OnRequest: func(uri []byte) error {
			token := tokenFromURI(string(uri))
			if err := s.registry.Authenticate(token); err != nil {
				return ws.RejectConnectionError(
					ws.RejectionStatus(http.StatusUnauthorized),
					ws.RejectionReason("invalid token"),
				)
			}
			return nil
		},
		OnHeader: func(key, value []byte) error {
			if !strings.EqualFold(string(key), "Origin") {
				return nil
			}
			if s.cfg.AllowedOrigin == "" || string(value) == s.cfg.AllowedOrigin {
				return nil
			}
			return ws.RejectConnectionError(
				ws.RejectionStatus(http.StatusForbidden),
				ws.RejectionReason("origin not allowed"),
			)
		},
	}
}

func tokenFromURI(uri string) string {
	u, err := url.ParseRequestURI(uri)
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

func (s *Server) handleConnection(parent context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.handshakeWindow())); err != nil {
		s.logger.Debug("set deadline", zap.Error(err))
	}

	upgrader := s.upgrader()
	if _, err := upgrader.Upgrade(conn); err != nil {
		s.logger.Debug("upgrade rejected", zap.Error(err))
		return
	}
	_ = conn.SetDeadline(time.Time{})

	registration := s.registry.Register()
	defer s.registry.Unregister(registration)
	s.logger.Info("connection open", zap.Uint64("connection_id", registration.ID()))
	defer s.logger.Info("connection closed", zap.Uint64("connection_id", registration.ID()))

	connCtx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(connCtx, registration, conn)
		// The write loop also ends when the registry drops a slow
		// connection; closing the socket unblocks the read loop too.
		_ = conn.Close()
	}()

	s.readLoop(connCtx, registration, conn)
	cancel()
	<-done
}

func (s *Server) handshakeWindow() time.Duration {
	if s.cfg.HandshakeWindow > 0 {
		return s.cfg.HandshakeWindow
	}
	return 10 * time.Second
}

func (s *Server) readLoop(ctx context.Context, registration *session.Connection, conn net.Conn) {
	limit := rate.Limit(s.cfg.MessageRate)
	if s.cfg.MessageRate <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, s.messageBurst())
	reader := wsutil.NewReader(conn, ws.StateServerSide)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		head, err := reader.NextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read frame error", zap.Error(err))
			}
			return
		}

		switch head.OpCode {
		case ws.OpClose:
			_ = wsutil.WriteServerMessage(conn, ws.OpClose, nil)
			return
		case ws.OpPing:
			if err := wsutil.WriteServerMessage(conn, ws.OpPong, nil); err != nil {
				s.logger.Debug("write pong error", zap.Error(err))
				return
			}
		case ws.OpText, ws.OpBinary:
			// The length comes straight from the client's frame header;
			// cap it before allocating or one connection could OOM the
			// whole process.
			if head.Length > s.maxFrameBytes() {
				s.logger.Warn("closing connection on oversized frame",
					zap.Uint64("connection_id", registration.ID()),
					zap.Int64("declared_length", head.Length),
				)
				registration.Deliver(encodeErrorEvent("frame too large"))
				return
			}
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				s.logger.Debug("read frame data error", zap.Error(err))
				return
			}
			s.handleFrame(ctx, registration, limiter, payload)
		default:
			if _, err := io.CopyN(io.Discard, reader, int64(head.Length)); err != nil {
				s.logger.Debug("drain frame data error", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) maxFrameBytes() int64 {
	if s.cfg.MaxFrameBytes > 0 {
		return s.cfg.MaxFrameBytes
	}
	return 64 << 10
}

func (s *Server) messageBurst() int {
	if s.cfg.MessageBurst > 0 {
		return s.cfg.MessageBurst
	}
	return 1
}

// handleFrame dispatches one client event. Every failure is converted to an
// error event for this sender only; nothing here can take down another
// connection's in-flight work.
func (s *Server) handleFrame(ctx context.Context, registration *session.Connection, limiter *rate.Limiter, payload []byte) {
	ev, err := decodeEnvelope(payload)
	if err != nil {
		registration.Deliver(encodeErrorEvent("malformed event"))
		return
	}

	switch ev.Type {
	case eventMessage:
		if !limiter.Allow() {
			registration.Deliver(encodeErrorEvent("too many messages, slow down"))
			return
		}
		s.handleMessage(ctx, registration, ev)
	case eventLoadHistory:
		s.handleLoadHistory(ctx, registration, ev)
	default:
		registration.Deliver(encodeErrorEvent(fmt.Sprintf("unknown event type %q", ev.Type)))
	}
}

func (s *Server) handleMessage(ctx context.Context, registration *session.Connection, ev envelope) {
	p, err := decodeMessagePayload(ev.Data)
	if err != nil {
		registration.Deliver(encodeErrorEvent("malformed message data"))
		return
	}

	// The sender gets its own copy through the broadcast fan-out, so a
	// successful submit needs no direct reply here.
	if _, err := s.engine.Submit(ctx, p.Author, p.Body); err != nil {
		registration.Deliver(encodeErrorEvent(rejectionReason(err)))
	}
}

func (s *Server) handleLoadHistory(ctx context.Context, registration *session.Connection, ev envelope) {
	messages := s.engine.Replay(ctx, s.historyLimit())

	frame, err := encodeHistoryEvent(ev.Ack, messages)
	if err != nil {
		s.logger.Error("encode history frame", zap.Error(err))
		registration.Deliver(encodeErrorEvent("history unavailable"))
		return
	}
	registration.Deliver(frame)
}

func (s *Server) historyLimit() int {
	if s.cfg.HistoryLimit > 0 {
		return s.cfg.HistoryLimit
	}
	return 50
}

func rejectionReason(err error) string {
	var vErr *chat.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Error()
	}
	if errors.Is(err, chat.ErrStoreUnavailable) {
		return "service unavailable, try again"
	}
	return "failed to process message"
}

func (s *Server) writeLoop(ctx context.Context, registration *session.Connection, conn net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-registration.Outbound():
			if !ok {
				return
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, frame); err != nil {
				s.logger.Debug("write frame error", zap.Error(err))
				return
			}
		}
	}
}
