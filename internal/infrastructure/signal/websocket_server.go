package signal

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"facestream/internal/core/domain"
	"facestream/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// WebSocketServer upgrades viewer connections into frame sockets.
type WebSocketServer struct {
	upgrader websocket.Upgrader
	config   Config
	logger   *zap.SugaredLogger
}

func NewWebSocketServer(cfg Config, logger *zap.SugaredLogger) *WebSocketServer {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &WebSocketServer{
		config: cfg,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// originChecker allows the listed origins, "*" for any, and falls back to
// gorilla's same-host check when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// Accept upgrades the request. On failure the upgrader has already replied.
// The returned socket's Context is cancelled when the peer goes away.
func (s *WebSocketServer) Accept(parent context.Context, w http.ResponseWriter, r *http.Request) (*FrameSocket, error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Infow("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	sock := &FrameSocket{
		conn:   conn,
		config: s.config,
		logger: s.logger,
		ctx:    ctx,
		cancel: cancel,
	}
	sock.start()
	return sock, nil
}

// FrameSocket sends one binary message per frame. It reads only to answer
// control frames and to notice the peer leaving.
type FrameSocket struct {
	conn   *websocket.Conn
	config Config
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ ports.FrameWriter = (*FrameSocket)(nil)

func (s *FrameSocket) start() {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
}

// Context is done once the peer disconnects or the socket is closed.
func (s *FrameSocket) Context() context.Context {
	return s.ctx
}

func (s *FrameSocket) readLoop() {
	defer s.wg.Done()
	defer s.cancel()

	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Debugw("websocket read ended", "error", err)
			}
			return
		}
	}
}

func (s *FrameSocket) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debugw("error sending ping", "error", err)
				s.cancel()
				return
			}
		}
	}
}

func (s *FrameSocket) WriteFrame(frame domain.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
		s.cancel()
		return err
	}
	return nil
}

// Close sends a close frame with the given reason and releases the
// connection. It is safe to call more than once.
func (s *FrameSocket) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		s.cancel()
		_ = s.conn.Close()
		s.wg.Wait()
	})
}

// CloseCode maps a session termination cause onto a websocket close code.
func CloseCode(cause domain.SessionState) (int, string) {
	switch cause {
	case domain.SessionExhausted:
		return websocket.CloseNormalClosure, "stream ended"
	case domain.SessionErrored:
		return websocket.CloseInternalServerErr, "stream failed"
	default:
		return websocket.CloseGoingAway, ""
	}
}
