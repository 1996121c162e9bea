/*
WebSocket event push: the transport over which Supervisor-confirmed
completion and health events reach the HTTP control layer and UIs.

Clients connect with a bearer token (Authorization header or ?token=),
get the JWT validated once at upgrade, then receive every supervisor
Event as a JSON frame until they disconnect. Slow clients are dropped
rather than allowed to back up the notifier.
*/
package facade

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/security"
)

// EventServer serves the facade's WebSocket event-push endpoint.
type EventServer struct {
	cfg     config.FacadeConfig
	ctrl    Controller
	jwt     *security.JWTHandler
	binding *HTTPBinding
	logger  *logging.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	mu    sync.Mutex
	conns int
}

var _ common.Stoppable = (*EventServer)(nil)

// NewEventServer wires the event endpoint and, when binding is
// non-nil, the HTTP control routes on the same listener. jwt may be nil
// in development setups, which disables authentication.
func NewEventServer(cfg config.FacadeConfig, ctrl Controller, jwt *security.JWTHandler, binding *HTTPBinding, logger *logging.Logger) *EventServer {
	if cfg.EventPath == "" {
		cfg.EventPath = "/events"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	return &EventServer{
		cfg:     cfg,
		ctrl:    ctrl,
		jwt:     jwt,
		binding: binding,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start begins listening; non-blocking.
func (s *EventServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.EventPath, s.handleEvents)
	if s.binding != nil {
		s.binding.Mount(mux)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{Handler: mux}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithFields(logging.Fields{"error": err.Error()}).Error("event server stopped")
		}
	}()
	s.logger.WithFields(logging.Fields{"addr": addr, "path": s.cfg.EventPath}).Info("event push server listening")
	return nil
}

// Stop shuts the listener down within the configured grace period.
func (s *EventServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

func (s *EventServer) authenticate(r *http.Request) (string, error) {
	if s.jwt == nil {
		return "anonymous", nil
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return "", fmt.Errorf("missing token")
	}
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *EventServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.conns >= s.cfg.MaxConnections {
		s.mu.Unlock()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	s.conns++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conns--
		s.mu.Unlock()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.ctrl.Events()
	defer unsubscribe()

	s.logger.WithFields(logging.Fields{"user": userID, "remote": r.RemoteAddr}).Info("event subscriber connected")

	// reader goroutine: only to observe close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.WithFields(logging.Fields{"user": userID, "error": err.Error()}).Debug("event subscriber dropped")
				return
			}
		case <-closed:
			return
		}
	}
}
