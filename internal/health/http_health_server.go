package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// HTTPHealthServer serves the probe endpoints. It is a thin delegate:
// every handler calls one HealthAPI method and writes the result, so
// the transport stays free of health logic.
type HTTPHealthServer struct {
	cfg    *config.HTTPHealthConfig
	api    HealthAPI
	logger *logging.Logger
	server *http.Server
}

var _ common.Stoppable = (*HTTPHealthServer)(nil)

// NewHTTPHealthServer wires the endpoints from configuration.
func NewHTTPHealthServer(cfg *config.HTTPHealthConfig, api HealthAPI, logger *logging.Logger) (*HTTPHealthServer, error) {
	if cfg == nil || api == nil || logger == nil {
		return nil, fmt.Errorf("config, api, and logger are all required")
	}

	hs := &HTTPHealthServer{cfg: cfg, api: api, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.BasicEndpoint, hs.probe(func(ctx context.Context) (any, int, error) {
		resp, err := api.GetHealth(ctx)
		return resp, http.StatusOK, err
	}))
	mux.HandleFunc(cfg.DetailedEndpoint, hs.probe(func(ctx context.Context) (any, int, error) {
		resp, err := api.GetDetailedHealth(ctx)
		return resp, http.StatusOK, err
	}))
	mux.HandleFunc(cfg.ReadyEndpoint, hs.probe(func(ctx context.Context) (any, int, error) {
		resp, err := api.IsReady(ctx)
		status := http.StatusOK
		if err == nil && !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		return resp, status, err
	}))
	mux.HandleFunc(cfg.LiveEndpoint, hs.probe(func(ctx context.Context) (any, int, error) {
		resp, err := api.IsAlive(ctx)
		status := http.StatusOK
		if err == nil && !resp.Alive {
			status = http.StatusServiceUnavailable
		}
		return resp, status, err
	}))

	readTimeout, err := parseTimeout(cfg.ReadTimeout, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid read timeout: %w", err)
	}
	writeTimeout, err := parseTimeout(cfg.WriteTimeout, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid write timeout: %w", err)
	}
	idleTimeout, err := parseTimeout(cfg.IdleTimeout, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout: %w", err)
	}

	hs.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return hs, nil
}

func parseTimeout(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// probe adapts one HealthAPI call into a GET-only JSON handler.
func (hs *HTTPHealthServer) probe(call func(ctx context.Context) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload, status, err := call(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err != nil {
			hs.logger.WithError(err).Error("health probe failed")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
			return
		}
		w.WriteHeader(status)
		if encErr := json.NewEncoder(w).Encode(payload); encErr != nil {
			hs.logger.WithError(encErr).Error("health response encode failed")
		}
	}
}

// Start listens and serves until ctx is cancelled, then shuts down.
func (hs *HTTPHealthServer) Start(ctx context.Context) error {
	if !hs.cfg.Enabled {
		hs.logger.Info("health endpoints disabled")
		return nil
	}

	ln, err := net.Listen("tcp", hs.server.Addr)
	if err != nil {
		return err
	}
	hs.logger.WithFields(logging.Fields{"addr": hs.server.Addr}).Info("health endpoints listening")

	go func() {
		if err := hs.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			hs.logger.WithError(err).Error("health server stopped")
		}
	}()

	<-ctx.Done()
	return common.StopWithTimeout(hs, 5*time.Second)
}

// Stop shuts the listener down within ctx's deadline.
func (hs *HTTPHealthServer) Stop(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}
