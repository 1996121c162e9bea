// Package main is the HDMI mixing appliance's entry point.
//
// Startup order: configuration, logging, security, Supervisor (which
// owns the Device Probe, the per-camera Ingest engines, the Recorder,
// the Scene Manager, and the Mixer), then the Control Facade's event
// transport and the health endpoints. Shutdown reverses the order and
// drains every pipeline to end-of-stream.
//
// Exit codes: 0 on normal shutdown, non-zero for fatal startup errors
// (missing config, invalid config, unwritable recordings root).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/facade"
	"github.com/camerarecorder/hdmi-mixer-go/internal/health"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/camerarecorder/hdmi-mixer-go/internal/security"
	"github.com/camerarecorder/hdmi-mixer-go/internal/supervisor"
)

var configPath = flag.String("config", "/etc/hdmi-mixer/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cm := config.CreateConfigManager()
	if err := cm.LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	cfg := cm.GetConfig()

	logCfg := &logging.LoggingConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FileEnabled:    cfg.Logging.FileEnabled,
		FilePath:       cfg.Logging.FilePath,
		MaxFileSize:    cfg.Logging.MaxFileSize,
		BackupCount:    cfg.Logging.BackupCount,
		ConsoleEnabled: cfg.Logging.ConsoleEnabled,
	}
	if err := logging.ConfigureGlobalLogging(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		return 1
	}
	logger := logging.GetLogger("main")
	cm.RegisterLoggingConfigurationUpdates()

	if err := os.MkdirAll(cfg.Recorder.RecordingsRoot, 0o755); err != nil {
		logger.WithFields(logging.Fields{"root": cfg.Recorder.RecordingsRoot, "error": err.Error()}).Error("recordings root not usable")
		return 1
	}

	// security chain for the control surface
	var jwtHandler *security.JWTHandler
	if cfg.Security.JWTSecretKey != "" {
		var err error
		jwtHandler, err = security.NewJWTHandler(cfg.Security.JWTSecretKey, logging.GetLogger("security"))
		if err != nil {
			logger.WithFields(logging.Fields{"error": err.Error()}).Error("jwt handler setup failed")
			return 1
		}
	} else {
		logger.Warn("no JWT secret configured, control surface authentication disabled")
	}
	auditPath := ""
	if cfg.Logging.FileEnabled && cfg.Logging.FilePath != "" {
		auditPath = filepath.Join(filepath.Dir(cfg.Logging.FilePath), "audit.jsonl")
	}
	audit, err := security.NewAuditLogger(auditPath, logging.GetLogger("audit"))
	if err != nil {
		// audit persistence is best-effort; fall back to log-only
		audit, _ = security.NewAuditLogger("", logging.GetLogger("audit"))
	}
	defer audit.Close()

	sup, err := supervisor.New(cfg, supervisor.Deps{}, logging.GetLogger("supervisor"))
	if err != nil {
		logger.WithFields(logging.Fields{"error": err.Error()}).Error("supervisor setup failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		if err := sup.Run(ctx); err != nil {
			logger.WithFields(logging.Fields{"error": err.Error()}).Error("supervisor exited with error")
		}
	}()

	ctl := facade.New(sup, cfg.Ingest.StartDeadline, audit, logging.GetLogger("facade"))

	var auth *security.Authenticator
	if jwtHandler != nil {
		keyManager, err := security.NewAPIKeyManager(&cfg.APIKeyManagement, logging.GetLogger("security.keys"))
		if err != nil {
			logger.WithFields(logging.Fields{"error": err.Error()}).Error("api key store setup failed")
			return 1
		}
		limiter := security.NewRateLimiter(nil, logging.GetLogger("security.rate"))
		auth = security.NewAuthenticator(jwtHandler, keyManager, security.NewPermissionChecker(), limiter, audit, logging.GetLogger("security"))
	}
	binding := facade.NewHTTPBinding(ctl, auth, logging.GetLogger("facade.http"))

	events := facade.NewEventServer(cfg.Facade, sup, jwtHandler, binding, logging.GetLogger("facade.events"))
	if err := events.Start(); err != nil {
		logger.WithFields(logging.Fields{"error": err.Error()}).Error("event server failed to start")
		stop()
		<-supDone
		return 1
	}

	monitor := health.NewMonitor("1.0.0", cfg.Recorder.RecordingsRoot, healthComponents(sup))
	healthServer, err := health.NewHTTPHealthServer(&cfg.HTTPHealth, monitor, logging.GetLogger("health"))
	if err != nil {
		logger.WithFields(logging.Fields{"error": err.Error()}).Error("health server setup failed")
		stop()
		<-supDone
		return 1
	}
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			logger.WithFields(logging.Fields{"error": err.Error()}).Warn("health server stopped")
		}
	}()

	logger.WithFields(logging.Fields{"cameras": len(cfg.Cameras)}).Info("hdmi-mixer running")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	_ = common.StopAll(10*time.Second, events, healthServer)
	<-supDone
	_ = common.StopWithTimeout(cm, 5*time.Second)

	logger.Info("shutdown complete")
	return 0
}

// healthComponents adapts the Supervisor's snapshot into health rows.
func healthComponents(sup *supervisor.Supervisor) health.ComponentsFunc {
	return func(ctx context.Context) ([]health.ComponentStatus, error) {
		st, err := sup.Status(ctx)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		var rows []health.ComponentStatus
		for id, snap := range st.Cameras {
			rows = append(rows, health.ComponentStatus{
				Name:        "ingest." + id,
				Status:      healthFor(snap.State),
				Message:     snap.LastError,
				LastChecked: now,
				Details: map[string]interface{}{
					"state":  string(snap.State),
					"signal": snap.SignalPresent,
					"caps":   fmt.Sprintf("%dx%d@%d", snap.Caps.Width, snap.Caps.Height, snap.Caps.FrameRate),
				},
			})
		}
		rows = append(rows, health.ComponentStatus{
			Name:        "mixer",
			Status:      healthFor(st.Mixer.State),
			Message:     st.Mixer.LastError,
			LastChecked: now,
			Details: map[string]interface{}{
				"state": string(st.Mixer.State),
				"scene": st.Mixer.SceneID,
			},
		})
		return rows, nil
	}
}

// healthFor maps engine lifecycle states onto health semantics:
// NoSignal and Idle are healthy rest states, not failures.
func healthFor(s common.LifecycleState) health.HealthStatus {
	switch s {
	case common.StateError:
		return health.HealthStatusUnhealthy
	case common.StateDegraded:
		return health.HealthStatusDegraded
	default:
		return health.HealthStatusHealthy
	}
}
