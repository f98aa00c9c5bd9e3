package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/watchroom/watchroom/api"
	"github.com/watchroom/watchroom/pkg/capture"
	"github.com/watchroom/watchroom/pkg/config"
	"github.com/watchroom/watchroom/pkg/device"
	"github.com/watchroom/watchroom/pkg/logger"
	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/rtc"
	"github.com/watchroom/watchroom/pkg/signaling"
	"github.com/watchroom/watchroom/pkg/storage"
	"github.com/watchroom/watchroom/pkg/trace"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	var (
		configFile string
		logLevel   string
	)
	flag.StringVar(&configFile, "config", "watchroom.yml", "Path to the configuration file")
	flag.StringVar(&logLevel, "loglevel", "", "Override the configured log level")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(version, configFile, logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create structured logger
	appLogger := logger.NewDefault("WATCHROOM")
	appLogger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	appLogger.Info("Starting watchroom %s...", version)
	appLogger.Info("Device %s (%s) joining room %s via %s", cfg.DeviceID, cfg.Role, cfg.RoomID, cfg.SignalURL)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(cfg.DBPath, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	recorder := trace.Multi(
		trace.LogRecorder{Log: appLogger.Child("trace")},
		storage.Recorder{Journal: store.Journal()},
	)

	transports := func(p signaling.Params) signaling.Transport {
		return signaling.NewClient(cfg.SignalURL, p, appLogger.Child("signal"))
	}
	rtcCfg := rtc.Config{ICEServers: cfg.ICEServers}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ctrl device.Controller
	switch cfg.DeviceType() {
	case model.DeviceTypeCamera:
		src := capture.NewRTPSource(cfg.RTPListen, "", appLogger.Child("capture"))
		cam := device.NewCamera(device.CameraOptions{
			DeviceID:   cfg.DeviceID,
			RoomID:     cfg.RoomID,
			Transports: transports,
			RTC:        rtcCfg,
			Capture:    src,
			Trace:      recorder,
			Log:        appLogger,
		})
		go drainStatus(ctx, appLogger, cam.StatusChanges())
		ctrl = cam

	case model.DeviceTypeMonitor:
		mon := device.NewMonitor(device.MonitorOptions{
			DeviceID:   cfg.DeviceID,
			RoomID:     cfg.RoomID,
			Transports: transports,
			RTC:        rtcCfg,
			Trace:      recorder,
			Log:        appLogger,
		})
		go drainStatus(ctx, appLogger, mon.StatusChanges())
		go drainUpdates(ctx, appLogger, mon.Updates())
		ctrl = mon
	}

	if cfg.AutoJoin {
		if err := ctrl.JoinRoom(ctx); err != nil {
			appLogger.Error("Failed to join room: %v", err)
			appLogger.Info("Use the control API to retry joining")
		}
	}

	// Create control API server
	srv := api.New(ctx, ctrl, store.Journal(), version, appLogger)

	// Start server in a goroutine
	go func() {
		if err := srv.Start(cfg.ServerAddr); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	cancel()
	ctrl.LeaveRoom()

	if err := srv.Shutdown(context.Background()); err != nil {
		appLogger.Error("Server shutdown error: %v", err)
	}

	appLogger.Info("Exited")
}

// drainStatus logs device-level transitions surfaced on the notification
// channel.
func drainStatus(ctx context.Context, log *logger.Logger, ch <-chan device.StatusChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ch:
			log.Debug("device status %s -> %s", s.Old, s.New)
		}
	}
}

// drainUpdates logs per-camera link changes on the monitor.
func drainUpdates(ctx context.Context, log *logger.Logger, ch <-chan device.CameraUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-ch:
			switch u.Kind {
			case device.CameraAdded:
				log.Info("camera %s discovered", u.CameraID)
			case device.CameraRemoved:
				log.Info("camera %s removed", u.CameraID)
			default:
				if u.Track != nil {
					log.Info("camera %s: %s (%s track %s)", u.CameraID, u.Status, u.Track.Kind, u.Track.ID)
				} else {
					log.Info("camera %s: %s", u.CameraID, u.Status)
				}
			}
		}
	}
}
