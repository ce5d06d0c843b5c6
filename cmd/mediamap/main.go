package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/mediamap/internal/app"
	"github.com/ayusman/mediamap/internal/calibration"
	"github.com/ayusman/mediamap/internal/config"
	"github.com/ayusman/mediamap/internal/logging"
	"github.com/ayusman/mediamap/internal/server"
	"github.com/ayusman/mediamap/internal/store"
	"github.com/ayusman/mediamap/internal/syncbus"
	"github.com/ayusman/mediamap/internal/tray"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	headless := flag.Bool("headless", false, "run without the system tray")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, err := logging.New(cfg.Log, cfg.Environment)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	if err := run(cfg, log, *headless); err != nil {
		log.WithError(err).Fatal("mediamap stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger, headless bool) error {
	log.WithField("environment", cfg.Environment).Info("Mediamap - gesture and object control for projected maps")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.DBPath, store.WithLogger(log))
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	bus, err := newBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	hub := server.NewHub(bus, log)
	hub.Start(ctx)

	a, err := app.New(app.Config{
		Settings:    cfg,
		Store:       st,
		Bus:         bus,
		Broadcaster: hub,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	// Without a camera the API still serves calibration and the grid.
	if err := a.Start(); err != nil {
		log.WithError(err).Warn("pipeline not started")
	}
	defer a.Stop()

	webDir := findWebDir(cfg.DataDir)
	if webDir != "" {
		log.WithField("dir", webDir).Info("serving static files")
	}
	srv := server.New(server.Config{StaticDir: webDir, App: a, Hub: hub, Logger: log})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.Addr) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown")
		}
	}()

	if headless {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case err := <-errCh:
			return err
		}
	}

	tr := tray.New(a.IsEnabled())
	tr.OnToggle(a.SetEnabled)
	tr.OnRecalibrate(func() {
		if err := a.ResetCalibration(app.CameraCalibration); err != nil {
			log.WithError(err).Warn("recalibrate failed")
		}
	})
	tr.OnSettings(func() {
		if err := openBrowser(localURL(cfg.Addr)); err != nil {
			log.WithError(err).Warn("could not open browser")
		}
	})
	tr.OnQuit(stop)

	go func() {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				log.WithError(err).Error("server failed")
			}
		}
		tr.Quit()
	}()
	go syncTray(ctx, tr, a)

	// systray needs the main goroutine.
	tr.Run()
	log.Info("shutting down")
	return nil
}

func newBus(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (syncbus.Bus, error) {
	if cfg.Redis.Addr == "" {
		return syncbus.NewMemoryBus(log), nil
	}
	bus, err := syncbus.NewRedisBus(ctx, syncbus.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("connect sync bus: %w", err)
	}
	return bus, nil
}

// syncTray mirrors changes made through the API into the tray menu.
func syncTray(ctx context.Context, tr *tray.Tray, a *app.App) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr.SetEnabled(a.IsEnabled())
			tr.SetStatus(statusLine(a.Calibrations()))
		}
	}
}

func statusLine(statuses []calibration.Status) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, s.Name+" "+s.State.String())
	}
	return strings.Join(parts, ", ")
}

func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}
	return ""
}
