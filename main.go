package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ashgrove-care/carewatch/internal/api"
	"github.com/ashgrove-care/carewatch/internal/config"
	"github.com/ashgrove-care/carewatch/internal/fall"
	"github.com/ashgrove-care/carewatch/internal/notify"
	"github.com/ashgrove-care/carewatch/internal/pipeline"
	"github.com/ashgrove-care/carewatch/internal/store"
	"github.com/ashgrove-care/carewatch/internal/vision"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (optional)")
	devMode    = flag.Bool("dev", false, "Run in dev mode with a simulated camera")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
)

func main() {
	flag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}

	db, err := store.Open(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	users := store.NewUserStore(db)
	alerts := store.NewAlertStore(db)

	notifier := notify.NewManager(notify.Config{
		MaxRetries: cfg.GetNotifyMaxRetries(),
		RetryDelay: cfg.GetNotifyRetryDelay(),
	}, notify.LogSender{}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier.Start(ctx)

	pipelines := buildPipelines(cfg, alerts, users, notifier)
	if len(pipelines) == 0 {
		log.Fatal("No cameras configured; pass -dev or a config file with cameras")
	}

	var wg sync.WaitGroup
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *pipeline.Pipeline) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				log.Printf("pipeline %s exited with error: %v", p.Name(), err)
			}
		}(p)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(pipelines, db, users, alerts, cfg).ServeMux()
		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("API listening on %s", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	notifier.Wait()
	log.Printf("Graceful shutdown complete")
}

// buildPipelines constructs one pipeline per configured camera, or a single
// simulated camera in dev mode.
func buildPipelines(cfg *config.Config, alerts *store.AlertStore, users *store.UserStore, notifier *notify.Manager) []*pipeline.Pipeline {
	trackerCfg := vision.TrackerConfig{MatchThreshold: cfg.GetMatchIoUThreshold()}
	monitorCfg := fall.MonitorConfig{
		FallDuration:      cfg.GetFallDuration(),
		GroundAspectRatio: cfg.GetGroundAspectRatio(),
	}

	pipelines := []*pipeline.Pipeline{}

	if *devMode {
		sim := pipeline.NewSimCamera(pipeline.WalkThenFall(), time.Second, true)
		p := pipeline.New(
			pipeline.Config{CameraName: "sim", FallDetection: cfg.GetFallDetection()},
			sim, sim,
			vision.NewTracker(trackerCfg),
			fall.NewMonitor(monitorCfg, nil),
			alerts, users, notifier, nil,
		)
		return append(pipelines, p)
	}

	for _, cam := range cfg.Cameras {
		switch cam.Type {
		case "", "http", "mjpeg":
		default:
			log.Printf("camera %s: type %q needs an MJPEG restreamer, skipping", cam.Name, cam.Type)
			continue
		}
		p := pipeline.New(
			pipeline.Config{CameraName: cam.Name, FallDetection: cfg.GetFallDetection()},
			pipeline.NewMJPEGSource(cam.URI),
			pipeline.NewHTTPDetector(cfg.GetDetectorURL()),
			vision.NewTracker(trackerCfg),
			fall.NewMonitor(monitorCfg, nil),
			alerts, users, notifier, nil,
		)
		pipelines = append(pipelines, p)
	}
	return pipelines
}
