package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/cvc-collector/internal/api/http"
	"github.com/i474232898/cvc-collector/internal/config"
	"github.com/i474232898/cvc-collector/internal/metrics"
	"github.com/i474232898/cvc-collector/internal/scheduler"
	"github.com/i474232898/cvc-collector/internal/speed"
	"github.com/i474232898/cvc-collector/internal/speed/source"
	"github.com/i474232898/cvc-collector/internal/store"
)

const serviceName = "cvc-collector"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration file (see example.yml)")
	once := flag.Bool("once", false, "run a single collection cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) && cfgErr.Err == nil {
			return errors.New(cfgErr.Message)
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	log.Info("starting",
		"service", serviceName,
		"version", config.Version(),
		"cvcs", cfg.CVCs,
		"num_days", cfg.NumDays,
		"check_interval", cfg.RecheckInterval().String(),
		"store", cfg.Store.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Point store: InfluxDB in production, in-memory for dry runs.
	var (
		pointStore speed.Store
		reader     httpapi.PointReader
		database   = cfg.InfluxDB.Database
	)
	switch cfg.Store.Driver {
	case "memory":
		mem := store.NewMemoryStore(cfg.Store.MaxHistory)
		defer mem.Close()
		pointStore = mem
		reader = mem
	default:
		influx := store.NewInfluxStore(store.InfluxConfig{
			URL:     cfg.InfluxDB.URL(),
			Token:   cfg.InfluxDB.Token.Reveal(),
			Org:     cfg.InfluxDB.Org,
			Timeout: cfg.InfluxDB.Timeout,
			Logger:  log,
		})
		defer influx.Close()

		if err := influx.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to influxdb at %s: %w", cfg.InfluxDB.URL(), err)
		}
		pointStore = influx
	}

	// Shared HTTP client for upstream calls.
	httpClient := &http.Client{
		Timeout: cfg.Source.Timeout,
	}

	src := source.NewClient(source.ClientConfig{
		HTTPClient: httpClient,
		BaseURL:    cfg.Source.URL,
		Delay:      cfg.Source.RequestDelay,
		UserAgent:  config.UserAgent(),
		Recorder:   m,
		Logger:     log,
	})

	collector := speed.NewCollector(speed.CollectorConfig{
		Source:       src,
		Store:        pointStore,
		Recorder:     m,
		Database:     database,
		Stations:     cfg.CVCs,
		LookbackDays: cfg.NumDays,
		Logger:       log,
	})

	if err := collector.Prepare(ctx); err != nil {
		return err
	}

	if cfg.Status.Addr != "" {
		app := newStatusApp(collector, m, reader, cfg)
		go func() {
			if err := app.Listen(cfg.Status.Addr); err != nil {
				log.Error("status server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				log.Error("error during shutdown", "error", err)
			}
		}()
	}

	if *once {
		_, err := collector.RunCycle(ctx)
		return err
	}

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.RecheckInterval(),
		Runner:   collector,
		Logger:   log,
	})
	if err := sched.Run(ctx); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}

func newStatusApp(collector *speed.Collector, m *metrics.Metrics, reader httpapi.PointReader, cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	httpapi.RegisterRoutes(app, collector, m.Handler(), httpapi.Options{
		CheckInterval: cfg.RecheckInterval(),
		Version:       config.Version(),
		Points:        reader,
	})
	return app
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
