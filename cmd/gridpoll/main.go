package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/fbecker/gridpoll/internal/api/http"
	"github.com/fbecker/gridpoll/internal/config"
	"github.com/fbecker/gridpoll/internal/ingest"
	"github.com/fbecker/gridpoll/internal/scheduler"
	"github.com/fbecker/gridpoll/internal/sources"
	"github.com/fbecker/gridpoll/internal/store"
)

const usage = `usage: gridpoll <command> [flags]

Commands:
  poll    run poll cycles (one cycle with -once, otherwise periodic)
  serve   run periodic poll cycles and the readings query API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "poll":
		runPoll(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "gridpoll: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// setup loads the configuration and wires the store, watermarks, sources
// and ingestion loop together.
func setup() (*config.AppConfig, *ingest.Loop, *store.DiskStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.NewDiskStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	marks, err := ingest.OpenWatermarks(filepath.Join(cfg.DataDir, "watermarks.json"))
	if err != nil {
		return nil, nil, nil, err
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	var srcs []ingest.Source
	if cfg.MeterConfigured() {
		srcs = append(srcs, sources.NewMeterClient(httpClient, cfg.MeterEmail, cfg.MeterPassword, cfg.MeterID))
	} else {
		log.Println("meter account not configured; skipping the meter source")
	}
	if cfg.AwattarEnabled {
		srcs = append(srcs, sources.NewPriceClient(httpClient))
	}
	if cfg.WeatherConfigured() {
		srcs = append(srcs, sources.NewWeatherClient(httpClient, cfg.OWMAPIKey, cfg.OWMLatitude, cfg.OWMLongitude))
	} else {
		log.Println("OpenWeatherMap not configured; skipping the weather source")
	}

	loop, err := ingest.New(ingest.Params{
		Sources:  srcs,
		Store:    st,
		Marks:    marks,
		Backfill: cfg.Backfill,
		Retry: ingest.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			Initial:     cfg.RetryInitial,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, loop, st, nil
}

func runPoll(args []string) {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	once := fs.Bool("once", false, "run a single poll cycle and exit")
	fs.Parse(args)

	cfg, loop, _, err := setup()
	if err != nil {
		log.Fatalf("gridpoll: %v", err)
	}

	if *once {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		report := loop.RunCycle(ctx)
		log.Print(report.Summary())
		if report.Fatal != nil {
			os.Exit(1)
		}
		return
	}

	sched := scheduler.New(loop, cfg.PollInterval, cfg.PollInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	waitForSignal()
	sched.Stop()
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Parse(args)

	cfg, loop, st, err := setup()
	if err != nil {
		log.Fatalf("gridpoll: %v", err)
	}

	sched := scheduler.New(loop, cfg.PollInterval, cfg.PollInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "gridpoll",
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
			"service": "gridpoll",
		})
	})

	httpapi.RegisterRoutes(app, st)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	waitForSignal()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

func waitForSignal() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}
