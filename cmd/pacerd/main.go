package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/pacerio/pacer/pkg/config"
	"github.com/pacerio/pacer/pkg/logging"
	prom "github.com/pacerio/pacer/pkg/observability/prometheus"
	"github.com/pacerio/pacer/pkg/pipeline"
	"github.com/pacerio/pacer/pkg/source/fsource"
	"github.com/pacerio/pacer/pkg/source/natsource"
	"github.com/pacerio/pacer/pkg/source/sqlsource"
)

// AppConfig is the daemon configuration, loaded from YAML with PACERD_*
// environment overrides.
type AppConfig struct {
	Name            string          `yaml:"name"`
	Workers         int             `yaml:"workers"`
	PollInterval    config.Duration `yaml:"poll_interval"`
	MailboxCapacity int             `yaml:"mailbox_capacity"`
	HTTPAddr        string          `yaml:"http_addr"`
	Tracing         bool            `yaml:"tracing"`
	Source          SourceConfig    `yaml:"source"`
}

// SourceConfig selects and configures the item source.
type SourceConfig struct {
	// Kind is one of file, nats, postgres.
	Kind string `yaml:"kind"`

	// file
	Dir string `yaml:"dir"`

	// nats
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`

	// postgres
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

func loadConfig(path string) (*AppConfig, error) {
	cfg := &AppConfig{
		Name:         "pacer",
		Workers:      2,
		PollInterval: config.Duration(100 * time.Millisecond),
		HTTPAddr:     ":8080",
	}
	if err := config.LoadWithEnv(path, "PACERD", cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg,
		config.RequiredFields("Source.Kind"),
		config.PositiveDurations("PollInterval"),
	); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	return cfg, nil
}

// openSource builds the configured source. The returned closer tears down
// whatever the source holds open (watcher, connection, pool).
func openSource(cfg SourceConfig, logger logging.Logger) (pipeline.Source, io.Closer, error) {
	switch cfg.Kind {
	case "file":
		src, err := fsource.New(cfg.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	case "nats":
		src, err := natsource.New(cfg.URL, natsource.Options{
			Subject: cfg.Subject,
			Queue:   cfg.Queue,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	case "postgres":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		src, err := sqlsource.New(db, sqlsource.Options{Table: cfg.Table})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return src, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func setupTracing() (trace.Tracer, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp.Tracer("pacerd"), tp.Shutdown, nil
}

func newStatusHandler(pl *pipeline.Pipeline) fasthttp.RequestHandler {
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(prom.DefaultRegistry, promhttp.HandlerOpts{}),
	)
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/status":
			ctx.SetContentType("application/json")
			body, err := json.Marshal(pl.Stats())
			if err != nil {
				ctx.SetStatusCode(http.StatusInternalServerError)
				return
			}
			ctx.SetBody(body)
		case "/metrics":
			metricsHandler(ctx)
		case "/healthz":
			ctx.SetBodyString("ok")
		default:
			ctx.SetStatusCode(http.StatusNotFound)
		}
	}
}

func run() error {
	configPath := flag.String("config", "pacer.yaml", "path to configuration file")
	flag.Parse()

	logger := logging.New()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Infof("starting %s: source=%s workers=%d poll=%s",
		cfg.Name, cfg.Source.Kind, cfg.Workers, cfg.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closer, err := openSource(cfg.Source, logger)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = closer.Close() }()

	var tracer trace.Tracer
	if cfg.Tracing {
		t, shutdown, err := setupTracing()
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		tracer = t
		defer func() { _ = shutdown(context.Background()) }()
	}

	pl := pipeline.New(src, pipeline.Options{
		Name:            cfg.Name,
		PollInterval:    cfg.PollInterval.Std(),
		MailboxCapacity: cfg.MailboxCapacity,
		Logger:          logger,
		Metrics:         prom.GetMetrics(),
		Tracer:          tracer,
	})
	if err := pl.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	for i := 0; i < cfg.Workers; i++ {
		id := fmt.Sprintf("worker-%d", i)
		_, err := pl.AttachWorker(id, func(ctx context.Context, item interface{}) error {
			logger.Infof("%s processed item: %v", id, item)
			return nil
		})
		if err != nil {
			return fmt.Errorf("attach %s: %w", id, err)
		}
	}

	server := &fasthttp.Server{
		Handler: newStatusHandler(pl),
		Name:    cfg.Name,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("http listening on %s", cfg.HTTPAddr)
		serverErr <- server.ListenAndServe(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	if err := server.Shutdown(); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := pl.Stop(); err != nil {
		logger.Warnf("pipeline stop: %v", err)
	}
	logger.Info("stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pacerd: %v\n", err)
		os.Exit(1)
	}
}
