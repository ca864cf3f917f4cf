package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/openpixel/trackmilter"
	"github.com/openpixel/trackmilter/config"
	"github.com/openpixel/trackmilter/directory"
	"github.com/openpixel/trackmilter/store"
	"github.com/openpixel/trackmilter/store/cache"
	"github.com/openpixel/trackmilter/store/cache/memory"
	rediscache "github.com/openpixel/trackmilter/store/cache/redis"
	"github.com/openpixel/trackmilter/web"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%s : while loading configuration", err)
	}

	logger := &trackmilter.DefaultLogger{
		Logger: log.Default(),
		Level:  logLevel(cfg.Log.Level),
	}

	if cfg.Tracing.Enabled {
		shutdownTracing, err := setupTracing(cfg.Tracing)
		if err != nil {
			log.Fatalf("%s : while setting up tracing", err)
		}
		defer shutdownTracing()
	}

	st, err := store.New(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("%s : while preparing message store at %s", err, cfg.Storage.Root)
	}

	var opensCache cache.Cache = memory.New()
	if cfg.Storage.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatalf("%s : while parsing redis url", err)
		}
		rc := rediscache.New(goredis.NewClient(opts))
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rc.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatalf("%s : while pinging redis", err)
		}
		opensCache = rc
	}
	defer opensCache.Close()

	milter := &trackmilter.Server{
		Hostname:         cfg.Milter.Hostname,
		MaxConnections:   cfg.Milter.MaxConnections,
		MaxMessageSize:   cfg.Milter.MaxMessageSize,
		RequireOptIn:     cfg.Tracking.RequireOptIn,
		OptInHeader:      cfg.Tracking.OptInHeader,
		Disclose:         cfg.Tracking.Disclose,
		DisclosureHeader: cfg.Tracking.DisclosureHeader,
		BaseURL:          cfg.Tracking.BaseURL,
		FooterLookup:     footerLookup(cfg),
		Store:            st,
		Logger:           logger,
	}

	beacon := web.New(st, opensCache)

	go func() {
		log.Printf("milter server listening on %s", cfg.Milter.Listen)
		err := milter.ListenAndServe(cfg.Milter.Listen)
		if err != nil && err != trackmilter.ErrServerClosed {
			log.Fatalf("%s : while starting milter server on %s", err, cfg.Milter.Listen)
		}
	}()
	go func() {
		log.Printf("beacon server listening on %s", cfg.Web.Listen)
		err := beacon.ListenAndServe(cfg.Web.Listen, cfg.Web.CertFile, cfg.Web.KeyFile)
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("%s : while starting beacon server on %s", err, cfg.Web.Listen)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	beacon.Shutdown(ctx)
	milter.Shutdown(true)
}

// footerLookup wires footer source: directory service when configured,
// static footer from config otherwise
func footerLookup(cfg config.Config) trackmilter.FooterLookup {
	if cfg.Directory.URL != "" {
		client := directory.New(directory.Opts{
			URL:   cfg.Directory.URL,
			Token: cfg.Directory.Token,
			TTL:   cfg.Directory.TTL,
		})
		return client.FooterFor
	}
	if cfg.Tracking.FooterHTML != "" {
		return func(_ context.Context, _ string) (string, error) {
			return cfg.Tracking.FooterHTML, nil
		}
	}
	return nil
}

func logLevel(name string) trackmilter.LoggerLevel {
	switch strings.ToLower(name) {
	case "trace":
		return trackmilter.TraceLevel
	case "debug":
		return trackmilter.DebugLevel
	case "warn":
		return trackmilter.WarnLevel
	case "error":
		return trackmilter.ErrorLevel
	default:
		return trackmilter.InfoLevel
	}
}

// setupTracing reports spans to jaeger via udp
func setupTracing(cfg config.TracingConfig) (shutdown func(), err error) {
	exp, err := jaeger.New(jaeger.WithAgentEndpoint(
		jaeger.WithAgentHost(cfg.JaegerHost),
		jaeger.WithAgentPort(cfg.JaegerPort),
	))
	if err != nil {
		return nil, err
	}
	tp := tracesdk.NewTracerProvider(
		// Always be sure to batch in production.
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("environment", "production"),
		)),
	)
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}, nil
}
