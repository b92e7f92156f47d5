package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/netscope/scancollab/api"
	"github.com/netscope/scancollab/auth"
	"github.com/netscope/scancollab/internal/config"
	"github.com/netscope/scancollab/internal/slogging"
	"github.com/netscope/scancollab/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "scancollab: %v\n", err)
		os.Exit(1)
	}
}

// run starts the server and blocks until ctx is cancelled or a listener fails
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, err := config.ParseFlags("scancollab", args, stdout)
	if err != nil {
		return err
	}
	if flags.GenerateConfig {
		return config.GenerateExampleConfig(stdout)
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            cfg.GetLogLevel(),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()
	logger.Info("Starting %s", api.GetVersionString())

	tel, err := telemetry.NewService(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: api.GetVersion().Semver(),
		Prometheus:     cfg.Telemetry.Prometheus,
		TraceStdout:    cfg.Telemetry.TraceStdout,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		ExportInterval: cfg.Telemetry.ExportInterval,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown: %v", err)
		}
	}()

	metrics, err := telemetry.NewCollabMetrics(tel.Tracer(), tel.Meter())
	if err != nil {
		return fmt.Errorf("failed to register collaboration metrics: %w", err)
	}

	var (
		revocation auth.RevocationChecker
		redisPing  api.Pinger
		limiter    api.HandshakeLimiter
	)
	if cfg.Redis.Enabled {
		client, err := auth.NewRedisClient(ctx, auth.RedisOptions{
			Addr:       cfg.RedisAddress(),
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Instrument: cfg.Telemetry.Enabled,
		})
		if err != nil {
			return err
		}
		defer func(c *redis.Client) { _ = c.Close() }(client)

		blacklist := auth.NewTokenBlacklist(client)
		redisPing = blacklist
		if cfg.Auth.RevocationEnabled {
			revocation = blacklist
		}
		if cfg.Server.HandshakeRateLimit > 0 {
			limiter = api.NewHandshakeRateLimiter(client, cfg.Server.HandshakeRateLimit, cfg.Server.HandshakeRateWindow, nil)
		}
	}

	verifier, err := auth.NewJWTVerifier(auth.VerifierConfig{
		Secret:        []byte(cfg.Auth.JWT.Secret),
		SigningMethod: cfg.Auth.JWT.SigningMethod,
		Issuer:        cfg.Auth.JWT.Issuer,
		Audience:      cfg.Auth.JWT.Audience,
		Leeway:        time.Duration(cfg.Auth.JWT.LeewaySeconds) * time.Second,
	}, revocation, nil)
	if err != nil {
		return fmt.Errorf("failed to configure token verification: %w", err)
	}

	store, err := api.NewScanStore(ctx, cfg.Store, tel.TracerProvider())
	if err != nil {
		return fmt.Errorf("failed to open scan store: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := api.NewHub(api.HubOptions{
		Store:   store,
		Config:  cfg.Collaboration,
		Metrics: metrics,
		WebSocketLogging: slogging.WebSocketLoggingConfig{
			Enabled:        cfg.Logging.LogWebSocketMsg,
			RedactTokens:   cfg.Logging.RedactAuthTokens,
			MaxMessageSize: 4096,
		},
	})
	server := api.NewServer(api.ServerOptions{
		Hub:              hub,
		Verifier:         verifier,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		Health:           api.NewHealthChecker(cfg.Server.HealthTimeout, store, redisPing),
		HandshakeLimiter: limiter,
		MetricsHandler:   tel.MetricsHandler(),
	})

	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(slogging.Recoverer())
	if cfg.Telemetry.Enabled {
		r.Use(otelgin.Middleware(cfg.Telemetry.ServiceName, otelgin.WithTracerProvider(tel.TracerProvider())))
	}
	r.Use(slogging.LoggerMiddleware())
	server.RegisterHandlers(r)

	// WriteTimeout stays zero: upgraded connections manage their own deadlines
	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening on %s (tls=%t)", srv.Addr, cfg.Server.TLSEnabled)
		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// close sockets with 1001 first so clients reconnect elsewhere
		hubErr := server.Shutdown(shutdownCtx)
		if hubErr != nil {
			logger.Warn("Collaboration hub shutdown: %v", hubErr)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
