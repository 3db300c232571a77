package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/internal/config"
	"github.com/always-cache/offline-cache/pkg/contact"
	"github.com/always-cache/offline-cache/pkg/theme"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	originFlag         string
	portFlag           int
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	buildVersion string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Config file (YAML), watched for version changes")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory storage)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if buildVersion == "" {
		buildVersion = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", buildVersion).Logger()

	cfg, err := loadConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	storage, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Storage.Provider).Msg("Cannot open storage")
	}
	defer storage.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := offlinecache.NewRegistration()
	register := func(cfg config.Config) {
		controllerConfig, err := newControllerConfig(cfg, storage, &log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("Cannot create controller config")
			return
		}
		if _, err := reg.Register(ctx, controllerConfig); err != nil {
			log.Error().Err(err).Str("version", cfg.Version).Msg("Registration failed")
			return
		}
		log.Info().Str("version", cfg.Version).Msg("Cache controller active")
	}
	register(cfg)

	if configFlag != "" {
		go func() {
			current := cfg.Version
			err := config.Watch(ctx, configFlag, log.Logger, func(next config.Config) {
				next = applyFlags(next)
				if err := next.Validate(); err != nil {
					log.Warn().Err(err).Msg("Ignoring invalid config")
					return
				}
				if next.Version == current {
					return
				}
				log.Info().Str("from", current).Str("to", next.Version).Msg("Version changed")
				current = next.Version
				register(next)
			})
			if err != nil {
				log.Error().Err(err).Msg("Cannot watch config file")
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: newRouter(reg, cfg, &log.Logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Proxying %s to %s (with hostname '%s')", cfg.Listen, cfg.Origin, cfg.Host)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
	// let background cache writes finish before closing the storage
	reg.Wait()
}

func loadConfig(filename string) (config.Config, error) {
	cfg, err := config.Read(filename)
	if err != nil {
		return cfg, err
	}
	cfg = applyFlags(cfg)
	return cfg, cfg.Validate()
}

func applyFlags(cfg config.Config) config.Config {
	if originFlag != "" {
		cfg.Origin = originFlag
	}
	if portFlag > 0 {
		cfg.Listen = fmt.Sprintf(":%d", portFlag)
	}
	switch dbFilenameFlag {
	case "":
	case "memory":
		cfg.Storage.Provider = config.ProviderMemory
	default:
		cfg.Storage.Provider = config.ProviderSQLite
		cfg.Storage.SQLite = dbFilenameFlag
	}
	return cfg
}

func openStorage(cfg config.StorageConfig) (cache.Storage, error) {
	var storage cache.Storage
	switch cfg.Provider {
	case config.ProviderMemory:
		storage = cache.NewMemoryStorage()
	case config.ProviderSQLite:
		s, err := cache.NewSQLiteStorage(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		storage = s
	case config.ProviderRedis:
		opts, err := redis.ParseURL(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		s, err := cache.NewRedisStorage(cache.RedisConfig{
			Client:      redis.NewClient(opts),
			CloseClient: true,
		})
		if err != nil {
			return nil, err
		}
		storage = s
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	if cfg.Memoize > 0 {
		memoized, err := cache.NewMemoized(storage, cfg.Memoize)
		if err != nil {
			return nil, err
		}
		return memoized, nil
	}
	return storage, nil
}

func newControllerConfig(cfg config.Config, storage cache.Storage, logger *zerolog.Logger) (offlinecache.Config, error) {
	originURL, err := url.Parse(cfg.Origin)
	if err != nil {
		return offlinecache.Config{}, err
	}
	return offlinecache.Config{
		Storage:            storage,
		OriginURL:          *originURL,
		OriginHost:         cfg.Host,
		Version:            cfg.Version,
		Manifest:           cfg.Manifest,
		OfflinePage:        cfg.OfflinePage,
		NavigationPolicy:   offlinecache.NavigationPolicy(cfg.NavigationPolicy),
		InstallConcurrency: cfg.InstallConcurrency,
		Logger:             logger,
	}, nil
}

func newRouter(reg *offlinecache.Registration, cfg config.Config, logger *zerolog.Logger) http.Handler {
	relay, err := contact.NewRelay(contact.RelayConfig{
		Endpoint: cfg.Contact.Endpoint,
		Email:    cfg.Contact.Email,
		SiteName: cfg.Contact.Site,
		Logger:   logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Contact form disabled")
	}
	contactHandler := contact.Handler{Relay: relay}
	themeHandler := theme.Handler{}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(*logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("code", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	}))
	r.Use(middleware.Recoverer)
	r.Post("/api/contact", contactHandler.ServeHTTP)
	r.Get("/api/theme", themeHandler.ServeHTTP)
	r.Post("/api/theme", themeHandler.ServeHTTP)
	r.Get("/.offline-cache/status", statusHandler(reg))
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/*", reg)
	return r
}

func statusHandler(reg *offlinecache.Registration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := reg.Controller()
		if c == nil {
			http.Error(w, "No cache controller registered", http.StatusServiceUnavailable)
			return
		}
		status, err := c.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(status)
	}
}
