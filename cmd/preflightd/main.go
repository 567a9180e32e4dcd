package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/prepress/preflight/analysis"
	"github.com/prepress/preflight/httpapi"
	"github.com/prepress/preflight/observability"
	"github.com/prepress/preflight/rules"
	"github.com/prepress/preflight/store"
)

type config struct {
	Addr           string  `validate:"required"`
	DBPath         string  `validate:"required"`
	MaxUploadBytes int64   `validate:"gt=0"`
	MinImageDPI    float64 `validate:"gt=0"`
	MaxConns       int     `validate:"gt=0"`
	RulesDir       string
	LogFormat      string `validate:"oneof=json text"`
}

func loadConfig() (config, error) {
	cfg := config{
		Addr:           ":5000",
		DBPath:         "preflight.db",
		MaxUploadBytes: httpapi.DefaultMaxUploadBytes,
		MinImageDPI:    analysis.DefaultMinImageDPI,
		MaxConns:       256,
		LogFormat:      "json",
	}
	if v := os.Getenv("PREFLIGHT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("PREFLIGHT_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PREFLIGHT_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("PREFLIGHT_MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.MaxUploadBytes = n
	}
	if v := os.Getenv("PREFLIGHT_MIN_IMAGE_DPI"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("PREFLIGHT_MIN_IMAGE_DPI: %w", err)
		}
		cfg.MinImageDPI = f
	}
	if v := os.Getenv("PREFLIGHT_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("PREFLIGHT_MAX_CONNS: %w", err)
		}
		cfg.MaxConns = n
	}
	if v := os.Getenv("PREFLIGHT_RULES_DIR"); v != "" {
		cfg.RulesDir = v
	}
	if v := os.Getenv("PREFLIGHT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "preflightd: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "preflightd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	logger := logrus.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}

	var engine *rules.Engine
	if cfg.RulesDir != "" {
		loaded, err := rules.LoadDir(cfg.RulesDir)
		if err != nil {
			return err
		}
		engine = rules.NewEngine(loaded...)
		logger.WithField("rules", engine.Len()).Info("custom rules loaded")
	}

	server := httpapi.NewServer(httpapi.Config{
		Analyzer: analysis.New(analysis.Config{
			MinImageDPI: cfg.MinImageDPI,
			Logger:      observability.NewLogrusLogger(logger),
		}),
		Rules:          engine,
		Store:          st,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
		EnableMetrics:  true,
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConns)

	srv := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.WithFields(logrus.Fields{
		"addr":      cfg.Addr,
		"db":        cfg.DBPath,
		"max_conns": cfg.MaxConns,
	}).Info("listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
