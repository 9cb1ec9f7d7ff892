package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tandem/internal/auth"
	"github.com/haasonsaas/tandem/internal/config"
	"github.com/haasonsaas/tandem/internal/gateway"
	"github.com/haasonsaas/tandem/internal/observability"
	"github.com/haasonsaas/tandem/pkg/models"
)

// resolveConfigPath prefers an explicit flag, then TANDEM_CONFIG, then the
// default file name.
func resolveConfigPath(path string) string {
	path = strings.TrimSpace(path)
	if path != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("TANDEM_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}

// loadConfig loads the configuration file. A missing default file falls
// back to built-in defaults so a bare `tandem serve` works.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("failed to load config: %w", err)
}

// runServe implements the serve command: it wires the stores and server,
// then blocks until SIGINT/SIGTERM and shuts down gracefully.
func runServe(ctx context.Context, configPath string, debug, watchConfig bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	levelVar := new(slog.LevelVar)
	logger := observability.NewLogger(observability.LogConfig{
		Level:    level,
		Format:   cfg.Logging.Format,
		Output:   os.Stderr,
		LevelVar: levelVar,
	})
	slog.SetDefault(logger)

	logger.Info("starting tandem",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	serviceVersion := cfg.Observability.Tracing.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	if cfg.Observability.Tracing.Enabled() {
		logger.Info("exporting traces", "endpoint", cfg.Observability.Tracing.Endpoint)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	st, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	versions, closeVersions, err := gateway.OpenVersionStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open version store: %w", err)
	}
	defer closeVersions() //nolint:errcheck

	server, err := gateway.NewServer(cfg, gateway.Deps{
		Store:    st,
		Versions: versions,
		Tracer:   tracer,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if watchConfig {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			if debug {
				return
			}
			levelVar.Set(observability.LogLevelFromString(next.Logging.Level))
			logger.Info("log level updated", "level", next.Logging.Level)
		}, logger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("tandem started",
		"http_addr", server.HTTPAddr(),
		"grpc_addr", server.GRPCAddr(),
		"database", cfg.Database.Driver,
		"version_backend", cfg.Realtime.VersionBackend,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("tandem stopped gracefully")
	return nil
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.Database.Driver == config.DatabaseMemory {
		fmt.Fprintln(out, "memory store has no schema to migrate")
		return nil
	}
	st, err := gateway.OpenStore(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Fprintf(out, "schema applied (%s)\n", cfg.Database.Driver)
	return nil
}

type tokenOptions struct {
	UserID string
	Name   string
	Email  string
}

func runToken(cmd *cobra.Command, configPath string, opts tokenOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret must be set to mint tokens")
	}
	user := &models.User{
		ID:    strings.TrimSpace(opts.UserID),
		Name:  strings.TrimSpace(opts.Name),
		Email: strings.TrimSpace(opts.Email),
	}
	if user.ID == "" {
		return errors.New("--user is required")
	}

	st, err := gateway.OpenStore(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.UpsertUser(cmd.Context(), user); err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	token, err := auth.NewService(cfg.Auth.ServiceConfig()).GenerateJWT(user)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runConfigSchema(cmd *cobra.Command, section string) error {
	var (
		schema []byte
		err    error
	)
	if section != "" {
		schema, err = config.SectionSchema(section)
	} else {
		schema, err = config.JSONSchema()
	}
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if _, err := config.Load(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath)
	return nil
}
