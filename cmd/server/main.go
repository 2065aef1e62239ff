package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/exchange-office/internal/application"
	"github.com/eugenenazirov/exchange-office/internal/config"
	"github.com/eugenenazirov/exchange-office/internal/logging"
)

var signalNotify = signal.Notify

type stopper interface {
	Shutdown(ctx context.Context) error
	Close() error
}

func main() {
	kingpinApp := kingpin.New("exchange-office", "Exchange Office - publishes RSD exchange rates and quotes conversions with commission")
	overrides, err := parseFlags(kingpinApp, os.Args[1:])
	kingpin.MustParse("", err)

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

// parseFlags maps command-line flags onto config overrides. Unset flags leave
// the lower-precedence sources untouched.
func parseFlags(kingpinApp *kingpin.Application, args []string) (*config.CLIOverrides, error) {
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Path to a dotenv file (default .env if present)").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	var rateLimitRPSSet, rateLimitBurstSet, commissionRateSet bool
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed per client (set 0 to disable)").IsSetByUser(&rateLimitRPSSet).Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").IsSetByUser(&rateLimitBurstSet).Int()
	commissionRate := kingpinApp.Flag("commission-rate", "Commission applied to buy/sell rates and conversions, e.g. 0.01").IsSetByUser(&commissionRateSet).Float64()
	apiKey := kingpinApp.Flag("api-key", "exchangerate-api.com API key").String()
	storagePath := kingpinApp.Flag("storage-path", "Path of the exchange table JSON file").String()
	var refreshScheduleSet bool
	refreshSchedule := kingpinApp.Flag("refresh-schedule", "Cron spec for background rate refreshes (empty disables)").IsSetByUser(&refreshScheduleSet).String()

	if _, err := kingpinApp.Parse(args); err != nil {
		return nil, err
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		EnvFile:    *envFile,
	}

	if *port != "" {
		overrides.Port = port
	}

	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	if rateLimitRPSSet {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if rateLimitBurstSet {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	if commissionRateSet {
		overrides.CommissionRate = commissionRate
	}

	if *apiKey != "" {
		overrides.APIKey = apiKey
	}

	if *storagePath != "" {
		overrides.StoragePath = storagePath
	}

	if refreshScheduleSet {
		overrides.RefreshSchedule = refreshSchedule
	}

	return overrides, nil
}

func shutdown(server stopper, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
