package main

import (
	"testing"

	"github.com/alecthomas/kingpin/v2"
)

func TestParseFlagsLeavesUnsetFlagsNil(t *testing.T) {
	overrides, err := parseFlags(kingpin.New("test", ""), nil)
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}

	if overrides.Port != nil || overrides.CommissionRate != nil || overrides.APIKey != nil ||
		overrides.StoragePath != nil || overrides.RefreshSchedule != nil ||
		overrides.RateLimitRPS != nil || overrides.RateLimitBurst != nil || overrides.LogLevel != nil {
		t.Fatalf("expected no overrides, got %+v", overrides)
	}
}

func TestParseFlagsMapsOverrides(t *testing.T) {
	overrides, err := parseFlags(kingpin.New("test", ""), []string{
		"--config", "config.yaml",
		"--port", "9000",
		"--commission-rate", "0.1",
		"--api-key", "280153fe0016f484aedcecdd",
		"--storage-path", "/tmp/exchanges.json",
		"--refresh-schedule", "",
		"--rate-limit-rps", "0",
	})
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}

	if overrides.ConfigFile != "config.yaml" {
		t.Fatalf("unexpected config file %q", overrides.ConfigFile)
	}
	if overrides.Port == nil || *overrides.Port != "9000" {
		t.Fatalf("expected port override")
	}
	if overrides.CommissionRate == nil || *overrides.CommissionRate != 0.1 {
		t.Fatalf("expected commission override")
	}
	if overrides.APIKey == nil || *overrides.APIKey != "280153fe0016f484aedcecdd" {
		t.Fatalf("expected api key override")
	}
	if overrides.StoragePath == nil || *overrides.StoragePath != "/tmp/exchanges.json" {
		t.Fatalf("expected storage path override")
	}
	if overrides.RefreshSchedule == nil || *overrides.RefreshSchedule != "" {
		t.Fatalf("expected an explicit empty refresh schedule to disable refreshes")
	}
	if overrides.RateLimitRPS == nil || *overrides.RateLimitRPS != 0 {
		t.Fatalf("expected rate limit override")
	}
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseFlags(kingpin.New("test", ""), []string{"--currencies", "EUR"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}

func TestParseFlagsKeepsNegativeValuesForValidation(t *testing.T) {
	overrides, err := parseFlags(kingpin.New("test", ""), []string{
		"--commission-rate=-0.5",
		"--rate-limit-burst=-1",
	})
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}

	if overrides.CommissionRate == nil || *overrides.CommissionRate != -0.5 {
		t.Fatalf("expected negative commission to be passed through, got %v", overrides.CommissionRate)
	}
	if overrides.RateLimitBurst == nil || *overrides.RateLimitBurst != -1 {
		t.Fatalf("expected negative burst to be passed through, got %v", overrides.RateLimitBurst)
	}
}
