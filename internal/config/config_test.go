package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.RoutingProvider != "osrm" {
		t.Errorf("RoutingProvider = %q", cfg.RoutingProvider)
	}
	if cfg.KafkaTopic != "captain-locations" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
	if cfg.RedisLocationsKey != "captain_locations" {
		t.Errorf("RedisLocationsKey = %q", cfg.RedisLocationsKey)
	}
	if cfg.RouteCacheTTL != 30*time.Second {
		t.Errorf("RouteCacheTTL = %v", cfg.RouteCacheTTL)
	}
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("HTTP_READ_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092 ,")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MIGRATE", "true")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.ReadTimeout != 3*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "b1:9092" || cfg.KafkaBrokers[1] != "b2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if !cfg.RunMigrations {
		t.Error("RunMigrations = false")
	}
}

func TestLoadServerConfig_JoinsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "banana")
	t.Setenv("ROUTE_CACHE_TTL", "also-bad")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "HTTP_READ_TIMEOUT") || !strings.Contains(msg, "ROUTE_CACHE_TTL") {
		t.Fatalf("expected both failures reported, got %q", msg)
	}
}

func TestLoadServerConfig_GoogleNeedsKey(t *testing.T) {
	t.Setenv("ROUTING_PROVIDER", "google")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected error without MAPS_API_KEY")
	}

	t.Setenv("MAPS_API_KEY", "test-key")
	if _, err := LoadServerConfig(); err != nil {
		t.Fatalf("unexpected error with key set: %v", err)
	}
}

func TestLoadServerConfig_UnknownProvider(t *testing.T) {
	t.Setenv("ROUTING_PROVIDER", "carrier-pigeon")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
