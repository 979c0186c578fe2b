package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.FeedDriver != FeedDriverNATS || cfg.TrailMaxLength != 50 {
		t.Fatalf("unexpected feed defaults %+v", cfg)
	}
	if cfg.StaleAfter != time.Minute || cfg.OldAfter != 24*time.Hour {
		t.Fatalf("unexpected freshness defaults %v %v", cfg.StaleAfter, cfg.OldAfter)
	}
	if cfg.MaxSpeedKmh != 100 || cfg.GlitchThresholdKm != 100 {
		t.Fatalf("unexpected stats defaults %+v", cfg.Stats())
	}
	if cfg.FallbackLat != 14.5995 || cfg.FallbackJitterDeg != 0.005 {
		t.Fatalf("unexpected fallback defaults %+v", cfg.Fallback())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FEED_DRIVER", "memory")
	t.Setenv("FRESHNESS_STALE_AFTER", "5m")
	t.Setenv("TRAIL_MAX_LENGTH", "20")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" || cfg.RedisPassword != "hunter2" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.FeedDriver != FeedDriverMemory || cfg.TrailMaxLength != 20 {
		t.Fatalf("expected override feed settings")
	}
	if cfg.Thresholds().StaleAfter != 5*time.Minute {
		t.Fatalf("expected override stale threshold, got %v", cfg.StaleAfter)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bikefleet.yaml")
	if err := os.WriteFile(path, []byte("TRAIL_MAX_LENGTH: 30\nFALLBACK_LAT: 10.5\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FALLBACK_LAT", "11.25")

	cfg := Load()
	if cfg.TrailMaxLength != 30 {
		t.Fatalf("expected file value, got %d", cfg.TrailMaxLength)
	}
	if cfg.FallbackLat != 11.25 {
		t.Fatalf("expected env to win over file, got %v", cfg.FallbackLat)
	}
}

func TestClassifierRepairsThresholds(t *testing.T) {
	cfg := Config{StaleAfter: 10 * time.Minute, OldAfter: time.Minute}
	c := cfg.Classifier()
	if c.Thresholds.OldAfter <= c.Thresholds.StaleAfter {
		t.Fatalf("expected repaired thresholds %+v", c.Thresholds)
	}
}

func TestWatch(t *testing.T) {
	if err := Watch("", func(Config) {}); !errors.Is(err, ErrNoConfigFile) {
		t.Fatalf("expected no config file, got %v", err)
	}
	if err := Watch(filepath.Join(t.TempDir(), "missing.yaml"), func(Config) {}); err == nil {
		t.Fatalf("expected read error")
	}

	path := filepath.Join(t.TempDir(), "bikefleet.yaml")
	if err := os.WriteFile(path, []byte("FRESHNESS_STALE_AFTER: 2m\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changes := make(chan Config, 16)
	if err := Watch(path, func(cfg Config) {
		select {
		case changes <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("FRESHNESS_STALE_AFTER: 7m\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.StaleAfter == 7*time.Minute {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for reload")
		}
	}
}
