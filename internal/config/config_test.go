package config

import (
	"slices"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "STORE_BACKEND", "KAFKA_BROKERS", "TRACKING_LOCK_TTL", "TRACKING_SESSION_IDLE", "TRACKING_SNAPSHOT_INTERVAL", "DB_MIGRATE"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("expected postgres store, got %s", cfg.Store)
	}
	if !cfg.Database.Migrate {
		t.Error("migrations should run by default")
	}
	if cfg.Tracking.LockTTL != 30*time.Second {
		t.Errorf("expected 30s lock TTL, got %v", cfg.Tracking.LockTTL)
	}
	if cfg.Tracking.SessionIdle != 15*time.Minute || cfg.Tracking.SnapshotInterval != 2*time.Second {
		t.Errorf("unexpected session timings %+v", cfg.Tracking)
	}
	if !slices.Equal(cfg.Kafka.Brokers, []string{"localhost:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Firestore")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("TRACKING_FLUSH_INTERVAL", "2s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PUSH_ENABLED", "true")

	cfg := Load()

	if cfg.Store != StoreFirestore {
		t.Errorf("expected firestore store, got %s", cfg.Store)
	}
	if !slices.Equal(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Tracking.FlushInterval != 2*time.Second {
		t.Errorf("expected 2s flush interval, got %v", cfg.Tracking.FlushInterval)
	}
	if cfg.Redis.DB != 3 || !cfg.Firebase.PushEnabled {
		t.Errorf("unexpected config %+v %+v", cfg.Redis, cfg.Firebase)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "three")
	t.Setenv("TRACKING_FIX_TIMEOUT", "soon")
	t.Setenv("DB_MIGRATE", "maybe")

	cfg := Load()

	if cfg.Redis.DB != 0 || cfg.Tracking.FixTimeout != 15*time.Second || !cfg.Database.Migrate {
		t.Errorf("malformed values should use defaults, got %+v %+v", cfg.Redis, cfg.Tracking)
	}
}
