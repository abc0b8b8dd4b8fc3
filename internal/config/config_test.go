package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with defaults: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected default port: %q", cfg.Port)
	}
	if cfg.StoreBackend != BackendSQLite {
		t.Fatalf("unexpected default backend: %q", cfg.StoreBackend)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" || cfg.StoreBackend != BackendRedis || cfg.RedisAddr != "localhost:6380" {
		t.Fatalf("environment not applied: %#v", cfg)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_DB", "collab")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dsn := cfg.PostgresDSN()
	want := "host=db user=postgres password=postgres dbname=collab port=5432 sslmode=disable"
	if dsn != want {
		t.Fatalf("unexpected DSN:\n got %q\nwant %q", dsn, want)
	}
}
