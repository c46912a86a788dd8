package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 4}.withDefaults()
	if got.MaxOpenConns != 4 {
		t.Fatalf("explicit value overwritten: %d", got.MaxOpenConns)
	}
	if got.MaxIdleConns != 2 || got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestOpenPostgres_UnknownDriver(t *testing.T) {
	if _, err := OpenPostgres(t.Context(), "no-such-driver", "postgres://x", PostgresPoolConfig{}); err == nil {
		t.Fatalf("expected error for unregistered driver")
	}
}
