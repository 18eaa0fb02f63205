package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.RoomName != defaultRoomName {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SyncPeriod != 5*time.Second || cfg.FreshnessWindow != 30*time.Second || cfg.StalenessThreshold != 15*time.Second {
		t.Fatalf("unexpected sync defaults %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("WATCHPARTY_ROOM_NAME", "movie-night")
	t.Setenv("WATCHPARTY_SYNC_PERIOD", "2s")
	t.Setenv("WATCHPARTY_REDIS_DB", "3")
	t.Setenv("WATCHPARTY_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.RoomName != "movie-night" || cfg.SyncPeriod != 2*time.Second || cfg.RedisDB != 3 {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value any
		match string
	}{
		{key: "room.name", value: " ", match: "room.name"},
		{key: "database.path", value: "", match: "database.path"},
		{key: "sync.period", value: "0s", match: "sync.period"},
		{key: "sync.outbox_size", value: 0, match: "sync.outbox_size"},
		{key: "log.encoding", value: "xml", match: "log.encoding"},
	}
	for _, testCase := range cases {
		configViper := NewViper()
		configViper.Set(testCase.key, testCase.value)
		_, err := Load(configViper)
		if err == nil || !strings.Contains(err.Error(), testCase.match) {
			t.Fatalf("expected %s error, got %v", testCase.match, err)
		}
	}
}
