package config

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func nilLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is all",
			check:  func(c *Config) bool { return c.Mode == "all" },
			expect: "all",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
		{
			name:   "workorder sweep interval default",
			check:  func(c *Config) bool { return c.WorkOrderSweepIntervalSeconds == 10 },
			expect: "10",
		},
		{
			name:   "webhook delivery interval default",
			check:  func(c *Config) bool { return c.WebhookDeliveryIntervalSeconds == 5 },
			expect: "5",
		},
		{
			name:   "diagnostic cleanup interval default",
			check:  func(c *Config) bool { return c.DiagnosticCleanupIntervalSeconds == 900 },
			expect: "900",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestReloadableConfigDetectsChanges(t *testing.T) {
	initial, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	rc := NewReloadableConfig(initial, "", nil)

	t.Setenv("BROKKR_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	changes, err := rc.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	byKey := make(map[string]Change)
	for _, c := range changes {
		byKey[c.Key] = c
	}

	if _, ok := byKey["Port"]; !ok {
		t.Errorf("expected a Port change, got %v", changes)
	}
	if _, ok := byKey["LogLevel"]; !ok {
		t.Errorf("expected a LogLevel change, got %v", changes)
	}

	if got := rc.Get().Port; got != 9090 {
		t.Errorf("Get().Port = %d, want 9090", got)
	}
}

func TestReloadableConfigNoChangesWhenStable(t *testing.T) {
	initial, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	rc := NewReloadableConfig(initial, "", nil)

	changes, err := rc.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes on stable reload, got %v", changes)
	}
}

func TestWatcherNoopWithoutPath(t *testing.T) {
	initial, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	rc := NewReloadableConfig(initial, "", nil)
	w := NewWatcher(rc, 10*time.Millisecond, nilLogger(), nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(t.Context()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return promptly when no path is configured")
	}
}
