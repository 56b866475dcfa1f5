package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listen addr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.LogFormat != LogFormatText || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected log config: %q %v", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("max message bytes = %d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.WSPingInterval >= cfg.WSIdleTimeout {
		t.Fatalf("ping interval %v must be below idle timeout %v", cfg.WSPingInterval, cfg.WSIdleTimeout)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("unexpected default ice servers: %#v", cfg.ICEServers)
	}
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	env := map[string]string{envVarListenAddr: "0.0.0.0:9000"}

	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}

	cfg, err = load(lookupFrom(env), []string{"-listen-addr", "127.0.0.1:1234"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:1234" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
}

func TestLoad_Durations(t *testing.T) {
	env := map[string]string{
		envVarShutdownTimeout: "3s",
		envVarWSIdleTimeout:   "90s",
		envVarWSPingInterval:  "30s",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownTimeout != 3*time.Second || cfg.WSIdleTimeout != 90*time.Second {
		t.Fatalf("unexpected durations: %#v", cfg)
	}
}

func TestLoad_PingMustBeBelowIdle(t *testing.T) {
	env := map[string]string{
		envVarWSIdleTimeout:  "10s",
		envVarWSPingInterval: "10s",
	}
	if _, err := load(lookupFrom(env), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []map[string]string{
		{envVarLogFormat: "yaml"},
		{envVarLogLevel: "loud"},
		{envVarShutdownTimeout: "soon"},
		{envVarMaxSignalingMessageBytes: "-1"},
		{envVarMaxSignalingMessagesPerSecond: "0"},
		{envVarSendQueueSize: "0"},
	}
	for _, env := range cases {
		if _, err := load(lookupFrom(env), nil); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	env := map[string]string{
		envVarAllowedOrigins: "http://localhost:3000, https://call.example.com",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://call.example.com" {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
}
