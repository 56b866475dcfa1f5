// Package config loads relay configuration from environment variables
// and flags, and owns logger construction.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "CONCALL_LISTEN_ADDR"
	envVarAllowedOrigins  = "CONCALL_ALLOWED_ORIGINS"
	envVarLogFormat       = "CONCALL_LOG_FORMAT"
	envVarLogLevel        = "CONCALL_LOG_LEVEL"
	envVarShutdownTimeout = "CONCALL_SHUTDOWN_TIMEOUT"

	// Signaling WebSocket hardening.
	envVarWSIdleTimeout                 = "CONCALL_WS_IDLE_TIMEOUT"
	envVarWSPingInterval                = "CONCALL_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "CONCALL_MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "CONCALL_MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueSize                 = "CONCALL_SEND_QUEUE_SIZE"

	DefaultListenAddr      = "127.0.0.1:5000"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultWSIdleTimeout  = 60 * time.Second
	DefaultWSPingInterval = 20 * time.Second
	// DefaultMaxSignalingMessageBytes is sized for SDP blobs, which can run
	// to tens of kilobytes with many candidates inlined.
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueSize                 = 32
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// SendQueueSize is the per-participant outbound buffer in messages.
	// A participant that cannot drain it has messages dropped; the leave
	// safety net corrects membership state later.
	SendQueueSize int

	// ICEServers is handed to participants; the relay itself never opens a
	// peer connection.
	ICEServers []webrtc.ICEServer
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("concall-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "host:port to listen on")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	logFormat := LogFormat(envOrDefault(lookup, envVarLogFormat, string(LogFormatText)))
	switch logFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid %s %q", envVarLogFormat, logFormat)
	}

	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}

	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	if maxMsgBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxSignalingMessageBytes)
	}
	maxMsgRate, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	if maxMsgRate <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxSignalingMessagesPerSecond)
	}
	sendQueueSize, err := envIntOrDefault(lookup, envVarSendQueueSize, DefaultSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	if sendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarSendQueueSize)
	}

	iceServers, err := parseICEServersFromValues(
		envOrDefault(lookup, envICEServersJSON, ""),
		envOrDefault(lookup, envStunURLs, ""),
		envOrDefault(lookup, envTurnURLs, ""),
		envOrDefault(lookup, envTurnUsername, ""),
		envOrDefault(lookup, envTurnCredential, ""),
	)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:                    *listenAddr,
		AllowedOrigins:                splitCommaSeparated(envOrDefault(lookup, envVarAllowedOrigins, "")),
		LogFormat:                     logFormat,
		LogLevel:                      logLevel,
		ShutdownTimeout:               shutdownTimeout,
		WSIdleTimeout:                 wsIdleTimeout,
		WSPingInterval:                wsPingInterval,
		MaxSignalingMessageBytes:      int64(maxMsgBytes),
		MaxSignalingMessagesPerSecond: maxMsgRate,
		SendQueueSize:                 sendQueueSize,
		ICEServers:                    iceServers,
	}, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}
