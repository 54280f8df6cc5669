package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the runtime tunables for the session server. Values come from
// the environment (a .env file is loaded by main before Load runs).
type Config struct {
	// DataDir is the root for per-session state (output.log, meta.json,
	// scheduled.json). Required.
	DataDir string

	// MaxSessions caps concurrently tracked sessions (live + retained).
	MaxSessions int

	// MemoryTailBytes bounds the in-memory output tail kept per session for
	// introspection. Replay correctness never depends on it.
	MemoryTailBytes int

	// MaxPendingBytes bounds the per-attachment queue buffered while a client
	// fetches history. Overflow drops the whole queue.
	MaxPendingBytes int

	// SendQueueHighWater is the per-connection send queue capacity in messages.
	SendQueueHighWater int

	// BackpressureGrace is how long a connection may stay saturated before it
	// is forcibly closed.
	BackpressureGrace time.Duration

	// AttachGrace is how long the server waits for history_loaded before
	// opening the live gate on its own.
	AttachGrace time.Duration

	// InputWriteTimeout bounds a blocking PTY write before it fails with
	// PTYBusy.
	InputWriteTimeout time.Duration

	// InactivityThreshold is how long without output before a session is
	// considered inactive again.
	InactivityThreshold time.Duration

	// ResizeSuppression ignores activity transitions this close after a
	// resize (redraw noise).
	ResizeSuppression time.Duration

	// MinActiveBytes is the contiguous output required before an active
	// transition is recorded.
	MinActiveBytes int

	// CleanupInterval is how often the registry sweeps terminated sessions.
	CleanupInterval time.Duration

	// Retention keeps terminated sessions attachable for replay this long.
	Retention time.Duration

	// KillGrace is the SIGTERM to SIGKILL delay on teardown.
	KillGrace time.Duration

	// Scheduler caps.
	MaxRulesPerSession    int
	MaxBytesPerRuleData   int
	MaxMessagesPerSession int
	ScheduleDeferMaxWait  time.Duration

	// Resize rate limits (ops/second). Stdin is never rate limited.
	GlobalOpsPerSecond     float64
	PerSessionOpsPerSecond float64
}

// Default returns the built-in tunables rooted at dataDir. Tests use this
// directly; Load overlays the environment on top of it.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:                dataDir,
		MaxSessions:            256,
		MemoryTailBytes:        5 * 1024 * 1024,
		MaxPendingBytes:        512 * 1024,
		SendQueueHighWater:     256,
		BackpressureGrace:      30 * time.Second,
		AttachGrace:            5 * time.Second,
		InputWriteTimeout:      time.Second,
		InactivityThreshold:    time.Second,
		ResizeSuppression:      250 * time.Millisecond,
		MinActiveBytes:         32,
		CleanupInterval:        30 * time.Second,
		Retention:              10 * time.Minute,
		KillGrace:              2 * time.Second,
		MaxRulesPerSession:     20,
		MaxBytesPerRuleData:    8192,
		MaxMessagesPerSession:  50,
		ScheduleDeferMaxWait:   30 * time.Second,
		GlobalOpsPerSecond:     100,
		PerSessionOpsPerSecond: 10,
	}
}

// Load reads the configuration from the environment. It returns an error for
// missing required values; callers are expected to exit with status 2.
func Load() (*Config, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		return nil, fmt.Errorf("DATA_DIR is required")
	}

	cfg := Default(dataDir)
	cfg.MaxSessions = envInt("MAX_SESSIONS", cfg.MaxSessions)
	cfg.MemoryTailBytes = envInt("MEMORY_TAIL_BYTES", cfg.MemoryTailBytes)
	cfg.MaxPendingBytes = envInt("MAX_PENDING_BYTES", cfg.MaxPendingBytes)
	cfg.SendQueueHighWater = envInt("SEND_QUEUE_HIGH_WATER", cfg.SendQueueHighWater)
	cfg.BackpressureGrace = envDuration("BACKPRESSURE_GRACE", cfg.BackpressureGrace)
	cfg.AttachGrace = envDuration("ATTACH_GRACE", cfg.AttachGrace)
	cfg.InputWriteTimeout = envDuration("INPUT_WRITE_TIMEOUT", cfg.InputWriteTimeout)
	cfg.InactivityThreshold = envDuration("INACTIVITY_THRESHOLD", cfg.InactivityThreshold)
	cfg.ResizeSuppression = envDuration("RESIZE_SUPPRESSION", cfg.ResizeSuppression)
	cfg.MinActiveBytes = envInt("MIN_ACTIVE_BYTES", cfg.MinActiveBytes)
	cfg.CleanupInterval = envDuration("CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.Retention = envDuration("SESSION_RETENTION", cfg.Retention)
	cfg.KillGrace = envDuration("KILL_GRACE", cfg.KillGrace)
	cfg.MaxRulesPerSession = envInt("MAX_RULES_PER_SESSION", cfg.MaxRulesPerSession)
	cfg.MaxBytesPerRuleData = envInt("MAX_BYTES_PER_RULE_DATA", cfg.MaxBytesPerRuleData)
	cfg.MaxMessagesPerSession = envInt("MAX_MESSAGES_PER_SESSION", cfg.MaxMessagesPerSession)
	cfg.ScheduleDeferMaxWait = envDuration("SCHEDULE_DEFER_MAX_WAIT", cfg.ScheduleDeferMaxWait)
	cfg.GlobalOpsPerSecond = envFloat("GLOBAL_OPS_PER_SECOND", cfg.GlobalOpsPerSecond)
	cfg.PerSessionOpsPerSecond = envFloat("PER_SESSION_OPS_PER_SECOND", cfg.PerSessionOpsPerSecond)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}

	return cfg, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
