// Package config resolves the environment variables that assemble a
// running switchboard instance: log level, signing secret, transparency
// endpoint, and the HTTP listen address.
package config

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the default slog logger from SWITCHBOARD_LOG_LEVEL
// (default "info") and an optional -log-level/--log-level CLI flag, which
// wins over the env var. It returns args with that flag stripped so the
// standard flag package doesn't choke on it, mirroring the teacher's
// root-level initLogging.
func InitLogging(args []string) []string {
	levelStr := os.Getenv("SWITCHBOARD_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}

	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--log-level="):
			levelStr = strings.TrimPrefix(arg, "--log-level=")
		case strings.HasPrefix(arg, "-log-level="):
			levelStr = strings.TrimPrefix(arg, "-log-level=")
		case arg == "-log-level" || arg == "--log-level":
			if i+1 < len(args) {
				levelStr = args[i+1]
				i++
			}
		default:
			remaining = append(remaining, arg)
			continue
		}
	}

	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return remaining
}

// EnvOrDefault returns the value of the environment variable named by
// key, or def if unset or empty.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

const (
	// DefaultListenAddr is used when SWITCHBOARD_LISTEN_ADDR is unset.
	DefaultListenAddr = ":8080"
	// DefaultSigningSecret is used when AUDIT_SIGNING_KEY is unset, for
	// local development only — production deployments must set it.
	DefaultSigningSecret = "switchboard-dev-signing-secret"
)

// ServerConfig is the top-level configuration cmd/switchboardd reads at
// startup. Everything else (policy config, database dialect, adapter
// enablement) is resolved by each collaborating package's own
// *FromEnv constructor, the way the teacher spreads its env var
// resolution across daemons rather than centralizing it in one giant
// struct.
type ServerConfig struct {
	ListenAddr       string
	SigningSecret    string
	AuditLogPath     string
	RekorURL         string
	PolicyConfigPath string
}

// ServerConfigFromEnv reads SWITCHBOARD_LISTEN_ADDR, AUDIT_SIGNING_KEY,
// SWITCHBOARD_AUDIT_LOG, REKOR_URL, and SWITCHBOARD_POLICY_CONFIG.
func ServerConfigFromEnv() ServerConfig {
	return ServerConfig{
		ListenAddr:       EnvOrDefault("SWITCHBOARD_LISTEN_ADDR", DefaultListenAddr),
		SigningSecret:    EnvOrDefault("AUDIT_SIGNING_KEY", DefaultSigningSecret),
		AuditLogPath:     os.Getenv("SWITCHBOARD_AUDIT_LOG"),
		RekorURL:         os.Getenv("REKOR_URL"),
		PolicyConfigPath: os.Getenv("SWITCHBOARD_POLICY_CONFIG"),
	}
}
