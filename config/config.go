// Package config holds persistent client settings for the chat sync core.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "peerchat"
	// DefaultFeedListenAddr is where the daemon serves the change feed.
	DefaultFeedListenAddr = "127.0.0.1:8787"
	// DefaultHeartbeatSeconds keeps the presence row alive server-side.
	DefaultHeartbeatSeconds = 60
	// UploadsDirectoryName is the attachment bucket directory under the
	// data dir.
	UploadsDirectoryName = "uploads"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// envFileName is an optional dotenv file next to config.json.
	envFileName = ".env"
)

// ClientConfig contains persistent local-client settings.
type ClientConfig struct {
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	FeedListenAddr   string `json:"feed_listen_addr"`
	BlobBaseURL      string `json:"blob_base_url"`
	HeartbeatSeconds int    `json:"heartbeat_seconds"`
}

// HeartbeatInterval returns the presence heartbeat as a duration.
func (c *ClientConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If PEERCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("PEERCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// UploadsDir returns the attachment bucket path for a data directory.
func UploadsDir(dataDir string) string {
	return filepath.Join(dataDir, UploadsDirectoryName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		UploadsDir(dataDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, applies env
// overrides, then returns the config and its path.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	applyEnvOverrides(cfg, dataDir)
	return cfg, cfgPath, nil
}

func defaultConfig() *ClientConfig {
	username := "peerchat user"
	if host, err := os.Hostname(); err == nil && host != "" {
		username = host
	}

	return &ClientConfig{
		UserID:           uuid.NewString(),
		Username:         username,
		FeedListenAddr:   DefaultFeedListenAddr,
		BlobBaseURL:      "http://" + DefaultFeedListenAddr + "/blobs",
		HeartbeatSeconds: DefaultHeartbeatSeconds,
	}
}

func normalizeDefaults(cfg *ClientConfig) bool {
	updated := false

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
		updated = true
	}

	if cfg.Username == "" {
		username := "peerchat user"
		if host, err := os.Hostname(); err == nil && host != "" {
			username = host
		}
		cfg.Username = username
		updated = true
	}

	if cfg.FeedListenAddr == "" {
		cfg.FeedListenAddr = DefaultFeedListenAddr
		updated = true
	}

	if cfg.BlobBaseURL == "" {
		cfg.BlobBaseURL = "http://" + cfg.FeedListenAddr + "/blobs"
		updated = true
	}

	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = DefaultHeartbeatSeconds
		updated = true
	}

	return updated
}

// applyEnvOverrides layers the process environment (and an optional .env
// file in the data dir) over the persisted config without writing back.
func applyEnvOverrides(cfg *ClientConfig, dataDir string) {
	// A missing .env is the normal case.
	_ = godotenv.Load(filepath.Join(dataDir, envFileName))

	if v := os.Getenv("PEERCHAT_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("PEERCHAT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("PEERCHAT_FEED_ADDR"); v != "" {
		cfg.FeedListenAddr = v
	}
	if v := os.Getenv("PEERCHAT_BLOB_BASE_URL"); v != "" {
		cfg.BlobBaseURL = v
	}
	if v := os.Getenv("PEERCHAT_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HeartbeatSeconds = n
		}
	}
}
