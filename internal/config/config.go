package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/skysyncd/skysync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".skysync", "config.json")
	DefaultDataDir    = filepath.Join(home, ".skysync")
	DefaultLogFile    = filepath.Join(home, ".skysync", "logs", "skysync.log")
)

const (
	DefaultUploadWorkers   = 4
	DefaultDownloadWorkers = 4
	DefaultIntervalSecs    = 30
)

// Config is the per-installation client configuration. Sync tasks themselves
// live in the metadata store; this only holds what is needed to reach the
// server and run the engine.
type Config struct {
	DataDir         string `json:"data_dir"`
	ServerURL       string `json:"server_url"`
	Email           string `json:"email"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	AccessToken     string `json:"access_token,omitempty"`
	UploadWorkers   int    `json:"upload_workers,omitempty"`
	DownloadWorkers int    `json:"download_workers,omitempty"`
	IntervalSecs    int    `json:"interval_secs,omitempty"`
	Path            string `json:"-"`
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("invalid data dir %q: %w", c.DataDir, err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("invalid config path %q: %w", c.Path, err)
		}
		c.Path = path
	}

	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	parsed, err := url.Parse(c.ServerURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("invalid server url %q", c.ServerURL)
	}

	if c.UploadWorkers <= 0 {
		c.UploadWorkers = DefaultUploadWorkers
	}
	if c.DownloadWorkers <= 0 {
		c.DownloadWorkers = DefaultDownloadWorkers
	}
	if c.IntervalSecs <= 0 {
		c.IntervalSecs = DefaultIntervalSecs
	}

	return nil
}

// StatePath is the path of the sqlite metadata store.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
