package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"radiology-workflow/internal/models"
)

//go:embed sample_config.toml
var sampleConfig string

// SampleConfig returns a commented configuration template.
func SampleConfig() string {
	return sampleConfig
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Workflow contains orchestrator defaults and the daemon sweep timer.
type Workflow struct {
	SweepInterval          int            `toml:"sweep_interval"`
	DefaultEstimateMinutes int            `toml:"default_estimate_minutes"`
	AdminRecipient         string         `toml:"admin_recipient"`
	AdminChannels          []string       `toml:"admin_channels"`
	OutboxCapacity         int            `toml:"outbox_capacity"`
	DueOffsetMinutes       map[string]int `toml:"due_offset_minutes"`
}

type API struct {
	Bind     string `toml:"bind"`
	LockPath string `toml:"lock_path"`
}

// Database selects the optional persistence collaborator. An empty driver
// disables it.
type Database struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type NATS struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Notifications configures delivery transports. In-app and email go to ntfy
// when NtfyURL is set; SMS, pager and phone call go to SNS when SNSRegion is
// set. Channels without a transport, and every channel in dry-run mode, are
// only logged.
type Notifications struct {
	NtfyURL        string `toml:"ntfy_url"`
	RequestTimeout int    `toml:"request_timeout"`
	SNSRegion      string `toml:"sns_region"`
	DryRun         bool   `toml:"dry_run"`
}

type Catalog struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// Config is the service configuration.
type Config struct {
	Logging       Logging       `toml:"logging"`
	Workflow      Workflow      `toml:"workflow"`
	API           API           `toml:"api"`
	Database      Database      `toml:"database"`
	NATS          NATS          `toml:"nats"`
	Notifications Notifications `toml:"notifications"`
	Catalog       Catalog       `toml:"catalog"`
}

// Load parses and validates the file at path. When path is empty,
// radiology-workflow.toml in the working directory is used if present,
// otherwise defaults. The resolved path and whether it existed are returned.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolvePath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("%w: parse config: %v", models.ErrConfiguration, err)
		}
	}

	cfg.normalize(filepath.Dir(resolved))
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func resolvePath(path string) (string, bool, error) {
	if path == "" {
		path = defaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%w: config path %s is a directory", models.ErrConfiguration, abs)
	}
	return abs, true, nil
}

// normalize trims values and resolves the catalog path relative to the
// config file.
func (c *Config) normalize(baseDir string) {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Notifications.NtfyURL = strings.TrimRight(strings.TrimSpace(c.Notifications.NtfyURL), "/")
	c.Catalog.Path = strings.TrimSpace(c.Catalog.Path)
	if c.Catalog.Path != "" && !filepath.IsAbs(c.Catalog.Path) && baseDir != "" {
		c.Catalog.Path = filepath.Join(baseDir, c.Catalog.Path)
	}
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Workflow.SweepInterval) * time.Second
}

func (c *Config) DefaultEstimate() time.Duration {
	return time.Duration(c.Workflow.DefaultEstimateMinutes) * time.Minute
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// DueOffsets converts the configured minutes per priority. Call after
// Validate; unknown priorities are skipped.
func (c *Config) DueOffsets() map[models.WorkItemPriority]time.Duration {
	out := make(map[models.WorkItemPriority]time.Duration, len(c.Workflow.DueOffsetMinutes))
	for name, minutes := range c.Workflow.DueOffsetMinutes {
		p, err := models.ParseWorkItemPriority(name)
		if err != nil || minutes <= 0 {
			continue
		}
		out[p] = time.Duration(minutes) * time.Minute
	}
	return out
}

func (c *Config) AdminChannels() []models.Channel {
	out := make([]models.Channel, 0, len(c.Workflow.AdminChannels))
	for _, name := range c.Workflow.AdminChannels {
		if ch, err := models.ParseChannel(name); err == nil {
			out = append(out, ch)
		}
	}
	return out
}
