package config

import (
	"fmt"
	"net/url"
	"strings"

	"radiology-workflow/internal/models"
)

// Validate ensures the configuration is usable. Errors wrap
// models.ErrConfiguration.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateLogging,
		c.validateWorkflow,
		c.validateAPI,
		c.validateDatabase,
		c.validateNotifications,
	} {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.SweepInterval <= 0 {
		return fmt.Errorf("workflow.sweep_interval must be positive")
	}
	if w.DefaultEstimateMinutes <= 0 {
		return fmt.Errorf("workflow.default_estimate_minutes must be positive")
	}
	if w.OutboxCapacity < 0 {
		return fmt.Errorf("workflow.outbox_capacity must not be negative")
	}
	for _, ch := range w.AdminChannels {
		if _, err := models.ParseChannel(ch); err != nil {
			return fmt.Errorf("workflow.admin_channels: %v", err)
		}
	}
	for name, minutes := range w.DueOffsetMinutes {
		if _, err := models.ParseWorkItemPriority(name); err != nil {
			return fmt.Errorf("workflow.due_offset_minutes: %v", err)
		}
		if minutes < 0 {
			return fmt.Errorf("workflow.due_offset_minutes.%s must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateAPI() error {
	if strings.TrimSpace(c.API.Bind) == "" {
		return fmt.Errorf("api.bind must be set")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "":
		return nil
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres, sqlite or empty, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn must be set when database.driver is %s", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	if n.RequestTimeout <= 0 {
		return fmt.Errorf("notifications.request_timeout must be positive")
	}
	if n.NtfyURL != "" {
		u, err := url.Parse(n.NtfyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("notifications.ntfy_url must be an http(s) URL, got %q", n.NtfyURL)
		}
	}
	return nil
}
