package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"radiology-workflow/internal/config"
)

type commandContext struct {
	configFlag  *string
	catalogFlag *string
	outputFlag  *string

	config     *config.Config
	configPath string
	configOK   bool
}

func newCommandContext(configFlag, catalogFlag, outputFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, catalogFlag: catalogFlag, outputFlag: outputFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	cfg, path, exists, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	c.config, c.configPath, c.configOK = cfg, path, exists
	return cfg, nil
}

// catalogPath prefers --catalog over the configured path.
func (c *commandContext) catalogPath() (string, error) {
	if p := strings.TrimSpace(*c.catalogFlag); p != "" {
		return p, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Catalog.Path, nil
}

// loadCatalog reads the catalog, falling back to the built-in sample when
// none is configured. The second result reports where it came from.
func (c *commandContext) loadCatalog() (*config.CatalogData, string, error) {
	path, err := c.catalogPath()
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		data, err := config.ParseCatalog([]byte(config.SampleCatalog()))
		return data, "built-in sample", err
	}
	data, err := config.LoadCatalog(path)
	return data, path, err
}

// tableOutput decides between a table and JSON. Auto picks tables for
// terminals only so piped output stays machine readable.
func (c *commandContext) tableOutput(cmd *cobra.Command) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(*c.outputFlag)) {
	case "", "auto":
		return isTerminal(cmd.OutOrStdout()), nil
	case "table":
		return true, nil
	case "json":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported output format %q", *c.outputFlag)
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
