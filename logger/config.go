package logger

import (
	"fmt"
	"slices"
)

// Config contains logging configuration.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
	c.Timestamp = true
}

// ApplyVerbosity adjusts the level from the --verbose and --quiet switches.
// Each verbose step lowers the level and each quiet step raises it, so the
// two cancel out when both are given.
func (c *Config) ApplyVerbosity(verbose, quiet int) {
	if verbose == 0 && quiet == 0 {
		return
	}
	idx := slices.Index(levelOrder, c.Level)
	if idx < 0 {
		idx = slices.Index(levelOrder, "info")
	}
	idx += quiet - verbose
	idx = max(0, min(idx, len(levelOrder)-1))
	c.Level = levelOrder[idx]
}

var levelOrder = []string{"trace", "debug", "info", "warn", "error"}

// Validate validates logging configuration.
func (c *Config) Validate() error {
	if !slices.Contains(levelOrder, c.Level) {
		return fmt.Errorf("logging.level must be one of %v (got: %s)", levelOrder, c.Level)
	}
	validFormats := []string{FormatJSON, FormatConsole, FormatPretty}
	if !slices.Contains(validFormats, c.Format) {
		return fmt.Errorf("logging.format must be one of %v (got: %s)", validFormats, c.Format)
	}
	return nil
}
