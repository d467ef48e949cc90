// Package config loads the run configuration for the neurolab CLI and
// turns it into the per-package configs the pipeline consumes. Precedence
// is flags > environment (NEUROLAB_*) > config file > defaults; the
// effective configuration snapshots to canonical JSON for the run record.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"neurolab/internal/cleaning"
	"neurolab/internal/plugin"
	"neurolab/internal/schema"
	"neurolab/internal/stats"
	"neurolab/internal/storage"
)

// Plugin is one requested plugin invocation.
type Plugin struct {
	Name    string         `mapstructure:"name" json:"name"`
	Version string         `mapstructure:"version" json:"version,omitempty"`
	Timeout time.Duration  `mapstructure:"timeout" json:"timeout,omitempty"`
	Config  map[string]any `mapstructure:"config" json:"config,omitempty"`
}

// Config is the full run configuration.
type Config struct {
	// Mode is "strict" or "lenient".
	Mode string `mapstructure:"mode" json:"mode"`

	Store struct {
		Kind string `mapstructure:"kind" json:"kind"`
		DSN  string `mapstructure:"dsn" json:"dsn,omitempty"`
	} `mapstructure:"store" json:"store"`

	Cleaning struct {
		DefaultPolicy    string            `mapstructure:"default_policy" json:"default_policy"`
		ColumnPolicies   map[string]string `mapstructure:"column_policies" json:"column_policies,omitempty"`
		OutlierFlagging  bool              `mapstructure:"outlier_flagging" json:"outlier_flagging"`
		OutlierThreshold float64           `mapstructure:"outlier_threshold" json:"outlier_threshold,omitempty"`
	} `mapstructure:"cleaning" json:"cleaning"`

	Stats struct {
		Target string `mapstructure:"target" json:"target,omitempty"`
	} `mapstructure:"stats" json:"stats"`

	Plugins struct {
		Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
		Workers int           `mapstructure:"workers" json:"workers"`
		Run     []Plugin      `mapstructure:"run" json:"run,omitempty"`
	} `mapstructure:"plugins" json:"plugins"`

	Metrics struct {
		Backend string `mapstructure:"backend" json:"backend"`
	} `mapstructure:"metrics" json:"metrics"`
}

// Defaults every run starts from. The flag_only cleaning default is a
// policy choice: the pipeline never silently changes sample size.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(schema.Lenient))
	v.SetDefault("store.kind", "file")
	v.SetDefault("store.dsn", ".neurolab")
	v.SetDefault("cleaning.default_policy", string(cleaning.FlagOnly))
	v.SetDefault("cleaning.outlier_flagging", false)
	v.SetDefault("cleaning.outlier_threshold", 0.0)
	v.SetDefault("plugins.timeout", "30s")
	v.SetDefault("plugins.workers", 4)
	v.SetDefault("metrics.backend", "none")
}

// Load reads the configuration. path may be empty: then only defaults
// and NEUROLAB_* environment variables apply. A named file that does not
// exist is an error; silently running on defaults would hide typos.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEUROLAB")
	// Nested keys map dots to underscores: store.kind is NEUROLAB_STORE_KIND.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Check validates the cross-package invariants before any conversion.
func (c *Config) Check() error {
	if _, err := c.SchemaMode(); err != nil {
		return err
	}
	if _, err := c.CleaningConfig(); err != nil {
		return err
	}
	if c.Plugins.Timeout <= 0 {
		return fmt.Errorf("config: plugins.timeout must be positive, got %s", c.Plugins.Timeout)
	}
	if c.Plugins.Workers < 1 {
		return fmt.Errorf("config: plugins.workers must be at least 1, got %d", c.Plugins.Workers)
	}
	for i, p := range c.Plugins.Run {
		if p.Name == "" {
			return fmt.Errorf("config: plugins.run[%d] has no name", i)
		}
	}
	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		return fmt.Errorf("config: unknown metrics backend %q", c.Metrics.Backend)
	}
	return nil
}

// SchemaMode maps the mode string onto the validator mode.
func (c *Config) SchemaMode() (schema.Mode, error) {
	switch schema.Mode(c.Mode) {
	case "", schema.Lenient:
		return schema.Lenient, nil
	case schema.Strict:
		return schema.Strict, nil
	}
	return "", fmt.Errorf("config: unknown mode %q", c.Mode)
}

// StoreConfig returns the storage backend selection.
func (c *Config) StoreConfig() storage.Config {
	return storage.Config{Kind: c.Store.Kind, DSN: c.Store.DSN}
}

// CleaningConfig converts the cleaning section, validating policy names.
func (c *Config) CleaningConfig() (cleaning.Config, error) {
	out := cleaning.Config{
		Outliers: cleaning.OutlierConfig{
			Enabled:   c.Cleaning.OutlierFlagging,
			Threshold: c.Cleaning.OutlierThreshold,
		},
	}
	if c.Cleaning.DefaultPolicy != "" {
		p, err := cleaning.ParsePolicy(c.Cleaning.DefaultPolicy)
		if err != nil {
			return cleaning.Config{}, fmt.Errorf("config: default_policy: %w", err)
		}
		out.DefaultPolicy = p
	}
	if len(c.Cleaning.ColumnPolicies) > 0 {
		out.ColumnPolicies = make(map[string]cleaning.Policy, len(c.Cleaning.ColumnPolicies))
		for col, name := range c.Cleaning.ColumnPolicies {
			p, err := cleaning.ParsePolicy(name)
			if err != nil {
				return cleaning.Config{}, fmt.Errorf("config: column %q: %w", col, err)
			}
			out.ColumnPolicies[col] = p
		}
	}
	return out, nil
}

// StatsConfig converts the stats section.
func (c *Config) StatsConfig() stats.Config {
	return stats.Config{Target: c.Stats.Target}
}

// PluginRequests converts the plugin run list.
func (c *Config) PluginRequests() []plugin.Request {
	if len(c.Plugins.Run) == 0 {
		return nil
	}
	out := make([]plugin.Request, len(c.Plugins.Run))
	for i, p := range c.Plugins.Run {
		out[i] = plugin.Request{
			Name:    p.Name,
			Version: p.Version,
			Timeout: p.Timeout,
			Config:  p.Config,
		}
	}
	return out
}

// Snapshot renders the effective configuration as canonical JSON for the
// run record: struct field order is fixed and map keys marshal sorted, so
// equal configurations always snapshot to equal bytes.
func (c *Config) Snapshot() (json.RawMessage, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: snapshot: %w", err)
	}
	return b, nil
}
