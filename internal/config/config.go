// Package config manages the configuration stored in config.yaml.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/maruel/xlsedit/internal/fsutil"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "config.yaml"

// Config is the application configuration.
// Loaded from config.yaml, created with defaults if missing.
type Config struct {
	// ClusterColumn is the header of the column grouping rows into clusters.
	ClusterColumn string `yaml:"cluster_column" jsonschema:"description=Header of the column holding the cluster id"`

	// Columns lists the editable columns and their rule.
	Columns Columns `yaml:"columns"`

	// HistorySize is the number of edits kept for rollback.
	HistorySize int `yaml:"history_size" jsonschema:"minimum=1"`

	// Autosave configures the background snapshots.
	Autosave Autosave `yaml:"autosave"`

	// Session configures the session state checkpoints.
	Session Session `yaml:"session"`

	// ShutdownTimeout bounds the final save on exit.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Columns lists editable columns by rule. Every other column is read-only.
type Columns struct {
	Positive        []string `yaml:"positive" jsonschema:"description=Columns that must hold a number greater than 0"`
	NegativeOrEmpty []string `yaml:"negative_or_empty" jsonschema:"description=Columns that must be empty or hold a number lower than 0"`
}

// Autosave configures the persistence scheduler.
type Autosave struct {
	Debounce    Duration `yaml:"debounce"`
	RetryBase   Duration `yaml:"retry_base"`
	RetryMax    Duration `yaml:"retry_max"`
	MaxAttempts int      `yaml:"max_attempts" jsonschema:"minimum=1"`
	// Backups is the number of snapshots kept next to the source.
	Backups     int      `yaml:"backups" jsonschema:"minimum=1"`
	SaveTimeout Duration `yaml:"save_timeout"`
}

// Session configures the session state store.
type Session struct {
	CheckpointInterval Duration `yaml:"checkpoint_interval"`
	Backups            int      `yaml:"backups" jsonschema:"minimum=1"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ClusterColumn: "CLUSTER",
		Columns: Columns{
			Positive:        []string{"VIEW"},
			NegativeOrEmpty: []string{"SHORTLIMIT"},
		},
		HistorySize: 1000,
		Autosave: Autosave{
			Debounce:    Duration(500 * time.Millisecond),
			RetryBase:   Duration(200 * time.Millisecond),
			RetryMax:    Duration(5 * time.Second),
			MaxAttempts: 5,
			Backups:     3,
			SaveTimeout: Duration(30 * time.Second),
		},
		Session: Session{
			CheckpointInterval: Duration(time.Minute),
			Backups:            5,
		},
		ShutdownTimeout: Duration(10 * time.Second),
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClusterColumn) == "" {
		return errors.New("cluster_column is required")
	}
	if c.HistorySize <= 0 {
		return errors.New("history_size must be positive")
	}
	if err := c.Columns.validate(c.ClusterColumn); err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	if err := c.Autosave.Validate(); err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

func (c *Columns) validate(cluster string) error {
	seen := map[string]string{}
	for _, l := range []struct {
		name    string
		columns []string
	}{{"positive", c.Positive}, {"negative_or_empty", c.NegativeOrEmpty}} {
		for _, col := range l.columns {
			key := strings.ToUpper(strings.TrimSpace(col))
			if key == "" {
				return fmt.Errorf("%s: empty column name", l.name)
			}
			if strings.EqualFold(key, strings.TrimSpace(cluster)) {
				return fmt.Errorf("%s: cluster column %q cannot be editable", l.name, col)
			}
			if prev, ok := seen[key]; ok {
				return fmt.Errorf("%s: column %q already listed in %s", l.name, col, prev)
			}
			seen[key] = l.name
		}
	}
	return nil
}

// Validate checks that the autosave settings are positive.
func (a *Autosave) Validate() error {
	if a.Debounce <= 0 {
		return errors.New("debounce must be positive")
	}
	if a.RetryBase <= 0 {
		return errors.New("retry_base must be positive")
	}
	if a.RetryMax < a.RetryBase {
		return errors.New("retry_max must be at least retry_base")
	}
	if a.MaxAttempts <= 0 {
		return errors.New("max_attempts must be positive")
	}
	if a.Backups <= 0 {
		return errors.New("backups must be positive")
	}
	if a.SaveTimeout <= 0 {
		return errors.New("save_timeout must be positive")
	}
	return nil
}

// Validate checks that the session settings are positive.
func (s *Session) Validate() error {
	if s.CheckpointInterval <= 0 {
		return errors.New("checkpoint_interval must be positive")
	}
	if s.Backups <= 0 {
		return errors.New("backups must be positive")
	}
	return nil
}

// Path returns the configuration file of a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load loads the configuration from path.
// Creates the file with defaults if it doesn't exist.
// Keys absent from the file keep their default value; unknown keys are an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is provided by the CLI user
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return &cfg, nil
}

// Save atomically writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	err = fsutil.WriteFile(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		Anonymous:                  true,
		DoNotReference:             true,
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Config{})
	s.Title = "xlsedit configuration"
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
