package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskflare.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Board struct {
		Statuses      []string `yaml:"statuses"`
		DefaultStatus string   `yaml:"default_status"`
	} `yaml:"board"`
	Sweep struct {
		Interval string `yaml:"interval"`
		MaxTasks int    `yaml:"max_tasks"`
	} `yaml:"sweep"`
}

const (
	defaultSweepInterval = 2 * time.Minute
	defaultSweepMaxTasks = 500
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tf project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.Board.Statuses) == 0 {
		return fmt.Errorf("config.board.statuses is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Board.Statuses {
		if s == "" {
			return fmt.Errorf("config.board.statuses contains empty status")
		}
		if seen[s] {
			return fmt.Errorf("config.board.statuses repeats %q", s)
		}
		seen[s] = true
	}
	if c.Board.DefaultStatus != "" && !c.HasStatus(c.Board.DefaultStatus) {
		return fmt.Errorf("config.board.default_status %q not in statuses", c.Board.DefaultStatus)
	}
	if c.Sweep.Interval != "" {
		if _, err := time.ParseDuration(c.Sweep.Interval); err != nil {
			return fmt.Errorf("config.sweep.interval: %w", err)
		}
	}
	if c.Sweep.MaxTasks < 0 {
		return fmt.Errorf("config.sweep.max_tasks must not be negative")
	}
	return nil
}

// HasStatus reports whether status is in the project's declared status set.
func (c *Config) HasStatus(status string) bool {
	for _, s := range c.Board.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultStatus returns the status newly created tasks receive.
func (c *Config) DefaultStatus() string {
	if c.Board.DefaultStatus != "" {
		return c.Board.DefaultStatus
	}
	if len(c.Board.Statuses) > 0 {
		return c.Board.Statuses[0]
	}
	return ""
}

// SweepInterval returns the parsed sweep interval.
func (c *Config) SweepInterval() time.Duration {
	if c.Sweep.Interval == "" {
		return defaultSweepInterval
	}
	d, err := time.ParseDuration(c.Sweep.Interval)
	if err != nil || d <= 0 {
		return defaultSweepInterval
	}
	return d
}

// SweepMaxTasks bounds how many overdue tasks a single tick scans.
func (c *Config) SweepMaxTasks() int {
	if c.Sweep.MaxTasks <= 0 {
		return defaultSweepMaxTasks
	}
	return c.Sweep.MaxTasks
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskflare.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: %s

board:
  statuses: ["To Do", "In Progress", "Done"]
  default_status: "To Do"

sweep:
  interval: 2m
  max_tasks: 500
`
