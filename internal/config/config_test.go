package config_test

import (
	"testing"
	"time"

	"taskflare/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default("proj-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.ID != "proj-1" {
		t.Fatalf("project id = %q", cfg.Project.ID)
	}
	if cfg.DefaultStatus() != "To Do" {
		t.Fatalf("default status = %q", cfg.DefaultStatus())
	}
	if !cfg.HasStatus("Done") || cfg.HasStatus("Backlog") {
		t.Fatalf("unexpected status set %v", cfg.Board.Statuses)
	}
	if cfg.SweepInterval() != 2*time.Minute {
		t.Fatalf("sweep interval = %v", cfg.SweepInterval())
	}
	if cfg.SweepMaxTasks() != 500 {
		t.Fatalf("sweep max tasks = %d", cfg.SweepMaxTasks())
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`project:
  id: board-x
  name: Board X
board:
  statuses: ["Open", "Closed"]
  default_status: "Open"
sweep:
  interval: 30s
  max_tasks: 10
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Project.ID != "board-x" || cfg.SweepInterval() != 30*time.Second || cfg.SweepMaxTasks() != 10 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing project id", "board:\n  statuses: [\"Open\"]\n"},
		{"no statuses", "project:\n  id: p\n"},
		{"duplicate status", "project:\n  id: p\nboard:\n  statuses: [\"Open\", \"Open\"]\n"},
		{"empty status", "project:\n  id: p\nboard:\n  statuses: [\"Open\", \"\"]\n"},
		{"default not in set", "project:\n  id: p\nboard:\n  statuses: [\"Open\"]\n  default_status: \"Closed\"\n"},
		{"bad interval", "project:\n  id: p\nboard:\n  statuses: [\"Open\"]\nsweep:\n  interval: soon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := config.FromYAML([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDefaultStatusFallsBackToFirst(t *testing.T) {
	var cfg config.Config
	cfg.Project.ID = "p"
	cfg.Board.Statuses = []string{"Open", "Closed"}
	if got := cfg.DefaultStatus(); got != "Open" {
		t.Fatalf("default status = %q, want first of list", got)
	}
}
