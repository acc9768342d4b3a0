// Package config loads and validates evod configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all evod configuration.
type Config struct {
	// RepoRoot is the working tree the pipeline evolves.
	RepoRoot string `yaml:"repo_root"`

	// StateDir holds the local queue, processed records, backups, logs
	// and the audit trail. Defaults to <repo_root>/.evod.
	StateDir string `yaml:"state_dir"`

	Daemon    DaemonConfig    `yaml:"daemon"`
	Collector CollectorConfig `yaml:"collector"`
	Judge     JudgeConfig     `yaml:"judge"`
	Planner   PlannerConfig   `yaml:"planner"`
	Validator ValidatorConfig `yaml:"validator"`
	Committer CommitterConfig `yaml:"committer"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DaemonConfig configures the evolution scheduler.
type DaemonConfig struct {
	CycleInterval      string `yaml:"cycle_interval"`        // e.g. "30m"
	MaxProposalsPerDay int    `yaml:"max_proposals_per_day"` // committed proposals per calendar day
}

// CollectorConfig configures proposal ingestion.
type CollectorConfig struct {
	MaxPerCycle int          `yaml:"max_per_cycle"`
	MaxAgeHours int          `yaml:"max_age_hours"`
	GitHub      GitHubSource `yaml:"github"`
}

// GitHubSource configures the issue-tracker source. Empty Repo disables it.
type GitHubSource struct {
	BaseURL string   `yaml:"base_url"` // default https://api.github.com
	Repo    string   `yaml:"repo"`     // owner/name
	Token   string   `yaml:"token"`    // or EVOD_GITHUB_TOKEN
	Labels  []string `yaml:"labels"`   // issues must carry at least one
}

// JudgeConfig holds the hard policy thresholds.
type JudgeConfig struct {
	ApprovalThreshold float64 `yaml:"approval_threshold"` // min avg score for APPROVED
	SafetyMinimum     float64 `yaml:"safety_minimum"`     // safety score below this rejects
}

// PlannerConfig bounds what a plan may touch.
type PlannerConfig struct {
	AllowedPaths    []string `yaml:"allowed_paths"`    // prefix allow-list, relative to repo root
	ForbiddenPaths  []string `yaml:"forbidden_paths"`  // prefix deny-list
	MaxChanges      int      `yaml:"max_changes"`      // per plan
	MaxContentBytes int      `yaml:"max_content_bytes"`
}

// ValidatorConfig configures post-write checks.
type ValidatorConfig struct {
	EntryPoints []string `yaml:"entry_points"` // packages to build-check, relative to repo root
	RunTests    bool     `yaml:"run_tests"`
	TestTimeout string   `yaml:"test_timeout"` // e.g. "5m"
}

// CommitterConfig configures version-control side effects.
type CommitterConfig struct {
	Mode         string `yaml:"mode"` // "pr" or "direct"
	BaseBranch   string `yaml:"base_branch"`
	BranchPrefix string `yaml:"branch_prefix"`
	Remote       string `yaml:"remote"`
	GitTimeout   string `yaml:"git_timeout"`
}

// OracleConfig configures the LLM judge/planner backend.
type OracleConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"` // or GEMINI_API_KEY
	Timeout string `yaml:"timeout"`
}

// LoggingConfig controls diagnostic logging.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		RepoRoot: ".",
		Daemon: DaemonConfig{
			CycleInterval:      "30m",
			MaxProposalsPerDay: 3,
		},
		Collector: CollectorConfig{
			MaxPerCycle: 5,
			MaxAgeHours: 168,
			GitHub: GitHubSource{
				BaseURL: "https://api.github.com",
				Labels:  []string{"evolution"},
			},
		},
		Judge: JudgeConfig{
			ApprovalThreshold: 7.0,
			SafetyMinimum:     6.0,
		},
		Planner: PlannerConfig{
			AllowedPaths:    []string{"internal/", "cmd/", "pkg/"},
			ForbiddenPaths:  []string{".git/", ".evod/", "vendor/", "go.mod", "go.sum"},
			MaxChanges:      10,
			MaxContentBytes: 256 * 1024,
		},
		Validator: ValidatorConfig{
			TestTimeout: "5m",
		},
		Committer: CommitterConfig{
			Mode:         "pr",
			BaseBranch:   "main",
			BranchPrefix: "evolution/",
			Remote:       "origin",
			GitTimeout:   "2m",
		},
		Oracle: OracleConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "2m",
		},
	}
}

// Load reads the YAML file at path on top of defaults and applies env
// overrides for secrets. A missing file is not an error - defaults plus
// env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if token := os.Getenv("EVOD_GITHUB_TOKEN"); token != "" {
		cfg.Collector.GitHub.Token = token
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Oracle.APIKey = key
	}

	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(cfg.RepoRoot, ".evod")
	}

	return cfg, nil
}

// Validate rejects configurations the daemon must not start with.
func (c *Config) Validate() error {
	if c.RepoRoot == "" {
		return fmt.Errorf("repo_root is required")
	}
	if _, err := c.Daemon.Interval(); err != nil {
		return fmt.Errorf("invalid daemon.cycle_interval: %w", err)
	}
	if c.Daemon.MaxProposalsPerDay < 1 {
		return fmt.Errorf("daemon.max_proposals_per_day must be >= 1")
	}
	if len(c.Planner.AllowedPaths) == 0 {
		return fmt.Errorf("planner.allowed_paths must not be empty")
	}
	if c.Planner.MaxChanges < 1 {
		return fmt.Errorf("planner.max_changes must be >= 1")
	}
	if c.Judge.ApprovalThreshold < 0 || c.Judge.ApprovalThreshold > 10 {
		return fmt.Errorf("judge.approval_threshold must be within [0,10]")
	}
	if c.Judge.SafetyMinimum < 0 || c.Judge.SafetyMinimum > 10 {
		return fmt.Errorf("judge.safety_minimum must be within [0,10]")
	}
	switch c.Committer.Mode {
	case "pr", "direct":
	default:
		return fmt.Errorf("committer.mode must be \"pr\" or \"direct\", got %q", c.Committer.Mode)
	}
	return nil
}

// Interval parses the cycle interval.
func (d DaemonConfig) Interval() (time.Duration, error) {
	return time.ParseDuration(d.CycleInterval)
}

// Timeout parses the test timeout, defaulting to five minutes.
func (v ValidatorConfig) Timeout() time.Duration {
	return parseDurationOr(v.TestTimeout, 5*time.Minute)
}

// Timeout parses the git timeout, defaulting to two minutes.
func (c CommitterConfig) Timeout() time.Duration {
	return parseDurationOr(c.GitTimeout, 2*time.Minute)
}

// RequestTimeout parses the oracle timeout, defaulting to two minutes.
func (o OracleConfig) RequestTimeout() time.Duration {
	return parseDurationOr(o.Timeout, 2*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
