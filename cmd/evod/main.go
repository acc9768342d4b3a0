package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"evod/internal/config"
	"evod/internal/evolution"
	"evod/internal/logging"
	"evod/internal/oracle"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "evod",
	Short: "evod - autonomous code-evolution daemon",
	Long: `evod watches an inbox of change proposals, judges them with an LLM
oracle under hard safety policy, plans and applies the approved ones to
the repository, validates the result, and commits or rolls back.

Every stage transition is recorded in an append-only audit trail under
the state directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// daemonCmd runs the evolution daemon until interrupted
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the evolution daemon until interrupted",
	RunE:  runDaemon,
}

// onceCmd runs a single evolution cycle and exits
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single evolution cycle and exit",
	RunE:  runOnce,
}

// submitCmd queues a proposal locally
var submitCmd = &cobra.Command{
	Use:   "submit [title]",
	Short: "Queue a proposal for the next cycle",
	Long: `Appends a proposal to the local queue. The daemon picks it up on its
next collection pass; submission never triggers an immediate cycle.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

// statusCmd prints queue and processed-store counters
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and processing history",
	RunE:  runStatus,
}

var (
	submitBody   string
	submitAuthor string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "evod.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	submitCmd.Flags().StringVarP(&submitBody, "body", "b", "", "Proposal body")
	submitCmd.Flags().StringVarP(&submitAuthor, "author", "a", "", "Proposal author")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads, validates and logs the effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Initialize(cfg.StateDir, verbose || cfg.Logging.Debug); err != nil {
		return nil, err
	}
	logger.Debug("Configuration loaded",
		zap.String("path", configPath),
		zap.String("repo_root", cfg.RepoRoot),
		zap.String("state_dir", cfg.StateDir))
	return cfg, nil
}

// buildDaemon assembles the full pipeline from configuration.
func buildDaemon(cfg *config.Config) (*evolution.Daemon, error) {
	client, err := oracle.NewGeminiClient(cfg.Oracle.APIKey, cfg.Oracle.Model, cfg.Oracle.RequestTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle client: %w", err)
	}

	queue := evolution.NewLocalQueue(filepath.Join(cfg.StateDir, "queue.json"))
	processed, err := evolution.OpenProcessedStore(filepath.Join(cfg.StateDir, "processed.json"))
	if err != nil {
		return nil, err
	}

	audit := logging.NewTrail(filepath.Join(cfg.StateDir, "audit.ndjson"))
	collector := evolution.NewCollector(cfg.Collector, queue, processed,
		evolution.NewGitHubSource(cfg.Collector.GitHub))
	collector.AttachAudit(audit)
	judge := evolution.NewJudge(client, cfg.Judge)
	planner := evolution.NewPlanner(client, cfg.Planner, cfg.RepoRoot)
	writer := evolution.NewWriter(cfg.Planner, cfg.RepoRoot, cfg.StateDir)
	validator := evolution.NewValidator(cfg.Validator, cfg.RepoRoot)
	vcs := evolution.NewGitVCS(cfg.RepoRoot, cfg.Committer.BaseBranch, cfg.Committer.Remote, cfg.Committer.Timeout())
	committer := evolution.NewCommitter(cfg.Committer, vcs)

	return evolution.NewDaemon(cfg, collector, judge, planner, writer, validator, committer, processed, audit), nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	daemon, err := buildDaemon(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := daemon.Start(ctx); err != nil {
		return err
	}
	logger.Info("Daemon started",
		zap.String("interval", cfg.Daemon.CycleInterval),
		zap.Int("max_per_day", cfg.Daemon.MaxProposalsPerDay))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	// Waits for any in-flight proposal; a second signal kills us anyway.
	daemon.Stop()
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	daemon, err := buildDaemon(cfg)
	if err != nil {
		return err
	}

	daemon.RunCycle(context.Background())
	status := daemon.Status()
	fmt.Printf("Cycle complete: %d committed today (max %d), %d proposals processed overall\n",
		status.DailyCount, status.DailyMax, status.Processed)
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	queue := evolution.NewLocalQueue(filepath.Join(cfg.StateDir, "queue.json"))
	processed, err := evolution.OpenProcessedStore(filepath.Join(cfg.StateDir, "processed.json"))
	if err != nil {
		return err
	}
	collector := evolution.NewCollector(cfg.Collector, queue, processed)
	audit := logging.NewTrail(filepath.Join(cfg.StateDir, "audit.ndjson"))
	defer audit.Close()
	collector.AttachAudit(audit)

	p, err := collector.Submit(strings.Join(args, " "), submitBody, submitAuthor)
	if err != nil {
		return err
	}
	fmt.Printf("Queued proposal %s: %s\n", p.ID, p.Title)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	queue := evolution.NewLocalQueue(filepath.Join(cfg.StateDir, "queue.json"))
	queued, err := queue.Peek()
	if err != nil {
		return err
	}
	processed, err := evolution.OpenProcessedStore(filepath.Join(cfg.StateDir, "processed.json"))
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"queued":    len(queued),
		"processed": processed.Len(),
		"outcomes":  processed.Outcomes(),
		"state_dir": cfg.StateDir,
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
	return nil
}
