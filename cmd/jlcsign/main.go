// jlcsign runs the daily check-in for one or more accounts: it drives a
// headless Chrome through login, extracts the session credentials, calls
// the check-in API, and publishes a summary to the configured sinks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zhangMonday/jlc-auto-check-in/internal/browser"
	"github.com/zhangMonday/jlc-auto-check-in/internal/config"
	"github.com/zhangMonday/jlc-auto-check-in/internal/credential"
	"github.com/zhangMonday/jlc-auto-check-in/internal/notify"
	"github.com/zhangMonday/jlc-auto-check-in/internal/orchestrator"
	"github.com/zhangMonday/jlc-auto-check-in/internal/report"
	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
	"github.com/zhangMonday/jlc-auto-check-in/internal/runner"
	"github.com/zhangMonday/jlc-auto-check-in/internal/task"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	headless    bool
	failOnError bool

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "jlcsign <usernames> <passwords> [failure-exit]",
	Short: "Automated daily check-in for JLC accounts",
	Long: `jlcsign signs in every supplied account on m.jlc.com and reports the
outcome.

Usernames and passwords are comma-separated lists of equal length. The
optional third argument (true/false) makes the process exit non-zero when
any account ends in a failed or wrong-password state, so a scheduler can
flag the run.`,
	Args: cobra.RangeArgs(2, 3),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runCheckIn,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "run Chrome headless")
	rootCmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero when any account fails")
}

func runCheckIn(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if failOnError {
		cfg.FailureExit = true
	}
	if len(args) == 3 {
		v, err := strconv.ParseBool(args[2])
		if err != nil {
			return fmt.Errorf("invalid failure-exit value %q: %w", args[2], err)
		}
		cfg.FailureExit = v
	}

	accounts, err := config.ParseAccounts(args[0], args[1])
	if err != nil {
		return err
	}
	logger.Info("starting check-in run", zap.Int("accounts", len(accounts)))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := run(ctx, cfg, accounts)

	text := report.Render(results)
	fmt.Print(text)

	sinks := notify.SinksFromConfig(cfg.Notify)
	notify.Fanout(ctx, sinks, "JLC check-in report", text, logger)

	stats := result.Summarize(results)
	logger.Info("run finished",
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("password_errors", stats.PasswordErrors),
		zap.Int("rewards", stats.TotalRewards))

	if cfg.FailureExit && stats.Failed+stats.PasswordErrors > 0 {
		_ = logger.Sync()
		os.Exit(1)
	}
	return nil
}

// run wires the component graph and executes the two-pass schedule.
func run(ctx context.Context, cfg *config.Config, accounts []result.Account) []result.MergedAccountResult {
	browserCfg := browser.DefaultConfig()
	browserCfg.Bin = cfg.Browser.Bin
	browserCfg.Headless = cfg.Browser.Headless
	browserCfg.ViewportWidth = cfg.Browser.ViewportWidth
	browserCfg.ViewportHeight = cfg.Browser.ViewportHeight
	browserCfg.NavigationTimeoutMs = cfg.Browser.NavigationTimeoutMs
	browserCfg.DisableImages = cfg.Browser.DisableImages
	browserCfg.CaptureHost = "m.jlc.com"

	extractor := credential.NewExtractor(logger)
	taskOpts := task.Options{
		BaseURL:   cfg.Task.BaseURL,
		UserAgent: cfg.Task.UserAgent,
		Referer:   cfg.Task.Referer,
		Timeout:   cfg.TaskTimeout(),
	}

	runnerCfg := runner.DefaultConfig()
	runnerCfg.EntryURL = cfg.Task.EntryURL

	r := runner.New(runnerCfg,
		func(ctx context.Context) (runner.Driver, error) {
			return browser.NewSession(ctx, browserCfg, logger)
		},
		extractor,
		func(creds credential.Credentials, accountIndex int, refresher task.Refresher) runner.TaskExecutor {
			return task.NewClient(taskOpts, creds, accountIndex, refresher, logger)
		},
		logger)

	orch := orchestrator.New(orchestrator.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		FinalPass:   cfg.Retry.FinalPass,
	}, r.RunAttempt, logger)

	return orch.Run(ctx, accounts)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
