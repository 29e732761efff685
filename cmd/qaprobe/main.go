package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"qaprobe/internal/api"
	"qaprobe/internal/browser"
	"qaprobe/internal/checklist"
	"qaprobe/internal/config"
	"qaprobe/internal/engine"
	"qaprobe/internal/jobs"
	"qaprobe/internal/logging"
	"qaprobe/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// run flags
	exhaustive bool
	maxRows    int
	authURL    string
	authUser   string
	authPass   string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "qaprobe",
	Short: "qaprobe - checklist-driven web QA execution engine",
	Long: `qaprobe executes QA checklist rows against a live browser and produces
evidence-backed verdicts: PASS, FAIL, or BLOCKED, each with a failure code
from a closed taxonomy, a retry classification, and a screenshot.

Use "run" for a one-shot execution from a rows file, or "serve" to expose
the engine over HTTP with async job orchestration.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg = zap.NewDevelopmentConfig()
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

// runCmd executes one checklist synchronously and prints the verdicts.
var runCmd = &cobra.Command{
	Use:   "run [rows.json]",
	Short: "Execute a checklist file and print the verdict table",
	Long: `Reads checklist rows from a JSON file and executes them in one run.

The file may be a bare array of rows or an object with a "rows" key. Both
legacy (screen/scenario/check) and extended (module/element/action/expected)
row schemas are accepted.

Example:
  qaprobe run checklist.json --exhaustive --auth-url https://app/login --auth-user qa --auth-pass secret`,
	Args: cobra.ExactArgs(1),
	RunE: runChecklist,
}

// serveCmd starts the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the execution engine over HTTP",
	Long: `Starts the HTTP adapter with sync and async execution routes:

  POST /api/checklist/execute              synchronous run
  POST /api/checklist/execute/async        submit, returns a job id
  GET  /api/checklist/execute/status/{id}  poll a job
  GET  /api/history/recent                 archived runs

The config file is watched; edits to per-run settings (project, output
directory, browser viewport) apply to subsequent runs. The listen address
and job limits are fixed until restart.`,
	RunE: serve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "qaprobe.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose console logging")

	runCmd.Flags().BoolVar(&exhaustive, "exhaustive", false, "run the interaction fuzzer after the rows")
	runCmd.Flags().IntVar(&maxRows, "max-rows", 0, "override the per-run row cap")
	runCmd.Flags().StringVar(&authURL, "auth-url", "", "login page URL")
	runCmd.Flags().StringVar(&authUser, "auth-user", "", "login user id")
	runCmd.Flags().StringVar(&authPass, "auth-pass", "", "login password")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

func loadSetup() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := logging.Initialize(cfg.OutputDir, logging.Options{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// readRows accepts either a bare JSON array of rows or {"rows": [...]}.
func readRows(path string) ([]checklist.RowInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rows file: %w", err)
	}
	var rows []checklist.RowInput
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Rows []checklist.RowInput `json:"rows"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse rows file %s: %w", path, err)
	}
	return wrapped.Rows, nil
}

func runChecklist(cmd *cobra.Command, args []string) error {
	cfg, err := loadSetup()
	if err != nil {
		return err
	}

	rows, err := readRows(args[0])
	if err != nil {
		return err
	}

	manager := browser.NewManager(cfg.Browser)
	defer manager.Shutdown()

	eng := engine.New(manager, cfg)
	req := engine.Request{Rows: rows, Context: cfg.Execution}
	req.Context.Exhaustive = req.Context.Exhaustive || exhaustive
	if maxRows > 0 {
		req.Context.MaxRows = maxRows
	}
	if authURL != "" {
		req.Auth = &checklist.AuthDescriptor{LoginURL: authURL, UserID: authUser, Password: authPass}
	}
	req.Progress = func(done, total int) {
		logger.Debug("row finished", zap.Int("done", done), zap.Int("total", total))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := eng.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := printResult(res); err != nil {
		return err
	}
	if res.Summary.Fail > 0 || res.Summary.Blocked > 0 {
		os.Exit(1)
	}
	return nil
}

func printResult(res *engine.Result) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"#", "Target", "Kind", "Verdict", "Failure Code", "Retry", "Reason"})

	var data [][]string
	for i, v := range res.Rows {
		data = append(data, []string{
			fmt.Sprintf("%d", i+1),
			truncate(v.Row.Target, 44),
			string(v.Kind),
			string(v.Verdict),
			string(v.FailureCode),
			string(v.RetryClass),
			truncate(v.Reason, 60),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Printf("\n%d pass, %d fail, %d blocked | coverage %.0f%% | retry-eligible %d/%d | %dms\n",
		res.Summary.Pass, res.Summary.Fail, res.Summary.Blocked,
		res.Coverage.CoverageRate*100,
		res.RetryStats.EligibleRows, res.RetryStats.TotalRows,
		res.DurationMs)
	if res.FinalSheet.CSVPath != "" {
		fmt.Printf("sheet: %s\n", res.FinalSheet.CSVPath)
	}
	for code, hint := range res.FailureCodeHints {
		fmt.Printf("hint [%s]: %s\n", code, hint)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadSetup()
	if err != nil {
		return err
	}

	manager := browser.NewManager(cfg.Browser)
	defer manager.Shutdown()

	var history *store.History
	if cfg.Jobs.HistoryEnabled {
		history, err = store.Open(cfg.Jobs.HistoryPath)
		if err != nil {
			logger.Warn("run history disabled", zap.Error(err))
		} else {
			defer history.Close()
		}
	}

	eng := engine.New(manager, cfg)
	orch := jobs.New(eng, cfg, history)
	defer orch.Close()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(eng, orch, history, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := config.Watch(ctx, configPath, func(next config.Config) {
			eng.Reconfigure(next)
			logger.Info("config reloaded; per-run settings apply to subsequent runs (listen address and job limits need a restart)",
				zap.String("path", configPath))
		}); err != nil {
			logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("qaprobe listening", zap.String("addr", cfg.Listen), zap.String("project", cfg.Project))
		logging.Boot("http server listening on %s", cfg.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
