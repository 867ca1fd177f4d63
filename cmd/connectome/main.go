// Command connectome validates and runs CI workflow definitions and manages
// the shared cache storage behind them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"connectome/internal/config"
	"connectome/internal/logging"
	"connectome/internal/storage"
	"connectome/internal/workflow"
)

var (
	verbose bool
	workDir string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "connectome",
	Short: "Lazy computation graphs with shared caching, plus a local CI workflow runner",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Validate and execute workflow definitions",
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a workflow definition and print its job plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workflow.ParseFile(args[0])
		if err != nil {
			return err
		}
		if err := wf.Validate(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "workflow %q: triggers %v\n", wf.Name, wf.On.Events)
		for _, name := range wf.JobNames() {
			job := wf.Jobs[name]
			for _, inst := range job.Expand() {
				label := name
				if inst.Suffix != "" {
					label = name + "-" + inst.Suffix
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  job %s: %d step(s), %d service(s)\n",
					label, len(job.Steps), len(job.Services))
			}
		}
		return nil
	},
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Expand the matrix and execute every job instance locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workflow.ParseFile(args[0])
		if err != nil {
			return err
		}

		dir := workDir
		if dir == "" {
			if dir, err = os.Getwd(); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := workflow.NewRunner(dir, logger)
		summary, err := runner.Run(ctx, wf)
		if err != nil {
			return err
		}
		for _, inst := range summary.Instances {
			status := "ok"
			if inst.Failed {
				status = "failed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (report: %s)\n", inst.Name(), status, inst.ReportPath)
		}
		if summary.Failed {
			return fmt.Errorf("workflow failed")
		}
		return nil
	},
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Manage shared cache storage roots",
}

var storageInitCmd = &cobra.Command{
	Use:   "init [root]",
	Short: "Initialize a storage root with the default layout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}
		layout, err := storage.Init(root, storage.Config{})
		if err != nil {
			return err
		}
		logger.Info("storage initialized",
			zap.String("root", root),
			zap.String("algorithm", layout.Algorithm),
			zap.Ints("levels", layout.Levels))
		return nil
	},
}

// resolveRoot picks the storage root from the positional argument, falling
// back to CONNECTOME_STORAGE.
func resolveRoot(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.StorageRoot != "" {
		return cfg.StorageRoot, nil
	}
	return "", fmt.Errorf("no storage root given and CONNECTOME_STORAGE is unset")
}

var storageSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Report the tracked byte volume of the configured locker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		locker, closer, err := buildLocker(cfg)
		if err != nil {
			return err
		}
		defer closer()

		tracker, ok := locker.(storage.SizeTracker)
		if !ok {
			return fmt.Errorf("locker %q does not track sizes", cfg.Locker)
		}
		size, err := tracker.Size(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", size)
		return nil
	},
}

// buildLocker constructs the locker selected by the environment. The
// returned closer releases backend connections.
func buildLocker(cfg *config.Config) (storage.Locker, func(), error) {
	nop := func() {}
	switch cfg.Locker {
	case config.LockerNone:
		return storage.NopLocker{}, nop, nil
	case config.LockerMutex:
		return storage.NewMutexLocker(), nop, nil
	case config.LockerRedis:
		l, err := storage.NewRedisLockerFromURL(cfg.RedisURL, "connectome")
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	case config.LockerSqlite:
		l, err := storage.NewSqliteLocker(cfg.LockerPath)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown locker %q", cfg.Locker)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	workflowRunCmd.Flags().StringVarP(&workDir, "workdir", "C", "", "Working directory for job steps (default: current)")

	workflowCmd.AddCommand(workflowValidateCmd)
	workflowCmd.AddCommand(workflowRunCmd)
	storageCmd.AddCommand(storageInitCmd)
	storageCmd.AddCommand(storageSizeCmd)

	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(storageCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
