package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/insilichem/tangram-nciplot/internal/report"
	"github.com/insilichem/tangram-nciplot/internal/workflow"
)

var (
	runOpts        runFlags
	runJSON        bool
	runTimeout     time.Duration
	binaryOverride string
	datOverride    string
	workDir        string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] geometry.xyz...",
	Short: "Run NCIPlot on XYZ geometries and print the result",
	Long: `Writes an input file for the given geometries, runs NCIPlot on it and waits for it to finish.
Geometries are passed to NCIPlot in the order given. Interrupt (Ctrl-C) cancels the run.

The exit status is non-zero if the run failed, was cancelled, or its output could not be read.`,
	Example: `  # Run with the configured installation and defaults
  nciplot run dimer.xyz

  # Ligand-centred search with custom cube cutoffs
  nciplot run protein.xyz ligand.xyz --ligand 2 --ligand-radius 3.5 --cube-cutoffs 0.05,0.4`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := *loaded.Config
		if binaryOverride != "" {
			cfg.Binary = binaryOverride
		}
		if datOverride != "" {
			cfg.DatDir = datOverride
		}
		if workDir != "" {
			cfg.WorkDir = workDir
		}
		if runTimeout > 0 {
			cfg.RawTimeout = runTimeout.String()
		}

		opts, err := runOpts.options(cfg.RunDefaults())
		if err != nil {
			return err
		}

		pub, closePub, err := newPublisher(&cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closePub() }()

		ctrl, err := workflow.FromConfig(&cfg, workflow.Options{
			Store:    newStore(&cfg),
			Events:   pub,
			Logger:   logger,
			OnStatus: func(runID, status string) {
				logger.Debug("run status", "run_id", runID, "status", status)
			},
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// Cancelling ctx cancels the run; the record still arrives.
		if _, err := ctrl.Run(ctx, args, opts); err != nil {
			return err
		}
		if err := ctrl.Wait(context.Background()); err != nil {
			return err
		}

		rec := ctrl.Last()
		out := cmd.OutOrStdout()
		if runJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rec); err != nil {
				return err
			}
		} else {
			fmt.Fprint(out, report.Summary(rec))
		}
		return rec.Expect(report.Succeeded)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runOpts.bind(runCmd)
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run record as JSON")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "kill NCIPlot after this long (overrides config)")
	runCmd.Flags().StringVar(&binaryOverride, "binary", "", "NCIPlot executable (overrides config)")
	runCmd.Flags().StringVar(&datOverride, "dat", "", "NCIPlot dat directory (overrides config)")
	runCmd.Flags().StringVar(&workDir, "work-dir", "", "directory for the input and output files (overrides config)")
}
