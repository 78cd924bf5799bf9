package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/insilichem/tangram-nciplot/internal/config"
	"github.com/insilichem/tangram-nciplot/internal/parse"
)

var (
	confBinary  string
	confDat     string
	confWorkDir string
	confTimeout time.Duration
)

var configureCmd = &cobra.Command{
	Use:   "configure --binary PATH --dat PATH",
	Short: "Validate and save the NCIPlot installation paths",
	Long: `Checks that the binary is an executable file and the dat directory exists, then saves them
to the config file (--config, or the per-user config file). Other settings are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := *loaded.Config
		cfg.Binary = confBinary
		cfg.DatDir = confDat
		if confWorkDir != "" {
			cfg.WorkDir = confWorkDir
		}
		if confTimeout > 0 {
			cfg.RawTimeout = confTimeout.String()
		}

		path := cfgFile
		if path == "" {
			path = loaded.Path
		}
		if path == "" {
			if path, err = config.DefaultPath(); err != nil {
				return fmt.Errorf("locating config: %w", err)
			}
		}
		if err := config.Save(path, &cfg); err != nil {
			return err
		}
		logger.Info("configuration saved", "path", path)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Saved %s\n", path)
		fmt.Fprintf(out, "Binary: %s (%s output)\n", cfg.Binary, parse.DetectVariant(cfg.Binary))
		fmt.Fprintf(out, "Dat directory: %s\n", cfg.DatDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configureCmd)

	configureCmd.Flags().StringVar(&confBinary, "binary", "", "NCIPlot executable")
	configureCmd.Flags().StringVar(&confDat, "dat", "", "NCIPlot dat directory")
	configureCmd.Flags().StringVar(&confWorkDir, "work-dir", "", "directory for input and output files")
	configureCmd.Flags().DurationVar(&confTimeout, "timeout", 0, "kill runs after this long")
	_ = configureCmd.MarkFlagRequired("binary")
	_ = configureCmd.MarkFlagRequired("dat")
}
