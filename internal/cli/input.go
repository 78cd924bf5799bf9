package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/insilichem/tangram-nciplot/internal/input"
)

var (
	inputOpts runFlags
	inputOut  string
)

var inputCmd = &cobra.Command{
	Use:   "input [flags] geometry.xyz...",
	Short: "Print the NCIPlot input file a run would use",
	Long: `Renders the input file for the given geometries and directives without running anything.
Configured defaults apply exactly as they do for run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, _, err := loadConfig()
		if err != nil {
			return err
		}
		opts, err := inputOpts.options(loaded.Config.RunDefaults())
		if err != nil {
			return err
		}
		if inputOut != "" {
			return input.WriteFile(inputOut, args, opts)
		}
		text, err := input.Write(args, opts)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inputCmd)

	inputOpts.bind(inputCmd)
	inputCmd.Flags().StringVarP(&inputOut, "output", "o", "", "write to this file instead of stdout")
}
