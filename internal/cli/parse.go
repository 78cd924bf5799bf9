package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/insilichem/tangram-nciplot/internal/parse"
)

var (
	parseVariant string
	parseJSON    bool
)

var parseCmd = &cobra.Command{
	Use:   "parse [flags] [stdout.log]",
	Short: "Extract the result from saved NCIPlot output",
	Long: `Reads NCIPlot output from a file (or stdin) and prints the values a run would report.
Without --variant the dialect follows the configured binary name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, _, err := loadConfig()
		if err != nil {
			return err
		}
		variant := parse.DetectVariant(loaded.Config.Binary)
		if parseVariant != "" {
			if variant, err = parse.ParseVariant(parseVariant); err != nil {
				return err
			}
		}

		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		res, err := parse.Parse(r, variant)
		out := cmd.OutOrStdout()
		var perr *parse.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintf(out, "Lines read: %d\n", len(perr.RawLines))
			return err
		}
		if err != nil {
			return fmt.Errorf("reading output: %w", err)
		}

		if parseJSON {
			res.RawLines = nil
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintf(out, "Variant: %s\n", variant)
		fmt.Fprintf(out, "RHO: %g\n", res.Rho)
		fmt.Fprintf(out, "RDG: %g\n", res.RDG)
		fmt.Fprintf(out, "Gradient cube: %s\n", res.GradCube)
		fmt.Fprintf(out, "Density cube: %s\n", res.DensCube)
		fmt.Fprintf(out, "RHO x RDG data: %s\n", res.XYData)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVar(&parseVariant, "variant", "", "output dialect: cpu or cuda")
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print the result as JSON")
}
