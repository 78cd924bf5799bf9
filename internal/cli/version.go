package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	nciplot "github.com/insilichem/tangram-nciplot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), nciplot.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
