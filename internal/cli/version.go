package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusx1211/switchyard/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		bi := buildinfo.Current()
		short, _ := cmd.Flags().GetBool("short")
		if short {
			fmt.Println(bi.Version)
			return nil
		}
		fmt.Println(bi.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "Print only the version")
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = buildinfo.Current().Version
}
