package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the backstop version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backstop version %s\n", BACKSTOP_VERSION)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
