package cmd

import (
	"fmt"

	"github.com/eigenwatch/oprisk/internal/version"
	"github.com/spf13/cobra"
)

var runVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version of oprisk",
	Run: func(cmd *cobra.Command, args []string) {
		initCmdConfig(cmd)

		v := version.GetVersion()
		commit := version.GetCommit()

		fmt.Printf("OpriskVersion: %s\nCommit: %s\n", v, commit)
	},
}
