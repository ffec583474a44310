package main

import (
	"os"

	"legalchat-backend/config"

	"github.com/spf13/cobra"
)

func main() {
	config.LoadDotEnv()

	root := &cobra.Command{
		Use:          "legalchat-admin",
		Short:        "Operational tasks for the legal chat backend",
		SilenceUsage: true,
	}
	root.AddCommand(migrateCMD(), versionCMD(), hashTokenCMD())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
