package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "circles",
		Short:         "Circles realtime backend: chat, study rooms, social graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is normal outside development
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	root.AddCommand(newServeCmd(), newTokenCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "circles:", err)
		os.Exit(1)
	}
}
