// Command voicebridge runs the voice conversation orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voicebridge/internal/config"
	"voicebridge/internal/logging"
)

var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "voicebridge",
		Short:        "Voice conversation orchestrator for the farmer assistant backend",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.Init(cfg.Logging)
		return cfg, nil
	}

	rootCmd.AddCommand(
		newCallCmd(load),
		newServeCmd(load),
		newSayCmd(load),
		newDetectCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
