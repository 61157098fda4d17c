package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/utils"
)

var (
	configPath string
	logLevel   string
	config     *utils.ConfigManager
	logger     *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   utils.AppName,
	Short: "Find BitTorrent peers through the Mainline DHT",
	Long: `A one-shot Mainline DHT client that resolves a torrent info-hash to peer addresses.

It sends get_peers queries in rounds, starting from the bootstrap routers and
moving towards the nodes closest to the info-hash, until peers are found or no
unvisited nodes remain.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = utils.LoadConfigManager(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger = utils.NewLogsManager(config)
		if logLevel != "" {
			if err := logger.SetLogLevel(logLevel); err != nil {
				return err
			}
		}
		logger.Debug(fmt.Sprintf("Loaded config from %s", config.GetConfigWithDefault("file", "")), "config")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (trace, debug, info, warn, error)")
}
