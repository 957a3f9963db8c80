package codebot

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/config"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "codebot",
	Short: "codebot - runs code snippets posted as mentions and replies with the output",
	Long: "codebot watches a Slack or Discord channel for mentions of its handle, runs the " +
		"snippet in a sandboxed pipeline with a wall-clock timeout and replies with what it printed.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.codebot/codebot.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(responsesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of codebot",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codebot v%s\n", version)
	},
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
