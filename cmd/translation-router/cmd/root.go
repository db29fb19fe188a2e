// Package cmd implements the translation-router command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pricofy/translation-router/internal/config"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "translation-router",
	Short: "Real-time chat translation router",
	Long: `translation-router receives translation requests on a pub/sub endpoint,
fans them out per target language onto bounded worker pools and publishes
one correlated result or error per language.

Configuration is read from --config, $TRANSLATOR_CONFIG or
translation-router.yaml; TRANSLATOR_* environment variables override it.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./translation-router.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

// loadConfig applies command-line overrides on top of the loaded config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
