package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/contact-enricher/internal/config"
	"github.com/shpitdev/contact-enricher/internal/redact"
	"github.com/shpitdev/contact-enricher/internal/version"
)

var (
	cfg        *config.Config
	configPath string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:     "enricher",
	Short:   "Enrich contact sheets with current city and job title",
	Long:    "Imports a contact sheet, looks up each person's current city and job title in paced batches, caches results across re-imports, and exports the enriched sheet.",
	Version: version.Current,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if skipConfig(cmd) {
			return nil
		}
		c, err := config.Load(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// skipConfig reports whether cmd must run without a valid configuration.
func skipConfig(cmd *cobra.Command) bool {
	return cmd == configInitCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "use the deterministic offline provider instead of Gemini")
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		_, _ = os.Stderr.WriteString("error: " + redact.Secrets(err.Error()) + "\n")
		os.Exit(1)
	}
}
