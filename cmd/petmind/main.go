// Command petmind runs the petmind API server and its companion tools:
// bulk image ingestion, a search prompt and chat with a pet.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/petmind/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "petmind",
		Short: "Pet catalog with image similarity search and pets that remember",
		Long: `petmind embeds pets and posts asynchronously, finds similar ones by
text or image, and lets you chat with a pet that remembers what you told it.

Configuration comes from PETMIND_* environment variables, an optional .env
file and an optional YAML file named by PETMIND_CONFIG_FILE.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newChatCmd(),
	)
	return root
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
