package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pensieved/pensieve/internal/config"
)

var (
	configureAnthropicKey string
	configureOpenAIKey    string
	configureWatchDir     string
	configureDataDir      string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the configuration file",
	Long: `Write the Pensieve configuration file from flags, starting from
defaults and preserving any existing settings.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureAnthropicKey, "anthropic-key", "", "Anthropic API key for batch analysis")
	configureCmd.Flags().StringVar(&configureOpenAIKey, "openai-key", "", "OpenAI API key for analysis and embeddings")
	configureCmd.Flags().StringVar(&configureWatchDir, "watch-dir", "", "directory watched for incoming captures")
	configureCmd.Flags().StringVar(&configureDataDir, "data-dir", "", "data directory for databases and logs")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configureWatchDir != "" {
		cfg.WatchDir = configureWatchDir
	}
	if configureDataDir != "" {
		cfg.DataDir = configureDataDir
	}
	if configureAnthropicKey != "" {
		setProfile(cfg, "anthropic", configureAnthropicKey, 10)
	}
	if configureOpenAIKey != "" {
		setProfile(cfg, "openai", configureOpenAIKey, 5)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Println("You can now start Pensieve with: pensieve start")

	return nil
}

// setProfile updates the profile for a provider or appends a new one.
func setProfile(cfg *config.Config, provider, apiKey string, priority int) {
	for i, p := range cfg.AI.Profiles {
		if p.Provider == provider {
			cfg.AI.Profiles[i].APIKey = apiKey
			return
		}
	}
	cfg.AI.Profiles = append(cfg.AI.Profiles, config.AIProfile{
		ID:       provider,
		Provider: provider,
		APIKey:   apiKey,
		Priority: priority,
	})
}
