package main

import (
	"fmt"
	"os"

	"github.com/kaiwa-cli/kaiwa/internal/config"
	"github.com/kaiwa-cli/kaiwa/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kaiwa",
	Short: "Kaiwa terminal chat",
	Long:  `Kaiwa is a terminal chat client for Gemini, Vertex AI and local Ollama models.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Chat.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kaiwa/config.yaml)")
	rootCmd.PersistentFlags().String("chat.log_level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("chat.auth_mode", "", "backend auth mode (ollama, gemini-api-key, vertex-ai, oauth-personal, anthropic-api-key, openai-api-key)")
	rootCmd.PersistentFlags().String("chat.model", "", "model override for this session")
	rootCmd.PersistentFlags().Bool("chat.debug", false, "log backend payloads and stream chunks")
}
