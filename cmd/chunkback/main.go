package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungtweek/chunkback/internal/config"
	"github.com/yungtweek/chunkback/internal/logger"
)

var (
	configPath string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chunkback",
		Short: "Scripted mock LLM server",
		Long: `chunkback streams scripted completions in OpenAI, Anthropic and Gemini
wire formats. The last user message is a chunkback prompt:

  CHUNKSIZE 5
  CHUNKLATENCY 20
  SAY "Let me check"
  TOOLCALL "get_weather" {"city":"SF"} "sunny and 72F"

Running chunkback with no subcommand starts the server.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "",
		"YAML config file (defaults to $CONFIG_FILE)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides LOG_LEVEL)")

	root.AddCommand(newServeCmd(), newCompileCmd(), newLexCmd())
	return root
}

// loadConfig resolves the layered configuration and applies flag overrides.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		logger.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
