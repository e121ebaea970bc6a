package cli

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jsherman999/tailorboard/internal/config"
	"github.com/jsherman999/tailorboard/internal/logging"
)

func Main() {
	if err := NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRoot builds the tailorboard command tree.
func NewRoot() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "tailorboard",
		Short:        "tailorboard CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(watchCmd(&cfgPath))
	root.AddCommand(statusCmd(&cfgPath))
	root.AddCommand(recoverCmd(&cfgPath))
	root.AddCommand(exportCmd(&cfgPath))
	root.AddCommand(tokenCmd(&cfgPath))
	return root
}

func loadClient(cfgPath string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadClient(cfgPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, logger, nil
}

// readToken returns the token stored in path, or "" if there is none.
func readToken(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
