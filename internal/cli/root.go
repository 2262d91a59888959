// Package cli implements the patina command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jaredwolff/patina/internal/config"
)

const version = "0.1.0"

var cfgFile string

// ExitError carries a process exit code through cobra's error return.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "patina",
	Short: "Patina - personal AI agent runtime",
	Long: `Patina is a personal AI agent runtime. It runs an agent loop over
your chat surfaces (CLI, web, Telegram, Slack) with durable sessions,
long-term memory, and scheduled triggers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.patina/patina.json)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// quietLogger keeps command output clean of log noise.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
