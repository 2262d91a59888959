package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jaredwolff/patina/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Patina daemon",
	Long: `Run the Patina daemon in the foreground. The daemon processes
messages from all enabled channels until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
