package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaredwolff/patina/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openStore() (*session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := session.NewStore(cfg.SessionsDir(), quietLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	infos, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPERSONA\tCREATED\tUPDATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.Key,
			orDash(info.Persona),
			info.CreatedAt.Local().Format(time.DateTime),
			info.UpdatedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	key := args[0]
	if !store.Exists(key) {
		return fmt.Errorf("session %q not found", key)
	}
	if err := store.Delete(cmd.Context(), key); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Printf("Deleted session %s\n", key)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
