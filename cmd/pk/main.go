// Command pk is the offline-first venue curation CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/placekeep/placekeep/internal/config"
	"github.com/placekeep/placekeep/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "pk",
	Short: "Offline-first venue curation",
	Long: `pk keeps a local, offline-first store of venues and curations.

All writes land in a local SQLite database (.placekeep/placekeep.db) together
with a durable sync queue entry. When a remote is configured, 'pk sync' or the
'pk serve' daemon drains the queue in order.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEnv locates the data directory, loads config, and opens the store.
// The caller owns the returned store.
func openEnv() (string, *config.Config, *store.Store, error) {
	dataDir := config.FindDataDir()
	if dataDir == "" {
		return "", nil, nil, fmt.Errorf("no %s directory found (run 'pk init' first)", config.DataDirName)
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		return "", nil, nil, err
	}

	st, err := store.Open(config.DatabasePath(dataDir))
	if err != nil {
		return "", nil, nil, err
	}
	st.SetAllowedCategories(cfg.Categories)

	return dataDir, cfg, st, nil
}

// requireCurator returns the current curator id, or an error telling the
// user how to set one.
func requireCurator(cmd *cobra.Command, st *store.Store) (string, error) {
	cur, err := st.CurrentCurator(cmd.Context())
	if err != nil {
		return "", fmt.Errorf("no current curator (run 'pk curator add' then 'pk curator use'): %w", err)
	}
	return cur.ID, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
