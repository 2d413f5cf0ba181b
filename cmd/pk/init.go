package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/placekeep/placekeep/internal/config"
	"github.com/placekeep/placekeep/internal/store"
	"github.com/placekeep/placekeep/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "data",
	Short:   "Initialize a .placekeep data directory",
	Long: `Create the .placekeep data directory in the current directory.

This creates:
  .placekeep/placekeep.db   local SQLite store (schema migrated to current)
  .placekeep/inbox/         drop *.json candidate files here for 'pk serve'`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fatalf("failed to determine working directory: %v", err)
		}

		dataDir := filepath.Join(cwd, config.DataDirName)
		if existing := config.FindDataDirFrom(cwd); existing != "" && existing != dataDir {
			fmt.Printf("%s Using existing data directory at %s\n", ui.RenderWarn("⚠"), existing)
			dataDir = existing
		}

		if err := os.MkdirAll(config.InboxPath(dataDir), 0755); err != nil {
			fatalf("failed to create data directory: %v", err)
		}

		st, err := store.Open(config.DatabasePath(dataDir))
		if err != nil {
			fatalf("failed to open database: %v", err)
		}
		defer st.Close()

		fmt.Printf("%s Initialized %s\n", ui.RenderPass("✓"), dataDir)
		fmt.Printf("   Database: %s\n", config.DatabasePath(dataDir))
		fmt.Printf("   Inbox:    %s\n", config.InboxPath(dataDir))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
