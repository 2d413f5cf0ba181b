package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/placekeep/placekeep/internal/record"
	"github.com/placekeep/placekeep/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "data",
	Short:   "Show local store status",
	Long: `Display record counts, the current curator, sync queue depth, and the
last successful sync time.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		dataDir, cfg, st, err := openEnv()
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		counts, err := st.CountRecords(ctx)
		if err != nil {
			fatalf("failed to count records: %v", err)
		}

		fmt.Printf("\n%s\n", ui.RenderHeader("Placekeep Status"))
		fmt.Printf("   Data dir:  %s\n", dataDir)
		fmt.Printf("   Entities:  %d\n", counts.Entities)
		fmt.Printf("   Curations: %d\n", counts.Curations)
		fmt.Printf("   Curators:  %d\n", counts.Curators)

		cur, err := st.CurrentCurator(ctx)
		switch {
		case err == nil:
			fmt.Printf("   Curator:   %s (%s)\n", cur.Name, cur.ID)
		case errors.Is(err, record.ErrNotFound):
			fmt.Printf("   Curator:   %s\n", ui.RenderWarn("none (run 'pk curator use')"))
		default:
			fatalf("failed to read current curator: %v", err)
		}

		if counts.PendingOps > 0 {
			fmt.Printf("   Queue:     %s\n", ui.RenderWarn(fmt.Sprintf("%d pending", counts.PendingOps)))
		} else {
			fmt.Printf("   Queue:     %s\n", ui.RenderPass("empty"))
		}

		lastSync, err := st.LastSyncTime(ctx)
		if err != nil {
			fatalf("failed to read last sync time: %v", err)
		}
		if lastSync.IsZero() {
			fmt.Printf("   Last sync: never\n")
		} else {
			fmt.Printf("   Last sync: %s (%s ago)\n",
				lastSync.Local().Format(time.RFC3339),
				time.Since(lastSync).Round(time.Second))
		}

		if cfg.RemoteURL == "" {
			fmt.Printf("   Remote:    %s\n\n", ui.RenderDim("not configured"))
		} else {
			fmt.Printf("   Remote:    %s\n\n", cfg.RemoteURL)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
