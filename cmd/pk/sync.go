package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/placekeep/placekeep/internal/config"
	"github.com/placekeep/placekeep/internal/sync"
	"github.com/placekeep/placekeep/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the sync queue to the configured remote",
	Long: `Push all pending operations to the configured remote, in the order they
were enqueued.

Successful pushes remove the queue entry and mark the record synced.
Conflicts keep the entry pending with the remote's version attached so it can
be resolved manually. A transport failure stops the drain; the remaining
entries stay queued for the next run.

The remote comes from remote_url in .placekeep/config.yaml (or PLACEKEEP_REMOTE_URL).
A filesystem path or file:// URL selects the JSONL export remote, which is safe
to replay: already-exported operations are skipped.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		pull, _ := cmd.Flags().GetBool("pull")

		dataDir, cfg, st, err := openEnv()
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		remote, err := newRemote(dataDir, cfg)
		if err != nil {
			fatalf("%v", err)
		}

		engine := sync.New(st, remote, nil)

		stats, err := engine.Drain(ctx)
		if err != nil {
			fmt.Printf("%s Drain stopped: %v\n", ui.RenderFail("✗"), err)
		}
		fmt.Printf("%s Pushed %d operation(s)", ui.RenderPass("✓"), stats.Pushed)
		if stats.Conflicts > 0 {
			fmt.Printf(", %s", ui.RenderWarn(fmt.Sprintf("%d conflict(s)", stats.Conflicts)))
		}
		if stats.Failed > 0 {
			fmt.Printf(", %s", ui.RenderFail(fmt.Sprintf("%d failed", stats.Failed)))
		}
		fmt.Println()
		if err != nil {
			fatalf("sync incomplete")
		}

		if pull {
			pullStats, err := engine.Pull(ctx)
			if err != nil {
				fatalf("pull failed: %v", err)
			}
			fmt.Printf("%s Pulled %d record(s), %d deleted, %d skipped\n",
				ui.RenderPass("✓"), pullStats.Applied, pullStats.Deleted, pullStats.Skipped)
		}
	},
}

// newRemote builds the RemoteClient for cfg. Only the JSONL export remote is
// built in; other transports implement sync.RemoteClient out of tree.
func newRemote(dataDir string, cfg *config.Config) (sync.RemoteClient, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("no remote configured (set remote_url in %s/config.yaml)", dataDir)
	}

	path := strings.TrimPrefix(cfg.RemoteURL, "file://")
	if strings.Contains(path, "://") {
		return nil, fmt.Errorf("unsupported remote %q: only file paths are built in", cfg.RemoteURL)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	return sync.NewExportClient(path)
}

func init() {
	syncCmd.Flags().Bool("pull", false, "Also pull and apply remote changes")
	rootCmd.AddCommand(syncCmd)
}
