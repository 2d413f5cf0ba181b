package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/placekeep/placekeep/internal/config"
	"github.com/placekeep/placekeep/internal/daemon"
	"github.com/placekeep/placekeep/internal/dashboard"
	"github.com/placekeep/placekeep/internal/dedup"
	"github.com/placekeep/placekeep/internal/importer"
	"github.com/placekeep/placekeep/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the inbox daemon and dashboard",
	Long: `Run the background worker and the real-time dashboard.

The worker watches .placekeep/inbox/ for dropped *.json candidate files,
imports them (with deduplication), and periodically drains the sync queue
when a remote is configured.

The dashboard serves:
  /api/status   record counts, queue depth, last sync (JSON)
  /ws           websocket broadcasting import and sync events
  /health       liveness check

Logs are written to .placekeep/placekeep.log with rotation.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		dataDir, cfg, st, err := openEnv()
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		curatorID, err := requireCurator(cmd, st)
		if err != nil {
			fatalf("%v", err)
		}

		logOut := io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   config.LogPath(dataDir),
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})

		if port == 0 {
			port = cfg.DashboardPort
		}
		server := dashboard.NewServer(st, &dashboard.Config{
			Port:   port,
			Logger: log.New(logOut, "[dashboard] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}
		handler := dashboard.NewHandler(server, log.New(logOut, "[events] ", log.LstdFlags))

		dd := dedup.New(st, dedup.Config{
			NameThreshold:     cfg.DedupNameThreshold,
			MaxDistanceMeters: cfg.DedupMaxDistanceMeters,
		}, log.New(logOut, "[dedup] ", log.LstdFlags))
		im := importer.New(st, dd, log.New(logOut, "[import] ", log.LstdFlags), 0)

		var engine *sync.Engine
		if cfg.RemoteURL != "" {
			remote, err := newRemote(dataDir, cfg)
			if err != nil {
				fatalf("%v", err)
			}
			engine = sync.New(st, remote, log.New(logOut, "[sync] ", log.LstdFlags))
		}

		d, err := daemon.New(config.InboxPath(dataDir), curatorID, im, engine, handler, &daemon.Config{
			DebounceInterval: cfg.InboxDebounce,
			DrainInterval:    cfg.DrainInterval,
			Logger:           log.New(logOut, "[daemon] ", log.LstdFlags),
		})
		if err != nil {
			fatalf("failed to create daemon: %v", err)
		}

		fmt.Printf("Dashboard:  http://localhost:%d\n", port)
		fmt.Printf("Inbox:      %s\n", config.InboxPath(dataDir))
		if cfg.RemoteURL == "" {
			fmt.Println("Remote:     not configured (imports only)")
		} else {
			fmt.Printf("Remote:     %s\n", cfg.RemoteURL)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: daemon failed: %v\n", err)
		}

		fmt.Println("\nShutting down...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Dashboard port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
