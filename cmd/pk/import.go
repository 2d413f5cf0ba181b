package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/placekeep/placekeep/internal/dedup"
	"github.com/placekeep/placekeep/internal/importer"
	"github.com/placekeep/placekeep/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file|dir>",
	GroupID: "data",
	Short:   "Import candidate venues from JSON files",
	Long: `Import candidate venues from a JSON file, or every *.json file in a
directory.

Each file holds a JSON array of candidates:

  [{"name": "Café Lune", "type": "restaurant", "external_id": "osm:123",
    "latitude": 48.8566, "longitude": 2.3522, "source": "osm"}]

Candidates that match an existing entity (same external id, or a close name
within 100 m) are skipped; a resighting note is added to the existing entity
instead. Everything else is created and queued for sync in one transaction.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		_, cfg, st, err := openEnv()
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		curatorID, err := requireCurator(cmd, st)
		if err != nil {
			fatalf("%v", err)
		}

		dd := dedup.New(st, dedup.Config{
			NameThreshold:     cfg.DedupNameThreshold,
			MaxDistanceMeters: cfg.DedupMaxDistanceMeters,
		}, nil)
		im := importer.New(st, dd, nil, 0)

		files, err := collectCandidateFiles(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if len(files) == 0 {
			fatalf("no *.json files found at %s", args[0])
		}

		var total importer.Stats
		for _, file := range files {
			stats, err := im.ImportFile(ctx, file, curatorID)
			if err != nil {
				fatalf("failed to import %s: %v", file, err)
			}
			fmt.Printf("%s %s: %d imported, %d duplicates\n",
				ui.RenderPass("✓"), filepath.Base(file), stats.Imported, stats.Duplicates)
			total.Received += stats.Received
			total.Imported += stats.Imported
			total.Duplicates += stats.Duplicates
		}

		if len(files) > 1 {
			fmt.Printf("\n%s %d files: %d received, %d imported, %d duplicates\n",
				ui.RenderAccent("Σ"), len(files), total.Received, total.Imported, total.Duplicates)
		}
	},
}

// collectCandidateFiles resolves path to the list of JSON files to import.
func collectCandidateFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	return files, nil
}

func init() {
	rootCmd.AddCommand(importCmd)
}
