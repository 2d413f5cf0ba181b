// Package importer drives bulk imports of venue candidates from an external
// catalog into the local store.
//
// The flow is: validate everything up front (one bad candidate rejects the
// whole batch before any row is written), run the advisory dedup check per
// candidate, then create the survivors in chunked bulk transactions. Chunks
// are independently committable so a caller can cancel a long import between
// chunks without ever leaving a transaction half-applied.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/placekeep/placekeep/internal/dedup"
	"github.com/placekeep/placekeep/internal/record"
	"github.com/placekeep/placekeep/internal/store"
)

// DefaultChunkSize bounds how many entities land in one bulk transaction.
const DefaultChunkSize = 50

// Candidate is one venue offered for import, as serialized by the search
// provider or dropped into the inbox as JSON.
type Candidate struct {
	Name       string          `json:"name"`
	Type       string          `json:"type,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
	Latitude   *float64        `json:"latitude,omitempty"`
	Longitude  *float64        `json:"longitude,omitempty"`
	Source     string          `json:"source,omitempty"`
	Freeform   json.RawMessage `json:"freeform,omitempty"`
}

// SearchProvider supplies candidates from an external venue catalog. The
// core never talks to a network API itself; providers are wired in by the
// embedding application.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Stats summarizes one import run.
type Stats struct {
	Received   int `json:"received"`
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
}

// Importer converts candidates into stored entities.
type Importer struct {
	store     *store.Store
	dedup     *dedup.Service
	logger    *log.Logger
	chunkSize int
}

// New creates an importer. If logger is nil, a default logger writing to
// stderr is used; chunkSize <= 0 falls back to DefaultChunkSize.
func New(st *store.Store, dd *dedup.Service, logger *log.Logger, chunkSize int) *Importer {
	if logger == nil {
		logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Importer{store: st, dedup: dd, logger: logger, chunkSize: chunkSize}
}

// ImportCandidates validates, dedups, and stores a batch of candidates
// created on behalf of curatorID.
//
// Validation is all-or-nothing: a single invalid candidate rejects the
// entire batch before any transaction opens. Dedup is advisory: duplicates
// are skipped and counted, and the matched entity gains a provenance record
// noting the re-sighting.
func (im *Importer) ImportCandidates(ctx context.Context, candidates []Candidate, curatorID string) (Stats, error) {
	stats := Stats{Received: len(candidates)}
	now := time.Now().UTC()

	entities := make([]*record.Entity, 0, len(candidates))
	for i, c := range candidates {
		e := c.toEntity(curatorID, now)
		e.SetDefaults(now)
		if err := e.Validate(); err != nil {
			return Stats{Received: len(candidates)}, fmt.Errorf("candidate %d (%q): %w", i, c.Name, err)
		}
		entities = append(entities, e)
	}

	var fresh []*record.Entity
	for i, c := range candidates {
		dc := dedup.Candidate{
			Name:       c.Name,
			Type:       entities[i].Type,
			ExternalID: c.ExternalID,
			Latitude:   c.Latitude,
			Longitude:  c.Longitude,
		}
		result, err := im.dedup.Check(ctx, dc)
		if err != nil {
			return stats, err
		}
		if result.Duplicate {
			stats.Duplicates++
			im.noteResighting(ctx, result.MatchedID, c, now)
			continue
		}
		// Screen against candidates already accepted in this batch; the
		// store check can't see them until the bulk create commits.
		if prior := im.batchDuplicate(dc, fresh); prior != nil {
			stats.Duplicates++
			prior.Metadata = append(prior.Metadata, resighting(c, now))
			continue
		}
		fresh = append(fresh, entities[i])
	}

	for start := 0; start < len(fresh); start += im.chunkSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := start + im.chunkSize
		if end > len(fresh) {
			end = len(fresh)
		}
		ids, err := im.store.BulkCreateEntities(ctx, fresh[start:end])
		if err != nil {
			return stats, fmt.Errorf("failed to import chunk: %w", err)
		}
		stats.Imported += len(ids)
	}

	im.logger.Printf("Import complete: received=%d imported=%d duplicates=%d",
		stats.Received, stats.Imported, stats.Duplicates)
	return stats, nil
}

// ImportFile reads a JSON array of candidates from path and imports them.
func (im *Importer) ImportFile(ctx context.Context, path, curatorID string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read candidate file: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return Stats{}, fmt.Errorf("failed to parse candidate file %s: %w", path, err)
	}
	return im.ImportCandidates(ctx, candidates, curatorID)
}

// ImportFromProvider searches the external catalog and imports the results.
func (im *Importer) ImportFromProvider(ctx context.Context, provider SearchProvider, query, curatorID string) (Stats, error) {
	candidates, err := provider.Search(ctx, query)
	if err != nil {
		return Stats{}, fmt.Errorf("search provider failed: %w", err)
	}
	return im.ImportCandidates(ctx, candidates, curatorID)
}

// batchDuplicate returns the already-accepted entity the candidate
// duplicates, or nil.
func (im *Importer) batchDuplicate(c dedup.Candidate, fresh []*record.Entity) *record.Entity {
	for _, e := range fresh {
		if im.dedup.MatchesEntity(c, e) {
			return e
		}
	}
	return nil
}

// noteResighting appends a provenance record to a stored entity the dedup
// check matched. Failures are logged, not fatal; the import itself succeeded.
func (im *Importer) noteResighting(ctx context.Context, entityID string, c Candidate, now time.Time) {
	_, err := im.store.UpdateEntity(ctx, entityID, store.EntityPatch{
		AddMetadata: []record.Provenance{resighting(c, now)},
	}, "")
	if err != nil {
		im.logger.Printf("WARNING: failed to record re-sighting on %s: %v", entityID, err)
	}
}

// resighting is the provenance record noting a duplicate candidate.
func resighting(c Candidate, now time.Time) record.Provenance {
	source := c.Source
	if source == "" {
		source = "import"
	}
	return record.Provenance{
		Source:     source,
		RecordedAt: now,
		Note:       fmt.Sprintf("matched duplicate candidate %q", c.Name),
	}
}

func (c Candidate) toEntity(curatorID string, now time.Time) *record.Entity {
	source := c.Source
	if source == "" {
		source = "import"
	}
	return &record.Entity{
		Type:       mapType(c.Type),
		Name:       c.Name,
		Status:     record.EntityStatusActive,
		ExternalID: c.ExternalID,
		Latitude:   c.Latitude,
		Longitude:  c.Longitude,
		Metadata: []record.Provenance{{
			Source:     source,
			RecordedAt: now,
		}},
		FreeformData: c.Freeform,
		CreatedBy:    curatorID,
	}
}

// mapType folds catalog types onto the closed entity type set. Anything
// unrecognized becomes "other" rather than failing the import.
func mapType(t string) record.EntityType {
	et := record.EntityType(t)
	if record.ValidEntityType(et) {
		return et
	}
	return record.EntityTypeOther
}
