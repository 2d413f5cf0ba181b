// Package dedup decides whether a candidate venue already exists in the
// local store, so bulk imports don't create the same physical venue twice
// under slightly different names.
//
// The check is advisory: two imports racing can still produce a near
// duplicate, which a curator or a later reconciliation pass resolves. It is
// not a hard constraint enforced by the store.
package dedup

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/umahmood/haversine"

	"github.com/placekeep/placekeep/internal/record"
	"github.com/placekeep/placekeep/internal/store"
)

// Defaults for the duplicate gate. Both conditions must hold: a high name
// similarity alone misfires on generic names in different cities, and
// proximity alone misfires on distinct venues in the same block.
const (
	DefaultNameThreshold     = 0.8
	DefaultMaxDistanceMeters = 100.0
)

// Candidate is a venue as reported by the external search provider.
type Candidate struct {
	Name       string
	Type       record.EntityType
	ExternalID string
	Latitude   *float64
	Longitude  *float64
}

// Result reports a dedup decision.
type Result struct {
	Duplicate bool

	// MatchedID is the existing entity's id on a hit, so the caller can
	// link to it instead of creating a new record.
	MatchedID string

	// Exact is true when the hit came from the external-id match rather
	// than the fuzzy scan.
	Exact bool

	// NameSimilarity and DistanceMeters describe the winning fuzzy pair.
	// Zero on exact matches and misses.
	NameSimilarity float64
	DistanceMeters float64
}

// Config tunes the fuzzy gate. Zero values fall back to the defaults.
type Config struct {
	NameThreshold     float64
	MaxDistanceMeters float64
}

// Service answers duplicate queries against the local store.
type Service struct {
	store  *store.Store
	cfg    Config
	logger *log.Logger
}

// New creates a dedup service. If logger is nil, a default logger writing to
// stderr is used.
func New(st *store.Store, cfg Config, logger *log.Logger) *Service {
	if cfg.NameThreshold == 0 {
		cfg.NameThreshold = DefaultNameThreshold
	}
	if cfg.MaxDistanceMeters == 0 {
		cfg.MaxDistanceMeters = DefaultMaxDistanceMeters
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[dedup] ", log.LstdFlags)
	}
	return &Service{store: st, cfg: cfg, logger: logger}
}

// Check decides whether the candidate duplicates an existing entity.
//
// Order of evaluation:
//  1. Exact match on the external catalog id, regardless of name or
//     coordinates.
//  2. Fuzzy scan over same-type entities: normalized name similarity must
//     meet the threshold AND the great-circle distance must be within the
//     limit. Candidates without coordinates never fuzzy-match.
func (s *Service) Check(ctx context.Context, c Candidate) (Result, error) {
	if c.Name == "" {
		return Result{}, fmt.Errorf("%w: candidate name is required", record.ErrValidation)
	}

	if c.ExternalID != "" {
		existing, err := s.store.FindEntityByExternalID(ctx, c.ExternalID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to look up external id: %w", err)
		}
		if existing != nil {
			return Result{Duplicate: true, MatchedID: existing.ID, Exact: true}, nil
		}
	}

	if c.Latitude == nil || c.Longitude == nil {
		return Result{}, nil
	}

	// Inactive entities still participate: re-importing a retired venue
	// should link, not resurrect a twin.
	entities, err := s.store.ListEntities(ctx, store.EntityFilter{
		Type:            c.Type,
		IncludeInactive: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to scan entities: %w", err)
	}

	candidateName := normalizeName(c.Name)
	for _, e := range entities {
		if e.Latitude == nil || e.Longitude == nil {
			continue
		}

		similarity := levenshtein.Similarity(candidateName, normalizeName(e.Name), levenshtein.NewParams())
		if similarity < s.cfg.NameThreshold {
			continue
		}

		meters := distanceMeters(*c.Latitude, *c.Longitude, *e.Latitude, *e.Longitude)
		if meters > s.cfg.MaxDistanceMeters {
			continue
		}

		s.logger.Printf("Fuzzy duplicate: %q matches %s (%q), similarity=%.2f distance=%.0fm",
			c.Name, e.ID, e.Name, similarity, meters)
		return Result{
			Duplicate:      true,
			MatchedID:      e.ID,
			NameSimilarity: similarity,
			DistanceMeters: meters,
		}, nil
	}

	return Result{}, nil
}

// MatchesEntity reports whether the candidate duplicates one specific entity
// under the configured gates, without querying the store. Bulk imports use it
// to screen candidates against entities accepted earlier in the same batch,
// before those rows exist.
func (s *Service) MatchesEntity(c Candidate, e *record.Entity) bool {
	if c.ExternalID != "" && c.ExternalID == e.ExternalID {
		return true
	}
	if c.Type != e.Type {
		return false
	}
	if c.Latitude == nil || c.Longitude == nil || e.Latitude == nil || e.Longitude == nil {
		return false
	}
	similarity := levenshtein.Similarity(normalizeName(c.Name), normalizeName(e.Name), levenshtein.NewParams())
	if similarity < s.cfg.NameThreshold {
		return false
	}
	return distanceMeters(*c.Latitude, *c.Longitude, *e.Latitude, *e.Longitude) <= s.cfg.MaxDistanceMeters
}

// normalizeName folds case and collapses runs of whitespace so that
// transliteration and spacing noise doesn't sink the similarity score.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// distanceMeters returns the great-circle distance between two points.
func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: lat1, Lon: lng1},
		haversine.Coord{Lat: lat2, Lon: lng2},
	)
	return km * 1000
}
