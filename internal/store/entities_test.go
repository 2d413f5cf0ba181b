package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/placekeep/placekeep/internal/record"
)

func ptr[T any](v T) *T { return &v }

// pendingOps fails the test if the queue cannot be listed
func pendingOps(t *testing.T, st *Store) []*record.QueueEntry {
	t.Helper()
	ops, err := st.ListPendingOps(context.Background())
	if err != nil {
		t.Fatalf("ListPendingOps() failed: %v", err)
	}
	return ops
}

// TestCreateEntity_Success tests creating an entity and its queue entry
func TestCreateEntity_Success(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{
		Name: "Harbor Grill",
		Type: record.EntityTypeRestaurant,
	})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	if !strings.HasPrefix(e.ID, record.EntityIDPrefix) {
		t.Errorf("ID = %q, want %q prefix", e.ID, record.EntityIDPrefix)
	}
	if e.Version != 1 {
		t.Errorf("Version = %d, want 1", e.Version)
	}
	if e.SyncStatus != record.SyncPending {
		t.Errorf("SyncStatus = %q, want pending", e.SyncStatus)
	}
	if e.Status != record.EntityStatusActive {
		t.Errorf("Status = %q, want active default", e.Status)
	}
	if e.ChangeTag == "" {
		t.Error("ChangeTag not generated")
	}

	got, err := st.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Name != "Harbor Grill" || got.Type != record.EntityTypeRestaurant {
		t.Errorf("GetEntity() = %q/%q, want Harbor Grill/restaurant", got.Name, got.Type)
	}

	ops := pendingOps(t, st)
	if len(ops) != 1 {
		t.Fatalf("queue has %d entries, want 1", len(ops))
	}
	if ops[0].RecordType != record.RecordTypeEntity || ops[0].Action != record.ActionCreate {
		t.Errorf("queue entry = %s %s, want entity create", ops[0].RecordType, ops[0].Action)
	}
	if ops[0].LocalRecordID != e.ID {
		t.Errorf("queue LocalRecordID = %q, want %q", ops[0].LocalRecordID, e.ID)
	}
	if len(ops[0].PayloadSnapshot) == 0 {
		t.Error("queue entry has no payload snapshot")
	}
}

// TestCreateEntity_ValidationWritesNothing tests that a rejected write leaves
// neither a row nor a queue entry
func TestCreateEntity_ValidationWritesNothing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		entity *record.Entity
	}{
		{"empty name", &record.Entity{Type: record.EntityTypeBar}},
		{"long name", &record.Entity{Name: strings.Repeat("x", record.MaxNameLength+1), Type: record.EntityTypeBar}},
		{"bad type", &record.Entity{Name: "A", Type: "spaceport"}},
		{"lat without lng", &record.Entity{Name: "A", Type: record.EntityTypeBar, Latitude: ptr(1.0)}},
	}
	for _, tc := range cases {
		_, err := st.CreateEntity(ctx, tc.entity)
		mustBe(t, err, record.ErrValidation, "CreateEntity("+tc.name+")")
	}

	counts, err := st.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if counts.Entities != 0 {
		t.Errorf("Entities = %d after rejected writes, want 0", counts.Entities)
	}
	if got := pendingOps(t, st); len(got) != 0 {
		t.Errorf("queue has %d entries after rejected writes, want 0", len(got))
	}
}

// TestGetEntity_NotFound tests the missing-id error
func TestGetEntity_NotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetEntity(context.Background(), "ent_missing")
	mustBe(t, err, record.ErrNotFound, "GetEntity")
}

// TestUpdateEntity_VersionAndTagMoveTogether tests version monotonicity:
// every accepted update bumps the version by one and regenerates the tag
func TestUpdateEntity_VersionAndTagMoveTogether(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	seen := map[string]bool{e.ChangeTag: true}
	current := e
	for i := 0; i < 3; i++ {
		updated, err := st.UpdateEntity(ctx, e.ID, EntityPatch{
			Name: ptr(fmt.Sprintf("Harbor Grill %d", i)),
		}, current.ChangeTag)
		if err != nil {
			t.Fatalf("UpdateEntity() #%d failed: %v", i, err)
		}
		if updated.Version != current.Version+1 {
			t.Errorf("update #%d: Version = %d, want %d", i, updated.Version, current.Version+1)
		}
		if seen[updated.ChangeTag] {
			t.Errorf("update #%d reused change tag %s", i, updated.ChangeTag)
		}
		seen[updated.ChangeTag] = true
		if updated.SyncStatus != record.SyncPending {
			t.Errorf("update #%d: SyncStatus = %q, want pending", i, updated.SyncStatus)
		}
		current = updated
	}

	if current.Version != 4 {
		t.Errorf("final Version = %d, want 4", current.Version)
	}

	// One create plus three updates, in insertion order
	ops := pendingOps(t, st)
	if len(ops) != 4 {
		t.Fatalf("queue has %d entries, want 4", len(ops))
	}
	if ops[0].Action != record.ActionCreate {
		t.Errorf("first queue entry = %s, want create", ops[0].Action)
	}
	for _, op := range ops[1:] {
		if op.Action != record.ActionUpdate {
			t.Errorf("queue entry = %s, want update", op.Action)
		}
	}
}

// TestUpdateEntity_StaleChangeTag tests the optimistic-concurrency contract:
// a stale tag yields a ConflictError and mutates nothing
func TestUpdateEntity_StaleChangeTag(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	_, err = st.UpdateEntity(ctx, e.ID, EntityPatch{Name: ptr("Renamed")}, "stale-tag")
	var conflict *record.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("UpdateEntity() error = %v, want *record.ConflictError", err)
	}
	if conflict.RecordID != e.ID {
		t.Errorf("conflict.RecordID = %q, want %q", conflict.RecordID, e.ID)
	}
	if conflict.CurrentVersion != 1 || conflict.CurrentChangeTag != e.ChangeTag {
		t.Errorf("conflict carries %d/%s, want 1/%s", conflict.CurrentVersion, conflict.CurrentChangeTag, e.ChangeTag)
	}

	// Row untouched, no update queued
	got, err := st.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Name != "Harbor Grill" || got.Version != 1 || got.ChangeTag != e.ChangeTag {
		t.Errorf("row changed after conflict: %q v%d %s", got.Name, got.Version, got.ChangeTag)
	}
	if ops := pendingOps(t, st); len(ops) != 1 {
		t.Errorf("queue has %d entries after conflict, want 1", len(ops))
	}
}

// TestUpdateEntity_EmptyTagSkipsCheck tests that callers may opt out of the
// optimistic check by passing an empty expected tag
func TestUpdateEntity_EmptyTagSkipsCheck(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	updated, err := st.UpdateEntity(ctx, e.ID, EntityPatch{Status: ptr(record.EntityStatusInactive)}, "")
	if err != nil {
		t.Fatalf("UpdateEntity() failed: %v", err)
	}
	if updated.Status != record.EntityStatusInactive {
		t.Errorf("Status = %q, want inactive", updated.Status)
	}
}

// TestDeleteEntity_CascadesWithOneQueueEntry tests that deleting an entity
// removes its curations and writes exactly one delete operation
func TestDeleteEntity_CascadesWithOneQueueEntry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := st.CreateCuration(ctx, &record.Curation{
			EntityID:  e.ID,
			CuratorID: fmt.Sprintf("cru_%d", i),
		}); err != nil {
			t.Fatalf("CreateCuration() #%d failed: %v", i, err)
		}
	}

	if err := st.DeleteEntity(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEntity() failed: %v", err)
	}

	if _, err := st.GetEntity(ctx, e.ID); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("GetEntity() after delete = %v, want ErrNotFound", err)
	}
	curations, err := st.ListCurations(ctx, e.ID, "")
	if err != nil {
		t.Fatalf("ListCurations() failed: %v", err)
	}
	if len(curations) != 0 {
		t.Errorf("%d curations survived the cascade, want 0", len(curations))
	}

	// 1 entity create + 3 curation creates + 1 entity delete; the curation
	// rows ride along without their own delete entries
	ops := pendingOps(t, st)
	if len(ops) != 5 {
		t.Fatalf("queue has %d entries, want 5", len(ops))
	}
	deletes := 0
	for _, op := range ops {
		if op.Action == record.ActionDelete {
			deletes++
			if op.RecordType != record.RecordTypeEntity || op.LocalRecordID != e.ID {
				t.Errorf("delete entry = %s %s, want entity %s", op.RecordType, op.LocalRecordID, e.ID)
			}
		}
	}
	if deletes != 1 {
		t.Errorf("queue has %d delete entries, want exactly 1", deletes)
	}
}

// TestDeleteEntity_NotFound tests deleting a missing entity
func TestDeleteEntity_NotFound(t *testing.T) {
	st := openTestStore(t)
	err := st.DeleteEntity(context.Background(), "ent_missing")
	mustBe(t, err, record.ErrNotFound, "DeleteEntity")
}

// TestListEntities_Filters tests the filter combinations
func TestListEntities_Filters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mk := func(name string, typ record.EntityType, status record.EntityStatus, creator string) {
		t.Helper()
		if _, err := st.CreateEntity(ctx, &record.Entity{
			Name: name, Type: typ, Status: status, CreatedBy: creator,
		}); err != nil {
			t.Fatalf("CreateEntity(%s) failed: %v", name, err)
		}
	}
	mk("Harbor Grill", record.EntityTypeRestaurant, record.EntityStatusActive, "cru_a")
	mk("Dive Bar", record.EntityTypeBar, record.EntityStatusActive, "cru_a")
	mk("Closed Cafe", record.EntityTypeCafe, record.EntityStatusInactive, "cru_b")
	mk("Draft Spot", record.EntityTypeVenue, record.EntityStatusDraft, "cru_b")

	// Default listing excludes inactive
	got, err := st.ListEntities(ctx, EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities() failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("default listing has %d entities, want 3 (inactive excluded)", len(got))
	}

	// IncludeInactive brings everything back
	got, err = st.ListEntities(ctx, EntityFilter{IncludeInactive: true})
	if err != nil {
		t.Fatalf("ListEntities(IncludeInactive) failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("inclusive listing has %d entities, want 4", len(got))
	}

	// Explicit status reaches inactive directly
	got, err = st.ListEntities(ctx, EntityFilter{Status: record.EntityStatusInactive})
	if err != nil {
		t.Fatalf("ListEntities(Status) failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Closed Cafe" {
		t.Errorf("status filter = %d entities, want just Closed Cafe", len(got))
	}

	// Type and creator narrow
	got, err = st.ListEntities(ctx, EntityFilter{Type: record.EntityTypeBar})
	if err != nil {
		t.Fatalf("ListEntities(Type) failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Dive Bar" {
		t.Errorf("type filter = %d entities, want just Dive Bar", len(got))
	}
	got, err = st.ListEntities(ctx, EntityFilter{CreatedBy: "cru_a"})
	if err != nil {
		t.Fatalf("ListEntities(CreatedBy) failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("creator filter = %d entities, want 2", len(got))
	}

	// Limit caps the result
	got, err = st.ListEntities(ctx, EntityFilter{IncludeInactive: true, Limit: 2})
	if err != nil {
		t.Fatalf("ListEntities(Limit) failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("limited listing has %d entities, want 2", len(got))
	}
}

// TestListEntities_Pagination tests Limit and Offset combinations, including
// an offset with no limit
func TestListEntities_Pagination(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var names []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("Venue %03d", i)
		names = append(names, name)
		if _, err := st.CreateEntity(ctx, &record.Entity{Name: name, Type: record.EntityTypeVenue}); err != nil {
			t.Fatalf("CreateEntity(%s) failed: %v", name, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Offset alone skips from the front
	got, err := st.ListEntities(ctx, EntityFilter{Offset: 2})
	if err != nil {
		t.Fatalf("ListEntities(Offset) failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("offset listing has %d entities, want 3", len(got))
	}
	if got[0].Name != names[2] {
		t.Errorf("first offset result = %q, want %q", got[0].Name, names[2])
	}

	// Limit + Offset pages through the middle
	got, err = st.ListEntities(ctx, EntityFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListEntities(Limit+Offset) failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != names[1] || got[1].Name != names[2] {
		t.Errorf("page = %v, want [%s %s]", got, names[1], names[2])
	}

	// Offset past the end is empty, not an error
	got, err = st.ListEntities(ctx, EntityFilter{Offset: 10})
	if err != nil {
		t.Fatalf("ListEntities(Offset past end) failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("past-the-end listing has %d entities, want 0", len(got))
	}
}

// TestFindEntityByExternalID tests the exact-match dedup lookup
func TestFindEntityByExternalID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{
		Name: "Harbor Grill", Type: record.EntityTypeRestaurant, ExternalID: "osm:123",
	})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	got, err := st.FindEntityByExternalID(ctx, "osm:123")
	if err != nil {
		t.Fatalf("FindEntityByExternalID() failed: %v", err)
	}
	if got == nil || got.ID != e.ID {
		t.Errorf("FindEntityByExternalID() = %v, want %s", got, e.ID)
	}

	got, err = st.FindEntityByExternalID(ctx, "osm:999")
	if err != nil {
		t.Fatalf("FindEntityByExternalID(miss) failed: %v", err)
	}
	if got != nil {
		t.Errorf("FindEntityByExternalID(miss) = %v, want nil", got)
	}

	got, err = st.FindEntityByExternalID(ctx, "")
	if err != nil || got != nil {
		t.Errorf("FindEntityByExternalID(\"\") = %v, %v; want nil, nil", got, err)
	}
}

// TestBulkCreateEntities_AllOrNothing tests that one invalid item rejects the
// whole batch before anything is written
func TestBulkCreateEntities_AllOrNothing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	batch := make([]*record.Entity, 0, 50)
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("Venue %d", i)
		if i == 37 {
			name = "" // poison the batch
		}
		batch = append(batch, &record.Entity{Name: name, Type: record.EntityTypeVenue})
	}

	_, err := st.BulkCreateEntities(ctx, batch)
	mustBe(t, err, record.ErrValidation, "BulkCreateEntities")

	counts, err := st.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if counts.Entities != 0 || counts.PendingOps != 0 {
		t.Errorf("counts = %+v after rejected batch, want all zero", counts)
	}
}

// TestBulkCreateEntities_Success tests the happy path with queue entries
func TestBulkCreateEntities_Success(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	batch := []*record.Entity{
		{Name: "A", Type: record.EntityTypeBar},
		{Name: "B", Type: record.EntityTypeCafe},
		{Name: "C", Type: record.EntityTypeHotel},
	}
	ids, err := st.BulkCreateEntities(ctx, batch)
	if err != nil {
		t.Fatalf("BulkCreateEntities() failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	for _, id := range ids {
		if _, err := st.GetEntity(ctx, id); err != nil {
			t.Errorf("GetEntity(%s) failed: %v", id, err)
		}
	}
	if ops := pendingOps(t, st); len(ops) != 3 {
		t.Errorf("queue has %d entries, want 3", len(ops))
	}
}

// TestBulkUpdateEntities_SkipsMissing tests best-effort bulk updates
func TestBulkUpdateEntities_SkipsMissing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	updated, err := st.BulkUpdateEntities(ctx, []BulkUpdateItem{
		{ID: e.ID, Patch: EntityPatch{Name: ptr("Renamed")}},
		{ID: "ent_missing", Patch: EntityPatch{Name: ptr("Ghost")}},
	})
	if err != nil {
		t.Fatalf("BulkUpdateEntities() failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}

	got, err := st.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
}

// TestApplyRemoteEntity_NeverEnqueues tests that remote-applied rows arrive
// synced and write no queue entries
func TestApplyRemoteEntity_NeverEnqueues(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	remote := &record.Entity{
		ID: record.NewEntityID(), Name: "Remote Venue", Type: record.EntityTypeVenue,
		Status: record.EntityStatusActive, Version: 7, ChangeTag: record.NewChangeTag(),
	}
	remote.SetDefaults(remote.CreatedAt)
	if err := st.ApplyRemoteEntity(ctx, remote); err != nil {
		t.Fatalf("ApplyRemoteEntity() failed: %v", err)
	}

	got, err := st.GetEntity(ctx, remote.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.SyncStatus != record.SyncSynced {
		t.Errorf("SyncStatus = %q, want synced", got.SyncStatus)
	}
	if got.Version != 7 {
		t.Errorf("Version = %d, want remote's 7", got.Version)
	}
	if ops := pendingOps(t, st); len(ops) != 0 {
		t.Errorf("queue has %d entries after remote apply, want 0", len(ops))
	}
}

// TestMarkEntitySynced tests flipping a record without touching its version
func TestMarkEntitySynced(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	if err := st.MarkEntitySynced(ctx, e.ID); err != nil {
		t.Fatalf("MarkEntitySynced() failed: %v", err)
	}

	got, err := st.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.SyncStatus != record.SyncSynced {
		t.Errorf("SyncStatus = %q, want synced", got.SyncStatus)
	}
	if got.Version != e.Version || got.ChangeTag != e.ChangeTag {
		t.Error("MarkEntitySynced changed version or tag")
	}
}

// TestEntityMetadata_ProvenanceRoundtrip tests the ordered provenance trail
func TestEntityMetadata_ProvenanceRoundtrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{
		Name: "Harbor Grill", Type: record.EntityTypeRestaurant,
		Metadata: []record.Provenance{{Source: "osm", Note: "initial import"}},
	})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}

	updated, err := st.UpdateEntity(ctx, e.ID, EntityPatch{
		AddMetadata: []record.Provenance{{Source: "manual", Note: "verified on site"}},
	}, e.ChangeTag)
	if err != nil {
		t.Fatalf("UpdateEntity() failed: %v", err)
	}
	if len(updated.Metadata) != 2 {
		t.Fatalf("Metadata has %d records, want 2", len(updated.Metadata))
	}
	if updated.Metadata[0].Source != "osm" || updated.Metadata[1].Source != "manual" {
		t.Errorf("provenance order = %s,%s; want osm,manual",
			updated.Metadata[0].Source, updated.Metadata[1].Source)
	}
}
