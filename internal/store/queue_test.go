package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/placekeep/placekeep/internal/record"
)

// TestQueue_FIFOOrder tests that pending operations come back in insertion order
func TestQueue_FIFOOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e, err := st.CreateEntity(ctx, &record.Entity{
			Name: fmt.Sprintf("Venue %d", i), Type: record.EntityTypeVenue,
		})
		if err != nil {
			t.Fatalf("CreateEntity() #%d failed: %v", i, err)
		}
		ids = append(ids, e.ID)
	}
	// Interleave an update of the first entity; it must come after all creates
	if _, err := st.UpdateEntity(ctx, ids[0], EntityPatch{Name: ptr("Venue 0 v2")}, ""); err != nil {
		t.Fatalf("UpdateEntity() failed: %v", err)
	}

	ops := pendingOps(t, st)
	if len(ops) != 4 {
		t.Fatalf("queue has %d entries, want 4", len(ops))
	}
	var lastSeq int64
	for i, op := range ops {
		if op.Seq <= lastSeq {
			t.Errorf("entry %d: seq %d not increasing past %d", i, op.Seq, lastSeq)
		}
		lastSeq = op.Seq
	}
	for i := 0; i < 3; i++ {
		if ops[i].LocalRecordID != ids[i] || ops[i].Action != record.ActionCreate {
			t.Errorf("entry %d = %s %s, want create %s", i, ops[i].Action, ops[i].LocalRecordID, ids[i])
		}
	}
	if ops[3].Action != record.ActionUpdate || ops[3].LocalRecordID != ids[0] {
		t.Errorf("entry 3 = %s %s, want update %s", ops[3].Action, ops[3].LocalRecordID, ids[0])
	}
}

// TestMarkOpFailed_StaysPending tests retry accounting: a failed entry keeps
// its place in the queue
func TestMarkOpFailed_StaysPending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	_ = e

	ops := pendingOps(t, st)
	if len(ops) != 1 {
		t.Fatalf("queue has %d entries, want 1", len(ops))
	}

	cause := fmt.Errorf("remote unreachable")
	if err := st.MarkOpFailed(ctx, ops[0].ID, cause); err != nil {
		t.Fatalf("MarkOpFailed() failed: %v", err)
	}
	if err := st.MarkOpFailed(ctx, ops[0].ID, cause); err != nil {
		t.Fatalf("Second MarkOpFailed() failed: %v", err)
	}

	after := pendingOps(t, st)
	if len(after) != 1 {
		t.Fatalf("entry left the pending queue after failures")
	}
	if after[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", after[0].RetryCount)
	}
	if after[0].LastError != "remote unreachable" {
		t.Errorf("LastError = %q, want remote unreachable", after[0].LastError)
	}
}

// TestRemoveOp tests removal and the missing-id error
func TestRemoveOp(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	ops := pendingOps(t, st)
	if err := st.RemoveOp(ctx, ops[0].ID); err != nil {
		t.Fatalf("RemoveOp() failed: %v", err)
	}
	if got := pendingOps(t, st); len(got) != 0 {
		t.Errorf("queue has %d entries after remove, want 0", len(got))
	}

	err := st.RemoveOp(ctx, "opq_missing")
	mustBe(t, err, record.ErrNotFound, "RemoveOp(missing)")
}

// TestGetOp_RoundTrip tests single-entry retrieval
func TestGetOp_RoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	e, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	ops := pendingOps(t, st)

	got, err := st.GetOp(ctx, ops[0].ID)
	if err != nil {
		t.Fatalf("GetOp() failed: %v", err)
	}
	if got.LocalRecordID != e.ID || got.Action != record.ActionCreate {
		t.Errorf("GetOp() = %s %s, want create %s", got.Action, got.LocalRecordID, e.ID)
	}

	_, err = st.GetOp(ctx, "opq_missing")
	mustBe(t, err, record.ErrNotFound, "GetOp(missing)")
}

// TestSetOpRemoteKey tests recording the remote's key on an entry
func TestSetOpRemoteKey(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateEntity(ctx, &record.Entity{Name: "Harbor Grill", Type: record.EntityTypeRestaurant}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	ops := pendingOps(t, st)
	if err := st.SetOpRemoteKey(ctx, ops[0].ID, "srv-42"); err != nil {
		t.Fatalf("SetOpRemoteKey() failed: %v", err)
	}

	got, err := st.GetOp(ctx, ops[0].ID)
	if err != nil {
		t.Fatalf("GetOp() failed: %v", err)
	}
	if got.RemoteKey != "srv-42" {
		t.Errorf("RemoteKey = %q, want srv-42", got.RemoteKey)
	}
}
