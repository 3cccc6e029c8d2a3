package offlinequeue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testPayload = json.RawMessage(`{"outlet_id":10,"total":"50000","payments":[{"method":"cash","amount":"50000"}]}`)

func TestEnqueue_AssignsStableIdempotencyKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first.IdempotencyKey == "" {
		t.Fatal("idempotency key must be assigned at enqueue")
	}
	if first.Status != StatusPending {
		t.Fatalf("fresh entry status: %s", first.Status)
	}

	second, err := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if second.IdempotencyKey == first.IdempotencyKey {
		t.Fatal("each entry gets its own key")
	}

	// The key survives the round trip through the database unchanged.
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if entries[0].IdempotencyKey != first.IdempotencyKey {
		t.Errorf("persisted key differs: %q vs %q", entries[0].IdempotencyKey, first.IdempotencyKey)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entry, err := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].IdempotencyKey != entry.IdempotencyKey {
		t.Fatalf("entry must survive restart: %+v", entries)
	}
}

func TestLeaseNext_FifoAndAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	second, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)

	leased, err := s.LeaseNext(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased == nil || leased.ID != first.ID {
		t.Fatalf("oldest entry first: got %+v", leased)
	}
	if leased.Status != StatusSyncing {
		t.Fatalf("leased entry status: %s", leased.Status)
	}

	// The leased entry cannot be leased again; the next lease yields the
	// second entry.
	next, err := s.LeaseNext(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("want entry %d, got %+v", second.ID, next)
	}

	third, err := s.LeaseNext(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("third lease: %v", err)
	}
	if third != nil {
		t.Fatalf("queue drained, got %+v", third)
	}
}

func TestLeaseNext_RespectsBackoffSchedule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	leased, _ := s.LeaseNext(ctx, now.Add(time.Second))
	if leased == nil {
		t.Fatal("lease expected")
	}
	if err := s.MarkRetry(ctx, entry.ID, 1, "503", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("mark retry: %v", err)
	}

	if got, _ := s.LeaseNext(ctx, now.Add(time.Minute)); got != nil {
		t.Fatalf("entry not due yet, got %+v", got)
	}
	got, err := s.LeaseNext(ctx, now.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("lease after backoff: %v", err)
	}
	if got == nil || got.ID != entry.ID || got.Attempts != 1 {
		t.Fatalf("due entry with attempt count: %+v", got)
	}
}

func TestRemove_PendingEntryDeletedImmediately(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if err := s.Remove(ctx, entry.ID); err != nil {
		t.Fatalf("remove pending: %v", err)
	}
	if entries, _ := s.List(ctx); len(entries) != 0 {
		t.Fatal("pending entry must be removable")
	}

	// Removing an entry that no longer exists is a no-op.
	if err := s.Remove(ctx, entry.ID); err != nil {
		t.Fatalf("remove of unknown entry: %v", err)
	}
}

// A removal of a mid-sync entry is deferred: the entry survives until the
// in-flight attempt resolves, then disappears instead of being retried.
func TestRemove_InFlightEntryDeferredUntilAttemptResolves(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if leased, _ := s.LeaseNext(ctx, now.Add(time.Second)); leased == nil {
		t.Fatal("lease expected")
	}
	if err := s.Remove(ctx, entry.ID); err != nil {
		t.Fatalf("remove in-flight: %v", err)
	}
	if entries, _ := s.List(ctx); len(entries) != 1 {
		t.Fatal("in-flight entry must survive until the attempt resolves")
	}

	if err := s.MarkRetry(ctx, entry.ID, 1, "503", now.Add(time.Minute)); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	if entries, _ := s.List(ctx); len(entries) != 0 {
		t.Fatal("flagged entry must be dropped when the attempt resolves")
	}
	if got, _ := s.LeaseNext(ctx, now.Add(time.Hour)); got != nil {
		t.Fatalf("removed entry leased again: %+v", got)
	}
}

func TestRemove_DeferredHonoredOnPermanentFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if leased, _ := s.LeaseNext(ctx, now.Add(time.Second)); leased == nil {
		t.Fatal("lease expected")
	}
	if err := s.Remove(ctx, entry.ID); err != nil {
		t.Fatalf("remove in-flight: %v", err)
	}
	if err := s.MarkPermanentlyFailed(ctx, entry.ID, 5, "unknown outlet"); err != nil {
		t.Fatalf("mark permanently failed: %v", err)
	}
	if entries, _ := s.List(ctx); len(entries) != 0 {
		t.Fatal("flagged entry must not land in permanently_failed")
	}
}

func TestMarkSynced_Deletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if leased, _ := s.LeaseNext(ctx, now.Add(time.Second)); leased == nil {
		t.Fatal("lease expected")
	}
	if err := s.MarkSynced(ctx, entry.ID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if entries, _ := s.List(ctx); len(entries) != 0 {
		t.Fatal("synced entry must be gone")
	}
}

func TestCountsAndPermanentFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = s.Enqueue(ctx, "biz-1", 1, testPayload)
	failed, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if leased, _ := s.LeaseNext(ctx, now.Add(time.Second)); leased == nil {
		t.Fatal("lease expected")
	}
	if err := s.MarkPermanentlyFailed(ctx, failed.ID, 5, "unknown outlet"); err != nil {
		t.Fatalf("mark permanently failed: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Syncing != 1 || counts.PermanentlyFailed != 1 {
		t.Fatalf("counts: %+v", counts)
	}

	// Terminal entries never come due again.
	if got, _ := s.LeaseNext(ctx, now.Add(time.Hour)); got != nil {
		t.Fatalf("permanently failed entry leased: %+v", got)
	}
}

func TestRequeueStuckSyncing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	if leased, _ := s.LeaseNext(ctx, now.Add(time.Second)); leased == nil {
		t.Fatal("lease expected")
	}

	// Simulated crash mid-pass: the row is stuck in syncing.
	n, err := s.RequeueStuckSyncing(ctx)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 requeued, got %d", n)
	}

	got, err := s.LeaseNext(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("lease after requeue: %v", err)
	}
	if got == nil || got.ID != entry.ID {
		t.Fatalf("requeued entry must be leasable again: %+v", got)
	}
	if got.IdempotencyKey != entry.IdempotencyKey {
		t.Fatal("requeue must not touch the idempotency key")
	}
}

// A crash can leave behind a syncing entry whose removal was already
// requested; startup recovery drops it instead of resurrecting it.
func TestRequeueStuckSyncing_DropsFlaggedEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	keep, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	drop, _ := s.Enqueue(ctx, "biz-1", 1, testPayload)
	for i := 0; i < 2; i++ {
		if leased, _ := s.LeaseNext(ctx, now.Add(time.Second)); leased == nil {
			t.Fatal("lease expected")
		}
	}
	if err := s.Remove(ctx, drop.ID); err != nil {
		t.Fatalf("remove in-flight: %v", err)
	}

	n, err := s.RequeueStuckSyncing(ctx)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 requeued, got %d", n)
	}
	entries, _ := s.List(ctx)
	if len(entries) != 1 || entries[0].ID != keep.ID || entries[0].Status != StatusPending {
		t.Fatalf("only the unflagged entry must survive as pending: %+v", entries)
	}
}
