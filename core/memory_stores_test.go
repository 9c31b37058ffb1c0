package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryVerificationStore_VersionCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVerificationStore()
	now := time.Now().UTC()

	v := &Verification{
		UserID:    "usr_1",
		Status:    VerificationStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(ctx, v); err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.ID == "" || v.Version != 1 {
		t.Fatalf("expected assigned id and version=1, got id=%q version=%d", v.ID, v.Version)
	}

	first, err := store.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second := first

	first.Status = VerificationStatusReservingCredit
	if err := store.Update(ctx, &first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", first.Version)
	}

	second.Status = VerificationStatusCancelled
	if err := store.Update(ctx, &second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict for stale writer, got %v", err)
	}

	stored, _ := store.Get(ctx, v.ID)
	if stored.Status != VerificationStatusReservingCredit {
		t.Fatalf("expected first writer to win, got %s", stored.Status)
	}
}

func TestMemoryVerificationStore_ProviderRefLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVerificationStore()

	v := &Verification{UserID: "usr_1", Status: VerificationStatusCreated}
	if err := store.Create(ctx, v); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The provider reference lands after acquisition; Update indexes it.
	loaded, _ := store.Get(ctx, v.ID)
	loaded.ProviderID = "smshub"
	loaded.ProviderVerificationID = "act-100"
	if err := store.Update(ctx, &loaded); err != nil {
		t.Fatalf("update: %v", err)
	}

	byRef, err := store.GetByProviderRef(ctx, "smshub", "act-100")
	if err != nil {
		t.Fatalf("get by ref: %v", err)
	}
	if byRef.ID != v.ID {
		t.Fatalf("expected ref lookup to hit %s, got %s", v.ID, byRef.ID)
	}

	if _, err := store.GetByProviderRef(ctx, "smshub", "missing"); !errors.Is(err, ErrVerificationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryVerificationStore_ListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVerificationStore()
	now := time.Now().UTC()

	expired := &Verification{
		UserID:    "usr_1",
		Status:    VerificationStatusAwaitingSMS,
		ExpiresAt: now.Add(-time.Minute),
	}
	live := &Verification{
		UserID:    "usr_2",
		Status:    VerificationStatusAwaitingSMS,
		ExpiresAt: now.Add(time.Minute),
	}
	terminal := &Verification{
		UserID:    "usr_3",
		Status:    VerificationStatusCompleted,
		ExpiresAt: now.Add(-time.Minute),
	}
	for _, v := range []*Verification{expired, live, terminal} {
		if err := store.Create(ctx, v); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	stale, err := store.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != expired.ID {
		t.Fatalf("expected only the expired awaiting row, got %+v", stale)
	}
}

func TestMemoryLedger_ReserveCommitReleaseExactlyOnce(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.Credit("usr_1", 100)

	if _, err := ledger.Reserve(ctx, "usr_1", 200); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	reservationID, err := ledger.Reserve(ctx, "usr_1", 60)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if balance, _ := ledger.Balance(ctx, "usr_1"); balance != 40 {
		t.Fatalf("expected hold to deduct immediately, got %d", balance)
	}

	if err := ledger.Commit(ctx, reservationID, 45); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if balance, _ := ledger.Balance(ctx, "usr_1"); balance != 55 {
		t.Fatalf("expected unspent hold refund, got %d", balance)
	}

	// The reservation has settled; a second settlement must refuse.
	if err := ledger.Commit(ctx, reservationID, 45); err == nil {
		t.Fatalf("expected double commit to fail")
	}
	if err := ledger.Release(ctx, reservationID); err == nil {
		t.Fatalf("expected release after commit to fail")
	}

	releaseID, err := ledger.Reserve(ctx, "usr_1", 30)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if err := ledger.Release(ctx, releaseID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if balance, _ := ledger.Balance(ctx, "usr_1"); balance != 55 {
		t.Fatalf("expected full refund on release, got %d", balance)
	}
}

func TestMemoryLedger_CommitBounds(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.Credit("usr_1", 100)

	reservationID, err := ledger.Reserve(ctx, "usr_1", 50)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.Commit(ctx, reservationID, 60); err == nil {
		t.Fatalf("expected commit above hold to fail")
	}
	if err := ledger.Commit(ctx, reservationID, -1); err == nil {
		t.Fatalf("expected negative commit to fail")
	}
	if err := ledger.Commit(ctx, reservationID, 0); err != nil {
		t.Fatalf("expected zero commit to refund the full hold: %v", err)
	}
	if balance, _ := ledger.Balance(ctx, "usr_1"); balance != 100 {
		t.Fatalf("expected full refund, got %d", balance)
	}
}

func TestCollectingEmitter_RecordsEvents(t *testing.T) {
	emitter := NewCollectingEmitter()
	emitter.Emit(context.Background(), EventVerificationCompleted, "ver_1", map[string]any{"sms_code": "482913"})

	events := emitter.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != EventVerificationCompleted || events[0].VerificationID != "ver_1" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if events[0].Payload["sms_code"] != "482913" {
		t.Fatalf("expected payload passthrough, got %+v", events[0].Payload)
	}
}
