package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tycoon/internal/model"
	"tycoon/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewService(st, nil), st
}

func mustAccount(t *testing.T, st *store.MemoryStore, id, owner string) {
	t.Helper()
	err := st.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		OwnerID:   owner,
		Kind:      model.AccountPersonal,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func assertDualWrite(t *testing.T, st *store.MemoryStore, accountID string) {
	t.Helper()
	ctx := context.Background()
	a, err := st.GetAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	b, err := st.GetBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !a.Balance.Equal(b.Amount) {
		t.Fatalf("dual-write invariant broken: account=%s balance=%s", a.Balance, b.Amount)
	}
}

func TestApplyDeltaSeedsAndAdds(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	mustAccount(t, st, "acc-1", "u1")

	got, err := svc.ApplyDelta(ctx, "acc-1", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("seeded balance = %s, want 100", got)
	}

	got, err = svc.ApplyDelta(ctx, "acc-1", decimal.NewFromInt(-30))
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("balance = %s, want 70", got)
	}
	assertDualWrite(t, st, "acc-1")
}

func TestInitializeBalanceOnce(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	mustAccount(t, st, "acc-1", "u1")

	if err := svc.InitializeBalance(ctx, "acc-1", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := svc.InitializeBalance(ctx, "acc-1", decimal.NewFromInt(99)); err != model.ErrBalanceExists {
		t.Fatalf("second initialize err = %v, want ErrBalanceExists", err)
	}
	got, err := svc.GetBalance(ctx, "acc-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance = %s, want 50", got)
	}
	assertDualWrite(t, st, "acc-1")
}

func TestTransferZeroSumAndLedgerFidelity(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	mustAccount(t, st, "a", "u1")
	mustAccount(t, st, "b", "u2")

	for _, id := range []string{"a", "b"} {
		if err := svc.InitializeBalance(ctx, id, decimal.NewFromInt(100)); err != nil {
			t.Fatalf("initialize %s: %v", id, err)
		}
		if _, err := svc.RecordTransfer(ctx, model.SystemAccountID, id, decimal.NewFromInt(100), model.TxInitialDeposit, TransferMeta{}); err != nil {
			t.Fatalf("deposit entry %s: %v", id, err)
		}
	}

	if _, err := svc.Transfer(ctx, "a", "b", decimal.NewFromInt(40), model.TxTransfer); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	balA, _ := svc.GetBalance(ctx, "a")
	balB, _ := svc.GetBalance(ctx, "b")
	if !balA.Equal(decimal.NewFromInt(60)) || !balB.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("balances = %s/%s, want 60/140", balA, balB)
	}
	if !balA.Add(balB).Equal(decimal.NewFromInt(200)) {
		t.Fatalf("transfer created or destroyed money: total = %s", balA.Add(balB))
	}

	for _, id := range []string{"a", "b"} {
		derived, err := svc.LedgerBalance(ctx, id)
		if err != nil {
			t.Fatalf("ledger balance %s: %v", id, err)
		}
		cached, _ := svc.GetBalance(ctx, id)
		if !derived.Equal(cached) {
			t.Fatalf("account %s: ledger-derived %s != cached %s", id, derived, cached)
		}
		assertDualWrite(t, st, id)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	mustAccount(t, st, "a", "u1")
	mustAccount(t, st, "b", "u2")
	if err := svc.InitializeBalance(ctx, "a", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := svc.Transfer(ctx, "a", "b", decimal.NewFromInt(25), model.TxTransfer); err != model.ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	bal, _ := svc.GetBalance(ctx, "a")
	if !bal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("failed transfer moved money: balance = %s", bal)
	}
	entries, _ := st.LedgerEntriesByAccount(ctx, "a")
	if len(entries) != 0 {
		t.Fatalf("failed transfer appended %d ledger entries", len(entries))
	}
}

func TestTransferRejectsUnknownDestination(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	mustAccount(t, st, "a", "u1")
	if err := svc.InitializeBalance(ctx, "a", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := svc.Transfer(ctx, "a", "ghost", decimal.NewFromInt(40), model.TxTransfer); err != model.ErrAccountNotFound {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}

	// The source must be untouched and no balance row may exist for an
	// account that was never created.
	bal, _ := svc.GetBalance(ctx, "a")
	if !bal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("rejected transfer debited source: balance = %s", bal)
	}
	if _, err := st.GetBalance(ctx, "ghost"); err != model.ErrBalanceNotFound {
		t.Fatalf("orphan balance row created: err = %v", err)
	}
	entries, _ := st.LedgerEntriesByAccount(ctx, "a")
	if len(entries) != 0 {
		t.Fatalf("rejected transfer appended %d ledger entries", len(entries))
	}
}

func TestRecordTransferRejectsNegative(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.RecordTransfer(context.Background(), "a", "b", decimal.NewFromInt(-5), model.TxTransfer, TransferMeta{}); err == nil {
		t.Fatal("expected negative amount to be rejected")
	}
}

func TestRecordTransferDefaultsBatchCount(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if _, err := svc.RecordTransfer(ctx, model.SystemAccountID, "a", decimal.NewFromInt(5), model.TxTransfer, TransferMeta{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, _ := st.LedgerEntriesByAccount(ctx, "a")
	if len(entries) != 1 || entries[0].BatchCount != 1 {
		t.Fatalf("entries = %+v, want one entry with batch count 1", entries)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	mustAccount(t, st, "a", "u1")

	if err := svc.InitializeBalance(ctx, "a", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.RecordTransfer(ctx, model.SystemAccountID, "a", decimal.NewFromInt(100), model.TxInitialDeposit, TransferMeta{}); err != nil {
		t.Fatalf("deposit entry: %v", err)
	}

	// Introduce drift: a cached delta with no matching ledger entry.
	if _, err := svc.ApplyDelta(ctx, "a", decimal.NewFromInt(33)); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	drift, err := svc.Reconcile(ctx, "a")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !drift.Equal(decimal.NewFromInt(-33)) {
		t.Fatalf("drift = %s, want -33", drift)
	}
	cached, _ := svc.GetBalance(ctx, "a")
	derived, _ := svc.LedgerBalance(ctx, "a")
	if !cached.Equal(derived) {
		t.Fatalf("after reconcile cached %s != derived %s", cached, derived)
	}
	assertDualWrite(t, st, "a")

	drift, err = svc.Reconcile(ctx, "a")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if !drift.IsZero() {
		t.Fatalf("second reconcile drift = %s, want 0", drift)
	}
}
