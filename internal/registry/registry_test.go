package registry

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tycoon/internal/ledger"
	"tycoon/internal/model"
	"tycoon/internal/store"
)

func newTestService(t *testing.T) (*Service, *ledger.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	led := ledger.NewService(st, nil)
	return NewService(st, led, nil), led, st
}

func TestRegisterPlayerSeedsStarterDeposit(t *testing.T) {
	svc, led, st := newTestService(t)
	ctx := context.Background()

	a, err := svc.RegisterPlayer(ctx, "u1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Kind != model.AccountPersonal {
		t.Fatalf("kind = %s, want personal", a.Kind)
	}

	cached, err := led.GetBalance(ctx, a.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !cached.Equal(StarterDeposit) {
		t.Fatalf("balance = %s, want %s", cached, StarterDeposit)
	}
	derived, err := led.LedgerBalance(ctx, a.ID)
	if err != nil {
		t.Fatalf("ledger balance: %v", err)
	}
	if !derived.Equal(StarterDeposit) {
		t.Fatalf("ledger-derived = %s, want %s", derived, StarterDeposit)
	}

	entries, _ := st.LedgerEntriesByAccount(ctx, a.ID)
	if len(entries) != 1 || entries[0].Type != model.TxInitialDeposit {
		t.Fatalf("entries = %+v, want one initial deposit", entries)
	}
	if entries[0].FromAccountID != model.SystemAccountID {
		t.Fatalf("deposit source = %q, want system", entries[0].FromAccountID)
	}
}

func TestRegisterPlayerIdempotent(t *testing.T) {
	svc, led, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.RegisterPlayer(ctx, "u1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := svc.RegisterPlayer(ctx, "u1")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-register created a new account: %s vs %s", second.ID, first.ID)
	}
	bal, _ := led.GetBalance(ctx, first.ID)
	if !bal.Equal(StarterDeposit) {
		t.Fatalf("re-register changed balance: %s", bal)
	}
}

func TestRegisterPlayerRejectsBlankID(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.RegisterPlayer(context.Background(), "   "); err == nil {
		t.Fatal("expected blank user id to be rejected")
	}
}

func TestFoundCompanyStartsPrivateAndEmpty(t *testing.T) {
	svc, led, st := newTestService(t)
	ctx := context.Background()

	c, err := svc.FoundCompany(ctx, "u1", "Acme")
	if err != nil {
		t.Fatalf("found company: %v", err)
	}
	if c.Public {
		t.Fatal("new company is public")
	}
	if c.TotalShares != DefaultTotalShares {
		t.Fatalf("total shares = %d, want %d", c.TotalShares, DefaultTotalShares)
	}

	bal, err := led.GetBalance(ctx, c.AccountID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.IsZero() {
		t.Fatalf("company account seeded with %s, want 0", bal)
	}
	a, err := st.GetAccount(ctx, c.AccountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if a.Kind != model.AccountCompany || a.CompanyID != c.ID {
		t.Fatalf("backing account = %+v", a)
	}
}

func TestFoundCompanyValidatesName(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.FoundCompany(ctx, "u1", ""); err == nil {
		t.Fatal("expected empty name to be rejected")
	}
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := svc.FoundCompany(ctx, "u1", string(long)); err == nil {
		t.Fatal("expected overlong name to be rejected")
	}
}

func TestAddProductOwnershipAndValidation(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	c, err := svc.FoundCompany(ctx, "u1", "Acme")
	if err != nil {
		t.Fatalf("found company: %v", err)
	}

	if _, err := svc.AddProduct(ctx, "intruder", c.ID, "gadget", decimal.NewFromInt(10)); err != model.ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.AddProduct(ctx, "u1", c.ID, "gadget", decimal.Zero); err == nil {
		t.Fatal("expected non-positive price to be rejected")
	}
	if _, err := svc.AddProduct(ctx, "u1", c.ID, "  ", decimal.NewFromInt(10)); err == nil {
		t.Fatal("expected blank name to be rejected")
	}

	p, err := svc.AddProduct(ctx, "u1", c.ID, "gadget", decimal.NewFromFloat(19.99))
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	if !p.Active {
		t.Fatal("new product is inactive")
	}
	listed, err := st.ListActiveProductsByCompany(ctx, c.ID)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != p.ID {
		t.Fatalf("listed = %+v", listed)
	}
}
