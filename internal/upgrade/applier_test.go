package upgrade

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tycoon/internal/ledger"
	"tycoon/internal/model"
	"tycoon/internal/store"
)

type fixture struct {
	store   *store.MemoryStore
	ledger  *ledger.Service
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	led := ledger.NewService(st, nil)
	if err := SeedCatalog(context.Background(), st); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return &fixture{store: st, ledger: led, service: NewService(st, led, nil)}
}

func (f *fixture) seedUser(t *testing.T, userID string, balance int64) string {
	t.Helper()
	ctx := context.Background()
	accountID := uuid.NewString()
	err := f.store.CreateAccount(ctx, &model.Account{
		ID:        accountID,
		OwnerID:   userID,
		Kind:      model.AccountPersonal,
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := f.store.InitializeBalance(ctx, accountID, decimal.NewFromInt(balance)); err != nil {
		t.Fatalf("initialize balance: %v", err)
	}
	return accountID
}

func (f *fixture) seedCompany(t *testing.T, owner string, public bool, sharePrice decimal.Decimal) *model.Company {
	t.Helper()
	c := &model.Company{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		AccountID:   uuid.NewString(),
		Name:        "co-" + owner,
		Public:      public,
		SharePrice:  sharePrice,
		TotalShares: 1000,
		CreatedAt:   time.Now(),
	}
	if err := f.store.CreateCompany(context.Background(), c); err != nil {
		t.Fatalf("create company: %v", err)
	}
	return c
}

func (f *fixture) seedProduct(t *testing.T, companyID string, revenue int64, active bool) *model.Product {
	t.Helper()
	p := &model.Product{
		ID:           uuid.NewString(),
		CompanyID:    companyID,
		Name:         "widget",
		Price:        decimal.NewFromInt(10),
		Active:       active,
		TotalRevenue: decimal.NewFromInt(revenue),
		TotalCost:    decimal.Zero,
		CreatedAt:    time.Now(),
	}
	if err := f.store.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func TestPurchaseDebitsBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedUser(t, "u1", 10_000)

	uu, err := f.service.Purchase(ctx, "u1", "marketing-blitz")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if uu.Used {
		t.Fatal("fresh purchase already marked used")
	}

	bal, err := f.ledger.GetBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.Equal(decimal.NewFromInt(7_500)) {
		t.Fatalf("balance = %s, want 7500", bal)
	}
	entries, err := f.store.LedgerEntriesByAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("ledger entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != model.TxExpense {
		t.Fatalf("entries = %+v, want one expense entry", entries)
	}
	if entries[0].ToAccountID != model.SystemAccountID {
		t.Fatalf("expense counterparty = %q, want system", entries[0].ToAccountID)
	}
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	accountID := f.seedUser(t, "u1", 100)

	if _, err := f.service.Purchase(context.Background(), "u1", "marketing-blitz"); err != model.ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	bal, _ := f.ledger.GetBalance(context.Background(), accountID)
	if !bal.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("failed purchase moved money: balance = %s", bal)
	}
}

func TestRevenueBoostAppliesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", 10_000)
	co := f.seedCompany(t, "u1", false, decimal.Zero)
	active := f.seedProduct(t, co.ID, 1_000, true)
	inactive := f.seedProduct(t, co.ID, 500, false)
	zero := f.seedProduct(t, co.ID, 0, true)

	uu, err := f.service.Purchase(ctx, "u1", "marketing-blitz")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	result, err := f.service.Use(ctx, "u1", uu.ID, co.ID)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if result.Kind != model.UpgradeRevenueBoost {
		t.Fatalf("kind = %s", result.Kind)
	}
	if !result.Applied.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("applied = %s, want 100", result.Applied)
	}

	got, _ := f.store.GetProduct(ctx, active.ID)
	if !got.TotalRevenue.Equal(decimal.NewFromInt(1_100)) {
		t.Fatalf("boosted revenue = %s, want 1100", got.TotalRevenue)
	}
	got, _ = f.store.GetProduct(ctx, inactive.ID)
	if !got.TotalRevenue.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("inactive product touched: revenue = %s", got.TotalRevenue)
	}
	got, _ = f.store.GetProduct(ctx, zero.ID)
	if !got.TotalRevenue.IsZero() {
		t.Fatalf("zero-revenue product touched: revenue = %s", got.TotalRevenue)
	}

	record, _ := f.store.GetUserUpgrade(ctx, uu.ID)
	if !record.Used || record.TargetCompanyID != co.ID || !record.AppliedAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("claim record = %+v", record)
	}
	if record.UsedAt == nil {
		t.Fatal("claim timestamp missing")
	}

	if _, err := f.service.Use(ctx, "u1", uu.ID, co.ID); err != model.ErrUpgradeUsed {
		t.Fatalf("second use err = %v, want ErrUpgradeUsed", err)
	}
	got, _ = f.store.GetProduct(ctx, active.ID)
	if !got.TotalRevenue.Equal(decimal.NewFromInt(1_100)) {
		t.Fatalf("second use re-applied boost: revenue = %s", got.TotalRevenue)
	}
}

func TestUseRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", 10_000)
	co := f.seedCompany(t, "u1", false, decimal.Zero)

	uu, err := f.service.Purchase(ctx, "u1", "marketing-blitz")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := f.service.Use(ctx, "someone-else", uu.ID, co.ID); err != model.ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSharePriceEffectRequiresPublicCompany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", 10_000)
	private := f.seedCompany(t, "u2", false, decimal.NewFromInt(100))

	uu, err := f.service.Purchase(ctx, "u1", "hype-campaign")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := f.service.Use(ctx, "u1", uu.ID, private.ID); err != model.ErrCompanyNotPublic {
		t.Fatalf("err = %v, want ErrCompanyNotPublic", err)
	}

	// A rejected use must not burn the record.
	record, _ := f.store.GetUserUpgrade(ctx, uu.ID)
	if record.Used {
		t.Fatal("rejected use consumed the upgrade")
	}

	if err := f.store.SetCompanyPublic(ctx, private.ID); err != nil {
		t.Fatalf("set public: %v", err)
	}
	if _, err := f.service.Use(ctx, "u1", uu.ID, private.ID); err != nil {
		t.Fatalf("use after listing: %v", err)
	}
}

func TestStockBoostMovesPriceAndRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", 10_000)
	co := f.seedCompany(t, "u2", true, decimal.NewFromInt(100))

	uu, err := f.service.Purchase(ctx, "u1", "hype-campaign")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	result, err := f.service.Use(ctx, "u1", uu.ID, co.ID)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if !result.NewSharePrice.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("new price = %s, want 105", result.NewSharePrice)
	}
	if !result.Applied.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("applied = %s, want 5", result.Applied)
	}

	got, _ := f.store.GetCompany(ctx, co.ID)
	if !got.SharePrice.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("stored price = %s, want 105", got.SharePrice)
	}
	points, err := f.store.ListPricePoints(ctx, co.ID, 10)
	if err != nil {
		t.Fatalf("list price points: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("price points = %d, want 1", len(points))
	}
	if !points[0].MarketCap.Equal(decimal.NewFromInt(105_000)) {
		t.Fatalf("market cap = %s, want 105000", points[0].MarketCap)
	}
	if points[0].Volume != 0 {
		t.Fatalf("volume = %d, want 0", points[0].Volume)
	}
}

func TestStockLowerClampsAtFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "u1", 10_000)
	co := f.seedCompany(t, "u2", true, MinSharePrice)

	uu, err := f.service.Purchase(ctx, "u1", "smear-piece")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	result, err := f.service.Use(ctx, "u1", uu.ID, co.ID)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if !result.NewSharePrice.Equal(MinSharePrice) {
		t.Fatalf("new price = %s, want floor %s", result.NewSharePrice, MinSharePrice)
	}
	if !result.Applied.IsZero() {
		t.Fatalf("applied = %s, want 0 at the floor", result.Applied)
	}
	got, _ := f.store.GetCompany(ctx, co.ID)
	if !got.SharePrice.Equal(MinSharePrice) {
		t.Fatalf("stored price = %s, want floor", got.SharePrice)
	}
}
