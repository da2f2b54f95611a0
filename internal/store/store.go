// Package store defines the persistence interface for the economy engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"tycoon/internal/model"
)

// Store is the persistence interface. The dual balance cache (Account.Balance
// plus the Balance row) is only ever written through ApplyBalanceDelta,
// InitializeBalance and SetBalance, each of which updates both copies in one
// logical step.
type Store interface {
	// --- Account registry ---

	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountsByOwner returns every account owned by one identity.
	GetAccountsByOwner(ctx context.Context, ownerID string) ([]model.Account, error)

	// --- Balance cache ---

	// GetBalance reads the materialized Balance row. It never replays the
	// ledger.
	GetBalance(ctx context.Context, accountID string) (*model.Balance, error)

	// InitializeBalance seeds a newly created account. Fails with
	// model.ErrBalanceExists if a Balance row already exists.
	InitializeBalance(ctx context.Context, accountID string, amount decimal.Decimal) error

	// ApplyBalanceDelta adds a signed delta to the account's balance,
	// creating the Balance row seeded at delta if missing, and patches the
	// Account's cached copy in the same step. Returns the new balance.
	ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)

	// SetBalance overwrites both balance copies. Administrative repair only.
	SetBalance(ctx context.Context, accountID string, amount decimal.Decimal) error

	// --- Immutable ledger ---

	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	LedgerEntriesByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error)

	// --- Companies ---

	CreateCompany(ctx context.Context, c *model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)

	// GetCompaniesByIDs is the settlement engine's batched pre-fetch: one
	// round-trip for every company touched this tick.
	GetCompaniesByIDs(ctx context.Context, ids []string) (map[string]*model.Company, error)

	SetCompanyPublic(ctx context.Context, id string) error
	SetCompanySharePrice(ctx context.Context, id string, price decimal.Decimal) error

	// --- Products ---

	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListActiveProducts(ctx context.Context) ([]model.Product, error)
	ListActiveProductsByCompany(ctx context.Context, companyID string) ([]model.Product, error)

	// AddProductSales patches the three monotonic counters in one write.
	AddProductSales(ctx context.Context, productID string, units int64, revenue, cost decimal.Decimal) error

	// AddProductRevenue bumps only the revenue counter (upgrade boosts).
	AddProductRevenue(ctx context.Context, productID string, delta decimal.Decimal) error

	// --- Upgrades ---

	CreateUpgrade(ctx context.Context, u *model.Upgrade) error
	GetUpgrade(ctx context.Context, id string) (*model.Upgrade, error)
	ListUpgrades(ctx context.Context) ([]model.Upgrade, error)

	CreateUserUpgrade(ctx context.Context, u *model.UserUpgrade) error
	GetUserUpgrade(ctx context.Context, id string) (*model.UserUpgrade, error)

	// ClaimUserUpgrade marks the record used, recording the target and the
	// applied magnitude. Fails with model.ErrUpgradeUsed if already claimed;
	// a claim is never granted twice.
	ClaimUserUpgrade(ctx context.Context, id, targetCompanyID string, applied decimal.Decimal) error

	// --- Share price history ---

	InsertPricePoint(ctx context.Context, p *model.PricePoint) error
	ListPricePoints(ctx context.Context, companyID string, limit int) ([]model.PricePoint, error)
}
