// Package model defines the core domain types shared across the economy
// engine. All monetary values use shopspring/decimal; float64 never holds
// money.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SystemAccountID is the well-known counterparty for marketplace demand,
// initial deposits and production costs. It is the economy's mint and sink:
// ledger entries reference it, but no cached balance is kept for it.
const SystemAccountID = "system"

// PublicListingThreshold is the company balance above which a private
// company is flipped to public at the end of a settlement tick.
var PublicListingThreshold = decimal.NewFromInt(50_000)

type AccountKind string

const (
	AccountPersonal AccountKind = "personal"
	AccountCompany  AccountKind = "company"
)

// TxType is the closed set of ledger entry types.
type TxType string

const (
	TxTransfer         TxType = "transfer"
	TxProductPurchase  TxType = "product_purchase"
	TxProductCost      TxType = "product_cost"
	TxInitialDeposit   TxType = "initial_deposit"
	TxStockPurchase    TxType = "stock_purchase"
	TxStockSale        TxType = "stock_sale"
	TxMarketplaceBatch TxType = "marketplace_batch"
	TxExpense          TxType = "expense"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAccountNotFound   = errors.New("account not found")
	ErrCompanyNotFound   = errors.New("company not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrUpgradeNotFound   = errors.New("upgrade not found")
	ErrBalanceExists     = errors.New("balance already initialized")
	ErrBalanceNotFound   = errors.New("balance not found")
	ErrUpgradeUsed       = errors.New("upgrade already used")
	ErrCompanyNotPublic  = errors.New("company is not public")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account is the owning side of a balance. Kind distinguishes player
// wallets from company treasuries. Balance is the cached copy; the Balance
// record is the read-scaling shadow and the two must always agree.
type Account struct {
	ID        string          `json:"id" db:"id"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	CompanyID string          `json:"company_id,omitempty" db:"company_id"`
	Kind      AccountKind     `json:"kind" db:"kind"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Balance is the materialized current balance for one account, stored
// separately from the Account row for read scaling.
type Balance struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of one signed money movement between
// two accounts. Amount is always positive; direction is from → to.
// BatchCount is the number of settled units a single aggregated entry
// represents. Entries are never modified or deleted.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	FromAccountID string          `json:"from_account_id" db:"from_account_id"`
	ToAccountID   string          `json:"to_account_id" db:"to_account_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Type          TxType          `json:"type" db:"type"`
	ProductID     string          `json:"product_id,omitempty" db:"product_id"`
	BatchCount    int64           `json:"batch_count" db:"batch_count"`
	TickID        string          `json:"tick_id,omitempty" db:"tick_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// SignedAmount returns the entry's effect on the given account: negative
// when the account is the source, positive when it is the destination.
func (e LedgerEntry) SignedAmount(accountID string) decimal.Decimal {
	switch accountID {
	case e.FromAccountID:
		return e.Amount.Neg()
	case e.ToAccountID:
		return e.Amount
	default:
		return decimal.Zero
	}
}

// Company is created private and becomes public exactly once, when its
// treasury exceeds PublicListingThreshold at the end of a settlement tick.
type Company struct {
	ID          string          `json:"id" db:"id"`
	OwnerID     string          `json:"owner_id" db:"owner_id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	Name        string          `json:"name" db:"name"`
	Public      bool            `json:"public" db:"public"`
	SharePrice  decimal.Decimal `json:"share_price" db:"share_price"`
	TotalShares int64           `json:"total_shares" db:"total_shares"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Product counters (UnitsSold, TotalRevenue, TotalCost) are monotonically
// non-decreasing and mutated only by the settlement engine or the upgrade
// applier.
type Product struct {
	ID           string          `json:"id" db:"id"`
	CompanyID    string          `json:"company_id" db:"company_id"`
	Name         string          `json:"name" db:"name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Active       bool            `json:"active" db:"active"`
	UnitsSold    int64           `json:"units_sold" db:"units_sold"`
	TotalRevenue decimal.Decimal `json:"total_revenue" db:"total_revenue"`
	TotalCost    decimal.Decimal `json:"total_cost" db:"total_cost"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

type UpgradeKind string

const (
	UpgradeRevenueBoost UpgradeKind = "revenue_boost"
	UpgradeStockBoost   UpgradeKind = "stock_boost"
	UpgradeStockLower   UpgradeKind = "stock_lower"
)

// Upgrade is a catalog row for a purchasable one-shot effect.
type Upgrade struct {
	ID   string          `json:"id" db:"id"`
	Name string          `json:"name" db:"name"`
	Kind UpgradeKind     `json:"kind" db:"kind"`
	Pct  decimal.Decimal `json:"pct" db:"pct"`
	Cost decimal.Decimal `json:"cost" db:"cost"`
}

// UserUpgrade is a purchased upgrade. Used flips exactly once; the applied
// magnitude and target are recorded on the claim.
type UserUpgrade struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	UpgradeID       string          `json:"upgrade_id" db:"upgrade_id"`
	Used            bool            `json:"used" db:"used"`
	TargetCompanyID string          `json:"target_company_id,omitempty" db:"target_company_id"`
	AppliedAmount   decimal.Decimal `json:"applied_amount" db:"applied_amount"`
	UsedAt          *time.Time      `json:"used_at,omitempty" db:"used_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// PricePoint is one share price history record for a public company.
type PricePoint struct {
	ID        string          `json:"id" db:"id"`
	CompanyID string          `json:"company_id" db:"company_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	MarketCap decimal.Decimal `json:"market_cap" db:"market_cap"`
	Volume    int64           `json:"volume" db:"volume"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
