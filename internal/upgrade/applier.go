// Package upgrade implements the one-shot purchasable effects: product
// revenue boosts and share price nudges. Effects are exactly-once: the
// purchase record is claimed before the mutation is applied, so a second
// use always fails and no effect is ever applied twice.
package upgrade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tycoon/internal/ledger"
	"tycoon/internal/metrics"
	"tycoon/internal/model"
	"tycoon/internal/store"
)

// MinSharePrice is the floor a stock-lower effect clamps to.
var MinSharePrice = decimal.NewFromFloat(0.01)

var oneHundred = decimal.NewFromInt(100)

type Service struct {
	store  store.Store
	ledger *ledger.Service
	log    *slog.Logger
}

func NewService(st store.Store, led *ledger.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, ledger: led, log: logger}
}

// UseResult reports an applied effect back to the caller.
type UseResult struct {
	Kind          model.UpgradeKind `json:"kind"`
	Applied       decimal.Decimal   `json:"applied"`
	NewSharePrice decimal.Decimal   `json:"new_share_price,omitempty"`
	Message       string            `json:"message"`
}

// Purchase debits the buyer's personal account for the upgrade's cost and
// creates an unused purchase record. The debit goes through the ledger as an
// expense against the system account, and it lands before the record is
// created: a store failure in between charges the buyer without granting the
// upgrade, leaving the expense entry as the audit trail for a manual refund.
func (s *Service) Purchase(ctx context.Context, userID, upgradeID string) (*model.UserUpgrade, error) {
	upg, err := s.store.GetUpgrade(ctx, upgradeID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.GetAccountsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	var personal *model.Account
	for i := range accounts {
		if accounts[i].Kind == model.AccountPersonal {
			personal = &accounts[i]
			break
		}
	}
	if personal == nil {
		return nil, model.ErrAccountNotFound
	}

	if _, err := s.ledger.Transfer(ctx, personal.ID, model.SystemAccountID, upg.Cost, model.TxExpense); err != nil {
		return nil, err
	}

	uu := &model.UserUpgrade{
		ID:            uuid.NewString(),
		UserID:        userID,
		UpgradeID:     upgradeID,
		AppliedAmount: decimal.Zero,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateUserUpgrade(ctx, uu); err != nil {
		return nil, fmt.Errorf("create user upgrade: %w", err)
	}
	s.log.Info("upgrade purchased", "user_id", userID, "upgrade_id", upgradeID, "cost", upg.Cost.String())
	return uu, nil
}

// Use applies a purchased upgrade against a target company. The effect is
// computed first, the record is claimed (conditionally, exactly once), and
// only then is the mutation written.
func (s *Service) Use(ctx context.Context, userID, userUpgradeID, targetCompanyID string) (*UseResult, error) {
	uu, err := s.store.GetUserUpgrade(ctx, userUpgradeID)
	if err != nil {
		return nil, err
	}
	if uu.UserID != userID {
		return nil, model.ErrUnauthorized
	}
	if uu.Used {
		return nil, model.ErrUpgradeUsed
	}
	upg, err := s.store.GetUpgrade(ctx, uu.UpgradeID)
	if err != nil {
		return nil, err
	}
	company, err := s.store.GetCompany(ctx, targetCompanyID)
	if err != nil {
		return nil, err
	}

	switch upg.Kind {
	case model.UpgradeRevenueBoost:
		return s.applyRevenueBoost(ctx, uu, upg, company)
	case model.UpgradeStockBoost, model.UpgradeStockLower:
		return s.applySharePriceEffect(ctx, uu, upg, company)
	default:
		return nil, fmt.Errorf("unknown upgrade kind %q", upg.Kind)
	}
}

func (s *Service) applyRevenueBoost(ctx context.Context, uu *model.UserUpgrade, upg *model.Upgrade, company *model.Company) (*UseResult, error) {
	products, err := s.store.ListActiveProductsByCompany(ctx, company.ID)
	if err != nil {
		return nil, err
	}
	fraction := upg.Pct.Div(oneHundred)
	boosts := make(map[string]decimal.Decimal, len(products))
	total := decimal.Zero
	for _, p := range products {
		boost := p.TotalRevenue.Mul(fraction)
		if !boost.IsPositive() {
			continue
		}
		boosts[p.ID] = boost
		total = total.Add(boost)
	}

	if err := s.store.ClaimUserUpgrade(ctx, uu.ID, company.ID, total); err != nil {
		return nil, err
	}
	for _, p := range products {
		boost, ok := boosts[p.ID]
		if !ok {
			continue
		}
		if err := s.store.AddProductRevenue(ctx, p.ID, boost); err != nil {
			// The claim is already burned; surface the gap instead of
			// risking a double application.
			s.log.Error("revenue boost partially applied", "user_upgrade_id", uu.ID, "product_id", p.ID, "err", err)
			return nil, err
		}
	}

	metrics.UpgradeUses.WithLabelValues(string(upg.Kind)).Inc()
	s.log.Info("revenue boost applied", "user_upgrade_id", uu.ID, "company_id", company.ID, "total", total.String())
	return &UseResult{
		Kind:    upg.Kind,
		Applied: total,
		Message: fmt.Sprintf("boosted %s revenue by %s (%s%% across %d products)", company.Name, total, upg.Pct, len(boosts)),
	}, nil
}

func (s *Service) applySharePriceEffect(ctx context.Context, uu *model.UserUpgrade, upg *model.Upgrade, company *model.Company) (*UseResult, error) {
	if !company.Public {
		return nil, model.ErrCompanyNotPublic
	}
	fraction := upg.Pct.Div(oneHundred)
	if upg.Kind == model.UpgradeStockLower {
		fraction = fraction.Neg()
	}
	newPrice := company.SharePrice.Mul(decimal.NewFromInt(1).Add(fraction))
	if newPrice.LessThan(MinSharePrice) {
		newPrice = MinSharePrice
	}
	applied := newPrice.Sub(company.SharePrice)

	if err := s.store.ClaimUserUpgrade(ctx, uu.ID, company.ID, applied); err != nil {
		return nil, err
	}
	if err := s.store.SetCompanySharePrice(ctx, company.ID, newPrice); err != nil {
		return nil, err
	}
	point := &model.PricePoint{
		ID:        uuid.NewString(),
		CompanyID: company.ID,
		Price:     newPrice,
		MarketCap: newPrice.Mul(decimal.NewFromInt(company.TotalShares)),
		Volume:    0,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertPricePoint(ctx, point); err != nil {
		return nil, err
	}

	metrics.UpgradeUses.WithLabelValues(string(upg.Kind)).Inc()
	s.log.Info("share price effect applied",
		"user_upgrade_id", uu.ID, "company_id", company.ID,
		"old_price", company.SharePrice.String(), "new_price", newPrice.String())
	return &UseResult{
		Kind:          upg.Kind,
		Applied:       applied,
		NewSharePrice: newPrice,
		Message:       fmt.Sprintf("%s share price moved from %s to %s", company.Name, company.SharePrice, newPrice),
	}, nil
}

// DefaultCatalog is the purchasable upgrade set seeded at startup.
func DefaultCatalog() []model.Upgrade {
	return []model.Upgrade{
		{ID: "marketing-blitz", Name: "Marketing Blitz", Kind: model.UpgradeRevenueBoost, Pct: decimal.NewFromInt(10), Cost: decimal.NewFromInt(2_500)},
		{ID: "hype-campaign", Name: "Hype Campaign", Kind: model.UpgradeStockBoost, Pct: decimal.NewFromInt(5), Cost: decimal.NewFromInt(5_000)},
		{ID: "smear-piece", Name: "Smear Piece", Kind: model.UpgradeStockLower, Pct: decimal.NewFromInt(5), Cost: decimal.NewFromInt(5_000)},
	}
}

// SeedCatalog inserts the default upgrades, skipping ones already present.
func SeedCatalog(ctx context.Context, st store.Store) error {
	for _, u := range DefaultCatalog() {
		if err := st.CreateUpgrade(ctx, &u); err != nil {
			return err
		}
	}
	return nil
}
