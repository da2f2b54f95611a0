// Package registry maps owning identities (players, companies) to their
// accounts and handles the flows that create them.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tycoon/internal/ledger"
	"tycoon/internal/model"
	"tycoon/internal/store"
)

// StarterDeposit is the initial deposit credited to a new player's account.
var StarterDeposit = decimal.NewFromInt(10_000)

// DefaultTotalShares is the share count a company lists with.
const DefaultTotalShares = int64(1_000)

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

// RegisterPlayer creates a personal account for the user and seeds it with
// the starter deposit, recorded as a system→account ledger entry.
func (s *Service) RegisterPlayer(ctx context.Context, userID string) (*model.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	existing, err := s.store.GetAccountsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Kind == model.AccountPersonal {
			return &existing[i], nil
		}
	}

	a := &model.Account{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		Kind:      model.AccountPersonal,
		Balance:   StarterDeposit,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if err := s.ledger.InitializeBalance(ctx, a.ID, StarterDeposit); err != nil {
		return nil, err
	}
	if _, err := s.ledger.RecordTransfer(ctx, model.SystemAccountID, a.ID, StarterDeposit, model.TxInitialDeposit, ledger.TransferMeta{}); err != nil {
		return nil, err
	}
	s.log.Info("player registered", "user_id", userID, "account_id", a.ID)
	return a, nil
}

// FoundCompany creates a private company with its own backing account,
// seeded at zero.
func (s *Service) FoundCompany(ctx context.Context, ownerID, name string) (*model.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("company name is required")
	}
	if len(name) > 64 {
		return nil, fmt.Errorf("company name too long (max 64 chars)")
	}

	companyID := uuid.NewString()
	account := &model.Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CompanyID: companyID,
		Kind:      model.AccountCompany,
		Balance:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create company account: %w", err)
	}
	if err := s.ledger.InitializeBalance(ctx, account.ID, decimal.Zero); err != nil {
		return nil, err
	}

	c := &model.Company{
		ID:          companyID,
		OwnerID:     ownerID,
		AccountID:   account.ID,
		Name:        name,
		Public:      false,
		SharePrice:  decimal.Zero,
		TotalShares: DefaultTotalShares,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateCompany(ctx, c); err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	s.log.Info("company founded", "company_id", c.ID, "owner_id", ownerID, "account_id", account.ID)
	return c, nil
}

// AddProduct lists a new active product for one of the caller's companies.
func (s *Service) AddProduct(ctx context.Context, ownerID, companyID, name string, price decimal.Decimal) (*model.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("product name is required")
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("product price must be positive")
	}
	c, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, model.ErrUnauthorized
	}

	p := &model.Product{
		ID:           uuid.NewString(),
		CompanyID:    companyID,
		Name:         name,
		Price:        price,
		Active:       true,
		TotalRevenue: decimal.Zero,
		TotalCost:    decimal.Zero,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return p, nil
}

// AccountsFor returns every account the identity owns.
func (s *Service) AccountsFor(ctx context.Context, ownerID string) ([]model.Account, error) {
	return s.store.GetAccountsByOwner(ctx, ownerID)
}
