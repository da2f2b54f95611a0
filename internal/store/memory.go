package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tycoon/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	balances     map[string]*model.Balance
	ledger       []model.LedgerEntry
	companies    map[string]*model.Company
	products     map[string]*model.Product
	upgrades     map[string]*model.Upgrade
	userUpgrades map[string]*model.UserUpgrade
	prices       []model.PricePoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*model.Account),
		balances:     make(map[string]*model.Balance),
		companies:    make(map[string]*model.Company),
		products:     make(map[string]*model.Product),
		upgrades:     make(map[string]*model.Upgrade),
		userUpgrades: make(map[string]*model.UserUpgrade),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountsByOwner(_ context.Context, ownerID string) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, accountID string) (*model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[accountID]
	if !ok {
		return nil, model.ErrBalanceNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) InitializeBalance(_ context.Context, accountID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[accountID]; ok {
		return model.ErrBalanceExists
	}
	s.balances[accountID] = &model.Balance{AccountID: accountID, Amount: amount, UpdatedAt: time.Now()}
	if a, ok := s.accounts[accountID]; ok {
		a.Balance = amount
	}
	return nil
}

func (s *MemoryStore) ApplyBalanceDelta(_ context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[accountID]
	if !ok {
		b = &model.Balance{AccountID: accountID, Amount: decimal.Zero}
		s.balances[accountID] = b
	}
	b.Amount = b.Amount.Add(delta)
	b.UpdatedAt = time.Now()
	if a, ok := s.accounts[accountID]; ok {
		a.Balance = b.Amount
	}
	return b.Amount, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, accountID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[accountID] = &model.Balance{AccountID: accountID, Amount: amount, UpdatedAt: time.Now()}
	if a, ok := s.accounts[accountID]; ok {
		a.Balance = amount
	}
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, *e)
	return nil
}

func (s *MemoryStore) LedgerEntriesByAccount(_ context.Context, accountID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.LedgerEntry
	for _, e := range s.ledger {
		if e.FromAccountID == accountID || e.ToAccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateCompany(_ context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.companies[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCompany(_ context.Context, id string) (*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, model.ErrCompanyNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCompanies(_ context.Context) ([]model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetCompaniesByIDs(_ context.Context, ids []string) (map[string]*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*model.Company, len(ids))
	for _, id := range ids {
		if c, ok := s.companies[id]; ok {
			cp := *c
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemoryStore) SetCompanyPublic(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return model.ErrCompanyNotFound
	}
	c.Public = true
	return nil
}

func (s *MemoryStore) SetCompanySharePrice(_ context.Context, id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return model.ErrCompanyNotFound
	}
	c.SharePrice = price
	return nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListActiveProducts(_ context.Context) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Product
	for _, p := range s.products {
		if p.Active {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListActiveProductsByCompany(_ context.Context, companyID string) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Product
	for _, p := range s.products {
		if p.Active && p.CompanyID == companyID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddProductSales(_ context.Context, productID string, units int64, revenue, cost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return model.ErrProductNotFound
	}
	p.UnitsSold += units
	p.TotalRevenue = p.TotalRevenue.Add(revenue)
	p.TotalCost = p.TotalCost.Add(cost)
	return nil
}

func (s *MemoryStore) AddProductRevenue(_ context.Context, productID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return model.ErrProductNotFound
	}
	p.TotalRevenue = p.TotalRevenue.Add(delta)
	return nil
}

// CreateUpgrade leaves an existing catalog row untouched, the same contract
// as the postgres ON CONFLICT DO NOTHING insert.
func (s *MemoryStore) CreateUpgrade(_ context.Context, u *model.Upgrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.upgrades[u.ID]; ok {
		return nil
	}
	cp := *u
	s.upgrades[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUpgrade(_ context.Context, id string) (*model.Upgrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.upgrades[id]
	if !ok {
		return nil, model.ErrUpgradeNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ListUpgrades(_ context.Context) ([]model.Upgrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Upgrade, 0, len(s.upgrades))
	for _, u := range s.upgrades {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateUserUpgrade(_ context.Context, u *model.UserUpgrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.userUpgrades[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUserUpgrade(_ context.Context, id string) (*model.UserUpgrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.userUpgrades[id]
	if !ok {
		return nil, model.ErrUpgradeNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ClaimUserUpgrade(_ context.Context, id, targetCompanyID string, applied decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.userUpgrades[id]
	if !ok {
		return model.ErrUpgradeNotFound
	}
	if u.Used {
		return model.ErrUpgradeUsed
	}
	now := time.Now()
	u.Used = true
	u.TargetCompanyID = targetCompanyID
	u.AppliedAmount = applied
	u.UsedAt = &now
	return nil
}

func (s *MemoryStore) InsertPricePoint(_ context.Context, p *model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, *p)
	return nil
}

func (s *MemoryStore) ListPricePoints(_ context.Context, companyID string, limit int) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PricePoint
	for i := len(s.prices) - 1; i >= 0; i-- {
		if s.prices[i].CompanyID == companyID {
			out = append(out, s.prices[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
