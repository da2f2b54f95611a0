// Package market implements the periodic stochastic marketplace settlement
// engine. One tick simulates a randomized demand event over the active
// product catalog in memory, then commits the aggregate effect with one
// balance patch per company and two batched ledger entries per product sold.
package market

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tycoon/internal/ledger"
	"tycoon/internal/metrics"
	"tycoon/internal/model"
	"tycoon/internal/store"
)

const (
	budgetMin = 300_000.0
	budgetMax = 425_000.0

	// Tier bounds: cheap is price <= 150, expensive is price >= 1000,
	// medium is everything in between.
	cheapMaxPrice     = 150
	expensiveMinPrice = 1_000

	tierSampleSize     = 16
	leftoverSampleSize = 30

	// Hard per-product cap across all passes of one tick.
	maxUnitsPerProduct = 50

	costRatioMin = 0.23
	costRatioMax = 0.67
)

// Purchase is one simulated unit sale.
type Purchase struct {
	ProductID string          `json:"product_id"`
	CompanyID string          `json:"company_id"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Profit    decimal.Decimal `json:"profit"`
}

// TickResult is the ephemeral outcome of one settlement tick.
type TickResult struct {
	TickID          string          `json:"tick_id"`
	Budget          decimal.Decimal `json:"budget"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
	UnitsSold       int64           `json:"units_sold"`
	Purchases       []Purchase      `json:"purchases"`
	ListedCompanies []string        `json:"listed_companies"`
}

type productAgg struct {
	units   int64
	revenue decimal.Decimal
	cost    decimal.Decimal
}

type companyAgg struct {
	revenue  decimal.Decimal
	cost     decimal.Decimal
	products map[string]*productAgg
}

// tickState is the in-memory aggregation for one engine invocation. Steps
// 1-7 of the algorithm mutate only this; nothing is written until commit.
type tickState struct {
	tickID    string
	purchased map[string]int64 // per-product units this tick, all passes
	byCompany map[string]*companyAgg
	purchases []Purchase
	spent     decimal.Decimal
	units     int64
}

// Engine runs settlement ticks. Invocations are not reentrant; the caller
// (the worker loop) must not overlap them.
type Engine struct {
	store  store.Store
	ledger *ledger.Service
	log    *slog.Logger
	mu     sync.Mutex
	rand   *mathrand.Rand
}

func NewEngine(st store.Store, led *ledger.Service, logger *slog.Logger) *Engine {
	return NewEngineWithSeed(st, led, logger, time.Now().UnixNano())
}

// NewEngineWithSeed fixes the random source. Deterministic runs for tests.
func NewEngineWithSeed(st store.Store, led *ledger.Service, logger *slog.Logger, seed int64) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		ledger: led,
		log:    logger,
		rand:   mathrand.New(mathrand.NewSource(seed)),
	}
}

// RunTick executes one settlement tick over the current catalog. Returns
// (nil, nil) when no products are active.
func (e *Engine) RunTick(ctx context.Context) (*TickResult, error) {
	started := time.Now()

	products, err := e.store.ListActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if len(products) == 0 {
		e.log.Info("settlement skipped, catalog empty")
		return nil, nil
	}

	st := &tickState{
		tickID:    uuid.NewString(),
		purchased: make(map[string]int64),
		byCompany: make(map[string]*companyAgg),
		spent:     decimal.Zero,
	}

	budget := decimal.NewFromFloat(e.uniform(budgetMin, budgetMax)).Round(2)
	cheap, medium, expensive := partitionTiers(products)

	// Equal thirds: every price band gets a guaranteed demand share
	// regardless of catalog composition.
	tierBudget := TierShare(budget)
	leftover := decimal.Zero
	for _, tier := range [][]model.Product{cheap, medium, expensive} {
		leftover = leftover.Add(e.settleTier(st, tier, tierBudget))
	}
	e.spendLeftover(st, products, leftover)

	result := &TickResult{
		TickID:     st.tickID,
		Budget:     budget,
		TotalSpent: st.spent,
		UnitsSold:  st.units,
		Purchases:  st.purchases,
	}
	if err := e.commit(ctx, st, result); err != nil {
		return result, err
	}

	metrics.SettlementTicks.Inc()
	metrics.SettlementUnitsSold.Add(float64(st.units))
	metrics.SettlementSpent.Add(st.spent.InexactFloat64())
	metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	e.log.Info("settlement tick complete",
		"tick_id", st.tickID,
		"budget", budget.String(),
		"spent", st.spent.String(),
		"units", st.units,
		"companies", len(st.byCompany),
		"listed", len(result.ListedCompanies))
	return result, nil
}

// TierShare is the budget share allocated to each of the three price tiers.
func TierShare(budget decimal.Decimal) decimal.Decimal {
	return budget.Div(decimal.NewFromInt(3))
}

func partitionTiers(products []model.Product) (cheap, medium, expensive []model.Product) {
	cheapMax := decimal.NewFromInt(cheapMaxPrice)
	expensiveMin := decimal.NewFromInt(expensiveMinPrice)
	for _, p := range products {
		switch {
		case p.Price.LessThanOrEqual(cheapMax):
			cheap = append(cheap, p)
		case p.Price.GreaterThanOrEqual(expensiveMin):
			expensive = append(expensive, p)
		default:
			medium = append(medium, p)
		}
	}
	return cheap, medium, expensive
}

type allocation struct {
	product model.Product
	amount  decimal.Decimal
}

// settleTier runs one tier of the demand simulation and returns the tier's
// unused budget.
func (e *Engine) settleTier(st *tickState, tier []model.Product, tierBudget decimal.Decimal) decimal.Decimal {
	if len(tier) == 0 {
		return tierBudget
	}
	sampled := e.sample(tier, tierSampleSize)

	// One random weight per sampled product, normalized to sum to 1.
	weights := make([]float64, len(sampled))
	var weightSum float64
	for i := range sampled {
		weights[i] = e.nextFloat()
		weightSum += weights[i]
	}
	allocations := make([]allocation, len(sampled))
	for i, p := range sampled {
		amount := tierBudget.Mul(decimal.NewFromFloat(weights[i])).Div(decimal.NewFromFloat(weightSum))
		allocations[i] = allocation{product: p, amount: amount}
	}

	// Expensive-first so high-price products are not starved by rounding
	// or ordering effects.
	sort.Slice(allocations, func(i, j int) bool {
		pi, pj := allocations[i].product.Price, allocations[j].product.Price
		if pi.Equal(pj) {
			return allocations[i].product.ID < allocations[j].product.ID
		}
		return pi.GreaterThan(pj)
	})

	remaining := tierBudget
	for i := range allocations {
		a := &allocations[i]
		price := a.product.Price
		maxUnits := a.amount.Div(price).IntPart()
		if room := maxUnitsPerProduct - st.purchased[a.product.ID]; maxUnits > room {
			maxUnits = room
		}
		for u := int64(0); u < maxUnits; u++ {
			if remaining.LessThan(price) {
				break
			}
			e.buyUnit(st, a.product)
			a.amount = a.amount.Sub(price)
			remaining = remaining.Sub(price)
		}
	}

	// Bonus pass: spend tier dust opportunistically across the sampled set.
	e.shuffleProducts(sampled)
	remaining = e.spendOpportunistically(st, sampled, remaining)
	return remaining
}

// spendLeftover pools unused tier budget and spends it across a sample of
// the entire catalog, not just the tier-sampled products.
func (e *Engine) spendLeftover(st *tickState, products []model.Product, pool decimal.Decimal) {
	if !pool.IsPositive() {
		return
	}
	sampled := e.sample(products, leftoverSampleSize)
	e.spendOpportunistically(st, sampled, pool)
}

// spendOpportunistically buys one unit at a time from whichever product is
// still affordable and under the per-tick cap, until the budget can no
// longer buy anything.
func (e *Engine) spendOpportunistically(st *tickState, products []model.Product, budget decimal.Decimal) decimal.Decimal {
	for {
		bought := false
		for _, p := range products {
			if st.purchased[p.ID] >= maxUnitsPerProduct {
				continue
			}
			if budget.LessThan(p.Price) {
				continue
			}
			e.buyUnit(st, p)
			budget = budget.Sub(p.Price)
			bought = true
		}
		if !bought {
			return budget
		}
	}
}

// buyUnit simulates a single unit sale: production cost is a uniform random
// ratio of price, profit the remainder. Mutates only in-memory aggregates.
func (e *Engine) buyUnit(st *tickState, p model.Product) {
	ratio := e.uniform(costRatioMin, costRatioMax)
	cost := p.Price.Mul(decimal.NewFromFloat(ratio)).Round(2)
	profit := p.Price.Sub(cost)

	st.purchased[p.ID]++
	st.units++
	st.spent = st.spent.Add(p.Price)
	st.purchases = append(st.purchases, Purchase{
		ProductID: p.ID,
		CompanyID: p.CompanyID,
		Price:     p.Price,
		Cost:      cost,
		Profit:    profit,
	})

	ca := st.byCompany[p.CompanyID]
	if ca == nil {
		ca = &companyAgg{
			revenue:  decimal.Zero,
			cost:     decimal.Zero,
			products: make(map[string]*productAgg),
		}
		st.byCompany[p.CompanyID] = ca
	}
	ca.revenue = ca.revenue.Add(p.Price)
	ca.cost = ca.cost.Add(cost)

	pa := ca.products[p.ID]
	if pa == nil {
		pa = &productAgg{revenue: decimal.Zero, cost: decimal.Zero}
		ca.products[p.ID] = pa
	}
	pa.units++
	pa.revenue = pa.revenue.Add(p.Price)
	pa.cost = pa.cost.Add(cost)
}

// commit flushes the in-memory aggregates: one batched company pre-fetch,
// one net balance delta per company, two batch ledger entries per product
// with sales, one counter patch per product, then the public-listing pass.
// Companies already committed are not rolled back if a later one fails.
func (e *Engine) commit(ctx context.Context, st *tickState, result *TickResult) error {
	if len(st.byCompany) == 0 {
		return nil
	}
	companyIDs := make([]string, 0, len(st.byCompany))
	for id := range st.byCompany {
		companyIDs = append(companyIDs, id)
	}
	sort.Strings(companyIDs)

	companies, err := e.store.GetCompaniesByIDs(ctx, companyIDs)
	if err != nil {
		return fmt.Errorf("prefetch companies: %w", err)
	}

	postBalances := make(map[string]decimal.Decimal, len(companyIDs))
	for _, companyID := range companyIDs {
		comp, ok := companies[companyID]
		if !ok {
			e.log.Warn("settled product references missing company", "company_id", companyID, "tick_id", st.tickID)
			continue
		}
		ca := st.byCompany[companyID]

		net := ca.revenue.Sub(ca.cost)
		newBalance, err := e.ledger.ApplyDelta(ctx, comp.AccountID, net)
		if err != nil {
			return fmt.Errorf("commit company %s: %w", companyID, err)
		}
		postBalances[companyID] = newBalance

		productIDs := make([]string, 0, len(ca.products))
		for id := range ca.products {
			productIDs = append(productIDs, id)
		}
		sort.Strings(productIDs)
		for _, productID := range productIDs {
			pa := ca.products[productID]
			meta := ledger.TransferMeta{ProductID: productID, BatchCount: pa.units, TickID: st.tickID}
			if _, err := e.ledger.RecordTransfer(ctx, model.SystemAccountID, comp.AccountID, pa.revenue, model.TxProductPurchase, meta); err != nil {
				return fmt.Errorf("commit revenue entry %s: %w", productID, err)
			}
			if _, err := e.ledger.RecordTransfer(ctx, comp.AccountID, model.SystemAccountID, pa.cost, model.TxProductCost, meta); err != nil {
				return fmt.Errorf("commit cost entry %s: %w", productID, err)
			}
			if err := e.store.AddProductSales(ctx, productID, pa.units, pa.revenue, pa.cost); err != nil {
				return fmt.Errorf("patch product %s: %w", productID, err)
			}
		}
	}

	// Public-listing pass. Only companies with activity this tick are
	// evaluated; an untouched company above the threshold stays private
	// until it next sells something. Explicit policy.
	for _, companyID := range companyIDs {
		comp, ok := companies[companyID]
		if !ok || comp.Public {
			continue
		}
		balance, ok := postBalances[companyID]
		if !ok || !balance.GreaterThan(model.PublicListingThreshold) {
			continue
		}
		if err := e.store.SetCompanyPublic(ctx, companyID); err != nil {
			return fmt.Errorf("list company %s: %w", companyID, err)
		}
		result.ListedCompanies = append(result.ListedCompanies, companyID)
		metrics.CompaniesListed.Inc()
		e.log.Info("company went public", "company_id", companyID, "balance", balance.String(), "tick_id", st.tickID)
	}
	return nil
}

func (e *Engine) nextFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Float64()
}

func (e *Engine) uniform(min, max float64) float64 {
	return min + e.nextFloat()*(max-min)
}

// sample returns up to n products drawn without replacement.
func (e *Engine) sample(products []model.Product, n int) []model.Product {
	out := make([]model.Product, len(products))
	copy(out, products)
	e.shuffleProducts(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (e *Engine) shuffleProducts(products []model.Product) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rand.Shuffle(len(products), func(i, j int) {
		products[i], products[j] = products[j], products[i]
	})
}
