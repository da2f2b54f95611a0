package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tycoon/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	company_id TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	balance    NUMERIC NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS accounts_owner_idx ON accounts (owner_id);

CREATE TABLE IF NOT EXISTS balances (
	account_id TEXT PRIMARY KEY REFERENCES accounts (id),
	amount     NUMERIC NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id              TEXT PRIMARY KEY,
	from_account_id TEXT NOT NULL,
	to_account_id   TEXT NOT NULL,
	amount          NUMERIC NOT NULL CHECK (amount >= 0),
	type            TEXT NOT NULL,
	product_id      TEXT NOT NULL DEFAULT '',
	batch_count     BIGINT NOT NULL DEFAULT 1,
	tick_id         TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_from_idx ON ledger_entries (from_account_id);
CREATE INDEX IF NOT EXISTS ledger_to_idx ON ledger_entries (to_account_id);

CREATE TABLE IF NOT EXISTS companies (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	account_id   TEXT NOT NULL REFERENCES accounts (id),
	name         TEXT NOT NULL,
	public       BOOLEAN NOT NULL DEFAULT false,
	share_price  NUMERIC NOT NULL DEFAULT 0,
	total_shares BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id            TEXT PRIMARY KEY,
	company_id    TEXT NOT NULL REFERENCES companies (id),
	name          TEXT NOT NULL,
	price         NUMERIC NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT true,
	units_sold    BIGINT NOT NULL DEFAULT 0,
	total_revenue NUMERIC NOT NULL DEFAULT 0,
	total_cost    NUMERIC NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS products_company_idx ON products (company_id);

CREATE TABLE IF NOT EXISTS upgrades (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	pct  NUMERIC NOT NULL,
	cost NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS user_upgrades (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	upgrade_id        TEXT NOT NULL REFERENCES upgrades (id),
	used              BOOLEAN NOT NULL DEFAULT false,
	target_company_id TEXT NOT NULL DEFAULT '',
	applied_amount    NUMERIC NOT NULL DEFAULT 0,
	used_at           TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_points (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL REFERENCES companies (id),
	price      NUMERIC NOT NULL,
	market_cap NUMERIC NOT NULL,
	volume     BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS price_points_company_idx ON price_points (company_id);
`

// Migrate creates the schema when it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, owner_id, company_id, kind, balance, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
	`, a.ID, a.OwnerID, a.CompanyID, a.Kind, a.Balance.String(), a.CreatedAt)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance string
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, company_id, kind, balance::TEXT, created_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.OwnerID, &a.CompanyID, &a.Kind, &balance, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, model.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) GetAccountsByOwner(ctx context.Context, ownerID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, company_id, kind, balance::TEXT, created_at
		FROM accounts
		WHERE owner_id = $1
		ORDER BY id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		var a model.Account
		var balance string
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.CompanyID, &a.Kind, &balance, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Balance, _ = decimal.NewFromString(balance)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (*model.Balance, error) {
	var b model.Balance
	var amount string
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, amount::TEXT, updated_at
		FROM balances
		WHERE account_id = $1
	`, accountID).Scan(&b.AccountID, &amount, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, model.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", accountID, err)
	}
	b.Amount, _ = decimal.NewFromString(amount)
	return &b, nil
}

func (s *PostgresStore) InitializeBalance(ctx context.Context, accountID string, amount decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (account_id, amount, updated_at)
		VALUES ($1, $2::NUMERIC, now())
	`, accountID, amount.String())
	if isUniqueViolation(err) {
		return model.ErrBalanceExists
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = $1::NUMERIC WHERE id = $2
	`, amount.String(), accountID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	var next string
	err = tx.QueryRow(ctx, `
		INSERT INTO balances (account_id, amount, updated_at)
		VALUES ($1, $2::NUMERIC, now())
		ON CONFLICT (account_id) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
		RETURNING amount::TEXT
	`, accountID, delta.String()).Scan(&next)
	if err != nil {
		return decimal.Zero, fmt.Errorf("apply delta %s: %w", accountID, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = $1::NUMERIC WHERE id = $2
	`, next, accountID); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	out, _ := decimal.NewFromString(next)
	return out, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, accountID string, amount decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (account_id, amount, updated_at)
		VALUES ($1, $2::NUMERIC, now())
		ON CONFLICT (account_id) DO UPDATE
		SET amount = EXCLUDED.amount, updated_at = now()
	`, accountID, amount.String()); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = $1::NUMERIC WHERE id = $2
	`, amount.String(), accountID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries
		    (id, from_account_id, to_account_id, amount, type, product_id, batch_count, tick_id, created_at)
		VALUES
		    ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9)
	`, e.ID, e.FromAccountID, e.ToAccountID, e.Amount.String(), e.Type, e.ProductID, e.BatchCount, e.TickID, e.CreatedAt)
	return err
}

func (s *PostgresStore) LedgerEntriesByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, from_account_id, to_account_id, amount::TEXT, type, product_id, batch_count, tick_id, created_at
		FROM ledger_entries
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount string
		if err := rows.Scan(&e.ID, &e.FromAccountID, &e.ToAccountID, &amount, &e.Type, &e.ProductID, &e.BatchCount, &e.TickID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO companies (id, owner_id, account_id, name, public, share_price, total_shares, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)
	`, c.ID, c.OwnerID, c.AccountID, c.Name, c.Public, c.SharePrice.String(), c.TotalShares, c.CreatedAt)
	return err
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx, companySelect+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, model.ErrCompanyNotFound
	}
	return c, err
}

const companySelect = `
	SELECT id, owner_id, account_id, name, public, share_price::TEXT, total_shares, created_at
	FROM companies`

func scanCompany(row pgx.Row) (*model.Company, error) {
	var c model.Company
	var price string
	if err := row.Scan(&c.ID, &c.OwnerID, &c.AccountID, &c.Name, &c.Public, &price, &c.TotalShares, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.SharePrice, _ = decimal.NewFromString(price)
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx, companySelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCompaniesByIDs(ctx context.Context, ids []string) (map[string]*model.Company, error) {
	rows, err := s.pool.Query(ctx, companySelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*model.Company, len(ids))
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetCompanyPublic(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE companies SET public = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrCompanyNotFound
	}
	return nil
}

func (s *PostgresStore) SetCompanySharePrice(ctx context.Context, id string, price decimal.Decimal) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE companies SET share_price = $1::NUMERIC WHERE id = $2`, price.String(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrCompanyNotFound
	}
	return nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, company_id, name, price, active, units_sold, total_revenue, total_cost, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)
	`, p.ID, p.CompanyID, p.Name, p.Price.String(), p.Active, p.UnitsSold, p.TotalRevenue.String(), p.TotalCost.String(), p.CreatedAt)
	return err
}

const productSelect = `
	SELECT id, company_id, name, price::TEXT, active, units_sold, total_revenue::TEXT, total_cost::TEXT, created_at
	FROM products`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	var price, revenue, cost string
	if err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &price, &p.Active, &p.UnitsSold, &revenue, &cost, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Price, _ = decimal.NewFromString(price)
	p.TotalRevenue, _ = decimal.NewFromString(revenue)
	p.TotalCost, _ = decimal.NewFromString(cost)
	return &p, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, productSelect+` WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, model.ErrProductNotFound
	}
	return p, err
}

func (s *PostgresStore) ListActiveProducts(ctx context.Context) ([]model.Product, error) {
	return s.listProducts(ctx, productSelect+` WHERE active ORDER BY id`)
}

func (s *PostgresStore) ListActiveProductsByCompany(ctx context.Context, companyID string) ([]model.Product, error) {
	return s.listProducts(ctx, productSelect+` WHERE active AND company_id = $1 ORDER BY id`, companyID)
}

func (s *PostgresStore) listProducts(ctx context.Context, query string, args ...any) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddProductSales(ctx context.Context, productID string, units int64, revenue, cost decimal.Decimal) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE products
		SET units_sold = units_sold + $1,
		    total_revenue = total_revenue + $2::NUMERIC,
		    total_cost = total_cost + $3::NUMERIC
		WHERE id = $4
	`, units, revenue.String(), cost.String(), productID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrProductNotFound
	}
	return nil
}

func (s *PostgresStore) AddProductRevenue(ctx context.Context, productID string, delta decimal.Decimal) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE products
		SET total_revenue = total_revenue + $1::NUMERIC
		WHERE id = $2
	`, delta.String(), productID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrProductNotFound
	}
	return nil
}

func (s *PostgresStore) CreateUpgrade(ctx context.Context, u *model.Upgrade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upgrades (id, name, kind, pct, cost)
		VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Name, u.Kind, u.Pct.String(), u.Cost.String())
	return err
}

func (s *PostgresStore) GetUpgrade(ctx context.Context, id string) (*model.Upgrade, error) {
	var u model.Upgrade
	var pct, cost string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, kind, pct::TEXT, cost::TEXT
		FROM upgrades
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Kind, &pct, &cost)
	if err == pgx.ErrNoRows {
		return nil, model.ErrUpgradeNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Pct, _ = decimal.NewFromString(pct)
	u.Cost, _ = decimal.NewFromString(cost)
	return &u, nil
}

func (s *PostgresStore) ListUpgrades(ctx context.Context) ([]model.Upgrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, pct::TEXT, cost::TEXT
		FROM upgrades
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Upgrade
	for rows.Next() {
		var u model.Upgrade
		var pct, cost string
		if err := rows.Scan(&u.ID, &u.Name, &u.Kind, &pct, &cost); err != nil {
			return nil, err
		}
		u.Pct, _ = decimal.NewFromString(pct)
		u.Cost, _ = decimal.NewFromString(cost)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateUserUpgrade(ctx context.Context, u *model.UserUpgrade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_upgrades (id, user_id, upgrade_id, used, target_company_id, applied_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
	`, u.ID, u.UserID, u.UpgradeID, u.Used, u.TargetCompanyID, u.AppliedAmount.String(), u.CreatedAt)
	return err
}

func (s *PostgresStore) GetUserUpgrade(ctx context.Context, id string) (*model.UserUpgrade, error) {
	var u model.UserUpgrade
	var applied string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, upgrade_id, used, target_company_id, applied_amount::TEXT, used_at, created_at
		FROM user_upgrades
		WHERE id = $1
	`, id).Scan(&u.ID, &u.UserID, &u.UpgradeID, &u.Used, &u.TargetCompanyID, &applied, &u.UsedAt, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, model.ErrUpgradeNotFound
	}
	if err != nil {
		return nil, err
	}
	u.AppliedAmount, _ = decimal.NewFromString(applied)
	return &u, nil
}

func (s *PostgresStore) ClaimUserUpgrade(ctx context.Context, id, targetCompanyID string, applied decimal.Decimal) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE user_upgrades
		SET used = true, target_company_id = $1, applied_amount = $2::NUMERIC, used_at = now()
		WHERE id = $3 AND used = false
	`, targetCompanyID, applied.String(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		// Either missing or already claimed; a second read disambiguates.
		if _, gerr := s.GetUserUpgrade(ctx, id); gerr != nil {
			return gerr
		}
		return model.ErrUpgradeUsed
	}
	return nil
}

func (s *PostgresStore) InsertPricePoint(ctx context.Context, p *model.PricePoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_points (id, company_id, price, market_cap, volume, created_at)
		VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)
	`, p.ID, p.CompanyID, p.Price.String(), p.MarketCap.String(), p.Volume, p.CreatedAt)
	return err
}

func (s *PostgresStore) ListPricePoints(ctx context.Context, companyID string, limit int) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, price::TEXT, market_cap::TEXT, volume, created_at
		FROM price_points
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var price, cap string
		if err := rows.Scan(&p.ID, &p.CompanyID, &price, &cap, &p.Volume, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(price)
		p.MarketCap, _ = decimal.NewFromString(cap)
		out = append(out, p)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
