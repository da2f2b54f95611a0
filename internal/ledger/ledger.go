// Package ledger implements the balance cache and the append-only ledger
// store. Every money movement in the game goes through this package: the
// ledger is the source of truth, the Balance row plus the Account's cached
// copy are the fast read path, and the two copies are only ever written
// together.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tycoon/internal/model"
	"tycoon/internal/store"
)

type Service struct {
	store store.Store
	log   *slog.Logger
}

func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, log: logger}
}

// TransferMeta carries the optional fields of a ledger entry.
type TransferMeta struct {
	ProductID  string
	BatchCount int64
	TickID     string
}

// GetBalance reads the materialized balance. It never replays the ledger;
// LedgerBalance exists for that, as a repair tool only.
func (s *Service) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	b, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Amount, nil
}

// ApplyDelta is the single writer for balance mutation. Each call represents
// one delta; it is not idempotent, retries must be deduplicated by the
// caller. Both balance copies are updated in one step by the store.
func (s *Service) ApplyDelta(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	next, err := s.store.ApplyBalanceDelta(ctx, accountID, delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("apply delta: %w", err)
	}
	return next, nil
}

// RecordTransfer appends one immutable ledger entry. It does not touch
// balances: callers wanting the dual effect invoke ApplyDelta for both sides
// themselves.
func (s *Service) RecordTransfer(ctx context.Context, from, to string, amount decimal.Decimal, typ model.TxType, meta TransferMeta) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("ledger amount must not be negative, got %s", amount)
	}
	batch := meta.BatchCount
	if batch <= 0 {
		batch = 1
	}
	e := &model.LedgerEntry{
		ID:            uuid.NewString(),
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        amount,
		Type:          typ,
		ProductID:     meta.ProductID,
		BatchCount:    batch,
		TickID:        meta.TickID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, e); err != nil {
		return "", fmt.Errorf("record transfer: %w", err)
	}
	return e.ID, nil
}

// InitializeBalance seeds a newly created account exactly once.
func (s *Service) InitializeBalance(ctx context.Context, accountID string, amount decimal.Decimal) error {
	return s.store.InitializeBalance(ctx, accountID, amount)
}

// Transfer moves amount between two accounts: debit, credit and one ledger
// entry. The system account is the mint/sink and carries no cached balance,
// so deltas against it are skipped. Both endpoints are validated before
// either side is touched; an unknown account fails the whole transfer.
func (s *Service) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, typ model.TxType) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	if to != model.SystemAccountID {
		if _, err := s.store.GetAccount(ctx, to); err != nil {
			return "", err
		}
	}
	if from != model.SystemAccountID {
		balance, err := s.GetBalance(ctx, from)
		if err != nil {
			return "", err
		}
		if balance.LessThan(amount) {
			return "", model.ErrInsufficientFunds
		}
		if _, err := s.ApplyDelta(ctx, from, amount.Neg()); err != nil {
			return "", err
		}
	}
	if to != model.SystemAccountID {
		if _, err := s.ApplyDelta(ctx, to, amount); err != nil {
			return "", err
		}
	}
	return s.RecordTransfer(ctx, from, to, amount, typ, TransferMeta{})
}

// LedgerBalance derives an account's balance by summing its signed entries.
// This is the correctness fallback, never a hot path.
func (s *Service) LedgerBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	entries, err := s.store.LedgerEntriesByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.SignedAmount(accountID))
	}
	return sum, nil
}

// Reconcile rewrites both balance copies from the ledger-derived sum and
// reports the drift it found. Administrative repair tool, not a runtime
// dependency.
func (s *Service) Reconcile(ctx context.Context, accountID string) (drift decimal.Decimal, err error) {
	derived, err := s.LedgerBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	cached := decimal.Zero
	if b, err := s.store.GetBalance(ctx, accountID); err == nil {
		cached = b.Amount
	} else if err != model.ErrBalanceNotFound {
		return decimal.Zero, err
	}
	drift = derived.Sub(cached)
	if drift.IsZero() {
		return drift, nil
	}
	if err := s.store.SetBalance(ctx, accountID, derived); err != nil {
		return drift, err
	}
	s.log.Warn("balance reconciled", "account_id", accountID, "cached", cached.String(), "derived", derived.String())
	return drift, nil
}
