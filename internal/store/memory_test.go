package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tycoon/internal/model"
)

func TestCreateUpgradeKeepsExistingRow(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	first := &model.Upgrade{ID: "boost", Name: "Boost", Kind: model.UpgradeRevenueBoost, Pct: decimal.NewFromInt(10), Cost: decimal.NewFromInt(2_500)}
	if err := st.CreateUpgrade(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	reseed := &model.Upgrade{ID: "boost", Name: "Boost", Kind: model.UpgradeRevenueBoost, Pct: decimal.NewFromInt(99), Cost: decimal.NewFromInt(1)}
	if err := st.CreateUpgrade(ctx, reseed); err != nil {
		t.Fatalf("re-create: %v", err)
	}

	got, err := st.GetUpgrade(ctx, "boost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Cost.Equal(decimal.NewFromInt(2_500)) || !got.Pct.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("reseed overwrote catalog row: %+v", got)
	}
}
