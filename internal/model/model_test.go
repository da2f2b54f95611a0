package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSignedAmount(t *testing.T) {
	e := LedgerEntry{
		FromAccountID: "a",
		ToAccountID:   "b",
		Amount:        decimal.NewFromInt(40),
	}
	if got := e.SignedAmount("a"); !got.Equal(decimal.NewFromInt(-40)) {
		t.Fatalf("source side = %s, want -40", got)
	}
	if got := e.SignedAmount("b"); !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("destination side = %s, want 40", got)
	}
	if got := e.SignedAmount("c"); !got.IsZero() {
		t.Fatalf("bystander = %s, want 0", got)
	}
}
