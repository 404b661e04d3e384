package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestTxTypeValid(t *testing.T) {
	for _, kind := range []TxType{TxBuy, TxSell, TxReturn} {
		if !kind.Valid() {
			t.Fatalf("%s should be valid", kind)
		}
	}
	for _, kind := range []TxType{"", "trade", "SELL"} {
		if kind.Valid() {
			t.Fatalf("%q should be invalid", kind)
		}
	}
}

func TestStockDeltaSigns(t *testing.T) {
	qty := dec("7.5")
	if !TxSell.StockDelta(qty).Equal(dec("-7.5")) {
		t.Fatalf("sell should remove stock")
	}
	if !TxBuy.StockDelta(qty).Equal(qty) || !TxReturn.StockDelta(qty).Equal(qty) {
		t.Fatalf("buy and return should add stock")
	}
}

func TestBalanceDiffSigns(t *testing.T) {
	// Customer paid 60 on a 100 sale: they owe 40.
	if !TxSell.BalanceDiff(dec("100"), dec("60")).Equal(dec("-40")) {
		t.Fatalf("underpaid sell should be negative")
	}
	// Customer returned goods worth 50 and got nothing back: the shop owes 50.
	if !TxReturn.BalanceDiff(dec("50"), dec("0")).Equal(dec("50")) {
		t.Fatalf("unrefunded return should be positive")
	}
}

func TestReferencePrice(t *testing.T) {
	p := Product{CostPrice: dec("54"), SellPrice: dec("62")}
	if !TxBuy.ReferencePrice(p).Equal(dec("54")) {
		t.Fatalf("buy should reference cost price")
	}
	if !TxSell.ReferencePrice(p).Equal(dec("62")) || !TxReturn.ReferencePrice(p).Equal(dec("62")) {
		t.Fatalf("sell and return should reference sell price")
	}
}

func TestCustomerKey(t *testing.T) {
	a := Customer{PersonName: "Ravi Kumar", Contact: "981"}
	b := Customer{PersonName: "Ravi Kumar", Contact: "982"}
	if a.Key() == b.Key() {
		t.Fatalf("different contacts must key differently")
	}
	if a.Key() != "Ravi Kumar|981" {
		t.Fatalf("unexpected key %q", a.Key())
	}
}
