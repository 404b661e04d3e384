package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"shopledger/backend/internal/domain"
)

func sellTx(total, paidAmt string) domain.Transaction {
	return domain.Transaction{
		Type:       domain.TxSell,
		TotalPrice: dec(total),
		AmountPaid: dec(paidAmt),
	}
}

func returnTx(total, paidAmt string) domain.Transaction {
	return domain.Transaction{
		Type:       domain.TxReturn,
		TotalPrice: dec(total),
		AmountPaid: dec(paidAmt),
	}
}

func adj(amount string) domain.LedgerAdjustment {
	return domain.LedgerAdjustment{Amount: dec(amount)}
}

func TestFoldBalance(t *testing.T) {
	cases := []struct {
		name     string
		txs      []domain.Transaction
		adjs     []domain.LedgerAdjustment
		wantTake string
		wantGive string
	}{
		{
			name:     "fully paid sell settles to zero",
			txs:      []domain.Transaction{sellTx("100", "100")},
			wantTake: "0", wantGive: "0",
		},
		{
			name:     "underpaid sell is owed to the shop",
			txs:      []domain.Transaction{sellTx("100", "60")},
			wantTake: "40", wantGive: "0",
		},
		{
			name:     "later payment adjustment settles the debt",
			txs:      []domain.Transaction{sellTx("100", "60")},
			adjs:     []domain.LedgerAdjustment{adj("40")},
			wantTake: "0", wantGive: "0",
		},
		{
			name:     "unrefunded return is owed to the customer",
			txs:      []domain.Transaction{returnTx("50", "0")},
			wantTake: "0", wantGive: "50",
		},
		{
			name:     "overpaid sell is owed back",
			txs:      []domain.Transaction{sellTx("100", "130")},
			wantTake: "0", wantGive: "30",
		},
		{
			name: "sides net against each other before clamping",
			txs: []domain.Transaction{
				sellTx("200", "50"),
				returnTx("80", "0"),
			},
			wantTake: "70", wantGive: "0",
		},
		{
			name:     "adjustment beyond the debt flips the direction",
			txs:      []domain.Transaction{sellTx("100", "60")},
			adjs:     []domain.LedgerAdjustment{adj("55")},
			wantTake: "0", wantGive: "15",
		},
		{
			name:     "negative adjustment raises what is owed",
			txs:      []domain.Transaction{sellTx("100", "60")},
			adjs:     []domain.LedgerAdjustment{adj("-10")},
			wantTake: "50", wantGive: "0",
		},
		{
			name: "reversed transactions are ignored",
			txs: []domain.Transaction{
				sellTx("100", "0"),
				{Type: domain.TxSell, TotalPrice: dec("500"), AmountPaid: dec("0"), Reversed: true},
			},
			wantTake: "100", wantGive: "0",
		},
		{
			name:     "underpaid buy folds like a sell",
			txs:      []domain.Transaction{{Type: domain.TxBuy, TotalPrice: dec("300"), AmountPaid: dec("120")}},
			wantTake: "180", wantGive: "0",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := foldBalance(tc.txs, tc.adjs)
			require.True(t, got.TotalToTake.Equal(dec(tc.wantTake)),
				"totalToTake: want %s, got %s", tc.wantTake, got.TotalToTake)
			require.True(t, got.TotalToGive.Equal(dec(tc.wantGive)),
				"totalToGive: want %s, got %s", tc.wantGive, got.TotalToGive)
		})
	}
}

func TestComputeBalanceValidatesCustomer(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.ComputeBalance(context.Background(), " ", "")
	require.Error(t, err)
}

func TestComputeBalanceFollowsTransactionLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tx, err := svc.RecordTransaction(ctx, domain.RecordTransactionRequest{
		ProductID:        1,
		Quantity:         dec("10"),
		TransactionPrice: dec("62"),
		AmountPaid:       paid("400"),
		Type:             domain.TxSell,
		PersonName:       "Ravi Kumar",
		Contact:          "9811111111",
	})
	require.NoError(t, err)

	balance, err := svc.ComputeBalance(ctx, "Ravi Kumar", "9811111111")
	require.NoError(t, err)
	require.True(t, balance.TotalToTake.Equal(dec("220")), "got %s", balance.TotalToTake)

	_, err = svc.AmendAmountPaid(ctx, tx.ID, dec("620"))
	require.NoError(t, err)

	// The rewritten amountPaid is the balance-bearing record: paying off the
	// 620 sale in full settles the balance to exactly zero, counted once.
	balance, err = svc.ComputeBalance(ctx, "Ravi Kumar", "9811111111")
	require.NoError(t, err)
	require.True(t, balance.TotalToTake.IsZero(), "got %s", balance.TotalToTake)
	require.True(t, balance.TotalToGive.IsZero(), "got %s", balance.TotalToGive)

	_, err = svc.ReverseTransaction(ctx, tx.ID)
	require.NoError(t, err)

	// Reversal drops the transaction; with no adjustment rows in play the
	// balance stays settled.
	balance, err = svc.ComputeBalance(ctx, "Ravi Kumar", "9811111111")
	require.NoError(t, err)
	require.True(t, balance.TotalToTake.IsZero(), "got %s", balance.TotalToTake)
	require.True(t, balance.TotalToGive.IsZero(), "got %s", balance.TotalToGive)
}

func TestLedgerEntriesThresholdAndOrder(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	record := func(person, contact, qty, price, amountPaid string) {
		t.Helper()
		_, err := svc.RecordTransaction(ctx, domain.RecordTransactionRequest{
			ProductID:        1,
			Quantity:         dec(qty),
			TransactionPrice: dec(price),
			AmountPaid:       paid(amountPaid),
			Type:             domain.TxSell,
			PersonName:       person,
			Contact:          contact,
		})
		require.NoError(t, err)
	}

	record("Ravi Kumar", "9811111111", "10", "62", "320")  // owes 300
	record("Sita Devi", "9822222222", "2", "62", "119")    // owes 5, under threshold
	record("Mohan Lal", "9833333333", "20", "62", "340")   // owes 900

	entries, err := svc.LedgerEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Mohan Lal", entries[0].PersonName)
	require.Equal(t, "Ravi Kumar", entries[1].PersonName)
	require.True(t, entries[0].TotalToTake.Equal(dec("900")), "got %s", entries[0].TotalToTake)
	require.NotEmpty(t, entries[0].Transactions)
}
