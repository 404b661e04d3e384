package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func billLine(productID int64, qty, price, amountPaid string, kind domain.TxType) domain.BillLine {
	return domain.BillLine{
		ProductID:        productID,
		Quantity:         dec(qty),
		TransactionPrice: dec(price),
		AmountPaid:       paid(amountPaid),
		Type:             kind,
	}
}

func TestSubmitBillCommitsWholeBatch(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	req := domain.BillRequest{
		PersonName: "Ravi Kumar",
		Contact:    "9811111111",
		Lines: []domain.BillLine{
			billLine(3, "4", "465", "1000", domain.TxSell),
			billLine(5, "10", "80", "0", domain.TxSell),
			billLine(3, "1", "465", "0", domain.TxReturn),
		},
		PaymentAmount:  dec("500"),
		DiscountAmount: dec("35"),
	}

	receipt, submission, err := svc.SubmitBill(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.NotNil(t, submission)
	require.NotEmpty(t, submission.Fingerprint)

	// gross = 4×465 + 10×80 − 1×465 = 2195
	require.True(t, receipt.GrossTotal.Equal(dec("2195")), "got %s", receipt.GrossTotal)
	require.True(t, receipt.NetDue.Equal(dec("1660")), "got %s", receipt.NetDue)
	require.Len(t, receipt.Lines, 3)
	require.Equal(t, "MS Angle 40x40", receipt.Lines[0].ProductName)

	txs, err := svc.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	stamp := txs[0].TransactionDate
	for _, tx := range txs {
		require.True(t, tx.TransactionDate.Equal(stamp), "lines must share one timestamp")
	}

	adjs, err := repo.ListLedgerAdjustments(ctx, "Ravi Kumar", "9811111111")
	require.NoError(t, err)
	require.Len(t, adjs, 2)
	byReason := map[string]domain.LedgerAdjustment{}
	for _, a := range adjs {
		byReason[a.Reason] = a
	}
	require.True(t, byReason[domain.ReasonPaidWhileBilling].Amount.Equal(dec("500")))
	require.True(t, byReason[domain.ReasonDiscount].Amount.Equal(dec("35")))

	angle, err := svc.GetProduct(ctx, 3)
	require.NoError(t, err)
	// 96 − 4 sold + 1 returned
	require.True(t, angle.Stock.Equal(dec("93")), "got %s", angle.Stock)
}

func TestSubmitBillAggregatedStockCheck(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// Two lines of 25 each against a stock of 42: each fits alone, together
	// they do not.
	req := domain.BillRequest{
		PersonName: "Sita Devi",
		Contact:    "9822222222",
		Lines: []domain.BillLine{
			billLine(4, "25", "810", "0", domain.TxSell),
			billLine(4, "25", "810", "0", domain.TxSell),
		},
	}

	_, submission, err := svc.SubmitBill(ctx, req, nil)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Nil(t, submission)

	var stockErrs store.InsufficientStockErrors
	require.ErrorAs(t, err, &stockErrs)
	require.Len(t, stockErrs, 1)
	require.True(t, stockErrs[0].Requested.Equal(dec("50")), "got %s", stockErrs[0].Requested)
	require.True(t, stockErrs[0].Available.Equal(dec("42")), "got %s", stockErrs[0].Available)

	txs, err := svc.ListTransactions(ctx, store.TransactionFilter{})
	require.NoError(t, err)
	require.Empty(t, txs, "a failed bill must write nothing")

	sheet, err := svc.GetProduct(ctx, 4)
	require.NoError(t, err)
	require.True(t, sheet.Stock.Equal(dec("42")), "got %s", sheet.Stock)

	// The guard was released, so a corrected retry of the same customer goes
	// through.
	req.Lines = []domain.BillLine{billLine(4, "25", "810", "0", domain.TxSell)}
	_, submission, err = svc.SubmitBill(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, submission)
}

func TestSubmitBillDuplicateWindow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req := domain.BillRequest{
		PersonName: "Mohan Lal",
		Contact:    "9833333333",
		Lines:      []domain.BillLine{billLine(5, "2", "80", "160", domain.TxSell)},
	}

	_, submission, err := svc.SubmitBill(ctx, req, nil)
	require.NoError(t, err)

	// Identical bill inside the window, same session.
	_, again, err := svc.SubmitBill(ctx, req, submission)
	require.ErrorIs(t, err, store.ErrDuplicateSubmission)
	require.Equal(t, submission, again, "a rejected bill must not advance the submission")

	// Identical bill inside the window from a fresh session is caught by the
	// shared guard.
	_, _, err = svc.SubmitBill(ctx, req, nil)
	require.ErrorIs(t, err, store.ErrDuplicateSubmission)

	// A changed line is a different bill.
	req.Lines = []domain.BillLine{billLine(5, "3", "80", "240", domain.TxSell)}
	_, next, err := svc.SubmitBill(ctx, req, submission)
	require.NoError(t, err)
	require.NotEqual(t, submission.Fingerprint, next.Fingerprint)
}

func TestSubmitBillAcceptsIdenticalBillAfterWindow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	req := domain.BillRequest{
		PersonName: "Mohan Lal",
		Contact:    "9833333333",
		Lines:      []domain.BillLine{billLine(5, "2", "80", "160", domain.TxSell)},
	}

	_, submission, err := svc.SubmitBill(ctx, req, nil)
	require.NoError(t, err)

	// Age both the session submission and the guard entry past the window.
	aged := &billing.Submission{
		Fingerprint: submission.Fingerprint,
		At:          submission.At.Add(-3 * time.Minute),
	}
	require.NoError(t, svc.guard.Forget(ctx, submission.Fingerprint))

	_, _, err = svc.SubmitBill(ctx, req, aged)
	require.NoError(t, err)
}

func TestSubmitBillProfitPercentDiscount(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// Binding Wire costs 68, sells at 80: 10 kg yields a profit of 120.
	req := domain.BillRequest{
		PersonName:      "Ravi Kumar",
		Contact:         "9811111111",
		Lines:           []domain.BillLine{billLine(5, "10", "80", "800", domain.TxSell)},
		DiscountMode:    domain.DiscountProfitPercent,
		DiscountPercent: dec("50"),
	}

	receipt, _, err := svc.SubmitBill(ctx, req, nil)
	require.NoError(t, err)
	require.True(t, receipt.Discount.Equal(dec("60")), "got %s", receipt.Discount)

	adjs, err := repo.ListLedgerAdjustments(ctx, "Ravi Kumar", "9811111111")
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	require.Equal(t, domain.ReasonDiscount, adjs[0].Reason)
	require.True(t, adjs[0].Amount.Equal(dec("60")))
}

func TestSubmitBillNegativeDiscountReason(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	req := domain.BillRequest{
		PersonName:     "Ravi Kumar",
		Contact:        "9811111111",
		Lines:          []domain.BillLine{billLine(5, "1", "80", "80", domain.TxSell)},
		DiscountAmount: dec("-20"),
	}

	receipt, _, err := svc.SubmitBill(ctx, req, nil)
	require.NoError(t, err)
	require.True(t, receipt.Discount.Equal(dec("-20")))

	adjs, err := repo.ListLedgerAdjustments(ctx, "Ravi Kumar", "9811111111")
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	require.Equal(t, domain.ReasonDiscountAdjustment, adjs[0].Reason)
}

func TestSubmitBillValidationCollectsLineFields(t *testing.T) {
	svc, _ := newTestService()

	req := domain.BillRequest{
		Contact: "9811111111",
		Lines: []domain.BillLine{
			{ProductID: 5, Quantity: dec("1"), TransactionPrice: dec("80"), Type: domain.TxSell},
		},
	}

	_, _, err := svc.SubmitBill(context.Background(), req, nil)
	var verr *store.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	require.Contains(t, verr.Fields, "person_name")
	require.Contains(t, verr.Fields, "lines[0].amountPaid")
}
