package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

// SubmitBill validates and commits a multi-line bill for one customer. The
// caller passes the last accepted submission (nil for a fresh session) and
// gets the new one back on success; on any failure the previous submission is
// returned unchanged so the guard state never advances for a failed bill.
//
// All lines share one creation timestamp, and the whole batch, including the
// payment and discount adjustments, is committed all-or-nothing.
func (s *Service) SubmitBill(ctx context.Context, req domain.BillRequest, prev *billing.Submission) (*domain.Receipt, *billing.Submission, error) {
	session := billing.NewSession(strings.TrimSpace(req.PersonName), strings.TrimSpace(req.Contact))
	session.Lines = session.Lines[:0]
	var fields []string
	for i, line := range req.Lines {
		paid := decimal.Zero
		if line.AmountPaid != nil {
			paid = *line.AmountPaid
		} else {
			fields = append(fields, fmt.Sprintf("lines[%d].amountPaid", i))
		}
		session.Lines = append(session.Lines, billing.Line{
			ProductID:        line.ProductID,
			Quantity:         line.Quantity,
			TransactionPrice: line.TransactionPrice,
			AmountPaid:       paid,
			Type:             line.Type,
		})
	}

	if err := session.Validate(); err != nil {
		if verr, ok := err.(*store.ValidationError); ok {
			verr.Fields = append(fields, verr.Fields...)
			return nil, prev, verr
		}
		return nil, prev, err
	}
	if len(fields) > 0 {
		return nil, prev, &store.ValidationError{Fields: fields}
	}

	now := s.now().UTC()
	submission, err := session.BeginSubmit(prev, now, s.opts.DuplicateWindow)
	if err != nil {
		return nil, prev, err
	}

	// Cross-session guard: the same bill submitted from another session inside
	// the window is also a duplicate.
	fresh, err := s.guard.Remember(ctx, submission.Fingerprint, s.opts.DuplicateWindow)
	if err != nil {
		s.log.WithError(err).Warn("submission guard unavailable, falling back to session check only")
	} else if !fresh {
		session.Abort()
		return nil, prev, store.ErrDuplicateSubmission
	}

	receipt, err := s.commitBill(ctx, session, req, now)
	if err != nil {
		if ferr := s.guard.Forget(ctx, submission.Fingerprint); ferr != nil {
			s.log.WithError(ferr).Warn("failed to release submission guard")
		}
		session.Abort()
		return nil, prev, err
	}

	if err := session.Commit(); err != nil {
		return nil, prev, err
	}
	session.Reset()
	return receipt, submission, nil
}

func (s *Service) commitBill(ctx context.Context, session *billing.Session, req domain.BillRequest, now time.Time) (*domain.Receipt, error) {
	// Fresh product reads: derived prices and the stock pre-check must not use
	// stale data.
	products := make(map[int64]domain.Product, len(session.Lines))
	costPrices := make(map[int64]decimal.Decimal, len(session.Lines))
	for i, line := range session.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			p, err := s.repo.GetProduct(ctx, line.ProductID)
			if err != nil {
				return nil, err
			}
			product = *p
			products[line.ProductID] = product
			costPrices[line.ProductID] = product.CostPrice
		}
		if err := session.RecomputeLine(i, product, true); err != nil {
			return nil, err
		}
	}

	// Stock is checked per product against the aggregated sell quantity of the
	// whole bill, collecting every violation before failing.
	var stockErrs store.InsufficientStockErrors
	for productID, qty := range session.SellQuantities() {
		product := products[productID]
		if qty.GreaterThan(product.Stock) {
			stockErrs = append(stockErrs, &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   qty,
			})
		}
	}
	if len(stockErrs) > 0 {
		return nil, stockErrs
	}

	discount := req.DiscountAmount
	if req.DiscountMode == domain.DiscountProfitPercent {
		discount = req.DiscountPercent.
			Div(decimal.NewFromInt(100)).
			Mul(session.Profit(costPrices))
	}

	txs := make([]domain.Transaction, 0, len(session.Lines))
	for _, line := range session.Lines {
		txs = append(txs, domain.Transaction{
			ProductID:        line.ProductID,
			Quantity:         line.Quantity,
			ActualPrice:      line.ActualPrice,
			TransactionPrice: line.TransactionPrice,
			TotalPrice:       line.TotalPrice,
			AmountPaid:       line.AmountPaid,
			Type:             line.Type,
			PersonName:       session.PersonName,
			Contact:          session.Contact,
			TransactionDate:  now,
		})
	}

	var adjs []domain.LedgerAdjustment
	if req.PaymentAmount.IsPositive() {
		adjs = append(adjs, domain.LedgerAdjustment{
			PersonName: session.PersonName,
			Contact:    session.Contact,
			Amount:     req.PaymentAmount,
			Date:       now,
			Reason:     domain.ReasonPaidWhileBilling,
		})
	}
	if !discount.IsZero() {
		reason := domain.ReasonDiscount
		if discount.IsNegative() {
			reason = domain.ReasonDiscountAdjustment
		}
		adjs = append(adjs, domain.LedgerAdjustment{
			PersonName: session.PersonName,
			Contact:    session.Contact,
			Amount:     discount,
			Date:       now,
			Reason:     reason,
		})
	}

	created, err := s.repo.CreateTransactionBatch(ctx, txs, adjs)
	if err != nil {
		return nil, err
	}

	gross := session.GrossTotal()
	receipt := &domain.Receipt{
		ReceiptID:   xid.New("rcpt"),
		ShopName:    s.opts.ShopName,
		PersonName:  session.PersonName,
		Contact:     session.Contact,
		Lines:       make([]domain.ReceiptLine, 0, len(created)),
		GrossTotal:  gross,
		Paid:        req.PaymentAmount,
		Discount:    discount,
		NetDue:      gross.Sub(req.PaymentAmount).Sub(discount),
		SubmittedAt: now,
		Fingerprint: session.Fingerprint(),
	}
	for _, tx := range created {
		receipt.Lines = append(receipt.Lines, domain.ReceiptLine{
			ProductID:        tx.ProductID,
			ProductName:      tx.ProductName,
			Quantity:         tx.Quantity,
			ActualPrice:      tx.ActualPrice,
			TransactionPrice: tx.TransactionPrice,
			TotalPrice:       tx.TotalPrice,
			AmountPaid:       tx.AmountPaid,
			Type:             tx.Type,
		})
	}

	s.invalidateBalance(ctx, session.PersonName, session.Contact)
	s.logAudit(ctx, "bill_submit", "receipt", receipt.ReceiptID,
		fmt.Sprintf("lines=%d,gross=%s,paid=%s,discount=%s",
			len(created), gross.String(), req.PaymentAmount.String(), discount.String()))
	return receipt, nil
}
