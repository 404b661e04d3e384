package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

const balanceCacheTTL = 30 * time.Second

// ComputeBalance folds a customer's full non-reversed transaction history plus
// every ledger adjustment into the two outstanding totals. No running balance
// is persisted anywhere; this fold is always recomputed from scratch.
func (s *Service) ComputeBalance(ctx context.Context, personName, contact string) (domain.Balance, error) {
	if strings.TrimSpace(personName) == "" || strings.TrimSpace(contact) == "" {
		return domain.Balance{}, &store.ValidationError{Fields: []string{"person_name", "contact"}}
	}

	key := domain.Customer{PersonName: personName, Contact: contact}.Key()
	if cached, ok := s.balances.Get(ctx, key); ok {
		return *cached, nil
	}

	txs, err := s.repo.ListTransactions(ctx, store.TransactionFilter{
		PersonName: &personName,
		Contact:    &contact,
	})
	if err != nil {
		return domain.Balance{}, err
	}
	adjs, err := s.repo.ListLedgerAdjustments(ctx, personName, contact)
	if err != nil {
		return domain.Balance{}, err
	}

	balance := foldBalance(txs, adjs)
	s.balances.Set(ctx, key, balance, balanceCacheTTL)
	return balance, nil
}

// foldBalance is the pure reconciliation: per-transaction diffs are bucketed
// into take/give, then the adjustment sum is netted out and the result clamped
// so at most one side is non-zero.
func foldBalance(txs []domain.Transaction, adjs []domain.LedgerAdjustment) domain.Balance {
	totalToTake := decimal.Zero
	totalToGive := decimal.Zero
	for _, tx := range txs {
		if tx.Reversed {
			continue
		}
		diff := tx.Type.BalanceDiff(tx.TotalPrice, tx.AmountPaid)
		if diff.IsNegative() {
			totalToTake = totalToTake.Add(diff.Abs())
		} else if diff.IsPositive() {
			totalToGive = totalToGive.Add(diff)
		}
	}

	adjustmentSum := decimal.Zero
	for _, adj := range adjs {
		adjustmentSum = adjustmentSum.Add(adj.Amount)
	}

	net := totalToTake.Sub(totalToGive).Sub(adjustmentSum)
	if net.IsPositive() {
		return domain.Balance{TotalToTake: net, TotalToGive: decimal.Zero}
	}
	return domain.Balance{TotalToTake: decimal.Zero, TotalToGive: net.Neg()}
}

// LedgerEntries lists every customer with an outstanding balance at or above
// the display threshold, largest first, each with its transaction history.
func (s *Service) LedgerEntries(ctx context.Context) ([]domain.LedgerEntry, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LedgerEntry, 0, len(customers))
	for _, c := range customers {
		balance, err := s.ComputeBalance(ctx, c.PersonName, c.Contact)
		if err != nil {
			return nil, err
		}
		outstanding := balance.TotalToTake.Add(balance.TotalToGive)
		if outstanding.LessThan(s.opts.LedgerThreshold) {
			continue
		}
		person, contact := c.PersonName, c.Contact
		txs, err := s.repo.ListTransactions(ctx, store.TransactionFilter{
			PersonName: &person,
			Contact:    &contact,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.LedgerEntry{
			Customer:     c,
			Balance:      balance,
			Transactions: txs,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		oi := entries[i].TotalToTake.Add(entries[i].TotalToGive)
		oj := entries[j].TotalToTake.Add(entries[j].TotalToGive)
		if oi.Equal(oj) {
			return entries[i].Key() < entries[j].Key()
		}
		return oi.GreaterThan(oj)
	})
	return entries, nil
}
