// Package memory provides an in-process Repository used for development and
// tests. Compound operations hold the store mutex for their whole duration, so
// stock checks and writes are atomic with respect to each other.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

type Store struct {
	mu sync.Mutex

	products     map[int64]domain.Product
	transactions map[int64]domain.Transaction
	adjustments  map[int64]domain.LedgerAdjustment
	auditLogs    []domain.AuditLog

	nextProductID     int64
	nextTransactionID int64
	nextAdjustmentID  int64
}

func New() *Store {
	return &Store{
		products:          make(map[int64]domain.Product),
		transactions:      make(map[int64]domain.Transaction),
		adjustments:       make(map[int64]domain.LedgerAdjustment),
		nextProductID:     1,
		nextTransactionID: 1,
		nextAdjustmentID:  1,
	}
}

// NewSeeded returns a store preloaded with a small steel-shop catalog.
func NewSeeded() *Store {
	s := New()
	seed := []domain.Product{
		{Name: "TMT Bar 12mm", Description: "Fe-500 grade", SalesType: domain.SalesByWeight, CostPrice: dec("54"), SellPrice: dec("62"), Stock: dec("1250.5")},
		{Name: "TMT Bar 8mm", Description: "Fe-500 grade", SalesType: domain.SalesByWeight, CostPrice: dec("55"), SellPrice: dec("63"), Stock: dec("840")},
		{Name: "MS Angle 40x40", Description: "6 m length", SalesType: domain.SalesByQuantity, CostPrice: dec("410"), SellPrice: dec("465"), Stock: dec("96")},
		{Name: "GI Sheet 24G", Description: "8 ft", SalesType: domain.SalesByQuantity, CostPrice: dec("720"), SellPrice: dec("810"), Stock: dec("42")},
		{Name: "Binding Wire", SalesType: domain.SalesByWeight, CostPrice: dec("68"), SellPrice: dec("80"), Stock: dec("35.25")},
	}
	for _, p := range seed {
		p.ID = s.nextProductID
		s.nextProductID++
		s.products[p.ID] = p
	}
	return s
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if strings.EqualFold(existing.Name, product.Name) {
			return nil, &store.ValidationError{Fields: []string{"name"}}
		}
	}
	product.ID = s.nextProductID
	s.nextProductID++
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.products {
		if existing.ID != product.ID && strings.EqualFold(existing.Name, product.Name) {
			return nil, &store.ValidationError{Fields: []string{"name"}}
		}
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// applyStockDelta mutates product stock, guarding against going negative.
// Caller must hold the mutex.
func (s *Store) applyStockDelta(productID int64, delta decimal.Decimal, requested decimal.Decimal) error {
	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	next := p.Stock.Add(delta)
	if next.IsNegative() {
		return &store.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Available:   p.Stock,
			Requested:   requested,
		}
	}
	p.Stock = next
	s.products[productID] = p
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created, err := s.createTransactionLocked(tx)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) createTransactionLocked(tx domain.Transaction) (*domain.Transaction, error) {
	p, ok := s.products[tx.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.applyStockDelta(tx.ProductID, tx.Type.StockDelta(tx.Quantity), tx.Quantity); err != nil {
		return nil, err
	}
	tx.ID = s.nextTransactionID
	s.nextTransactionID++
	tx.ProductName = p.Name
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = time.Now().UTC()
	}
	s.transactions[tx.ID] = tx
	return &tx, nil
}

func (s *Store) CreateTransactionBatch(ctx context.Context, txs []domain.Transaction, adjs []domain.LedgerAdjustment) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot stock so a mid-batch failure leaves nothing applied.
	prevProducts := make(map[int64]domain.Product, len(s.products))
	for id, p := range s.products {
		prevProducts[id] = p
	}
	prevTxID := s.nextTransactionID

	created := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		c, err := s.createTransactionLocked(tx)
		if err != nil {
			s.products = prevProducts
			for _, done := range created {
				delete(s.transactions, done.ID)
			}
			s.nextTransactionID = prevTxID
			return nil, err
		}
		created = append(created, *c)
	}
	for _, adj := range adjs {
		adj.ID = s.nextAdjustmentID
		s.nextAdjustmentID++
		if adj.Date.IsZero() {
			adj.Date = time.Now().UTC()
		}
		s.adjustments[adj.ID] = adj
	}
	return created, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if !filter.IncludeReversed && tx.Reversed {
			continue
		}
		if filter.PersonName != nil && tx.PersonName != *filter.PersonName {
			continue
		}
		if filter.Contact != nil && tx.Contact != *filter.Contact {
			continue
		}
		if filter.ProductID != nil && tx.ProductID != *filter.ProductID {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].TransactionDate.After(out[j].TransactionDate)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) AmendTransactionAmountPaid(ctx context.Context, id int64, amount decimal.Decimal) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx.AmountPaid = amount
	s.transactions[id] = tx
	return &tx, nil
}

func (s *Store) ReverseTransaction(ctx context.Context, id int64, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Reversed {
		return nil, store.ErrAlreadyReversed
	}
	inverse := tx.Type.StockDelta(tx.Quantity).Neg()
	p, ok := s.products[tx.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := p.Stock.Add(inverse)
	if next.IsNegative() {
		return nil, store.ErrInvalidReversal
	}
	p.Stock = next
	s.products[tx.ProductID] = p
	tx.Reversed = true
	tx.ReversedAt = &at
	s.transactions[id] = tx
	return &tx, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]domain.Customer)
	for _, tx := range s.transactions {
		c := domain.Customer{PersonName: tx.PersonName, Contact: tx.Contact}
		seen[c.Key()] = c
	}
	for _, adj := range s.adjustments {
		c := domain.Customer{PersonName: adj.PersonName, Contact: adj.Contact}
		seen[c.Key()] = c
	}
	out := make([]domain.Customer, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Store) CreateLedgerAdjustment(ctx context.Context, adj domain.LedgerAdjustment) (*domain.LedgerAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adj.ID = s.nextAdjustmentID
	s.nextAdjustmentID++
	if adj.Date.IsZero() {
		adj.Date = time.Now().UTC()
	}
	s.adjustments[adj.ID] = adj
	return &adj, nil
}

func (s *Store) ListLedgerAdjustments(ctx context.Context, personName, contact string) ([]domain.LedgerAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LedgerAdjustment, 0)
	for _, adj := range s.adjustments {
		if adj.PersonName == personName && adj.Contact == contact {
			out = append(out, adj)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditLog, 0)
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
