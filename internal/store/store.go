package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
	ErrInvalidReversal     = errors.New("reversal would drive stock negative")
	ErrDuplicateSubmission = errors.New("duplicate bill submission")
)

// ValidationError collects every violated input field rather than failing on
// the first, so billing flows can report all problems at once.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid fields: %s", strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %s, requested %s",
		e.ProductName, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InsufficientStockErrors aggregates per-product violations collected during
// bill validation.
type InsufficientStockErrors []*InsufficientStockError

func (e InsufficientStockErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, item := range e {
		msgs = append(msgs, item.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e InsufficientStockErrors) Unwrap() error { return ErrInsufficientStock }

type TransactionFilter struct {
	PersonName      *string
	Contact         *string
	ProductID       *int64
	IncludeReversed bool
	Limit           int
}

// Repository is the persistence contract for the shop ledger. Compound
// operations (transaction insert plus stock delta, reversal plus flag flip,
// batch bill commit) are applied all-or-nothing by every implementation.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	// CreateTransaction inserts the row and applies its stock delta in one
	// unit. Fails with ErrNotFound when the product is absent and with an
	// InsufficientStockError when a sell exceeds current stock.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	// CreateTransactionBatch commits a bill: every transaction plus the
	// payment/discount adjustments, all-or-nothing.
	CreateTransactionBatch(ctx context.Context, txs []domain.Transaction, adjs []domain.LedgerAdjustment) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
	// AmendTransactionAmountPaid rewrites the transaction's amountPaid. The
	// field is balance-bearing; no adjustment row accompanies the rewrite.
	AmendTransactionAmountPaid(ctx context.Context, id int64, amount decimal.Decimal) (*domain.Transaction, error)
	// ReverseTransaction applies the inverse stock delta and flips the
	// one-way reversed latch. Fails with ErrAlreadyReversed on a second call
	// and ErrInvalidReversal when the inverse delta would drive stock
	// negative.
	ReverseTransaction(ctx context.Context, id int64, at time.Time) (*domain.Transaction, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	CreateLedgerAdjustment(ctx context.Context, adj domain.LedgerAdjustment) (*domain.LedgerAdjustment, error)
	// ListLedgerAdjustments returns rows for the exact (person_name, contact)
	// pair ordered by adjustment_date descending.
	ListLedgerAdjustments(ctx context.Context, personName, contact string) ([]domain.LedgerAdjustment, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)
}
