// Package service implements the shop ledger core: the product catalog, the
// transaction recorder with its stock guard, the balance reconciler, bill
// submission, and the insight queries. Handlers talk to this package only.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

type Options struct {
	// DuplicateWindow is how long an identical bill submission is rejected.
	DuplicateWindow time.Duration
	// LedgerThreshold hides ledger entries whose outstanding balance is below
	// this magnitude.
	LedgerThreshold decimal.Decimal
	ShopName        string
}

type Service struct {
	repo     store.Repository
	guard    cache.SubmissionGuard
	balances cache.BalanceCache
	log      *logrus.Logger
	opts     Options

	now func() time.Time
}

func New(repo store.Repository, guard cache.SubmissionGuard, balances cache.BalanceCache, log *logrus.Logger, opts Options) *Service {
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = 120 * time.Second
	}
	if opts.LedgerThreshold.IsZero() {
		opts.LedgerThreshold = decimal.NewFromInt(10)
	}
	if opts.ShopName == "" {
		opts.ShopName = "Shop Ledger"
	}
	if guard == nil {
		guard = cache.NewMemoryGuard()
	}
	if balances == nil {
		balances = cache.NoopBalanceCache{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		repo:     repo,
		guard:    guard,
		balances: balances,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.SalesType == "" {
		req.SalesType = domain.SalesByQuantity
	}

	var fields []string
	if req.Name == "" {
		fields = append(fields, "name")
	}
	if !req.SalesType.Valid() {
		fields = append(fields, "salesType")
	}
	if req.CostPrice.IsNegative() {
		fields = append(fields, "costPrice")
	}
	if req.SellPrice.IsNegative() {
		fields = append(fields, "sellPrice")
	}
	if req.Stock.IsNegative() {
		fields = append(fields, "stock")
	}
	if len(fields) > 0 {
		return nil, &store.ValidationError{Fields: fields}
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:        req.Name,
		Description: req.Description,
		SalesType:   req.SalesType,
		CostPrice:   req.CostPrice,
		SellPrice:   req.SellPrice,
		Stock:       req.Stock,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_create", "product", fmt.Sprint(created.ID),
		fmt.Sprintf("name=%s,stock=%s", created.Name, created.Stock.String()))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (*domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	var fields []string
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			fields = append(fields, "name")
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.SalesType != nil {
		if !req.SalesType.Valid() {
			fields = append(fields, "salesType")
		}
		updated.SalesType = *req.SalesType
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			fields = append(fields, "costPrice")
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.SellPrice != nil {
		if req.SellPrice.IsNegative() {
			fields = append(fields, "sellPrice")
		}
		updated.SellPrice = *req.SellPrice
	}
	if req.Stock != nil {
		if req.Stock.IsNegative() {
			fields = append(fields, "stock")
		}
		updated.Stock = *req.Stock
	}
	if len(fields) > 0 {
		return nil, &store.ValidationError{Fields: fields}
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_update", "product", fmt.Sprint(saved.ID),
		fmt.Sprintf("name=%s,stock=%s", saved.Name, saved.Stock.String()))
	return saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", fmt.Sprint(id), "")
	return nil
}

// RecordTransaction validates the request, derives the authoritative pricing
// fields from the product, and persists the row together with its stock delta
// as one unit.
func (s *Service) RecordTransaction(ctx context.Context, req domain.RecordTransactionRequest) (*domain.Transaction, error) {
	req.PersonName = strings.TrimSpace(req.PersonName)
	req.Contact = strings.TrimSpace(req.Contact)

	var fields []string
	if req.ProductID <= 0 {
		fields = append(fields, "product_id")
	}
	if !req.Quantity.IsPositive() {
		fields = append(fields, "quantity")
	}
	if !req.TransactionPrice.IsPositive() {
		fields = append(fields, "transactionPrice")
	}
	if req.AmountPaid == nil || req.AmountPaid.IsNegative() {
		fields = append(fields, "amountPaid")
	}
	if !req.Type.Valid() {
		fields = append(fields, "transaction_type")
	}
	if req.PersonName == "" {
		fields = append(fields, "person_name")
	}
	if req.Contact == "" {
		fields = append(fields, "contact")
	}
	if len(fields) > 0 {
		return nil, &store.ValidationError{Fields: fields}
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	tx := domain.Transaction{
		ProductID:        req.ProductID,
		Quantity:         req.Quantity,
		ActualPrice:      req.Type.ReferencePrice(*product),
		TransactionPrice: req.TransactionPrice,
		TotalPrice:       req.TransactionPrice.Mul(req.Quantity),
		AmountPaid:       *req.AmountPaid,
		Type:             req.Type,
		PersonName:       req.PersonName,
		Contact:          req.Contact,
		TransactionDate:  s.now().UTC(),
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(ctx, created.PersonName, created.Contact)
	s.logAudit(ctx, "transaction_record", "transaction", fmt.Sprint(created.ID),
		fmt.Sprintf("type=%s,product=%d,qty=%s,total=%s",
			created.Type, created.ProductID, created.Quantity.String(), created.TotalPrice.String()))
	return created, nil
}

// AmendAmountPaid rewrites a transaction's paid amount. The rewritten field is
// the balance-bearing record, so the reconciled balance shifts by exactly the
// delta; the amendment trail goes to the audit log, not the folded adjustments.
func (s *Service) AmendAmountPaid(ctx context.Context, id int64, newAmount decimal.Decimal) (*domain.Transaction, error) {
	if newAmount.IsNegative() {
		return nil, &store.ValidationError{Fields: []string{"amountPaid"}}
	}

	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	delta := newAmount.Sub(existing.AmountPaid)

	updated, err := s.repo.AmendTransactionAmountPaid(ctx, id, newAmount)
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(ctx, updated.PersonName, updated.Contact)
	s.logAudit(ctx, "transaction_amend_paid", "transaction", fmt.Sprint(id),
		fmt.Sprintf("from=%s,to=%s,delta=%s",
			existing.AmountPaid.String(), newAmount.String(), delta.String()))
	return updated, nil
}

// ReverseTransaction voids a transaction: the inverse stock delta is applied
// and the reversed latch flipped in one unit. Reversed rows stay in history
// but are excluded from balances and listings.
func (s *Service) ReverseTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	reversed, err := s.repo.ReverseTransaction(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(ctx, reversed.PersonName, reversed.Contact)
	s.logAudit(ctx, "transaction_reverse", "transaction", fmt.Sprint(id),
		fmt.Sprintf("type=%s,qty=%s", reversed.Type, reversed.Quantity.String()))
	return reversed, nil
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Limit < 1 {
		filter.Limit = 200
	}
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) AddLedgerAdjustment(ctx context.Context, req domain.LedgerAdjustmentRequest) (*domain.LedgerAdjustment, error) {
	req.PersonName = strings.TrimSpace(req.PersonName)
	req.Contact = strings.TrimSpace(req.Contact)
	req.Reason = strings.TrimSpace(req.Reason)

	var fields []string
	if req.PersonName == "" {
		fields = append(fields, "person_name")
	}
	if req.Contact == "" {
		fields = append(fields, "contact")
	}
	if req.Amount.IsZero() {
		fields = append(fields, "adjustment_amount")
	}
	if len(fields) > 0 {
		return nil, &store.ValidationError{Fields: fields}
	}
	if req.Reason == "" {
		req.Reason = domain.ReasonManualAdjustment
	}

	created, err := s.repo.CreateLedgerAdjustment(ctx, domain.LedgerAdjustment{
		PersonName: req.PersonName,
		Contact:    req.Contact,
		Amount:     req.Amount,
		Date:       s.now().UTC(),
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(ctx, created.PersonName, created.Contact)
	s.logAudit(ctx, "ledger_adjust", "ledger_adjustment", fmt.Sprint(created.ID),
		fmt.Sprintf("amount=%s,reason=%s", created.Amount.String(), created.Reason))
	return created, nil
}

func (s *Service) ListLedgerAdjustments(ctx context.Context, personName, contact string) ([]domain.LedgerAdjustment, error) {
	if strings.TrimSpace(personName) == "" || strings.TrimSpace(contact) == "" {
		return nil, &store.ValidationError{Fields: []string{"person_name", "contact"}}
	}
	return s.repo.ListLedgerAdjustments(ctx, personName, contact)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, &store.ValidationError{Fields: []string{"date"}}
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) invalidateBalance(ctx context.Context, personName, contact string) {
	s.balances.Invalidate(ctx, domain.Customer{PersonName: personName, Contact: contact}.Key())
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}
