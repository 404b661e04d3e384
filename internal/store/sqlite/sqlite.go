// Package sqlite implements the Repository on a local SQLite file, the
// default for single-shop deployments. Money and quantity columns are stored
// as TEXT and all arithmetic happens on decimals in Go, so values survive the
// round trip exactly. A process-wide mutex serializes writers on top of the
// database transaction; SQLite allows one writer at a time anyway.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	sales_type TEXT NOT NULL DEFAULT 'quantity',
	cost_price TEXT NOT NULL DEFAULT '0',
	sell_price TEXT NOT NULL DEFAULT '0',
	stock TEXT NOT NULL DEFAULT '0'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_products_name ON products (lower(name));

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL REFERENCES products(id),
	quantity TEXT NOT NULL,
	actual_price TEXT NOT NULL,
	transaction_price TEXT NOT NULL,
	total_price TEXT NOT NULL,
	amount_paid TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	person_name TEXT NOT NULL,
	contact TEXT NOT NULL,
	transaction_date TIMESTAMP NOT NULL,
	reversed INTEGER NOT NULL DEFAULT 0,
	reversed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions (person_name, contact);

CREATE TABLE IF NOT EXISTS ledger_adjustments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	person_name TEXT NOT NULL,
	contact TEXT NOT NULL,
	adjustment_amount TEXT NOT NULL,
	adjustment_date TIMESTAMP NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_adjustments_customer ON ledger_adjustments (person_name, contact);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanDecimal(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(raw)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, sales_type, cost_price, sell_price, stock
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func scanProduct(scanner interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	var cost, sell, stock string
	if err := scanner.Scan(&p.ID, &p.Name, &p.Description, &p.SalesType, &cost, &sell, &stock); err != nil {
		return domain.Product{}, err
	}
	var err error
	if p.CostPrice, err = scanDecimal(cost); err != nil {
		return domain.Product{}, err
	}
	if p.SellPrice, err = scanDecimal(sell); err != nil {
		return domain.Product{}, err
	}
	if p.Stock, err = scanDecimal(stock); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, name, description, sales_type, cost_price, sell_price, stock
		FROM products
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (name, description, sales_type, cost_price, sell_price, stock)
		VALUES (?,?,?,?,?,?)
	`, product.Name, product.Description, product.SalesType,
		product.CostPrice.String(), product.SellPrice.String(), product.Stock.String())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.ValidationError{Fields: []string{"name"}}
		}
		return nil, err
	}
	product.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, description = ?, sales_type = ?, cost_price = ?, sell_price = ?, stock = ?
		WHERE id = ?
	`, product.Name, product.Description, product.SalesType,
		product.CostPrice.String(), product.SellPrice.String(), product.Stock.String(), product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.ValidationError{Fields: []string{"name"}}
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// applyStockDelta reads, checks, and rewrites stock inside the caller's
// transaction. Decimal arithmetic happens in Go; the column is opaque TEXT to
// SQLite.
func applyStockDelta(ctx context.Context, tx *sql.Tx, productID int64, delta, requested decimal.Decimal) (string, error) {
	var name, raw string
	err := tx.QueryRowContext(ctx, `SELECT name, stock FROM products WHERE id = ?`, productID).Scan(&name, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	stock, err := scanDecimal(raw)
	if err != nil {
		return "", err
	}

	next := stock.Add(delta)
	if next.IsNegative() {
		return name, &store.InsufficientStockError{
			ProductID:   productID,
			ProductName: name,
			Available:   stock,
			Requested:   requested,
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = ? WHERE id = ?`, next.String(), productID); err != nil {
		return name, err
	}
	return name, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, row *domain.Transaction) error {
	name, err := applyStockDelta(ctx, tx, row.ProductID, row.Type.StockDelta(row.Quantity), row.Quantity)
	if err != nil {
		return err
	}
	row.ProductName = name
	if row.TransactionDate.IsZero() {
		row.TransactionDate = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (
			product_id, quantity, actual_price, transaction_price, total_price,
			amount_paid, transaction_type, person_name, contact, transaction_date, reversed
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,0)
	`, row.ProductID, row.Quantity.String(), row.ActualPrice.String(), row.TransactionPrice.String(),
		row.TotalPrice.String(), row.AmountPaid.String(), row.Type, row.PersonName, row.Contact, row.TransactionDate)
	if err != nil {
		return err
	}
	row.ID, err = res.LastInsertId()
	return err
}

func (s *Store) CreateTransaction(ctx context.Context, row domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertTransaction(ctx, tx, &row); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) CreateTransactionBatch(ctx context.Context, txs []domain.Transaction, adjs []domain.LedgerAdjustment) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]domain.Transaction, 0, len(txs))
	for _, row := range txs {
		if err := insertTransaction(ctx, tx, &row); err != nil {
			return nil, err
		}
		created = append(created, row)
	}
	for _, adj := range adjs {
		if adj.Date.IsZero() {
			adj.Date = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_adjustments (person_name, contact, adjustment_amount, adjustment_date, reason)
			VALUES (?,?,?,?,?)
		`, adj.PersonName, adj.Contact, adj.Amount.String(), adj.Date, adj.Reason); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

const transactionColumns = `
	t.id, t.product_id, p.name, t.quantity, t.actual_price, t.transaction_price,
	t.total_price, t.amount_paid, t.transaction_type, t.person_name, t.contact,
	t.transaction_date, t.reversed, t.reversed_at
`

func scanTransaction(scanner interface{ Scan(...any) error }) (domain.Transaction, error) {
	var row domain.Transaction
	var quantity, actual, price, total, paid string
	var reversedAt sql.NullTime
	err := scanner.Scan(&row.ID, &row.ProductID, &row.ProductName, &quantity, &actual,
		&price, &total, &paid, &row.Type, &row.PersonName, &row.Contact,
		&row.TransactionDate, &row.Reversed, &reversedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	for _, pair := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{quantity, &row.Quantity},
		{actual, &row.ActualPrice},
		{price, &row.TransactionPrice},
		{total, &row.TotalPrice},
		{paid, &row.AmountPaid},
	} {
		d, err := scanDecimal(pair.raw)
		if err != nil {
			return domain.Transaction{}, err
		}
		*pair.dst = d
	}
	row.TransactionDate = row.TransactionDate.UTC()
	if reversedAt.Valid {
		at := reversedAt.Time.UTC()
		row.ReversedAt = &at
	}
	return row, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	row, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t
		JOIN products p ON p.id = t.product_id
		WHERE t.id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	var where []string
	var args []any

	if !filter.IncludeReversed {
		where = append(where, "t.reversed = 0")
	}
	if filter.PersonName != nil {
		where = append(where, "t.person_name = ?")
		args = append(args, *filter.PersonName)
	}
	if filter.Contact != nil {
		where = append(where, "t.contact = ?")
		args = append(args, *filter.Contact)
	}
	if filter.ProductID != nil {
		where = append(where, "t.product_id = ?")
		args = append(args, *filter.ProductID)
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		JOIN products p ON p.id = t.product_id
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.transaction_date DESC, t.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		row, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AmendTransactionAmountPaid(ctx context.Context, id int64, amount decimal.Decimal) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET amount_paid = ? WHERE id = ?`, amount.String(), id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) ReverseTransaction(ctx context.Context, id int64, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	var rawQty string
	var txType domain.TxType
	var reversed bool
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity, transaction_type, reversed
		FROM transactions
		WHERE id = ?
	`, id).Scan(&productID, &rawQty, &txType, &reversed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if reversed {
		return nil, store.ErrAlreadyReversed
	}
	quantity, err := scanDecimal(rawQty)
	if err != nil {
		return nil, err
	}

	inverse := txType.StockDelta(quantity).Neg()
	if _, err := applyStockDelta(ctx, tx, productID, inverse, quantity); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return nil, store.ErrInvalidReversal
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions SET reversed = 1, reversed_at = ? WHERE id = ?
	`, at, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person_name, contact FROM transactions
		UNION
		SELECT person_name, contact FROM ledger_adjustments
		ORDER BY person_name, contact
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.PersonName, &c.Contact); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateLedgerAdjustment(ctx context.Context, adj domain.LedgerAdjustment) (*domain.LedgerAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if adj.Date.IsZero() {
		adj.Date = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_adjustments (person_name, contact, adjustment_amount, adjustment_date, reason)
		VALUES (?,?,?,?,?)
	`, adj.PersonName, adj.Contact, adj.Amount.String(), adj.Date, adj.Reason)
	if err != nil {
		return nil, err
	}
	adj.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func (s *Store) ListLedgerAdjustments(ctx context.Context, personName, contact string) ([]domain.LedgerAdjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_name, contact, adjustment_amount, adjustment_date, reason
		FROM ledger_adjustments
		WHERE person_name = ? AND contact = ?
		ORDER BY adjustment_date DESC, id DESC
	`, personName, contact)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LedgerAdjustment, 0, 16)
	for rows.Next() {
		var adj domain.LedgerAdjustment
		var raw string
		if err := rows.Scan(&adj.ID, &adj.PersonName, &adj.Contact, &raw, &adj.Date, &adj.Reason); err != nil {
			return nil, err
		}
		if adj.Amount, err = scanDecimal(raw); err != nil {
			return nil, err
		}
		adj.Date = adj.Date.UTC()
		out = append(out, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, detail, created_at)
		VALUES (?,?,?,?,?,?)
	`, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
