// Package postgres implements the Repository on PostgreSQL. Compound
// operations run inside a database transaction with the product row locked,
// so the stock guard holds under concurrent writers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			sales_type TEXT NOT NULL DEFAULT 'quantity',
			cost_price NUMERIC NOT NULL DEFAULT 0,
			sell_price NUMERIC NOT NULL DEFAULT 0,
			stock NUMERIC NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS products_name_lower_idx ON products (lower(name))`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id),
			quantity NUMERIC NOT NULL,
			actual_price NUMERIC NOT NULL,
			transaction_price NUMERIC NOT NULL,
			total_price NUMERIC NOT NULL,
			amount_paid NUMERIC NOT NULL,
			transaction_type TEXT NOT NULL,
			person_name TEXT NOT NULL,
			contact TEXT NOT NULL,
			transaction_date TIMESTAMPTZ NOT NULL DEFAULT now(),
			reversed BOOLEAN NOT NULL DEFAULT false,
			reversed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_customer_idx ON transactions (person_name, contact)`,
		`CREATE TABLE IF NOT EXISTS ledger_adjustments (
			id BIGSERIAL PRIMARY KEY,
			person_name TEXT NOT NULL,
			contact TEXT NOT NULL,
			adjustment_amount NUMERIC NOT NULL,
			adjustment_date TIMESTAMPTZ NOT NULL DEFAULT now(),
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_adjustments_customer_idx ON ledger_adjustments (person_name, contact)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
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
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.SalesType, &p.CostPrice, &p.SellPrice, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, sales_type, cost_price, sell_price, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.SalesType, &p.CostPrice, &p.SellPrice, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, description, sales_type, cost_price, sell_price, stock)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, product.Name, product.Description, product.SalesType, product.CostPrice, product.SellPrice, product.Stock).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.ValidationError{Fields: []string{"name"}}
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, sales_type = $4, cost_price = $5, sell_price = $6, stock = $7
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.SalesType, product.CostPrice, product.SellPrice, product.Stock)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
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

// applyStockDelta locks the product row, checks the guard, and writes the new
// stock. Runs inside the caller's transaction.
func applyStockDelta(ctx context.Context, tx *sql.Tx, productID int64, delta, requested decimal.Decimal) (string, error) {
	var name string
	var stock decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT name, stock FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&name, &stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
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

	if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = $2 WHERE id = $1`, productID, next); err != nil {
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
	return tx.QueryRowContext(ctx, `
		INSERT INTO transactions (
			product_id, quantity, actual_price, transaction_price, total_price,
			amount_paid, transaction_type, person_name, contact, transaction_date, reversed
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false)
		RETURNING id
	`, row.ProductID, row.Quantity, row.ActualPrice, row.TransactionPrice, row.TotalPrice,
		row.AmountPaid, row.Type, row.PersonName, row.Contact, row.TransactionDate).Scan(&row.ID)
}

func (s *Store) CreateTransaction(ctx context.Context, row domain.Transaction) (*domain.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
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
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
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
			VALUES ($1,$2,$3,$4,$5)
		`, adj.PersonName, adj.Contact, adj.Amount, adj.Date, adj.Reason); err != nil {
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
	var reversedAt sql.NullTime
	err := scanner.Scan(&row.ID, &row.ProductID, &row.ProductName, &row.Quantity,
		&row.ActualPrice, &row.TransactionPrice, &row.TotalPrice, &row.AmountPaid,
		&row.Type, &row.PersonName, &row.Contact, &row.TransactionDate, &row.Reversed, &reversedAt)
	if err != nil {
		return domain.Transaction{}, err
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
		WHERE t.id = $1
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
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !filter.IncludeReversed {
		where = append(where, "t.reversed = false")
	}
	if filter.PersonName != nil {
		where = append(where, "t.person_name = "+arg(*filter.PersonName))
	}
	if filter.Contact != nil {
		where = append(where, "t.contact = "+arg(*filter.Contact))
	}
	if filter.ProductID != nil {
		where = append(where, "t.product_id = "+arg(*filter.ProductID))
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
		query += " LIMIT " + arg(filter.Limit)
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
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET amount_paid = $2 WHERE id = $1`, id, amount)
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
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	var quantity decimal.Decimal
	var txType domain.TxType
	var reversed bool
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity, transaction_type, reversed
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&productID, &quantity, &txType, &reversed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if reversed {
		return nil, store.ErrAlreadyReversed
	}

	inverse := txType.StockDelta(quantity).Neg()
	if _, err := applyStockDelta(ctx, tx, productID, inverse, quantity); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return nil, store.ErrInvalidReversal
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions SET reversed = true, reversed_at = $2 WHERE id = $1
	`, id, at); err != nil {
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
	if adj.Date.IsZero() {
		adj.Date = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ledger_adjustments (person_name, contact, adjustment_amount, adjustment_date, reason)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, adj.PersonName, adj.Contact, adj.Amount, adj.Date, adj.Reason).Scan(&adj.ID)
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func (s *Store) ListLedgerAdjustments(ctx context.Context, personName, contact string) ([]domain.LedgerAdjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, person_name, contact, adjustment_amount, adjustment_date, reason
		FROM ledger_adjustments
		WHERE person_name = $1 AND contact = $2
		ORDER BY adjustment_date DESC, id DESC
	`, personName, contact)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LedgerAdjustment, 0, 16)
	for rows.Next() {
		var adj domain.LedgerAdjustment
		if err := rows.Scan(&adj.ID, &adj.PersonName, &adj.Contact, &adj.Amount, &adj.Date, &adj.Reason); err != nil {
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
		VALUES ($1,$2,$3,$4,$5,$6)
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
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
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
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
