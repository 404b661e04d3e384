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

// SalesInsights aggregates sales and profit over a date range. Sells add,
// returns subtract, and profit per row is quantity x (transactionPrice -
// costPrice) against the product's current cost price.
func (s *Service) SalesInsights(ctx context.Context, fromStr, toStr string) (*domain.SalesInsights, error) {
	now := s.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	if strings.TrimSpace(fromStr) != "" {
		parsed, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return nil, &store.ValidationError{Fields: []string{"from"}}
		}
		from = parsed.UTC()
	}
	if strings.TrimSpace(toStr) != "" {
		parsed, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return nil, &store.ValidationError{Fields: []string{"to"}}
		}
		to = parsed.UTC().Add(24 * time.Hour)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	costByProduct := make(map[int64]decimal.Decimal, len(products))
	warehouseCost := decimal.Zero
	for _, p := range products {
		costByProduct[p.ID] = p.CostPrice
		warehouseCost = warehouseCost.Add(p.CostPrice.Mul(p.Stock))
	}

	txs, err := s.repo.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		return nil, err
	}

	totalSales := decimal.Zero
	totalProfit := decimal.Zero
	daily := make(map[string]*domain.DailySalesPoint)
	for _, tx := range txs {
		if tx.Type != domain.TxSell && tx.Type != domain.TxReturn {
			continue
		}
		if tx.TransactionDate.Before(from) || !tx.TransactionDate.Before(to) {
			continue
		}
		amount := tx.Quantity.Mul(tx.TransactionPrice)
		margin := tx.Quantity.Mul(tx.TransactionPrice.Sub(costByProduct[tx.ProductID]))
		if tx.Type == domain.TxReturn {
			amount = amount.Neg()
			margin = margin.Neg()
		}
		totalSales = totalSales.Add(amount)
		totalProfit = totalProfit.Add(margin)

		day := tx.TransactionDate.Format("2006-01-02")
		point, ok := daily[day]
		if !ok {
			point = &domain.DailySalesPoint{Date: day}
			daily[day] = point
		}
		point.Sales = point.Sales.Add(amount)
		point.Profit = point.Profit.Add(margin)
	}

	points := make([]domain.DailySalesPoint, 0, len(daily))
	for _, point := range daily {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })

	return &domain.SalesInsights{
		From:               from.Format("2006-01-02"),
		To:                 to.Add(-24 * time.Hour).Format("2006-01-02"),
		TotalSales:         totalSales,
		TotalProfit:        totalProfit,
		WarehouseCostValue: warehouseCost,
		Daily:              points,
	}, nil
}

// Stock thresholds used by the overview listing.
var (
	lowStockThreshold  = decimal.NewFromInt(10)
	highStockThreshold = decimal.NewFromInt(50)
)

// StockOverview lists low and high stock products and recent sell velocity
// computed from the latest transactions.
func (s *Service) StockOverview(ctx context.Context) (*domain.StockOverview, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	overview := &domain.StockOverview{
		LowStock:      make([]domain.Product, 0),
		HighStock:     make([]domain.Product, 0),
		RecentSellQty: make(map[int64]decimal.Decimal),
	}
	for _, p := range products {
		if p.Stock.LessThan(lowStockThreshold) {
			overview.LowStock = append(overview.LowStock, p)
		}
		if p.Stock.GreaterThan(highStockThreshold) {
			overview.HighStock = append(overview.HighStock, p)
		}
	}

	recent, err := s.repo.ListTransactions(ctx, store.TransactionFilter{Limit: 50})
	if err != nil {
		return nil, err
	}
	for _, tx := range recent {
		if tx.Type != domain.TxSell {
			continue
		}
		overview.RecentSellQty[tx.ProductID] = overview.RecentSellQty[tx.ProductID].Add(tx.Quantity)
	}
	return overview, nil
}
