package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SalesType string

const (
	SalesByQuantity SalesType = "quantity"
	SalesByWeight   SalesType = "weight"
)

func (s SalesType) Valid() bool {
	return s == SalesByQuantity || s == SalesByWeight
}

// TxType is the closed set of transaction kinds. Billing flows use sell and
// return; buy is used by the restocking flow. Stock-delta and balance-diff
// sign conventions live here so call sites never compare raw strings.
type TxType string

const (
	TxBuy    TxType = "buy"
	TxSell   TxType = "sell"
	TxReturn TxType = "return"
)

func (t TxType) Valid() bool {
	switch t {
	case TxBuy, TxSell, TxReturn:
		return true
	default:
		return false
	}
}

// StockDelta returns the signed stock change caused by recording a
// transaction of this type: sell removes stock, buy and return add it.
func (t TxType) StockDelta(quantity decimal.Decimal) decimal.Decimal {
	if t == TxSell {
		return quantity.Neg()
	}
	return quantity
}

// BalanceDiff returns the per-transaction contribution to a customer balance.
// Positive means the shop owes the customer, negative means the customer owes
// the shop. A return inverts the sign of a sale.
func (t TxType) BalanceDiff(totalPrice, amountPaid decimal.Decimal) decimal.Decimal {
	if t == TxReturn {
		return totalPrice.Sub(amountPaid)
	}
	return amountPaid.Sub(totalPrice)
}

// ReferencePrice picks the product price a transaction of this type is priced
// against: buys reference the cost price, sells and returns the sell price.
func (t TxType) ReferencePrice(p Product) decimal.Decimal {
	if t == TxBuy {
		return p.CostPrice
	}
	return p.SellPrice
}

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	SalesType   SalesType       `json:"salesType"`
	CostPrice   decimal.Decimal `json:"costPrice"`
	SellPrice   decimal.Decimal `json:"sellPrice"`
	Stock       decimal.Decimal `json:"stock"`
}

type ProductCreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	SalesType   SalesType       `json:"salesType"`
	CostPrice   decimal.Decimal `json:"costPrice"`
	SellPrice   decimal.Decimal `json:"sellPrice"`
	Stock       decimal.Decimal `json:"stock"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	SalesType   *SalesType       `json:"salesType,omitempty"`
	CostPrice   *decimal.Decimal `json:"costPrice,omitempty"`
	SellPrice   *decimal.Decimal `json:"sellPrice,omitempty"`
	Stock       *decimal.Decimal `json:"stock,omitempty"`
}

type Transaction struct {
	ID               int64           `json:"id"`
	ProductID        int64           `json:"product_id"`
	ProductName      string          `json:"productName,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	ActualPrice      decimal.Decimal `json:"actualPrice"`
	TransactionPrice decimal.Decimal `json:"transactionPrice"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	AmountPaid       decimal.Decimal `json:"amountPaid"`
	Type             TxType          `json:"transaction_type"`
	PersonName       string          `json:"person_name"`
	Contact          string          `json:"contact"`
	TransactionDate  time.Time       `json:"transaction_date"`
	Reversed         bool            `json:"reversed"`
	ReversedAt       *time.Time      `json:"reversed_at,omitempty"`
}

type RecordTransactionRequest struct {
	ProductID        int64            `json:"product_id"`
	Quantity         decimal.Decimal  `json:"quantity"`
	TransactionPrice decimal.Decimal  `json:"transactionPrice"`
	AmountPaid       *decimal.Decimal `json:"amountPaid"`
	Type             TxType           `json:"transaction_type"`
	PersonName       string           `json:"person_name"`
	Contact          string           `json:"contact"`
}

type AmendAmountPaidRequest struct {
	AmountPaid decimal.Decimal `json:"amountPaid"`
}

// LedgerAdjustment is an append-only correction to a customer's running
// balance. Positive amounts reduce what the customer owes the shop.
type LedgerAdjustment struct {
	ID         int64           `json:"id"`
	PersonName string          `json:"person_name"`
	Contact    string          `json:"contact"`
	Amount     decimal.Decimal `json:"adjustment_amount"`
	Date       time.Time       `json:"adjustment_date"`
	Reason     string          `json:"reason"`
}

type LedgerAdjustmentRequest struct {
	PersonName string          `json:"person_name"`
	Contact    string          `json:"contact"`
	Amount     decimal.Decimal `json:"adjustment_amount"`
	Reason     string          `json:"reason"`
}

const (
	ReasonManualAdjustment   = "Manual adjustment"
	ReasonPaidWhileBilling   = "Paid while billing"
	ReasonDiscount           = "Discount"
	ReasonDiscountAdjustment = "Discount adjustment"
)

// Customer identity is structural: the exact (person_name, contact) string
// pair. There is no canonical customer record, so matching is case- and
// whitespace-sensitive on both fields.
type Customer struct {
	PersonName string `json:"person_name"`
	Contact    string `json:"contact"`
}

func (c Customer) Key() string {
	return c.PersonName + "|" + c.Contact
}

type Balance struct {
	TotalToTake decimal.Decimal `json:"totalToTake"`
	TotalToGive decimal.Decimal `json:"totalToGive"`
}

type LedgerEntry struct {
	Customer
	Balance
	Transactions []Transaction `json:"transactions,omitempty"`
}

type BillLine struct {
	ProductID        int64            `json:"product_id"`
	Quantity         decimal.Decimal  `json:"quantity"`
	TransactionPrice decimal.Decimal  `json:"transactionPrice"`
	AmountPaid       *decimal.Decimal `json:"amountPaid"`
	Type             TxType           `json:"transaction_type"`
}

type DiscountMode string

const (
	DiscountFlat          DiscountMode = "flat"
	DiscountProfitPercent DiscountMode = "profit_percent"
)

type BillRequest struct {
	PersonName      string          `json:"person_name"`
	Contact         string          `json:"contact"`
	Lines           []BillLine      `json:"lines"`
	PaymentAmount   decimal.Decimal `json:"paymentAmount"`
	DiscountMode    DiscountMode    `json:"discountMode,omitempty"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

type ReceiptLine struct {
	ProductID        int64           `json:"product_id"`
	ProductName      string          `json:"productName"`
	Quantity         decimal.Decimal `json:"quantity"`
	ActualPrice      decimal.Decimal `json:"actualPrice"`
	TransactionPrice decimal.Decimal `json:"transactionPrice"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	AmountPaid       decimal.Decimal `json:"amountPaid"`
	Type             TxType          `json:"transaction_type"`
}

// Receipt is the frozen snapshot of a committed bill.
type Receipt struct {
	ReceiptID   string          `json:"receipt_id"`
	ShopName    string          `json:"shopName"`
	PersonName  string          `json:"person_name"`
	Contact     string          `json:"contact"`
	Lines       []ReceiptLine   `json:"lines"`
	GrossTotal  decimal.Decimal `json:"grossTotal"`
	Paid        decimal.Decimal `json:"paid"`
	Discount    decimal.Decimal `json:"discount"`
	NetDue      decimal.Decimal `json:"netDue"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Fingerprint string          `json:"fingerprint"`
}

type SalesInsights struct {
	From               string            `json:"from"`
	To                 string            `json:"to"`
	TotalSales         decimal.Decimal   `json:"totalSales"`
	TotalProfit        decimal.Decimal   `json:"totalProfit"`
	WarehouseCostValue decimal.Decimal   `json:"warehouseCostValue"`
	Daily              []DailySalesPoint `json:"daily"`
}

type DailySalesPoint struct {
	Date   string          `json:"date"`
	Sales  decimal.Decimal `json:"sales"`
	Profit decimal.Decimal `json:"profit"`
}

type StockOverview struct {
	LowStock      []Product                 `json:"lowStock"`
	HighStock     []Product                 `json:"highStock"`
	RecentSellQty map[int64]decimal.Decimal `json:"recentSellQty"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
