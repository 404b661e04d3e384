// Package billing models a multi-line bill draft: line recomputation rules,
// full-draft validation, the canonical submission fingerprint, and the
// duplicate-submission window check.
//
// The session is a plain value with an explicit status; the last accepted
// Submission is passed in by the caller and handed back, never kept in a
// package global.
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// DuplicateWindow is the default span in which an identical bill for the same
// customer is rejected as a double submission.
const DuplicateWindow = 120 * time.Second

type Status string

const (
	StatusDraft      Status = "draft"
	StatusSubmitting Status = "submitting"
	StatusCommitted  Status = "committed"
)

// Line is a bill row with its server-derived pricing fields filled in.
type Line struct {
	ProductID        int64
	ProductName      string
	Quantity         decimal.Decimal
	ActualPrice      decimal.Decimal
	TransactionPrice decimal.Decimal
	TotalPrice       decimal.Decimal
	AmountPaid       decimal.Decimal
	Type             domain.TxType
}

// Submission records one accepted bill for the duplicate check.
type Submission struct {
	Fingerprint string    `json:"fingerprint"`
	At          time.Time `json:"at"`
}

type Session struct {
	PersonName string
	Contact    string
	Lines      []Line
	Status     Status
}

// NewSession opens a draft with a single empty sell line.
func NewSession(personName, contact string) *Session {
	return &Session{
		PersonName: personName,
		Contact:    contact,
		Lines:      []Line{{Type: domain.TxSell}},
		Status:     StatusDraft,
	}
}

func (s *Session) AddLine() {
	s.Lines = append(s.Lines, Line{Type: domain.TxSell})
}

// RemoveLine drops the line at i. A draft always keeps at least one line.
func (s *Session) RemoveLine(i int) error {
	if i < 0 || i >= len(s.Lines) {
		return fmt.Errorf("no line at index %d", i)
	}
	if len(s.Lines) == 1 {
		return fmt.Errorf("a bill needs at least one line")
	}
	s.Lines = append(s.Lines[:i], s.Lines[i+1:]...)
	return nil
}

// RecomputeLine re-derives the pricing fields of line i against the product:
// actualPrice is the product's reference price for the line's type, the
// transaction price defaults to it when unset, and the total follows the
// quantity and transaction price. AmountPaid defaults to the line total.
func (s *Session) RecomputeLine(i int, product domain.Product, paidSet bool) error {
	if i < 0 || i >= len(s.Lines) {
		return fmt.Errorf("no line at index %d", i)
	}
	line := &s.Lines[i]
	line.ProductName = product.Name
	line.ActualPrice = line.Type.ReferencePrice(product)
	if line.TransactionPrice.IsZero() {
		line.TransactionPrice = line.ActualPrice
	}
	line.TotalPrice = line.TransactionPrice.Mul(line.Quantity)
	if !paidSet {
		line.AmountPaid = line.TotalPrice
	}
	return nil
}

// GrossTotal sums line totals with return lines negated.
func (s *Session) GrossTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		if line.Type == domain.TxReturn {
			total = total.Sub(line.TotalPrice)
		} else {
			total = total.Add(line.TotalPrice)
		}
	}
	return total
}

// Profit sums (transactionPrice − costPrice) × quantity across lines, with
// return lines sign-flipped. Used by the percentage-of-profit discount.
func (s *Session) Profit(costPriceByProduct map[int64]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		cost, ok := costPriceByProduct[line.ProductID]
		if !ok {
			continue
		}
		margin := line.TransactionPrice.Sub(cost).Mul(line.Quantity)
		if line.Type == domain.TxReturn {
			margin = margin.Neg()
		}
		total = total.Add(margin)
	}
	return total
}

// Validate checks the whole draft and reports every violated field at once.
func (s *Session) Validate() error {
	var fields []string
	if strings.TrimSpace(s.PersonName) == "" {
		fields = append(fields, "person_name")
	}
	if strings.TrimSpace(s.Contact) == "" {
		fields = append(fields, "contact")
	}
	if len(s.Lines) == 0 {
		fields = append(fields, "lines")
	}
	for i, line := range s.Lines {
		if line.ProductID <= 0 {
			fields = append(fields, fmt.Sprintf("lines[%d].product_id", i))
		}
		if !line.Quantity.IsPositive() {
			fields = append(fields, fmt.Sprintf("lines[%d].quantity", i))
		}
		if !line.TransactionPrice.IsPositive() {
			fields = append(fields, fmt.Sprintf("lines[%d].transactionPrice", i))
		}
		if !line.Type.Valid() {
			fields = append(fields, fmt.Sprintf("lines[%d].transaction_type", i))
		}
	}
	if len(fields) > 0 {
		return &store.ValidationError{Fields: fields}
	}
	return nil
}

// SellQuantities aggregates requested sell quantity per product, so stock is
// checked against the bill as a whole rather than line by line.
func (s *Session) SellQuantities() map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	for _, line := range s.Lines {
		if line.Type != domain.TxSell {
			continue
		}
		out[line.ProductID] = out[line.ProductID].Add(line.Quantity)
	}
	return out
}

// Fingerprint hashes the canonical draft payload: the customer pair and every
// line's identifying fields in order. Two drafts that would produce the same
// transactions fingerprint identically.
func (s *Session) Fingerprint() string {
	var b strings.Builder
	b.WriteString(s.PersonName)
	b.WriteByte('|')
	b.WriteString(s.Contact)
	for _, line := range s.Lines {
		fmt.Fprintf(&b, "|%d:%s:%s:%s:%s",
			line.ProductID,
			line.Quantity.String(),
			line.TransactionPrice.String(),
			line.AmountPaid.String(),
			line.Type)
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:16])
}

// BeginSubmit moves the draft into submitting after checking it against the
// previous accepted submission. It returns the Submission the caller should
// hold on to; on a duplicate inside the window it returns
// store.ErrDuplicateSubmission and leaves the draft untouched.
func (s *Session) BeginSubmit(prev *Submission, now time.Time, window time.Duration) (*Submission, error) {
	if s.Status != StatusDraft {
		return nil, fmt.Errorf("bill is %s, not a draft", s.Status)
	}
	if window <= 0 {
		window = DuplicateWindow
	}
	fp := s.Fingerprint()
	if prev != nil && prev.Fingerprint == fp && now.Sub(prev.At) <= window {
		return nil, store.ErrDuplicateSubmission
	}
	s.Status = StatusSubmitting
	return &Submission{Fingerprint: fp, At: now}, nil
}

// Commit marks the bill as durably recorded.
func (s *Session) Commit() error {
	if s.Status != StatusSubmitting {
		return fmt.Errorf("bill is %s, not submitting", s.Status)
	}
	s.Status = StatusCommitted
	return nil
}

// Abort returns a failed submission to draft so it can be retried.
func (s *Session) Abort() {
	if s.Status == StatusSubmitting {
		s.Status = StatusDraft
	}
}

// Reset clears the draft back to one empty line for the next customer.
func (s *Session) Reset() {
	s.PersonName = ""
	s.Contact = ""
	s.Lines = []Line{{Type: domain.TxSell}}
	s.Status = StatusDraft
}
