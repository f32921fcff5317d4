package eligibility

import (
	"errors"
	"fmt"

	"tokopos/backend/internal/domain"
)

// ErrAllItemsReturned is returned when every line item on the original sale
// has already been fully returned; no further returns are permitted against
// that receipt, regardless of which item the caller asks about.
var ErrAllItemsReturned = errors.New("all items on this sale have already been fully returned")

// SaleItemNotFoundError indicates a proposed return references a sale item
// that does not belong to the original sale.
type SaleItemNotFoundError struct {
	OriginalSaleItemID string
}

func (e *SaleItemNotFoundError) Error() string {
	return fmt.Sprintf("sale item %s not found on the original sale", e.OriginalSaleItemID)
}

// QuantityError indicates a proposed return quantity exceeds what is still
// eligible. It carries the figures needed for the cashier-facing message.
type QuantityError struct {
	OriginalSaleItemID string
	Requested          int
	Remaining          int
	AlreadyReturned    int
	Purchased          int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("Only %d items can be returned (%d already returned out of %d purchased)",
		e.Remaining, e.AlreadyReturned, e.Purchased)
}

// ProposedReturn is one requested return line, keyed by the sale item it
// claims to come from.
type ProposedReturn struct {
	OriginalSaleItemID string
	Quantity           int
}

// Report is the remaining-eligibility snapshot for one sale, keyed by sale
// item id. Remaining is never negative.
type Report struct {
	Purchased       map[string]int `json:"purchased"`
	AlreadyReturned map[string]int `json:"already_returned"`
	Remaining       map[string]int `json:"remaining"`
}

// Summarize folds the purchased quantities and the prior returned quantities
// (from non-cancelled exchange transactions) into a Report.
func Summarize(items []domain.SaleItem, alreadyReturned map[string]int) Report {
	report := Report{
		Purchased:       make(map[string]int, len(items)),
		AlreadyReturned: make(map[string]int, len(items)),
		Remaining:       make(map[string]int, len(items)),
	}
	for _, item := range items {
		report.Purchased[item.ID] += item.Quantity
		report.AlreadyReturned[item.ID] = alreadyReturned[item.ID]
		remaining := report.Purchased[item.ID] - alreadyReturned[item.ID]
		if remaining < 0 {
			remaining = 0
		}
		report.Remaining[item.ID] = remaining
	}
	return report
}

// Exhausted reports whether the sale has at least one item and none of its
// items has any returnable quantity left.
func (r Report) Exhausted() bool {
	if len(r.Purchased) == 0 {
		return false
	}
	for _, remaining := range r.Remaining {
		if remaining > 0 {
			return false
		}
	}
	return true
}

// Check validates the proposed return lines against the sale's items and the
// quantities already returned. Duplicate lines for the same sale item are
// summed before checking. The returned Report reflects the state before the
// proposed returns are applied.
func Check(items []domain.SaleItem, alreadyReturned map[string]int, proposed []ProposedReturn) (Report, error) {
	report := Summarize(items, alreadyReturned)
	return report, CheckReport(report, proposed)
}

// CheckReport validates the proposed return lines against an existing Report,
// such as one served from cache.
func CheckReport(report Report, proposed []ProposedReturn) error {
	if report.Exhausted() {
		return ErrAllItemsReturned
	}

	requested := make(map[string]int, len(proposed))
	for _, line := range proposed {
		requested[line.OriginalSaleItemID] += line.Quantity
	}

	for saleItemID, qty := range requested {
		purchased, exists := report.Purchased[saleItemID]
		if !exists {
			return &SaleItemNotFoundError{OriginalSaleItemID: saleItemID}
		}
		if qty > report.Remaining[saleItemID] {
			return &QuantityError{
				OriginalSaleItemID: saleItemID,
				Requested:          qty,
				Remaining:          report.Remaining[saleItemID],
				AlreadyReturned:    report.AlreadyReturned[saleItemID],
				Purchased:          purchased,
			}
		}
	}

	return nil
}
