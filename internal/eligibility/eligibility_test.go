package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokopos/backend/internal/domain"
)

func saleItems() []domain.SaleItem {
	return []domain.SaleItem{
		{ID: "item-a", SaleID: "sale-1", ProductID: "prod-1", Quantity: 5},
		{ID: "item-b", SaleID: "sale-1", ProductID: "prod-2", Quantity: 2},
	}
}

func TestSummarize(t *testing.T) {
	report := Summarize(saleItems(), map[string]int{"item-a": 3})

	assert.Equal(t, 5, report.Purchased["item-a"])
	assert.Equal(t, 3, report.AlreadyReturned["item-a"])
	assert.Equal(t, 2, report.Remaining["item-a"])
	assert.Equal(t, 2, report.Remaining["item-b"])
}

func TestSummarizeRemainingNeverNegative(t *testing.T) {
	report := Summarize(saleItems(), map[string]int{"item-a": 9})
	assert.Equal(t, 0, report.Remaining["item-a"])
}

func TestExhausted(t *testing.T) {
	assert.False(t, Summarize(saleItems(), nil).Exhausted())
	assert.False(t, Summarize(saleItems(), map[string]int{"item-a": 5}).Exhausted())
	assert.True(t, Summarize(saleItems(), map[string]int{"item-a": 5, "item-b": 2}).Exhausted())
}

func TestExhaustedEmptySale(t *testing.T) {
	assert.False(t, Summarize(nil, nil).Exhausted())
}

func TestCheckAllowsPartialReturn(t *testing.T) {
	_, err := Check(saleItems(), map[string]int{"item-a": 3}, []ProposedReturn{
		{OriginalSaleItemID: "item-a", Quantity: 2},
	})
	assert.NoError(t, err)
}

func TestCheckRejectsOverReturn(t *testing.T) {
	_, err := Check(saleItems(), map[string]int{"item-a": 3}, []ProposedReturn{
		{OriginalSaleItemID: "item-a", Quantity: 3},
	})

	var qtyErr *QuantityError
	require.ErrorAs(t, err, &qtyErr)
	assert.Equal(t, "Only 2 items can be returned (3 already returned out of 5 purchased)", qtyErr.Error())
	assert.Equal(t, 2, qtyErr.Remaining)
	assert.Equal(t, 3, qtyErr.AlreadyReturned)
	assert.Equal(t, 5, qtyErr.Purchased)
}

func TestCheckSumsDuplicateLines(t *testing.T) {
	_, err := Check(saleItems(), nil, []ProposedReturn{
		{OriginalSaleItemID: "item-a", Quantity: 3},
		{OriginalSaleItemID: "item-a", Quantity: 3},
	})

	var qtyErr *QuantityError
	require.ErrorAs(t, err, &qtyErr)
	assert.Equal(t, 6, qtyErr.Requested)
}

func TestCheckUnknownSaleItem(t *testing.T) {
	_, err := Check(saleItems(), nil, []ProposedReturn{
		{OriginalSaleItemID: "item-zzz", Quantity: 1},
	})

	var nfErr *SaleItemNotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "item-zzz", nfErr.OriginalSaleItemID)
}

func TestCheckAllItemsReturnedTakesPrecedence(t *testing.T) {
	// The aggregate check fires before per-line validation, even for a
	// line that references an unknown item.
	_, err := Check(saleItems(), map[string]int{"item-a": 5, "item-b": 2}, []ProposedReturn{
		{OriginalSaleItemID: "item-zzz", Quantity: 1},
	})
	assert.ErrorIs(t, err, ErrAllItemsReturned)
}

func TestCheckReportFromCachedSnapshot(t *testing.T) {
	report := Summarize(saleItems(), map[string]int{"item-b": 2})

	assert.NoError(t, CheckReport(report, []ProposedReturn{
		{OriginalSaleItemID: "item-a", Quantity: 5},
	}))

	var qtyErr *QuantityError
	err := CheckReport(report, []ProposedReturn{
		{OriginalSaleItemID: "item-b", Quantity: 1},
	})
	require.ErrorAs(t, err, &qtyErr)
	assert.Equal(t, 0, qtyErr.Remaining)
}
