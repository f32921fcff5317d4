package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/store"
)

func seedSale(t *testing.T, s *Store, id string, number string, when time.Time) *domain.Sale {
	t.Helper()
	sale, err := s.CreateSale(context.Background(), domain.Sale{
		ID:              id,
		StoreID:         "store-central",
		CashierID:       "cashier-1",
		SaleNumber:      number,
		TotalAmount:     decimal.NewFromInt(10),
		Status:          domain.SaleStatusCompleted,
		TransactionDate: when,
		Items: []domain.SaleItem{
			{ID: id + "-item", SaleID: id, ProductID: "prod-mie", Quantity: 1},
		},
	})
	require.NoError(t, err)
	return sale
}

func TestCreateSaleRejectsDuplicateNumber(t *testing.T) {
	s := NewSeeded()
	now := time.Now()

	seedSale(t, s, "sale-1", "POS-1", now)
	_, err := s.CreateSale(context.Background(), domain.Sale{
		ID:         "sale-2",
		SaleNumber: "POS-1",
		Items:      []domain.SaleItem{{ID: "i", SaleID: "sale-2", ProductID: "prod-mie", Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrDuplicateNumber)
}

func TestCreateSaleRejectsEmptyItems(t *testing.T) {
	s := NewSeeded()
	_, err := s.CreateSale(context.Background(), domain.Sale{ID: "sale-1", SaleNumber: "POS-1"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestListSalesNewestFirstWithPagination(t *testing.T) {
	s := NewSeeded()
	now := time.Now()
	seedSale(t, s, "sale-old", "POS-1", now.Add(-2*time.Hour))
	seedSale(t, s, "sale-mid", "POS-2", now.Add(-time.Hour))
	seedSale(t, s, "sale-new", "POS-3", now)

	sales, total, err := s.ListSales(context.Background(), domain.SaleFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, sales, 2)
	assert.Equal(t, "sale-new", sales[0].ID)
	assert.Equal(t, "sale-mid", sales[1].ID)

	sales, _, err = s.ListSales(context.Background(), domain.SaleFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "sale-old", sales[0].ID)
}

func TestListSalesDateFilter(t *testing.T) {
	s := NewSeeded()
	now := time.Now()
	seedSale(t, s, "sale-old", "POS-1", now.Add(-48*time.Hour))
	seedSale(t, s, "sale-new", "POS-2", now)

	start := now.Add(-time.Hour)
	sales, total, err := s.ListSales(context.Background(), domain.SaleFilter{StartDate: &start})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, sales, 1)
	assert.Equal(t, "sale-new", sales[0].ID)
}

func TestListStoreIDsByBusinessSkipsInactive(t *testing.T) {
	s := NewSeeded()

	ids, err := s.ListStoreIDsByBusiness(context.Background(), "biz-utama")
	require.NoError(t, err)
	assert.Equal(t, []string{"store-central", "store-kota"}, ids)
}

func TestAdjustStockUnknownProduct(t *testing.T) {
	s := NewSeeded()
	err := s.AdjustStock(context.Background(), "prod-ghost", -1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetReturnedQuantitiesIgnoresCancelled(t *testing.T) {
	s := NewSeeded()
	now := time.Now()
	sale := seedSale(t, s, "sale-1", "POS-1", now)

	exchange := domain.ExchangeTransaction{
		ID:                "ex-1",
		StoreID:           "store-central",
		CashierID:         "cashier-1",
		TransactionNumber: "RET-1",
		TransactionType:   domain.ExchangeTypeReturn,
		OriginalSaleID:    sale.ID,
		Status:            domain.ExchangeStatusCompleted,
		CreatedAt:         now,
		Items: []domain.ExchangeItem{
			{ID: "exi-1", ExchangeTransactionID: "ex-1", ItemType: domain.ExchangeItemReturned,
				OriginalSaleItemID: sale.Items[0].ID, Quantity: 1},
		},
	}
	_, err := s.CreateExchange(context.Background(), exchange, false)
	require.NoError(t, err)

	returned, err := s.GetReturnedQuantities(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, returned[sale.Items[0].ID])

	_, err = s.CancelExchange(context.Background(), "ex-1")
	require.NoError(t, err)

	returned, err = s.GetReturnedQuantities(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Zero(t, returned[sale.Items[0].ID])
}
