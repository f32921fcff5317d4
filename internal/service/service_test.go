package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/eligibility"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/store/memory"
)

func newTestService(t *testing.T, restock bool) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopEligibilityCache{}, zap.NewNop().Sugar(), Options{
		DefaultStoreID: "store-central",
		RestockReturns: restock,
		EligibilityTTL: time.Minute,
	})
	return svc, repo
}

func cashierCtx() context.Context {
	return WithCashier(context.Background(), "cashier-1")
}

func saleRequest(productID string, qty int) domain.SaleCreateRequest {
	price := decimal.NewFromInt(4)
	total := price.Mul(decimal.NewFromInt(int64(qty)))
	return domain.SaleCreateRequest{
		StoreID:   "store-central",
		CashierID: "cashier-1",
		Items: []domain.SaleItemInput{
			{ProductID: productID, Quantity: qty, UnitPrice: price, TotalPrice: total},
		},
		Subtotal:    total,
		TotalAmount: total,
	}
}

func returnRequest(saleID string, saleItemID string, qty int, addToInventory bool, productID string) domain.ExchangeCreateRequest {
	return domain.ExchangeCreateRequest{
		StoreID:         "store-central",
		TransactionType: domain.ExchangeTypeReturn,
		OriginalSaleID:  saleID,
		ExchangeItems: []domain.ExchangeItemInput{
			{
				ItemType:           domain.ExchangeItemReturned,
				OriginalSaleItemID: saleItemID,
				ProductID:          productID,
				Quantity:           qty,
				UnitValue:          decimal.NewFromInt(4),
				AddToInventory:     addToInventory,
			},
		},
	}
}

func TestCreateSaleDecrementsStock(t *testing.T) {
	svc, repo := newTestService(t, true)

	sale, err := svc.CreateSale(context.Background(), saleRequest("prod-mie", 2))
	require.NoError(t, err)

	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Contains(t, sale.SaleNumber, "RCP-")
	require.Len(t, sale.Items, 1)
	assert.Equal(t, 118, repo.StockQuantity("prod-mie"))
}

func TestCreateSaleKeepsClientNumber(t *testing.T) {
	svc, _ := newTestService(t, true)

	req := saleRequest("prod-mie", 1)
	req.SaleNumber = "POS-0001"
	sale, err := svc.CreateSale(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "POS-0001", sale.SaleNumber)
}

func TestCreateSaleValidation(t *testing.T) {
	svc, _ := newTestService(t, true)

	req := saleRequest("prod-mie", 1)
	req.Items = nil
	_, err := svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrValidation)

	req = saleRequest("prod-mie", 0)
	_, err = svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrValidation)

	req = saleRequest("prod-mie", 1)
	req.CashierID = ""
	_, err = svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCreateSaleSurvivesStockFailure(t *testing.T) {
	svc, repo := newTestService(t, true)

	req := saleRequest("prod-mie", 1)
	req.Items = append(req.Items, domain.SaleItemInput{
		ProductID: "prod-ghost", Quantity: 1, UnitPrice: decimal.NewFromInt(9),
	})

	sale, err := svc.CreateSale(context.Background(), req)
	require.NoError(t, err)

	// The unknown product cannot be adjusted, but the sale and the other
	// item's adjustment stand.
	fetched, err := svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Len(t, fetched.Items, 2)
	assert.Equal(t, 119, repo.StockQuantity("prod-mie"))
}

func TestCreateSaleRecordsCouponUsage(t *testing.T) {
	svc, repo := newTestService(t, true)

	req := saleRequest("prod-mie", 1)
	req.AppliedCouponID = "coupon-hemat"
	req.DiscountAmount = decimal.NewFromInt(1)

	_, err := svc.CreateSale(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.CouponUsageCount("coupon-hemat"))
}

func TestReturnFlowAggregateEligibility(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 5))
	require.NoError(t, err)
	saleItemID := sale.Items[0].ID

	first, err := svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 3, false, "prod-mie"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusPending, first.Status)
	assert.Contains(t, first.TransactionNumber, "RET-")

	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 3, false, "prod-mie"))
	var qtyErr *eligibility.QuantityError
	require.ErrorAs(t, err, &qtyErr)
	assert.Equal(t, "Only 2 items can be returned (3 already returned out of 5 purchased)", qtyErr.Error())

	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 2, false, "prod-mie"))
	require.NoError(t, err)

	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 1, false, "prod-mie"))
	assert.ErrorIs(t, err, eligibility.ErrAllItemsReturned)
}

func TestReturnUnknownSaleItem(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)

	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, "item-bogus", 1, false, "prod-mie"))
	var nfErr *eligibility.SaleItemNotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func TestReturnUnknownSale(t *testing.T) {
	svc, _ := newTestService(t, false)

	_, err := svc.CreateExchange(cashierCtx(), returnRequest("sale-bogus", "item-x", 1, false, ""))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReturnRestocksInventory(t *testing.T) {
	svc, repo := newTestService(t, true)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 3))
	require.NoError(t, err)
	assert.Equal(t, 117, repo.StockQuantity("prod-mie"))

	exchange, err := svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 2, true, "prod-mie"))
	require.NoError(t, err)

	assert.Equal(t, 119, repo.StockQuantity("prod-mie"))
	require.Len(t, exchange.Items, 1)
	assert.Equal(t, "good", exchange.Items[0].InventoryCondition)
}

func TestReturnRestockDisabled(t *testing.T) {
	svc, repo := newTestService(t, false)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 3))
	require.NoError(t, err)

	exchange, err := svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 2, true, "prod-mie"))
	require.NoError(t, err)

	assert.Equal(t, 117, repo.StockQuantity("prod-mie"))
	assert.Empty(t, exchange.Items[0].InventoryCondition)
}

func TestCancelExchangeRestoresEligibilityAndStock(t *testing.T) {
	svc, repo := newTestService(t, true)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 5))
	require.NoError(t, err)
	saleItemID := sale.Items[0].ID

	exchange, err := svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 5, true, "prod-mie"))
	require.NoError(t, err)
	assert.Equal(t, 120, repo.StockQuantity("prod-mie"))

	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 1, false, "prod-mie"))
	assert.ErrorIs(t, err, eligibility.ErrAllItemsReturned)

	cancelled, err := svc.CancelExchange(ctx, exchange.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusCancelled, cancelled.Status)
	assert.Equal(t, 115, repo.StockQuantity("prod-mie"))

	// The cancelled transaction no longer counts against eligibility.
	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 5, false, "prod-mie"))
	assert.NoError(t, err)
}

func TestCancelExchangeTwice(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)
	exchange, err := svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 1, false, "prod-mie"))
	require.NoError(t, err)

	_, err = svc.CancelExchange(ctx, exchange.ID)
	require.NoError(t, err)
	_, err = svc.CancelExchange(ctx, exchange.ID)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestExchangePurchaseTotals(t *testing.T) {
	svc, _ := newTestService(t, false)

	req := domain.ExchangeCreateRequest{
		StoreID:         "store-central",
		TransactionType: domain.ExchangeTypeExchange,
		ExchangeItems: []domain.ExchangeItemInput{
			{ItemType: domain.ExchangeItemTradedIn, ProductName: "Rice Cooker Bekas", Quantity: 1, UnitValue: decimal.NewFromInt(20)},
		},
		PurchaseItems: []domain.PurchaseItemInput{
			{ProductID: "prod-susu", Quantity: 2, UnitPrice: decimal.NewFromInt(15)},
		},
		AdditionalPayment: decimal.NewFromInt(10),
	}

	exchange, err := svc.CreateExchange(cashierCtx(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.ExchangeStatusPending, exchange.Status)
	assert.Contains(t, exchange.TransactionNumber, "EXC-")
	assert.True(t, exchange.TradeInTotalValue.Equal(decimal.NewFromInt(20)))
	assert.True(t, exchange.TotalPurchaseAmount.Equal(decimal.NewFromInt(30)))
}

func TestExchangeUnknownPurchaseProductIsAtomic(t *testing.T) {
	svc, _ := newTestService(t, false)

	req := domain.ExchangeCreateRequest{
		StoreID:         "store-central",
		TransactionType: domain.ExchangeTypeTradeIn,
		ExchangeItems: []domain.ExchangeItemInput{
			{ItemType: domain.ExchangeItemTradedIn, ProductName: "Kipas Angin", Quantity: 1, UnitValue: decimal.NewFromInt(5)},
		},
		PurchaseItems: []domain.PurchaseItemInput{
			{ProductID: "prod-ghost", Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
		},
	}

	_, err := svc.CreateExchange(cashierCtx(), req)
	require.ErrorIs(t, err, store.ErrValidation)

	_, pagination, err := svc.ListExchanges(context.Background(), domain.ExchangeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, pagination.Total)
}

func TestCreateExchangeRequiresCashier(t *testing.T) {
	svc, _ := newTestService(t, false)

	_, err := svc.CreateExchange(context.Background(), returnRequest("sale-1", "item-1", 1, false, ""))
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestListSalesBusinessExpansionWithSupplyOrders(t *testing.T) {
	svc, _ := newTestService(t, false)

	_, err := svc.CreateSale(context.Background(), saleRequest("prod-mie", 1))
	require.NoError(t, err)

	records, pagination, err := svc.ListSales(context.Background(), domain.SaleFilter{
		BusinessID:          "biz-utama",
		IncludeSupplyOrders: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, pagination.Total)

	var saleCount, supplyCount int
	for _, record := range records {
		if record.SupplyOrder != nil {
			supplyCount++
			assert.Equal(t, "supply_order", record.SupplyOrder.RecordType)
		} else {
			saleCount++
		}
	}
	assert.Equal(t, 1, saleCount)
	assert.Equal(t, 2, supplyCount)

	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].Date.After(records[i-1].Date))
	}
}

func TestListSalesUnknownBusiness(t *testing.T) {
	svc, _ := newTestService(t, false)

	records, _, err := svc.ListSales(context.Background(), domain.SaleFilter{BusinessID: "biz-lain"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListExchangesFilterByType(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)
	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 1, false, "prod-mie"))
	require.NoError(t, err)

	tradeIn := domain.ExchangeCreateRequest{
		StoreID:         "store-central",
		TransactionType: domain.ExchangeTypeTradeIn,
		ExchangeItems: []domain.ExchangeItemInput{
			{ItemType: domain.ExchangeItemTradedIn, ProductName: "Blender Lama", Quantity: 1, UnitValue: decimal.NewFromInt(8)},
		},
	}
	_, err = svc.CreateExchange(ctx, tradeIn)
	require.NoError(t, err)

	returns, pagination, err := svc.ListExchanges(ctx, domain.ExchangeFilter{TransactionType: domain.ExchangeTypeReturn})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Total)
	require.Len(t, returns, 1)
	assert.Equal(t, domain.ExchangeTypeReturn, returns[0].TransactionType)
}

func TestCreateExchangeStartsPending(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)

	ret, err := svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 1, false, "prod-mie"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusPending, ret.Status)

	tradeIn, err := svc.CreateExchange(ctx, domain.ExchangeCreateRequest{
		StoreID:         "store-central",
		TransactionType: domain.ExchangeTypeTradeIn,
		ExchangeItems: []domain.ExchangeItemInput{
			{ItemType: domain.ExchangeItemTradedIn, ProductName: "Setrika Bekas", Quantity: 1, UnitValue: decimal.NewFromInt(6)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusPending, tradeIn.Status)
}

// unreadableExchangeRepo simulates a store whose read path fails after a
// successful write.
type unreadableExchangeRepo struct {
	store.Repository
}

func (r *unreadableExchangeRepo) GetExchangeByID(context.Context, string) (*domain.ExchangeTransaction, error) {
	return nil, errors.New("read replica down")
}

func TestCreateExchangeSurvivesEnrichmentFailure(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(&unreadableExchangeRepo{Repository: repo}, cache.NoopEligibilityCache{}, zap.NewNop().Sugar(), Options{
		DefaultStoreID: "store-central",
		EligibilityTTL: time.Minute,
	})
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)

	exchange, err := svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 1, false, "prod-mie"))
	require.NoError(t, err)
	assert.NotEmpty(t, exchange.ID)
	assert.Nil(t, exchange.OriginalSale)
}

type fakeEligibilityCache struct {
	entries map[string]*eligibility.Report
	getErr  error
	sets    int
}

func newFakeEligibilityCache() *fakeEligibilityCache {
	return &fakeEligibilityCache{entries: map[string]*eligibility.Report{}}
}

func (f *fakeEligibilityCache) Get(_ context.Context, saleID string) (*eligibility.Report, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	report, ok := f.entries[saleID]
	return report, ok, nil
}

func (f *fakeEligibilityCache) Set(_ context.Context, saleID string, report *eligibility.Report, _ time.Duration) error {
	f.entries[saleID] = report
	f.sets++
	return nil
}

func (f *fakeEligibilityCache) Invalidate(_ context.Context, saleID string) error {
	delete(f.entries, saleID)
	return nil
}

func newCachedService(t *testing.T, c *fakeEligibilityCache) *Service {
	t.Helper()
	return New(memory.NewSeeded(), c, zap.NewNop().Sugar(), Options{
		DefaultStoreID: "store-central",
		EligibilityTTL: time.Minute,
	})
}

func TestPrecheckUsesCachedSnapshot(t *testing.T) {
	c := newFakeEligibilityCache()
	svc := newCachedService(t, c)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)
	saleItemID := sale.Items[0].ID

	// A stale exhausted snapshot rejects early without touching the store.
	c.entries[sale.ID] = &eligibility.Report{
		Purchased:       map[string]int{saleItemID: 2},
		AlreadyReturned: map[string]int{saleItemID: 2},
		Remaining:       map[string]int{saleItemID: 0},
	}

	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, saleItemID, 1, false, "prod-mie"))
	assert.ErrorIs(t, err, eligibility.ErrAllItemsReturned)
	assert.Zero(t, c.sets)
}

func TestPrecheckMissPopulatesThenInvalidates(t *testing.T) {
	c := newFakeEligibilityCache()
	svc := newCachedService(t, c)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 3))
	require.NoError(t, err)

	_, err = svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 1, false, "prod-mie"))
	require.NoError(t, err)

	// The miss wrote a snapshot, and the successful write invalidated it.
	assert.Equal(t, 1, c.sets)
	assert.Empty(t, c.entries)
}

func TestPrecheckCacheReadErrorFallsBackToStore(t *testing.T) {
	c := newFakeEligibilityCache()
	c.getErr = errors.New("connection refused")
	svc := newCachedService(t, c)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)

	exchange, err := svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 1, false, "prod-mie"))
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeStatusPending, exchange.Status)
}

func TestGetExchangeEnrichesOriginalSale(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := cashierCtx()

	sale, err := svc.CreateSale(ctx, saleRequest("prod-mie", 2))
	require.NoError(t, err)
	exchange, err := svc.CreateExchange(ctx, returnRequest(sale.ID, sale.Items[0].ID, 1, false, "prod-mie"))
	require.NoError(t, err)

	fetched, err := svc.GetExchange(ctx, exchange.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.OriginalSale)
	assert.Equal(t, sale.ID, fetched.OriginalSale.ID)
}
