package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/eligibility"
	"tokopos/backend/internal/store"
)

type Store struct {
	mu                sync.RWMutex
	stores            map[string]domain.Store
	products          map[string]domain.Product
	salesByID         map[string]*domain.Sale
	saleNumbers       map[string]string
	saleOrder         []string
	exchangesByID     map[string]*domain.ExchangeTransaction
	exchangeNumbers   map[string]string
	exchangeOrder     []string
	supplyOrders      []domain.SupplyOrder
	couponUsages      []domain.CouponUsage
	promotionUsages   []domain.PromotionUsage
	couponUseCount    map[string]int
	promotionUseCount map[string]int
}

func New() *Store {
	return &Store{
		stores:            map[string]domain.Store{},
		products:          map[string]domain.Product{},
		salesByID:         map[string]*domain.Sale{},
		saleNumbers:       map[string]string{},
		exchangesByID:     map[string]*domain.ExchangeTransaction{},
		exchangeNumbers:   map[string]string{},
		couponUseCount:    map[string]int{},
		promotionUseCount: map[string]int{},
	}
}

// NewSeeded builds a store pre-populated with demo data for no-DB mode and
// tests.
func NewSeeded() *Store {
	s := New()

	s.stores["store-central"] = domain.Store{ID: "store-central", BusinessID: "biz-utama", Name: "Toko Pusat", IsActive: true}
	s.stores["store-kota"] = domain.Store{ID: "store-kota", BusinessID: "biz-utama", Name: "Cabang Kota", IsActive: true}
	s.stores["store-lama"] = domain.Store{ID: "store-lama", BusinessID: "biz-utama", Name: "Cabang Lama", IsActive: false}

	products := []domain.Product{
		{ID: "prod-mie", StoreID: "store-central", Name: "Mie Goreng Instan", SKU: "SKU-MIE-01", Price: decimal.NewFromInt(4), StockQuantity: 120},
		{ID: "prod-kopi", StoreID: "store-central", Name: "Kopi Sachet", SKU: "SKU-KOPI-01", Price: decimal.NewFromInt(3), StockQuantity: 200},
		{ID: "prod-susu", StoreID: "store-central", Name: "Susu UHT 1L", SKU: "SKU-SUSU-01", Price: decimal.NewFromInt(19), StockQuantity: 60},
		{ID: "prod-roti", StoreID: "store-central", Name: "Roti Tawar", SKU: "SKU-ROTI-01", Price: decimal.NewFromInt(18), StockQuantity: 45},
		{ID: "prod-teh", StoreID: "store-kota", Name: "Teh Celup", SKU: "SKU-TEH-01", Price: decimal.NewFromInt(10), StockQuantity: 80},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	now := time.Now().UTC()
	s.supplyOrders = []domain.SupplyOrder{
		{RecordType: "supply_order", ID: "supply-1", StoreID: "store-central", SupplierName: "CV Sumber Rejeki", Status: "received", TotalAmount: decimal.NewFromInt(250), CreatedAt: now.Add(-48 * time.Hour)},
		{RecordType: "supply_order", ID: "supply-2", StoreID: "store-kota", SupplierName: "PT Grosir Jaya", Status: "pending", TotalAmount: decimal.NewFromInt(90), CreatedAt: now.Add(-6 * time.Hour)},
	}

	return s
}

func (s *Store) ListStoreIDsByBusiness(_ context.Context, businessID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.stores))
	for _, st := range s.stores {
		if st.BusinessID == businessID && st.IsActive {
			ids = append(ids, st.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	product.StockQuantity += delta
	s.products[productID] = product
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.SaleNumber == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.saleNumbers[sale.SaleNumber]; taken {
		return nil, store.ErrDuplicateNumber
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrValidation
	}

	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.saleNumbers[sale.SaleNumber] = sale.ID
	s.saleOrder = append(s.saleOrder, sale.ID)

	return cloneSale(stored), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if !saleMatches(sale, filter) {
			continue
		}
		matched = append(matched, *cloneSale(sale))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].TransactionDate.After(matched[j].TransactionDate)
	})

	total := len(matched)
	return paginateSales(matched, filter.Limit, filter.Offset), total, nil
}

func (s *Store) ListSupplyOrders(_ context.Context, filter domain.SaleFilter) ([]domain.SupplyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.SupplyOrder, 0, len(s.supplyOrders))
	for _, order := range s.supplyOrders {
		if !storeIDMatches(order.StoreID, filter) {
			continue
		}
		if filter.StartDate != nil && order.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && order.CreatedAt.After(*filter.EndDate) {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (s *Store) GetReturnedQuantities(_ context.Context, saleID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returnedQuantitiesLocked(saleID), nil
}

func (s *Store) returnedQuantitiesLocked(saleID string) map[string]int {
	result := make(map[string]int)
	for _, tx := range s.exchangesByID {
		if tx.OriginalSaleID != saleID || tx.Status == domain.ExchangeStatusCancelled {
			continue
		}
		for _, item := range tx.Items {
			if item.ItemType == domain.ExchangeItemReturned && item.OriginalSaleItemID != "" {
				result[item.OriginalSaleItemID] += item.Quantity
			}
		}
	}
	return result
}

func (s *Store) CreateExchange(_ context.Context, tx domain.ExchangeTransaction, restock bool) (*domain.ExchangeTransaction, error) {
	if tx.ID == "" || tx.TransactionNumber == "" || len(tx.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.exchangeNumbers[tx.TransactionNumber]; taken {
		return nil, store.ErrDuplicateNumber
	}

	if tx.TransactionType == domain.ExchangeTypeReturn {
		sale, ok := s.salesByID[tx.OriginalSaleID]
		if !ok {
			return nil, store.ErrNotFound
		}
		proposed := make([]eligibility.ProposedReturn, 0, len(tx.Items))
		for _, item := range tx.Items {
			if item.ItemType == domain.ExchangeItemReturned {
				proposed = append(proposed, eligibility.ProposedReturn{
					OriginalSaleItemID: item.OriginalSaleItemID,
					Quantity:           item.Quantity,
				})
			}
		}
		if _, err := eligibility.Check(sale.Items, s.returnedQuantitiesLocked(sale.ID), proposed); err != nil {
			return nil, err
		}
	}

	for _, item := range tx.PurchaseItems {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, store.ErrValidation
		}
	}

	stored := cloneExchange(&tx)
	if restock {
		for i, item := range stored.Items {
			if item.ItemType != domain.ExchangeItemReturned || !item.AddToInventory || item.ProductID == "" {
				continue
			}
			product, ok := s.products[item.ProductID]
			if !ok {
				continue
			}
			product.StockQuantity += item.Quantity
			s.products[item.ProductID] = product
			condition := item.Condition
			if condition == "" {
				condition = "good"
			}
			stored.Items[i].InventoryCondition = condition
		}
	}

	s.exchangesByID[stored.ID] = stored
	s.exchangeNumbers[stored.TransactionNumber] = stored.ID
	s.exchangeOrder = append(s.exchangeOrder, stored.ID)

	return cloneExchange(stored), nil
}

func (s *Store) GetExchangeByID(_ context.Context, id string) (*domain.ExchangeTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.exchangesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	enriched := cloneExchange(tx)
	if tx.OriginalSaleID != "" {
		if sale, ok := s.salesByID[tx.OriginalSaleID]; ok {
			enriched.OriginalSale = cloneSale(sale)
		}
	}
	return enriched, nil
}

func (s *Store) ListExchanges(_ context.Context, filter domain.ExchangeFilter) ([]domain.ExchangeTransaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.ExchangeTransaction, 0, len(s.exchangeOrder))
	for _, id := range s.exchangeOrder {
		tx := s.exchangesByID[id]
		if !exchangeMatches(tx, filter) {
			continue
		}
		matched = append(matched, *cloneExchange(tx))
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.ExchangeTransaction{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (s *Store) CancelExchange(_ context.Context, id string) (*domain.ExchangeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.exchangesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.ExchangeStatusCancelled {
		return nil, store.ErrValidation
	}

	// Reverse restocks recorded at creation time.
	for _, item := range tx.Items {
		if item.InventoryCondition == "" || item.ProductID == "" {
			continue
		}
		if product, ok := s.products[item.ProductID]; ok {
			product.StockQuantity -= item.Quantity
			s.products[item.ProductID] = product
		}
	}

	tx.Status = domain.ExchangeStatusCancelled
	return cloneExchange(tx), nil
}

func (s *Store) RecordCouponUsage(_ context.Context, usage domain.CouponUsage) error {
	if usage.CouponID == "" || usage.SaleID == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.couponUsages = append(s.couponUsages, usage)
	s.couponUseCount[usage.CouponID]++
	return nil
}

func (s *Store) RecordPromotionUsage(_ context.Context, usage domain.PromotionUsage) error {
	if usage.PromotionID == "" || usage.SaleID == "" {
		return store.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotionUsages = append(s.promotionUsages, usage)
	s.promotionUseCount[usage.PromotionID]++
	return nil
}

// StockQuantity reports the current stock counter for a product. Used by
// tests and the seeded dev mode.
func (s *Store) StockQuantity(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.products[productID].StockQuantity
}

// CouponUsageCount reports how many usages were recorded for a coupon.
func (s *Store) CouponUsageCount(couponID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.couponUseCount[couponID]
}

func saleMatches(sale *domain.Sale, filter domain.SaleFilter) bool {
	if !storeIDMatches(sale.StoreID, filter) {
		return false
	}
	if filter.CashierID != "" && sale.CashierID != filter.CashierID {
		return false
	}
	if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
		return false
	}
	if filter.Status != "" && sale.Status != filter.Status {
		return false
	}
	if filter.StartDate != nil && sale.TransactionDate.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && sale.TransactionDate.After(*filter.EndDate) {
		return false
	}
	return true
}

func storeIDMatches(storeID string, filter domain.SaleFilter) bool {
	if filter.StoreID != "" && storeID != filter.StoreID {
		return false
	}
	if len(filter.StoreIDs) > 0 && !slicesContains(filter.StoreIDs, storeID) {
		return false
	}
	return true
}

func exchangeMatches(tx *domain.ExchangeTransaction, filter domain.ExchangeFilter) bool {
	if filter.StoreID != "" && tx.StoreID != filter.StoreID {
		return false
	}
	if filter.CustomerID != "" && tx.CustomerID != filter.CustomerID {
		return false
	}
	if filter.TransactionType != "" && tx.TransactionType != filter.TransactionType {
		return false
	}
	if filter.Status != "" && tx.Status != filter.Status {
		return false
	}
	if filter.StartDate != nil && tx.CreatedAt.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && tx.CreatedAt.After(*filter.EndDate) {
		return false
	}
	return true
}

func paginateSales(sales []domain.Sale, limit int, offset int) []domain.Sale {
	if limit < 1 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sales) {
		return []domain.Sale{}
	}
	end := offset + limit
	if end > len(sales) {
		end = len(sales)
	}
	return sales[offset:end]
}

func slicesContains(haystack []string, needle string) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	copied := *sale
	copied.Items = append([]domain.SaleItem(nil), sale.Items...)
	copied.PaymentMethods = append([]domain.PaymentSplit(nil), sale.PaymentMethods...)
	return &copied
}

func cloneExchange(tx *domain.ExchangeTransaction) *domain.ExchangeTransaction {
	copied := *tx
	copied.Items = append([]domain.ExchangeItem(nil), tx.Items...)
	copied.PurchaseItems = append([]domain.PurchaseItem(nil), tx.PurchaseItems...)
	copied.OriginalSale = nil
	if tx.OriginalSale != nil {
		copied.OriginalSale = cloneSale(tx.OriginalSale)
	}
	return &copied
}
