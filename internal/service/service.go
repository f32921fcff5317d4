package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/eligibility"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/txnumber"
)

type contextKey string

const cashierKey contextKey = "cashier"

// WithCashier stamps the acting cashier's id onto the context. The HTTP layer
// sets it from the x-user-id header.
func WithCashier(ctx context.Context, cashierID string) context.Context {
	return context.WithValue(ctx, cashierKey, cashierID)
}

func CashierFromContext(ctx context.Context) string {
	cashierID, _ := ctx.Value(cashierKey).(string)
	return cashierID
}

type Options struct {
	DefaultStoreID string
	RestockReturns bool
	EligibilityTTL time.Duration
}

type Service struct {
	repo           store.Repository
	cache          cache.EligibilityCache
	log            *zap.SugaredLogger
	defaultStoreID string
	restockReturns bool
	eligibilityTTL time.Duration
}

func New(repo store.Repository, eligibilityCache cache.EligibilityCache, log *zap.SugaredLogger, opts Options) *Service {
	if eligibilityCache == nil {
		eligibilityCache = cache.NoopEligibilityCache{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ttl := opts.EligibilityTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:           repo,
		cache:          eligibilityCache,
		log:            log,
		defaultStoreID: opts.DefaultStoreID,
		restockReturns: opts.RestockReturns,
		eligibilityTTL: ttl,
	}
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Sale, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if req.StoreID == "" {
		return nil, fmt.Errorf("%w: store_id is required", store.ErrValidation)
	}
	cashierID := req.CashierID
	if cashierID == "" {
		cashierID = CashierFromContext(ctx)
	}
	if cashierID == "" {
		return nil, fmt.Errorf("%w: cashier_id is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item product_id is required", store.ErrValidation)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: item quantity must be positive", store.ErrValidation)
		}
	}

	generatedNumber := req.SaleNumber == ""
	saleNumber := req.SaleNumber
	if generatedNumber {
		saleNumber = txnumber.Receipt()
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:                 uuid.NewString(),
		StoreID:            req.StoreID,
		CashierID:          cashierID,
		CustomerID:         req.CustomerID,
		SaleNumber:         saleNumber,
		Subtotal:           req.Subtotal,
		TaxAmount:          req.TaxAmount,
		DiscountAmount:     req.DiscountAmount,
		TotalAmount:        req.TotalAmount,
		PaymentMethod:      req.PaymentMethod,
		CashReceived:       req.CashReceived,
		ChangeGiven:        req.ChangeGiven,
		PaymentMethods:     req.PaymentMethods,
		Status:             domain.SaleStatusCompleted,
		DiscountReason:     req.DiscountReason,
		AppliedCouponID:    req.AppliedCouponID,
		AppliedPromotionID: req.AppliedPromotionID,
		TransactionDate:    now,
	}
	for _, input := range req.Items {
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:             uuid.NewString(),
			SaleID:         sale.ID,
			ProductID:      input.ProductID,
			Quantity:       input.Quantity,
			UnitPrice:      input.UnitPrice,
			DiscountAmount: input.DiscountAmount,
			TotalPrice:     input.TotalPrice,
		})
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if errors.Is(err, store.ErrDuplicateNumber) && generatedNumber {
		sale.SaleNumber = txnumber.Receipt()
		created, err = s.repo.CreateSale(ctx, sale)
	}
	if err != nil {
		return nil, err
	}

	// Stock failures do not fail the sale; each item is adjusted on its own
	// and failures are logged.
	for _, item := range created.Items {
		if err := s.repo.AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
			s.log.Warnw("stock adjustment failed",
				"sale_id", created.ID, "product_id", item.ProductID, "error", err)
		}
	}

	s.recordDiscountUsage(ctx, created)

	return created, nil
}

// recordDiscountUsage tracks coupon and promotion redemptions best effort; a
// tracking failure never unwinds the committed sale.
func (s *Service) recordDiscountUsage(ctx context.Context, sale *domain.Sale) {
	now := time.Now().UTC()
	if sale.AppliedCouponID != "" {
		usage := domain.CouponUsage{
			ID:             uuid.NewString(),
			CouponID:       sale.AppliedCouponID,
			CustomerID:     sale.CustomerID,
			SaleID:         sale.ID,
			DiscountAmount: sale.DiscountAmount,
			UsedAt:         now,
		}
		if err := s.repo.RecordCouponUsage(ctx, usage); err != nil {
			s.log.Warnw("coupon usage tracking failed",
				"sale_id", sale.ID, "coupon_id", sale.AppliedCouponID, "error", err)
		}
	}
	if sale.AppliedPromotionID != "" {
		usage := domain.PromotionUsage{
			ID:             uuid.NewString(),
			PromotionID:    sale.AppliedPromotionID,
			CustomerID:     sale.CustomerID,
			SaleID:         sale.ID,
			DiscountAmount: sale.DiscountAmount,
			UsedAt:         now,
		}
		if err := s.repo.RecordPromotionUsage(ctx, usage); err != nil {
			s.log.Warnw("promotion usage tracking failed",
				"sale_id", sale.ID, "promotion_id", sale.AppliedPromotionID, "error", err)
		}
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: sale id is required", store.ErrValidation)
	}
	return s.repo.GetSaleByID(ctx, id)
}

// ListSales resolves business-level filters down to store ids and, when
// requested, merges supply orders into the same date-descending feed.
func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, domain.Pagination, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	pagination := domain.Pagination{Limit: filter.Limit, Offset: filter.Offset}

	if filter.BusinessID != "" && filter.StoreID == "" {
		storeIDs, err := s.repo.ListStoreIDsByBusiness(ctx, filter.BusinessID)
		if err != nil {
			return nil, pagination, err
		}
		if len(storeIDs) == 0 {
			return []domain.SaleRecord{}, pagination, nil
		}
		filter.StoreIDs = storeIDs
	}

	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, pagination, err
	}
	pagination.Total = total

	records := make([]domain.SaleRecord, 0, len(sales))
	for i := range sales {
		records = append(records, domain.SaleRecord{Sale: &sales[i], Date: sales[i].TransactionDate})
	}

	if filter.IncludeSupplyOrders {
		orders, err := s.repo.ListSupplyOrders(ctx, filter)
		if err != nil {
			return nil, pagination, err
		}
		for i := range orders {
			orders[i].RecordType = "supply_order"
			records = append(records, domain.SaleRecord{SupplyOrder: &orders[i], Date: orders[i].CreatedAt})
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Date.After(records[j].Date)
		})
	}

	return records, pagination, nil
}

func (s *Service) CreateExchange(ctx context.Context, req domain.ExchangeCreateRequest) (*domain.ExchangeTransaction, error) {
	cashierID := CashierFromContext(ctx)
	if cashierID == "" {
		return nil, fmt.Errorf("%w: user identification required", store.ErrValidation)
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if req.StoreID == "" {
		return nil, fmt.Errorf("%w: store_id is required", store.ErrValidation)
	}
	if !domain.ValidTransactionType(req.TransactionType) {
		return nil, fmt.Errorf("%w: invalid transaction_type %q", store.ErrValidation, req.TransactionType)
	}
	if len(req.ExchangeItems) == 0 {
		return nil, fmt.Errorf("%w: at least one exchange item is required", store.ErrValidation)
	}
	for _, item := range req.ExchangeItems {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: exchange item quantity must be positive", store.ErrValidation)
		}
		if item.ItemType != domain.ExchangeItemReturned && item.ItemType != domain.ExchangeItemTradedIn {
			return nil, fmt.Errorf("%w: invalid item_type %q", store.ErrValidation, item.ItemType)
		}
	}
	for _, item := range req.PurchaseItems {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: purchase item product_id is required", store.ErrValidation)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: purchase item quantity must be positive", store.ErrValidation)
		}
	}
	if req.TransactionType == domain.ExchangeTypeReturn {
		if req.OriginalSaleID == "" {
			return nil, fmt.Errorf("%w: original_sale_id is required for returns", store.ErrValidation)
		}
		for _, item := range req.ExchangeItems {
			if item.ItemType == domain.ExchangeItemReturned && item.OriginalSaleItemID == "" {
				return nil, fmt.Errorf("%w: original_sale_item_id is required for returned items", store.ErrValidation)
			}
		}
		if err := s.precheckEligibility(ctx, req); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	exchange := domain.ExchangeTransaction{
		ID:                uuid.NewString(),
		StoreID:           req.StoreID,
		CustomerID:        req.CustomerID,
		CashierID:         cashierID,
		TransactionNumber: txnumber.New(domain.TransactionNumberPrefix(req.TransactionType)),
		TransactionType:   req.TransactionType,
		OriginalSaleID:    req.OriginalSaleID,
		AdditionalPayment: req.AdditionalPayment,
		Status:            domain.ExchangeStatusPending,
		Notes:             req.Notes,
		CreatedAt:         now,
	}

	tradeInTotal := decimal.Zero
	for _, input := range req.ExchangeItems {
		totalValue := input.UnitValue.Mul(decimal.NewFromInt(int64(input.Quantity)))
		tradeInTotal = tradeInTotal.Add(totalValue)
		exchange.Items = append(exchange.Items, domain.ExchangeItem{
			ID:                    uuid.NewString(),
			ExchangeTransactionID: exchange.ID,
			ItemType:              input.ItemType,
			OriginalSaleItemID:    input.OriginalSaleItemID,
			ProductID:             input.ProductID,
			ProductName:           input.ProductName,
			ProductSKU:            input.ProductSKU,
			ProductBarcode:        input.ProductBarcode,
			Quantity:              input.Quantity,
			UnitValue:             input.UnitValue,
			TotalValue:            totalValue,
			Condition:             input.Condition,
			ConditionNotes:        input.ConditionNotes,
			AddToInventory:        input.AddToInventory,
		})
	}
	exchange.TradeInTotalValue = tradeInTotal

	purchaseTotal := decimal.Zero
	for _, input := range req.PurchaseItems {
		totalPrice := input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))).Sub(input.DiscountAmount)
		purchaseTotal = purchaseTotal.Add(totalPrice)
		exchange.PurchaseItems = append(exchange.PurchaseItems, domain.PurchaseItem{
			ID:                    uuid.NewString(),
			ExchangeTransactionID: exchange.ID,
			ProductID:             input.ProductID,
			Quantity:              input.Quantity,
			UnitPrice:             input.UnitPrice,
			TotalPrice:            totalPrice,
			DiscountAmount:        input.DiscountAmount,
		})
	}
	exchange.TotalPurchaseAmount = purchaseTotal

	created, err := s.repo.CreateExchange(ctx, exchange, s.restockReturns)
	if errors.Is(err, store.ErrDuplicateNumber) {
		exchange.TransactionNumber = txnumber.New(domain.TransactionNumberPrefix(req.TransactionType))
		created, err = s.repo.CreateExchange(ctx, exchange, s.restockReturns)
	}
	if err != nil {
		return nil, err
	}

	if created.OriginalSaleID != "" {
		if err := s.cache.Invalidate(ctx, created.OriginalSaleID); err != nil {
			s.log.Warnw("eligibility cache invalidation failed",
				"sale_id", created.OriginalSaleID, "error", err)
		}
	}

	enriched, err := s.repo.GetExchangeByID(ctx, created.ID)
	if err != nil {
		s.log.Warnw("exchange enrichment read failed", "exchange_id", created.ID, "error", err)
		return created, nil
	}
	return enriched, nil
}

// precheckEligibility runs the fast advisory check before the transactional
// write. The store re-validates with the sale locked, so a stale cache entry
// can only produce an early rejection or a retry, never an over-return.
func (s *Service) precheckEligibility(ctx context.Context, req domain.ExchangeCreateRequest) error {
	proposed := make([]eligibility.ProposedReturn, 0, len(req.ExchangeItems))
	for _, item := range req.ExchangeItems {
		if item.ItemType == domain.ExchangeItemReturned {
			proposed = append(proposed, eligibility.ProposedReturn{
				OriginalSaleItemID: item.OriginalSaleItemID,
				Quantity:           item.Quantity,
			})
		}
	}

	report, hit, err := s.cache.Get(ctx, req.OriginalSaleID)
	if err != nil {
		s.log.Warnw("eligibility cache read failed", "sale_id", req.OriginalSaleID, "error", err)
		hit = false
	}
	if hit {
		return eligibility.CheckReport(*report, proposed)
	}

	sale, err := s.repo.GetSaleByID(ctx, req.OriginalSaleID)
	if err != nil {
		return err
	}
	returned, err := s.repo.GetReturnedQuantities(ctx, sale.ID)
	if err != nil {
		return err
	}

	fresh, checkErr := eligibility.Check(sale.Items, returned, proposed)
	if err := s.cache.Set(ctx, sale.ID, &fresh, s.eligibilityTTL); err != nil {
		s.log.Warnw("eligibility cache write failed", "sale_id", sale.ID, "error", err)
	}
	return checkErr
}

func (s *Service) GetExchange(ctx context.Context, id string) (*domain.ExchangeTransaction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: exchange id is required", store.ErrValidation)
	}
	return s.repo.GetExchangeByID(ctx, id)
}

func (s *Service) ListExchanges(ctx context.Context, filter domain.ExchangeFilter) ([]domain.ExchangeTransaction, domain.Pagination, error) {
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	pagination := domain.Pagination{Limit: filter.Limit, Offset: filter.Offset}

	exchanges, total, err := s.repo.ListExchanges(ctx, filter)
	if err != nil {
		return nil, pagination, err
	}
	pagination.Total = total
	return exchanges, pagination, nil
}

func (s *Service) CancelExchange(ctx context.Context, id string) (*domain.ExchangeTransaction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: exchange id is required", store.ErrValidation)
	}
	cancelled, err := s.repo.CancelExchange(ctx, id)
	if err != nil {
		return nil, err
	}
	if cancelled.OriginalSaleID != "" {
		if err := s.cache.Invalidate(ctx, cancelled.OriginalSaleID); err != nil {
			s.log.Warnw("eligibility cache invalidation failed",
				"sale_id", cancelled.OriginalSaleID, "error", err)
		}
	}
	return cancelled, nil
}
