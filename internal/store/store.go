package store

import (
	"context"
	"errors"

	"tokopos/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("invalid request")
	ErrDuplicateNumber = errors.New("duplicate transaction number")
)

type Repository interface {
	ListStoreIDsByBusiness(ctx context.Context, businessID string) ([]string, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	// AdjustStock applies a single atomic delta to one product's stock
	// counter. Negative stock is permitted on the sale path.
	AdjustStock(ctx context.Context, productID string, delta int) error

	// CreateSale writes the sale header and all of its items as one unit of
	// work; an item-less sale can never be observed.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	ListSupplyOrders(ctx context.Context, filter domain.SaleFilter) ([]domain.SupplyOrder, error)

	// GetReturnedQuantities sums returned-type exchange item quantities per
	// original sale item id, counting only pending and completed exchange
	// transactions that reference the sale.
	GetReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error)

	// CreateExchange writes the transaction header, exchange items and
	// purchase items as one unit of work. For returns it re-validates
	// eligibility with the original sale locked, so concurrent submissions
	// cannot over-return. When restock is true, returned items flagged
	// add_to_inventory increment product stock in the same unit of work.
	CreateExchange(ctx context.Context, tx domain.ExchangeTransaction, restock bool) (*domain.ExchangeTransaction, error)
	GetExchangeByID(ctx context.Context, id string) (*domain.ExchangeTransaction, error)
	ListExchanges(ctx context.Context, filter domain.ExchangeFilter) ([]domain.ExchangeTransaction, int, error)

	// CancelExchange marks a pending or completed exchange transaction
	// cancelled and reverses any stock it restocked. Cancelled transactions
	// no longer count toward return eligibility.
	CancelExchange(ctx context.Context, id string) (*domain.ExchangeTransaction, error)

	RecordCouponUsage(ctx context.Context, usage domain.CouponUsage) error
	RecordPromotionUsage(ctx context.Context, usage domain.PromotionUsage) error
}
