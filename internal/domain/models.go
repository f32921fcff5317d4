package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Store struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
}

type Product struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Barcode       string          `json:"barcode,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type Sale struct {
	ID                 string          `json:"id"`
	StoreID            string          `json:"store_id"`
	CashierID          string          `json:"cashier_id"`
	CustomerID         string          `json:"customer_id,omitempty"`
	SaleNumber         string          `json:"sale_number"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaymentMethod      string          `json:"payment_method,omitempty"`
	CashReceived       decimal.Decimal `json:"cash_received"`
	ChangeGiven        decimal.Decimal `json:"change_given"`
	PaymentMethods     []PaymentSplit  `json:"payment_methods,omitempty"`
	Status             string          `json:"status"`
	DiscountReason     string          `json:"discount_reason,omitempty"`
	AppliedCouponID    string          `json:"applied_coupon_id,omitempty"`
	AppliedPromotionID string          `json:"applied_promotion_id,omitempty"`
	TransactionDate    time.Time       `json:"transaction_date"`
	Items              []SaleItem      `json:"items,omitempty"`
}

type SaleItem struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalPrice     decimal.Decimal `json:"total_price"`
}

type PaymentSplit struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type ExchangeTransaction struct {
	ID                  string          `json:"id"`
	StoreID             string          `json:"store_id"`
	CustomerID          string          `json:"customer_id,omitempty"`
	CashierID           string          `json:"cashier_id"`
	TransactionNumber   string          `json:"transaction_number"`
	TransactionType     string          `json:"transaction_type"`
	OriginalSaleID      string          `json:"original_sale_id,omitempty"`
	TradeInTotalValue   decimal.Decimal `json:"trade_in_total_value"`
	AdditionalPayment   decimal.Decimal `json:"additional_payment"`
	TotalPurchaseAmount decimal.Decimal `json:"total_purchase_amount"`
	Status              string          `json:"status"`
	Notes               string          `json:"notes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	Items               []ExchangeItem  `json:"exchange_items"`
	PurchaseItems       []PurchaseItem  `json:"purchase_items,omitempty"`
	// OriginalSale is populated on enriched reads only.
	OriginalSale *Sale `json:"original_sale,omitempty"`
}

type ExchangeItem struct {
	ID                    string          `json:"id"`
	ExchangeTransactionID string          `json:"exchange_transaction_id"`
	ItemType              string          `json:"item_type"`
	OriginalSaleItemID    string          `json:"original_sale_item_id,omitempty"`
	ProductID             string          `json:"product_id,omitempty"`
	ProductName           string          `json:"product_name,omitempty"`
	ProductSKU            string          `json:"product_sku,omitempty"`
	ProductBarcode        string          `json:"product_barcode,omitempty"`
	Quantity              int             `json:"quantity"`
	UnitValue             decimal.Decimal `json:"unit_value"`
	TotalValue            decimal.Decimal `json:"total_value"`
	Condition             string          `json:"condition,omitempty"`
	ConditionNotes        string          `json:"condition_notes,omitempty"`
	AddToInventory        bool            `json:"add_to_inventory"`
	InventoryCondition    string          `json:"inventory_condition,omitempty"`
}

type PurchaseItem struct {
	ID                    string          `json:"id"`
	ExchangeTransactionID string          `json:"exchange_transaction_id"`
	ProductID             string          `json:"product_id"`
	Quantity              int             `json:"quantity"`
	UnitPrice             decimal.Decimal `json:"unit_price"`
	TotalPrice            decimal.Decimal `json:"total_price"`
	DiscountAmount        decimal.Decimal `json:"discount_amount"`
}

type SupplyOrder struct {
	RecordType   string          `json:"record_type"`
	ID           string          `json:"id"`
	StoreID      string          `json:"store_id"`
	SupplierName string          `json:"supplier_name"`
	Status       string          `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CouponUsage struct {
	ID             string          `json:"id"`
	CouponID       string          `json:"coupon_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	SaleID         string          `json:"sale_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	UsedAt         time.Time       `json:"used_at"`
}

type PromotionUsage struct {
	ID             string          `json:"id"`
	PromotionID    string          `json:"promotion_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	SaleID         string          `json:"sale_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	UsedAt         time.Time       `json:"used_at"`
}

type SaleItemInput struct {
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type SaleCreateRequest struct {
	StoreID            string          `json:"store_id"`
	CashierID          string          `json:"cashier_id"`
	CustomerID         string          `json:"customer_id,omitempty"`
	Items              []SaleItemInput `json:"items"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaymentMethod      string          `json:"payment_method,omitempty"`
	CashReceived       decimal.Decimal `json:"cash_received"`
	ChangeGiven        decimal.Decimal `json:"change_given"`
	SaleNumber         string          `json:"saleNumber,omitempty"`
	AppliedCouponID    string          `json:"applied_coupon_id,omitempty"`
	AppliedPromotionID string          `json:"applied_promotion_id,omitempty"`
	DiscountReason     string          `json:"discount_reason,omitempty"`
	PaymentMethods     []PaymentSplit  `json:"paymentMethods,omitempty"`
}

type ExchangeItemInput struct {
	ItemType           string          `json:"item_type"`
	OriginalSaleItemID string          `json:"original_sale_item_id,omitempty"`
	ProductID          string          `json:"product_id,omitempty"`
	ProductName        string          `json:"product_name,omitempty"`
	ProductSKU         string          `json:"product_sku,omitempty"`
	ProductBarcode     string          `json:"product_barcode,omitempty"`
	Quantity           int             `json:"quantity"`
	UnitValue          decimal.Decimal `json:"unit_value"`
	Condition          string          `json:"condition,omitempty"`
	ConditionNotes     string          `json:"condition_notes,omitempty"`
	AddToInventory     bool            `json:"add_to_inventory,omitempty"`
}

type PurchaseItemInput struct {
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type ExchangeCreateRequest struct {
	StoreID           string              `json:"store_id"`
	TransactionType   string              `json:"transaction_type"`
	CustomerID        string              `json:"customer_id,omitempty"`
	OriginalSaleID    string              `json:"original_sale_id,omitempty"`
	ExchangeItems     []ExchangeItemInput `json:"exchange_items"`
	PurchaseItems     []PurchaseItemInput `json:"purchase_items,omitempty"`
	AdditionalPayment decimal.Decimal     `json:"additional_payment"`
	Notes             string              `json:"notes,omitempty"`
}

type SaleFilter struct {
	StoreID             string
	StoreIDs            []string
	BusinessID          string
	CashierID           string
	CustomerID          string
	Status              string
	StartDate           *time.Time
	EndDate             *time.Time
	IncludeSupplyOrders bool
	Limit               int
	Offset              int
}

type ExchangeFilter struct {
	StoreID         string
	CustomerID      string
	TransactionType string
	Status          string
	StartDate       *time.Time
	EndDate         *time.Time
	Limit           int
	Offset          int
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// SaleRecord is one entry of the merged sales feed: either a sale or, when
// include_supply_orders is requested, a supply order sorted into the same
// date-descending stream.
type SaleRecord struct {
	Sale        *Sale
	SupplyOrder *SupplyOrder
	Date        time.Time
}

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
	SaleStatusRefunded  = "refunded"
)

const (
	ExchangeStatusPending   = "pending"
	ExchangeStatusCompleted = "completed"
	ExchangeStatusCancelled = "cancelled"
)

const (
	ExchangeTypeReturn   = "return"
	ExchangeTypeTradeIn  = "trade_in"
	ExchangeTypeExchange = "exchange"
)

const (
	ExchangeItemReturned = "returned"
	ExchangeItemTradedIn = "traded_in"
)

// TransactionNumberPrefix maps an exchange transaction type to the prefix
// used on its human-readable transaction number.
func TransactionNumberPrefix(transactionType string) string {
	switch transactionType {
	case ExchangeTypeReturn:
		return "RET"
	case ExchangeTypeTradeIn:
		return "TRD"
	case ExchangeTypeExchange:
		return "EXC"
	default:
		return "TXN"
	}
}

// ValidTransactionType reports whether the given exchange transaction type is
// one of the supported values.
func ValidTransactionType(transactionType string) bool {
	switch transactionType {
	case ExchangeTypeReturn, ExchangeTypeTradeIn, ExchangeTypeExchange:
		return true
	default:
		return false
	}
}
