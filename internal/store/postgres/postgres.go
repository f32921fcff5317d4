package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/eligibility"
	"tokopos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL REFERENCES stores(id),
			name TEXT NOT NULL,
			sku TEXT NOT NULL,
			barcode TEXT,
			price NUMERIC(12,2) NOT NULL DEFAULT 0,
			stock_quantity INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL REFERENCES stores(id),
			cashier_id TEXT NOT NULL,
			customer_id TEXT,
			sale_number TEXT NOT NULL UNIQUE,
			subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			payment_method TEXT,
			cash_received NUMERIC(12,2) NOT NULL DEFAULT 0,
			change_given NUMERIC(12,2) NOT NULL DEFAULT 0,
			payment_methods JSONB,
			status TEXT NOT NULL DEFAULT 'completed',
			discount_reason TEXT,
			applied_coupon_id TEXT,
			applied_promotion_id TEXT,
			transaction_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_price NUMERIC(12,2) NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS exchange_transactions (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL REFERENCES stores(id),
			customer_id TEXT,
			cashier_id TEXT NOT NULL,
			transaction_number TEXT NOT NULL UNIQUE,
			transaction_type TEXT NOT NULL,
			original_sale_id TEXT REFERENCES sales(id),
			trade_in_total_value NUMERIC(12,2) NOT NULL DEFAULT 0,
			additional_payment NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_purchase_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS exchange_items (
			id TEXT PRIMARY KEY,
			exchange_transaction_id TEXT NOT NULL REFERENCES exchange_transactions(id) ON DELETE CASCADE,
			item_type TEXT NOT NULL,
			original_sale_item_id TEXT,
			product_id TEXT,
			product_name TEXT,
			product_sku TEXT,
			product_barcode TEXT,
			quantity INTEGER NOT NULL,
			unit_value NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_value NUMERIC(12,2) NOT NULL DEFAULT 0,
			condition TEXT,
			condition_notes TEXT,
			add_to_inventory BOOLEAN NOT NULL DEFAULT FALSE,
			inventory_condition TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS exchange_purchase_items (
			id TEXT PRIMARY KEY,
			exchange_transaction_id TEXT NOT NULL REFERENCES exchange_transactions(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			total_price NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS supply_orders (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL REFERENCES stores(id),
			supplier_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS coupon_usages (
			id TEXT PRIMARY KEY,
			coupon_id TEXT NOT NULL,
			customer_id TEXT,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS promotion_usages (
			id TEXT PRIMARY KEY,
			promotion_id TEXT NOT NULL,
			customer_id TEXT,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_store_date ON sales (store_id, transaction_date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_tx_sale ON exchange_transactions (original_sale_id)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_items_tx ON exchange_items (exchange_transaction_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ListStoreIDsByBusiness(ctx context.Context, businessID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM stores WHERE business_id = $1 AND is_active ORDER BY id`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(
		`SELECT id, store_id, name, sku, COALESCE(barcode, ''), price, stock_quantity
		 FROM products WHERE id IN (%s)`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.SKU, &p.Barcode, &p.Price, &p.StockQuantity); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $1 WHERE id = $2`, delta, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sales (id, store_id, cashier_id, customer_id, sale_number, subtotal, tax_amount,
			discount_amount, total_amount, payment_method, cash_received, change_given, payment_methods,
			status, discount_reason, applied_coupon_id, applied_promotion_id, transaction_date)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		sale.ID, sale.StoreID, sale.CashierID, nullIfEmpty(sale.CustomerID), sale.SaleNumber,
		sale.Subtotal, sale.TaxAmount, sale.DiscountAmount, sale.TotalAmount,
		nullIfEmpty(sale.PaymentMethod), sale.CashReceived, sale.ChangeGiven,
		paymentMethodsJSON(sale.PaymentMethods), sale.Status, nullIfEmpty(sale.DiscountReason),
		nullIfEmpty(sale.AppliedCouponID), nullIfEmpty(sale.AppliedPromotionID), sale.TransactionDate)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateNumber
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price, discount_amount, total_price)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			item.ID, sale.ID, item.ProductID, item.Quantity, item.UnitPrice, item.DiscountAmount, item.TotalPrice)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, saleSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	items, err := s.saleItems(ctx, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

const saleSelect = `SELECT id, store_id, cashier_id, COALESCE(customer_id, ''), sale_number,
	subtotal, tax_amount, discount_amount, total_amount, COALESCE(payment_method, ''),
	cash_received, change_given, COALESCE(payment_methods, '[]'), status,
	COALESCE(discount_reason, ''), COALESCE(applied_coupon_id, ''),
	COALESCE(applied_promotion_id, ''), transaction_date
	FROM sales`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var payments []byte
	err := row.Scan(&sale.ID, &sale.StoreID, &sale.CashierID, &sale.CustomerID, &sale.SaleNumber,
		&sale.Subtotal, &sale.TaxAmount, &sale.DiscountAmount, &sale.TotalAmount, &sale.PaymentMethod,
		&sale.CashReceived, &sale.ChangeGiven, &payments, &sale.Status,
		&sale.DiscountReason, &sale.AppliedCouponID, &sale.AppliedPromotionID, &sale.TransactionDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale.PaymentMethods = decodePaymentMethods(payments)
	return &sale, nil
}

func (s *Store) saleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sale_id, product_id, quantity, unit_price, discount_amount, total_price
		 FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.SaleItem
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.DiscountAmount, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	where, args := saleWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := saleSelect + where + fmt.Sprintf(" ORDER BY transaction_date DESC LIMIT $%d OFFSET $%d",
		len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sales []domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range sales {
		items, err := s.saleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, 0, err
		}
		sales[i].Items = items
	}
	return sales, total, nil
}

func saleWhere(filter domain.SaleFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if len(filter.StoreIDs) > 0 {
		placeholders := make([]string, len(filter.StoreIDs))
		for i, id := range filter.StoreIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, "store_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.CashierID != "" {
		add("cashier_id = $%d", filter.CashierID)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.StartDate != nil {
		add("transaction_date >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("transaction_date <= $%d", *filter.EndDate)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListSupplyOrders(ctx context.Context, filter domain.SaleFilter) ([]domain.SupplyOrder, error) {
	var clauses []string
	var args []any

	if filter.StoreID != "" {
		args = append(args, filter.StoreID)
		clauses = append(clauses, fmt.Sprintf("store_id = $%d", len(args)))
	}
	if len(filter.StoreIDs) > 0 {
		placeholders := make([]string, len(filter.StoreIDs))
		for i, id := range filter.StoreIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, "store_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := `SELECT id, store_id, supplier_name, status, total_amount, created_at FROM supply_orders`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.SupplyOrder
	for rows.Next() {
		order := domain.SupplyOrder{RecordType: "supply_order"}
		if err := rows.Scan(&order.ID, &order.StoreID, &order.SupplierName, &order.Status,
			&order.TotalAmount, &order.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Store) GetReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error) {
	return returnedQuantities(ctx, s.db, saleID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func returnedQuantities(ctx context.Context, q queryer, saleID string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ei.original_sale_item_id, SUM(ei.quantity)
		 FROM exchange_items ei
		 JOIN exchange_transactions et ON et.id = ei.exchange_transaction_id
		 WHERE et.original_sale_id = $1
		   AND et.status <> 'cancelled'
		   AND ei.item_type = 'returned'
		   AND ei.original_sale_item_id IS NOT NULL
		 GROUP BY ei.original_sale_item_id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var saleItemID string
		var qty int
		if err := rows.Scan(&saleItemID, &qty); err != nil {
			return nil, err
		}
		result[saleItemID] = qty
	}
	return result, rows.Err()
}

func (s *Store) CreateExchange(ctx context.Context, exchange domain.ExchangeTransaction, restock bool) (*domain.ExchangeTransaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if exchange.TransactionType == domain.ExchangeTypeReturn {
		// Lock the sale row so concurrent returns against the same receipt
		// serialize here, then re-validate with fresh figures.
		var lockedID string
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM sales WHERE id = $1 FOR UPDATE`, exchange.OriginalSaleID).Scan(&lockedID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		items, err := saleItemsTx(ctx, tx, exchange.OriginalSaleID)
		if err != nil {
			return nil, err
		}
		returned, err := returnedQuantities(ctx, tx, exchange.OriginalSaleID)
		if err != nil {
			return nil, err
		}

		proposed := make([]eligibility.ProposedReturn, 0, len(exchange.Items))
		for _, item := range exchange.Items {
			if item.ItemType == domain.ExchangeItemReturned {
				proposed = append(proposed, eligibility.ProposedReturn{
					OriginalSaleItemID: item.OriginalSaleItemID,
					Quantity:           item.Quantity,
				})
			}
		}
		if _, err := eligibility.Check(items, returned, proposed); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exchange_transactions (id, store_id, customer_id, cashier_id, transaction_number,
			transaction_type, original_sale_id, trade_in_total_value, additional_payment,
			total_purchase_amount, status, notes, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		exchange.ID, exchange.StoreID, nullIfEmpty(exchange.CustomerID), exchange.CashierID,
		exchange.TransactionNumber, exchange.TransactionType, nullIfEmpty(exchange.OriginalSaleID),
		exchange.TradeInTotalValue, exchange.AdditionalPayment, exchange.TotalPurchaseAmount,
		exchange.Status, nullIfEmpty(exchange.Notes), exchange.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateNumber
		}
		return nil, err
	}

	for i, item := range exchange.Items {
		if restock && item.ItemType == domain.ExchangeItemReturned && item.AddToInventory && item.ProductID != "" {
			res, err := tx.ExecContext(ctx,
				`UPDATE products SET stock_quantity = stock_quantity + $1 WHERE id = $2`,
				item.Quantity, item.ProductID)
			if err != nil {
				return nil, err
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				condition := item.Condition
				if condition == "" {
					condition = "good"
				}
				exchange.Items[i].InventoryCondition = condition
			}
		}

		stored := exchange.Items[i]
		_, err = tx.ExecContext(ctx,
			`INSERT INTO exchange_items (id, exchange_transaction_id, item_type, original_sale_item_id,
				product_id, product_name, product_sku, product_barcode, quantity, unit_value,
				total_value, condition, condition_notes, add_to_inventory, inventory_condition)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			stored.ID, exchange.ID, stored.ItemType, nullIfEmpty(stored.OriginalSaleItemID),
			nullIfEmpty(stored.ProductID), nullIfEmpty(stored.ProductName), nullIfEmpty(stored.ProductSKU),
			nullIfEmpty(stored.ProductBarcode), stored.Quantity, stored.UnitValue, stored.TotalValue,
			nullIfEmpty(stored.Condition), nullIfEmpty(stored.ConditionNotes), stored.AddToInventory,
			nullIfEmpty(stored.InventoryCondition))
		if err != nil {
			return nil, err
		}
	}

	for _, item := range exchange.PurchaseItems {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, item.ProductID).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrValidation
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO exchange_purchase_items (id, exchange_transaction_id, product_id, quantity,
				unit_price, total_price, discount_amount)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			item.ID, exchange.ID, item.ProductID, item.Quantity,
			item.UnitPrice, item.TotalPrice, item.DiscountAmount)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &exchange, nil
}

func saleItemsTx(ctx context.Context, tx *sql.Tx, saleID string) ([]domain.SaleItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, sale_id, product_id, quantity, unit_price, discount_amount, total_price
		 FROM sale_items WHERE sale_id = $1`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.SaleItem
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.DiscountAmount, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const exchangeSelect = `SELECT id, store_id, COALESCE(customer_id, ''), cashier_id, transaction_number,
	transaction_type, COALESCE(original_sale_id, ''), trade_in_total_value, additional_payment,
	total_purchase_amount, status, COALESCE(notes, ''), created_at
	FROM exchange_transactions`

func scanExchange(row rowScanner) (*domain.ExchangeTransaction, error) {
	var tx domain.ExchangeTransaction
	err := row.Scan(&tx.ID, &tx.StoreID, &tx.CustomerID, &tx.CashierID, &tx.TransactionNumber,
		&tx.TransactionType, &tx.OriginalSaleID, &tx.TradeInTotalValue, &tx.AdditionalPayment,
		&tx.TotalPurchaseAmount, &tx.Status, &tx.Notes, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) GetExchangeByID(ctx context.Context, id string) (*domain.ExchangeTransaction, error) {
	tx, err := scanExchange(s.db.QueryRowContext(ctx, exchangeSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	if err := s.attachExchangeDetails(ctx, tx); err != nil {
		return nil, err
	}

	if tx.OriginalSaleID != "" {
		sale, err := s.GetSaleByID(ctx, tx.OriginalSaleID)
		if err == nil {
			tx.OriginalSale = sale
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return tx, nil
}

func (s *Store) attachExchangeDetails(ctx context.Context, tx *domain.ExchangeTransaction) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exchange_transaction_id, item_type, COALESCE(original_sale_item_id, ''),
			COALESCE(product_id, ''), COALESCE(product_name, ''), COALESCE(product_sku, ''),
			COALESCE(product_barcode, ''), quantity, unit_value, total_value,
			COALESCE(condition, ''), COALESCE(condition_notes, ''), add_to_inventory,
			COALESCE(inventory_condition, '')
		 FROM exchange_items WHERE exchange_transaction_id = $1 ORDER BY id`, tx.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.ExchangeItem
		if err := rows.Scan(&item.ID, &item.ExchangeTransactionID, &item.ItemType, &item.OriginalSaleItemID,
			&item.ProductID, &item.ProductName, &item.ProductSKU, &item.ProductBarcode,
			&item.Quantity, &item.UnitValue, &item.TotalValue, &item.Condition, &item.ConditionNotes,
			&item.AddToInventory, &item.InventoryCondition); err != nil {
			return err
		}
		tx.Items = append(tx.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	purchaseRows, err := s.db.QueryContext(ctx,
		`SELECT id, exchange_transaction_id, product_id, quantity, unit_price, total_price, discount_amount
		 FROM exchange_purchase_items WHERE exchange_transaction_id = $1 ORDER BY id`, tx.ID)
	if err != nil {
		return err
	}
	defer purchaseRows.Close()

	for purchaseRows.Next() {
		var item domain.PurchaseItem
		if err := purchaseRows.Scan(&item.ID, &item.ExchangeTransactionID, &item.ProductID,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.DiscountAmount); err != nil {
			return err
		}
		tx.PurchaseItems = append(tx.PurchaseItems, item)
	}
	return purchaseRows.Err()
}

func (s *Store) ListExchanges(ctx context.Context, filter domain.ExchangeFilter) ([]domain.ExchangeTransaction, int, error) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.TransactionType != "" {
		add("transaction_type = $%d", filter.TransactionType)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchange_transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := exchangeSelect + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exchanges []domain.ExchangeTransaction
	for rows.Next() {
		tx, err := scanExchange(rows)
		if err != nil {
			return nil, 0, err
		}
		exchanges = append(exchanges, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range exchanges {
		if err := s.attachExchangeDetails(ctx, &exchanges[i]); err != nil {
			return nil, 0, err
		}
	}
	return exchanges, total, nil
}

func (s *Store) CancelExchange(ctx context.Context, id string) (*domain.ExchangeTransaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM exchange_transactions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status == domain.ExchangeStatusCancelled {
		return nil, store.ErrValidation
	}

	// Reverse restocks recorded at creation time.
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, quantity FROM exchange_items
		 WHERE exchange_transaction_id = $1
		   AND inventory_condition IS NOT NULL
		   AND product_id IS NOT NULL`, id)
	if err != nil {
		return nil, err
	}
	type restocked struct {
		productID string
		quantity  int
	}
	var reversals []restocked
	for rows.Next() {
		var r restocked
		if err := rows.Scan(&r.productID, &r.quantity); err != nil {
			rows.Close()
			return nil, err
		}
		reversals = append(reversals, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, r := range reversals {
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET stock_quantity = stock_quantity - $1 WHERE id = $2`,
			r.quantity, r.productID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE exchange_transactions SET status = $1 WHERE id = $2`,
		domain.ExchangeStatusCancelled, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetExchangeByID(ctx, id)
}

func (s *Store) RecordCouponUsage(ctx context.Context, usage domain.CouponUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coupon_usages (id, coupon_id, customer_id, sale_id, discount_amount, used_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		usage.ID, usage.CouponID, nullIfEmpty(usage.CustomerID), usage.SaleID,
		usage.DiscountAmount, usage.UsedAt)
	return err
}

func (s *Store) RecordPromotionUsage(ctx context.Context, usage domain.PromotionUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promotion_usages (id, promotion_id, customer_id, sale_id, discount_amount, used_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		usage.ID, usage.PromotionID, nullIfEmpty(usage.CustomerID), usage.SaleID,
		usage.DiscountAmount, usage.UsedAt)
	return err
}

func paymentMethodsJSON(splits []domain.PaymentSplit) any {
	if len(splits) == 0 {
		return nil
	}
	payload, err := json.Marshal(splits)
	if err != nil {
		return nil
	}
	return payload
}

func decodePaymentMethods(payload []byte) []domain.PaymentSplit {
	if len(payload) == 0 {
		return nil
	}
	var splits []domain.PaymentSplit
	if err := json.Unmarshal(payload, &splits); err != nil {
		return nil
	}
	if len(splits) == 0 {
		return nil
	}
	return splits
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
