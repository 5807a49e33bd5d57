package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vendia/backend/internal/domain"
	"vendia/backend/internal/store"
	"vendia/backend/internal/tax"
	"vendia/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		barcode TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		wholesale_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		stock DOUBLE PRECISION NOT NULL DEFAULT 0,
		tax_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		tax_type TEXT NOT NULL DEFAULT 'included',
		allow_decimal BOOLEAN NOT NULL DEFAULT false,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_movements (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		ref_id TEXT NOT NULL DEFAULT '',
		oversell BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inventory_movements_product ON inventory_movements (product_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		credit_limit DOUBLE PRECISION NOT NULL DEFAULT 0,
		credit_balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		receipt_number BIGINT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		date TIMESTAMPTZ NOT NULL,
		items JSONB NOT NULL,
		subtotal DOUBLE PRECISION NOT NULL,
		tax DOUBLE PRECISION NOT NULL,
		total DOUBLE PRECISION NOT NULL,
		payments JSONB NOT NULL DEFAULT '[]',
		change_given DOUBLE PRECISION NOT NULL DEFAULT 0,
		customer_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		returned_items JSONB NOT NULL DEFAULT '[]',
		due_date TIMESTAMPTZ,
		cashier_name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales (date DESC)`,
	`CREATE TABLE IF NOT EXISTS returns (
		id TEXT PRIMARY KEY,
		original_sale_id TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		items JSONB NOT NULL,
		total DOUBLE PRECISION NOT NULL,
		applied_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		credit_note_id TEXT NOT NULL DEFAULT '',
		processed_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_returns_sale ON returns (original_sale_id)`,
	`CREATE TABLE IF NOT EXISTS credit_notes (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL DEFAULT '',
		original_sale_id TEXT NOT NULL,
		return_id TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL,
		balance DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		issued_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cash_sessions (
		id TEXT PRIMARY KEY,
		register_id TEXT NOT NULL,
		opened_by TEXT NOT NULL DEFAULT '',
		opening_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		status TEXT NOT NULL,
		closed_at TIMESTAMPTZ,
		actual_cash DOUBLE PRECISION NOT NULL DEFAULT 0,
		actual_card DOUBLE PRECISION NOT NULL DEFAULT 0,
		actual_transfer DOUBLE PRECISION NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_sessions_open ON cash_sessions (register_id) WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS held_orders (
		id TEXT PRIMARY KEY,
		register_id TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		items JSONB NOT NULL,
		total DOUBLE PRECISION NOT NULL DEFAULT 0,
		held_by TEXT NOT NULL DEFAULT '',
		held_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		register_id TEXT NOT NULL DEFAULT '',
		actor_username TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE SEQUENCE IF NOT EXISTS sale_receipts`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// ---- products ----

const productColumns = `id, sku, barcode, name, price, wholesale_price, cost, stock, tax_rate, tax_type, allow_decimal, active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.Price, &p.WholesalePrice, &p.Cost, &p.Stock, &p.TaxRate, &p.TaxType, &p.AllowDecimal, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 OR active = true)
		ORDER BY name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Price < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, product.ID, product.SKU, product.Barcode, product.Name, product.Price, product.WholesalePrice,
		product.Cost, product.Stock, product.TaxRate, product.TaxType, product.AllowDecimal, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET barcode = $2, name = $3, price = $4, wholesale_price = $5, cost = $6,
			tax_rate = $7, tax_type = $8, allow_decimal = $9, active = $10
		WHERE id = $1
	`, product.ID, product.Barcode, product.Name, product.Price, product.WholesalePrice, product.Cost,
		product.TaxRate, product.TaxType, product.AllowDecimal, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta float64) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2
		WHERE id = $1
		RETURNING `+productColumns+`
	`, productID, delta)
	product, err := scanProduct(row)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, product_id, type, quantity, ref_id, oversell, created_at)
		VALUES ($1,$2,$3,$4,'',false,$5)
	`, xid.New("mov"), productID, domain.MovementTypeAdjustment, delta, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, type, quantity, ref_id, oversell, created_at
		FROM inventory_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.RefID, &m.Oversell, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

// ---- customers ----

const customerColumns = `id, name, phone, credit_limit, credit_balance, created_at`

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.CreditLimit, &c.CreditBalance, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
	return scanCustomer(row)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.CreditLimit < 0 {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Phone, customer.CreditLimit, customer.CreditBalance, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

// ---- sales ----

const saleColumns = `id, receipt_number, session_id, date, items, subtotal, tax, total, payments, change_given, customer_id, status, returned_items, due_date, cashier_name`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var items, payments, returned []byte
	var dueDate sql.NullTime
	err := row.Scan(&sale.ID, &sale.ReceiptNumber, &sale.SessionID, &sale.Date, &items, &sale.Subtotal,
		&sale.Tax, &sale.Total, &payments, &sale.ChangeGiven, &sale.CustomerID, &sale.Status, &returned, &dueDate, &sale.CashierName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payments, &sale.Payments); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(returned, &sale.ReturnedItems); err != nil {
		return nil, err
	}
	sale.Date = sale.Date.UTC()
	if dueDate.Valid {
		due := dueDate.Time.UTC()
		sale.DueDate = &due
	}
	return &sale, nil
}

// CreateSale persists the sale and its tender side effects in one
// serializable transaction. Row locks are taken on every ledger entry the
// tenders touch before anything is written, so a validation failure rolls
// the whole thing back.
func (s *Store) CreateSale(ctx context.Context, input store.SaleInput) (*domain.Sale, error) {
	sale := input.Sale
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for noteID, amount := range input.CreditNoteDebits {
		var balance float64
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT balance, status FROM credit_notes WHERE id = $1 FOR UPDATE
		`, noteID).Scan(&balance, &status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if status != domain.CreditNoteStatusActive {
			return nil, store.ErrValidation
		}
		if amount > balance+tax.Epsilon {
			return nil, store.ErrInsufficientBalance
		}
	}

	if input.CreditReserve > 0 {
		var limit, balance float64
		err := tx.QueryRowContext(ctx, `
			SELECT credit_limit, credit_balance FROM customers WHERE id = $1 FOR UPDATE
		`, sale.CustomerID).Scan(&limit, &balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if balance+input.CreditReserve > limit+tax.Epsilon {
			return nil, store.ErrInsufficientCredit
		}
	}

	for returnID, amount := range input.ReturnApplied {
		var total, applied float64
		err := tx.QueryRowContext(ctx, `
			SELECT total, applied_amount FROM returns WHERE id = $1 FOR UPDATE
		`, returnID).Scan(&total, &applied)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if applied+amount > total+tax.Epsilon {
			return nil, store.ErrInsufficientBalance
		}
	}

	stockByProduct := make(map[string]float64, len(sale.Items))
	for _, item := range sale.Items {
		if _, seen := stockByProduct[item.ProductID]; seen {
			continue
		}
		var stock float64
		err := tx.QueryRowContext(ctx, `
			SELECT stock FROM products WHERE id = $1 FOR UPDATE
		`, item.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		stockByProduct[item.ProductID] = stock
	}
	if input.EnforceStock {
		for _, item := range sale.Items {
			if stockByProduct[item.ProductID] < item.Quantity {
				return nil, store.ErrInsufficientStock
			}
		}
	}

	now := time.Now().UTC()
	for noteID, amount := range input.CreditNoteDebits {
		_, err := tx.ExecContext(ctx, `
			UPDATE credit_notes
			SET balance = GREATEST(balance - $2, 0),
				status = CASE WHEN balance - $2 < $3 THEN 'used' ELSE status END
			WHERE id = $1
		`, noteID, amount, tax.Epsilon)
		if err != nil {
			return nil, err
		}
	}
	if input.CreditReserve > 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE customers SET credit_balance = credit_balance + $2 WHERE id = $1
		`, sale.CustomerID, input.CreditReserve)
		if err != nil {
			return nil, err
		}
	}
	for returnID, amount := range input.ReturnApplied {
		_, err := tx.ExecContext(ctx, `
			UPDATE returns SET applied_amount = applied_amount + $2 WHERE id = $1
		`, returnID, amount)
		if err != nil {
			return nil, err
		}
	}
	for _, item := range sale.Items {
		newStock := stockByProduct[item.ProductID] - item.Quantity
		stockByProduct[item.ProductID] = newStock
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2 WHERE id = $1
		`, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_movements (id, product_id, type, quantity, ref_id, oversell, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, xid.New("mov"), item.ProductID, domain.MovementTypeSale, -item.Quantity, sale.ID, newStock < 0, now)
		if err != nil {
			return nil, err
		}
	}

	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	payments, err := json.Marshal(sale.Payments)
	if err != nil {
		return nil, err
	}
	returned, err := json.Marshal(sale.ReturnedItems)
	if err != nil {
		return nil, err
	}
	if returned == nil || string(returned) == "null" {
		returned = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.ReceiptNumber, sale.SessionID, sale.Date, items, sale.Subtotal, sale.Tax, sale.Total,
		payments, sale.ChangeGiven, sale.CustomerID, sale.Status, returned, nullTime(sale.DueDate), sale.CashierName)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	return scanSale(row)
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1::timestamptz IS NULL OR date >= $1)
			AND ($2::timestamptz IS NULL OR date <= $2)
		ORDER BY date DESC, id DESC
		LIMIT $3
	`, nullTimeValue(from), nullTimeValue(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

// AppendSalePayment appends the collection tender and releases the matching
// customer credit in one serializable transaction, so a sale never reads as
// paid while the headroom stays consumed.
func (s *Store) AppendSalePayment(ctx context.Context, input store.PaymentInput) (*domain.Sale, error) {
	if input.ReleaseAmount < 0 {
		return nil, store.ErrValidation
	}
	payload, err := json.Marshal(input.Tender)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE sales
		SET payments = payments || $2::jsonb,
			status = COALESCE(NULLIF($3, ''), status)
		WHERE id = $1
		RETURNING `+saleColumns+`
	`, input.SaleID, payload, input.NewStatus)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}

	if input.ReleaseCustomerID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET credit_balance = GREATEST(credit_balance - $2, 0)
			WHERE id = $1
		`, input.ReleaseCustomerID, input.ReleaseAmount)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) NextReceiptNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('sale_receipts')`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ---- returns ----

const returnColumns = `id, original_sale_id, customer_id, items, total, applied_amount, credit_note_id, processed_by, created_at`

func scanReturn(row rowScanner) (*domain.ReturnRecord, error) {
	var ret domain.ReturnRecord
	var items []byte
	err := row.Scan(&ret.ID, &ret.OriginalSaleID, &ret.CustomerID, &items, &ret.Total, &ret.AppliedAmount, &ret.CreditNoteID, &ret.ProcessedBy, &ret.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &ret.Items); err != nil {
		return nil, err
	}
	ret.CreatedAt = ret.CreatedAt.UTC()
	return &ret, nil
}

// CreateReturn persists the return, its optional credit note, the restock
// movements and the sale's return state in one serializable transaction. A
// failure at any point rolls the whole return back, so a retry can never
// refund the same units twice.
func (s *Store) CreateReturn(ctx context.Context, input store.ReturnInput) (*store.ReturnResult, error) {
	ret := input.Return
	if ret.OriginalSaleID == "" || len(ret.Items) == 0 || ret.Total < 0 {
		return nil, store.ErrValidation
	}
	if input.CreditNote != nil && (input.CreditNote.Amount <= 0 || input.CreditNote.OriginalSaleID == "") {
		return nil, store.ErrValidation
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	now := time.Now().UTC()
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var saleID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM sales WHERE id = $1 FOR UPDATE
	`, ret.OriginalSaleID).Scan(&saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	result := &store.ReturnResult{}
	if input.CreditNote != nil {
		note := *input.CreditNote
		if note.ID == "" {
			note.ID = xid.New("cn")
		}
		if note.IssuedAt.IsZero() {
			note.IssuedAt = now
		}
		note.Balance = note.Amount
		note.Status = domain.CreditNoteStatusActive
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credit_notes (`+creditNoteColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, note.ID, note.CustomerID, note.OriginalSaleID, note.ReturnID, note.Amount, note.Balance, note.Status, note.Reason, note.IssuedAt)
		if err != nil {
			return nil, err
		}
		ret.CreditNoteID = note.ID
		result.CreditNote = &note
	}

	for _, item := range ret.Items {
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2 WHERE id = $1
		`, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_movements (id, product_id, type, quantity, ref_id, oversell, created_at)
			VALUES ($1,$2,$3,$4,$5,false,$6)
		`, xid.New("mov"), item.ProductID, domain.MovementTypeReturn, item.Quantity, ret.ID, now)
		if err != nil {
			return nil, err
		}
	}

	items, err := json.Marshal(ret.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO returns (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ret.ID, ret.OriginalSaleID, ret.CustomerID, items, ret.Total, ret.AppliedAmount, ret.CreditNoteID, ret.ProcessedBy, ret.CreatedAt)
	if err != nil {
		return nil, err
	}

	returned, err := json.Marshal(input.SaleReturned)
	if err != nil {
		return nil, err
	}
	if returned == nil || string(returned) == "null" {
		returned = []byte("[]")
	}
	row := tx.QueryRowContext(ctx, `
		UPDATE sales
		SET returned_items = $2::jsonb, status = $3
		WHERE id = $1
		RETURNING `+saleColumns+`
	`, ret.OriginalSaleID, returned, input.SaleStatus)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	result.Return = ret
	result.Sale = *sale
	return result, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id)
	return scanReturn(row)
}

func (s *Store) ListReturnsForSale(ctx context.Context, saleID string) ([]domain.ReturnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE original_sale_id = $1
		ORDER BY created_at ASC, id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.ReturnRecord, 0, 4)
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		returns = append(returns, *ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return returns, nil
}

// ---- credit notes ----

const creditNoteColumns = `id, customer_id, original_sale_id, return_id, amount, balance, status, reason, issued_at`

func scanCreditNote(row rowScanner) (*domain.CreditNote, error) {
	var note domain.CreditNote
	err := row.Scan(&note.ID, &note.CustomerID, &note.OriginalSaleID, &note.ReturnID, &note.Amount, &note.Balance, &note.Status, &note.Reason, &note.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	note.IssuedAt = note.IssuedAt.UTC()
	return &note, nil
}

func (s *Store) GetCreditNote(ctx context.Context, id string) (*domain.CreditNote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+creditNoteColumns+` FROM credit_notes WHERE id = $1`, id)
	return scanCreditNote(row)
}

func (s *Store) ListActiveCreditNotes(ctx context.Context, customerID string) ([]domain.CreditNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+creditNoteColumns+`
		FROM credit_notes
		WHERE status = 'active' AND ($1 = '' OR customer_id = $1)
		ORDER BY issued_at ASC, id ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]domain.CreditNote, 0, 8)
	for rows.Next() {
		note, err := scanCreditNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notes, nil
}

// ---- cash sessions ----

const sessionColumns = `id, register_id, opened_by, opening_amount, opened_at, status, closed_at, actual_cash, actual_card, actual_transfer, notes`

func scanSession(row rowScanner) (*domain.CashSession, error) {
	var session domain.CashSession
	var closedAt sql.NullTime
	err := row.Scan(&session.ID, &session.RegisterID, &session.OpenedBy, &session.OpeningAmount, &session.OpenedAt,
		&session.Status, &closedAt, &session.ActualCash, &session.ActualCard, &session.ActualTransfer, &session.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) OpenCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.RegisterID == "" || session.OpeningAmount < 0 {
		return nil, store.ErrValidation
	}
	if session.ID == "" {
		session.ID = xid.New("cs")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen

	// The partial unique index on open sessions turns a double open into a
	// unique violation.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, register_id, opened_by, opening_amount, opened_at, status)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, session.ID, session.RegisterID, session.OpenedBy, session.OpeningAmount, session.OpenedAt, session.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrSessionConflict
		}
		return nil, err
	}
	created := session
	return &created, nil
}

func (s *Store) GetActiveCashSession(ctx context.Context, registerID string) (*domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE register_id = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, registerID)
	return scanSession(row)
}

func (s *Store) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) CloseCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET status = 'closed', closed_at = $2, actual_cash = $3, actual_card = $4, actual_transfer = $5, notes = $6
		WHERE id = $1 AND status = 'open'
		RETURNING `+sessionColumns+`
	`, session.ID, time.Now().UTC(), session.ActualCash, session.ActualCard, session.ActualTransfer, session.Notes)
	closed, err := scanSession(row)
	if err == nil {
		return closed, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Distinguish a missing session from one already closed.
	if _, lookupErr := s.GetCashSession(ctx, session.ID); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, store.ErrSessionConflict
}

// SessionTenderTotals buckets the session's recorded payments. Payments are
// matched by the session stamped on each tender, so credit collections taken
// in a later session land in that session's drawer, not the sale's.
func (s *Store) SessionTenderTotals(ctx context.Context, sessionID string) (domain.TenderTotals, error) {
	var totals domain.TenderTotals

	if _, err := s.GetCashSession(ctx, sessionID); err != nil {
		return totals, err
	}

	match, err := json.Marshal([]map[string]string{{"session_id": sessionID}})
	if err != nil {
		return totals, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, change_given, payments
		FROM sales
		WHERE session_id = $1 OR payments @> $2::jsonb
	`, sessionID, match)
	if err != nil {
		return totals, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleSessionID string
		var changeGiven float64
		var raw []byte
		if err := rows.Scan(&saleSessionID, &changeGiven, &raw); err != nil {
			return totals, err
		}
		var payments []domain.Tender
		if err := json.Unmarshal(raw, &payments); err != nil {
			return totals, err
		}
		for _, payment := range payments {
			if payment.SessionID != sessionID {
				continue
			}
			switch payment.Type.Bucket() {
			case "cash":
				totals.Cash += payment.Amount
			case "card":
				totals.Card += payment.Amount
			case "transfer":
				totals.Transfer += payment.Amount
			default:
				totals.Credit += payment.Amount
			}
		}
		if saleSessionID == sessionID {
			totals.Cash -= changeGiven
			totals.SaleCount++
		}
	}
	if err := rows.Err(); err != nil {
		return totals, err
	}
	return totals, nil
}

// ---- held orders ----

const heldOrderColumns = `id, register_id, customer_id, note, items, total, held_by, held_at`

func scanHeldOrder(row rowScanner) (*domain.HeldOrder, error) {
	var held domain.HeldOrder
	var items []byte
	err := row.Scan(&held.ID, &held.RegisterID, &held.CustomerID, &held.Note, &items, &held.Total, &held.HeldBy, &held.HeldAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &held.Items); err != nil {
		return nil, err
	}
	held.HeldAt = held.HeldAt.UTC()
	return &held, nil
}

func (s *Store) CreateHeldOrder(ctx context.Context, held domain.HeldOrder) (*domain.HeldOrder, error) {
	if len(held.Items) == 0 {
		return nil, store.ErrValidation
	}
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	items, err := json.Marshal(held.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_orders (`+heldOrderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, held.ID, held.RegisterID, held.CustomerID, held.Note, items, held.Total, held.HeldBy, held.HeldAt)
	if err != nil {
		return nil, err
	}
	created := held
	return &created, nil
}

func (s *Store) ListHeldOrders(ctx context.Context, registerID string, limit int) ([]domain.HeldOrder, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+heldOrderColumns+`
		FROM held_orders
		WHERE ($1 = '' OR register_id = $1)
		ORDER BY held_at DESC, id DESC
		LIMIT $2
	`, registerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.HeldOrder, 0, limit)
	for rows.Next() {
		held, err := scanHeldOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *held)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) PopHeldOrder(ctx context.Context, holdID string) (*domain.HeldOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM held_orders WHERE id = $1
		RETURNING `+heldOrderColumns+`
	`, holdID)
	return scanHeldOrder(row)
}

func (s *Store) DeleteHeldOrder(ctx context.Context, holdID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM held_orders WHERE id = $1`, holdID)
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

// ---- audit ----

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, register_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.RegisterID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, registerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, register_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR register_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, registerID, nullTimeValue(from), nullTimeValue(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.RegisterID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// ---- users ----

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
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

// ---- helpers ----

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullTimeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
