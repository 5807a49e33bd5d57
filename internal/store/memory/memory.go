package memory

import (
	"context"
	"log"
	"math"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"vendia/backend/internal/domain"
	"vendia/backend/internal/store"
	"vendia/backend/internal/tax"
	"vendia/backend/internal/xid"
)

type Store struct {
	mu                      sync.RWMutex
	products                map[string]domain.Product
	customers               map[string]domain.Customer
	salesByID               map[string]*domain.Sale
	returnsByID             map[string]*domain.ReturnRecord
	creditNotesByID         map[string]*domain.CreditNote
	sessionsByID            map[string]domain.CashSession
	activeSessionByRegister map[string]string
	heldOrdersByID          map[string]domain.HeldOrder
	movementsByProduct      map[string][]domain.InventoryMovement
	auditLogs               []domain.AuditLog
	usersByUsername         map[string]domain.UserAccount
	receiptCounter          int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-espresso", SKU: "SKU-ESP-01", Name: "Espresso Beans 1kg", Price: 100, WholesalePrice: 85, Cost: 60, Stock: 120, TaxRate: 18, TaxType: domain.TaxIncluded, Active: true, CreatedAt: now},
		{ID: "prod-grinder", SKU: "SKU-GRN-01", Name: "Hand Grinder", Price: 250, WholesalePrice: 210, Cost: 150, Stock: 40, TaxRate: 18, TaxType: domain.TaxCalculated, Active: true, CreatedAt: now},
		{ID: "prod-filter", SKU: "SKU-FLT-01", Name: "Paper Filters 100pk", Price: 12.5, Cost: 6, Stock: 300, TaxRate: 10, TaxType: domain.TaxIncluded, Active: true, CreatedAt: now},
		{ID: "prod-milk", SKU: "SKU-MLK-01", Name: "Oat Milk 1L", Price: 4.2, Cost: 2.4, Stock: 80, TaxRate: 0, TaxType: domain.TaxExempt, Active: true, CreatedAt: now},
		{ID: "prod-loose-tea", SKU: "SKU-TEA-01", Name: "Loose Leaf Tea (per 100g)", Price: 8, Cost: 4, Stock: 55.5, TaxRate: 10, TaxType: domain.TaxIncluded, AllowDecimal: true, Active: true, CreatedAt: now},
		{ID: "prod-mug", SKU: "SKU-MUG-01", Name: "Ceramic Mug", Price: 15, WholesalePrice: 11, Cost: 7, Stock: 90, TaxRate: 18, TaxType: domain.TaxIncluded, Active: true, CreatedAt: now},
	}

	customers := []domain.Customer{
		{ID: "cust-walkin", Name: "Walk-in Counter", CreditLimit: 0, CreatedAt: now},
		{ID: "cust-cafe-rosa", Name: "Cafe Rosa", Phone: "555-0101", CreditLimit: 1000, CreatedAt: now},
		{ID: "cust-bean-bar", Name: "Bean Bar", Phone: "555-0102", CreditLimit: 500, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}

	return &Store{
		products:                productMap,
		customers:               customerMap,
		salesByID:               make(map[string]*domain.Sale),
		returnsByID:             make(map[string]*domain.ReturnRecord),
		creditNotesByID:         make(map[string]*domain.CreditNote),
		sessionsByID:            make(map[string]domain.CashSession),
		activeSessionByRegister: make(map[string]string),
		heldOrdersByID:          make(map[string]domain.HeldOrder),
		movementsByProduct:      make(map[string][]domain.InventoryMovement),
		auditLogs:               make([]domain.AuditLog, 0, 128),
		usersByUsername:         seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Price < 0 {
		return nil, store.ErrValidation
	}
	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, store.ErrValidation
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Price < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta float64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Stock += delta

	s.movementsByProduct[productID] = append(s.movementsByProduct[productID], domain.InventoryMovement{
		ID:        xid.New("mov"),
		ProductID: productID,
		Type:      domain.MovementTypeAdjustment,
		Quantity:  delta,
		CreatedAt: time.Now().UTC(),
	})

	s.products[productID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListMovements(_ context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := s.movementsByProduct[productID]
	result := make([]domain.InventoryMovement, len(movements))
	copy(result, movements)
	slices.SortFunc(result, func(a, b domain.InventoryMovement) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" || customer.CreditLimit < 0 {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

// CreateSale persists the sale and applies every tender side effect in one
// locked step. Validation runs in full before any mutation so a failure
// leaves the store untouched.
func (s *Store) CreateSale(_ context.Context, input store.SaleInput) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale := input.Sale
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrValidation
	}

	for noteID, amount := range input.CreditNoteDebits {
		note, exists := s.creditNotesByID[noteID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if note.Status != domain.CreditNoteStatusActive {
			return nil, store.ErrValidation
		}
		if amount > note.Balance+tax.Epsilon {
			return nil, store.ErrInsufficientBalance
		}
	}

	if input.CreditReserve > 0 {
		customer, exists := s.customers[sale.CustomerID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if customer.CreditBalance+input.CreditReserve > customer.CreditLimit+tax.Epsilon {
			return nil, store.ErrInsufficientCredit
		}
	}

	for returnID, amount := range input.ReturnApplied {
		ret, exists := s.returnsByID[returnID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if ret.AppliedAmount+amount > ret.Total+tax.Epsilon {
			return nil, store.ErrInsufficientBalance
		}
	}

	if input.EnforceStock {
		for _, item := range sale.Items {
			product, exists := s.products[item.ProductID]
			if !exists {
				return nil, store.ErrNotFound
			}
			if product.Stock < item.Quantity {
				return nil, store.ErrInsufficientStock
			}
		}
	}

	now := time.Now().UTC()
	for noteID, amount := range input.CreditNoteDebits {
		note := s.creditNotesByID[noteID]
		note.Balance -= amount
		if note.Balance < tax.Epsilon {
			note.Balance = 0
			note.Status = domain.CreditNoteStatusUsed
		}
	}
	if input.CreditReserve > 0 {
		customer := s.customers[sale.CustomerID]
		customer.CreditBalance += input.CreditReserve
		s.customers[sale.CustomerID] = customer
	}
	for returnID, amount := range input.ReturnApplied {
		s.returnsByID[returnID].AppliedAmount += amount
	}
	for _, item := range sale.Items {
		product, exists := s.products[item.ProductID]
		if !exists {
			continue
		}
		product.Stock -= item.Quantity
		s.products[item.ProductID] = product
		s.movementsByProduct[item.ProductID] = append(s.movementsByProduct[item.ProductID], domain.InventoryMovement{
			ID:        xid.New("mov"),
			ProductID: item.ProductID,
			Type:      domain.MovementTypeSale,
			Quantity:  -item.Quantity,
			RefID:     sale.ID,
			Oversell:  product.Stock < 0,
			CreatedAt: now,
		})
	}

	stored := sale
	s.salesByID[sale.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := *sale
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if !from.IsZero() && sale.Date.Before(from) {
			continue
		}
		if !to.IsZero() && sale.Date.After(to) {
			continue
		}
		sales = append(sales, *sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Date.After(b.Date) {
			return -1
		}
		if a.Date.Before(b.Date) {
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

// AppendSalePayment records the collection tender and releases the matching
// customer credit in one locked step, so the sale can never read as paid
// while the headroom stays consumed.
func (s *Store) AppendSalePayment(_ context.Context, input store.PaymentInput) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.ReleaseAmount < 0 {
		return nil, store.ErrValidation
	}
	sale, exists := s.salesByID[input.SaleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	var customer domain.Customer
	if input.ReleaseCustomerID != "" {
		c, exists := s.customers[input.ReleaseCustomerID]
		if !exists {
			return nil, store.ErrNotFound
		}
		customer = c
	}

	sale.Payments = append(sale.Payments, input.Tender)
	if input.NewStatus != "" {
		sale.Status = input.NewStatus
	}
	if input.ReleaseCustomerID != "" {
		customer.CreditBalance -= input.ReleaseAmount
		if customer.CreditBalance < 0 {
			customer.CreditBalance = 0
		}
		s.customers[input.ReleaseCustomerID] = customer
	}
	copySale := *sale
	return &copySale, nil
}

func (s *Store) NextReceiptNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receiptCounter++
	return s.receiptCounter, nil
}

// CreateReturn persists the return, its optional credit note, the restock
// movements and the sale's return state in one locked step. Validation runs
// in full before any mutation so a failure leaves the store untouched.
func (s *Store) CreateReturn(_ context.Context, input store.ReturnInput) (*store.ReturnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := input.Return
	if ret.OriginalSaleID == "" || len(ret.Items) == 0 || ret.Total < 0 {
		return nil, store.ErrValidation
	}
	sale, exists := s.salesByID[ret.OriginalSaleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if _, exists := s.returnsByID[ret.ID]; exists {
		return nil, store.ErrValidation
	}
	for _, item := range ret.Items {
		if _, exists := s.products[item.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	if input.CreditNote != nil && (input.CreditNote.Amount <= 0 || input.CreditNote.OriginalSaleID == "") {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
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
		storedNote := note
		s.creditNotesByID[note.ID] = &storedNote
		ret.CreditNoteID = note.ID
		copyNote := storedNote
		result.CreditNote = &copyNote
	}

	for _, item := range ret.Items {
		product := s.products[item.ProductID]
		product.Stock += item.Quantity
		s.products[item.ProductID] = product
		s.movementsByProduct[item.ProductID] = append(s.movementsByProduct[item.ProductID], domain.InventoryMovement{
			ID:        xid.New("mov"),
			ProductID: item.ProductID,
			Type:      domain.MovementTypeReturn,
			Quantity:  item.Quantity,
			RefID:     ret.ID,
			CreatedAt: now,
		})
	}

	storedRet := ret
	s.returnsByID[ret.ID] = &storedRet
	sale.ReturnedItems = input.SaleReturned
	sale.Status = input.SaleStatus

	result.Return = storedRet
	result.Sale = *sale
	return result, nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, exists := s.returnsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRet := *ret
	return &copyRet, nil
}

func (s *Store) ListReturnsForSale(_ context.Context, saleID string) ([]domain.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	returns := make([]domain.ReturnRecord, 0, 4)
	for _, ret := range s.returnsByID {
		if ret.OriginalSaleID == saleID {
			returns = append(returns, *ret)
		}
	}
	slices.SortFunc(returns, func(a, b domain.ReturnRecord) int {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	return returns, nil
}

func (s *Store) GetCreditNote(_ context.Context, id string) (*domain.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	note, exists := s.creditNotesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyNote := *note
	return &copyNote, nil
}

func (s *Store) ListActiveCreditNotes(_ context.Context, customerID string) ([]domain.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notes := make([]domain.CreditNote, 0, 4)
	for _, note := range s.creditNotesByID {
		if note.Status != domain.CreditNoteStatusActive {
			continue
		}
		if customerID != "" && note.CustomerID != customerID {
			continue
		}
		notes = append(notes, *note)
	}
	slices.SortFunc(notes, func(a, b domain.CreditNote) int {
		if a.IssuedAt.Before(b.IssuedAt) {
			return -1
		}
		if a.IssuedAt.After(b.IssuedAt) {
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	return notes, nil
}

func (s *Store) OpenCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.RegisterID == "" || session.OpeningAmount < 0 {
		return nil, store.ErrValidation
	}
	if _, active := s.activeSessionByRegister[session.RegisterID]; active {
		return nil, store.ErrSessionConflict
	}
	if session.ID == "" {
		session.ID = xid.New("cs")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	s.sessionsByID[session.ID] = session
	s.activeSessionByRegister[session.RegisterID] = session.ID
	created := session
	return &created, nil
}

func (s *Store) GetActiveCashSession(_ context.Context, registerID string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, active := s.activeSessionByRegister[registerID]
	if !active {
		return nil, store.ErrNotFound
	}
	session := s.sessionsByID[sessionID]
	copySession := session
	return &copySession, nil
}

func (s *Store) GetCashSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) CloseCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessionsByID[session.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if existing.Status != domain.SessionStatusOpen {
		return nil, store.ErrSessionConflict
	}

	now := time.Now().UTC()
	existing.Status = domain.SessionStatusClosed
	existing.ClosedAt = &now
	existing.ActualCash = session.ActualCash
	existing.ActualCard = session.ActualCard
	existing.ActualTransfer = session.ActualTransfer
	existing.Notes = session.Notes
	s.sessionsByID[existing.ID] = existing
	delete(s.activeSessionByRegister, existing.RegisterID)
	closed := existing
	return &closed, nil
}

// SessionTenderTotals buckets every payment stamped with the session into
// cash, card, transfer and credit. Change given on the session's own sales
// comes out of the cash drawer.
func (s *Store) SessionTenderTotals(_ context.Context, sessionID string) (domain.TenderTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.sessionsByID[sessionID]; !exists {
		return domain.TenderTotals{}, store.ErrNotFound
	}

	var totals domain.TenderTotals
	for _, sale := range s.salesByID {
		for _, payment := range sale.Payments {
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
		if sale.SessionID == sessionID {
			totals.Cash -= sale.ChangeGiven
			totals.SaleCount++
		}
	}

	totals.Cash = roundAmount(totals.Cash)
	totals.Card = roundAmount(totals.Card)
	totals.Transfer = roundAmount(totals.Transfer)
	totals.Credit = roundAmount(totals.Credit)
	return totals, nil
}

func (s *Store) CreateHeldOrder(_ context.Context, held domain.HeldOrder) (*domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(held.Items) == 0 {
		return nil, store.ErrValidation
	}
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = time.Now().UTC()
	}
	s.heldOrdersByID[held.ID] = held
	created := held
	return &created, nil
}

func (s *Store) ListHeldOrders(_ context.Context, registerID string, limit int) ([]domain.HeldOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.HeldOrder, 0, len(s.heldOrdersByID))
	for _, held := range s.heldOrdersByID {
		if registerID != "" && held.RegisterID != registerID {
			continue
		}
		orders = append(orders, held)
	}
	slices.SortFunc(orders, func(a, b domain.HeldOrder) int {
		if a.HeldAt.After(b.HeldAt) {
			return -1
		}
		if a.HeldAt.Before(b.HeldAt) {
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) PopHeldOrder(_ context.Context, holdID string) (*domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, exists := s.heldOrdersByID[holdID]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.heldOrdersByID, holdID)
	popped := held
	return &popped, nil
}

func (s *Store) DeleteHeldOrder(_ context.Context, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.heldOrdersByID[holdID]; !exists {
		return store.ErrNotFound
	}
	delete(s.heldOrdersByID, holdID)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, registerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if registerID != "" && entry.RegisterID != registerID {
			continue
		}
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return cmpString(b.ID, a.ID)
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func roundAmount(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
