package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"vendia/backend/internal/cache"
	"vendia/backend/internal/domain"
	"vendia/backend/internal/invoice"
	"vendia/backend/internal/pos"
	"vendia/backend/internal/store"
	"vendia/backend/internal/tax"
	"vendia/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options tunes engine behavior that comes from configuration.
type Options struct {
	RegisterID      string
	CreditTermDays  int
	InvoiceCacheTTL time.Duration
	EnforceStock    bool
}

// Service is the transaction engine for one register. It owns the live cart
// and the payment allocation in progress; everything durable goes through
// the repository. Cart mutations discard any in-progress payment so tenders
// are always validated against the current total.
type Service struct {
	repo     store.Repository
	invoices cache.InvoiceCache
	opts     Options

	mu        sync.Mutex
	cart      *pos.Cart
	allocator *pos.Allocator
}

func New(repo store.Repository, invoices cache.InvoiceCache, opts Options) *Service {
	if opts.RegisterID == "" {
		opts.RegisterID = "register-1"
	}
	if opts.CreditTermDays <= 0 {
		opts.CreditTermDays = 30
	}
	if opts.InvoiceCacheTTL <= 0 {
		opts.InvoiceCacheTTL = 10 * time.Minute
	}
	if invoices == nil {
		invoices = cache.NoopInvoiceCache{}
	}

	return &Service{
		repo:     repo,
		invoices: invoices,
		opts:     opts,
		cart:     pos.NewCart(),
	}
}

// ---- products ----

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.Price < 0 || req.Cost < 0 || req.InitialStock < 0 || req.TaxRate < 0 {
		return domain.Product{}, store.ErrValidation
	}
	if req.TaxType == "" {
		req.TaxType = domain.TaxIncluded
	}
	if !req.TaxType.Valid() {
		return domain.Product{}, store.ErrValidation
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:            req.SKU,
		Barcode:        req.Barcode,
		Name:           req.Name,
		Price:          req.Price,
		WholesalePrice: req.WholesalePrice,
		Cost:           req.Cost,
		Stock:          req.InitialStock,
		TaxRate:        req.TaxRate,
		TaxType:        req.TaxType,
		AllowDecimal:   req.AllowDecimal,
		Active:         true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%.2f,stock=%v", created.SKU, created.Price, created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Name != nil {
		existing.Name = strings.TrimSpace(*req.Name)
	}
	if req.Barcode != nil {
		existing.Barcode = *req.Barcode
	}
	if req.Price != nil {
		existing.Price = *req.Price
	}
	if req.WholesalePrice != nil {
		existing.WholesalePrice = *req.WholesalePrice
	}
	if req.Cost != nil {
		existing.Cost = *req.Cost
	}
	if req.TaxRate != nil {
		existing.TaxRate = *req.TaxRate
	}
	if req.TaxType != nil {
		if !req.TaxType.Valid() {
			return domain.Product{}, store.ErrValidation
		}
		existing.TaxType = *req.TaxType
	}
	if req.AllowDecimal != nil {
		existing.AllowDecimal = *req.AllowDecimal
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}
	if existing.Name == "" || existing.Price < 0 || existing.TaxRate < 0 {
		return domain.Product{}, store.ErrValidation
	}

	saved, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%.2f", saved.Active, saved.Price))
	return *saved, nil
}

func (s *Service) AdjustStock(ctx context.Context, productID string, delta float64) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}
	if delta == 0 {
		return domain.Product{}, store.ErrValidation
	}

	updated, err := s.repo.AdjustStock(ctx, productID, delta)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "stock_adjust", "product", productID, fmt.Sprintf("delta=%v,stock=%v", delta, updated.Stock))
	return *updated, nil
}

func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	return s.repo.ListMovements(ctx, productID, limit)
}

// ---- customers ----

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CreditLimit < 0 {
		return domain.Customer{}, store.ErrValidation
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:        req.Name,
		Phone:       strings.TrimSpace(req.Phone),
		CreditLimit: req.CreditLimit,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("limit=%.2f", created.CreditLimit))
	return *created, nil
}

// AvailableCredit is the headroom left under the customer's ceiling.
func (s *Service) AvailableCredit(ctx context.Context, customerID string) (float64, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	available := customer.CreditLimit - customer.CreditBalance
	if available < 0 {
		available = 0
	}
	return available, nil
}

// ---- cart ----

func (s *Service) CartView(_ context.Context) domain.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.View()
}

func (s *Service) AddCartLine(ctx context.Context, req domain.AddLineRequest) (domain.CartView, error) {
	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.CartView{}, err
	}
	if !product.Active {
		return domain.CartView{}, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, product.ID)
	}
	if req.Quantity <= 0 {
		return domain.CartView{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	if !product.AllowDecimal && req.Quantity != float64(int64(req.Quantity)) {
		return domain.CartView{}, fmt.Errorf("%w: product %s does not allow fractional quantities", store.ErrValidation, product.ID)
	}

	mode := req.PriceMode
	if mode == "" {
		mode = domain.PriceModeRetail
	}
	var price float64
	switch {
	case req.PriceOverride != nil:
		if *req.PriceOverride < 0 {
			return domain.CartView{}, fmt.Errorf("%w: price override must not be negative", store.ErrValidation)
		}
		price = *req.PriceOverride
		mode = "override"
	case mode == domain.PriceModeRetail:
		price = product.Price
	case mode == domain.PriceModeWholesale:
		if product.WholesalePrice <= 0 {
			return domain.CartView{}, fmt.Errorf("%w: product %s has no wholesale price", store.ErrValidation, product.ID)
		}
		price = product.WholesalePrice
	default:
		return domain.CartView{}, fmt.Errorf("%w: unknown price mode %q", store.ErrValidation, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.cart.AddLine(domain.CartLine{
		ProductID: product.ID,
		Name:      product.Name,
		Price:     price,
		Quantity:  req.Quantity,
		TaxRate:   product.TaxRate,
		TaxType:   product.TaxType,
		PriceMode: mode,
	})
	if err != nil {
		return domain.CartView{}, err
	}
	s.allocator = nil
	return s.cart.View(), nil
}

func (s *Service) UpdateCartLine(ctx context.Context, lineID string, qty float64) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := s.cart.Line(lineID)
	if line == nil {
		return domain.CartView{}, fmt.Errorf("%w: cart line %s", store.ErrNotFound, lineID)
	}
	if qty > 0 && qty != float64(int64(qty)) {
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			return domain.CartView{}, err
		}
		if !product.AllowDecimal {
			return domain.CartView{}, fmt.Errorf("%w: product %s does not allow fractional quantities", store.ErrValidation, product.ID)
		}
	}

	if err := s.cart.UpdateQuantity(lineID, qty); err != nil {
		return domain.CartView{}, err
	}
	s.allocator = nil
	return s.cart.View(), nil
}

func (s *Service) RemoveCartLine(_ context.Context, lineID string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cart.RemoveLine(lineID); err != nil {
		return domain.CartView{}, err
	}
	s.allocator = nil
	return s.cart.View(), nil
}

func (s *Service) ClearCart(_ context.Context) domain.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart.Clear()
	s.allocator = nil
	return s.cart.View()
}

func (s *Service) AssignCustomer(ctx context.Context, customerID string) (domain.CartView, error) {
	if customerID != "" {
		if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
			return domain.CartView{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart.SetCustomer(customerID)
	s.allocator = nil
	return s.cart.View(), nil
}

// ---- payment ----

// AddTender validates the tender against ledgers and the live allocator and
// records it. Nothing is consumed or reserved yet: ledger side effects are
// deferred to FinalizeSale so a discarded payment leaves no trace.
func (s *Service) AddTender(ctx context.Context, tender domain.Tender) (domain.PaymentState, error) {
	session, err := s.repo.GetActiveCashSession(ctx, s.opts.RegisterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.PaymentState{}, fmt.Errorf("%w: no open cash session", store.ErrSessionConflict)
		}
		return domain.PaymentState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.Empty() {
		return domain.PaymentState{}, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if s.allocator == nil {
		_, _, total := s.cart.Totals()
		alloc, err := pos.NewAllocator(total)
		if err != nil {
			return domain.PaymentState{}, err
		}
		s.allocator = alloc
	}

	tender.SessionID = session.ID
	tender.Collection = false

	switch tender.Type {
	case domain.TenderCredit:
		customerID := s.cart.CustomerID()
		if customerID == "" {
			return domain.PaymentState{}, fmt.Errorf("%w: credit tender requires an assigned customer", store.ErrValidation)
		}
		customer, err := s.repo.GetCustomer(ctx, customerID)
		if err != nil {
			return domain.PaymentState{}, err
		}
		available := customer.CreditLimit - customer.CreditBalance - s.pendingAmount(domain.TenderCredit, "")
		if tender.Amount > available+tax.Epsilon {
			return domain.PaymentState{}, fmt.Errorf("%w: credit tender %.2f exceeds available credit %.2f", store.ErrInsufficientCredit, tender.Amount, available)
		}

	case domain.TenderCreditNote:
		if tender.CreditNoteID == "" {
			return domain.PaymentState{}, fmt.Errorf("%w: credit note id is required", store.ErrValidation)
		}
		note, err := s.repo.GetCreditNote(ctx, tender.CreditNoteID)
		if err != nil {
			return domain.PaymentState{}, err
		}
		if note.Status != domain.CreditNoteStatusActive {
			return domain.PaymentState{}, fmt.Errorf("%w: credit note %s is %s", store.ErrValidation, note.ID, note.Status)
		}
		if note.CustomerID != "" && note.CustomerID != s.cart.CustomerID() {
			return domain.PaymentState{}, fmt.Errorf("%w: credit note %s belongs to another customer", store.ErrValidation, note.ID)
		}
		available := note.Balance - s.pendingAmount(domain.TenderCreditNote, note.ID)
		if available < tax.Epsilon {
			return domain.PaymentState{}, fmt.Errorf("%w: credit note %s has no balance left", store.ErrInsufficientBalance, note.ID)
		}
		// Cap at what the note and the sale still allow.
		if tender.Amount > available {
			tender.Amount = available
		}
		if remaining := s.allocator.Remaining(); tender.Amount > remaining {
			tender.Amount = remaining
		}
		if tender.Amount < tax.Epsilon {
			return domain.PaymentState{}, fmt.Errorf("%w: nothing left to pay", store.ErrValidation)
		}

	case domain.TenderReturn:
		if tender.ReturnID == "" {
			return domain.PaymentState{}, fmt.Errorf("%w: return id is required", store.ErrValidation)
		}
		ret, err := s.repo.GetReturn(ctx, tender.ReturnID)
		if err != nil {
			return domain.PaymentState{}, err
		}
		if ret.CreditNoteID != "" {
			return domain.PaymentState{}, fmt.Errorf("%w: return %s was refunded as a credit note", store.ErrValidation, ret.ID)
		}
		available := ret.Total - ret.AppliedAmount - s.pendingAmount(domain.TenderReturn, ret.ID)
		if available < tax.Epsilon {
			return domain.PaymentState{}, fmt.Errorf("%w: return %s is fully applied", store.ErrInsufficientBalance, ret.ID)
		}
		if tender.Amount > available {
			tender.Amount = available
		}
		if remaining := s.allocator.Remaining(); tender.Amount > remaining {
			tender.Amount = remaining
		}
		if tender.Amount < tax.Epsilon {
			return domain.PaymentState{}, fmt.Errorf("%w: nothing left to pay", store.ErrValidation)
		}
	}

	if err := s.allocator.AddTender(tender); err != nil {
		return domain.PaymentState{}, err
	}
	return s.allocator.State(), nil
}

// pendingAmount sums not-yet-finalized tenders of the given type, optionally
// restricted to one instrument. Callers hold s.mu.
func (s *Service) pendingAmount(tenderType domain.TenderType, instrumentID string) float64 {
	if s.allocator == nil {
		return 0
	}
	var sum float64
	for _, t := range s.allocator.Tenders() {
		if t.Type != tenderType {
			continue
		}
		if instrumentID != "" && t.CreditNoteID != instrumentID && t.ReturnID != instrumentID {
			continue
		}
		sum += t.Amount
	}
	return sum
}

func (s *Service) PaymentStatus(_ context.Context) domain.PaymentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allocator == nil {
		_, _, total := s.cart.Totals()
		return domain.PaymentState{AmountDue: total, Remaining: total, Tenders: []domain.Tender{}}
	}
	return s.allocator.State()
}

func (s *Service) ResetPayment(_ context.Context) domain.PaymentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allocator = nil
	_, _, total := s.cart.Totals()
	return domain.PaymentState{AmountDue: total, Remaining: total, Tenders: []domain.Tender{}}
}

// FinalizeSale commits the cart and its tenders as one sale. The repository
// applies credit-note consumption, customer-credit reservation, return
// application and stock movements atomically with the insert.
func (s *Service) FinalizeSale(ctx context.Context) (domain.Sale, error) {
	session, err := s.repo.GetActiveCashSession(ctx, s.opts.RegisterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: no open cash session", store.ErrSessionConflict)
		}
		return domain.Sale{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.Empty() {
		return domain.Sale{}, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	if s.allocator == nil || !s.allocator.Settled() {
		return domain.Sale{}, fmt.Errorf("%w: payment does not cover the total", store.ErrInsufficientBalance)
	}

	receipt, err := s.repo.NextReceiptNumber(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	subtotal, taxAmount, total := s.cart.Totals()
	now := time.Now().UTC()
	actor, _ := ActorFromContext(ctx)

	sale := domain.Sale{
		ID:            xid.New("sale"),
		ReceiptNumber: receipt,
		SessionID:     session.ID,
		Date:          now,
		Items:         s.cart.Lines(),
		Subtotal:      subtotal,
		Tax:           taxAmount,
		Total:         total,
		Payments:      s.allocator.Tenders(),
		ChangeGiven:   s.allocator.Change(),
		CustomerID:    s.cart.CustomerID(),
		Status:        domain.SaleStatusCompleted,
		CashierName:   actor.Username,
	}

	input := store.SaleInput{
		Sale:             sale,
		CreditNoteDebits: map[string]float64{},
		ReturnApplied:    map[string]float64{},
		EnforceStock:     s.opts.EnforceStock,
	}
	for _, t := range sale.Payments {
		switch t.Type {
		case domain.TenderCredit:
			input.CreditReserve += t.Amount
		case domain.TenderCreditNote:
			input.CreditNoteDebits[t.CreditNoteID] += t.Amount
		case domain.TenderReturn:
			input.ReturnApplied[t.ReturnID] += t.Amount
		}
	}
	if input.CreditReserve > 0 {
		due := now.AddDate(0, 0, s.opts.CreditTermDays)
		input.Sale.Status = domain.SaleStatusCredit
		input.Sale.DueDate = &due
	}

	created, err := s.repo.CreateSale(ctx, input)
	if err != nil {
		return domain.Sale{}, err
	}

	s.cart.Clear()
	s.allocator = nil

	s.logAudit(ctx, "sale_finalize", "sale", created.ID, fmt.Sprintf("receipt=%d,total=%.2f,status=%s", created.ReceiptNumber, created.Total, created.Status))
	return *created, nil
}

// ---- sales ----

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, from, to, limit)
}

// CollectCreditPayment records a later payment against a credit sale and
// releases the matching slice of the customer's credit balance.
func (s *Service) CollectCreditPayment(ctx context.Context, req domain.CollectCreditRequest) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, req.SaleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusCredit {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is not awaiting collection", store.ErrValidation, sale.ID)
	}

	tender := req.Tender
	switch tender.Type {
	case domain.TenderCash, domain.TenderCard, domain.TenderTransfer, domain.TenderCheck:
	default:
		return domain.Sale{}, fmt.Errorf("%w: collection tender must be a settled instrument", store.ErrValidation)
	}
	if tender.Amount <= 0 {
		return domain.Sale{}, fmt.Errorf("%w: tender amount must be positive", store.ErrValidation)
	}

	outstanding := creditOutstanding(*sale)
	if tender.Amount > outstanding+tax.Epsilon {
		return domain.Sale{}, fmt.Errorf("%w: amount %.2f exceeds outstanding %.2f", store.ErrValidation, tender.Amount, outstanding)
	}

	session, err := s.repo.GetActiveCashSession(ctx, s.opts.RegisterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: no open cash session", store.ErrSessionConflict)
		}
		return domain.Sale{}, err
	}

	tender.SessionID = session.ID
	tender.Collection = true

	newStatus := ""
	if outstanding-tender.Amount < tax.Epsilon {
		newStatus = domain.SaleStatusPaidCredit
	}

	input := store.PaymentInput{SaleID: sale.ID, Tender: tender, NewStatus: newStatus}
	if sale.CustomerID != "" {
		input.ReleaseCustomerID = sale.CustomerID
		input.ReleaseAmount = tender.Amount
	}
	updated, err := s.repo.AppendSalePayment(ctx, input)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "credit_collect", "sale", updated.ID, fmt.Sprintf("amount=%.2f,status=%s", tender.Amount, updated.Status))
	return *updated, nil
}

// creditOutstanding is the credit principal minus everything collected so far.
func creditOutstanding(sale domain.Sale) float64 {
	var principal, collected float64
	for _, p := range sale.Payments {
		if p.Type == domain.TenderCredit {
			principal += p.Amount
		}
		if p.Collection {
			collected += p.Amount
		}
	}
	out := principal - collected
	if out < 0 {
		return 0
	}
	return out
}

// ---- returns ----

// ProcessReturn validates requested quantities against the sale's full
// return history, then persists the return, the restock, the optional
// credit note and the sale's new status in one atomic repository call.
// When no credit note is issued the refund stays available as a return
// tender.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	sale, err := s.repo.GetSale(ctx, req.SaleID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.ReturnResponse{}, fmt.Errorf("%w: no return lines", store.ErrValidation)
	}

	soldByProduct := map[string]float64{}
	for _, item := range sale.Items {
		soldByProduct[item.ProductID] += item.Quantity
	}
	returnedByProduct := map[string]float64{}
	for _, item := range sale.ReturnedItems {
		returnedByProduct[item.ProductID] += item.Quantity
	}

	now := time.Now().UTC()
	retID := xid.New("ret")
	actor, _ := ActorFromContext(ctx)

	var returnTotal float64
	var items []domain.ReturnedItem
	seen := map[string]bool{}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return domain.ReturnResponse{}, fmt.Errorf("%w: return quantity must be positive", store.ErrValidation)
		}
		if seen[line.ProductID] {
			return domain.ReturnResponse{}, fmt.Errorf("%w: duplicate return line for product %s", store.ErrValidation, line.ProductID)
		}
		seen[line.ProductID] = true

		sold, ok := soldByProduct[line.ProductID]
		if !ok {
			return domain.ReturnResponse{}, fmt.Errorf("%w: product %s is not on sale %s", store.ErrValidation, line.ProductID, sale.ID)
		}
		remaining := sold - returnedByProduct[line.ProductID]
		if line.Quantity > remaining+tax.Epsilon {
			return domain.ReturnResponse{}, fmt.Errorf("%w: return of %v exceeds remaining %v for product %s", store.ErrValidation, line.Quantity, remaining, line.ProductID)
		}

		// Consume original lines in order so each returned unit refunds at
		// the price it was sold for.
		already := returnedByProduct[line.ProductID]
		qtyLeft := line.Quantity
		for _, orig := range sale.Items {
			if orig.ProductID != line.ProductID || qtyLeft < tax.Epsilon {
				continue
			}
			lineAvail := orig.Quantity - already
			if lineAvail <= 0 {
				already -= orig.Quantity
				if already < 0 {
					already = 0
				}
				continue
			}
			already = 0
			take := qtyLeft
			if take > lineAvail {
				take = lineAvail
			}
			qtyLeft -= take
			returnTotal += orig.Price * take
			items = append(items, domain.ReturnedItem{
				ProductID:      orig.ProductID,
				Name:           orig.Name,
				Price:          orig.Price,
				Quantity:       take,
				ReturnReason:   line.Reason,
				ReturnDate:     now,
				OriginalSaleID: sale.ID,
				ReturnID:       retID,
			})
		}
	}

	ret := domain.ReturnRecord{
		ID:             retID,
		OriginalSaleID: sale.ID,
		CustomerID:     sale.CustomerID,
		Items:          items,
		Total:          returnTotal,
		ProcessedBy:    actor.Username,
		CreatedAt:      now,
	}

	var note *domain.CreditNote
	if req.IssueCreditNote {
		note = &domain.CreditNote{
			CustomerID:     sale.CustomerID,
			OriginalSaleID: sale.ID,
			ReturnID:       retID,
			Amount:         returnTotal,
			Reason:         firstReason(req.Lines),
		}
	}

	allReturned := append(append([]domain.ReturnedItem{}, sale.ReturnedItems...), items...)
	status := domain.SaleStatusPartiallyReturned
	if fullyReturned(sale.Items, allReturned) {
		status = domain.SaleStatusReturned
	}

	result, err := s.repo.CreateReturn(ctx, store.ReturnInput{
		Return:       ret,
		CreditNote:   note,
		SaleReturned: allReturned,
		SaleStatus:   status,
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	s.logAudit(ctx, "return_process", "return", result.Return.ID, fmt.Sprintf("sale=%s,total=%.2f,credit_note=%t", sale.ID, returnTotal, req.IssueCreditNote))

	return domain.ReturnResponse{
		Return:     result.Return,
		Sale:       result.Sale,
		CreditNote: result.CreditNote,
	}, nil
}

func firstReason(lines []domain.ReturnLineInput) string {
	for _, line := range lines {
		if line.Reason != "" {
			return line.Reason
		}
	}
	return ""
}

func fullyReturned(sold []domain.CartLine, returned []domain.ReturnedItem) bool {
	soldByProduct := map[string]float64{}
	for _, item := range sold {
		soldByProduct[item.ProductID] += item.Quantity
	}
	returnedByProduct := map[string]float64{}
	for _, item := range returned {
		returnedByProduct[item.ProductID] += item.Quantity
	}
	for productID, qty := range soldByProduct {
		if returnedByProduct[productID] < qty-tax.Epsilon {
			return false
		}
	}
	return true
}

// ---- credit notes ----

func (s *Service) GetCreditNote(ctx context.Context, id string) (domain.CreditNote, error) {
	note, err := s.repo.GetCreditNote(ctx, id)
	if err != nil {
		return domain.CreditNote{}, err
	}
	return *note, nil
}

func (s *Service) ListActiveCreditNotes(ctx context.Context, customerID string) ([]domain.CreditNote, error) {
	return s.repo.ListActiveCreditNotes(ctx, customerID)
}

// ---- cash sessions ----

func (s *Service) OpenCashSession(ctx context.Context, req domain.OpenSessionRequest) (domain.CashSession, error) {
	if req.OpeningAmount < 0 {
		return domain.CashSession{}, store.ErrValidation
	}
	registerID := req.RegisterID
	if registerID == "" {
		registerID = s.opts.RegisterID
	}
	actor, _ := ActorFromContext(ctx)

	created, err := s.repo.OpenCashSession(ctx, domain.CashSession{
		RegisterID:    registerID,
		OpenedBy:      actor.Username,
		OpeningAmount: req.OpeningAmount,
	})
	if err != nil {
		return domain.CashSession{}, err
	}

	s.logAudit(ctx, "session_open", "cash_session", created.ID, fmt.Sprintf("opening=%.2f", created.OpeningAmount))
	return *created, nil
}

// CloseCashSession reconciles the drawer: expected cash is the opening float
// plus net cash taken, and each counted amount is compared to its bucket.
func (s *Service) CloseCashSession(ctx context.Context, req domain.CloseSessionRequest) (domain.CashSessionSummary, error) {
	registerID := req.RegisterID
	if registerID == "" {
		registerID = s.opts.RegisterID
	}
	active, err := s.repo.GetActiveCashSession(ctx, registerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashSessionSummary{}, fmt.Errorf("%w: no open cash session for register %s", store.ErrSessionConflict, registerID)
		}
		return domain.CashSessionSummary{}, err
	}

	totals, err := s.repo.SessionTenderTotals(ctx, active.ID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}

	closing := *active
	closing.ActualCash = req.ActualCash
	closing.ActualCard = req.ActualCard
	closing.ActualTransfer = req.ActualTransfer
	closing.Notes = req.Notes
	closed, err := s.repo.CloseCashSession(ctx, closing)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}

	summary := buildSummary(*closed, totals)
	s.logAudit(ctx, "session_close", "cash_session", closed.ID, fmt.Sprintf("expected_cash=%.2f,actual_cash=%.2f,diff=%.2f", summary.ExpectedCash, closed.ActualCash, summary.CashDifference))
	return summary, nil
}

func (s *Service) ActiveCashSession(ctx context.Context, registerID string) (domain.CashSessionSummary, error) {
	if registerID == "" {
		registerID = s.opts.RegisterID
	}
	active, err := s.repo.GetActiveCashSession(ctx, registerID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	totals, err := s.repo.SessionTenderTotals(ctx, active.ID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}

	// Still open, nothing counted yet: expose expected amounts only.
	return domain.CashSessionSummary{
		Session:      *active,
		Totals:       totals,
		ExpectedCash: active.OpeningAmount + totals.Cash,
	}, nil
}

func (s *Service) CashSessionSummary(ctx context.Context, sessionID string) (domain.CashSessionSummary, error) {
	session, err := s.repo.GetCashSession(ctx, sessionID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	totals, err := s.repo.SessionTenderTotals(ctx, session.ID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	if session.Status != domain.SessionStatusClosed {
		return domain.CashSessionSummary{
			Session:      *session,
			Totals:       totals,
			ExpectedCash: session.OpeningAmount + totals.Cash,
		}, nil
	}
	return buildSummary(*session, totals), nil
}

func buildSummary(session domain.CashSession, totals domain.TenderTotals) domain.CashSessionSummary {
	expectedCash := session.OpeningAmount + totals.Cash
	cashDiff := session.ActualCash - expectedCash
	cardDiff := session.ActualCard - totals.Card
	transferDiff := session.ActualTransfer - totals.Transfer
	return domain.CashSessionSummary{
		Session:            session,
		Totals:             totals,
		ExpectedCash:       expectedCash,
		CashDifference:     cashDiff,
		CardDifference:     cardDiff,
		TransferDifference: transferDiff,
		TotalDifference:    cashDiff + cardDiff + transferDiff,
	}
}

// ---- held orders ----

func (s *Service) HoldOrder(ctx context.Context, req domain.HoldOrderRequest) (domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.Empty() {
		return domain.HeldOrder{}, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	_, _, total := s.cart.Totals()
	actor, _ := ActorFromContext(ctx)
	created, err := s.repo.CreateHeldOrder(ctx, domain.HeldOrder{
		RegisterID: s.opts.RegisterID,
		CustomerID: s.cart.CustomerID(),
		Note:       req.Note,
		Items:      s.cart.Lines(),
		Total:      total,
		HeldBy:     actor.Username,
	})
	if err != nil {
		return domain.HeldOrder{}, err
	}

	s.cart.Clear()
	s.allocator = nil

	s.logAudit(ctx, "order_hold", "held_order", created.ID, fmt.Sprintf("items=%d,total=%.2f", len(created.Items), created.Total))
	return *created, nil
}

func (s *Service) ListHeldOrders(ctx context.Context) ([]domain.HeldOrder, error) {
	return s.repo.ListHeldOrders(ctx, s.opts.RegisterID, 0)
}

func (s *Service) ResumeHeldOrder(ctx context.Context, holdID string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cart.Empty() {
		return domain.CartView{}, fmt.Errorf("%w: cart must be empty to resume a held order", store.ErrValidation)
	}

	held, err := s.repo.PopHeldOrder(ctx, holdID)
	if err != nil {
		return domain.CartView{}, err
	}

	s.cart.Restore(held.Items, held.CustomerID)
	s.allocator = nil

	s.logAudit(ctx, "order_resume", "held_order", held.ID, fmt.Sprintf("items=%d", len(held.Items)))
	return s.cart.View(), nil
}

func (s *Service) DiscardHeldOrder(ctx context.Context, holdID string) error {
	if err := s.repo.DeleteHeldOrder(ctx, holdID); err != nil {
		return err
	}
	s.logAudit(ctx, "order_discard", "held_order", holdID, "")
	return nil
}

// ---- invoices ----

// GenerateInvoice builds the document bundle for a sale. Rendered documents
// are cached so reprints skip the render step; the cache is best effort.
func (s *Service) GenerateInvoice(ctx context.Context, saleID string, invoiceType string, returnID string) (domain.InvoiceResponse, error) {
	switch invoiceType {
	case "":
		invoiceType = domain.InvoiceTypeSale
	case domain.InvoiceTypeSale, domain.InvoiceTypeReturn, domain.InvoiceTypeCreditNote:
	default:
		return domain.InvoiceResponse{}, fmt.Errorf("%w: unknown invoice type %q", store.ErrValidation, invoiceType)
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	data := domain.InvoiceData{
		Type:        invoiceType,
		Sale:        *sale,
		GeneratedAt: time.Now().UTC(),
	}
	if sale.CustomerID != "" {
		if customer, err := s.repo.GetCustomer(ctx, sale.CustomerID); err == nil {
			data.Customer = customer
		}
	}
	if returnID != "" {
		ret, err := s.repo.GetReturn(ctx, returnID)
		if err != nil {
			return domain.InvoiceResponse{}, err
		}
		if ret.OriginalSaleID != sale.ID {
			return domain.InvoiceResponse{}, fmt.Errorf("%w: return %s does not belong to sale %s", store.ErrValidation, returnID, sale.ID)
		}
		data.Return = ret
	}

	key := fmt.Sprintf("invoice:%s:%s:%s", invoiceType, saleID, returnID)
	if cached, ok, err := s.invoices.Get(ctx, key); err == nil && ok {
		return domain.InvoiceResponse{Data: data, Document: *cached}, nil
	} else if err != nil {
		log.Printf("[service] WARN: invoice cache get failed key=%s: %v", key, err)
	}

	doc := invoice.Render(data)
	if err := s.invoices.Set(ctx, key, &doc, s.opts.InvoiceCacheTTL); err != nil {
		log.Printf("[service] WARN: invoice cache set failed key=%s: %v", key, err)
	}
	return domain.InvoiceResponse{Data: data, Document: doc}, nil
}

// ---- audit ----

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", store.ErrValidation, date)
		}
		day = parsed
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.ListAuditLogs(ctx, s.opts.RegisterID, day, day.AddDate(0, 0, 1), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		RegisterID:    s.opts.RegisterID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
