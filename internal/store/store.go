package store

import (
	"context"
	"errors"
	"time"

	"vendia/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSessionConflict     = errors.New("session conflict")
)

// SaleInput carries everything CreateSale must persist atomically: the sale
// itself plus the side effects its tenders imply. Either all of it commits
// or none of it does.
type SaleInput struct {
	Sale             domain.Sale
	CreditNoteDebits map[string]float64 // credit note id -> amount consumed
	CreditReserve    float64            // amount added to the customer's credit balance
	ReturnApplied    map[string]float64 // return id -> amount applied as tender
	EnforceStock     bool
}

// ReturnInput carries everything CreateReturn must persist atomically: the
// return record, the credit note it optionally issues, the restock movements
// its items imply, and the sale's updated return state. Either all of it
// commits or none of it does.
type ReturnInput struct {
	Return       domain.ReturnRecord
	CreditNote   *domain.CreditNote
	SaleReturned []domain.ReturnedItem
	SaleStatus   string
}

// ReturnResult reports what CreateReturn persisted.
type ReturnResult struct {
	Return     domain.ReturnRecord
	CreditNote *domain.CreditNote
	Sale       domain.Sale
}

// PaymentInput appends a collection tender to a sale and, when
// ReleaseCustomerID is set, releases the matching slice of that customer's
// credit balance in the same step.
type PaymentInput struct {
	SaleID            string
	Tender            domain.Tender
	NewStatus         string
	ReleaseCustomerID string
	ReleaseAmount     float64
}

type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	AdjustStock(ctx context.Context, productID string, delta float64) (*domain.Product, error)
	ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	CreateSale(ctx context.Context, input SaleInput) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	AppendSalePayment(ctx context.Context, input PaymentInput) (*domain.Sale, error)
	NextReceiptNumber(ctx context.Context) (int64, error)

	CreateReturn(ctx context.Context, input ReturnInput) (*ReturnResult, error)
	GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error)
	ListReturnsForSale(ctx context.Context, saleID string) ([]domain.ReturnRecord, error)

	GetCreditNote(ctx context.Context, id string) (*domain.CreditNote, error)
	ListActiveCreditNotes(ctx context.Context, customerID string) ([]domain.CreditNote, error)

	OpenCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetActiveCashSession(ctx context.Context, registerID string) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	CloseCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	SessionTenderTotals(ctx context.Context, sessionID string) (domain.TenderTotals, error)

	CreateHeldOrder(ctx context.Context, held domain.HeldOrder) (*domain.HeldOrder, error)
	ListHeldOrders(ctx context.Context, registerID string, limit int) ([]domain.HeldOrder, error)
	PopHeldOrder(ctx context.Context, holdID string) (*domain.HeldOrder, error)
	DeleteHeldOrder(ctx context.Context, holdID string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, registerID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
