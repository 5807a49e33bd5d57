package domain

import "time"

// TaxType controls how a line's tax relates to its displayed price.
type TaxType string

const (
	// TaxIncluded means the line total already contains tax.
	TaxIncluded TaxType = "included"
	// TaxCalculated means tax is added on top of the base price.
	TaxCalculated TaxType = "calculated"
	// TaxExempt means the line carries no tax at all.
	TaxExempt TaxType = "exempt"
)

// TenderType identifies a payment instrument.
type TenderType string

const (
	TenderCash       TenderType = "cash"
	TenderCard       TenderType = "card"
	TenderTransfer   TenderType = "transfer"
	TenderCheck      TenderType = "check"
	TenderCredit     TenderType = "credit"
	TenderReturn     TenderType = "return"
	TenderCreditNote TenderType = "credit-note"
)

const (
	SaleStatusCompleted         = "completed"
	SaleStatusCredit            = "credit"
	SaleStatusPaidCredit        = "paid-credit"
	SaleStatusReturned          = "returned"
	SaleStatusPartiallyReturned = "partially-returned"
)

const (
	CreditNoteStatusActive  = "active"
	CreditNoteStatusUsed    = "used"
	CreditNoteStatusExpired = "expired"
)

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	MovementTypeSale       = "sale"
	MovementTypeReturn     = "return"
	MovementTypeAdjustment = "adjustment"
)

const (
	PriceModeRetail    = "retail"
	PriceModeWholesale = "wholesale"
)

type Product struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Barcode        string    `json:"barcode,omitempty"`
	Name           string    `json:"name"`
	Price          float64   `json:"price"`
	WholesalePrice float64   `json:"wholesale_price,omitempty"`
	Cost           float64   `json:"cost"`
	Stock          float64   `json:"stock"`
	TaxRate        float64   `json:"tax_rate"`
	TaxType        TaxType   `json:"tax_type"`
	AllowDecimal   bool      `json:"allow_decimal"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU            string  `json:"sku"`
	Barcode        string  `json:"barcode,omitempty"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	WholesalePrice float64 `json:"wholesale_price,omitempty"`
	Cost           float64 `json:"cost"`
	InitialStock   float64 `json:"initial_stock"`
	TaxRate        float64 `json:"tax_rate"`
	TaxType        TaxType `json:"tax_type"`
	AllowDecimal   bool    `json:"allow_decimal"`
}

type ProductUpdateRequest struct {
	Name           *string  `json:"name,omitempty"`
	Barcode        *string  `json:"barcode,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	WholesalePrice *float64 `json:"wholesale_price,omitempty"`
	Cost           *float64 `json:"cost,omitempty"`
	TaxRate        *float64 `json:"tax_rate,omitempty"`
	TaxType        *TaxType `json:"tax_type,omitempty"`
	AllowDecimal   *bool    `json:"allow_decimal,omitempty"`
	Active         *bool    `json:"active,omitempty"`
}

// CartLine is a snapshot of a product taken when it was added to the cart.
// Price reflects the mode chosen at add time (retail, wholesale, or an
// explicit override) and does not follow later catalog changes.
type CartLine struct {
	LineID    string  `json:"line_id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	TaxRate   float64 `json:"tax_rate"`
	TaxType   TaxType `json:"tax_type"`
	PriceMode string  `json:"price_mode"`
}

type AddLineRequest struct {
	ProductID     string   `json:"product_id"`
	Quantity      float64  `json:"quantity"`
	PriceMode     string   `json:"price_mode,omitempty"`
	PriceOverride *float64 `json:"price_override,omitempty"`
}

type UpdateLineRequest struct {
	Quantity float64 `json:"quantity"`
}

type CartView struct {
	Lines      []CartLine `json:"lines"`
	CustomerID string     `json:"customer_id,omitempty"`
	Subtotal   float64    `json:"subtotal"`
	Tax        float64    `json:"tax"`
	Total      float64    `json:"total"`
}

// Tender is a single payment instrument contributing toward a sale's total.
// SessionID records which cash session the money physically entered;
// Collection marks payments taken later against a credit sale.
type Tender struct {
	Type         TenderType `json:"type"`
	Amount       float64    `json:"amount"`
	Reference    string     `json:"reference,omitempty"`
	CardType     string     `json:"card_type,omitempty"`
	ReturnID     string     `json:"return_id,omitempty"`
	CreditNoteID string     `json:"credit_note_id,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	Collection   bool       `json:"collection,omitempty"`
}

type PaymentState struct {
	AmountDue float64  `json:"amount_due"`
	Tendered  float64  `json:"tendered"`
	Remaining float64  `json:"remaining"`
	Change    float64  `json:"change"`
	Tenders   []Tender `json:"tenders"`
}

type Sale struct {
	ID            string         `json:"id"`
	ReceiptNumber int64          `json:"receipt_number"`
	SessionID     string         `json:"session_id"`
	Date          time.Time      `json:"date"`
	Items         []CartLine     `json:"items"`
	Subtotal      float64        `json:"subtotal"`
	Tax           float64        `json:"tax"`
	Total         float64        `json:"total"`
	Payments      []Tender       `json:"payments"`
	ChangeGiven   float64        `json:"change_given"`
	CustomerID    string         `json:"customer_id,omitempty"`
	Status        string         `json:"status"`
	ReturnedItems []ReturnedItem `json:"returned_items,omitempty"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	CashierName   string         `json:"cashier_name,omitempty"`
}

type ReturnedItem struct {
	ProductID      string    `json:"product_id"`
	Name           string    `json:"name"`
	Price          float64   `json:"price"`
	Quantity       float64   `json:"quantity"`
	ReturnReason   string    `json:"return_reason"`
	ReturnDate     time.Time `json:"return_date"`
	OriginalSaleID string    `json:"original_sale_id"`
	ReturnID       string    `json:"return_id"`
}

// ReturnRecord tracks one processed return. AppliedAmount grows as the
// return total is spent as a return-typed tender on later sales and never
// exceeds Total.
type ReturnRecord struct {
	ID             string         `json:"id"`
	OriginalSaleID string         `json:"original_sale_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	Items          []ReturnedItem `json:"items"`
	Total          float64        `json:"total"`
	AppliedAmount  float64        `json:"applied_amount"`
	CreditNoteID   string         `json:"credit_note_id,omitempty"`
	ProcessedBy    string         `json:"processed_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type ReturnLineInput struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Reason    string  `json:"reason"`
}

type ReturnRequest struct {
	SaleID          string            `json:"sale_id"`
	Lines           []ReturnLineInput `json:"lines"`
	IssueCreditNote bool              `json:"issue_credit_note"`
	ManagerPIN      string            `json:"manager_pin,omitempty"`
}

type ReturnResponse struct {
	Return     ReturnRecord `json:"return"`
	Sale       Sale         `json:"sale"`
	CreditNote *CreditNote  `json:"credit_note,omitempty"`
}

// CreditNote is a store-credit instrument issued against a return.
// Balance only ever decreases and stays within [0, Amount]; Status flips to
// used exactly when Balance reaches zero.
type CreditNote struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id,omitempty"`
	OriginalSaleID string    `json:"original_sale_id"`
	ReturnID       string    `json:"return_id,omitempty"`
	Amount         float64   `json:"amount"`
	Balance        float64   `json:"balance"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

type Customer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	CreditLimit   float64   `json:"credit_limit"`
	CreditBalance float64   `json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name        string  `json:"name"`
	Phone       string  `json:"phone,omitempty"`
	CreditLimit float64 `json:"credit_limit"`
}

type CashSession struct {
	ID             string     `json:"id"`
	RegisterID     string     `json:"register_id"`
	OpenedBy       string     `json:"opened_by"`
	OpeningAmount  float64    `json:"opening_amount"`
	OpenedAt       time.Time  `json:"opened_at"`
	Status         string     `json:"status"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	ActualCash     float64    `json:"actual_cash,omitempty"`
	ActualCard     float64    `json:"actual_card,omitempty"`
	ActualTransfer float64    `json:"actual_transfer,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

type OpenSessionRequest struct {
	RegisterID    string  `json:"register_id,omitempty"`
	OpeningAmount float64 `json:"opening_amount"`
}

type CloseSessionRequest struct {
	RegisterID     string  `json:"register_id,omitempty"`
	ActualCash     float64 `json:"actual_cash"`
	ActualCard     float64 `json:"actual_card"`
	ActualTransfer float64 `json:"actual_transfer"`
	Notes          string  `json:"notes,omitempty"`
}

// TenderTotals aggregates a session's recorded payments into the four
// reconciliation buckets. Credit covers every deferred or pre-settled
// instrument (customer credit, credit notes, returns-as-tender) and is not
// part of the counted comparison.
type TenderTotals struct {
	Cash      float64 `json:"cash"`
	Card      float64 `json:"card"`
	Transfer  float64 `json:"transfer"`
	Credit    float64 `json:"credit"`
	SaleCount int     `json:"sale_count"`
}

type CashSessionSummary struct {
	Session            CashSession  `json:"session"`
	Totals             TenderTotals `json:"totals"`
	ExpectedCash       float64      `json:"expected_cash"`
	CashDifference     float64      `json:"cash_difference"`
	CardDifference     float64      `json:"card_difference"`
	TransferDifference float64      `json:"transfer_difference"`
	TotalDifference    float64      `json:"total_difference"`
}

type HeldOrder struct {
	ID         string     `json:"id"`
	RegisterID string     `json:"register_id"`
	CustomerID string     `json:"customer_id,omitempty"`
	Note       string     `json:"note,omitempty"`
	Items      []CartLine `json:"items"`
	Total      float64    `json:"total"`
	HeldBy     string     `json:"held_by,omitempty"`
	HeldAt     time.Time  `json:"held_at"`
}

type HoldOrderRequest struct {
	Note string `json:"note,omitempty"`
}

type CollectCreditRequest struct {
	SaleID string `json:"sale_id"`
	Tender Tender `json:"tender"`
}

// InventoryMovement records one signed stock change. Oversell marks a sale
// movement that pushed stock below zero under the soft-allow policy.
type InventoryMovement struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Type      string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	RefID     string    `json:"ref_id,omitempty"`
	Oversell  bool      `json:"oversell,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	InvoiceTypeSale       = "sale"
	InvoiceTypeCreditNote = "credit-note"
	InvoiceTypeReturn     = "return"
)

// InvoiceData is the structured bundle handed to receipt/invoice consumers.
// The engine never formats or prints; rendering is a separate pure step.
type InvoiceData struct {
	Type        string        `json:"type"`
	Sale        Sale          `json:"sale"`
	Customer    *Customer     `json:"customer,omitempty"`
	Return      *ReturnRecord `json:"return,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

type InvoiceDocument struct {
	SaleID       string `json:"sale_id"`
	Type         string `json:"type"`
	PreviewText  string `json:"preview_text"`
	EscposBase64 string `json:"escpos_base64"`
	FileName     string `json:"file_name"`
}

type InvoiceResponse struct {
	Data     InvoiceData     `json:"data"`
	Document InvoiceDocument `json:"document"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	RegisterID    string    `json:"register_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Bucket maps every tender type onto exactly one reconciliation bucket.
// Check settles through the bank like a transfer; credit, return and
// credit-note tenders are deferred or pre-settled and land in the credit
// bucket, which is excluded from the counted comparison.
func (t TenderType) Bucket() string {
	switch t {
	case TenderCash:
		return "cash"
	case TenderCard:
		return "card"
	case TenderTransfer, TenderCheck:
		return "transfer"
	default:
		return "credit"
	}
}

// Valid reports whether t is one of the supported tender types.
func (t TenderType) Valid() bool {
	switch t {
	case TenderCash, TenderCard, TenderTransfer, TenderCheck, TenderCredit, TenderReturn, TenderCreditNote:
		return true
	default:
		return false
	}
}

// Valid reports whether tt is one of the supported tax types.
func (tt TaxType) Valid() bool {
	switch tt {
	case TaxIncluded, TaxCalculated, TaxExempt:
		return true
	default:
		return false
	}
}
