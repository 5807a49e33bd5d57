package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vendia/backend/internal/cache"
	"vendia/backend/internal/domain"
	"vendia/backend/internal/service"
	"vendia/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopInvoiceCache{}, service.Options{RegisterID: "register-1"})
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)
	return New(svc, auth, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return resp.AccessToken
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch returned %d", rec.Code)
	}
	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	decodeBody(t, rec, &resp)
	if resp.CSRFToken == "" {
		t.Fatalf("expected csrf token in response")
	}
	return resp.CSRFToken
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["ok"] != true {
		t.Fatalf("expected ok=true, got %v", resp["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "admin", "admin123")
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Products) == 0 {
		t.Fatalf("expected seeded products")
	}
}

func TestProductCreateRequiresAdminRole(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, csrf, domain.ProductCreateRequest{
		SKU:   "sku-new-01",
		Name:  "New Product",
		Price: 10,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier product create, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMutatingRequestRequiresCSRFToken(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/clear", token, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}

	csrf := fetchCSRFToken(t, handler)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/clear", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with csrf token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteCartLineRequiresCSRFToken(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/lines", token, csrf, domain.AddLineRequest{ProductID: "prod-mug", Quantity: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("add line returned %d: %s", rec.Code, rec.Body.String())
	}
	var addResp struct {
		Cart domain.CartView `json:"cart"`
	}
	decodeBody(t, rec, &addResp)
	if len(addResp.Cart.Lines) != 1 {
		t.Fatalf("expected one cart line, got %d", len(addResp.Cart.Lines))
	}
	lineID := addResp.Cart.Lines[0].LineID

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/cart/lines/"+lineID, token, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 deleting without csrf token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/cart/lines/"+lineID, token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete line returned %d: %s", rec.Code, rec.Body.String())
	}
	var delResp struct {
		Cart domain.CartView `json:"cart"`
	}
	decodeBody(t, rec, &delResp)
	if len(delResp.Cart.Lines) != 0 {
		t.Fatalf("expected empty cart after delete, got %d lines", len(delResp.Cart.Lines))
	}
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", token, csrf, domain.OpenSessionRequest{
		OpeningAmount: 500,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/lines", token, csrf, domain.AddLineRequest{
		ProductID: "prod-espresso",
		Quantity:  1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add cart line returned %d: %s", rec.Code, rec.Body.String())
	}
	var cartResp struct {
		Cart domain.CartView `json:"cart"`
	}
	decodeBody(t, rec, &cartResp)
	if cartResp.Cart.Total != 100 {
		t.Fatalf("expected cart total 100, got %v", cartResp.Cart.Total)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout/tenders", token, csrf, domain.Tender{
		Type:   domain.TenderCash,
		Amount: 150,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add tender returned %d: %s", rec.Code, rec.Body.String())
	}
	var payResp struct {
		Payment domain.PaymentState `json:"payment"`
	}
	decodeBody(t, rec, &payResp)
	if payResp.Payment.Change != 50 {
		t.Fatalf("expected change 50, got %v", payResp.Payment.Change)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout/finalize", token, csrf, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("finalize returned %d: %s", rec.Code, rec.Body.String())
	}
	var saleResp struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &saleResp)
	if saleResp.Sale.ReceiptNumber != 1 {
		t.Fatalf("expected receipt number 1, got %d", saleResp.Sale.ReceiptNumber)
	}
	if saleResp.Sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed sale, got %s", saleResp.Sale.Status)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+saleResp.Sale.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/invoices/"+saleResp.Sale.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("invoice returned %d: %s", rec.Code, rec.Body.String())
	}
	var invResp domain.InvoiceResponse
	decodeBody(t, rec, &invResp)
	if invResp.Document.EscposBase64 == "" {
		t.Fatalf("expected escpos payload in invoice response")
	}
}

func TestFinalizeWithoutTendersRejected(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", token, csrf, domain.OpenSessionRequest{OpeningAmount: 100})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session returned %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/lines", token, csrf, domain.AddLineRequest{ProductID: "prod-mug", Quantity: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("add line returned %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout/finalize", token, csrf, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unsettled finalize, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReturnRejectsInvalidManagerPIN(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/returns", token, csrf, domain.ReturnRequest{
		SaleID:     "sale-missing",
		Lines:      []domain.ReturnLineInput{{ProductID: "prod-mug", Quantity: 1}},
		ManagerPIN: "000000",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for invalid manager pin, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCashiersEndpointAdminOnly(t *testing.T) {
	handler := newTestAPI(t)
	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	adminToken := loginAs(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", cashierToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", adminToken, csrf, domain.CashierCreateRequest{
		Username: "newhire",
		Password: "secret99",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating cashier, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing cashiers, got %d", rec.Code)
	}
	var resp struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}
	decodeBody(t, rec, &resp)
	found := false
	for _, cashier := range resp.Cashiers {
		if cashier.Username == "newhire" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected newhire in cashier list")
	}
}

func TestSalesDateFilterRejectsBadDate(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales?from=31-08-2026", token, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}
