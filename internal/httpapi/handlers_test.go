package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/importer"
	"dukani/backend/internal/service"
	"dukani/backend/internal/store/memory"
)

type fixture struct {
	api     *API
	handler http.Handler
	svc     *service.Service
	boss    domain.User
	seller  domain.User
	store   domain.Store
	sugar   domain.Product
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newFixture builds the full API over the memory store with one boss, one
// seller and a stocked product, so handler tests run the complete request path.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := quietLogger()

	svc := service.New(memory.New(), service.Options{Logger: log})
	boss, err := svc.CreateUser(ctx, domain.UserCreateRequest{Username: "amina", FirstName: "Amina", LastName: "Odhiambo", Password: "secret1", Role: domain.RoleBoss})
	if err != nil {
		t.Fatalf("create boss: %v", err)
	}
	st, err := svc.CreateStore(ctx, domain.StoreCreateRequest{Name: "Duka Kuu", Country: "KE", PIN: "4321", OwnerID: &boss.ID})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	asBoss := service.WithActor(ctx, domain.Actor{UserID: boss.ID, Role: domain.RoleBoss, StoreIDs: []int64{st.ID}})
	seller, err := svc.CreateUser(asBoss, domain.UserCreateRequest{Username: "baraka", FirstName: "Baraka", LastName: "Mwangi", Password: "secret2", StoreID: st.ID})
	if err != nil {
		t.Fatalf("create seller: %v", err)
	}
	sugar, err := svc.CreateProduct(asBoss, domain.ProductCreateRequest{StoreID: st.ID, Name: "Sugar 1kg", LowStockThreshold: 2})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := svc.SetPrice(asBoss, domain.PriceSetRequest{StoreID: st.ID, ProductID: sugar.ID, RetailPrice: decimal.NewFromInt(15), WholesalePrice: decimal.NewFromInt(14), WholesaleThreshold: 10}); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := svc.ReceiveBatch(asBoss, domain.BatchReceiveRequest{StoreID: st.ID, ProductID: sugar.ID, Quantity: 5, BuyingPrice: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("receive batch: %v", err)
	}

	auth := NewAuthManager("test-secret-key", time.Hour, svc)
	api := New(svc, auth, Options{AllowedOrigin: "*", Importer: importer.New(svc, log), Logger: log})
	return &fixture{api: api, handler: api.Handler(), svc: svc, boss: boss, seller: seller, store: st, sugar: sugar}
}

func (f *fixture) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, username string, password string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func (f *fixture) storePath(format string, args ...any) string {
	return fmt.Sprintf("/api/v1/stores/%d", f.store.ID) + fmt.Sprintf(format, args...)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return body
}

func (f *fixture) saleLine(quantity int) domain.SaleLineRequest {
	return domain.SaleLineRequest{ProductID: f.sugar.ID, Quantity: quantity, UnitPrice: decimal.NewFromInt(15)}
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "amina", Password: "wrong-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_StorePIN(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "baraka", Password: "secret2", StoreCode: f.store.StoreCode, StorePIN: "4321"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Role != domain.RoleSeller || len(resp.StoreIDs) != 1 || resp.StoreIDs[0] != f.store.ID {
		t.Fatalf("unexpected login response %+v", resp)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "baraka", Password: "secret2", StoreCode: f.store.StoreCode, StorePIN: "0000"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong pin: expected 401, got %d", rec.Code)
	}
}

func TestProtectedRouteNeedsToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, f.storePath("/products"), "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestListStoresShowsMemberships(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "baraka", "secret2")

	rec := f.do(t, http.MethodGet, "/api/v1/stores", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	stores, _ := decodeBody(t, rec)["stores"].([]any)
	if len(stores) != 1 {
		t.Fatalf("expected 1 store, got %v", stores)
	}
	if code := stores[0].(map[string]any)["store_code"]; code != f.store.StoreCode {
		t.Fatalf("expected store %s, got %v", f.store.StoreCode, code)
	}
}

func TestSellerCannotReachBossRoutes(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "baraka", "secret2")

	rec := f.do(t, http.MethodPost, f.storePath("/costs/business"), token, domain.BusinessCostRequest{Category: "rent", Amount: decimal.NewFromInt(100), Frequency: domain.FrequencyMonthly})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, f.storePath("/products"), token, domain.ProductCreateRequest{Name: "Salt"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected service to reject seller product create with 403, got %d", rec.Code)
	}
}

func TestStoreAccessIsScoped(t *testing.T) {
	f := newFixture(t)
	bossToken := f.login(t, "amina", "secret1")
	sellerToken := f.login(t, "baraka", "secret2")

	// The second store is created after both tokens were issued.
	rec := f.do(t, http.MethodPost, "/api/v1/stores", bossToken, domain.StoreCreateRequest{Name: "Tawi", Country: "KE", PIN: "9999"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create store: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)["store"].(map[string]any)
	path := fmt.Sprintf("/api/v1/stores/%d/products", int64(created["id"].(float64)))

	if rec := f.do(t, http.MethodGet, path, bossToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, path, sellerToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("seller: expected 403, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/stores/abc/products", bossToken, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestRecordSaleFlow(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "baraka", "secret2")

	rec := f.do(t, http.MethodPost, f.storePath("/sales"), token, domain.SaleRequest{PaymentMethod: "cash", Lines: []domain.SaleLineRequest{f.saleLine(3)}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	sale := decodeBody(t, rec)["sale"].(map[string]any)
	if sale["total_price"] != "45" {
		t.Fatalf("expected total 45, got %v", sale["total_price"])
	}
	if sale["user_id"] != float64(f.seller.ID) {
		t.Fatalf("expected sale booked to the signed in seller, got %v", sale["user_id"])
	}

	rec = f.do(t, http.MethodGet, f.storePath("/sales/%d", int64(sale["id"].(float64))), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, f.storePath("/sales"), token, domain.SaleRequest{PaymentMethod: "CASH", Lines: []domain.SaleLineRequest{f.saleLine(3)}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("shortfall: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, f.storePath("/products/%d/balance", f.sugar.ID), token, nil)
	body := decodeBody(t, rec)
	if body["consistent"] != true {
		t.Fatalf("expected consistent stock, got %v", body)
	}
	if balance := body["balance"].(map[string]any); balance["stock_quantity"] != float64(2) {
		t.Fatalf("expected 2 left, got %v", balance["stock_quantity"])
	}
}

func TestRecordSaleValidationErrors(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "baraka", "secret2")

	cases := []struct {
		name string
		req  domain.SaleRequest
		want int
	}{
		{"unknown method", domain.SaleRequest{PaymentMethod: "BARTER", Lines: []domain.SaleLineRequest{f.saleLine(1)}}, http.StatusBadRequest},
		{"no lines", domain.SaleRequest{PaymentMethod: "CASH"}, http.StatusBadRequest},
		{"tier mismatch", domain.SaleRequest{PaymentMethod: "CASH", Lines: []domain.SaleLineRequest{{ProductID: f.sugar.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(14), IsWholesale: true}}}, http.StatusBadRequest},
		{"unknown product", domain.SaleRequest{PaymentMethod: "CASH", Lines: []domain.SaleLineRequest{{ProductID: 999, Quantity: 1, UnitPrice: decimal.NewFromInt(15)}}}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, f.storePath("/sales"), token, tc.req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDebtSaleAndOverpayment(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "baraka", "secret2")

	rec := f.do(t, http.MethodPost, f.storePath("/sales"), token, domain.SaleRequest{
		PaymentMethod: domain.PaymentDebt,
		Lines:         []domain.SaleLineRequest{f.saleLine(2)},
		Debtor:        &domain.Debtor{Name: "Wanjiru", Phone: "0712 345 678"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	debt := decodeBody(t, rec)["debt"].(map[string]any)
	if debt["debtor_phone"] != "+254712345678" || debt["amount_owed"] != "30" {
		t.Fatalf("unexpected debt %v", debt)
	}
	debtPath := f.storePath("/debts/%d/payments", int64(debt["id"].(float64)))

	rec = f.do(t, http.MethodPost, debtPath, token, domain.DebtPaymentRequest{Amount: decimal.NewFromInt(31)})
	if rec.Code != http.StatusConflict {
		t.Fatalf("overpay: expected 409, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, debtPath, token, domain.DebtPaymentRequest{Amount: decimal.NewFromInt(10)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("pay: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if remaining := decodeBody(t, rec)["debt"].(map[string]any)["remaining"]; remaining != "20" {
		t.Fatalf("expected 20 remaining, got %v", remaining)
	}

	rec = f.do(t, http.MethodPost, f.storePath("/debtors/payments"), token, domain.DebtorPaymentRequest{DebtorName: "Wanjiru", DebtorPhone: "+254712345678"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("pay debtor: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, f.storePath("/debts?open=true"), token, nil)
	if debts, _ := decodeBody(t, rec)["debts"].([]any); len(debts) != 0 {
		t.Fatalf("expected no open debts, got %v", debts)
	}
}

func TestProfitReport(t *testing.T) {
	f := newFixture(t)
	seller := f.login(t, "baraka", "secret2")
	boss := f.login(t, "amina", "secret1")

	if rec := f.do(t, http.MethodPost, f.storePath("/sales"), seller, domain.SaleRequest{PaymentMethod: "MPESA", Lines: []domain.SaleLineRequest{f.saleLine(2)}}); rec.Code != http.StatusCreated {
		t.Fatalf("sale: expected 201, got %d", rec.Code)
	}
	today := time.Now().UTC().Format("2006-01-02")

	rec := f.do(t, http.MethodGet, f.storePath("/reports/profit?to=%s", today), boss, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["revenue"] != "30" || body["gross_profit"] != "10" {
		t.Fatalf("unexpected profit summary %v", body)
	}

	if rec := f.do(t, http.MethodGet, f.storePath("/reports/profit?from=yesterday"), boss, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, f.storePath("/reports/sellers"), seller, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("seller report: expected 403, got %d", rec.Code)
	}
}

func TestImportUploadAndTemplate(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "amina", "secret1")

	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	header := make([]any, len(importer.Columns))
	for i, c := range importer.Columns {
		header[i] = c
	}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if err := book.SetSheetRow(sheet, "A2", &[]any{"", "Maize Flour", 12, 80, "", "", "", "", 110}); err != nil {
		t.Fatalf("row: %v", err)
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, f.storePath("/imports"), buf)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	report := decodeBody(t, rec)
	if report["products_created"] != float64(1) || report["units_received"] != float64(12) {
		t.Fatalf("unexpected report %v", report)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/imports/template", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("template: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected template content type %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "amina", "secret1")
	rec := f.do(t, http.MethodPost, f.storePath("/products/low-stock"), token, map[string]any{})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
