package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/importer"
	"dukani/backend/internal/service"
	"dukani/backend/internal/store"
)

const maxImportBytes = 10 << 20

type Options struct {
	AllowedOrigin string
	Importer      *importer.Importer
	Logger        logrus.FieldLogger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	importer      *importer.Importer
	log           logrus.FieldLogger
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Importer == nil {
		opts.Importer = importer.New(svc, opts.Logger)
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:       svc,
		auth:          auth,
		importer:      opts.Importer,
		log:           opts.Logger,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it fits the window.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{domain.RoleBoss, domain.RoleSeller}

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/stores", a.requireAuth(a.handleStores, staff...))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleBoss))
	mux.HandleFunc("/api/v1/users/{userID}/stores", a.requireAuth(a.handleUserStores, domain.RoleBoss))
	mux.HandleFunc("/api/v1/users/{userID}/commission", a.requireAuth(a.handleCommission, domain.RoleBoss))
	mux.HandleFunc("/api/v1/imports/template", a.requireAuth(a.handleImportTemplate, domain.RoleBoss))

	mux.HandleFunc("/api/v1/stores/{storeID}/products", a.requireStore(a.handleProducts, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/products/low-stock", a.requireStore(a.handleLowStock, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/products/{productID}", a.requireStore(a.handleProduct, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/products/{productID}/price", a.requireStore(a.handlePrice, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/products/{productID}/quote", a.requireStore(a.handleQuote, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/products/{productID}/batches", a.requireStore(a.handleBatches, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/products/{productID}/balance", a.requireStore(a.handleBalance, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/batches/sweep", a.requireStore(a.handleSweep, domain.RoleBoss))
	mux.HandleFunc("/api/v1/stores/{storeID}/batches/{batchID}/deplete", a.requireStore(a.handleDeplete, domain.RoleBoss))

	mux.HandleFunc("/api/v1/stores/{storeID}/sales", a.requireStore(a.handleSales, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/sales/{saleID}", a.requireStore(a.handleSale, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/debts", a.requireStore(a.handleDebts, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/debts/{debtID}", a.requireStore(a.handleDebt, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/debts/{debtID}/payments", a.requireStore(a.handleDebtPayment, staff...))
	mux.HandleFunc("/api/v1/stores/{storeID}/debtors/payments", a.requireStore(a.handleDebtorPayment, staff...))

	mux.HandleFunc("/api/v1/stores/{storeID}/costs/business", a.requireStore(a.handleBusinessCost, domain.RoleBoss))
	mux.HandleFunc("/api/v1/stores/{storeID}/costs/system", a.requireStore(a.handleSystemCost, domain.RoleBoss))
	mux.HandleFunc("/api/v1/stores/{storeID}/costs/other", a.requireStore(a.handleOtherPayment, domain.RoleBoss))
	mux.HandleFunc("/api/v1/stores/{storeID}/reports/costs", a.requireStore(a.handleCostReport, domain.RoleBoss))
	mux.HandleFunc("/api/v1/stores/{storeID}/reports/profit", a.requireStore(a.handleProfitReport, domain.RoleBoss))
	mux.HandleFunc("/api/v1/stores/{storeID}/reports/sellers", a.requireStore(a.handleSellerReport, domain.RoleBoss))
	mux.HandleFunc("/api/v1/stores/{storeID}/imports", a.requireStore(a.handleImport, domain.RoleBoss))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !domain.OneOf(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// requireStore authenticates like requireAuth and then checks that the actor
// belongs to the store in the path. A boss's memberships gained after the
// token was issued are looked up live; sellers must sign in again.
func (a *API) requireStore(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := a.pathID(w, r, "storeID")
		if !ok {
			return
		}
		actor, _ := service.ActorFromContext(r.Context())
		if !actor.CanAccessStore(storeID) {
			if actor.Role != domain.RoleBoss {
				a.writeError(w, http.StatusForbidden, errors.New("no access to store"))
				return
			}
			memberships, err := a.service.ListUserStores(r.Context(), actor.UserID)
			if err != nil {
				a.writeServiceError(w, err)
				return
			}
			member := false
			for _, m := range memberships {
				member = member || m.StoreID == storeID
			}
			if !member {
				a.writeError(w, http.StatusForbidden, errors.New("no access to store"))
				return
			}
		}
		next(w, r)
	}, roles...)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStores(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, _ := service.ActorFromContext(r.Context())
		memberships, err := a.service.ListUserStores(r.Context(), actor.UserID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		stores := make([]domain.Store, 0, len(memberships))
		for _, m := range memberships {
			st, err := a.service.GetStore(r.Context(), m.StoreID)
			if err != nil {
				a.writeServiceError(w, err)
				return
			}
			stores = append(stores, st)
		}
		writeJSON(w, http.StatusOK, map[string]any{"stores": stores})
	case http.MethodPost:
		var req domain.StoreCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateStore(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"store": created})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": created})
}

func (a *API) handleUserStores(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.pathID(w, r, "userID")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		memberships, err := a.service.ListUserStores(r.Context(), userID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stores": memberships})
	case http.MethodPost:
		var req struct {
			StoreID int64 `json:"store_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		membership, err := a.service.AddUserToStore(r.Context(), userID, req.StoreID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"membership": membership})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleCommission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		a.writeMethodNotAllowed(w)
		return
	}
	userID, ok := a.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req domain.CommissionSetRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.UserID = userID
	commission, err := a.service.SetCommission(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commission": commission})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	storeID := mustPathID(r, "storeID")
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context(), storeID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.StoreID = storeID
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	products, err := a.service.ListLowStock(r.Context(), mustPathID(r, "storeID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	productID, ok := a.pathID(w, r, "productID")
	if !ok {
		return
	}
	product, err := a.service.GetProduct(r.Context(), mustPathID(r, "storeID"), productID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		a.writeMethodNotAllowed(w)
		return
	}
	productID, ok := a.pathID(w, r, "productID")
	if !ok {
		return
	}
	var req domain.PriceSetRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = mustPathID(r, "storeID")
	req.ProductID = productID
	price, err := a.service.SetPrice(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"price": price})
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	productID, ok := a.pathID(w, r, "productID")
	if !ok {
		return
	}
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("quantity must be a whole number"))
		return
	}
	quote, err := a.service.QuotePrice(r.Context(), mustPathID(r, "storeID"), productID, quantity)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	storeID := mustPathID(r, "storeID")
	productID, ok := a.pathID(w, r, "productID")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		var (
			batches []domain.StockBatch
			err     error
		)
		query := r.URL.Query()
		if query.Get("available") == "true" {
			batches, err = a.service.AvailableBatches(r.Context(), storeID, productID, time.Time{})
		} else {
			batches, err = a.service.ListBatches(r.Context(), storeID, productID, query.Get("include_inactive") == "true")
		}
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
	case http.MethodPost:
		var req domain.BatchReceiveRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.StoreID = storeID
		req.ProductID = productID
		batch, err := a.service.ReceiveBatch(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	productID, ok := a.pathID(w, r, "productID")
	if !ok {
		return
	}
	balance, err := a.service.StockBalance(r.Context(), mustPathID(r, "storeID"), productID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "consistent": balance.Consistent()})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	swept, err := a.service.SweepExpired(r.Context(), mustPathID(r, "storeID"), time.Time{})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": swept})
}

func (a *API) handleDeplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	batchID, ok := a.pathID(w, r, "batchID")
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	batch, err := a.service.DepleteBatch(r.Context(), mustPathID(r, "storeID"), batchID, req.Quantity)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	storeID := mustPathID(r, "storeID")
	switch r.Method {
	case http.MethodGet:
		from, to, ok := a.timeRange(w, r)
		if !ok {
			return
		}
		sales, err := a.service.ListSales(r.Context(), storeID, from, to)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var req domain.SaleRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.StoreID = storeID
		receipt, err := a.service.RecordSale(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	saleID, ok := a.pathID(w, r, "saleID")
	if !ok {
		return
	}
	sale, err := a.service.GetSale(r.Context(), mustPathID(r, "storeID"), saleID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleDebts(w http.ResponseWriter, r *http.Request) {
	storeID := mustPathID(r, "storeID")
	switch r.Method {
	case http.MethodGet:
		debts, err := a.service.ListDebts(r.Context(), storeID, r.URL.Query().Get("open") == "true")
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"debts": debts})
	case http.MethodPost:
		var req domain.DebtRecordRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		// The sale must belong to the store in the path.
		if _, err := a.service.GetSale(r.Context(), storeID, req.SaleID); err != nil {
			a.writeServiceError(w, err)
			return
		}
		debt, err := a.service.RecordDebt(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"debt": debt})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleDebt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	debtID, ok := a.pathID(w, r, "debtID")
	if !ok {
		return
	}
	balance, err := a.service.DebtBalance(r.Context(), mustPathID(r, "storeID"), debtID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debt": balance})
}

func (a *API) handleDebtPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	debtID, ok := a.pathID(w, r, "debtID")
	if !ok {
		return
	}
	var req domain.DebtPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = mustPathID(r, "storeID")
	req.DebtID = debtID
	balance, err := a.service.ApplyPayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"debt": balance})
}

func (a *API) handleDebtorPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.DebtorPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = mustPathID(r, "storeID")
	receipt, err := a.service.PayDebtor(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleBusinessCost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.BusinessCostRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = mustPathID(r, "storeID")
	cost, err := a.service.AddBusinessCost(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cost": cost})
}

func (a *API) handleSystemCost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.SystemCostRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = mustPathID(r, "storeID")
	cost, err := a.service.AddSystemCost(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cost": cost})
}

func (a *API) handleOtherPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.OtherPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = mustPathID(r, "storeID")
	payment, err := a.service.AddOtherPayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": payment})
}

func (a *API) handleCostReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	from, to, ok := a.timeRange(w, r)
	if !ok {
		return
	}
	summary, err := a.service.CostSummary(r.Context(), mustPathID(r, "storeID"), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleProfitReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	from, to, ok := a.timeRange(w, r)
	if !ok {
		return
	}
	summary, err := a.service.ProfitSummary(r.Context(), mustPathID(r, "storeID"), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleSellerReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	from, to, ok := a.timeRange(w, r)
	if !ok {
		return
	}
	sellers, err := a.service.SellerSummary(r.Context(), mustPathID(r, "storeID"), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sellers": sellers})
}

// handleImport accepts a workbook either as the "file" field of a multipart
// form or as the raw request body.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var body io.Reader = r.Body
	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		defer file.Close()
		body = file
	}

	report, err := a.importer.Import(r.Context(), mustPathID(r, "storeID"), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleImportTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if err := importer.Template(&buf); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="stock-import.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.WithFields(logrus.Fields{
			"field":    "httpapi.request",
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(startedAt).String(),
		}).Debug("request served")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// pathID reads a positive numeric path value, writing a 400 when it is not one.
func (a *API) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		a.writeError(w, http.StatusBadRequest, errors.New(name+" must be a positive integer"))
		return 0, false
	}
	return id, true
}

// mustPathID is for values requireStore has already validated.
func mustPathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id
}

// timeRange reads from and to as RFC 3339 timestamps or plain dates. A plain
// "to" date includes that whole day.
func (a *API) timeRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	query := r.URL.Query()
	from, err := parseTimeParam(query.Get("from"), false)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("from must be RFC 3339 or YYYY-MM-DD"))
		return time.Time{}, time.Time{}, false
	}
	to, err := parseTimeParam(query.Get("to"), true)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("to must be RFC 3339 or YYYY-MM-DD"))
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseTimeParam(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrReferentialIntegrity):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrOverPayment):
		status = http.StatusConflict
	case errors.Is(err, store.ErrContention):
		status = http.StatusServiceUnavailable
	}
	a.writeError(w, status, err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log.
	msg := err.Error()
	if status >= 500 {
		a.log.WithFields(logrus.Fields{
			"field":  "httpapi.writeError",
			"status": status,
		}).WithError(err).Error("request failed")
		msg = "internal server error"
		if status == http.StatusServiceUnavailable {
			msg = "store busy, retry"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
