package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Store struct {
	ID             int64     `json:"id" db:"id"`
	StoreCode      string    `json:"store_code" db:"store_code"`
	Name           string    `json:"name" db:"name"`
	Location       string    `json:"location" db:"location"`
	BusinessType   string    `json:"business_type" db:"business_type"`
	OwnerID        *int64    `json:"owner_id,omitempty" db:"owner_id"`
	Country        string    `json:"country" db:"country"`
	CurrencyCode   string    `json:"currency_code" db:"currency_code"`
	Symbol         string    `json:"symbol" db:"symbol"`
	Password       string    `json:"-" db:"password"`
	HasBoss        bool      `json:"has_boss" db:"has_boss"`
	NextProductSeq int       `json:"-" db:"next_product_seq"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	Synced         bool      `json:"synced" db:"synced"`
}

type StoreCreateRequest struct {
	Name         string `json:"name"`
	Location     string `json:"location"`
	BusinessType string `json:"business_type"`
	OwnerID      *int64 `json:"owner_id,omitempty"`
	Country      string `json:"country"`
	CurrencyCode string `json:"currency_code"`
	Symbol       string `json:"symbol"`
	PIN          string `json:"pin"`
}

type User struct {
	ID               int64           `json:"id" db:"id"`
	Username         string          `json:"username" db:"username"`
	FirstName        string          `json:"first_name" db:"first_name"`
	MiddleName       string          `json:"middle_name,omitempty" db:"middle_name"`
	LastName         string          `json:"last_name" db:"last_name"`
	Password         string          `json:"-" db:"password"`
	Role             string          `json:"role" db:"role"`
	Email            *string         `json:"email,omitempty" db:"email"`
	WhatsappNumber   string          `json:"whatsapp_number,omitempty" db:"whatsapp_number"`
	CurrentStoreID   *int64          `json:"current_store_id,omitempty" db:"current_store_id"`
	CurrentStoreCode *string         `json:"current_store_code,omitempty" db:"current_store_code"`
	SalaryAmount     decimal.Decimal `json:"salary_amount" db:"salary_amount"`
	SalaryFrequency  string          `json:"salary_frequency" db:"salary_frequency"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	Synced           bool            `json:"synced" db:"synced"`
}

type UserCreateRequest struct {
	Username        string          `json:"username"`
	FirstName       string          `json:"first_name"`
	MiddleName      string          `json:"middle_name"`
	LastName        string          `json:"last_name"`
	Password        string          `json:"password"`
	Role            string          `json:"role"`
	Email           string          `json:"email"`
	WhatsappNumber  string          `json:"whatsapp_number"`
	StoreID         int64           `json:"store_id"`
	SalaryAmount    decimal.Decimal `json:"salary_amount"`
	SalaryFrequency string          `json:"salary_frequency"`
}

type UserStore struct {
	ID        int64  `json:"id" db:"id"`
	UserID    int64  `json:"user_id" db:"user_id"`
	StoreID   int64  `json:"store_id" db:"store_id"`
	StoreCode string `json:"store_code" db:"store_code"`
	Synced    bool   `json:"synced" db:"synced"`
}

type UserCommission struct {
	ID         int64           `json:"id" db:"id"`
	UserID     int64           `json:"user_id" db:"user_id"`
	Rate       decimal.Decimal `json:"commission_rate" db:"commission_rate"`
	Frequency  string          `json:"commission_frequency" db:"commission_frequency"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty" db:"expiry_date"`
	IsActive   bool            `json:"is_active" db:"is_active"`
	Synced     bool            `json:"synced" db:"synced"`
}

// ActiveAt reports whether the commission applies on the given instant.
func (c UserCommission) ActiveAt(at time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.ExpiryDate != nil && c.ExpiryDate.Before(at) {
		return false
	}
	return !c.CreatedAt.After(at)
}

type CommissionSetRequest struct {
	UserID     int64           `json:"user_id"`
	Rate       decimal.Decimal `json:"commission_rate"`
	Frequency  string          `json:"commission_frequency"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

type Product struct {
	ID                int64     `json:"id" db:"id"`
	ProductCode       string    `json:"product_code" db:"product_code"`
	Name              string    `json:"name" db:"name"`
	StoreID           int64     `json:"store_id" db:"store_id"`
	StoreCode         string    `json:"store_code" db:"store_code"`
	SequenceNumber    int       `json:"sequence_number" db:"sequence_number"`
	StockQuantity     int       `json:"stock_quantity" db:"stock_quantity"`
	ParentProductID   *int64    `json:"parent_product_id,omitempty" db:"parent_product_id"`
	RelationToParent  *int      `json:"relation_to_parent,omitempty" db:"relation_to_parent"`
	LowStockThreshold int       `json:"low_stock_threshold" db:"low_stock_threshold"`
	Unit              string    `json:"unit" db:"unit"`
	BigUnit           string    `json:"big_unit" db:"big_unit"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
	Synced            bool      `json:"synced" db:"synced"`
}

func (p Product) LowStock() bool {
	return p.StockQuantity <= p.LowStockThreshold
}

type ProductCreateRequest struct {
	StoreID           int64  `json:"store_id"`
	Name              string `json:"name"`
	ParentProductID   *int64 `json:"parent_product_id,omitempty"`
	RelationToParent  *int   `json:"relation_to_parent,omitempty"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	Unit              string `json:"unit"`
	BigUnit           string `json:"big_unit"`
}

type StorePrice struct {
	ID                 int64           `json:"id" db:"id"`
	StoreID            int64           `json:"store_id" db:"store_id"`
	ProductID          int64           `json:"product_id" db:"product_id"`
	ProductCode        string          `json:"product_code" db:"product_code"`
	RetailPrice        decimal.Decimal `json:"retail_price" db:"retail_price"`
	WholesalePrice     decimal.Decimal `json:"wholesale_price" db:"wholesale_price"`
	WholesaleThreshold int             `json:"wholesale_threshold" db:"wholesale_threshold"`
	Synced             bool            `json:"synced" db:"synced"`
}

// QualifiesForWholesale reports whether qty reaches the wholesale tier.
func (p StorePrice) QualifiesForWholesale(qty int) bool {
	return p.WholesaleThreshold > 0 && qty >= p.WholesaleThreshold
}

type PriceSetRequest struct {
	StoreID            int64           `json:"store_id"`
	ProductID          int64           `json:"product_id"`
	RetailPrice        decimal.Decimal `json:"retail_price"`
	WholesalePrice     decimal.Decimal `json:"wholesale_price"`
	WholesaleThreshold int             `json:"wholesale_threshold"`
}

type PriceQuote struct {
	StoreID     int64           `json:"store_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	IsWholesale bool            `json:"is_wholesale"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type StockBatch struct {
	ID               int64           `json:"id" db:"id"`
	ProductID        int64           `json:"product_id" db:"product_id"`
	ProductCode      string          `json:"product_code" db:"product_code"`
	StoreID          int64           `json:"store_id" db:"store_id"`
	StoreCode        string          `json:"store_code" db:"store_code"`
	BatchNumber      string          `json:"batch_number" db:"batch_number"`
	Quantity         int             `json:"quantity" db:"quantity"`
	OriginalQuantity int             `json:"original_quantity" db:"original_quantity"`
	BuyingPrice      decimal.Decimal `json:"buying_price" db:"buying_price"`
	ShippingCost     decimal.Decimal `json:"shipping_cost" db:"shipping_cost"`
	HandlingCost     decimal.Decimal `json:"handling_cost" db:"handling_cost"`
	ReceivedDate     time.Time       `json:"received_date" db:"received_date"`
	ExpiryDate       *time.Time      `json:"expiry_date,omitempty" db:"expiry_date"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	Synced           bool            `json:"synced" db:"synced"`
}

// LandedCost is buying price plus shipping and handling. It is always derived.
func (b StockBatch) LandedCost() decimal.Decimal {
	return b.BuyingPrice.Add(b.ShippingCost).Add(b.HandlingCost)
}

// ExpiredAt reports whether the batch is past its expiry on the given day.
// The expiry day itself is still sellable.
func (b StockBatch) ExpiredAt(asOf time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return DateUTC(*b.ExpiryDate).Before(DateUTC(asOf))
}

func (b StockBatch) MarshalJSON() ([]byte, error) {
	type batchAlias StockBatch
	return json.Marshal(struct {
		batchAlias
		LandedCost decimal.Decimal `json:"landed_cost"`
	}{batchAlias(b), b.LandedCost()})
}

type BatchReceiveRequest struct {
	StoreID      int64           `json:"store_id"`
	ProductID    int64           `json:"product_id"`
	BatchNumber  string          `json:"batch_number"`
	Quantity     int             `json:"quantity"`
	BuyingPrice  decimal.Decimal `json:"buying_price"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	HandlingCost decimal.Decimal `json:"handling_cost"`
	ReceivedDate *time.Time      `json:"received_date,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
}

type StockBalance struct {
	ProductID     int64 `json:"product_id"`
	StockQuantity int   `json:"stock_quantity"`
	BatchQuantity int   `json:"batch_quantity"`
}

func (b StockBalance) Consistent() bool {
	return b.StockQuantity == b.BatchQuantity
}

type Sale struct {
	ID            int64           `json:"id" db:"id"`
	StoreID       int64           `json:"store_id" db:"store_id"`
	StoreCode     string          `json:"store_code" db:"store_code"`
	UserID        int64           `json:"user_id" db:"user_id"`
	TotalPrice    decimal.Decimal `json:"total_price" db:"total_price"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Synced        bool            `json:"synced" db:"synced"`
	Items         []SaleItem      `json:"items" db:"-"`
}

type SaleItem struct {
	ID          int64                 `json:"id" db:"id"`
	SaleID      int64                 `json:"sale_id" db:"sale_id"`
	ProductID   int64                 `json:"product_id" db:"product_id"`
	ProductCode string                `json:"product_code" db:"product_code"`
	Quantity    int                   `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal       `json:"unit_price" db:"unit_price"`
	IsWholesale bool                  `json:"is_wholesale" db:"is_wholesale"`
	CostPrice   decimal.Decimal       `json:"cost_price" db:"cost_price"`
	Synced      bool                  `json:"synced" db:"synced"`
	Allocations []SaleBatchAllocation `json:"allocations" db:"-"`
}

// Profit is the per-unit margin: unit price minus the blended cost price.
func (i SaleItem) Profit() decimal.Decimal {
	return i.UnitPrice.Sub(i.CostPrice)
}

func (i SaleItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i SaleItem) MarshalJSON() ([]byte, error) {
	type itemAlias SaleItem
	return json.Marshal(struct {
		itemAlias
		Profit decimal.Decimal `json:"profit"`
	}{itemAlias(i), i.Profit()})
}

type SaleBatchAllocation struct {
	ID          int64     `json:"id" db:"id"`
	SaleID      int64     `json:"sale_id" db:"sale_id"`
	SaleItemID  int64     `json:"sale_item_id" db:"sale_item_id"`
	ProductID   int64     `json:"product_id" db:"product_id"`
	BatchID     int64     `json:"batch_id" db:"batch_id"`
	Quantity    int       `json:"quantity" db:"quantity"`
	AllocatedAt time.Time `json:"allocated_at" db:"allocated_at"`
	Synced      bool      `json:"synced" db:"synced"`
}

type SaleLineRequest struct {
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	IsWholesale bool            `json:"is_wholesale"`
}

type Debtor struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type SaleRequest struct {
	StoreID       int64             `json:"store_id"`
	UserID        int64             `json:"user_id"`
	PaymentMethod string            `json:"payment_method"`
	Lines         []SaleLineRequest `json:"lines"`
	Debtor        *Debtor           `json:"debtor,omitempty"`
	OtherPayment  string            `json:"other_payment_description,omitempty"`
}

type SaleReceipt struct {
	Sale         Sale          `json:"sale"`
	Debt         *Debt         `json:"debt,omitempty"`
	OtherPayment *OtherPayment `json:"other_payment,omitempty"`
	Attempts     int           `json:"attempts"`
}

type Debt struct {
	ID          int64           `json:"id" db:"id"`
	SaleID      int64           `json:"sale_id" db:"sale_id"`
	StoreID     int64           `json:"store_id" db:"store_id"`
	StoreCode   string          `json:"store_code" db:"store_code"`
	UserID      int64           `json:"user_id" db:"user_id"`
	DebtorName  string          `json:"debtor_name" db:"debtor_name"`
	DebtorPhone string          `json:"debtor_phone" db:"debtor_phone"`
	AmountOwed  decimal.Decimal `json:"amount_owed" db:"amount_owed"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Synced      bool            `json:"synced" db:"synced"`
}

type DebtRecordRequest struct {
	SaleID      int64           `json:"sale_id"`
	DebtorName  string          `json:"debtor_name"`
	DebtorPhone string          `json:"debtor_phone"`
	AmountOwed  decimal.Decimal `json:"amount_owed"`
}

type DebtPayment struct {
	ID        int64           `json:"id" db:"id"`
	DebtID    int64           `json:"debt_id" db:"debt_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	StoreID   int64           `json:"store_id" db:"store_id"`
	StoreCode string          `json:"store_code" db:"store_code"`
	UserID    int64           `json:"user_id" db:"user_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	Synced    bool            `json:"synced" db:"synced"`
}

type DebtPaymentRequest struct {
	StoreID int64           `json:"store_id"`
	DebtID  int64           `json:"debt_id"`
	UserID  int64           `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type DebtBalance struct {
	Debt      Debt            `json:"debt"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

type DebtorPaymentRequest struct {
	StoreID     int64           `json:"store_id"`
	UserID      int64           `json:"user_id"`
	DebtorName  string          `json:"debtor_name"`
	DebtorPhone string          `json:"debtor_phone"`
	Amount      decimal.Decimal `json:"amount"`
}

// DebtorPaymentReceipt lists one payment per debt touched, oldest debt first.
type DebtorPaymentReceipt struct {
	Payments  []DebtPayment   `json:"payments"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

type BusinessCost struct {
	ID               int64           `json:"id" db:"id"`
	StoreID          int64           `json:"store_id" db:"store_id"`
	StoreCode        string          `json:"store_code" db:"store_code"`
	Category         string          `json:"cost_category" db:"cost_category"`
	Description      string          `json:"description" db:"description"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	CostDate         time.Time       `json:"cost_date" db:"cost_date"`
	Frequency        string          `json:"frequency" db:"frequency"`
	RecurringEndDate *time.Time      `json:"recurring_end_date,omitempty" db:"recurring_end_date"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	Synced           bool            `json:"synced" db:"synced"`
}

type BusinessCostRequest struct {
	StoreID          int64           `json:"store_id"`
	Category         string          `json:"cost_category"`
	Description      string          `json:"description"`
	Amount           decimal.Decimal `json:"amount"`
	CostDate         *time.Time      `json:"cost_date,omitempty"`
	Frequency        string          `json:"frequency"`
	RecurringEndDate *time.Time      `json:"recurring_end_date,omitempty"`
}

type SystemCost struct {
	ID          int64           `json:"id" db:"id"`
	StoreID     int64           `json:"store_id" db:"store_id"`
	StoreCode   string          `json:"store_code" db:"store_code"`
	CostType    string          `json:"cost_type" db:"cost_type"`
	Description string          `json:"description" db:"description"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Frequency   string          `json:"frequency" db:"frequency"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Synced      bool            `json:"synced" db:"synced"`
}

type SystemCostRequest struct {
	StoreID     int64           `json:"store_id"`
	CostType    string          `json:"cost_type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Frequency   string          `json:"frequency"`
}

type OtherPayment struct {
	ID          int64           `json:"id" db:"id"`
	SaleID      *int64          `json:"sale_id,omitempty" db:"sale_id"`
	StoreID     int64           `json:"store_id" db:"store_id"`
	StoreCode   string          `json:"store_code" db:"store_code"`
	Description string          `json:"description" db:"description"`
	PaymentType string          `json:"payment_type" db:"payment_type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	PaymentDate time.Time       `json:"payment_date" db:"payment_date"`
	Recipient   string          `json:"recipient,omitempty" db:"recipient"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Synced      bool            `json:"synced" db:"synced"`
}

type OtherPaymentRequest struct {
	StoreID     int64           `json:"store_id"`
	Description string          `json:"description"`
	PaymentType string          `json:"payment_type"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate *time.Time      `json:"payment_date,omitempty"`
	Recipient   string          `json:"recipient"`
}

type CostSummary struct {
	StoreID       int64                      `json:"store_id"`
	From          time.Time                  `json:"from"`
	To            time.Time                  `json:"to"`
	BusinessCosts map[string]decimal.Decimal `json:"business_costs"`
	SystemCosts   map[string]decimal.Decimal `json:"system_costs"`
	OtherPayments map[string]decimal.Decimal `json:"other_payments"`
	Total         decimal.Decimal            `json:"total_all_costs"`
}

type ProfitSummary struct {
	StoreID        int64           `json:"store_id"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	Sales          int             `json:"sales"`
	Revenue        decimal.Decimal `json:"revenue"`
	CostOfGoods    decimal.Decimal `json:"cost_of_goods"`
	GrossProfit    decimal.Decimal `json:"gross_profit"`
	OperatingCosts decimal.Decimal `json:"operating_costs"`
	NetProfit      decimal.Decimal `json:"net_profit"`
}

type SellerSummary struct {
	UserID          int64           `json:"user_id"`
	Username        string          `json:"username"`
	Sales           int             `json:"sales"`
	Revenue         decimal.Decimal `json:"revenue"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	CommissionDue   decimal.Decimal `json:"commission_due"`
	SalaryAmount    decimal.Decimal `json:"salary_amount"`
	SalaryFrequency string          `json:"salary_frequency"`
}

// OutboxEvent is one append-only change record consumed by the sync relay.
type OutboxEvent struct {
	ID          int64      `json:"id" db:"id"`
	StoreID     int64      `json:"store_id" db:"store_id"`
	Entity      string     `json:"entity" db:"entity"`
	EntityID    int64      `json:"entity_id" db:"entity_id"`
	Op          string     `json:"op" db:"op"`
	Payload     string     `json:"payload" db:"payload"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
}

type Actor struct {
	UserID   int64
	Username string
	Role     string
	StoreIDs []int64
}

func (a Actor) CanAccessStore(storeID int64) bool {
	for _, id := range a.StoreIDs {
		if id == storeID {
			return true
		}
	}
	return false
}

type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	StoreCode string `json:"store_code,omitempty"`
	StorePIN  string `json:"store_pin,omitempty"`
}

type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	Role        string  `json:"role"`
	StoreIDs    []int64 `json:"store_ids"`
	ExpiresAt   string  `json:"expires_at"`
}

func DateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
