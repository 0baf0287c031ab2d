package domain

const (
	RoleBoss   = "boss"
	RoleSeller = "seller"
)

const (
	PaymentCash  = "CASH"
	PaymentMpesa = "MPESA"
	PaymentBank  = "BANK"
	PaymentDebt  = "DEBT"
	PaymentOther = "OTHER"
)

const (
	BusinessRetail    = "retail"
	BusinessWholesale = "wholesale"
	BusinessBoth      = "both"
)

const (
	FrequencyOneTime = "one_time"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"
)

// Outbox entity names match the table names of the SQL backends.
const (
	EntityStore         = "stores"
	EntityUser          = "users"
	EntityUserStore     = "user_stores"
	EntityCommission    = "user_commissions"
	EntityProduct       = "products"
	EntityPrice         = "store_product_prices"
	EntityBatch         = "stock_batches"
	EntitySale          = "sales"
	EntitySaleItem      = "sale_items"
	EntityAllocation    = "sale_batch_allocations"
	EntityDebt          = "debts"
	EntityDebtPayment   = "debt_payments"
	EntityBusinessCost  = "business_costs"
	EntitySystemCost    = "system_costs"
	EntityOtherPayment  = "other_payments"
	OutboxOpInsert      = "insert"
	OutboxOpUpdate      = "update"
	DefaultLowThreshold = 5
)

var (
	PaymentMethods    = []string{PaymentCash, PaymentMpesa, PaymentBank, PaymentDebt, PaymentOther}
	BusinessTypes     = []string{BusinessRetail, BusinessWholesale, BusinessBoth}
	CostCategories    = []string{"rent", "electricity", "loan_interest", "storage", "marketing", "insurance", "other"}
	SystemCostTypes   = []string{"pos_license", "software_fee", "maintenance", "internet", "other"}
	CostFrequencies   = []string{FrequencyOneTime, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly}
	SalaryFrequencies = []string{FrequencyDaily, FrequencyWeekly, FrequencyMonthly}
	SyncedEntities    = []string{EntityStore, EntityUser, EntityUserStore, EntityCommission, EntityProduct, EntityPrice, EntityBatch, EntitySale, EntitySaleItem, EntityAllocation, EntityDebt, EntityDebtPayment, EntityBusinessCost, EntitySystemCost, EntityOtherPayment}
)

func OneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == value {
			return true
		}
	}
	return false
}
