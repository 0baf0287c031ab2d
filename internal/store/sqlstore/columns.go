package sqlstore

import "strings"

const (
	storeColumns        = `id, store_code, name, location, business_type, owner_id, country, currency_code, symbol, password, has_boss, next_product_seq, created_at, synced`
	userColumns         = `id, username, first_name, middle_name, last_name, password, role, email, whatsapp_number, current_store_id, current_store_code, salary_amount, salary_frequency, is_active, created_at, synced`
	commissionColumns   = `id, user_id, commission_rate, commission_frequency, created_at, expiry_date, is_active, synced`
	productColumns      = `id, product_code, name, store_id, store_code, sequence_number, stock_quantity, parent_product_id, relation_to_parent, low_stock_threshold, unit, big_unit, created_at, updated_at, synced`
	priceColumns        = `id, store_id, product_id, product_code, retail_price, wholesale_price, wholesale_threshold, synced`
	batchColumns        = `id, product_id, product_code, store_id, store_code, batch_number, quantity, original_quantity, buying_price, shipping_cost, handling_cost, received_date, expiry_date, is_active, synced`
	saleColumns         = `id, store_id, store_code, user_id, total_price, payment_method, created_at, synced`
	saleItemColumns     = `id, sale_id, product_id, product_code, quantity, unit_price, is_wholesale, cost_price, synced`
	allocationColumns   = `id, sale_id, sale_item_id, product_id, batch_id, quantity, allocated_at, synced`
	debtColumns         = `id, sale_id, store_id, store_code, user_id, debtor_name, debtor_phone, amount_owed, created_at, synced`
	debtPaymentColumns  = `id, debt_id, amount, store_id, store_code, user_id, created_at, synced`
	businessCostColumns = `id, store_id, store_code, cost_category, description, amount, cost_date, frequency, recurring_end_date, created_at, synced`
	systemCostColumns   = `id, store_id, store_code, cost_type, description, amount, frequency, created_at, synced`
	otherPaymentColumns = `id, sale_id, store_id, store_code, description, payment_type, amount, payment_date, recipient, created_at, synced`
)

func prefixed(alias string, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// insertColumns drops the surrogate key so the engine assigns it.
func insertColumns(columns string) (string, string) {
	parts := strings.Split(columns, ",")
	names := make([]string, 0, len(parts))
	params := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name == "id" {
			continue
		}
		names = append(names, name)
		params = append(params, ":"+name)
	}
	return strings.Join(names, ", "), strings.Join(params, ", ")
}

func insertStatement(table string, columns string) string {
	names, params := insertColumns(columns)
	return `INSERT INTO ` + table + ` (` + names + `) VALUES (` + params + `) RETURNING id`
}
