package sqlite

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		middle_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL,
		password TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('boss', 'seller')),
		email TEXT UNIQUE,
		whatsapp_number TEXT NOT NULL DEFAULT '',
		current_store_id INTEGER,
		current_store_code TEXT,
		salary_amount REAL NOT NULL DEFAULT 0 CHECK (salary_amount >= 0),
		salary_frequency TEXT NOT NULL DEFAULT 'monthly' CHECK (salary_frequency IN ('daily', 'weekly', 'monthly')),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL DEFAULT '',
		business_type TEXT NOT NULL CHECK (business_type IN ('retail', 'wholesale', 'both')),
		owner_id INTEGER REFERENCES users(id),
		country TEXT NOT NULL DEFAULT '',
		currency_code TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL,
		has_boss BOOLEAN NOT NULL DEFAULT FALSE,
		next_product_seq INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS user_stores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL REFERENCES stores(store_code),
		synced BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (user_id, store_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_commissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		commission_rate REAL NOT NULL CHECK (commission_rate >= 0 AND commission_rate <= 1),
		commission_frequency TEXT NOT NULL CHECK (commission_frequency IN ('one_time', 'daily', 'weekly', 'monthly', 'yearly')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expiry_date DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL REFERENCES stores(store_code),
		sequence_number INTEGER NOT NULL,
		stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		parent_product_id INTEGER REFERENCES products(id),
		relation_to_parent INTEGER CHECK (relation_to_parent IS NULL OR relation_to_parent >= 1),
		low_stock_threshold INTEGER NOT NULL DEFAULT 5 CHECK (low_stock_threshold >= 0),
		unit TEXT NOT NULL DEFAULT '',
		big_unit TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (store_id, name),
		UNIQUE (store_code, sequence_number)
	)`,
	`CREATE TABLE IF NOT EXISTS store_product_prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		product_code TEXT NOT NULL,
		retail_price REAL NOT NULL CHECK (retail_price > 0),
		wholesale_price REAL NOT NULL CHECK (wholesale_price > 0),
		wholesale_threshold INTEGER NOT NULL DEFAULT 1 CHECK (wholesale_threshold >= 1),
		synced BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (store_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		product_code TEXT NOT NULL,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		original_quantity INTEGER NOT NULL CHECK (original_quantity >= 1),
		buying_price REAL NOT NULL CHECK (buying_price > 0),
		shipping_cost REAL NOT NULL DEFAULT 0 CHECK (shipping_cost >= 0),
		handling_cost REAL NOT NULL DEFAULT 0 CHECK (handling_cost >= 0),
		landed_cost REAL GENERATED ALWAYS AS (buying_price + shipping_cost + handling_cost) VIRTUAL,
		received_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expiry_date DATE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_batches_fifo ON stock_batches (product_id, is_active, received_date, id)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		total_price REAL NOT NULL CHECK (total_price > 0),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('CASH', 'MPESA', 'BANK', 'DEBT', 'OTHER')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_store_created ON sales (store_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		product_code TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price REAL NOT NULL CHECK (unit_price > 0),
		is_wholesale BOOLEAN NOT NULL DEFAULT FALSE,
		cost_price REAL NOT NULL,
		profit REAL GENERATED ALWAYS AS (unit_price - cost_price) VIRTUAL,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS sale_batch_allocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		sale_item_id INTEGER NOT NULL REFERENCES sale_items(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		batch_id INTEGER NOT NULL REFERENCES stock_batches(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		allocated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS debts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL UNIQUE REFERENCES sales(id),
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		debtor_name TEXT NOT NULL,
		debtor_phone TEXT NOT NULL,
		amount_owed REAL NOT NULL CHECK (amount_owed > 0),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_debts_debtor ON debts (store_id, debtor_phone)`,
	`CREATE TABLE IF NOT EXISTS debt_payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		debt_id INTEGER NOT NULL REFERENCES debts(id),
		amount REAL NOT NULL CHECK (amount > 0),
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS business_costs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL,
		cost_category TEXT NOT NULL CHECK (cost_category IN ('rent', 'electricity', 'loan_interest', 'storage', 'marketing', 'insurance', 'other')),
		description TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL CHECK (amount > 0),
		cost_date DATETIME NOT NULL,
		frequency TEXT NOT NULL CHECK (frequency IN ('one_time', 'daily', 'weekly', 'monthly', 'yearly')),
		recurring_end_date DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS system_costs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL,
		cost_type TEXT NOT NULL CHECK (cost_type IN ('pos_license', 'software_fee', 'maintenance', 'internet', 'other')),
		description TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL CHECK (amount > 0),
		frequency TEXT NOT NULL CHECK (frequency IN ('one_time', 'daily', 'weekly', 'monthly', 'yearly')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS other_payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER REFERENCES sales(id),
		store_id INTEGER NOT NULL REFERENCES stores(id),
		store_code TEXT NOT NULL,
		description TEXT NOT NULL,
		payment_type TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL CHECK (amount > 0),
		payment_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		recipient TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL,
		entity TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		op TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		published_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events (id) WHERE published_at IS NULL`,
}
