// Package testsupport holds fixtures shared by package tests that need the
// full order and payment schema on SQLite.
package testsupport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE branches (
		id INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE tenant_members (
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME,
		PRIMARY KEY (tenant_id, user_id)
	)`,
	`CREATE TABLE products (
		id INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		deleted_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE pending_payments (
		id INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT,
		provider TEXT NOT NULL DEFAULT 'mpesa',
		phone_number TEXT NOT NULL,
		amount INTEGER NOT NULL,
		merchant_request_id TEXT NOT NULL,
		checkout_request_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		receipt_number TEXT,
		result_code INTEGER,
		message TEXT NOT NULL DEFAULT '',
		cart_snapshot TEXT NOT NULL,
		sale_id INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		resolved_at DATETIME
	)`,
	`CREATE TABLE sales (
		id INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		branch_id INTEGER,
		user_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		discount TEXT NOT NULL,
		vat_amount TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		amount_received TEXT NOT NULL,
		change_amount TEXT NOT NULL,
		customer_name TEXT,
		customer_phone TEXT,
		pending_payment_id INTEGER UNIQUE,
		mpesa_receipt TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE (user_id, idempotency_key)
	)`,
	`CREATE TABLE sale_items (
		id INTEGER PRIMARY KEY,
		sale_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL
	)`,
	`CREATE TABLE payment_callbacks (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		checkout_request_id TEXT NOT NULL,
		result_code INTEGER NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		outcome TEXT
	)`,
	`CREATE TABLE payment_reconciliation_items (
		id INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		pending_payment_id INTEGER NOT NULL UNIQUE,
		checkout_request_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		receipt_number TEXT,
		phone_number TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		resolution_note TEXT,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME
	)`,
	`CREATE TABLE payment_provider_configs (
		id INTEGER PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		config TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (tenant_id, provider)
	)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		tenant_id TEXT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// NewDB opens an isolated in-memory database with the full schema. A single
// connection serializes transactions the way row locks do on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:tillpoint_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// SeedProduct inserts a live product and returns its id.
func SeedProduct(t *testing.T, db *gorm.DB, node *snowflake.Node, tenantID, name, price string, stock int) snowflake.ID {
	t.Helper()
	id := node.Generate()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO products (id, tenant_id, name, price, stock, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, tenantID, name, decimal.RequireFromString(price), stock, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return id
}

func SeedBranch(t *testing.T, db *gorm.DB, node *snowflake.Node, tenantID, name string) snowflake.ID {
	t.Helper()
	id := node.Generate()
	if err := db.Exec(`INSERT INTO branches (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)`,
		id, tenantID, name, time.Now().UTC()).Error; err != nil {
		t.Fatalf("seed branch: %v", err)
	}
	return id
}

func SeedMember(t *testing.T, db *gorm.DB, tenantID, userID, role string) {
	t.Helper()
	if err := db.Exec(`INSERT INTO tenant_members (tenant_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		tenantID, userID, role, time.Now().UTC()).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}
}

func Stock(t *testing.T, db *gorm.DB, productID snowflake.ID) int {
	t.Helper()
	var stock int
	if err := db.Raw(`SELECT stock FROM products WHERE id = ?`, productID).Scan(&stock).Error; err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return stock
}

func Count(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	if err := db.Raw("SELECT COUNT(1) FROM " + table).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

// AgePendingPayment moves a pending payment's creation time into the past so
// sweeps can pick it up without sleeping.
func AgePendingPayment(ctx context.Context, db *gorm.DB, checkoutRequestID string, age time.Duration) error {
	return db.WithContext(ctx).Exec(
		`UPDATE pending_payments SET created_at = ? WHERE checkout_request_id = ?`,
		time.Now().UTC().Add(-age), checkoutRequestID,
	).Error
}
