package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Commit validates the cart, decrements stock and records the sale in
	// one transaction. A repeated (UserID, IdempotencyKey) returns the
	// original receipt without touching stock.
	Commit(ctx context.Context, req CommitRequest) (*Receipt, error)
	GetReceipt(ctx context.Context, tenantID string, saleID snowflake.ID) (*Receipt, error)
}
