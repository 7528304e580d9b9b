package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles the row stores over a single connection source.
type Queries struct {
	Shipments Shipments
	Orders    Orders
	COD       COD
	Providers Providers
	Events    Events
}

// New builds the query bundle on top of the provided connection source.
func New(db DBTX) *Queries {
	return &Queries{
		Shipments: Shipments{DB: db},
		Orders:    Orders{DB: db},
		COD:       COD{DB: db},
		Providers: Providers{DB: db},
		Events:    Events{DB: db},
	}
}
