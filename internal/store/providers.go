package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Providers reads courier integration settings. The registry loads these at
// startup; nothing in the request path writes them.
type Providers struct {
	DB DBTX
}

const providerColumns = `id, name, adapter_type, credentials, active`

func scanProvider(row pgx.Row) (Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.AdapterType, &p.Credentials, &p.Active)
	return p, err
}

// List returns all configured providers, active and inactive.
func (q Providers) List(ctx context.Context) ([]Provider, error) {
	rows, err := q.DB.Query(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Get returns one provider by id.
func (q Providers) Get(ctx context.Context, id string) (Provider, error) {
	row := q.DB.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	return scanProvider(row)
}
