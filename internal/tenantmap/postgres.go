package tenantmap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx PostgreSQL driver as "pgx"
)

// Postgres is a Backend stored in a PostgreSQL table, for deployments where
// several instances must share one tenant index map. The bijection is
// enforced both by constraints and transactionally at write time.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects to connStr, verifies the connection, and creates the
// mapping table if needed.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS tenant_index (
		idx INTEGER PRIMARY KEY,
		tenant TEXT NOT NULL UNIQUE
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Set binds tenant to index inside one transaction.
func (p *Postgres) Set(ctx context.Context, tenant string, index int, overwrite bool) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var oldIndex int
	err = tx.QueryRowContext(ctx, `SELECT idx FROM tenant_index WHERE tenant = $1`, tenant).Scan(&oldIndex)
	switch {
	case err == nil:
		if oldIndex == index {
			return tx.Commit()
		}
		if !overwrite {
			return conflictTenantBound(tenant, oldIndex)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_index WHERE tenant = $1`, tenant); err != nil {
			return err
		}
	case err != sql.ErrNoRows:
		return err
	}

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT tenant FROM tenant_index WHERE idx = $1`, index).Scan(&existing)
	switch {
	case err == nil:
		if !overwrite {
			return conflictIndexBound(index, existing)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_index WHERE idx = $1`, index); err != nil {
			return err
		}
	case err != sql.ErrNoRows:
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO tenant_index (idx, tenant) VALUES ($1, $2)`, index, tenant); err != nil {
		return err
	}
	return tx.Commit()
}

// GetByIndex resolves an index to a tenant name.
func (p *Postgres) GetByIndex(ctx context.Context, index int) (string, bool, error) {
	var tenant string
	err := p.db.QueryRowContext(ctx, `SELECT tenant FROM tenant_index WHERE idx = $1`, index).Scan(&tenant)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tenant, true, nil
}

// GetByTenant resolves a tenant name to its index.
func (p *Postgres) GetByTenant(ctx context.Context, tenant string) (int, bool, error) {
	var index int
	err := p.db.QueryRowContext(ctx, `SELECT idx FROM tenant_index WHERE tenant = $1`, tenant).Scan(&index)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return index, true, nil
}

// List returns the full mapping.
func (p *Postgres) List(ctx context.Context) (map[int]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT idx, tenant FROM tenant_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]string{}
	for rows.Next() {
		var index int
		var tenant string
		if err := rows.Scan(&index, &tenant); err != nil {
			return nil, err
		}
		out[index] = tenant
	}
	return out, rows.Err()
}
