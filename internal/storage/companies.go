package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Company is one row of the hosted company dataset the data-lookup tools
// query. The dataset itself is loaded out of band; this layer only reads it.
type Company struct {
	ID          string  `json:"id"` // tax registry identifier
	Name        string  `json:"name"`
	TradeName   string  `json:"trade_name,omitempty"`
	Province    string  `json:"province,omitempty"`
	Revenue     float64 `json:"revenue"`
	Employees   int     `json:"employees"`
	ContactName string  `json:"contact_name,omitempty"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
}

// SearchCompanies runs a filtered text search over the company dataset.
func (db *DB) SearchCompanies(ctx context.Context, query, province string, minRevenue float64, limit int) ([]Company, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, trade_name, province, revenue, employees, contact_name, email, phone
		 FROM companies
		 WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR trade_name ILIKE '%' || $1 || '%')
		   AND ($2 = '' OR province = $2)
		   AND revenue >= $3
		 ORDER BY revenue DESC
		 LIMIT $4`,
		query, province, minRevenue, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: search companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Name, &c.TradeName, &c.Province, &c.Revenue,
			&c.Employees, &c.ContactName, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("storage: scan company: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCompany looks up one company by registry identifier.
func (db *DB) GetCompany(ctx context.Context, id string) (Company, error) {
	var c Company
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, trade_name, province, revenue, employees, contact_name, email, phone
		 FROM companies WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.TradeName, &c.Province, &c.Revenue,
		&c.Employees, &c.ContactName, &c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrNotFound
		}
		return Company{}, fmt.Errorf("storage: get company: %w", err)
	}
	return c, nil
}
