package mappings

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// Repository reads account mappings.
type Repository interface {
	Get(ctx context.Context, companyID int64, module, key string) (AccountMapping, error)
	List(ctx context.Context, companyID int64, module string) ([]AccountMapping, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx mapping repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, companyID int64, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, shared.Invalid("mappings: module and key required")
	}
	mapping := AccountMapping{CompanyID: companyID}
	err := r.db.QueryRow(ctx, `SELECT module, key, account_number, COALESCE(label, ''), updated_at
FROM account_mappings WHERE company_id=$1 AND module=$2 AND key=$3`, companyID, strings.ToUpper(module), key).
		Scan(&mapping.Module, &mapping.Key, &mapping.AccountNumber, &mapping.Label, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, ErrMappingNotFound
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

// List returns every mapping of a module for the company.
func (r *repository) List(ctx context.Context, companyID int64, module string) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT module, key, account_number, COALESCE(label, ''), updated_at
FROM account_mappings WHERE company_id=$1 AND module=$2 ORDER BY key`, companyID, strings.ToUpper(module))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		mapping := AccountMapping{CompanyID: companyID}
		if err := rows.Scan(&mapping.Module, &mapping.Key, &mapping.AccountNumber, &mapping.Label, &mapping.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, mapping)
	}
	return out, rows.Err()
}

// MemoryRepository serves mappings from memory.
type MemoryRepository struct {
	Rows []AccountMapping
}

func (m *MemoryRepository) Get(_ context.Context, companyID int64, module, key string) (AccountMapping, error) {
	for _, row := range m.Rows {
		if row.CompanyID == companyID && strings.EqualFold(row.Module, module) && row.Key == key {
			return row, nil
		}
	}
	return AccountMapping{}, ErrMappingNotFound
}

func (m *MemoryRepository) List(_ context.Context, companyID int64, module string) ([]AccountMapping, error) {
	var out []AccountMapping
	for _, row := range m.Rows {
		if row.CompanyID == companyID && strings.EqualFold(row.Module, module) {
			out = append(out, row)
		}
	}
	return out, nil
}
