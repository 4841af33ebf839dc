package permission

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the four provider interfaces against PostgreSQL.
// It is strictly read-only: the assignment tables are owned by the admin
// flows, the engine only derives projections from them.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a permission repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PermissionIDs returns the permission ids assigned to the role. Unknown
// roles simply have no rows.
func (r *Repository) PermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	const query = `SELECT permission_id FROM role_permissions WHERE role_id = $1`
	return r.queryIDs(ctx, query, roleID)
}

// GrantedPermissionIDs returns the tenant's ceiling grants. No rows means
// the tenant has never been capped.
func (r *Repository) GrantedPermissionIDs(ctx context.Context, tenantID int64) ([]int64, error) {
	const query = `SELECT permission_id FROM tenant_permission_ceilings WHERE tenant_id = $1`
	return r.queryIDs(ctx, query, tenantID)
}

// GrantIDs returns the user's GRANT override ids.
func (r *Repository) GrantIDs(ctx context.Context, userID int64) ([]int64, error) {
	const query = `SELECT permission_id FROM user_permission_overrides WHERE user_id = $1 AND override_type = 'GRANT'`
	return r.queryIDs(ctx, query, userID)
}

// RevokeIDs returns the user's REVOKE override ids.
func (r *Repository) RevokeIDs(ctx context.Context, userID int64) ([]int64, error) {
	const query = `SELECT permission_id FROM user_permission_overrides WHERE user_id = $1 AND override_type = 'REVOKE'`
	return r.queryIDs(ctx, query, userID)
}

// ListAll returns the full permission catalog ordered by code.
func (r *Repository) ListAll(ctx context.Context) ([]Permission, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("permission repo not initialised")
	}
	const query = `SELECT id, code FROM permissions ORDER BY code`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ResolveCodes maps permission ids to codes. Ids missing from the catalog
// fall out of the join and are silently dropped.
func (r *Repository) ResolveCodes(ctx context.Context, ids []int64) ([]string, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("permission repo not initialised")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT code FROM permissions WHERE id = ANY($1) ORDER BY code`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *Repository) queryIDs(ctx context.Context, query string, arg int64) ([]int64, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("permission repo not initialised")
	}
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var (
	_ RolePermissionProvider    = (*Repository)(nil)
	_ TenantCeilingProvider     = (*Repository)(nil)
	_ UserOverrideProvider      = (*Repository)(nil)
	_ PermissionCatalogProvider = (*Repository)(nil)
)
