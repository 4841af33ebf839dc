package permission

import "context"

// RolePermissionProvider resolves the permission ids assigned to a role.
// A role with no assignments (or an unknown role) yields an empty slice.
type RolePermissionProvider interface {
	PermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
}

// TenantCeilingProvider resolves the permission ids a tenant may use at
// all. An empty result means no ceiling is configured for the tenant.
type TenantCeilingProvider interface {
	GrantedPermissionIDs(ctx context.Context, tenantID int64) ([]int64, error)
}

// UserOverrideProvider resolves per-user grant and revoke adjustments
// layered on top of role and ceiling.
type UserOverrideProvider interface {
	GrantIDs(ctx context.Context, userID int64) ([]int64, error)
	RevokeIDs(ctx context.Context, userID int64) ([]int64, error)
}

// PermissionCatalogProvider resolves the deployment's permission catalog.
// ResolveCodes drops ids that no longer exist in the catalog.
type PermissionCatalogProvider interface {
	ListAll(ctx context.Context) ([]Permission, error)
	ResolveCodes(ctx context.Context, ids []int64) ([]string, error)
}
