package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Engine computes the effective permission codes for a subject:
//
//	effective = (role ∩ ceiling) ∪ grants(within ceiling) − revokes
//
// Level 1 is the role's permission set. Level 2 caps it with the tenant
// ceiling when one is configured. Level 3 applies per-user overrides:
// grants stay bounded by the ceiling, revokes always win. Super-admins
// (nil tenant) receive raw role permissions; a tenant owner without a
// role starts from the full catalog instead of a role.
//
// The engine holds no mutable state of its own, so concurrent Compute
// calls are safe. The only shared resource is the Store, and racing
// writers always agree on content because results are deterministic.
type Engine struct {
	roles     RolePermissionProvider
	ceilings  TenantCeilingProvider
	overrides UserOverrideProvider
	catalog   PermissionCatalogProvider
	store     Store
	ttl       time.Duration
	logger    *slog.Logger
	loads     singleflight.Group
}

// EngineConfig collects the engine's collaborators.
type EngineConfig struct {
	Roles     RolePermissionProvider
	Ceilings  TenantCeilingProvider
	Overrides UserOverrideProvider
	Catalog   PermissionCatalogProvider
	Store     Store
	TTL       time.Duration
	Logger    *slog.Logger
}

// NewEngine wires an Engine instance. TTL defaults to DefaultTTL.
func NewEngine(cfg EngineConfig) *Engine {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		roles:     cfg.Roles,
		ceilings:  cfg.Ceilings,
		overrides: cfg.Overrides,
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		ttl:       ttl,
		logger:    logger,
	}
}

// Compute resolves the sorted, deduplicated permission codes the subject
// may exercise. A nil roleID without tenant ownership yields no
// permissions. A nil tenantID marks a super-admin and bypasses ceiling
// and override logic entirely. Only a catalog failure surfaces as an
// error; role, ceiling and override lookups degrade to empty
// contributions so missing reference data never denies the computation
// outright.
func (e *Engine) Compute(ctx context.Context, userID, roleID, tenantID *int64, isTenantOwner bool) ([]string, error) {
	if roleID == nil {
		if isTenantOwner && tenantID != nil {
			return e.computeTenantOwner(ctx, userID, *tenantID)
		}
		return []string{}, nil
	}
	if tenantID == nil {
		return e.RolePermissionCodes(ctx, *roleID)
	}

	if userID != nil {
		if codes, ok := e.cachedCodes(ctx, keyUser.key(*userID)); ok {
			return codes, nil
		}
	}

	roleIDs := e.RolePermissionIDs(ctx, *roleID)
	if len(roleIDs) == 0 {
		return []string{}, nil
	}

	ceil := e.ceilingFor(ctx, *tenantID)
	effective := ceil.Apply(toSet(roleIDs))
	if userID != nil {
		effective = e.applyOverrides(ctx, effective, *userID, ceil)
	}

	codes, err := e.materializeCodes(ctx, effective)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		e.storeCodes(ctx, keyUser.key(*userID), codes)
	}
	return codes, nil
}

// computeTenantOwner resolves permissions for a tenant owner that has no
// explicit role: the candidate base is the entire catalog, still capped
// by the tenant ceiling and adjusted by the owner's overrides.
func (e *Engine) computeTenantOwner(ctx context.Context, userID *int64, tenantID int64) ([]string, error) {
	if userID != nil {
		if codes, ok := e.cachedCodes(ctx, keyUser.key(*userID)); ok {
			return codes, nil
		}
	}

	perms, err := e.catalog.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission: list catalog: %w", err)
	}
	base := make(map[int64]struct{}, len(perms))
	for _, p := range perms {
		base[p.ID] = struct{}{}
	}

	ceil := e.ceilingFor(ctx, tenantID)
	effective := ceil.Apply(base)
	if userID != nil {
		effective = e.applyOverrides(ctx, effective, *userID, ceil)
	}

	codes, err := e.materializeCodes(ctx, effective)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		e.storeCodes(ctx, keyUser.key(*userID), codes)
	}
	return codes, nil
}

// RolePermissionIDs returns the permission ids assigned to the role,
// served from the role sub-cache when possible. Concurrent cold lookups
// for the same role are collapsed into a single provider fetch. Provider
// failures are logged and reported as an empty assignment.
func (e *Engine) RolePermissionIDs(ctx context.Context, roleID int64) []int64 {
	key := keyRole.key(roleID)
	var cached []int64
	ok, err := e.store.Get(ctx, key, &cached)
	if err != nil {
		e.logger.Debug("role permission cache read", slog.Int64("role_id", roleID), slog.Any("error", err))
	} else if ok {
		return cached
	}

	v, err, _ := e.loads.Do(key, func() (any, error) {
		ids, err := e.roles.PermissionIDs(ctx, roleID)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []int64{}
		}
		if err := e.store.Set(ctx, key, ids, e.ttl); err != nil {
			e.logger.Debug("role permission cache write", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
		return ids, nil
	})
	if err != nil {
		e.logger.Warn("load role permissions", slog.Int64("role_id", roleID), slog.Any("error", err))
		return nil
	}
	return v.([]int64)
}

// RolePermissionCodes resolves the role's raw permission codes without
// ceiling or override adjustments. This is the super-admin path.
func (e *Engine) RolePermissionCodes(ctx context.Context, roleID int64) ([]string, error) {
	return e.materializeCodes(ctx, toSet(e.RolePermissionIDs(ctx, roleID)))
}

// ceilingFor resolves the tenant ceiling through its sub-cache. Provider
// failures degrade to an unrestricted ceiling, matching the missing-row
// semantics.
func (e *Engine) ceilingFor(ctx context.Context, tenantID int64) Ceiling {
	key := keyTenantCeiling.key(tenantID)
	var cached []int64
	ok, err := e.store.Get(ctx, key, &cached)
	if err != nil {
		e.logger.Debug("tenant ceiling cache read", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
	} else if ok {
		return NewCeiling(cached)
	}

	v, err, _ := e.loads.Do(key, func() (any, error) {
		ids, err := e.ceilings.GrantedPermissionIDs(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []int64{}
		}
		if err := e.store.Set(ctx, key, ids, e.ttl); err != nil {
			e.logger.Debug("tenant ceiling cache write", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		}
		return ids, nil
	})
	if err != nil {
		e.logger.Warn("load tenant ceiling", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		return Ceiling{}
	}
	return NewCeiling(v.([]int64))
}

// applyOverrides merges the user's grant and revoke sets into the
// effective ids. Grants remain bounded by the ceiling; revokes remove
// unconditionally. When the override lookup fails the step contributes
// nothing rather than applying grants without their revokes.
func (e *Engine) applyOverrides(ctx context.Context, effective map[int64]struct{}, userID int64, ceil Ceiling) map[int64]struct{} {
	var grants, revokes []int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		grants, err = e.overrides.GrantIDs(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		revokes, err = e.overrides.RevokeIDs(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		e.logger.Warn("load user overrides", slog.Int64("user_id", userID), slog.Any("error", err))
		return effective
	}

	for _, id := range grants {
		if ceil.Allows(id) {
			effective[id] = struct{}{}
		}
	}
	for _, id := range revokes {
		delete(effective, id)
	}
	return effective
}

// materializeCodes maps the final id set to catalog codes, dropping ids
// the catalog no longer knows, sorted ascending and deduplicated.
func (e *Engine) materializeCodes(ctx context.Context, ids map[int64]struct{}) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	ordered := make([]int64, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	resolved, err := e.catalog.ResolveCodes(ctx, ordered)
	if err != nil {
		return nil, fmt.Errorf("permission: resolve codes: %w", err)
	}
	codes := make([]string, len(resolved))
	copy(codes, resolved)
	sort.Strings(codes)
	deduped := make([]string, 0, len(codes))
	for i, code := range codes {
		if i > 0 && codes[i-1] == code {
			continue
		}
		deduped = append(deduped, code)
	}
	return deduped, nil
}

// EvictUser drops the cached effective permissions for the user. Admin
// flows call this after mutating the user's overrides.
func (e *Engine) EvictUser(ctx context.Context, userID int64) {
	e.evict(ctx, keyUser.key(userID))
}

// EvictRole drops the role sub-cache entry. Per-user entries of the
// role's members are left to expire within the TTL window.
func (e *Engine) EvictRole(ctx context.Context, roleID int64) {
	e.evict(ctx, keyRole.key(roleID))
}

// EvictTenantCeiling drops the ceiling sub-cache entry for the tenant.
func (e *Engine) EvictTenantCeiling(ctx context.Context, tenantID int64) {
	e.evict(ctx, keyTenantCeiling.key(tenantID))
}

func (e *Engine) evict(ctx context.Context, key string) {
	if err := e.store.Delete(ctx, key); err != nil {
		e.logger.Warn("permission cache evict", slog.String("key", key), slog.Any("error", err))
	}
}

func (e *Engine) cachedCodes(ctx context.Context, key string) ([]string, bool) {
	var codes []string
	ok, err := e.store.Get(ctx, key, &codes)
	if err != nil {
		e.logger.Debug("permission cache read", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return codes, ok
}

func (e *Engine) storeCodes(ctx context.Context, key string, codes []string) {
	if err := e.store.Set(ctx, key, codes, e.ttl); err != nil {
		e.logger.Debug("permission cache write", slog.String("key", key), slog.Any("error", err))
	}
}
