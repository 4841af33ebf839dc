package permission

// Permission is an atomic, named capability a subject may be authorized to
// use. Code is the externally meaningful identifier; ID is the internal
// join key used by the assignment tables.
type Permission struct {
	ID   int64
	Code string
}

// Ceiling is the per-tenant upper bound on usable permissions. A ceiling
// with no entries is unrestricted: tenants that were never capped keep
// whatever their roles grant. The reference data cannot distinguish a
// missing ceiling row from a ceiling of zero permissions, so both collapse
// to unrestricted.
type Ceiling struct {
	ids map[int64]struct{}
}

// NewCeiling builds a ceiling from the granted permission ids.
func NewCeiling(ids []int64) Ceiling {
	if len(ids) == 0 {
		return Ceiling{}
	}
	return Ceiling{ids: toSet(ids)}
}

// Unrestricted reports whether the ceiling imposes no bound.
func (c Ceiling) Unrestricted() bool {
	return len(c.ids) == 0
}

// Allows reports whether the ceiling admits the permission id.
func (c Ceiling) Allows(id int64) bool {
	if c.Unrestricted() {
		return true
	}
	_, ok := c.ids[id]
	return ok
}

// Apply caps the candidate set with the ceiling, returning the ids that
// survive. The candidate set is taken over when no bound is configured.
func (c Ceiling) Apply(candidates map[int64]struct{}) map[int64]struct{} {
	if c.Unrestricted() {
		return candidates
	}
	capped := make(map[int64]struct{}, len(candidates))
	for id := range candidates {
		if _, ok := c.ids[id]; ok {
			capped[id] = struct{}{}
		}
	}
	return capped
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
