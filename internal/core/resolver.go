package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RefKind names the kinds of entity the resolver handles.
type RefKind string

const (
	KindCategory        RefKind = "category"
	KindCatalog         RefKind = "catalog"
	KindSupplier        RefKind = "supplier"
	KindAttribute       RefKind = "attribute"
	KindAttributeOption RefKind = "attribute-option"
)

// DefaultResolveAttempts bounds the create/re-select loop on conflicts.
const DefaultResolveAttempts = 3

// CategoryPathSeparator splits "Parent > Child" category names.
const CategoryPathSeparator = ">"

// maxCategoryDepth bounds ancestor walks over stored parent links.
const maxCategoryDepth = 64

// ErrCategoryCycle is returned when a row would place a category under one of
// its own descendants.
var ErrCategoryCycle = errors.New("category parent cycle")

type refKey struct {
	kind RefKind
	key  string
}

// resolved is a cache entry. link holds the parent category of a category or
// the supplier of a catalog, so a later row can still attach one.
type resolved struct {
	id   int64
	link *int64
}

// Resolver maps row references to entity ids, creating named entities on
// demand. One Resolver serves one job run; it is not safe for concurrent use.
type Resolver struct {
	store    CatalogStore
	attempts int
	cache    map[refKey]*resolved
	created  map[RefKind]int
	parents  map[int64]*int64 // category id -> parent, as far as known
}

// NewResolver creates a run-scoped resolver.
func NewResolver(store CatalogStore, attempts int) *Resolver {
	if attempts <= 0 {
		attempts = DefaultResolveAttempts
	}
	return &Resolver{
		store:    store,
		attempts: attempts,
		cache:    make(map[refKey]*resolved),
		created:  make(map[RefKind]int),
		parents:  make(map[int64]*int64),
	}
}

// Created returns how many entities of each kind this run created.
func (r *Resolver) Created() map[RefKind]int {
	out := make(map[RefKind]int, len(r.created))
	for k, v := range r.created {
		out[k] = v
	}
	return out
}

// normalizeName is the cache and comparison key of a human-readable name.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func idKey(kind RefKind, id int64) refKey {
	return refKey{kind: kind, key: "#" + strconv.FormatInt(id, 10)}
}

// trusted caches and returns an id supplied directly by the row.
func (r *Resolver) trusted(kind RefKind, id int64) int64 {
	k := idKey(kind, id)
	if _, ok := r.cache[k]; !ok {
		r.cache[k] = &resolved{id: id}
	}
	return id
}

// findOrCreate runs the lookup, create, re-select on conflict loop.
// lookup reports the existing id and its link; create returns a new id.
func (r *Resolver) findOrCreate(
	ctx context.Context,
	kind RefKind,
	name string,
	lookup func(context.Context) (int64, *int64, bool, error),
	create func(context.Context) (int64, error),
) (*resolved, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		id, link, found, err := lookup(ctx)
		if err != nil {
			return nil, fmt.Errorf("find %s %q: %w", kind, name, err)
		}
		if found {
			return &resolved{id: id, link: link}, nil
		}

		id, err = create(ctx)
		if err == nil {
			r.created[kind]++
			return &resolved{id: id}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("create %s %q: %w", kind, name, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("resolve %s %q after %d attempts: %w", kind, name, r.attempts, lastErr)
}

// Supplier resolves a supplier reference.
func (r *Resolver) Supplier(ctx context.Context, ref Reference) (int64, error) {
	if ref.ID != nil {
		return r.trusted(KindSupplier, *ref.ID), nil
	}
	k := refKey{KindSupplier, normalizeName(ref.Name)}
	if e, ok := r.cache[k]; ok {
		return e.id, nil
	}

	e, err := r.findOrCreate(ctx, KindSupplier, ref.Name,
		func(ctx context.Context) (int64, *int64, bool, error) {
			s, ok, err := r.store.FindSupplier(ctx, ref.Name)
			return s.ID, nil, ok, err
		},
		func(ctx context.Context) (int64, error) {
			return r.store.CreateSupplier(ctx, ref.Name)
		},
	)
	if err != nil {
		return 0, err
	}
	r.cache[k] = e
	return e.id, nil
}

// Catalog resolves a catalog reference. A named catalog found without a
// supplier is attached to supplierID when one is given.
func (r *Resolver) Catalog(ctx context.Context, ref Reference, supplierID *int64) (int64, error) {
	if ref.ID != nil {
		return r.trusted(KindCatalog, *ref.ID), nil
	}
	k := refKey{KindCatalog, normalizeName(ref.Name)}
	e, ok := r.cache[k]
	if !ok {
		createdWithSupplier := false
		var err error
		e, err = r.findOrCreate(ctx, KindCatalog, ref.Name,
			func(ctx context.Context) (int64, *int64, bool, error) {
				c, ok, err := r.store.FindCatalog(ctx, ref.Name)
				return c.ID, c.SupplierID, ok, err
			},
			func(ctx context.Context) (int64, error) {
				id, err := r.store.CreateCatalog(ctx, ref.Name, supplierID)
				createdWithSupplier = err == nil
				return id, err
			},
		)
		if err != nil {
			return 0, err
		}
		if createdWithSupplier {
			e.link = supplierID
		}
		r.cache[k] = e
	}

	if e.link == nil && supplierID != nil {
		if err := r.store.SetCatalogSupplier(ctx, e.id, *supplierID); err != nil {
			return 0, fmt.Errorf("attach supplier to catalog %q: %w", ref.Name, err)
		}
		s := *supplierID
		e.link = &s
	}
	return e.id, nil
}

// Category resolves a category reference. A name may be a path such as
// "Electronics > Phones"; parentName is prepended to that path. Each segment
// is resolved under the previous one, creating missing parents first.
func (r *Resolver) Category(ctx context.Context, ref Reference, parentName string) (int64, error) {
	if ref.ID != nil {
		return r.trusted(KindCategory, *ref.ID), nil
	}

	path := append(splitCategoryPath(parentName), splitCategoryPath(ref.Name)...)
	if len(path) == 0 {
		return 0, fmt.Errorf("empty category name")
	}

	var parent *int64
	for _, name := range path {
		id, err := r.category(ctx, name, parent)
		if err != nil {
			return 0, err
		}
		p := id
		parent = &p
	}
	return *parent, nil
}

func (r *Resolver) category(ctx context.Context, name string, parentID *int64) (int64, error) {
	k := refKey{KindCategory, normalizeName(name)}
	e, ok := r.cache[k]
	if !ok {
		createdWithParent := false
		var err error
		e, err = r.findOrCreate(ctx, KindCategory, name,
			func(ctx context.Context) (int64, *int64, bool, error) {
				c, ok, err := r.store.FindCategory(ctx, name)
				return c.ID, c.ParentID, ok, err
			},
			func(ctx context.Context) (int64, error) {
				id, err := r.store.CreateCategory(ctx, name, parentID)
				createdWithParent = err == nil
				return id, err
			},
		)
		if err != nil {
			return 0, err
		}
		if createdWithParent {
			e.link = parentID
		}
		r.cache[k] = e
		r.parents[e.id] = e.link
	}

	if e.link == nil && parentID != nil && *parentID != e.id {
		cycle, err := r.descends(ctx, *parentID, e.id)
		if err != nil {
			return 0, fmt.Errorf("check ancestors of category %q: %w", name, err)
		}
		if cycle {
			return 0, fmt.Errorf("%w: %q is already an ancestor of its new parent", ErrCategoryCycle, name)
		}
		if err := r.store.SetCategoryParent(ctx, e.id, *parentID); err != nil {
			return 0, fmt.Errorf("attach parent to category %q: %w", name, err)
		}
		p := *parentID
		e.link = &p
		r.parents[e.id] = e.link
	}
	return e.id, nil
}

// descends reports whether category id sits below ancestor, following known
// parent links first and the store for the rest.
func (r *Resolver) descends(ctx context.Context, id, ancestor int64) (bool, error) {
	cur := id
	for depth := 0; depth < maxCategoryDepth; depth++ {
		if cur == ancestor {
			return true, nil
		}
		parent, ok := r.parents[cur]
		if !ok {
			var err error
			if parent, err = r.store.CategoryParent(ctx, cur); err != nil {
				return false, err
			}
			r.parents[cur] = parent
		}
		if parent == nil {
			return false, nil
		}
		cur = *parent
	}
	return true, nil
}

func splitCategoryPath(name string) []string {
	var path []string
	for _, seg := range strings.Split(name, CategoryPathSeparator) {
		if seg = strings.TrimSpace(seg); seg != "" {
			path = append(path, seg)
		}
	}
	return path
}

// Attribute resolves an attribute by name, creating it with an inferred type.
func (r *Resolver) Attribute(ctx context.Context, name string) (int64, error) {
	k := refKey{KindAttribute, normalizeName(name)}
	if e, ok := r.cache[k]; ok {
		return e.id, nil
	}

	e, err := r.findOrCreate(ctx, KindAttribute, name,
		func(ctx context.Context) (int64, *int64, bool, error) {
			a, ok, err := r.store.FindAttribute(ctx, name)
			return a.ID, nil, ok, err
		},
		func(ctx context.Context) (int64, error) {
			return r.store.CreateAttribute(ctx, name, InferAttributeType(name))
		},
	)
	if err != nil {
		return 0, err
	}
	r.cache[k] = e
	return e.id, nil
}

// Option resolves an option value under an attribute.
func (r *Resolver) Option(ctx context.Context, attributeID int64, value string) (int64, error) {
	k := refKey{KindAttributeOption, strconv.FormatInt(attributeID, 10) + ":" + normalizeName(value)}
	if e, ok := r.cache[k]; ok {
		return e.id, nil
	}

	e, err := r.findOrCreate(ctx, KindAttributeOption, value,
		func(ctx context.Context) (int64, *int64, bool, error) {
			o, ok, err := r.store.FindAttributeOption(ctx, attributeID, value)
			return o.ID, nil, ok, err
		},
		func(ctx context.Context) (int64, error) {
			return r.store.CreateAttributeOption(ctx, attributeID, value)
		},
	)
	if err != nil {
		return 0, err
	}
	r.cache[k] = e
	return e.id, nil
}

// ResolvedRefs are the entity ids a row's product points at.
type ResolvedRefs struct {
	CategoryID int64
	CatalogID  int64
	SupplierID int64
}

// ResolveRow resolves supplier, then catalog (attaching the supplier), then category.
func (r *Resolver) ResolveRow(ctx context.Context, p *ProductRow) (ResolvedRefs, error) {
	var refs ResolvedRefs
	var err error

	if refs.SupplierID, err = r.Supplier(ctx, p.Supplier); err != nil {
		return refs, err
	}
	supplier := refs.SupplierID
	if refs.CatalogID, err = r.Catalog(ctx, p.Catalog, &supplier); err != nil {
		return refs, err
	}
	if refs.CategoryID, err = r.Category(ctx, p.Category, p.ParentCategory); err != nil {
		return refs, err
	}
	return refs, nil
}
