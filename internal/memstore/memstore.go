// Package memstore is an in-memory implementation of core.Store.
//
// It backs the offline checker and the pipeline tests. Behavior mirrors the
// Postgres store: names match case-insensitively, creates return
// core.ErrConflict on duplicates, job updates compare-and-set the status, and
// WithProductTx stages writes until fn returns nil.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/productimport/internal/core"
)

// Store holds everything in maps guarded by one mutex.
type Store struct {
	// OnCall, when set, runs before every operation with the operation name
	// (the method name, e.g. "InsertProduct"). A non-nil error is returned
	// from the operation. Inside WithProductTx it runs with the store locked,
	// so it must not call back into the store there.
	OnCall func(op string) error

	mu       sync.Mutex
	nextID   int64
	seq      int64
	jobs     map[uuid.UUID]core.Job
	findings []core.Finding

	categories []core.Category
	suppliers  []core.Supplier
	catalogs   []core.Catalog
	attributes []core.Attribute
	options    []core.AttributeOption
	products   []core.Product
	links      map[int64][]core.AttributeLink
}

var _ core.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:  make(map[uuid.UUID]core.Job),
		links: make(map[int64][]core.AttributeLink),
	}
}

func (s *Store) hook(op string) error {
	if s.OnCall == nil {
		return nil
	}
	return s.OnCall(op)
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Jobs

func (s *Store) CreateJob(ctx context.Context, job *core.Job) error {
	if err := s.hook("CreateJob"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return core.ErrConflict
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	if err := s.hook("GetJob"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return &j, nil
}

func (s *Store) UpdateJob(ctx context.Context, job *core.Job, expected core.JobStatus) error {
	if err := s.hook("UpdateJob"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[job.ID]
	if !ok {
		return core.ErrJobNotFound
	}
	if cur.Status != expected {
		return core.ErrStaleJob
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) ListJobs(ctx context.Context, q core.JobQuery) ([]core.Job, error) {
	if err := s.hook("ListJobs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[core.JobStatus]bool, len(q.Statuses))
	for _, st := range q.Statuses {
		want[st] = true
	}

	var out []core.Job
	for _, j := range s.jobs {
		if len(want) > 0 && !want[j.Status] {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return page(out, q.Offset, q.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Findings

func (s *Store) AppendFindings(ctx context.Context, findings []core.Finding) error {
	if err := s.hook("AppendFindings"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range findings {
		s.seq++
		f.Seq = s.seq
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		s.findings = append(s.findings, f)
	}
	return nil
}

func (s *Store) ListFindings(ctx context.Context, jobID uuid.UUID, q core.FindingQuery) ([]core.Finding, int, error) {
	if err := s.hook("ListFindings"); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Finding
	for _, f := range s.findings {
		if f.JobID != jobID {
			continue
		}
		if q.Severity != "" && f.Severity != q.Severity {
			continue
		}
		if q.Type != "" && f.Type != q.Type {
			continue
		}
		out = append(out, f)
	}
	core.SortFindings(out)
	return page(out, q.Offset, q.Limit), len(out), nil
}

// Uniqueness

func (s *Store) SKUExists(ctx context.Context, sku string) (bool, error) {
	if err := s.hook("SKUExists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skuTaken(sku, nil), nil
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	if err := s.hook("SlugExists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slugTaken(slug, nil), nil
}

func (s *Store) skuTaken(sku string, staged []core.Product) bool {
	return anyProduct(s.products, staged, func(p core.Product) bool {
		return strings.EqualFold(p.SKU, sku)
	})
}

func (s *Store) slugTaken(slug string, staged []core.Product) bool {
	return anyProduct(s.products, staged, func(p core.Product) bool {
		return strings.EqualFold(p.Slug, slug)
	})
}

func anyProduct(committed, staged []core.Product, match func(core.Product) bool) bool {
	for _, set := range [][]core.Product{committed, staged} {
		for _, p := range set {
			if match(p) {
				return true
			}
		}
	}
	return false
}

// Categories

func (s *Store) FindCategory(ctx context.Context, name string) (core.Category, bool, error) {
	if err := s.hook("FindCategory"); err != nil {
		return core.Category{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		if key(c.Name) == key(name) {
			return c, true, nil
		}
	}
	return core.Category{}, false, nil
}

func (s *Store) CreateCategory(ctx context.Context, name string, parentID *int64) (int64, error) {
	if err := s.hook("CreateCategory"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		if key(c.Name) == key(name) {
			return 0, core.ErrConflict
		}
	}
	c := core.Category{ID: s.id(), Name: name, ParentID: parentID}
	s.categories = append(s.categories, c)
	return c.ID, nil
}

func (s *Store) SetCategoryParent(ctx context.Context, id, parentID int64) error {
	if err := s.hook("SetCategoryParent"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.categories {
		if s.categories[i].ID == id && s.categories[i].ParentID == nil {
			p := parentID
			s.categories[i].ParentID = &p
		}
	}
	return nil
}

func (s *Store) CategoryParent(ctx context.Context, id int64) (*int64, error) {
	if err := s.hook("CategoryParent"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories {
		if c.ID == id && c.ParentID != nil {
			p := *c.ParentID
			return &p, nil
		}
	}
	return nil, nil
}

// Suppliers

func (s *Store) FindSupplier(ctx context.Context, name string) (core.Supplier, bool, error) {
	if err := s.hook("FindSupplier"); err != nil {
		return core.Supplier{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sp := range s.suppliers {
		if key(sp.Name) == key(name) {
			return sp, true, nil
		}
	}
	return core.Supplier{}, false, nil
}

func (s *Store) CreateSupplier(ctx context.Context, name string) (int64, error) {
	if err := s.hook("CreateSupplier"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sp := range s.suppliers {
		if key(sp.Name) == key(name) {
			return 0, core.ErrConflict
		}
	}
	sp := core.Supplier{ID: s.id(), Name: name}
	s.suppliers = append(s.suppliers, sp)
	return sp.ID, nil
}

// Catalogs

func (s *Store) FindCatalog(ctx context.Context, name string) (core.Catalog, bool, error) {
	if err := s.hook("FindCatalog"); err != nil {
		return core.Catalog{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.catalogs {
		if key(c.Name) == key(name) {
			return c, true, nil
		}
	}
	return core.Catalog{}, false, nil
}

func (s *Store) CreateCatalog(ctx context.Context, name string, supplierID *int64) (int64, error) {
	if err := s.hook("CreateCatalog"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.catalogs {
		if key(c.Name) == key(name) {
			return 0, core.ErrConflict
		}
	}
	c := core.Catalog{ID: s.id(), Name: name, SupplierID: supplierID}
	s.catalogs = append(s.catalogs, c)
	return c.ID, nil
}

func (s *Store) SetCatalogSupplier(ctx context.Context, id, supplierID int64) error {
	if err := s.hook("SetCatalogSupplier"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.catalogs {
		if s.catalogs[i].ID == id && s.catalogs[i].SupplierID == nil {
			sp := supplierID
			s.catalogs[i].SupplierID = &sp
		}
	}
	return nil
}

// Attributes

func (s *Store) FindAttribute(ctx context.Context, name string) (core.Attribute, bool, error) {
	if err := s.hook("FindAttribute"); err != nil {
		return core.Attribute{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attributes {
		if key(a.Name) == key(name) {
			return a, true, nil
		}
	}
	return core.Attribute{}, false, nil
}

func (s *Store) CreateAttribute(ctx context.Context, name string, typ core.AttributeType) (int64, error) {
	if err := s.hook("CreateAttribute"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attributes {
		if key(a.Name) == key(name) {
			return 0, core.ErrConflict
		}
	}
	a := core.Attribute{ID: s.id(), Name: name, Type: typ}
	s.attributes = append(s.attributes, a)
	return a.ID, nil
}

func (s *Store) FindAttributeOption(ctx context.Context, attributeID int64, value string) (core.AttributeOption, bool, error) {
	if err := s.hook("FindAttributeOption"); err != nil {
		return core.AttributeOption{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.options {
		if o.AttributeID == attributeID && key(o.Value) == key(value) {
			return o, true, nil
		}
	}
	return core.AttributeOption{}, false, nil
}

func (s *Store) CreateAttributeOption(ctx context.Context, attributeID int64, value string) (int64, error) {
	if err := s.hook("CreateAttributeOption"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.options {
		if o.AttributeID == attributeID && key(o.Value) == key(value) {
			return 0, core.ErrConflict
		}
	}
	o := core.AttributeOption{ID: s.id(), AttributeID: attributeID, Value: value}
	s.options = append(s.options, o)
	return o.ID, nil
}

func (s *Store) CatalogAttributes(ctx context.Context, catalogID int64) ([]core.Attribute, error) {
	if err := s.hook("CatalogAttributes"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[int64]bool)
	for _, p := range s.products {
		if p.CatalogID != catalogID {
			continue
		}
		for _, l := range s.links[p.ID] {
			ids[l.AttributeID] = true
		}
	}

	var out []core.Attribute
	for _, a := range s.attributes {
		if ids[a.ID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, k int) bool { return key(out[i].Name) < key(out[k].Name) })
	return out, nil
}

// Products

// WithProductTx runs fn with the store locked. Products and links are staged
// and only become visible if fn returns nil.
func (s *Store) WithProductTx(ctx context.Context, fn func(core.ProductTx) error) error {
	if err := s.hook("WithProductTx"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &productTx{store: s, links: make(map[int64][]core.AttributeLink)}
	if err := fn(tx); err != nil {
		return err
	}

	s.products = append(s.products, tx.products...)
	for id, ls := range tx.links {
		s.links[id] = append(s.links[id], ls...)
	}
	if tx.job != nil {
		s.jobs[tx.job.ID] = *tx.job
	}
	return nil
}

type productTx struct {
	store    *Store
	products []core.Product
	links    map[int64][]core.AttributeLink
	job      *core.Job
}

func (tx *productTx) Checkpoint(ctx context.Context, job *core.Job) error {
	if err := tx.store.hook("Checkpoint"); err != nil {
		return err
	}
	cur, ok := tx.store.jobs[job.ID]
	if !ok {
		return core.ErrJobNotFound
	}
	if cur.Status != core.StatusProcessing {
		return core.ErrStaleJob
	}
	cur.Counters = job.Counters
	cur.UpdatedAt = job.UpdatedAt
	tx.job = &cur
	return nil
}

func (tx *productTx) SlugExists(ctx context.Context, slug string) (bool, error) {
	if err := tx.store.hook("SlugExists"); err != nil {
		return false, err
	}
	return tx.store.slugTaken(slug, tx.products), nil
}

func (tx *productTx) InsertProduct(ctx context.Context, p *core.Product) (int64, error) {
	if err := tx.store.hook("InsertProduct"); err != nil {
		return 0, err
	}
	if tx.store.skuTaken(p.SKU, tx.products) || tx.store.slugTaken(p.Slug, tx.products) {
		return 0, core.ErrConflict
	}
	cp := *p
	cp.ID = tx.store.id()
	tx.products = append(tx.products, cp)
	return cp.ID, nil
}

func (tx *productTx) LinkAttribute(ctx context.Context, productID int64, link core.AttributeLink) error {
	if err := tx.store.hook("LinkAttribute"); err != nil {
		return err
	}
	for _, l := range tx.links[productID] {
		if l.OptionID == link.OptionID {
			return core.ErrConflict
		}
	}
	tx.links[productID] = append(tx.links[productID], link)
	return nil
}

// Inspection helpers for tests and the offline checker.

// Products returns committed products in insertion order.
func (s *Store) Products() []core.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Product(nil), s.products...)
}

// ProductBySKU returns the committed product with sku.
func (s *Store) ProductBySKU(sku string) (core.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.SKU == sku {
			return p, true
		}
	}
	return core.Product{}, false
}

// Links returns the attribute links of a product.
func (s *Store) Links(productID int64) []core.AttributeLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AttributeLink(nil), s.links[productID]...)
}

// Categories returns all categories.
func (s *Store) Categories() []core.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Category(nil), s.categories...)
}

// Catalogs returns all catalogs.
func (s *Store) Catalogs() []core.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Catalog(nil), s.catalogs...)
}

// Suppliers returns all suppliers.
func (s *Store) Suppliers() []core.Supplier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Supplier(nil), s.suppliers...)
}

// Attributes returns all attributes.
func (s *Store) Attributes() []core.Attribute {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Attribute(nil), s.attributes...)
}

// Options returns all attribute options.
func (s *Store) Options() []core.AttributeOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.AttributeOption(nil), s.options...)
}
