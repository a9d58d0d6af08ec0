package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/productimport/internal/core"
)

// Entity creates use ON CONFLICT DO NOTHING against the lower(name) unique
// indexes; insertReturningID turns the empty result into core.ErrConflict.

func (s *Store) SKUExists(ctx context.Context, sku string) (bool, error) {
	return exists(ctx, s.db, `SELECT EXISTS (SELECT 1 FROM products WHERE lower(sku) = lower($1))`, sku)
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	return exists(ctx, s.db, `SELECT EXISTS (SELECT 1 FROM products WHERE lower(slug) = lower($1))`, slug)
}

func (s *Store) FindCategory(ctx context.Context, name string) (core.Category, bool, error) {
	var c core.Category
	err := s.db.QueryRow(ctx,
		`SELECT id, name, parent_id FROM categories WHERE lower(name) = lower($1)`, name,
	).Scan(&c.ID, &c.Name, &c.ParentID)
	return c, found(err), notFoundOK(err)
}

func (s *Store) CreateCategory(ctx context.Context, name string, parentID *int64) (int64, error) {
	return insertReturningID(ctx, s.db,
		`INSERT INTO categories (name, parent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`,
		name, parentID)
}

func (s *Store) SetCategoryParent(ctx context.Context, id, parentID int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE categories SET parent_id = $2 WHERE id = $1 AND parent_id IS NULL`, id, parentID)
	return err
}

func (s *Store) CategoryParent(ctx context.Context, id int64) (*int64, error) {
	var parent *int64
	err := s.db.QueryRow(ctx, `SELECT parent_id FROM categories WHERE id = $1`, id).Scan(&parent)
	if err := notFoundOK(err); err != nil {
		return nil, err
	}
	return parent, nil
}

func (s *Store) FindSupplier(ctx context.Context, name string) (core.Supplier, bool, error) {
	var sp core.Supplier
	err := s.db.QueryRow(ctx,
		`SELECT id, name FROM suppliers WHERE lower(name) = lower($1)`, name,
	).Scan(&sp.ID, &sp.Name)
	return sp, found(err), notFoundOK(err)
}

func (s *Store) CreateSupplier(ctx context.Context, name string) (int64, error) {
	return insertReturningID(ctx, s.db,
		`INSERT INTO suppliers (name) VALUES ($1) ON CONFLICT DO NOTHING RETURNING id`, name)
}

func (s *Store) FindCatalog(ctx context.Context, name string) (core.Catalog, bool, error) {
	var c core.Catalog
	err := s.db.QueryRow(ctx,
		`SELECT id, name, supplier_id FROM catalogs WHERE lower(name) = lower($1)`, name,
	).Scan(&c.ID, &c.Name, &c.SupplierID)
	return c, found(err), notFoundOK(err)
}

func (s *Store) CreateCatalog(ctx context.Context, name string, supplierID *int64) (int64, error) {
	return insertReturningID(ctx, s.db,
		`INSERT INTO catalogs (name, supplier_id) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`,
		name, supplierID)
}

func (s *Store) SetCatalogSupplier(ctx context.Context, id, supplierID int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE catalogs SET supplier_id = $2 WHERE id = $1 AND supplier_id IS NULL`, id, supplierID)
	return err
}

func (s *Store) FindAttribute(ctx context.Context, name string) (core.Attribute, bool, error) {
	var (
		a   core.Attribute
		typ string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, name, type FROM attributes WHERE lower(name) = lower($1)`, name,
	).Scan(&a.ID, &a.Name, &typ)
	a.Type = core.AttributeType(typ)
	return a, found(err), notFoundOK(err)
}

func (s *Store) CreateAttribute(ctx context.Context, name string, typ core.AttributeType) (int64, error) {
	return insertReturningID(ctx, s.db,
		`INSERT INTO attributes (name, type) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING id`,
		name, string(typ))
}

func (s *Store) FindAttributeOption(ctx context.Context, attributeID int64, value string) (core.AttributeOption, bool, error) {
	var o core.AttributeOption
	err := s.db.QueryRow(ctx, `
		SELECT id, attribute_id, value FROM attribute_options
		WHERE attribute_id = $1 AND lower(value) = lower($2)`, attributeID, value,
	).Scan(&o.ID, &o.AttributeID, &o.Value)
	return o, found(err), notFoundOK(err)
}

func (s *Store) CreateAttributeOption(ctx context.Context, attributeID int64, value string) (int64, error) {
	return insertReturningID(ctx, s.db, `
		INSERT INTO attribute_options (attribute_id, value) VALUES ($1, $2)
		ON CONFLICT DO NOTHING RETURNING id`, attributeID, value)
}

func (s *Store) CatalogAttributes(ctx context.Context, catalogID int64) ([]core.Attribute, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.name, a.type FROM attributes a
		WHERE EXISTS (
			SELECT 1 FROM product_attributes pa
			JOIN products p ON p.id = pa.product_id
			WHERE pa.attribute_id = a.id AND p.catalog_id = $1
		)
		ORDER BY lower(a.name)`, catalogID)
	if err != nil {
		return nil, fmt.Errorf("catalog attributes: %w", err)
	}
	defer rows.Close()

	var out []core.Attribute
	for rows.Next() {
		var (
			a   core.Attribute
			typ string
		)
		if err := rows.Scan(&a.ID, &a.Name, &typ); err != nil {
			return nil, err
		}
		a.Type = core.AttributeType(typ)
		out = append(out, a)
	}
	return out, rows.Err()
}

// WithProductTx runs fn inside one transaction via pgx.BeginFunc.
func (s *Store) WithProductTx(ctx context.Context, fn func(core.ProductTx) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&productTx{tx: tx})
	})
}

type productTx struct {
	tx pgx.Tx
}

func (p *productTx) SlugExists(ctx context.Context, slug string) (bool, error) {
	return exists(ctx, p.tx, `SELECT EXISTS (SELECT 1 FROM products WHERE lower(slug) = lower($1))`, slug)
}

func (p *productTx) InsertProduct(ctx context.Context, pr *core.Product) (int64, error) {
	var id int64
	err := p.tx.QueryRow(ctx, `
		INSERT INTO products (
			job_id, name, slug, description, sku,
			cost_price, regular_price, sale_price, minimum_price,
			discount_percentage, discount_label, wholesale_price, wholesale_min_quantity,
			stock_quantity, category_id, catalog_id, supplier_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		pr.JobID, pr.Name, pr.Slug, pr.Description, pr.SKU,
		pr.CostPrice, pr.RegularPrice, pr.SalePrice, pr.MinimumPrice,
		pr.DiscountPercentage, pr.DiscountLabel, pr.WholesalePrice, pr.WholesaleMinQuantity,
		pr.StockQuantity, pr.CategoryID, pr.CatalogID, pr.SupplierID,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (p *productTx) LinkAttribute(ctx context.Context, productID int64, link core.AttributeLink) error {
	_, err := p.tx.Exec(ctx, `
		INSERT INTO product_attributes (product_id, attribute_id, option_id)
		VALUES ($1, $2, $3)`, productID, link.AttributeID, link.OptionID)
	return mapError(err)
}

// Checkpoint advances the job counters inside the row transaction, guarded
// like UpdateJob on the PROCESSING status.
func (p *productTx) Checkpoint(ctx context.Context, j *core.Job) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE import_jobs SET total = $3, processed = $4, success = $5, failed = $6, updated_at = $7
		WHERE id = $1 AND status = $2`,
		j.ID, string(core.StatusProcessing), j.Total, j.Processed, j.Success, j.Failed, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("checkpoint job: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return core.ErrStaleJob
	}
	return nil
}

func found(err error) bool {
	return err == nil
}

// notFoundOK hides pgx.ErrNoRows so Find methods report absence as found=false.
func notFoundOK(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
