package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// maxSlugSuffix bounds the -2, -3, ... search before falling back to a random suffix.
const maxSlugSuffix = 50

// ProductInput is everything the writer needs for one row.
type ProductInput struct {
	JobID uuid.UUID
	Row   *ProductRow
	Refs  ResolvedRefs
	Links []AttributeLink
	// Progress, when set, is saved in the same transaction so the stored
	// offset never lags behind a committed product.
	Progress *Job
}

// Writer commits one product plus its attribute links as a single unit.
type Writer struct {
	store CatalogStore
}

// NewWriter creates a product writer.
func NewWriter(store CatalogStore) *Writer {
	return &Writer{store: store}
}

// Write inserts the product and its links in one transaction. Either all of
// the row's writes persist or none do.
func (w *Writer) Write(ctx context.Context, in ProductInput) (int64, error) {
	var productID int64

	err := w.store.WithProductTx(ctx, func(tx ProductTx) error {
		slug, err := chooseSlug(ctx, tx, in.Row)
		if err != nil {
			return err
		}

		p := buildProduct(in, slug)
		productID, err = tx.InsertProduct(ctx, p)
		if err != nil {
			return fmt.Errorf("insert product %q: %w", in.Row.SKU, err)
		}

		for _, link := range in.Links {
			if err := tx.LinkAttribute(ctx, productID, link); err != nil {
				return fmt.Errorf("link %s=%s: %w", link.Attribute, link.Value, err)
			}
		}

		if in.Progress != nil {
			if err := tx.Checkpoint(ctx, in.Progress); err != nil {
				return fmt.Errorf("%w: %w", ErrCheckpoint, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return productID, nil
}

func buildProduct(in ProductInput, slug string) *Product {
	r := in.Row
	return &Product{
		JobID:                in.JobID,
		Name:                 r.Name,
		Slug:                 slug,
		Description:          r.Description,
		SKU:                  r.SKU,
		CostPrice:            r.CostPrice,
		RegularPrice:         r.RegularPrice,
		SalePrice:            r.SalePrice,
		MinimumPrice:         r.MinimumPrice,
		DiscountPercentage:   r.DiscountPercentage,
		DiscountLabel:        r.DiscountLabel,
		WholesalePrice:       r.WholesalePrice,
		WholesaleMinQuantity: r.WholesaleMinQuantity,
		StockQuantity:        r.StockQuantity,
		CategoryID:           in.Refs.CategoryID,
		CatalogID:            in.Refs.CatalogID,
		SupplierID:           in.Refs.SupplierID,
	}
}

// chooseSlug returns the explicit slug as-is, or derives a free one from the
// product name by appending -2, -3, ...
func chooseSlug(ctx context.Context, tx ProductTx, r *ProductRow) (string, error) {
	if r.Slug != "" {
		return r.Slug, nil
	}

	base := Slugify(r.Name)
	if base == "" {
		base = Slugify(r.SKU)
	}
	if base == "" {
		base = "product"
	}

	candidate := base
	for n := 2; n <= maxSlugSuffix; n++ {
		taken, err := tx.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
	return base + "-" + uuid.NewString()[:8], nil
}
