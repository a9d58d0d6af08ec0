package core

import (
	"fmt"
	"strings"
)

// Column names of the import file, normalized (lower-case).
const (
	ColProductName          = "product_name"
	ColProductDescription   = "product_description"
	ColSKU                  = "sku"
	ColSlug                 = "slug"
	ColCostPrice            = "cost_price"
	ColRegularPrice         = "regular_price"
	ColSalePrice            = "sale_price"
	ColMinimumPrice         = "minimum_price"
	ColDiscountPercentage   = "discount_percentage"
	ColDiscountLabel        = "discount_label"
	ColWholesalePrice       = "wholesale_price"
	ColWholesaleMinQuantity = "wholesale_min_quantity"
	ColStockQuantity        = "stock_quantity"
	ColCategoryID           = "category_id"
	ColCategoryName         = "category_name"
	ColParentCategoryName   = "parent_category_name"
	ColCatalogID            = "catalog_id"
	ColCatalogName          = "catalog_name"
	ColSupplierID           = "supplier_id"
	ColSupplierName         = "supplier_name"
)

// DefaultRequiredFields are the columns that must be present and non-blank.
var DefaultRequiredFields = []string{
	ColProductName,
	ColProductDescription,
	ColSKU,
	ColCostPrice,
	ColRegularPrice,
	ColSalePrice,
}

// StandardColumns is the full column order used by templates.
var StandardColumns = []string{
	ColProductName,
	ColProductDescription,
	ColSKU,
	ColSlug,
	ColCostPrice,
	ColRegularPrice,
	ColSalePrice,
	ColMinimumPrice,
	ColDiscountPercentage,
	ColDiscountLabel,
	ColWholesalePrice,
	ColWholesaleMinQuantity,
	ColStockQuantity,
	ColCategoryID,
	ColCategoryName,
	ColParentCategoryName,
	ColCatalogID,
	ColCatalogName,
	ColSupplierID,
	ColSupplierName,
}

// ProductRow is the strongly typed form of one decoded row.
// The col tag names the source column; validate tags hold range rules.
type ProductRow struct {
	Line  int
	Index int

	Name          string `col:"product_name"`
	Description   string `col:"product_description"`
	SKU           string `col:"sku"`
	Slug          string `col:"slug"`
	DiscountLabel string `col:"discount_label"`

	CostPrice            float64  `col:"cost_price" validate:"gte=0"`
	RegularPrice         float64  `col:"regular_price" validate:"gte=0"`
	SalePrice            float64  `col:"sale_price" validate:"gte=0"`
	MinimumPrice         *float64 `col:"minimum_price" validate:"omitempty,gte=0"`
	DiscountPercentage   *float64 `col:"discount_percentage" validate:"omitempty,gte=0,lte=100"`
	WholesalePrice       *float64 `col:"wholesale_price" validate:"omitempty,gte=0"`
	WholesaleMinQuantity *int     `col:"wholesale_min_quantity" validate:"omitempty,gt=0"`
	StockQuantity        int      `col:"stock_quantity" validate:"gte=0"`

	Category       Reference
	ParentCategory string
	Catalog        Reference
	Supplier       Reference

	Attributes []AttributeColumn
}

type decimalField struct {
	column string
	dst    *float64
}

type optionalDecimalField struct {
	column string
	dst    **float64
}

// parseProductRow converts a decoded row into a ProductRow. Cells that fail to
// parse leave their field at zero and produce a validation error.
func parseProductRow(row Row) (*ProductRow, []Finding) {
	p := &ProductRow{
		Line:           row.Line,
		Index:          row.Index,
		Name:           row.Get(ColProductName),
		Description:    row.Get(ColProductDescription),
		SKU:            row.Get(ColSKU),
		Slug:           row.Get(ColSlug),
		DiscountLabel:  row.Get(ColDiscountLabel),
		ParentCategory: row.Get(ColParentCategoryName),
		Attributes:     row.Attributes,
	}

	var findings []Finding

	for _, f := range []decimalField{
		{ColCostPrice, &p.CostPrice},
		{ColRegularPrice, &p.RegularPrice},
		{ColSalePrice, &p.SalePrice},
	} {
		raw := row.Get(f.column)
		if raw == "" {
			continue
		}
		v, err := ParseNumber(raw)
		if err != nil {
			findings = append(findings, invalidNumber(row.Line, f.column, raw))
			continue
		}
		*f.dst = v
	}

	for _, f := range []optionalDecimalField{
		{ColMinimumPrice, &p.MinimumPrice},
		{ColDiscountPercentage, &p.DiscountPercentage},
		{ColWholesalePrice, &p.WholesalePrice},
	} {
		raw := row.Get(f.column)
		if raw == "" {
			continue
		}
		v, err := ParseNumber(raw)
		if err != nil {
			findings = append(findings, invalidNumber(row.Line, f.column, raw))
			continue
		}
		*f.dst = &v
	}

	if raw := row.Get(ColWholesaleMinQuantity); raw != "" {
		q, err := ParseQuantity(raw)
		if err != nil {
			findings = append(findings, invalidInteger(row.Line, ColWholesaleMinQuantity, raw))
		} else {
			p.WholesaleMinQuantity = &q
		}
	}
	if raw := row.Get(ColStockQuantity); raw != "" {
		q, err := ParseQuantity(raw)
		if err != nil {
			findings = append(findings, invalidInteger(row.Line, ColStockQuantity, raw))
		} else {
			p.StockQuantity = q
		}
	}

	var refFindings []Finding
	p.Category, refFindings = parseReference(row, ColCategoryID, ColCategoryName)
	findings = append(findings, refFindings...)
	p.Catalog, refFindings = parseReference(row, ColCatalogID, ColCatalogName)
	findings = append(findings, refFindings...)
	p.Supplier, refFindings = parseReference(row, ColSupplierID, ColSupplierName)
	findings = append(findings, refFindings...)

	return p, findings
}

// parseReference reads an id-or-name pair. When both are given the id wins.
func parseReference(row Row, idCol, nameCol string) (Reference, []Finding) {
	var (
		ref      Reference
		findings []Finding
	)
	rawID := row.Get(idCol)
	ref.Name = strings.TrimSpace(row.Get(nameCol))

	if rawID != "" {
		id, err := ParseID(rawID)
		if err != nil {
			findings = append(findings, Finding{
				Row:      row.Line,
				Field:    idCol,
				Value:    rawID,
				Code:     CodeInvalidReference,
				Message:  fmt.Sprintf("%s must be a positive integer", idCol),
				Type:     FindingValidation,
				Severity: SeverityError,
			})
			return ref, findings
		}
		ref.ID = &id
		if ref.Name != "" {
			findings = append(findings, Finding{
				Row:      row.Line,
				Field:    nameCol,
				Value:    ref.Name,
				Code:     CodeAmbiguousRef,
				Message:  fmt.Sprintf("both %s and %s supplied; using %s", idCol, nameCol, idCol),
				Type:     FindingValidation,
				Severity: SeverityInfo,
			})
			ref.Name = ""
		}
	}
	return ref, findings
}

func invalidNumber(line int, column, raw string) Finding {
	return Finding{
		Row:      line,
		Field:    column,
		Value:    raw,
		Code:     CodeInvalidNumber,
		Message:  fmt.Sprintf("%s must be a number", column),
		Type:     FindingValidation,
		Severity: SeverityError,
	}
}

func invalidInteger(line int, column, raw string) Finding {
	return Finding{
		Row:      line,
		Field:    column,
		Value:    raw,
		Code:     CodeInvalidInteger,
		Message:  fmt.Sprintf("%s must be a whole number", column),
		Type:     FindingValidation,
		Severity: SeverityError,
	}
}
