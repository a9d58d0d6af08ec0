package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DiscountTolerance is how far, in percentage points, a declared discount may
// drift from the one implied by regular and sale price before a warning.
const DiscountTolerance = 1.0

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	// RequiredFields must be present and non-blank. Defaults to DefaultRequiredFields.
	RequiredFields []string
	// DefaultCatalogID satisfies the catalog reference rule for rows without one.
	DefaultCatalogID *int64
}

// Validator applies required-field, type, and business rules to one row.
// It touches storage only for SKU and slug uniqueness.
type Validator struct {
	lookup         UniquenessLookup
	required       []string
	defaultCatalog *int64
	validate       *validator.Validate
}

// NewValidator creates a row validator.
func NewValidator(lookup UniquenessLookup, opts ValidatorOptions) *Validator {
	required := opts.RequiredFields
	if len(required) == 0 {
		required = DefaultRequiredFields
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("col")
	})

	return &Validator{
		lookup:         lookup,
		required:       required,
		defaultCatalog: opts.DefaultCatalogID,
		validate:       v,
	}
}

// RequiredFields returns the columns this validator requires.
func (v *Validator) RequiredFields() []string {
	return v.required
}

// Validate parses row and returns its typed form and findings. The row may be
// written only if no finding has error severity.
func (v *Validator) Validate(ctx context.Context, row Row) (*ProductRow, []Finding) {
	p, findings := parseProductRow(row)

	findings = append(findings, v.checkRequired(row)...)
	findings = append(findings, v.checkRanges(row, p)...)
	findings = append(findings, v.checkReferences(row, p)...)

	if !hasFieldError(findings, ColRegularPrice, ColSalePrice, ColCostPrice, ColMinimumPrice, ColWholesalePrice) {
		findings = append(findings, checkPricing(row, p)...)
	}

	findings = append(findings, v.checkUniqueness(ctx, row, p)...)
	return p, findings
}

func (v *Validator) checkRequired(row Row) []Finding {
	var findings []Finding
	for _, col := range v.required {
		if err := v.validate.Var(strings.TrimSpace(row.Get(col)), "required"); err != nil {
			findings = append(findings, Finding{
				Row:      row.Line,
				Field:    col,
				Code:     CodeRequired,
				Message:  fmt.Sprintf("%s is required", col),
				Type:     FindingValidation,
				Severity: SeverityError,
			})
		}
	}
	return findings
}

// checkRanges runs the validate struct tags of ProductRow.
func (v *Validator) checkRanges(row Row, p *ProductRow) []Finding {
	err := v.validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Finding{{
			Row:      row.Line,
			Code:     CodeOutOfRange,
			Message:  err.Error(),
			Type:     FindingValidation,
			Severity: SeverityError,
		}}
	}

	findings := make([]Finding, 0, len(verrs))
	for _, fe := range verrs {
		findings = append(findings, Finding{
			Row:      row.Line,
			Field:    fe.Field(),
			Value:    row.Get(fe.Field()),
			Code:     CodeOutOfRange,
			Message:  rangeMessage(fe),
			Type:     FindingValidation,
			Severity: SeverityError,
		})
	}
	return findings
}

func rangeMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s check", fe.Field(), fe.Tag())
	}
}

func (v *Validator) checkReferences(row Row, p *ProductRow) []Finding {
	refs := []struct {
		idCol, nameCol string
		ref            Reference
		fallback       *int64
	}{
		{ColCategoryID, ColCategoryName, p.Category, nil},
		{ColCatalogID, ColCatalogName, p.Catalog, v.defaultCatalog},
		{ColSupplierID, ColSupplierName, p.Supplier, nil},
	}

	var findings []Finding
	for _, r := range refs {
		if row.Get(r.idCol) != "" || row.Get(r.nameCol) != "" {
			continue
		}
		if r.fallback != nil {
			id := *r.fallback
			p.Catalog = Reference{ID: &id}
			continue
		}
		findings = append(findings, Finding{
			Row:      row.Line,
			Field:    r.nameCol,
			Code:     CodeMissingReference,
			Message:  fmt.Sprintf("either %s or %s is required", r.idCol, r.nameCol),
			Type:     FindingValidation,
			Severity: SeverityError,
		})
	}
	return findings
}

// checkPricing applies the cross-field price rules.
func checkPricing(row Row, p *ProductRow) []Finding {
	var findings []Finding
	hasSale := row.Get(ColSalePrice) != ""
	hasRegular := row.Get(ColRegularPrice) != ""
	hasCost := row.Get(ColCostPrice) != ""

	if hasSale && hasRegular && p.SalePrice > p.RegularPrice {
		findings = append(findings, Finding{
			Row:      row.Line,
			Field:    ColSalePrice,
			Value:    row.Get(ColSalePrice),
			Code:     CodeSaleAboveRegular,
			Message:  fmt.Sprintf("sale_price (%s) must not exceed regular_price (%s)", FormatDecimal(p.SalePrice), FormatDecimal(p.RegularPrice)),
			Type:     FindingValidation,
			Severity: SeverityError,
		})
	}

	if hasSale && p.MinimumPrice != nil && p.SalePrice < *p.MinimumPrice {
		findings = append(findings, Finding{
			Row:      row.Line,
			Field:    ColSalePrice,
			Value:    row.Get(ColSalePrice),
			Code:     CodeSaleBelowMinimum,
			Message:  fmt.Sprintf("sale_price (%s) must not be below minimum_price (%s)", FormatDecimal(p.SalePrice), FormatDecimal(*p.MinimumPrice)),
			Type:     FindingValidation,
			Severity: SeverityError,
		})
	}

	if hasSale && hasCost && p.SalePrice < p.CostPrice {
		findings = append(findings, Finding{
			Row:      row.Line,
			Field:    ColSalePrice,
			Value:    row.Get(ColSalePrice),
			Code:     CodeSaleBelowCost,
			Message:  fmt.Sprintf("sale_price (%s) is below cost_price (%s)", FormatDecimal(p.SalePrice), FormatDecimal(p.CostPrice)),
			Type:     FindingValidation,
			Severity: SeverityWarning,
		})
	}

	if hasRegular && p.WholesalePrice != nil && *p.WholesalePrice > p.RegularPrice {
		findings = append(findings, Finding{
			Row:      row.Line,
			Field:    ColWholesalePrice,
			Value:    row.Get(ColWholesalePrice),
			Code:     CodeWholesaleAbove,
			Message:  fmt.Sprintf("wholesale_price (%s) is above regular_price (%s)", FormatDecimal(*p.WholesalePrice), FormatDecimal(p.RegularPrice)),
			Type:     FindingValidation,
			Severity: SeverityWarning,
		})
	}

	// An out-of-range discount is already an error; comparing it adds noise.
	if hasSale && hasRegular && p.DiscountPercentage != nil && p.RegularPrice > 0 &&
		*p.DiscountPercentage >= 0 && *p.DiscountPercentage <= 100 {
		implied := (p.RegularPrice - p.SalePrice) / p.RegularPrice * 100
		if math.Abs(implied-*p.DiscountPercentage) > DiscountTolerance {
			findings = append(findings, Finding{
				Row:      row.Line,
				Field:    ColDiscountPercentage,
				Value:    row.Get(ColDiscountPercentage),
				Code:     CodeDiscountMismatch,
				Message:  fmt.Sprintf("discount_percentage (%s) does not match the %s%% implied by regular and sale price", FormatDecimal(*p.DiscountPercentage), FormatDecimal(math.Round(implied*100)/100)),
				Type:     FindingValidation,
				Severity: SeverityWarning,
			})
		}
	}

	return findings
}

// checkUniqueness looks up SKU and explicit slug in persisted state.
// A lookup failure is a database finding and blocks the row.
func (v *Validator) checkUniqueness(ctx context.Context, row Row, p *ProductRow) []Finding {
	var findings []Finding

	check := func(field, value, code string, exists func(context.Context, string) (bool, error)) {
		if value == "" {
			return
		}
		found, err := exists(ctx, value)
		if err != nil {
			findings = append(findings, Finding{
				Row:      row.Line,
				Field:    field,
				Value:    value,
				Code:     CodeLookupFailed,
				Message:  fmt.Sprintf("could not check %s uniqueness: %v", field, err),
				Type:     FindingDatabase,
				Severity: SeverityError,
			})
			return
		}
		if found {
			findings = append(findings, Finding{
				Row:      row.Line,
				Field:    field,
				Value:    value,
				Code:     code,
				Message:  fmt.Sprintf("%s %q already exists in the catalog", field, value),
				Type:     FindingValidation,
				Severity: SeverityError,
			})
		}
	}

	check(ColSKU, p.SKU, CodeDuplicateSKU, v.lookup.SKUExists)
	check(ColSlug, p.Slug, CodeDuplicateSlug, v.lookup.SlugExists)
	return findings
}

// hasFieldError reports whether an error finding already targets one of columns.
func hasFieldError(findings []Finding, columns ...string) bool {
	for _, f := range findings {
		if !f.Blocking() {
			continue
		}
		for _, c := range columns {
			if f.Field == c && f.Code != CodeRequired {
				return true
			}
		}
	}
	return false
}
