package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// TemplateColumn describes one column of the downloadable import template.
type TemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // string, number, integer, id, list
	Example     string `json:"example"`
}

// Template is a header plus example rows a user can fill in.
type Template struct {
	Columns  []TemplateColumn `json:"columns"`
	Examples [][]string       `json:"examples"`
}

var columnDocs = map[string]TemplateColumn{
	ColProductName:          {Description: "Product name", Type: "string"},
	ColProductDescription:   {Description: "Product description", Type: "string"},
	ColSKU:                  {Description: "Unique stock keeping unit", Type: "string"},
	ColSlug:                 {Description: "URL slug; derived from the name when blank", Type: "string"},
	ColCostPrice:            {Description: "Purchase cost", Type: "number"},
	ColRegularPrice:         {Description: "List price", Type: "number"},
	ColSalePrice:            {Description: "Selling price; must not exceed regular_price", Type: "number"},
	ColMinimumPrice:         {Description: "Lowest allowed sale price", Type: "number"},
	ColDiscountPercentage:   {Description: "Declared discount 0-100; checked against regular and sale price", Type: "number"},
	ColDiscountLabel:        {Description: "Free text shown next to the discount", Type: "string"},
	ColWholesalePrice:       {Description: "Price for bulk buyers", Type: "number"},
	ColWholesaleMinQuantity: {Description: "Units needed for the wholesale price", Type: "integer"},
	ColStockQuantity:        {Description: "Units in stock", Type: "integer"},
	ColCategoryID:           {Description: "Existing category id (use this OR category_name)", Type: "id"},
	ColCategoryName:         {Description: "Category name or path like Parent > Child; created if missing", Type: "string"},
	ColParentCategoryName:   {Description: "Parent of category_name; created if missing", Type: "string"},
	ColCatalogID:            {Description: "Existing catalog id (use this OR catalog_name)", Type: "id"},
	ColCatalogName:          {Description: "Catalog name; created if missing", Type: "string"},
	ColSupplierID:           {Description: "Existing supplier id (use this OR supplier_name)", Type: "id"},
	ColSupplierName:         {Description: "Supplier name; created if missing", Type: "string"},
}

var exampleRows = []map[string]string{
	{
		ColProductName:        "Classic Cotton T-Shirt",
		ColProductDescription: "Soft crew-neck tee",
		ColSKU:                "TSH-001",
		ColCostPrice:          "8.50",
		ColRegularPrice:       "25.00",
		ColSalePrice:          "20.00",
		ColDiscountPercentage: "20",
		ColStockQuantity:      "150",
		ColCategoryName:       "Apparel > T-Shirts",
		ColCatalogName:        "Summer Collection",
		ColSupplierName:       "Acme Textiles",
	},
	{
		ColProductName:          "Canvas Tote Bag",
		ColProductDescription:   "Reusable shopping bag",
		ColSKU:                  "BAG-014",
		ColCostPrice:            "3.20",
		ColRegularPrice:         "12.00",
		ColSalePrice:            "12.00",
		ColWholesalePrice:       "9.00",
		ColWholesaleMinQuantity: "20",
		ColStockQuantity:        "80",
		ColCategoryName:         "Bags",
		ColCatalogName:          "Summer Collection",
		ColSupplierName:         "Acme Textiles",
	},
}

// illustrativeAttributes fill the template of a catalog with no attributes yet.
var illustrativeAttributes = []Attribute{
	{Name: "Color", Type: AttributeColor},
	{Name: "Size", Type: AttributeSize},
}

// AttributeHeader returns the attr_ column name for an attribute.
func AttributeHeader(name string) string {
	return AttributePrefix + strings.Join(strings.Fields(name), "_")
}

func attributeExample(a Attribute, row int) string {
	switch a.Type {
	case AttributeColor:
		return []string{"Red, Blue", "Natural"}[row%2]
	case AttributeSize:
		return []string{"S, M, L", "One Size"}[row%2]
	}
	return ""
}

// BuildTemplate lists the standard columns plus one attr_ column per
// attribute already used by products of the catalog.
func BuildTemplate(ctx context.Context, store CatalogStore, catalogID *int64, required []string) (*Template, error) {
	if len(required) == 0 {
		required = DefaultRequiredFields
	}
	isRequired := make(map[string]bool, len(required))
	for _, c := range required {
		isRequired[c] = true
	}

	attrs := illustrativeAttributes
	if catalogID != nil {
		found, err := store.CatalogAttributes(ctx, *catalogID)
		if err != nil {
			return nil, fmt.Errorf("catalog %d attributes: %w", *catalogID, err)
		}
		if len(found) > 0 {
			attrs = found
		}
	}

	t := &Template{}
	for _, name := range StandardColumns {
		col := columnDocs[name]
		col.Name = name
		col.Required = isRequired[name]
		col.Example = exampleRows[0][name]
		t.Columns = append(t.Columns, col)
	}
	for _, a := range attrs {
		t.Columns = append(t.Columns, TemplateColumn{
			Name:        AttributeHeader(a.Name),
			Description: fmt.Sprintf("Comma-separated %s values", a.Name),
			Type:        "list",
			Example:     attributeExample(a, 0),
		})
	}

	for i, ex := range exampleRows {
		row := make([]string, 0, len(t.Columns))
		for _, name := range StandardColumns {
			row = append(row, ex[name])
		}
		for _, a := range attrs {
			row = append(row, attributeExample(a, i))
		}
		t.Examples = append(t.Examples, row)
	}
	return t, nil
}

// Header returns the column names in order.
func (t *Template) Header() []string {
	h := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		h[i] = c.Name
	}
	return h
}

// WriteCSV writes the header and example rows as CSV.
func (t *Template) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Examples); err != nil {
		return err
	}
	return cw.Error()
}

const (
	templateSheet     = "Products"
	instructionsSheet = "Instructions"
)

// WriteXLSX writes a workbook with a styled Products sheet and an
// Instructions sheet describing every column.
func (t *Template) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return err
	}
	requiredStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return err
	}

	for i, col := range t.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		text, style := col.Name, headerStyle
		if col.Required {
			text, style = col.Name+" *", requiredStyle
		}
		f.SetCellValue(templateSheet, cell, text)
		f.SetCellStyle(templateSheet, cell, cell, style)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(templateSheet, colName, colName, 20)
	}
	for r, row := range t.Examples {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(templateSheet, cell, v)
		}
	}

	if _, err := f.NewSheet(instructionsSheet); err != nil {
		return err
	}
	lines := []string{
		"Product Import Instructions",
		"",
		"Columns marked * are required. Each row becomes one product.",
		"Use either an *_id column or the matching *_name column for category, catalog, and supplier.",
		"Names that do not exist yet are created; ids must already exist.",
		"attr_<Name> columns hold comma-separated values, e.g. attr_Color = Red, Blue.",
	}
	for i, l := range lines {
		f.SetCellValue(instructionsSheet, fmt.Sprintf("A%d", i+1), l)
	}

	start := len(lines) + 2
	for i, h := range []string{"Column", "Description", "Required", "Type", "Example"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, start)
		f.SetCellValue(instructionsSheet, cell, h)
		f.SetCellStyle(instructionsSheet, cell, cell, headerStyle)
	}
	for i, col := range t.Columns {
		row := start + 1 + i
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		f.SetCellValue(instructionsSheet, fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("B%d", row), col.Description)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("C%d", row), required)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("D%d", row), col.Type)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("E%d", row), col.Example)
	}
	f.SetColWidth(instructionsSheet, "A", "A", 25)
	f.SetColWidth(instructionsSheet, "B", "B", 60)
	f.SetColWidth(instructionsSheet, "C", "D", 12)
	f.SetColWidth(instructionsSheet, "E", "E", 30)

	idx, err := f.GetSheetIndex(templateSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	_, err = f.WriteTo(w)
	return err
}

// Write renders the template in the requested format.
func (t *Template) Write(w io.Writer, format Format) error {
	switch format {
	case FormatXLSX:
		return t.WriteXLSX(w)
	case FormatCSV, "":
		return t.WriteCSV(w)
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedFormat, format)
	}
}
