package core

import (
	"time"

	"github.com/google/uuid"
)

// FindingType classifies where in the pipeline a finding was produced.
type FindingType string

const (
	FindingValidation FindingType = "validation"
	FindingProcessing FindingType = "processing"
	FindingDatabase   FindingType = "database"
	FindingSystem     FindingType = "system"
)

// Severity controls whether a finding blocks its row.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rank orders severities for listing: errors first.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Finding codes. Stable across releases so clients can key on them.
const (
	CodeRequired          = "REQUIRED"
	CodeInvalidNumber     = "INVALID_NUMBER"
	CodeInvalidInteger    = "INVALID_INTEGER"
	CodeOutOfRange        = "OUT_OF_RANGE"
	CodeMissingReference  = "MISSING_REFERENCE"
	CodeInvalidReference  = "INVALID_REFERENCE"
	CodeAmbiguousRef      = "AMBIGUOUS_REFERENCE"
	CodeSaleAboveRegular  = "SALE_ABOVE_REGULAR"
	CodeSaleBelowMinimum  = "SALE_BELOW_MINIMUM"
	CodeSaleBelowCost     = "SALE_BELOW_COST"
	CodeWholesaleAbove    = "WHOLESALE_ABOVE_REGULAR"
	CodeDiscountMismatch  = "DISCOUNT_MISMATCH"
	CodeDuplicateSKU      = "DUPLICATE_SKU"
	CodeDuplicateSlug     = "DUPLICATE_SLUG"
	CodeLookupFailed      = "LOOKUP_FAILED"
	CodeResolveFailed     = "RESOLVE_FAILED"
	CodeCategoryCycle     = "CATEGORY_CYCLE"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeMalformedRecord   = "MALFORMED_RECORD"
	CodeInvalidHeader     = "INVALID_HEADER"
	CodeSourceChanged     = "SOURCE_CHANGED"
	CodeSourceUnreadable  = "SOURCE_UNREADABLE"
	CodeFindingsUnsaved   = "FINDINGS_UNSAVED"
)

// Finding is one structured message attached to a row of a job.
type Finding struct {
	Seq       int64       `json:"-"`
	JobID     uuid.UUID   `json:"job_id"`
	Row       int         `json:"row"`
	Field     string      `json:"field,omitempty"`
	Value     string      `json:"value,omitempty"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Type      FindingType `json:"type"`
	Severity  Severity    `json:"severity"`
	CreatedAt time.Time   `json:"created_at"`
}

// Blocking reports whether the finding prevents its row from being written.
func (f Finding) Blocking() bool {
	return f.Severity == SeverityError
}

// HasBlocking reports whether any finding blocks the row.
func HasBlocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Blocking() {
			return true
		}
	}
	return false
}

// FindingQuery filters and pages a finding listing.
type FindingQuery struct {
	Severity Severity
	Type     FindingType
	Limit    int // 0 means no limit
	Offset   int
}

// FindingPage is one page of findings plus the unpaged total.
type FindingPage struct {
	Findings []Finding `json:"findings"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Format identifies the tabular source format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Counters are the running row tallies of a job.
// Processed doubles as the resume checkpoint: it is the number of data rows consumed.
type Counters struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

// Job is one run of the import pipeline against one uploaded source file.
type Job struct {
	ID          uuid.UUID `json:"id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	Format      Format    `json:"format"`
	Charset     string    `json:"charset,omitempty"`
	ContentHash string    `json:"content_hash"`
	TempPath    string    `json:"-"`
	CatalogID   *int64    `json:"catalog_id,omitempty"`
	Status      JobStatus `json:"status"`
	Counters
	LastError string `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	ResumedAt   *time.Time `json:"resumed_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobQuery filters a job listing.
type JobQuery struct {
	Statuses []JobStatus
	Limit    int
	Offset   int
}

// Reference is a row's pointer to a related entity, by id or by name.
type Reference struct {
	ID   *int64
	Name string
}

// Empty reports whether neither an id nor a name was supplied.
func (r Reference) Empty() bool {
	return r.ID == nil && r.Name == ""
}

// AttributeType is the presentation type of an attribute.
type AttributeType string

const (
	AttributeSelect  AttributeType = "select"
	AttributeColor   AttributeType = "color"
	AttributeSize    AttributeType = "size"
	AttributeNumeric AttributeType = "numeric"
	AttributeText    AttributeType = "text"
)

// Category is a product category. Names are unique case-insensitively.
type Category struct {
	ID       int64
	Name     string
	ParentID *int64
}

// Supplier is a product supplier.
type Supplier struct {
	ID   int64
	Name string
}

// Catalog groups products, optionally under one supplier.
type Catalog struct {
	ID         int64
	Name       string
	SupplierID *int64
}

// Attribute is a named product property such as Color.
type Attribute struct {
	ID   int64         `json:"id"`
	Name string        `json:"name"`
	Type AttributeType `json:"type"`
}

// AttributeOption is one permissible value of an attribute.
type AttributeOption struct {
	ID          int64
	AttributeID int64
	Value       string
}

// AttributeLink associates a product with one attribute option.
type AttributeLink struct {
	AttributeID int64
	OptionID    int64
	Attribute   string
	Value       string
}

// Product is the catalog record written for one valid row.
type Product struct {
	ID                   int64
	JobID                uuid.UUID
	Name                 string
	Slug                 string
	Description          string
	SKU                  string
	CostPrice            float64
	RegularPrice         float64
	SalePrice            float64
	MinimumPrice         *float64
	DiscountPercentage   *float64
	DiscountLabel        string
	WholesalePrice       *float64
	WholesaleMinQuantity *int
	StockQuantity        int
	CategoryID           int64
	CatalogID            int64
	SupplierID           int64
}

// Progress is a snapshot broadcast to subscribers after each row.
type Progress struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
	Counters
	BytesRead  int64 `json:"bytes_read"`
	BytesTotal int64 `json:"bytes_total"`
	Done       bool  `json:"done"`
}

// Percent returns the progress as a percentage (0-100).
// Uses row-based progress if Total is known, otherwise falls back to byte-based.
func (p Progress) Percent() int {
	if p.Total > 0 {
		return (p.Processed * 100) / p.Total
	}
	if p.BytesTotal > 0 {
		return int((p.BytesRead * 100) / p.BytesTotal)
	}
	return 0
}
