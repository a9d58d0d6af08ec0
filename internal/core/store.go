package core

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrConflict is returned by store create operations when a uniqueness
// constraint rejected the insert. Callers re-select and use the existing row.
var ErrConflict = errors.New("unique constraint conflict")

// ErrCheckpoint wraps a failure to save job progress together with a row.
// The row is rolled back and the run cannot continue.
var ErrCheckpoint = errors.New("save job progress")

// JobStore persists jobs and their counters.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	// UpdateJob saves job only if its stored status still equals expected.
	// Returns ErrStaleJob otherwise.
	UpdateJob(ctx context.Context, job *Job, expected JobStatus) error
	ListJobs(ctx context.Context, q JobQuery) ([]Job, error)
}

// FindingStore is the append-only backing store of the error sink.
type FindingStore interface {
	AppendFindings(ctx context.Context, findings []Finding) error
	// ListFindings returns findings ordered by row, severity rank, then insertion.
	ListFindings(ctx context.Context, jobID uuid.UUID, q FindingQuery) ([]Finding, int, error)
}

// UniquenessLookup checks persisted catalog state for identifier collisions.
type UniquenessLookup interface {
	SKUExists(ctx context.Context, sku string) (bool, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// CatalogStore reads and creates the entities products refer to.
// Find methods match names case-insensitively. Create methods return
// ErrConflict when a concurrent writer created the same name first.
type CatalogStore interface {
	UniquenessLookup

	FindCategory(ctx context.Context, name string) (Category, bool, error)
	CreateCategory(ctx context.Context, name string, parentID *int64) (int64, error)
	SetCategoryParent(ctx context.Context, id, parentID int64) error
	// CategoryParent returns the parent of a category, nil for a root or an
	// unknown id.
	CategoryParent(ctx context.Context, id int64) (*int64, error)

	FindSupplier(ctx context.Context, name string) (Supplier, bool, error)
	CreateSupplier(ctx context.Context, name string) (int64, error)

	FindCatalog(ctx context.Context, name string) (Catalog, bool, error)
	CreateCatalog(ctx context.Context, name string, supplierID *int64) (int64, error)
	SetCatalogSupplier(ctx context.Context, id, supplierID int64) error

	FindAttribute(ctx context.Context, name string) (Attribute, bool, error)
	CreateAttribute(ctx context.Context, name string, typ AttributeType) (int64, error)

	FindAttributeOption(ctx context.Context, attributeID int64, value string) (AttributeOption, bool, error)
	CreateAttributeOption(ctx context.Context, attributeID int64, value string) (int64, error)

	// CatalogAttributes lists attributes linked to any product of the catalog.
	CatalogAttributes(ctx context.Context, catalogID int64) ([]Attribute, error)

	// WithProductTx runs fn in one transaction, committing only if fn returns nil.
	WithProductTx(ctx context.Context, fn func(ProductTx) error) error
}

// ProductTx is the write surface available inside a row transaction.
type ProductTx interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
	InsertProduct(ctx context.Context, p *Product) (int64, error)
	LinkAttribute(ctx context.Context, productID int64, link AttributeLink) error
	// Checkpoint saves the job counters with the row's writes. It returns
	// ErrStaleJob when the job is no longer PROCESSING.
	Checkpoint(ctx context.Context, job *Job) error
}

// Store is everything the service needs from persistence.
type Store interface {
	JobStore
	FindingStore
	CatalogStore
}

// Signal is an out-of-band control request for a running job.
type Signal string

const (
	SignalNone   Signal = ""
	SignalPause  Signal = "pause"
	SignalCancel Signal = "cancel"
)

// Signaler carries pause and cancel requests to the worker running a job.
// Cancel takes precedence: raising pause never overwrites a pending cancel.
type Signaler interface {
	Raise(ctx context.Context, jobID uuid.UUID, sig Signal) error
	// Take returns the pending signal and clears it.
	Take(ctx context.Context, jobID uuid.UUID) (Signal, error)
}

// Dispatcher hands runnable job ids to workers.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	// Dequeue blocks until a job id is available or ctx is done.
	Dequeue(ctx context.Context) (uuid.UUID, error)
}
