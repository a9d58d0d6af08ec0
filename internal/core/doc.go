// Package core provides the business logic for bulk product imports.
//
// The package has no transport dependencies. The HTTP server, the importctl
// command, and tests all drive it through [Service].
//
// # Pipeline
//
// A job reads one uploaded CSV or XLSX file and turns each valid row into a
// product. Every data row goes through the same stages:
//
//  1. [Decoder] yields rows in source order without buffering the file
//  2. [Validator] checks required fields, numbers, and pricing rules
//  3. [Resolver] maps category, catalog, and supplier references to ids,
//     creating named entities that do not exist yet
//  4. [MaterializeAttributes] turns attr_ columns into attribute option links
//  5. [Writer] inserts the product and its links in one transaction
//
// Rows that fail a stage are recorded in the [Sink] with their source line
// and the job moves on. A malformed record or an unusable header stops the
// job instead.
//
// # Job lifecycle
//
// Jobs move through the states in job.go. Workers claim runnable jobs with a
// compare-and-set on the status, and read pause and cancel requests from a
// [Signaler] between rows. Processed doubles as the checkpoint: a resumed or
// retried job skips that many data rows of the same file.
//
// # Error handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Each
// category has a code for support reference:
//
//   - IMP001-IMP008: job lifecycle
//   - FILE001-FILE006: source file
//   - VAL001-VAL002: header validation
//   - DB001-DB006: database
package core
