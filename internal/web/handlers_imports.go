package web

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/productimport/internal/core"
)

// multipartMemory is how much of a multipart body is kept in memory before
// the standard library spills it to disk.
const multipartMemory = 32 << 20

// multipartOverhead allows for part headers and form fields on top of the file.
const multipartOverhead = 1 << 20

// formFile reads the "file" part of a size-limited multipart request.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	maxSize := s.service.Options().MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize)
		}
		return nil, nil, badParam("multipart form", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, core.ErrNoFile
	}
	return file, header, nil
}

// handleSubmit stores an upload and queues its import.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.formFile(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	req := core.SubmitRequest{
		FileName: header.Filename,
		Charset:  strings.TrimSpace(r.FormValue("charset")),
		Body:     file,
	}
	if raw := strings.TrimSpace(r.FormValue("catalog_id")); raw != "" {
		id, err := core.ParseID(raw)
		if err != nil {
			respondError(w, r, badParam("catalog_id", err))
			return
		}
		req.CatalogID = &id
	}

	job, err := s.service.Submit(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/imports/"+job.ID.String())
	writeJSON(w, http.StatusAccepted, job)
}

// handleListImports lists jobs, newest first, optionally filtered by status.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	var q core.JobQuery
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		raw = strings.ToUpper(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		st := core.JobStatus(raw)
		if !st.Valid() {
			respondError(w, r, badParam("status", fmt.Errorf("unknown status %q", raw)))
			return
		}
		q.Statuses = append(q.Statuses, st)
	}

	var err error
	if q.Limit, q.Offset, err = pageParams(r, 50); err != nil {
		respondError(w, r, err)
		return
	}

	jobs, err := s.service.Jobs(r.Context(), q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []core.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// handleGetImport returns one job.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	job, err := s.service.Job(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleFindings returns a page of findings as JSON, or all of them as CSV
// with ?format=csv.
func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	q := core.FindingQuery{
		Severity: core.Severity(strings.ToLower(r.URL.Query().Get("severity"))),
		Type:     core.FindingType(strings.ToLower(r.URL.Query().Get("type"))),
	}
	asCSV := strings.EqualFold(r.URL.Query().Get("format"), "csv")
	if !asCSV {
		if q.Limit, q.Offset, err = pageParams(r, 100); err != nil {
			respondError(w, r, err)
			return
		}
	}

	page, err := s.service.Findings(r.Context(), id, q)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if !asCSV {
		writeJSON(w, http.StatusOK, page)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="findings_%s.csv"`, id))
	if err := core.WriteFindingsCSV(w, page.Findings); err != nil {
		respondError(w, r, err)
	}
}

// handlePause asks the worker to pause after the current row.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	job, err := s.service.Pause(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleResume queues a paused job from its checkpoint.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	job, err := s.service.Resume(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleCancel cancels a job, or asks its worker to stop.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	job, err := s.service.Cancel(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleRetry re-runs the unprocessed rows of a failed job from a re-upload
// of the same file.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	file, _, err := s.formFile(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	job, err := s.service.Retry(r.Context(), id, file)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleTemplate downloads the import template.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	var catalogID *int64
	if raw := r.URL.Query().Get("catalog_id"); raw != "" {
		id, err := core.ParseID(raw)
		if err != nil {
			respondError(w, r, badParam("catalog_id", err))
			return
		}
		catalogID = &id
	}

	format := core.FormatCSV
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "csv":
	case "xlsx":
		format = core.FormatXLSX
	default:
		respondError(w, r, badParam("format", fmt.Errorf("unknown template format %q", r.URL.Query().Get("format"))))
		return
	}

	tmpl, err := s.service.Template(r.Context(), catalogID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	contentType := "text/csv"
	if format == core.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="product_import_template.%s"`, format))
	if err := tmpl.Write(w, format); err != nil {
		respondError(w, r, err)
	}
}

// handleLimiterStatus reports worker slot usage.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// pageParams reads limit and offset. A missing limit uses def; limit is capped at 1000.
func pageParams(r *http.Request, def int) (limit, offset int, err error) {
	limit = def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, badParam("limit", fmt.Errorf("limit must be a positive integer, got %q", raw))
		}
	}
	if limit > 1000 {
		limit = 1000
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, badParam("offset", fmt.Errorf("offset must be a non-negative integer, got %q", raw))
		}
	}
	return limit, offset, nil
}
