package web

import (
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/productimport/internal/core"
)

// reportFindingLimit caps the findings shown on the HTML report.
const reportFindingLimit = 200

// handleJobPage renders a job report with its first findings.
func (s *Server) handleJobPage(w http.ResponseWriter, r *http.Request) {
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
	page, err := s.service.Findings(r.Context(), id, core.FindingQuery{Limit: reportFindingLimit})
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := JobReport(job, page).Render(r.Context(), w); err != nil {
		respondError(w, r, err)
	}
}

func reportTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05 MST")
}

func findingsCSVURL(job *core.Job) templ.SafeURL {
	return templ.URL("/api/imports/" + job.ID.String() + "/findings?format=csv")
}
