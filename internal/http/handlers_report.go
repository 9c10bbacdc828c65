package http

import "net/http"

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	totals, err := s.api.MonthlyReport(r.Context())
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(totals).Write(w)
}

// handleDashboard renders the month overview, defaulting to the current
// UTC month.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), s.now())
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	overview, err := s.api.Dashboard(r.Context(), params.Year, params.Month)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(overview).Write(w)
}
