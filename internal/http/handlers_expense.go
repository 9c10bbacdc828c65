package http

import "net/http"

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q, err := parseExpenseQuery(r.URL.Query())
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	items, err := s.api.ListExpenses(r.Context(), q)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(items).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		FromError(r, err).Write(w)
		return
	}
	fields, err := req.Fields()
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	e, err := s.api.CreateExpense(r.Context(), fields)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	Created(e).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		FromError(r, err).Write(w)
		return
	}
	fields, err := req.Fields()
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	e, err := s.api.UpdateExpense(r.Context(), id, fields)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(e).Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	if err := s.api.DeleteExpense(r.Context(), id); err != nil {
		FromError(r, err).Write(w)
		return
	}
	NoContent().Write(w)
}

// handleBulkSave reconciles the grid: every row is created or updated and
// every listed id deleted, all or nothing.
func (s *Server) handleBulkSave(w http.ResponseWriter, r *http.Request) {
	var req bulkSaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		FromError(r, err).Write(w)
		return
	}
	saved, err := s.api.Reconcile(r.Context(), req.Expenses, req.DeletedRows)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(saved).Write(w)
}
