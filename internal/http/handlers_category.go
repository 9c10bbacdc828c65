package http

import "net/http"

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.api.ListCategories(r.Context())
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	OK(cats).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		FromError(r, err).Write(w)
		return
	}
	c, err := s.api.CreateCategory(r.Context(), req.Name)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	Created(c).Write(w)
}
