package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"expensegrid/internal/core"
	"expensegrid/internal/log"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Custom", "value").
		Body(map[string]int{"id": 7}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); got != contentTypeJSON {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("X-Custom"); got != "value" {
		t.Errorf("X-Custom = %q", got)
	}
	if w.Body.String() != "{\"id\":7}\n" {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestJSONResponseBuilder_NoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NoContent().Body("ignored").Write(w)

	if w.Code != http.StatusNoContent {
		t.Errorf("Status code = %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Body = %q, want empty", w.Body.String())
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	OK(make(chan int)).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d", w.Code)
	}
}

func TestFromError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(log.WithLogger(req.Context(), log.New(log.Config{Output: io.Discard})))

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"validation", core.NewValidationError("amount", "must be a decimal number"),
			http.StatusBadRequest, `{"error":"invalid amount: must be a decimal number"}`},
		{"wrapped not found", fmt.Errorf("update: %w", &core.NotFoundError{Entity: "expense", ID: 3}),
			http.StatusNotFound, `{"error":"expense 3 not found"}`},
		{"persistence", &core.PersistenceError{Op: "reconcile", Err: errors.New("constraint failed")},
			http.StatusInternalServerError, `{"error":"reconcile failed"}`},
		{"too large", &http.MaxBytesError{Limit: maxBodyBytes},
			http.StatusRequestEntityTooLarge, `{"error":"request body too large"}`},
		{"other", errors.New("boom"),
			http.StatusInternalServerError, `{"error":"internal server error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			FromError(req, tt.err).Write(w)
			if w.Code != tt.wantCode {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantCode)
			}
			if w.Body.String() != tt.wantBody+"\n" {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
