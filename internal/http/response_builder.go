// Package http provides the JSON REST API.
//
// This file implements the Builder Pattern for constructing JSON responses
// so every handler sets status, headers and body the same way.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"expensegrid/internal/core"
	"expensegrid/internal/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A 204 never carries a body.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.statusCode == http.StatusNoContent || b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(data, '\n'))
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse creates an error response with the standard {"error": msg} body.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// Created creates a 201 response carrying v.
func Created(v any) *JSONResponseBuilder {
	return NewJSONResponse().Status(http.StatusCreated).Body(v)
}

// OK creates a 200 response carrying v.
func OK(v any) *JSONResponseBuilder {
	return NewJSONResponse().Body(v)
}

// NoContent creates an empty 204 response.
func NoContent() *JSONResponseBuilder {
	return NewJSONResponse().Status(http.StatusNoContent)
}

// FromError maps a service error onto a response. Validation errors become
// 400 and missing records 404, both with their message. Everything else is
// a 500 whose details only reach the log.
func FromError(r *http.Request, err error) *JSONResponseBuilder {
	var (
		validation *core.ValidationError
		notFound   *core.NotFoundError
		persist    *core.PersistenceError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validation):
		return BadRequestError(validation.Error())
	case errors.As(err, &notFound):
		return NotFoundError(notFound.Error())
	case errors.As(err, &tooLarge):
		return ErrorResponse(http.StatusRequestEntityTooLarge, "request body too large")
	}

	fields := log.NewFields().WithError(err)
	log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed", fields.ToSlice()...)
	if errors.As(err, &persist) {
		return InternalServerError(persist.Error())
	}
	return InternalServerError("internal server error")
}
