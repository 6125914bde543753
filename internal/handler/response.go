package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"taxdesk/internal/service"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("http: failed to encode JSON response: %v", err)
		return err
	}

	return nil
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteCreated writes a 201 Created response with the given data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteOK writes a 200 OK response with the given data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

// WriteInternalError writes a 500 without exposing internal details
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// HandleServiceError maps service layer errors to appropriate HTTP responses
func HandleServiceError(w http.ResponseWriter, err error) {
	var (
		notFound   *service.NotFoundError
		validation *service.ValidationError
		business   *service.BusinessLogicError
		conflict   *service.ConflictError
	)

	switch {
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", notFound.Error())
	case errors.As(err, &validation):
		WriteValidationError(w, validation.Message)
	case errors.As(err, &business):
		WriteError(w, http.StatusBadRequest, "BUSINESS_LOGIC_ERROR", business.Message)
	case errors.As(err, &conflict):
		WriteError(w, http.StatusConflict, "CONFLICT", conflict.Message)
	default:
		log.Printf("http: unhandled service error: %v", err)
		WriteInternalError(w)
	}
}

// decodeJSON reads a JSON body, answering the client itself when it cannot
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return false
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return false
	}
	return true
}

// pathID parses a positive int64 path variable
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		WriteValidationError(w, "invalid campaign ID format")
		return 0, false
	}
	if id <= 0 {
		WriteValidationError(w, "campaign ID must be greater than 0")
		return 0, false
	}
	return id, true
}

// pagination reads page and per_page, capping per_page at 100
func pagination(r *http.Request) (page, perPage int) {
	query := r.URL.Query()

	page = 1
	if p, err := strconv.Atoi(query.Get("page")); err == nil && p > 0 {
		page = p
	}

	perPage = 20
	if pp, err := strconv.Atoi(query.Get("per_page")); err == nil && pp > 0 {
		perPage = pp
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
