package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ppiankov/petitrace/internal/llm"
	"github.com/ppiankov/petitrace/internal/model"
)

type errorBody struct {
	Error     string        `json:"error"`
	RetrySafe bool          `json:"retry_safe"`
	Issues    []model.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and the error envelope
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{
		Error:     err.Error(),
		RetrySafe: model.IsRetryable(err) || errors.Is(err, llm.ErrTimeout),
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body.Issues = ve.Issues
	}
	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	var (
		ve *model.ValidationError
		iv *model.InvariantViolationError
		mc *model.MergeConflictError
		ee *model.ExtractionError
	)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve), errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.As(err, &iv), errors.As(err, &mc),
		errors.Is(err, model.ErrConcurrentUpdate), errors.Is(err, model.ErrStageBlocked):
		return http.StatusConflict
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrLLMDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &ee), errors.Is(err, llm.ErrMalformedOutput):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
