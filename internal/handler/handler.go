package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"bikeshop/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies read by handlers.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but don't expose it to the client
		return
	}
}

// writeError writes an error response with the given status code, code and message.
func writeError(w http.ResponseWriter, status int, code, message string, logger zerolog.Logger) {
	logger.Warn().Str("error_code", code).Str("error", message).Int("status", status).Msg("request rejected")
	writeJSON(w, status, model.ErrorResponse{Error: code, Message: message})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError translates a service error into a response. Domain errors
// keep their code and message; anything else is reported as an internal error.
func writeServiceError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	var de *model.DomainError
	if !errors.As(err, &de) {
		logger.Error().Err(err).Msg("internal error")
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{
			Error:   model.ErrCodeInternalError,
			Message: "internal server error",
		})
		return
	}

	status := statusFor(de.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("error_code", de.Code).Int("status", status).Msg("request failed")
	} else {
		logger.Warn().Str("error_code", de.Code).Str("error", de.Message).Int("status", status).Msg("request rejected")
	}

	writeJSON(w, status, model.ErrorResponse{Error: de.Code, Message: de.Message, Fields: de.Fields})
}

// decodeAndValidate reads a JSON body into dst and checks its validation tags.
// Fields dst does not declare are ignored, so cart payloads may carry display
// data (names, images, prices) that is never read.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, false)
}

// decodeStrict is decodeAndValidate for small staff payloads, where an
// unknown field is a typo worth reporting.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}

	if err := dec.Decode(dst); err != nil {
		return &model.DomainError{
			Kind:    model.KindValidation,
			Code:    model.ErrCodeInvalidJSON,
			Message: describeDecodeError(err),
		}
	}
	if dec.More() {
		return &model.DomainError{
			Kind:    model.KindValidation,
			Code:    model.ErrCodeInvalidJSON,
			Message: "request body must contain a single JSON object",
		}
	}
	return model.Validate(dst)
}

const unknownFieldPrefix = "json: unknown field "

func describeDecodeError(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return "request body is empty"
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %q has the wrong type", typeErr.Field)
	case errors.As(err, &maxErr):
		return "request body is too large"
	case strings.HasPrefix(err.Error(), unknownFieldPrefix):
		// encoding/json has no typed error for unknown fields.
		return "unknown field " + strings.TrimPrefix(err.Error(), unknownFieldPrefix)
	default:
		return "invalid request body"
	}
}

// pagination parses ?limit= and ?offset=. Missing values are zero and left to
// the service defaults.
func pagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return 0, 0, model.NewValidationError("invalid limit parameter", map[string]string{"limit": "must be an integer"})
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil {
			return 0, 0, model.NewValidationError("invalid offset parameter", map[string]string{"offset": "must be an integer"})
		}
	}
	return limit, offset, nil
}

// pathUUID parses a UUID path parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, model.NewValidationError("invalid "+name+" format", map[string]string{name: "must be a UUID"})
	}
	return id, nil
}
