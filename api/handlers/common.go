package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/nexushq/nexus/internal/nexuserrors"
)

// WriteJSON writes data as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError renders a gateway error as the OpenAI-compatible error
// envelope, setting Retry-After when the error's context carries one.
func WriteError(w http.ResponseWriter, err *nexuserrors.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.String("agent", err.Agent),
			zap.Error(err.Cause),
		)
	}

	if retryAfter, ok := err.Context["retry_after"]; ok {
		if secs, ok := toInt(retryAfter); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}

	WriteJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": err.Message,
			"type":    err.Code.EnvelopeType(),
			"code":    string(err.Code),
			"context": err.Context,
		},
	})
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// DecodeJSONBody decodes r's body into dst, bounding it to 1 MB and writing
// the standard error envelope on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := nexuserrors.New(nexuserrors.ErrInvalidRequest, "request body is empty").WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, err, logger)
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	decoder := json.NewDecoder(r.Body)
	if decodeErr := decoder.Decode(dst); decodeErr != nil {
		err := nexuserrors.New(nexuserrors.ErrInvalidRequest, "invalid JSON body").
			WithCause(decodeErr).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, err, logger)
		return err
	}
	return nil
}

// ValidateContentType reports whether r carries an application/json body,
// writing the standard error envelope and returning false otherwise.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, parseErr := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if parseErr != nil || mediaType != "application/json" {
		err := nexuserrors.New(nexuserrors.ErrInvalidRequest, "Content-Type must be application/json").WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, err, logger)
		return false
	}
	return true
}

// ValidateURL reports whether s is a well-formed HTTP or HTTPS URL.
func ValidateURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ResponseWriter wraps http.ResponseWriter to capture the status code
// written, for request logging middleware.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter builds a ResponseWriter defaulting to 200 until
// WriteHeader is observed.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher so SSE responses still work through the
// wrapper.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
