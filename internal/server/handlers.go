package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/outro-api/internal/pipeline"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeBodyTooLarge     = "BODY_TOO_LARGE"
	CodeValidation       = "VALIDATION_ERROR"
	CodeAcquisition      = "ACQUISITION_ERROR"
	CodeProbe            = "PROBE_ERROR"
	CodeOutroFetch       = "OUTRO_FETCH_ERROR"
	CodeThumbnail        = "THUMBNAIL_EXTRACTION_ERROR"
	CodeConcatenation    = "CONCATENATION_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// errorCode maps a pipeline failure to the code naming its failed stage.
func errorCode(err error) string {
	switch pipeline.Kind(err) {
	case pipeline.ErrAcquisition:
		return CodeAcquisition
	case pipeline.ErrProbe:
		return CodeProbe
	case pipeline.ErrOutroFetch:
		return CodeOutroFetch
	case pipeline.ErrThumbnailExtraction:
		return CodeThumbnail
	case pipeline.ErrConcatenation:
		return CodeConcatenation
	default:
		return CodeInternal
	}
}

// defaultMaxBodyBytes bounds request bodies when no limit is configured.
const defaultMaxBodyBytes = 200 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	runner       pipeline.Runner
	validator    *validator.Validate
	logger       *slog.Logger
	maxBodyBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxBodyBytes limits the size of request bodies, which may carry an
// inline video.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(runner pipeline.Runner, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		runner:       runner,
		validator:    validator.New(),
		logger:       logger,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ProcessVideo handles POST /process-video requests. The finished video is
// the response body.
func (h *Handlers) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", CodeMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req ProcessVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), CodeBodyTooLarge)
			return
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", CodeInvalidJSON)
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "Missing required fields: videoUrl, aspectRatio", CodeValidation)
		return
	}

	res, err := h.runner.Run(r.Context(), pipeline.Request{
		VideoURL:    req.VideoURL,
		Filename:    req.Filename,
		AspectRatio: req.AspectRatio,
		IsBlob:      req.IsBlob,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeError(w, http.StatusBadRequest, "Missing required fields: videoUrl, aspectRatio", CodeValidation)
			return
		}
		h.logger.Error("video processing failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to process video",
			Code:    errorCode(err),
			Details: pipeline.Details(err),
		})
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Session-Id", res.SessionID)
	w.Header().Set("X-Outro", res.Outro.String())
	w.Header().Set("X-Cover-Embedded", strconv.FormatBool(res.CoverEmbedded))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		h.logger.Warn("failed to write video response",
			slog.String("session_id", res.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
