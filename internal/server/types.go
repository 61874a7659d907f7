// Package server provides the HTTP server for the outro API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// ProcessVideoRequest is the HTTP request body for processing a video.
type ProcessVideoRequest struct {
	// VideoURL is a remote URL, an s3:// URI or, with IsBlob, a base64 data URI.
	VideoURL string `json:"videoUrl" validate:"required"`
	// Filename is the suggested download name. Defaults to video.mp4.
	Filename string `json:"filename"`
	// AspectRatio is required but informational: the outro is chosen from
	// the probed resolution.
	AspectRatio string `json:"aspectRatio" validate:"required"`
	// IsBlob marks VideoURL as inline data.
	IsBlob bool `json:"isBlob"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Details carries the underlying failure, when there is one.
	Details string `json:"details,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
