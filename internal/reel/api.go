package reel

import "time"

// UploadResponse is the body returned by POST /upload and by PUT /video/{id}.
type UploadResponse struct {
	Message string `json:"message"`
	FileID  string `json:"fileId"`
}

// MessageResponse is the body returned by operations with no payload of
// their own, such as DELETE /video/{id}.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the structured error body. Details is only populated for
// replace failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// VideoSummary is a single entry in the GET /videos listing.
type VideoSummary struct {
	ID          string    `json:"_id"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	Length      int64     `json:"length"`
	ContentType string    `json:"contentType"`
	UploadDate  time.Time `json:"uploadDate"`
	VideoURL    string    `json:"videoUrl"`
}
