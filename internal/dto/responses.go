package dto

import "github.com/minwoneasy/minwon-api/internal/domain"

// UserInfoResponse wraps the resolved caller
type UserInfoResponse struct {
	User domain.Identity `json:"user"`
}

// TokenResponse hands the session access token to a browser client
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	Username    string `json:"username"`
}

// SessionDebugResponse describes the session without exposing token values
type SessionDebugResponse struct {
	Keys         []string `json:"keys"`
	HasUser      bool     `json:"has_user"`
	HasToken     bool     `json:"has_token"`
	Valid        bool     `json:"valid"`
	ExpiresAt    *int64   `json:"expires_at,omitempty"`
	Expired      bool     `json:"expired"`
	SessionError string   `json:"session_error,omitempty"`
}

// UploadResponse lists the stored attachments
type UploadResponse struct {
	Files []domain.File `json:"files"`
}

// ProcessComplaintResponse is the combined OCR, transform and classify result
type ProcessComplaintResponse struct {
	Success      bool    `json:"success"`
	OriginalText string  `json:"original_text"`
	FormalText   string  `json:"formal_text"`
	Department   string  `json:"department"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
	OCRText      *string `json:"ocr_text"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}
