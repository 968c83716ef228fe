package dto

// CreateComplaintRequest represents a complaint submission
type CreateComplaintRequest struct {
	InputText       *string `json:"input_text"`
	Location        *string `json:"location"`
	LocationDetails *string `json:"location_details"`
	CategoryID      *int64  `json:"category_id"`
	DepartmentID    *int64  `json:"department_id"`
	Status          *string `json:"status"`
}

// UpdateComplaintRequest is a partial update; nil fields are left alone
type UpdateComplaintRequest struct {
	InputText       *string `json:"input_text"`
	ProcessedText   *string `json:"processed_text"`
	Location        *string `json:"location"`
	LocationDetails *string `json:"location_details"`
	CategoryID      *int64  `json:"category_id"`
	DepartmentID    *int64  `json:"department_id"`
	Status          *string `json:"status"`
}

// ProcessTextRequest is the JSON body of the text-only classifier routes
type ProcessTextRequest struct {
	RawText string  `json:"raw_text" binding:"required"`
	OCRText *string `json:"ocr_text"`
}
