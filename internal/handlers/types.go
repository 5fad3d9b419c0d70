package handlers

import (
	"github.com/mluukkai/gptwrapper/internal/models"
)

// PrecheckRequest asks whether a user may proceed on a course with a model.
type PrecheckRequest struct {
	User     models.User `json:"user" binding:"required"`
	CourseID string      `json:"course_id" binding:"required"`
	Model    string      `json:"model" binding:"required"`
}

// PrecheckResponse reports the combined quota decision.
type PrecheckResponse struct {
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

// RecordRequest accounts a completed request's messages.
type RecordRequest struct {
	User     models.User             `json:"user" binding:"required"`
	CourseID string                  `json:"course_id" binding:"required"`
	Options  models.StreamingOptions `json:"options" binding:"required"`
}

// RecordResponse returns the token count added to both counters.
type RecordResponse struct {
	TokenCount int    `json:"token_count"`
	Error      string `json:"error,omitempty"`
}

// UpdateLimitRequest sets a chat instance's usage limit. -1 means unlimited.
type UpdateLimitRequest struct {
	UsageLimit *int64 `json:"usage_limit" binding:"required"`
}
