package models

// User is an authenticated user identity with role flags. The global usage
// counter only moves through atomic increments and never decreases.
type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	IsAdmin     bool     `json:"is_admin"`
	IsPowerUser bool     `json:"is_power_user"`
	IamGroups   []string `json:"iam_groups"`
	Usage       int64    `json:"usage"`
}

// ChatInstance is a deployed chat offering bound to a course. Configuration
// managed externally; read-only to this service apart from the admin limit
// update. UsageLimit -1 means unlimited, 0 blocks all non-admin use.
type ChatInstance struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CourseID   string `json:"course_id"`
	UsageLimit int64  `json:"usage_limit"`
	Model      string `json:"model"`
}

// UnlimitedUsageLimit is the sentinel for chat instances without a quota.
const UnlimitedUsageLimit int64 = -1

// UserServiceUsage is the per-(user, chat instance) token counter,
// provisioned lazily on first quota check.
type UserServiceUsage struct {
	UserID         string `json:"user_id"`
	ChatInstanceID string `json:"chat_instance_id"`
	UsageCount     int64  `json:"usage_count"`
}

// Message is a single entry in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamingOptions is the request payload whose messages are counted after
// a completed model call. Never persisted.
type StreamingOptions struct {
	Model    string    `json:"model"`
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
}

// UserStatus is the quota view shown to a user for one course.
type UserStatus struct {
	Usage  int64    `json:"usage"`
	Limit  int64    `json:"limit"`
	Model  string   `json:"model"`
	Models []string `json:"models"`
	IsTike bool     `json:"isTike"`
}
