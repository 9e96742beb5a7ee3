package task

import "time"

// InteractionType discriminates what a suspended task is asking its user
// for.
type InteractionType string

// Interaction types the confirm handler dispatches on. Types beyond the
// first three all share the custom-approval semantics: store the user's
// answer, then retry or fail on their verdict.
const (
	InteractionLoginConfirm   InteractionType = "login_confirm"
	InteractionContentReview  InteractionType = "content_review"
	InteractionImageSelect    InteractionType = "image_select"
	InteractionTextEdit       InteractionType = "text_edit"
	InteractionChoiceSelect   InteractionType = "choice_select"
	InteractionCustomApproval InteractionType = "custom_approval"
)

// InteractionStatus tracks a pending interaction's own lifecycle, separate
// from the task's.
type InteractionStatus string

const (
	InteractionPending   InteractionStatus = "pending"
	InteractionConfirmed InteractionStatus = "confirmed"
	InteractionRejected  InteractionStatus = "rejected"
	InteractionCancelled InteractionStatus = "cancelled"
	InteractionTimedOut  InteractionStatus = "timeout"
)

// DefaultInteractionTimeoutSeconds bounds how long a suspended task's
// background wait blocks before proceeding anyway.
const DefaultInteractionTimeoutSeconds = 120

// Interaction describes one request for human input. It lives embedded in
// the owning task's result under the "interaction" key while pending; it is
// not an independently addressable record.
//
// Data depends on the type: a login carries {"context_id", "platform",
// "qrcode_url"}, a review carries the draft under inspection, a selection
// carries the candidate options.
type Interaction struct {
	InteractionID string            `json:"interaction_id"`
	Type          InteractionType   `json:"interaction_type"`
	Status        InteractionStatus `json:"status"`

	TaskID   string `json:"task_id"`
	TaskStep int    `json:"task_step,omitempty"`

	Data map[string]any `json:"data,omitempty"`

	UserResponse map[string]any `json:"user_response,omitempty"`
	UserComment  string         `json:"user_comment,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	// ResumePoint names the step the unit of work should fast-forward to
	// after the retry replays it.
	ResumePoint string `json:"resume_point,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}
