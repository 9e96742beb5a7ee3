package content

import (
	"time"
)

// ExtractionResult is the outcome for exactly one requested URL. Failures are
// data, not errors: a batch of N URLs yields N results and a per-URL failure
// never aborts the rest of the batch.
type ExtractionResult struct {
	// SourceURL is the URL this result corresponds to, exactly as requested.
	SourceURL string `json:"source_url"`
	// Success reports whether structured data was extracted.
	Success bool `json:"success"`
	// Data holds the extracted structure when Success is true.
	Data map[string]any `json:"data,omitempty"`
	// Error carries the failure cause when Success is false.
	Error string `json:"error,omitempty"`
}

// Failure builds a failed ExtractionResult for url.
func Failure(url string, err error) ExtractionResult {
	msg := "extraction failed"
	if err != nil {
		msg = err.Error()
	}
	return ExtractionResult{SourceURL: url, Error: msg}
}

// FieldChange records one field's transition between two monitoring polls.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ChangeEvent reports that at least one field of a monitored URL's extracted
// snapshot differs from the previous poll. Unchanged URLs emit nothing.
type ChangeEvent struct {
	URL           string                 `json:"url"`
	ChangedFields map[string]FieldChange `json:"changed_fields"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Cookie is one authentication cookie supplied to LoginWithCookies. The shape
// mirrors what browsers export; Expires is optional.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HTTPOnly bool       `json:"http_only,omitempty"`
}

// LoginCredentials carries the cookie set plus the caller identity a login
// context is registered under.
type LoginCredentials struct {
	Cookies  []Cookie `json:"cookies"`
	Source   string   `json:"source"`
	SourceID string   `json:"source_id"`
}

// PublishRequest describes content to push to a platform.
type PublishRequest struct {
	// Kind selects the platform-side content form, e.g. "note" or "article".
	Kind string `json:"content_type"`
	// Title and Body are the textual payload.
	Title string `json:"title,omitempty"`
	Body  string `json:"content"`
	// Images are URLs or blob URIs of attachments, in display order.
	Images []string `json:"images,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	// ContextID optionally reuses an authenticated browser context obtained
	// from a prior login.
	ContextID string `json:"context_id,omitempty"`
}

// PublishReceipt is the platform's answer to a publish.
type PublishReceipt struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// HarvestOptions bounds a bulk listing of one account's content.
type HarvestOptions struct {
	// Limit caps the number of items returned; zero means the platform default.
	Limit int `json:"limit,omitempty"`
}
