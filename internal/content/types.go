package content

import (
	"errors"
	"time"

	"copyflow.org/internal/workflow"
)

// Author identifies the creator of a content item. Set once, never mutated.
type Author struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Item is a piece of generated marketing copy moving through the approval
// workflow. GeneratedContent is immutable after creation; EditedContent is
// the mutable draft body. Version increments on every mutation and guards
// concurrent writers.
type Item struct {
	ID               string          `json:"id"`
	OrgID            string          `json:"org_id"`
	Title            string          `json:"title"`
	Prompt           string          `json:"prompt"`
	GeneratedContent string          `json:"generated_content"`
	EditedContent    string          `json:"edited_content"`
	Status           workflow.Status `json:"status"`
	CreatedBy        Author          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int64           `json:"version"`
	Publications     []Publication   `json:"publications,omitempty"`
}

// CommentAuthor identifies a comment's author with their role at the time of
// writing.
type CommentAuthor struct {
	UserID string        `json:"user_id"`
	Name   string        `json:"name"`
	Role   workflow.Role `json:"role"`
}

// Comment is append-only: never edited or deleted. CreatedAt and Seq are
// assigned by the store; Seq breaks timestamp ties in insertion order.
type Comment struct {
	ID        string        `json:"id"`
	ContentID string        `json:"content_id"`
	Text      string        `json:"text"`
	CreatedBy CommentAuthor `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
	Seq       uint64        `json:"seq"`
}

// Publication records a delivery of approved copy to an external channel.
type Publication struct {
	Channel     string    `json:"channel"`
	PublishedBy Author    `json:"published_by"`
	PublishedAt time.Time `json:"published_at"`
	ExternalRef string    `json:"external_ref,omitempty"`
}

var (
	// ErrNotFound covers missing items and cross-tenant reads alike, so an
	// id's existence never leaks across orgs.
	ErrNotFound = errors.New("content: not found")

	// ErrUnauthorized reports that the actor's role lacks permission for the
	// requested action in the item's current status.
	ErrUnauthorized = errors.New("content: unauthorized")

	// ErrValidation reports malformed input surfaced directly to the user.
	ErrValidation = errors.New("content: validation error")

	// ErrConflict reports that the item changed under the caller: the
	// expected version no longer matches the stored one.
	ErrConflict = errors.New("content: version conflict")

	// ErrStore wraps backend failures. Retryable by re-invoking the action.
	ErrStore = errors.New("content: store error")
)
