package content

import (
	"context"
	"time"

	"copyflow.org/internal/workflow"
)

// ListFilter narrows ListContent. Zero value means no filtering.
type ListFilter struct {
	// Statuses keeps only items in one of the given statuses.
	Statuses []workflow.Status
	// CreatedBy keeps only items created by the given user id.
	CreatedBy string
}

// Update describes a partial mutation of an item. Nil fields are left
// untouched. The store bumps Version and sets UpdatedAt on every apply.
type Update struct {
	EditedContent  *string
	Status         *workflow.Status
	AddPublication *Publication
	UpdatedAt      time.Time
}

// Store persists content items and their comment threads. All reads and
// writes are scoped to an org; an id that exists in another org behaves as
// absent. UpdateContent applies only when the stored version equals
// expectedVersion, otherwise it fails with ErrConflict.
type Store interface {
	CreateContent(ctx context.Context, item *Item) (*Item, error)
	GetContent(ctx context.Context, orgID, id string) (*Item, error)
	ListContent(ctx context.Context, orgID string, f ListFilter) ([]Item, error)
	UpdateContent(ctx context.Context, orgID, id string, expectedVersion int64, upd Update) (*Item, error)

	AddComment(ctx context.Context, orgID, contentID string, c *Comment) (*Comment, error)
	ListComments(ctx context.Context, orgID, contentID string) ([]Comment, error)

	Ping(ctx context.Context) error
}

func matches(it Item, f ListFilter) bool {
	if f.CreatedBy != "" && it.CreatedBy.UserID != f.CreatedBy {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if it.Status == s {
			return true
		}
	}
	return false
}
