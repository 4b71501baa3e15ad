package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"copyflow.org/internal/audit"
	"copyflow.org/internal/auth"
	"copyflow.org/internal/obs"
	"copyflow.org/internal/stream"
	"copyflow.org/internal/workflow"
)

// Generator produces copy from a prompt. Satisfied by genai.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service is the content lifecycle manager. Every operation takes the acting
// user's identity and enforces org scoping and the role policy before
// touching the store.
type Service struct {
	store Store
	gen   Generator
	hub   *stream.Hub
	now   func() time.Time
}

// NewService wires the lifecycle manager. hub may be nil when no live
// subscribers are served.
func NewService(store Store, gen Generator, hub *stream.Hub) *Service {
	return &Service{store: store, gen: gen, hub: hub, now: time.Now}
}

// CreateFromGeneration asks the generator for copy and persists the result as
// a new item in Needs Factual Review. Nothing is persisted when the
// generator fails; the upstream error passes through untouched.
func (s *Service) CreateFromGeneration(ctx context.Context, actor auth.Identity, title, prompt string) (*Item, error) {
	title = strings.TrimSpace(title)
	prompt = strings.TrimSpace(prompt)
	if title == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt must not be empty", ErrValidation)
	}
	if actor.Role == workflow.RoleGuest {
		return nil, fmt.Errorf("%w: guests cannot create content", ErrUnauthorized)
	}

	body, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		obs.CountGeneration("error")
		return nil, err
	}
	obs.CountGeneration("ok")

	now := s.now().UTC()
	item := &Item{
		OrgID:            actor.OrgID,
		Title:            title,
		Prompt:           prompt,
		GeneratedContent: body,
		EditedContent:    body,
		Status:           workflow.Initial,
		CreatedBy:        Author{UserID: actor.UserID, Name: actor.Name},
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	created, err := s.store.CreateContent(ctx, item)
	if err != nil {
		return nil, storeErr(err)
	}

	s.publish(stream.ContentEvent{
		Type:      stream.EventContentCreated,
		OrgID:     created.OrgID,
		ContentID: created.ID,
		Status:    string(created.Status),
		ActorID:   actor.UserID,
	})
	audit.LogEvent(ctx, "content.created", map[string]any{
		"content_id": created.ID,
		"title":      created.Title,
	})
	return created, nil
}

// Get returns a single item scoped to the actor's org.
func (s *Service) Get(ctx context.Context, actor auth.Identity, id string) (*Item, error) {
	it, err := s.store.GetContent(ctx, actor.OrgID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return it, nil
}

// List returns the actor's org items, optionally filtered.
func (s *Service) List(ctx context.Context, actor auth.Identity, f ListFilter) ([]Item, error) {
	items, err := s.store.ListContent(ctx, actor.OrgID, f)
	if err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

// ListActionItems returns the org items currently waiting on the actor's
// role, that is, items in a status where the role has at least one permitted
// action.
func (s *Service) ListActionItems(ctx context.Context, actor auth.Identity) ([]Item, error) {
	var actionable []workflow.Status
	for _, st := range workflow.Statuses {
		if len(workflow.PermittedActions(actor.Role, st)) > 0 {
			actionable = append(actionable, st)
		}
	}
	if len(actionable) == 0 {
		return []Item{}, nil
	}
	items, err := s.store.ListContent(ctx, actor.OrgID, ListFilter{Statuses: actionable})
	if err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

// EditDraft replaces the edited body of an item. Permitted only while the
// actor's role has at least one workflow action available in the item's
// current status. The generated body is never touched.
func (s *Service) EditDraft(ctx context.Context, actor auth.Identity, id, body string, ifVersion int64) (*Item, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: draft body must not be empty", ErrValidation)
	}
	it, err := s.store.GetContent(ctx, actor.OrgID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !workflow.CanEditDraft(actor.Role, it.Status) {
		audit.LogEvent(ctx, "content.edit.unauthorized", map[string]any{
			"content_id": id,
			"status":     string(it.Status),
		})
		return nil, fmt.Errorf("%w: role %s cannot edit drafts in status %q", ErrUnauthorized, actor.Role, it.Status)
	}
	if ifVersion != 0 && ifVersion != it.Version {
		return nil, fmt.Errorf("%w: content %s at version %d, expected %d", ErrConflict, id, it.Version, ifVersion)
	}

	updated, err := s.store.UpdateContent(ctx, actor.OrgID, id, it.Version, Update{
		EditedContent: &body,
		UpdatedAt:     s.now().UTC(),
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.publish(stream.ContentEvent{
		Type:      stream.EventDraftEdited,
		OrgID:     updated.OrgID,
		ContentID: updated.ID,
		Status:    string(updated.Status),
		ActorID:   actor.UserID,
	})
	audit.LogEvent(ctx, "content.draft_edited", map[string]any{
		"content_id": updated.ID,
	})
	return updated, nil
}

// Transition applies a workflow action to an item. The role policy is
// checked before the transition table so that a permitted-but-misplaced
// action and a forbidden one are reported distinctly. When ifVersion is
// nonzero the caller's view is checked against the stored version first.
func (s *Service) Transition(ctx context.Context, actor auth.Identity, id string, action workflow.Action, ifVersion int64) (*Item, error) {
	it, err := s.store.GetContent(ctx, actor.OrgID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if ifVersion != 0 && ifVersion != it.Version {
		obs.CountTransition(string(action), "conflict")
		return nil, fmt.Errorf("%w: content %s at version %d, expected %d", ErrConflict, id, it.Version, ifVersion)
	}

	if !permitted(actor.Role, it.Status, action) {
		obs.CountTransition(string(action), "unauthorized")
		audit.LogEvent(ctx, "content.transition.unauthorized", map[string]any{
			"content_id": id,
			"action":     string(action),
			"status":     string(it.Status),
		})
		return nil, fmt.Errorf("%w: role %s may not %s in status %q", ErrUnauthorized, actor.Role, action, it.Status)
	}

	next, err := workflow.Apply(it.Status, actor.Role, action)
	if err != nil {
		obs.CountTransition(string(action), "invalid")
		audit.LogEvent(ctx, "content.transition.invalid", map[string]any{
			"content_id": id,
			"action":     string(action),
			"status":     string(it.Status),
		})
		return nil, err
	}

	updated, err := s.store.UpdateContent(ctx, actor.OrgID, id, it.Version, Update{
		Status:    &next,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			obs.CountTransition(string(action), "conflict")
		}
		return nil, storeErr(err)
	}
	obs.CountTransition(string(action), "ok")

	s.publish(stream.ContentEvent{
		Type:      stream.EventStatusChanged,
		OrgID:     updated.OrgID,
		ContentID: updated.ID,
		Status:    string(updated.Status),
		ActorID:   actor.UserID,
	})
	audit.LogEvent(ctx, "content.transition", map[string]any{
		"content_id": updated.ID,
		"action":     string(action),
		"from":       string(it.Status),
		"to":         string(updated.Status),
	})
	return updated, nil
}

// AddComment appends a comment to an item's thread. Text is trimmed and must
// be non-empty. Comments are allowed in every status, terminal included.
func (s *Service) AddComment(ctx context.Context, actor auth.Identity, contentID, text string) (*Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment text must not be empty", ErrValidation)
	}
	c := &Comment{
		Text: text,
		CreatedBy: CommentAuthor{
			UserID: actor.UserID,
			Name:   actor.Name,
			Role:   actor.Role,
		},
	}
	created, err := s.store.AddComment(ctx, actor.OrgID, contentID, c)
	if err != nil {
		return nil, storeErr(err)
	}

	s.publish(stream.ContentEvent{
		Type:      stream.EventCommentAdded,
		OrgID:     actor.OrgID,
		ContentID: contentID,
		ActorID:   actor.UserID,
	})
	audit.LogEvent(ctx, "content.comment_added", map[string]any{
		"content_id": contentID,
		"comment_id": created.ID,
	})
	return created, nil
}

// ListComments returns the item's thread ordered by creation time, oldest
// first. An item without comments yields an empty slice.
func (s *Service) ListComments(ctx context.Context, actor auth.Identity, contentID string) ([]Comment, error) {
	cs, err := s.store.ListComments(ctx, actor.OrgID, contentID)
	if err != nil {
		return nil, storeErr(err)
	}
	return cs, nil
}

// RecordPublication appends a publication record to an approved item. Items
// outside Approved cannot be published.
func (s *Service) RecordPublication(ctx context.Context, actor auth.Identity, id string, pub Publication) (*Item, error) {
	if pub.Channel == "" {
		return nil, fmt.Errorf("%w: channel must not be empty", ErrValidation)
	}
	it, err := s.store.GetContent(ctx, actor.OrgID, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if it.Status != workflow.StatusApproved {
		return nil, fmt.Errorf("%w: only approved content can be published, status is %q", ErrValidation, it.Status)
	}

	pub.PublishedBy = Author{UserID: actor.UserID, Name: actor.Name}
	if pub.PublishedAt.IsZero() {
		pub.PublishedAt = s.now().UTC()
	}
	updated, err := s.store.UpdateContent(ctx, actor.OrgID, id, it.Version, Update{
		AddPublication: &pub,
		UpdatedAt:      s.now().UTC(),
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.publish(stream.ContentEvent{
		Type:      stream.EventPublished,
		OrgID:     updated.OrgID,
		ContentID: updated.ID,
		Status:    string(updated.Status),
		ActorID:   actor.UserID,
	})
	audit.LogEvent(ctx, "content.published", map[string]any{
		"content_id": updated.ID,
		"channel":    pub.Channel,
	})
	return updated, nil
}

// Ping reports store reachability for health checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publish(evt stream.ContentEvent) {
	if s.hub != nil {
		s.hub.Publish(evt)
	}
}

func permitted(role workflow.Role, status workflow.Status, action workflow.Action) bool {
	for _, a := range workflow.PermittedActions(role, status) {
		if a == action {
			return true
		}
	}
	return false
}

// storeErr passes the package's sentinel errors through and wraps anything
// else as a backend failure.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnauthorized):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
}
