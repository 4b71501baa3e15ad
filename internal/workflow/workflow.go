// Package workflow implements the content approval state machine: which role
// may apply which action to an item in which status. It is pure — no I/O, no
// clock — so callers persist outcomes themselves.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Status is a workflow state of a content item. The set is closed.
type Status string

const (
	StatusNeedsFactualReview      Status = "Needs Factual Review"
	StatusNeedsBrandReview        Status = "Needs Brand Review"
	StatusChangesRequestedFactual Status = "Changes Requested (Factual)"
	StatusChangesRequestedBrand   Status = "Changes Requested (Brand)"
	StatusApproved                Status = "Approved"
	StatusRejected                Status = "Rejected"
)

// Initial is the status assigned to every freshly created content item.
const Initial = StatusNeedsFactualReview

// Statuses lists all workflow states in display order.
var Statuses = []Status{
	StatusNeedsFactualReview,
	StatusNeedsBrandReview,
	StatusChangesRequestedFactual,
	StatusChangesRequestedBrand,
	StatusApproved,
	StatusRejected,
}

// Role is a fixed user category with a single canonical casing.
type Role string

const (
	RoleContentCreator Role = "Content Creator"
	RoleJuniorMarketer Role = "Junior Marketer"
	RoleSeniorEditor   Role = "Senior Editor"
	RoleAdmin          Role = "Admin"
	RoleGuest          Role = "Guest"
)

// Roles lists all known roles.
var Roles = []Role{
	RoleContentCreator,
	RoleJuniorMarketer,
	RoleSeniorEditor,
	RoleAdmin,
	RoleGuest,
}

// Action is a review decision a user can request on a content item.
type Action string

const (
	ActionApprove        Action = "Approve"
	ActionRequestChanges Action = "Request Changes"
	ActionReject         Action = "Reject"
	ActionResubmit       Action = "Resubmit"
)

// Actions lists all known actions.
var Actions = []Action{
	ActionApprove,
	ActionRequestChanges,
	ActionReject,
	ActionResubmit,
}

var (
	// ErrInvalidTransition reports an (status, role, action) triple with no
	// row in the transition table, including any action on a terminal status.
	ErrInvalidTransition = errors.New("workflow: invalid transition")

	// ErrUnknownStatus reports a status outside the closed set.
	ErrUnknownStatus = errors.New("workflow: unknown status")

	// ErrUnknownRole reports a role outside the closed set.
	ErrUnknownRole = errors.New("workflow: unknown role")

	// ErrUnknownAction reports an action outside the closed set.
	ErrUnknownAction = errors.New("workflow: unknown action")
)

type transitionKey struct {
	status Status
	role   Role
	action Action
}

// transitions is the single source of truth for the state machine. The role
// policy and edit gating are derived from it, so the two can never drift.
var transitions = map[transitionKey]Status{
	{StatusNeedsFactualReview, RoleJuniorMarketer, ActionApprove}:        StatusNeedsBrandReview,
	{StatusNeedsFactualReview, RoleJuniorMarketer, ActionRequestChanges}: StatusChangesRequestedFactual,
	{StatusNeedsBrandReview, RoleSeniorEditor, ActionApprove}:            StatusApproved,
	{StatusNeedsBrandReview, RoleSeniorEditor, ActionRequestChanges}:     StatusChangesRequestedBrand,
	{StatusNeedsBrandReview, RoleSeniorEditor, ActionReject}:             StatusRejected,
	{StatusChangesRequestedFactual, RoleContentCreator, ActionResubmit}:  StatusNeedsFactualReview,
	{StatusChangesRequestedBrand, RoleContentCreator, ActionResubmit}:    StatusNeedsFactualReview,
}

// Apply validates the requested action against the transition table and
// returns the next status. It touches nothing else: persistence of the new
// status and the refreshed update timestamp is the caller's business.
func Apply(status Status, role Role, action Action) (Status, error) {
	next, ok := transitions[transitionKey{status, role, action}]
	if !ok {
		return "", fmt.Errorf("%w: %s by %s on %q", ErrInvalidTransition, action, role, status)
	}
	return next, nil
}

// PermittedActions returns the actions the role may apply to an item in the
// given status, in the stable order of Actions. Any (role, status) pair
// without a table row yields an empty slice: default deny.
func PermittedActions(role Role, status Status) []Action {
	var out []Action
	for _, action := range Actions {
		if _, ok := transitions[transitionKey{status, role, action}]; ok {
			out = append(out, action)
		}
	}
	return out
}

// CanEditDraft reports whether the role may edit the draft body while the
// item is in the given status. The rule is the strict gating variant: an
// actor may edit exactly when they hold at least one permitted workflow
// action in the current status — the creator during either changes-requested
// state, or the reviewer whose queue the item currently sits in. Terminal
// statuses have no rows, so nobody edits approved or rejected copy.
func CanEditDraft(role Role, status Status) bool {
	return len(PermittedActions(role, status)) > 0
}

// Terminal reports whether the status has no outgoing transitions.
func Terminal(status Status) bool {
	return status == StatusApproved || status == StatusRejected
}

// legacyRoles maps the ad hoc role spellings found in pre-migration user
// records to the canonical enumeration.
var legacyRoles = map[string]Role{
	"creator":         RoleContentCreator,
	"content creator": RoleContentCreator,
	"junior marketer": RoleJuniorMarketer,
	"marketer":        RoleJuniorMarketer,
	"reviewer":        RoleJuniorMarketer,
	"senior editor":   RoleSeniorEditor,
	"editor":          RoleSeniorEditor,
	"approver":        RoleSeniorEditor,
	"admin":           RoleAdmin,
	"guest":           RoleGuest,
}

// ParseRole normalizes a stored or user-supplied role string to its
// canonical form, accepting legacy casings and aliases.
func ParseRole(raw string) (Role, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownRole)
	}
	if role, ok := legacyRoles[key]; ok {
		return role, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// ParseStatus validates a stored status string against the closed set.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	for _, s := range Statuses {
		if string(s) == trimmed {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// ParseAction validates a requested action string against the closed set.
// Matching ignores case so HTTP clients are not casing-sensitive.
func ParseAction(raw string) (Action, error) {
	trimmed := strings.TrimSpace(raw)
	for _, a := range Actions {
		if strings.EqualFold(string(a), trimmed) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
}
