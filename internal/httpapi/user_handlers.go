package httpapi

import (
	"net/http"
	"strings"

	"copyflow.org/internal/audit"
	"copyflow.org/internal/auth"
	"copyflow.org/internal/workflow"
)

type userUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Role  *string `json:"role,omitempty"`
	OrgID *string `json:"org_id,omitempty"`
}

type listUsersResponse struct {
	Items []auth.User `json:"items"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	users, err := a.users.List(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listUsersResponse{Items: users})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := a.users.Get(r.Context(), id, userID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		a.patchUser(w, r, id, userID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) patchUser(w http.ResponseWriter, r *http.Request, id auth.Identity, userID string) {
	var req userUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var upd auth.UserUpdate
	upd.Name = req.Name
	if req.Role != nil {
		role := workflow.Role(*req.Role)
		upd.Role = &role
	}
	upd.OrgID = req.OrgID

	user, err := a.users.Update(r.Context(), id, userID, upd)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	fields := map[string]any{"user": user.ID}
	if req.Role != nil {
		fields["role"] = string(user.Role)
	}
	if req.OrgID != nil {
		fields["org_id"] = user.OrgID
	}
	_ = audit.LogEvent(r.Context(), "auth.user.updated", fields)

	writeJSON(w, http.StatusOK, user)
}
