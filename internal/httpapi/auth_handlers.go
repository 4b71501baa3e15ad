package httpapi

import (
	"net/http"
	"strings"
	"time"

	"copyflow.org/internal/audit"
	"copyflow.org/internal/auth"
)

type tokenRequest struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      auth.User `json:"user"`
}

const tokenTTL = time.Hour

// handleAuthToken exchanges an external uid for a signed token. The user
// record is created on first sight, which is the whole onboarding flow: new
// users land as Content Creator in a fresh personal workspace.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UID) == "" {
		writeError(w, r, http.StatusBadRequest, "uid is required")
		return
	}

	user, err := a.users.Ensure(r.Context(), req.UID, req.Name, req.Email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Name, string(user.Role), user.OrgID, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       user.ID,
		"role":       string(user.Role),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      *user,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	user, err := a.users.Get(r.Context(), id, id.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
