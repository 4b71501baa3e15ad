package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"copyflow.org/internal/audit"
	"copyflow.org/internal/auth"
	"copyflow.org/internal/content"
	"copyflow.org/internal/genai"
	"copyflow.org/internal/publish"
	"copyflow.org/internal/workflow"
)

type generateRequest struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

type draftRequest struct {
	Body    string `json:"body"`
	Version int64  `json:"version,omitempty"`
}

type transitionRequest struct {
	Action  string `json:"action"`
	Version int64  `json:"version,omitempty"`
}

type commentRequest struct {
	Text string `json:"text"`
}

type publishRequest struct {
	Channel string `json:"channel"`
}

type strategyRequest struct {
	Prompt string `json:"prompt"`
}

type strategyResponse struct {
	Strategy string `json:"strategy"`
}

type listContentResponse struct {
	Items []content.Item `json:"items"`
}

type listCommentsResponse struct {
	Items []content.Comment `json:"items"`
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}

	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	item, err := a.items.CreateFromGeneration(r.Context(), id, req.Title, req.Prompt)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/content/"+item.ID)
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleContentCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if q.Get("queue") == "true" {
		items, err := a.items.ListActionItems(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listContentResponse{Items: items})
		return
	}

	var filter content.ListFilter
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := workflow.ParseStatus(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filter.Statuses = []workflow.Status{status}
	}
	if q.Get("mine") == "true" {
		filter.CreatedBy = id.UserID
	}

	items, err := a.items.List(r.Context(), id, filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listContentResponse{Items: items})
}

// handleContentResource routes /v1/content/{id} and its sub-resources.
func (a *API) handleContentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/content/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}

	contentID, sub, _ := strings.Cut(path, "/")
	if contentID == "" || strings.Contains(sub, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getContent(w, r, id, contentID)
	case "draft":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.putDraft(w, r, id, contentID)
	case "transition":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.postTransition(w, r, id, contentID)
	case "comments":
		switch r.Method {
		case http.MethodGet:
			a.listComments(w, r, id, contentID)
		case http.MethodPost:
			a.postComment(w, r, id, contentID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "publish":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.postPublish(w, r, id, contentID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getContent(w http.ResponseWriter, r *http.Request, id auth.Identity, contentID string) {
	item, err := a.items.Get(r.Context(), id, contentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) putDraft(w http.ResponseWriter, r *http.Request, id auth.Identity, contentID string) {
	var req draftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	item, err := a.items.EditDraft(r.Context(), id, contentID, req.Body, req.Version)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) postTransition(w http.ResponseWriter, r *http.Request, id auth.Identity, contentID string) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	action, err := workflow.ParseAction(req.Action)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	item, err := a.items.Transition(r.Context(), id, contentID, action, req.Version)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) listComments(w http.ResponseWriter, r *http.Request, id auth.Identity, contentID string) {
	comments, err := a.items.ListComments(r.Context(), id, contentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listCommentsResponse{Items: comments})
}

func (a *API) postComment(w http.ResponseWriter, r *http.Request, id auth.Identity, contentID string) {
	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	comment, err := a.items.AddComment(r.Context(), id, contentID, req.Text)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (a *API) postPublish(w http.ResponseWriter, r *http.Request, id auth.Identity, contentID string) {
	if a.publisher == nil {
		writeError(w, r, http.StatusServiceUnavailable, "publishing disabled")
		return
	}
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	item, err := a.publisher.Publish(r.Context(), id, contentID, req.Channel)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleStrategy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.strategist == nil {
		writeError(w, r, http.StatusServiceUnavailable, "strategy generation disabled")
		return
	}
	if _, ok := a.identity(w, r); !ok {
		return
	}

	var req strategyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, r, http.StatusBadRequest, "prompt is required")
		return
	}

	strategy, err := a.strategist.GenerateStrategy(r.Context(), req.Prompt)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, strategyResponse{Strategy: strategy})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, content.ErrValidation),
		errors.Is(err, workflow.ErrUnknownStatus),
		errors.Is(err, workflow.ErrUnknownAction),
		errors.Is(err, workflow.ErrUnknownRole),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, publish.ErrUnknownChannel):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, content.ErrUnauthorized), errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, content.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, content.ErrConflict),
		errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, genai.ErrUpstreamTimeout):
		writeError(w, r, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, genai.ErrUpstream), errors.Is(err, publish.ErrDelivery):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
