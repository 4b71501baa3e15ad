package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"copyflow.org/internal/auth"
	"copyflow.org/internal/content"
	"copyflow.org/internal/stream"
	"copyflow.org/internal/workflow"
)

type stubGenAI struct {
	body string
	err  error
}

func (g stubGenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.body, nil
}

func (g stubGenAI) GenerateStrategy(ctx context.Context, prompt string) (string, error) {
	return g.Generate(ctx, prompt)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	users   *auth.InMemoryUsers
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("COPYFLOW_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	userStore := auth.NewInMemoryUsers()
	users, err := auth.NewUsers(userStore)
	if err != nil {
		t.Fatalf("NewUsers: %v", err)
	}
	hub := stream.NewHub()
	gen := stubGenAI{body: "generated copy"}
	items := content.NewService(content.NewInMemory(), gen, hub)

	api := New(Config{
		Items:      items,
		Users:      users,
		Strategist: gen,
		Hub:        hub,
		Version:    "test",
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		users:   userStore,
		t:       t,
	}
}

// seedUser writes a user record directly so tests can control role and org.
func (c *apiClient) seedUser(id, name string, role workflow.Role, orgID string) {
	c.t.Helper()
	now := time.Now().UTC()
	if err := c.users.CreateUser(context.Background(), &auth.User{
		ID:        id,
		Name:      name,
		Email:     strings.ToLower(name) + "@example.com",
		Role:      role,
		OrgID:     orgID,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		c.t.Fatalf("seed user %s: %v", id, err)
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	return c.do(http.MethodGet, strings.TrimPrefix(u, c.baseURL), nil, headers)
}

func (c *apiClient) bearerFor(uid string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"uid": uid}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("token status for %s: %d", uid, resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatal("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIContentApprovalFlow(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("creator", "Casey", workflow.RoleContentCreator, "org-1")
	api.seedUser("marketer", "Riley", workflow.RoleJuniorMarketer, "org-1")
	api.seedUser("editor", "Jordan", workflow.RoleSeniorEditor, "org-1")
	creator := api.bearerFor("creator")
	marketer := api.bearerFor("marketer")
	editor := api.bearerFor("editor")

	// Generate a new item.
	resp := api.post("/v1/content/generate", map[string]any{
		"title":  "Launch post",
		"prompt": "write a launch post",
	}, creator)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate status: %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/v1/content/") {
		t.Fatalf("location header: %q", loc)
	}
	item := decode[content.Item](t, resp)
	if item.Status != workflow.StatusNeedsFactualReview {
		t.Fatalf("status = %q", item.Status)
	}
	if item.GeneratedContent != "generated copy" {
		t.Fatalf("generated content = %q", item.GeneratedContent)
	}

	// The marketer's queue shows the item; the editor's does not.
	resp = api.get("/v1/content", url.Values{"queue": []string{"true"}}, marketer)
	queue := decode[listContentResponse](t, resp)
	if len(queue.Items) != 1 || queue.Items[0].ID != item.ID {
		t.Fatalf("marketer queue = %+v", queue.Items)
	}
	resp = api.get("/v1/content", url.Values{"queue": []string{"true"}}, editor)
	queue = decode[listContentResponse](t, resp)
	if len(queue.Items) != 0 {
		t.Fatalf("editor queue = %+v", queue.Items)
	}

	// Factual approval moves it to brand review.
	resp = api.post("/v1/content/"+item.ID+"/transition", map[string]any{
		"action":  "Approve",
		"version": item.Version,
	}, marketer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transition status: %d", resp.StatusCode)
	}
	item = decode[content.Item](t, resp)
	if item.Status != workflow.StatusNeedsBrandReview {
		t.Fatalf("status = %q", item.Status)
	}

	// A stale retry of the same approval conflicts.
	resp = api.post("/v1/content/"+item.ID+"/transition", map[string]any{
		"action":  "Approve",
		"version": item.Version - 1,
	}, marketer)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale transition status: %d", resp.StatusCode)
	}

	// Brand approval lands in Approved.
	resp = api.post("/v1/content/"+item.ID+"/transition", map[string]any{
		"action": "Approve",
	}, editor)
	item = decode[content.Item](t, resp)
	if item.Status != workflow.StatusApproved {
		t.Fatalf("status = %q", item.Status)
	}
}

func TestAPITransitionRoleChecks(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("creator", "Casey", workflow.RoleContentCreator, "org-1")
	api.seedUser("editor", "Jordan", workflow.RoleSeniorEditor, "org-1")
	creator := api.bearerFor("creator")
	editor := api.bearerFor("editor")

	resp := api.post("/v1/content/generate", map[string]any{
		"title":  "Post",
		"prompt": "write",
	}, creator)
	item := decode[content.Item](t, resp)

	// The editor holds no actions in factual review.
	resp = api.post("/v1/content/"+item.ID+"/transition", map[string]any{
		"action": "Approve",
	}, editor)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong-role transition status: %d", resp.StatusCode)
	}

	// Unknown actions are rejected up front.
	resp = api.post("/v1/content/"+item.ID+"/transition", map[string]any{
		"action": "Expedite",
	}, editor)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown action status: %d", resp.StatusCode)
	}
}

func TestAPIDraftAndComments(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("creator", "Casey", workflow.RoleContentCreator, "org-1")
	api.seedUser("marketer", "Riley", workflow.RoleJuniorMarketer, "org-1")
	creator := api.bearerFor("creator")
	marketer := api.bearerFor("marketer")

	resp := api.post("/v1/content/generate", map[string]any{
		"title":  "Post",
		"prompt": "write",
	}, creator)
	item := decode[content.Item](t, resp)

	// The pending reviewer may edit; the creator may not.
	resp = api.do(http.MethodPut, "/v1/content/"+item.ID+"/draft",
		map[string]any{"body": "tightened"}, creator)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("creator draft edit status: %d", resp.StatusCode)
	}

	resp = api.do(http.MethodPut, "/v1/content/"+item.ID+"/draft",
		map[string]any{"body": "tightened"}, marketer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("marketer draft edit status: %d", resp.StatusCode)
	}
	updated := decode[content.Item](t, resp)
	if updated.EditedContent != "tightened" || updated.GeneratedContent != "generated copy" {
		t.Fatalf("item = %+v", updated)
	}

	// Comments: empty rejected, then ascending order.
	resp = api.post("/v1/content/"+item.ID+"/comments", map[string]any{"text": "   "}, marketer)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty comment status: %d", resp.StatusCode)
	}
	for _, text := range []string{"first", "second"} {
		resp = api.post("/v1/content/"+item.ID+"/comments", map[string]any{"text": text}, marketer)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("comment status: %d", resp.StatusCode)
		}
	}
	resp = api.get("/v1/content/"+item.ID+"/comments", nil, creator)
	thread := decode[listCommentsResponse](t, resp)
	if len(thread.Items) != 2 || thread.Items[0].Text != "first" || thread.Items[1].Text != "second" {
		t.Fatalf("thread = %+v", thread.Items)
	}
}

func TestAPIOrgIsolation(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("creator", "Casey", workflow.RoleContentCreator, "org-1")
	api.seedUser("outsider", "Alex", workflow.RoleSeniorEditor, "org-2")
	creator := api.bearerFor("creator")
	outsider := api.bearerFor("outsider")

	resp := api.post("/v1/content/generate", map[string]any{
		"title":  "Post",
		"prompt": "write",
	}, creator)
	item := decode[content.Item](t, resp)

	resp = api.get("/v1/content/"+item.ID, nil, outsider)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-org get status: %d", resp.StatusCode)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/content/generate", map[string]any{
		"title":  "Post",
		"prompt": "write",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatal("expected error message")
	}
}

func TestAPITokenOnboarding(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{
		"uid":   "new-user",
		"name":  "Newcomer",
		"email": "New@Example.com",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](t, resp)
	if payload.User.Role != workflow.RoleContentCreator {
		t.Fatalf("onboarded role = %q", payload.User.Role)
	}
	if payload.User.OrgID == "" {
		t.Fatal("expected a personal workspace org")
	}
	if payload.User.Email != "new@example.com" {
		t.Fatalf("email = %q", payload.User.Email)
	}

	resp = api.post("/v1/auth/token", map[string]any{"uid": ""}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank uid status: %d", resp.StatusCode)
	}
}

func TestAPIUserAdministration(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("admin", "Morgan", workflow.RoleAdmin, "org-1")
	api.seedUser("member", "Casey", workflow.RoleContentCreator, "org-1")
	admin := api.bearerFor("admin")
	member := api.bearerFor("member")

	// Members cannot change roles.
	resp := api.do(http.MethodPatch, "/v1/users/member", map[string]any{"role": "Senior Editor"}, member)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member role change status: %d", resp.StatusCode)
	}

	// Admins can, including legacy role casings.
	resp = api.do(http.MethodPatch, "/v1/users/member", map[string]any{"role": "editor"}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin role change status: %d", resp.StatusCode)
	}
	user := decode[auth.User](t, resp)
	if user.Role != workflow.RoleSeniorEditor {
		t.Fatalf("role = %q", user.Role)
	}

	resp = api.get("/v1/users", nil, admin)
	org := decode[listUsersResponse](t, resp)
	if len(org.Items) != 2 {
		t.Fatalf("org members = %+v", org.Items)
	}
}

func TestAPIStrategy(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("creator", "Casey", workflow.RoleContentCreator, "org-1")
	creator := api.bearerFor("creator")

	resp := api.post("/v1/strategy", map[string]any{"prompt": "eco-friendly water bottles"}, creator)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("strategy status: %d", resp.StatusCode)
	}
	payload := decode[strategyResponse](t, resp)
	if payload.Strategy != "generated copy" {
		t.Fatalf("strategy = %q", payload.Strategy)
	}
}

func TestAPIRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("creator", "Casey", workflow.RoleContentCreator, "org-1")
	creator := api.bearerFor("creator")

	resp := api.post("/v1/content/generate", map[string]any{
		"title":   "Post",
		"prompt":  "write",
		"surpise": true,
	}, creator)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status: %d", resp.StatusCode)
	}
}

func TestAPIStreamDeliversOrgEvents(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("creator", "Casey", workflow.RoleContentCreator, "org-1")
	creator := api.bearerFor("creator")

	req, err := http.NewRequest(http.MethodGet, api.baseURL+"/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", creator["Authorization"])
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// Initial comment line establishes the stream.
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ":") {
		t.Fatalf("stream preamble: %q, %v", line, err)
	}

	go func() {
		r := api.post("/v1/content/generate", map[string]any{
			"title":  "Post",
			"prompt": "write",
		}, creator)
		r.Body.Close()
	}()

	var data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}
	var evt stream.ContentEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != stream.EventContentCreated || evt.OrgID != "org-1" {
		t.Fatalf("event = %+v", evt)
	}
}
