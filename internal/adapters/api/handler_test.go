package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"autoinsight/internal/access"
	"autoinsight/internal/core"
	"autoinsight/internal/engine"
	blobmemory "autoinsight/internal/infra/blob/memory"
	"autoinsight/internal/infra/persistence/memory"
	"autoinsight/internal/insights"
	"autoinsight/internal/metrics"
	"autoinsight/internal/wizard"
	"autoinsight/pkg/domain"
)

type stubEngine struct{ report *engine.Report }

func (s stubEngine) AnalyzeData(context.Context, string, string) (*engine.Report, error) {
	return s.report, nil
}

func (s stubEngine) CleanData(context.Context, string) (*engine.Report, error) {
	return s.report, nil
}

type env struct {
	srv   *httptest.Server
	store *memory.Store
	owner domain.User
	peer  domain.User
}

func newEnv(t *testing.T, report *engine.Report) *env {
	t.Helper()
	e := &env{store: memory.NewStore()}
	service := core.NewService(e.store)
	resolver := access.NewResolver(e.store, nil)
	orch := insights.New(service, blobmemory.New(), stubEngine{report: report}, resolver, metrics.New(), nil)
	wm := wizard.NewManager(wizard.NewMemoryStore(), nil)
	h := NewHandler(service, wm, orch, resolver, HeaderAuthenticator{Service: service}, nil)
	e.srv = httptest.NewServer(h)
	t.Cleanup(e.srv.Close)

	ctx := context.Background()
	var err error
	if e.owner, err = service.CreateUser(ctx, domain.User{Username: "alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	if e.peer, err = service.CreateUser(ctx, domain.User{Username: "bob", Email: "bob@example.com"}); err != nil {
		t.Fatalf("seed peer: %v", err)
	}
	return e
}

func (e *env) do(t *testing.T, method, path, userID, workflowID string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-User-ID", userID)
	if workflowID != "" {
		req.Header.Set(WorkflowHeader, workflowID)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return resp, decoded
}

func TestEcommerceWizardScenario(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	report := &engine.Report{
		Images: []engine.ImageEntry{
			{Payload: payload, Category: "pie_chart"},
			{Payload: payload, Category: "forecast", FilterNumber: intp(2)},
		},
		CleanedCSV: "https://cdn.example/clean.csv",
	}
	e := newEnv(t, report)
	const wf = "wf-e2e"

	resp, body := e.do(t, http.MethodPost, "/api/v1/datasets/choose-domain", e.owner.ID, wf,
		map[string]string{"domain": "ecommerce"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("choose-domain status %d: %s", resp.StatusCode, body["error"])
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/datasets/upload", e.owner.ID, wf,
		map[string]string{"file_url": "https://cdn.example/raw.csv"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/datasets/processing-options", e.owner.ID, wf,
		map[string]any{"analysis_option": "clean_and_generate"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("processing-options status %d", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/v1/datasets/grant-access", e.owner.ID, wf,
		map[string]any{"grants": []map[string]string{{"user_id": e.peer.ID, "permission": "view"}}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant-access status %d", resp.StatusCode)
	}

	resp, body = e.do(t, http.MethodPost, "/api/v1/datasets/generate-insights", e.owner.ID, wf,
		map[string]string{"name": "q3-sales"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate-insights status %d: %s", resp.StatusCode, body["error"])
	}
	var created domain.Dataset
	if err := json.Unmarshal(body["dataset"], &created); err != nil {
		t.Fatalf("decode dataset: %v", err)
	}
	if created.OwnerID != e.owner.ID || created.Domain != "ecommerce" {
		t.Fatalf("created dataset: %+v", created)
	}
	if len(created.Insights[domain.CategoryPieChart]) != 1 || len(created.Insights[domain.CategoryForecast]) != 1 {
		t.Fatalf("insight mapping: %v", created.Insights)
	}

	// The peer can read the shared dataset but cannot rename it.
	resp, _ = e.do(t, http.MethodGet, "/api/v1/datasets/"+created.ID, e.peer.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("peer read status %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPatch, "/api/v1/datasets/"+created.ID, e.peer.ID, "",
		map[string]string{"name": "stolen"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("peer rename status %d, want 403", resp.StatusCode)
	}

	// The workflow context is gone after a successful run.
	resp, _ = e.do(t, http.MethodPost, "/api/v1/datasets/generate-insights", e.owner.ID, wf,
		map[string]string{"name": "again"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("repeat generate status %d, want 400", resp.StatusCode)
	}
}

func TestGenerateBeforeOptionsFails(t *testing.T) {
	e := newEnv(t, &engine.Report{})
	const wf = "wf-short"

	resp, _ := e.do(t, http.MethodPost, "/api/v1/datasets/upload", e.owner.ID, wf,
		map[string]string{"file_url": "https://cdn.example/raw.csv"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodPost, "/api/v1/datasets/generate-insights", e.owner.ID, wf,
		map[string]string{"name": "too-soon"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("generate status %d, want 400", resp.StatusCode)
	}
	var msg string
	json.Unmarshal(body["error"], &msg)
	if msg == "" {
		t.Fatal("error body missing")
	}
}

func TestShareEndpointsRequireAdmin(t *testing.T) {
	e := newEnv(t, &engine.Report{})
	ctx := context.Background()
	service := core.NewService(e.store)

	ds, err := service.CreateDataset(ctx, domain.Dataset{OwnerID: e.owner.ID, Name: "sales", Domain: "HR"})
	if err != nil {
		t.Fatalf("seed dataset: %v", err)
	}

	// A non-owner without a grant cannot manage sharing.
	resp, _ := e.do(t, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/share", e.peer.ID, "",
		map[string]string{"user_id": e.peer.ID, "permission": "view"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("peer share status %d, want 403", resp.StatusCode)
	}

	// The owner can share, and sharing with the owner is rejected.
	resp, _ = e.do(t, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/share", e.owner.ID, "",
		map[string]string{"user_id": e.peer.ID, "permission": "edit"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner share status %d", resp.StatusCode)
	}
	resp, body := e.do(t, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/share", e.owner.ID, "",
		map[string]string{"user_id": e.owner.ID, "permission": "view"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self-share status %d, want 400: %s", resp.StatusCode, body["error"])
	}

	resp, _ = e.do(t, http.MethodDelete, "/api/v1/datasets/"+ds.ID+"/share", e.owner.ID, "",
		map[string]string{"user_id": e.peer.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unshare status %d", resp.StatusCode)
	}
}

func TestShareByUsernameAndPermissionParsing(t *testing.T) {
	e := newEnv(t, &engine.Report{})
	ctx := context.Background()
	service := core.NewService(e.store)

	ds, err := service.CreateDataset(ctx, domain.Dataset{OwnerID: e.owner.ID, Name: "sales", Domain: "ecommerce"})
	if err != nil {
		t.Fatalf("seed dataset: %v", err)
	}

	// Sharing accepts the target's username in place of the id.
	resp, body := e.do(t, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/share", e.owner.ID, "",
		map[string]string{"username": "bob", "permission": "view"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("share by username status %d: %s", resp.StatusCode, body["error"])
	}
	resp, _ = e.do(t, http.MethodGet, "/api/v1/datasets/"+ds.ID, e.peer.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("peer read status %d", resp.StatusCode)
	}

	// A permission outside the closed set is rejected before any lookup.
	resp, _ = e.do(t, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/share", e.owner.ID, "",
		map[string]string{"user_id": e.peer.ID, "permission": "owner"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad permission status %d, want 400", resp.StatusCode)
	}

	// Unknown usernames surface as not-found.
	resp, _ = e.do(t, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/share", e.owner.ID, "",
		map[string]string{"username": "nobody", "permission": "view"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown username status %d, want 404", resp.StatusCode)
	}
}

func TestTeamLifecycle(t *testing.T) {
	e := newEnv(t, &engine.Report{})
	ctx := context.Background()
	service := core.NewService(e.store)

	ds, err := service.CreateDataset(ctx, domain.Dataset{OwnerID: e.owner.ID, Name: "hr-roster", Domain: "HR"})
	if err != nil {
		t.Fatalf("seed dataset: %v", err)
	}

	resp, body := e.do(t, http.MethodPost, "/api/v1/teams", e.owner.ID, "", map[string]any{
		"name":              "people-ops",
		"member_ids":        []string{e.peer.ID},
		"member_permission": "view",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create team status %d: %s", resp.StatusCode, body["error"])
	}
	var team domain.Team
	if err := json.Unmarshal(body["team"], &team); err != nil {
		t.Fatalf("decode team: %v", err)
	}

	// Members cannot change team settings.
	resp, _ = e.do(t, http.MethodPatch, "/api/v1/teams/"+team.ID+"/permission", e.peer.ID, "",
		map[string]string{"permission": "admin"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member patch status %d, want 403", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPatch, "/api/v1/teams/"+team.ID+"/datasets", e.owner.ID, "",
		map[string]any{"dataset_ids": []string{ds.ID}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign datasets status %d", resp.StatusCode)
	}

	// Team membership now grants the peer read access to the dataset.
	resp, _ = e.do(t, http.MethodGet, "/api/v1/datasets/"+ds.ID, e.peer.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("member read status %d", resp.StatusCode)
	}
}

func TestLoginEnsuresUser(t *testing.T) {
	e := newEnv(t, &engine.Report{})

	body := map[string]any{
		"provider": "google",
		"profile":  map[string]string{"email": "carol@example.com", "name": "Carol"},
	}
	resp, decoded := e.do(t, http.MethodPost, "/api/v1/auth/login", "", "", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", resp.StatusCode, decoded["error"])
	}
	var user domain.User
	if err := json.Unmarshal(decoded["user"], &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.ID == "" || user.Email != "carol@example.com" {
		t.Fatalf("user: %+v", user)
	}

	// A second login with the same email returns the same record.
	resp, decoded = e.do(t, http.MethodPost, "/api/v1/auth/login", "", "", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second login status %d", resp.StatusCode)
	}
	var again domain.User
	if err := json.Unmarshal(decoded["user"], &again); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("duplicate user created: %s vs %s", again.ID, user.ID)
	}
}

func TestUnknownUserIsUnauthorized(t *testing.T) {
	e := newEnv(t, &engine.Report{})
	resp, _ := e.do(t, http.MethodGet, "/api/v1/datasets", "ghost", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
}

func intp(n int) *int { return &n }
