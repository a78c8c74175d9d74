// Package api exposes the HTTP surface: the dataset-intake wizard, dataset
// CRUD and sharing, and team management. Handlers follow a path-switch style
// with small JSON helpers; authorization goes through the permission
// resolver before any service call.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autoinsight/internal/access"
	"autoinsight/internal/core"
	"autoinsight/internal/identity"
	"autoinsight/internal/insights"
	"autoinsight/internal/wizard"
	"autoinsight/pkg/domain"
)

// Authenticator resolves the calling user from a request. Identity providers
// are external collaborators; the default implementation trusts the
// X-User-ID header placed by the gateway.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.User, error)
}

// HeaderAuthenticator resolves X-User-ID against the user store.
type HeaderAuthenticator struct {
	Service *core.Service
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (domain.User, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return domain.User{}, errors.New("missing X-User-ID header")
	}
	return a.Service.GetUser(r.Context(), id)
}

// WorkflowHeader carries the wizard session id between stage requests.
const WorkflowHeader = "X-Workflow-ID"

// Handler routes the public API.
type Handler struct {
	Service      *core.Service
	Wizard       *wizard.Manager
	Orchestrator *insights.Orchestrator
	Resolver     *access.Resolver
	Auth         Authenticator
	Identity     *identity.Registry
	Logger       *zap.Logger
}

// NewHandler wires the API handler. A nil logger is replaced with a no-op.
func NewHandler(service *core.Service, wm *wizard.Manager, orch *insights.Orchestrator, resolver *access.Resolver, auth Authenticator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:      service,
		Wizard:       wm,
		Orchestrator: orch,
		Resolver:     resolver,
		Auth:         auth,
		Identity:     identity.DefaultRegistry(),
		Logger:       logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	// Login exchanges a provider profile and needs no prior identity.
	if path == "/api/v1/auth/login" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleLogin(w, r)
		return
	}

	caller, err := h.Auth.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	switch {
	case strings.HasPrefix(path, "/api/v1/datasets"):
		h.routeDatasets(w, r, caller, path)
	case strings.HasPrefix(path, "/api/v1/teams"):
		h.routeTeams(w, r, caller, path)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) routeDatasets(w http.ResponseWriter, r *http.Request, caller domain.User, path string) {
	switch {
	case path == "/api/v1/datasets" && r.Method == http.MethodGet:
		h.handleListOwned(w, r, caller)
	case path == "/api/v1/datasets/shared" && r.Method == http.MethodGet:
		h.handleListShared(w, r, caller)
	case path == "/api/v1/datasets/choose-domain" && r.Method == http.MethodPost:
		h.handleChooseDomain(w, r, caller)
	case path == "/api/v1/datasets/upload" && r.Method == http.MethodPost:
		h.handleUpload(w, r, caller)
	case path == "/api/v1/datasets/processing-options" && r.Method == http.MethodPost:
		h.handleProcessingOptions(w, r, caller)
	case path == "/api/v1/datasets/grant-access" && r.Method == http.MethodPost:
		h.handleGrantAccess(w, r, caller)
	case path == "/api/v1/datasets/generate-insights" && r.Method == http.MethodPost:
		h.handleGenerateInsights(w, r, caller)
	case strings.HasPrefix(path, "/api/v1/datasets/"):
		remainder := strings.TrimPrefix(path, "/api/v1/datasets/")
		segments := strings.Split(remainder, "/")
		switch {
		case len(segments) == 1:
			h.handleDataset(w, r, caller, segments[0])
		case len(segments) == 2 && segments[1] == "share":
			h.handleShare(w, r, caller, segments[0])
		default:
			http.NotFound(w, r)
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleLogin exchanges an already-verified provider profile for a user
// record, creating the user on first sign-in.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string           `json:"provider"`
		Profile  identity.Profile `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := h.Identity.Exchange(r.Context(), req.Provider, req.Profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.Service.EnsureUser(r.Context(), id.DisplayName, id.Email)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// workflowID returns the wizard session id from the request, minting one for
// a fresh workflow.
func workflowID(r *http.Request) string {
	if id := r.Header.Get(WorkflowHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func (h *Handler) handleChooseDomain(w http.ResponseWriter, r *http.Request, caller domain.User) {
	var req struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := workflowID(r)
	wc, err := h.Wizard.SelectDomain(r.Context(), id, caller.ID, req.Domain)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set(WorkflowHeader, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"stage":       wc.Stage,
		"next_step":   wc.NextStep(),
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request, caller domain.User) {
	var req struct {
		FileURL string `json:"file_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := workflowID(r)
	wc, err := h.Wizard.RecordUpload(r.Context(), id, caller.ID, req.FileURL)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set(WorkflowHeader, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"stage":       wc.Stage,
		"next_step":   wc.NextStep(),
	})
}

func (h *Handler) handleProcessingOptions(w http.ResponseWriter, r *http.Request, caller domain.User) {
	var req wizard.ProcessingOptions
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := workflowID(r)
	wc, err := h.Wizard.RecordOptions(r.Context(), id, caller.ID, req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set(WorkflowHeader, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"stage":       wc.Stage,
		"next_step":   wc.NextStep(),
	})
}

func (h *Handler) handleGrantAccess(w http.ResponseWriter, r *http.Request, caller domain.User) {
	var req struct {
		Grants []wizard.GrantRequest `json:"grants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := workflowID(r)
	wc, err := h.Wizard.RecordGrants(r.Context(), id, caller.ID, req.Grants)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set(WorkflowHeader, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id":    id,
		"stage":          wc.Stage,
		"access_granted": true,
		"users_count":    len(wc.Grants),
		"next_step":      wc.NextStep(),
		"is_complete":    wc.Ready(),
	})
}

func (h *Handler) handleGenerateInsights(w http.ResponseWriter, r *http.Request, caller domain.User) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := workflowID(r)
	wc, err := h.Wizard.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, wizard.ErrWorkflowNotFound) {
			writeError(w, http.StatusBadRequest, "missing previous step data")
			return
		}
		h.writeDomainError(w, err)
		return
	}
	wc.UserID = caller.ID

	result, err := h.Orchestrator.Generate(r.Context(), wc, req.Name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.Wizard.Clear(r.Context(), id); err != nil {
		h.Logger.Warn("workflow context not cleared", zap.String("workflow_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleListOwned(w http.ResponseWriter, r *http.Request, caller domain.User) {
	datasets, err := h.Service.ListOwnedDatasets(r.Context(), caller.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

func (h *Handler) handleListShared(w http.ResponseWriter, r *http.Request, caller domain.User) {
	datasets, err := h.Service.ListSharedDatasets(r.Context(), caller.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

func (h *Handler) handleDataset(w http.ResponseWriter, r *http.Request, caller domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		if err := h.Resolver.RequireDataset(r.Context(), caller.ID, id, domain.PermissionView); err != nil {
			h.writeDomainError(w, err)
			return
		}
		ds, err := h.Service.GetDataset(r.Context(), id)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dataset": ds})
	case http.MethodPatch:
		if err := h.Resolver.RequireDataset(r.Context(), caller.ID, id, domain.PermissionEdit); err != nil {
			h.writeDomainError(w, err)
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ds, err := h.Service.RenameDataset(r.Context(), id, req.Name)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dataset": ds})
	case http.MethodDelete:
		ds, err := h.Service.GetDataset(r.Context(), id)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if ds.OwnerID != caller.ID {
			writeError(w, http.StatusForbidden, "only the owner can delete a dataset")
			return
		}
		if err := h.Service.DeleteDataset(r.Context(), id); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request, caller domain.User, datasetID string) {
	if err := h.Resolver.RequireDataset(r.Context(), caller.ID, datasetID, domain.PermissionAdmin); err != nil {
		h.writeDomainError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		grants, err := h.Service.ListGrants(r.Context(), datasetID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
	case http.MethodPost:
		var req struct {
			UserID     string `json:"user_id"`
			Username   string `json:"username"`
			Permission string `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		perm, err := domain.ParsePermission(req.Permission)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		targetID := req.UserID
		if targetID == "" && req.Username != "" {
			target, err := h.Service.GetUserByUsername(r.Context(), req.Username)
			if err != nil {
				h.writeDomainError(w, err)
				return
			}
			targetID = target.ID
		}
		if err := h.Resolver.Share(r.Context(), datasetID, targetID, perm); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shared": targetID})
	case http.MethodDelete:
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := h.Resolver.Unshare(r.Context(), datasetID, req.UserID); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unshared": req.UserID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) routeTeams(w http.ResponseWriter, r *http.Request, caller domain.User, path string) {
	if path == "/api/v1/teams" {
		switch r.Method {
		case http.MethodGet:
			teams, err := h.Service.ListTeamsForUser(r.Context(), caller.ID)
			if err != nil {
				h.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
		case http.MethodPost:
			h.handleCreateTeam(w, r, caller)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	remainder := strings.TrimPrefix(path, "/api/v1/teams/")
	segments := strings.Split(remainder, "/")
	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		h.handleGetTeam(w, r, caller, segments[0])
	case len(segments) == 2 && r.Method == http.MethodPatch:
		h.handlePatchTeam(w, r, caller, segments[0], segments[1])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleCreateTeam(w http.ResponseWriter, r *http.Request, caller domain.User) {
	var req struct {
		Name             string            `json:"name"`
		MemberIDs        []string          `json:"member_ids"`
		MemberPermission domain.Permission `json:"member_permission"`
		DatasetIDs       []string          `json:"dataset_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	team, err := h.Service.CreateTeam(r.Context(), domain.Team{
		OwnerID:          caller.ID,
		Name:             req.Name,
		MemberIDs:        req.MemberIDs,
		MemberPermission: req.MemberPermission,
		DatasetIDs:       req.DatasetIDs,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"team": team})
}

func (h *Handler) handleGetTeam(w http.ResponseWriter, r *http.Request, caller domain.User, id string) {
	if _, err := h.Resolver.ResolveTeam(r.Context(), caller.ID, id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	team, err := h.Service.GetTeam(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team})
}

func (h *Handler) handlePatchTeam(w http.ResponseWriter, r *http.Request, caller domain.User, id, field string) {
	perm, err := h.Resolver.ResolveTeam(r.Context(), caller.ID, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !perm.Allows(domain.PermissionAdmin) {
		writeError(w, http.StatusForbidden, "admin required on team "+id)
		return
	}

	var team domain.Team
	switch field {
	case "members":
		var req struct {
			MemberIDs []string `json:"member_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		team, err = h.Resolver.SetTeamMembers(r.Context(), id, req.MemberIDs)
	case "datasets":
		var req struct {
			DatasetIDs []string `json:"dataset_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		team, err = h.Resolver.AssignTeamDatasets(r.Context(), id, req.DatasetIDs)
	case "permission":
		var req struct {
			Permission string `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		var perm domain.Permission
		perm, err = domain.ParsePermission(req.Permission)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		team, err = h.Resolver.SetTeamPermission(r.Context(), id, perm)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team": team})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		invalid  domain.InvalidInputError
		notFound domain.NotFoundError
		denied   domain.AccessDeniedError
		upstream domain.UpstreamFailureError
	)
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &denied):
		writeError(w, http.StatusForbidden, denied.Error())
	case errors.As(err, &upstream):
		writeError(w, http.StatusBadGateway, upstream.Error())
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
