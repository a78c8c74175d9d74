package wizard

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"autoinsight/pkg/domain"
)

// ValidDomains is the closed set of dataset domains the engine understands.
var ValidDomains = []string{"ecommerce", "HR"}

// ValidDomain reports whether d is an accepted dataset domain. Matching is
// case-sensitive.
func ValidDomain(d string) bool {
	for _, v := range ValidDomains {
		if d == v {
			return true
		}
	}
	return false
}

// Manager runs the stage operations of the intake wizard against a session
// store. Each operation loads the workflow context, applies the stage's
// mutation, and saves it back.
type Manager struct {
	store  SessionStore
	logger *zap.Logger
}

// NewManager creates a wizard manager. A nil logger is replaced with a no-op.
func NewManager(store SessionStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// load returns the stored context for id, or a fresh one bound to userID when
// none exists yet. Stages may arrive out of order; missing prerequisites are
// caught at grant and generate time, not here.
func (m *Manager) load(ctx context.Context, id, userID string) (*WorkflowContext, error) {
	wc, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrWorkflowNotFound) {
		return &WorkflowContext{ID: id, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	if userID != "" {
		wc.UserID = userID
	}
	return wc, nil
}

// SelectDomain records the dataset's business domain and starts (or restarts)
// the workflow. Re-selection on an in-flight workflow overwrites the previous
// choice and keeps later stage data intact.
func (m *Manager) SelectDomain(ctx context.Context, workflowID, userID, d string) (*WorkflowContext, error) {
	if !ValidDomain(d) {
		return nil, domain.InvalidInputError{Field: "domain", Reason: fmt.Sprintf("unsupported domain %q", d)}
	}
	wc, err := m.load(ctx, workflowID, userID)
	if err != nil {
		return nil, err
	}
	wc.Domain = d
	wc.Stage = StageDomainSelected
	if err := m.store.Save(ctx, wc); err != nil {
		return nil, err
	}
	m.logger.Info("domain selected",
		zap.String("workflow_id", workflowID),
		zap.String("domain", d))
	return wc, nil
}

// RecordUpload stores the uploaded dataset's source URL. Repeat uploads
// replace the URL. An upload without a prior domain selection is accepted;
// generation fails fast on the missing domain instead.
func (m *Manager) RecordUpload(ctx context.Context, workflowID, userID, sourceURL string) (*WorkflowContext, error) {
	if sourceURL == "" {
		return nil, domain.InvalidInputError{Field: "source_url", Reason: "must not be empty"}
	}
	wc, err := m.load(ctx, workflowID, userID)
	if err != nil {
		return nil, err
	}
	wc.SourceURL = sourceURL
	wc.Stage = StageUpload
	if err := m.store.Save(ctx, wc); err != nil {
		return nil, err
	}
	m.logger.Info("upload recorded",
		zap.String("workflow_id", workflowID),
		zap.String("source_url", sourceURL))
	return wc, nil
}

// RecordOptions stores the processing preferences for the pending analysis.
func (m *Manager) RecordOptions(ctx context.Context, workflowID, userID string, opts ProcessingOptions) (*WorkflowContext, error) {
	if !opts.Analysis.Valid() {
		return nil, domain.InvalidInputError{Field: "analysis_option", Reason: fmt.Sprintf("unsupported option %q", opts.Analysis)}
	}
	wc, err := m.load(ctx, workflowID, userID)
	if err != nil {
		return nil, err
	}
	o := opts
	wc.Options = &o
	wc.Stage = StageProcessing
	if err := m.store.Save(ctx, wc); err != nil {
		return nil, err
	}
	return wc, nil
}

// RecordGrants stores the access grants to apply after generation. The stage
// requires a workflow with a selected domain; a skipped upload or options
// stage is reported through the next-step hint, not rejected here. The grant
// list is validated as a whole and rejected entirely on the first bad entry.
func (m *Manager) RecordGrants(ctx context.Context, workflowID, userID string, grants []GrantRequest) (*WorkflowContext, error) {
	wc, err := m.store.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, domain.InvalidInputError{Field: "workflow", Reason: "missing previous step data"}
		}
		return nil, err
	}
	if wc.Domain == "" {
		return nil, domain.InvalidInputError{Field: "workflow", Reason: "missing previous step data"}
	}
	if len(grants) == 0 {
		return nil, domain.InvalidInputError{Field: "grants", Reason: "must not be empty"}
	}
	for i, g := range grants {
		if g.UserID == "" {
			return nil, domain.InvalidInputError{Field: fmt.Sprintf("grants[%d].user_id", i), Reason: "must not be empty"}
		}
		if !g.Permission.Valid() {
			return nil, domain.InvalidInputError{Field: fmt.Sprintf("grants[%d].permission", i), Reason: fmt.Sprintf("unknown permission %q", g.Permission)}
		}
	}
	if userID != "" {
		wc.UserID = userID
	}
	wc.Grants = append([]GrantRequest(nil), grants...)
	wc.Stage = StageAccessGranted
	if err := m.store.Save(ctx, wc); err != nil {
		return nil, err
	}
	m.logger.Info("grants recorded",
		zap.String("workflow_id", workflowID),
		zap.Int("count", len(grants)))
	return wc, nil
}

// Load returns the stored context for a workflow id.
func (m *Manager) Load(ctx context.Context, workflowID string) (*WorkflowContext, error) {
	return m.store.Get(ctx, workflowID)
}

// Clear drops the workflow context, typically after a successful generation.
func (m *Manager) Clear(ctx context.Context, workflowID string) error {
	return m.store.Delete(ctx, workflowID)
}
