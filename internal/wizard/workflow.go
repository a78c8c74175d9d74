// Package wizard sequences the dataset-intake workflow: domain selection,
// upload, processing options, and access grants, accumulated into an explicit
// WorkflowContext that the analysis orchestrator consumes.
package wizard

import (
	"time"

	"autoinsight/pkg/domain"
)

// Stage is one step in the ordered dataset-intake sequence.
type Stage string

const (
	StageDomainSelected Stage = "domain-selected"
	StageUpload         Stage = "upload"
	StageProcessing     Stage = "processing"
	StageAccessGranted  Stage = "access-granted"
	StageComplete       Stage = "complete"
)

// AnalysisOption selects the work the external engine performs.
type AnalysisOption string

const (
	// OptionCleanOnly cleans the dataset without generating charts.
	OptionCleanOnly AnalysisOption = "clean_only"
	// OptionCleanAndGenerate cleans and generates the full insight set.
	OptionCleanAndGenerate AnalysisOption = "clean_and_generate"
)

// Valid reports whether the option is one of the closed set.
func (o AnalysisOption) Valid() bool {
	return o == OptionCleanOnly || o == OptionCleanAndGenerate
}

// ProcessingOptions are the engine-facing preferences captured mid-wizard.
type ProcessingOptions struct {
	Analysis      AnalysisOption `json:"analysis_option"`
	DownloadAfter bool           `json:"download_after_creating"`
}

// GrantRequest is one requested permission entry from the grant-access stage.
type GrantRequest struct {
	UserID     string            `json:"user_id"`
	Permission domain.Permission `json:"permission"`
}

// WorkflowContext is the explicit per-workflow state passed into every stage
// call. It is keyed by a workflow id, persisted with a TTL in the session
// store, and never shared across workflows.
type WorkflowContext struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Stage     Stage              `json:"stage"`
	Domain    string             `json:"domain,omitempty"`
	SourceURL string             `json:"source_url,omitempty"`
	Options   *ProcessingOptions `json:"options,omitempty"`
	Grants    []GrantRequest     `json:"grants,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Next-step hints returned to the client after each stage.
const (
	StepUpload   = "/datasets/upload"
	StepOptions  = "/datasets/processing-options"
	StepGrants   = "/datasets/grant-access"
	StepGenerate = "/datasets/generate-insights"
)

// NextStep points at the first missing prerequisite, or the generate step
// when the mandatory subset (source URL, options) is present.
func (wc *WorkflowContext) NextStep() string {
	if wc.SourceURL == "" {
		return StepUpload
	}
	if wc.Options == nil {
		return StepOptions
	}
	return StepGenerate
}

// Ready reports whether the mandatory inputs for analysis are present.
func (wc *WorkflowContext) Ready() bool {
	return wc.SourceURL != "" && wc.Options != nil
}
