// Package insights runs the analysis pipeline: one engine round trip,
// classification of the returned artifacts, resilient artifact persistence,
// and application of the access grants captured during the wizard.
package insights

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autoinsight/internal/blob"
	"autoinsight/internal/core"
	"autoinsight/internal/engine"
	"autoinsight/internal/metrics"
	"autoinsight/internal/wizard"
	"autoinsight/pkg/domain"
)

// EngineClient is the subset of the engine client the orchestrator drives.
type EngineClient interface {
	AnalyzeData(ctx context.Context, sourceURL, datasetDomain string) (*engine.Report, error)
	CleanData(ctx context.Context, sourceURL string) (*engine.Report, error)
}

// Sharer applies a single access grant. Satisfied by access.Resolver.
type Sharer interface {
	Share(ctx context.Context, datasetID, targetUserID string, perm domain.Permission) error
}

// GrantFailure records one grant that could not be applied during
// finalization. Grant application never rolls back the created dataset.
type GrantFailure struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Result is the outcome of a completed generation run.
type Result struct {
	Dataset       domain.Dataset `json:"dataset"`
	GrantFailures []GrantFailure `json:"grant_failures,omitempty"`
}

// Orchestrator coordinates the generate-insights finalization step.
type Orchestrator struct {
	service *core.Service
	blobs   blob.Store
	engine  EngineClient
	sharer  Sharer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New wires an orchestrator. metrics and logger may be nil.
func New(service *core.Service, blobs blob.Store, eng EngineClient, sharer Sharer, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		service: service,
		blobs:   blobs,
		engine:  eng,
		sharer:  sharer,
		metrics: m,
		logger:  logger,
	}
}

// Generate finalizes a wizard workflow: calls the engine once, classifies and
// persists the returned artifacts, creates the dataset record, and applies
// the captured grants. Engine failure aborts with no partial dataset;
// individual artifact failures are logged and skipped.
func (o *Orchestrator) Generate(ctx context.Context, wc *wizard.WorkflowContext, datasetName string) (*Result, error) {
	if wc.SourceURL == "" {
		return nil, domain.InvalidInputError{Field: "source_url", Reason: "Dataset URL is required"}
	}
	if wc.Options == nil {
		return nil, domain.InvalidInputError{Field: "workflow", Reason: "missing previous step data"}
	}
	if wc.Options.Analysis == wizard.OptionCleanAndGenerate && wc.Domain == "" {
		return nil, domain.InvalidInputError{Field: "domain", Reason: "missing previous step data"}
	}
	if datasetName == "" {
		return nil, domain.InvalidInputError{Field: "name", Reason: "must not be empty"}
	}

	option := string(wc.Options.Analysis)
	start := time.Now()
	var report *engine.Report
	var err error
	switch wc.Options.Analysis {
	case wizard.OptionCleanOnly:
		report, err = o.engine.CleanData(ctx, wc.SourceURL)
	default:
		report, err = o.engine.AnalyzeData(ctx, wc.SourceURL, wc.Domain)
	}
	if o.metrics != nil {
		o.metrics.ObserveEngineCall(option, time.Since(start))
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.CountAnalysis(option, "engine_failure")
		}
		return nil, err
	}
	if wc.Options.Analysis == wizard.OptionCleanAndGenerate && report.Images == nil {
		if o.metrics != nil {
			o.metrics.CountAnalysis(option, "engine_failure")
		}
		return nil, domain.UpstreamFailureError{Op: "analyze-data", Err: errors.New("response missing images")}
	}

	dataset := domain.Dataset{
		Base:      domain.Base{ID: uuid.NewString()},
		OwnerID:   wc.UserID,
		Name:      datasetName,
		Domain:    wc.Domain,
		SourceURL: wc.SourceURL,
		Insights:  make(map[domain.InsightCategory][]domain.Artifact),
	}
	if report.CleanedCSV != "" {
		cleaned := report.CleanedCSV
		dataset.CleanedURL = &cleaned
	}

	if wc.Options.Analysis == wizard.OptionCleanAndGenerate {
		for i, entry := range report.Images {
			category := domain.NormalizeCategory(entry.Category)
			url, err := o.persistArtifact(ctx, dataset.ID, category, entry.Payload)
			if err != nil {
				if o.metrics != nil {
					o.metrics.CountArtifactFailure()
				}
				o.logger.Warn("artifact skipped",
					zap.Int("index", i),
					zap.String("category", string(category)),
					zap.Error(err))
				continue
			}
			artifact := domain.Artifact{URL: url}
			if category.HasFilter() {
				artifact.FilterNumber = entry.FilterNumber
			}
			dataset.Insights[category] = append(dataset.Insights[category], artifact)
		}
	}

	created, err := o.service.CreateDataset(ctx, dataset)
	if err != nil {
		if o.metrics != nil {
			o.metrics.CountAnalysis(option, "persist_failure")
		}
		return nil, err
	}

	var failures []GrantFailure
	for _, g := range wc.Grants {
		if err := o.sharer.Share(ctx, created.ID, g.UserID, g.Permission); err != nil {
			failures = append(failures, GrantFailure{UserID: g.UserID, Reason: err.Error()})
			o.logger.Warn("grant not applied",
				zap.String("dataset_id", created.ID),
				zap.String("user_id", g.UserID),
				zap.Error(err))
		}
	}

	if o.metrics != nil {
		o.metrics.CountAnalysis(option, "success")
	}
	o.logger.Info("analysis complete",
		zap.String("dataset_id", created.ID),
		zap.String("option", option),
		zap.Int("grant_failures", len(failures)))
	return &Result{Dataset: created, GrantFailures: failures}, nil
}

// persistArtifact decodes one base64 image payload, spills it to a temp file,
// and uploads it to the blob store. The temp file is removed on every path.
func (o *Orchestrator) persistArtifact(ctx context.Context, datasetID string, category domain.InsightCategory, payload string) (string, error) {
	// Engines sometimes hand back data-URI payloads.
	if i := strings.IndexByte(payload, ','); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode artifact payload: %w", err)
	}

	tmp, err := os.CreateTemp("", "autoinsight-artifact-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(raw); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind temp file: %w", err)
	}

	key := fmt.Sprintf("datasets/%s/%s/%s.png", datasetID, category, uuid.NewString())
	info, err := o.blobs.Put(ctx, key, tmp, blob.PutOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	if info.URL != "" {
		return info.URL, nil
	}
	return o.blobs.PresignURL(ctx, key, blob.SignedURLOptions{})
}
