package insights

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"autoinsight/internal/access"
	blobmemory "autoinsight/internal/infra/blob/memory"
	"autoinsight/internal/core"
	"autoinsight/internal/engine"
	"autoinsight/internal/infra/persistence/memory"
	"autoinsight/internal/metrics"
	"autoinsight/internal/wizard"
	"autoinsight/pkg/domain"
)

type fakeEngine struct {
	report   *engine.Report
	err      error
	analyzed int
	cleaned  int
}

func (f *fakeEngine) AnalyzeData(context.Context, string, string) (*engine.Report, error) {
	f.analyzed++
	return f.report, f.err
}

func (f *fakeEngine) CleanData(context.Context, string) (*engine.Report, error) {
	f.cleaned++
	return f.report, f.err
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

type harness struct {
	store *memory.Store
	orch  *Orchestrator
	owner domain.User
	other domain.User
}

func newHarness(t *testing.T, eng EngineClient) *harness {
	t.Helper()
	h := &harness{store: memory.NewStore()}
	service := core.NewService(h.store)
	resolver := access.NewResolver(h.store, nil)
	h.orch = New(service, blobmemory.New(), eng, resolver, metrics.New(), nil)

	ctx := context.Background()
	var err error
	if h.owner, err = service.CreateUser(ctx, domain.User{Username: "owner", Email: "owner@example.com"}); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	if h.other, err = service.CreateUser(ctx, domain.User{Username: "other", Email: "other@example.com"}); err != nil {
		t.Fatalf("seed other: %v", err)
	}
	return h
}

func readyWorkflow(userID string) *wizard.WorkflowContext {
	return &wizard.WorkflowContext{
		ID:        "wf-1",
		UserID:    userID,
		Domain:    "ecommerce",
		SourceURL: "https://cdn.example/raw.csv",
		Options:   &wizard.ProcessingOptions{Analysis: wizard.OptionCleanAndGenerate},
	}
}

func TestGenerateRequiresSourceURL(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	wc := readyWorkflow(h.owner.ID)
	wc.SourceURL = ""
	_, err := h.orch.Generate(context.Background(), wc, "sales")
	var invalid domain.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if invalid.Reason != "Dataset URL is required" {
		t.Fatalf("reason = %q", invalid.Reason)
	}
}

func TestGenerateRequiresOptions(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	wc := readyWorkflow(h.owner.ID)
	wc.Options = nil
	_, err := h.orch.Generate(context.Background(), wc, "sales")
	var invalid domain.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if invalid.Reason != "missing previous step data" {
		t.Fatalf("reason = %q", invalid.Reason)
	}
}

func TestGenerateClassifiesAndPersists(t *testing.T) {
	three := 3
	eng := &fakeEngine{report: &engine.Report{
		Images: []engine.ImageEntry{
			{Payload: b64("pie"), Category: "pie_chart"},
			{Payload: b64("bar"), Category: "bar_chart", FilterNumber: &three},
			{Payload: b64("mystery"), Category: "sankey"},
		},
		CleanedCSV: "https://cdn.example/clean.csv",
	}}
	h := newHarness(t, eng)

	res, err := h.orch.Generate(context.Background(), readyWorkflow(h.owner.ID), "sales")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if eng.analyzed != 1 || eng.cleaned != 0 {
		t.Fatalf("engine calls: analyzed=%d cleaned=%d", eng.analyzed, eng.cleaned)
	}

	ds := res.Dataset
	if ds.CleanedURL == nil || *ds.CleanedURL != "https://cdn.example/clean.csv" {
		t.Fatalf("cleaned url: %v", ds.CleanedURL)
	}
	if len(ds.Insights[domain.CategoryPieChart]) != 1 {
		t.Fatalf("pie chart artifacts: %v", ds.Insights)
	}
	bars := ds.Insights[domain.CategoryBarChart]
	if len(bars) != 1 || bars[0].FilterNumber == nil || *bars[0].FilterNumber != 3 {
		t.Fatalf("bar chart artifact: %+v", bars)
	}
	// Unknown engine tags fold into the catch-all bucket.
	if len(ds.Insights[domain.CategoryOthers]) != 1 {
		t.Fatalf("others bucket: %v", ds.Insights)
	}
	for cat, artifacts := range ds.Insights {
		for _, a := range artifacts {
			if a.URL == "" {
				t.Fatalf("artifact in %s has no URL", cat)
			}
		}
	}

	stored, ok := h.store.GetDataset(ds.ID)
	if !ok {
		t.Fatal("dataset not persisted")
	}
	if stored.OwnerID != h.owner.ID || stored.Domain != "ecommerce" {
		t.Fatalf("stored dataset: %+v", stored)
	}
}

func TestGenerateSkipsBrokenArtifacts(t *testing.T) {
	eng := &fakeEngine{report: &engine.Report{
		Images: []engine.ImageEntry{
			{Payload: "%%%not-base64%%%", Category: "pie_chart"},
			{Payload: b64("fine"), Category: "histogram"},
		},
	}}
	h := newHarness(t, eng)

	res, err := h.orch.Generate(context.Background(), readyWorkflow(h.owner.ID), "sales")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Dataset.Insights[domain.CategoryPieChart]) != 0 {
		t.Fatal("broken artifact was recorded")
	}
	if len(res.Dataset.Insights[domain.CategoryHistogram]) != 1 {
		t.Fatal("healthy artifact was dropped")
	}
}

func TestGenerateMissingImagesAborts(t *testing.T) {
	eng := &fakeEngine{report: &engine.Report{CleanedCSV: "https://cdn.example/clean.csv"}}
	h := newHarness(t, eng)

	_, err := h.orch.Generate(context.Background(), readyWorkflow(h.owner.ID), "sales")
	var upstream domain.UpstreamFailureError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamFailureError, got %v", err)
	}
	if got := len(h.store.ListDatasets()); got != 0 {
		t.Fatalf("partial dataset persisted: %d", got)
	}
}

func TestGenerateEngineFailureAborts(t *testing.T) {
	eng := &fakeEngine{err: domain.UpstreamFailureError{Op: "analyze-data", Err: errors.New("boom")}}
	h := newHarness(t, eng)

	_, err := h.orch.Generate(context.Background(), readyWorkflow(h.owner.ID), "sales")
	var upstream domain.UpstreamFailureError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamFailureError, got %v", err)
	}
	if got := len(h.store.ListDatasets()); got != 0 {
		t.Fatalf("partial dataset persisted: %d", got)
	}
}

func TestGenerateCleanOnlySkipsArtifacts(t *testing.T) {
	eng := &fakeEngine{report: &engine.Report{CleanedCSV: "https://cdn.example/clean.csv"}}
	h := newHarness(t, eng)

	wc := readyWorkflow(h.owner.ID)
	wc.Options = &wizard.ProcessingOptions{Analysis: wizard.OptionCleanOnly}
	res, err := h.orch.Generate(context.Background(), wc, "sales")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if eng.cleaned != 1 || eng.analyzed != 0 {
		t.Fatalf("engine calls: cleaned=%d analyzed=%d", eng.cleaned, eng.analyzed)
	}
	if res.Dataset.CleanedURL == nil || len(res.Dataset.Insights) != 0 {
		t.Fatalf("clean-only dataset: %+v", res.Dataset)
	}
}

func TestGenerateCollectsGrantFailures(t *testing.T) {
	eng := &fakeEngine{report: &engine.Report{Images: []engine.ImageEntry{}}}
	h := newHarness(t, eng)

	wc := readyWorkflow(h.owner.ID)
	wc.Grants = []wizard.GrantRequest{
		{UserID: h.other.ID, Permission: domain.PermissionView},
		{UserID: "ghost", Permission: domain.PermissionEdit},
	}
	res, err := h.orch.Generate(context.Background(), wc, "sales")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.GrantFailures) != 1 || res.GrantFailures[0].UserID != "ghost" {
		t.Fatalf("grant failures: %+v", res.GrantFailures)
	}

	// The healthy grant was still applied.
	resolver := access.NewResolver(h.store, nil)
	perm, err := resolver.ResolveDataset(context.Background(), h.other.ID, res.Dataset.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if perm != domain.PermissionView {
		t.Fatalf("perm = %q, want view", perm)
	}
}
