package wizard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"autoinsight/pkg/domain"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisStore(&redis.Options{Addr: mr.Addr()}, time.Hour)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestManagerFullSequence(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newRedisStore(t), nil)

	wc, err := m.SelectDomain(ctx, "wf-1", "user-1", "ecommerce")
	if err != nil {
		t.Fatalf("select domain: %v", err)
	}
	if wc.Stage != StageDomainSelected || wc.Domain != "ecommerce" {
		t.Fatalf("unexpected context after domain selection: %+v", wc)
	}
	if got := wc.NextStep(); got != StepUpload {
		t.Fatalf("next step = %q, want %q", got, StepUpload)
	}

	wc, err = m.RecordUpload(ctx, "wf-1", "user-1", "https://cdn.example/raw.csv")
	if err != nil {
		t.Fatalf("record upload: %v", err)
	}
	if got := wc.NextStep(); got != StepOptions {
		t.Fatalf("next step = %q, want %q", got, StepOptions)
	}

	wc, err = m.RecordOptions(ctx, "wf-1", "user-1", ProcessingOptions{Analysis: OptionCleanAndGenerate})
	if err != nil {
		t.Fatalf("record options: %v", err)
	}
	if got := wc.NextStep(); got != StepGenerate {
		t.Fatalf("next step = %q, want %q", got, StepGenerate)
	}

	wc, err = m.RecordGrants(ctx, "wf-1", "user-1", []GrantRequest{
		{UserID: "user-2", Permission: domain.PermissionView},
	})
	if err != nil {
		t.Fatalf("record grants: %v", err)
	}
	if wc.Stage != StageAccessGranted || len(wc.Grants) != 1 {
		t.Fatalf("unexpected context after grants: %+v", wc)
	}

	loaded, err := m.Load(ctx, "wf-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Domain != "ecommerce" || loaded.SourceURL != "https://cdn.example/raw.csv" || loaded.Options == nil {
		t.Fatalf("loaded context lost stage data: %+v", loaded)
	}
}

func TestManagerRejectsUnknownDomain(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil)
	_, err := m.SelectDomain(context.Background(), "wf-1", "user-1", "finance")
	var invalid domain.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if invalid.Field != "domain" {
		t.Fatalf("field = %q, want domain", invalid.Field)
	}
}

func TestManagerUploadBeforeDomainAccepted(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newRedisStore(t), nil)

	wc, err := m.RecordUpload(ctx, "wf-1", "user-1", "https://cdn.example/raw.csv")
	if err != nil {
		t.Fatalf("record upload: %v", err)
	}
	if wc.Domain != "" || wc.SourceURL == "" {
		t.Fatalf("unexpected context: %+v", wc)
	}
}

func TestManagerRepeatUploadReplacesURL(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newRedisStore(t), nil)

	if _, err := m.RecordUpload(ctx, "wf-1", "user-1", "https://cdn.example/v1.csv"); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	wc, err := m.RecordUpload(ctx, "wf-1", "user-1", "https://cdn.example/v2.csv")
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if wc.SourceURL != "https://cdn.example/v2.csv" {
		t.Fatalf("source_url = %q, want replacement", wc.SourceURL)
	}
}

func TestManagerGrantsRequireSelectedDomain(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newRedisStore(t), nil)

	grants := []GrantRequest{{UserID: "user-2", Permission: domain.PermissionEdit}}

	// No workflow context at all.
	if _, err := m.RecordGrants(ctx, "wf-missing", "user-1", grants); err == nil {
		t.Fatal("expected error for unknown workflow")
	}

	// Upload recorded but no domain selected yet.
	if _, err := m.RecordUpload(ctx, "wf-1", "user-1", "https://cdn.example/raw.csv"); err != nil {
		t.Fatalf("record upload: %v", err)
	}
	_, err := m.RecordGrants(ctx, "wf-1", "user-1", grants)
	var invalid domain.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if invalid.Reason != "missing previous step data" {
		t.Fatalf("reason = %q", invalid.Reason)
	}
}

func TestManagerGrantsPointBackAtSkippedStages(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newRedisStore(t), nil)

	grants := []GrantRequest{{UserID: "user-2", Permission: domain.PermissionView}}

	// Domain selected, upload and options skipped: grants are accepted and
	// the hint points back at the upload step.
	if _, err := m.SelectDomain(ctx, "wf-1", "user-1", "ecommerce"); err != nil {
		t.Fatalf("select domain: %v", err)
	}
	wc, err := m.RecordGrants(ctx, "wf-1", "user-1", grants)
	if err != nil {
		t.Fatalf("record grants: %v", err)
	}
	if len(wc.Grants) != 1 {
		t.Fatalf("grants not stored: %+v", wc.Grants)
	}
	if wc.Ready() {
		t.Fatal("workflow reported ready without upload or options")
	}
	if got := wc.NextStep(); got != StepUpload {
		t.Fatalf("next step = %q, want %q", got, StepUpload)
	}

	// Upload recorded, options still missing: the hint moves forward.
	if _, err := m.RecordUpload(ctx, "wf-1", "user-1", "https://cdn.example/raw.csv"); err != nil {
		t.Fatalf("record upload: %v", err)
	}
	wc, err = m.RecordGrants(ctx, "wf-1", "user-1", grants)
	if err != nil {
		t.Fatalf("record grants after upload: %v", err)
	}
	if got := wc.NextStep(); got != StepOptions {
		t.Fatalf("next step = %q, want %q", got, StepOptions)
	}
}

func TestManagerGrantsRejectedAsWhole(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newRedisStore(t), nil)

	if _, err := m.SelectDomain(ctx, "wf-1", "user-1", "ecommerce"); err != nil {
		t.Fatalf("select domain: %v", err)
	}
	if _, err := m.RecordUpload(ctx, "wf-1", "user-1", "https://cdn.example/raw.csv"); err != nil {
		t.Fatalf("record upload: %v", err)
	}
	if _, err := m.RecordOptions(ctx, "wf-1", "user-1", ProcessingOptions{Analysis: OptionCleanOnly}); err != nil {
		t.Fatalf("record options: %v", err)
	}

	_, err := m.RecordGrants(ctx, "wf-1", "user-1", []GrantRequest{
		{UserID: "user-2", Permission: domain.PermissionView},
		{UserID: "user-3", Permission: "owner"},
	})
	if err == nil {
		t.Fatal("expected rejection of the grant list")
	}
	wc, err := m.Load(ctx, "wf-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(wc.Grants) != 0 {
		t.Fatalf("grants partially applied: %+v", wc.Grants)
	}
}

func TestManagerClearDropsContext(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newRedisStore(t), nil)

	if _, err := m.SelectDomain(ctx, "wf-1", "user-1", "HR"); err != nil {
		t.Fatalf("select domain: %v", err)
	}
	if err := m.Clear(ctx, "wf-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := m.Load(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestRedisStoreExpiresContexts(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := NewRedisStore(&redis.Options{Addr: mr.Addr()}, time.Minute)
	defer store.Close()

	if err := store.Save(ctx, &WorkflowContext{ID: "wf-1", UserID: "user-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound after TTL, got %v", err)
	}
}
