package review

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"jobsift/adapter/out/memory"
	"jobsift/core/domain"
)

func seed(t *testing.T, store *memory.StateStore, rec *domain.ClassificationRecord) {
	t.Helper()
	if err := store.UpsertClassification(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestApplyApprovalClearsReviewFlag(t *testing.T) {
	store := memory.NewStateStore()
	seed(t, store, &domain.ClassificationRecord{
		MessageID:   "m-1",
		Stage:       domain.StageExtracted,
		NeedsReview: true,
		Probability: 0.65,
	})
	svc := New(store, zerolog.Nop())

	if err := svc.Apply(context.Background(), "m-1", true, "alex", "looks like a real application"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetClassification(context.Background(), "m-1")
	if rec.NeedsReview {
		t.Error("expected review flag cleared")
	}
	if rec.Method != domain.MethodHuman {
		t.Errorf("expected human method, got %q", rec.Method)
	}
	if rec.Review == nil || !rec.Review.Approved || rec.Review.Reviewer != "alex" {
		t.Errorf("review decision not recorded: %+v", rec.Review)
	}

	pending, _ := svc.Pending(context.Background())
	if len(pending) != 0 {
		t.Errorf("expected empty review queue, got %d", len(pending))
	}
}

func TestApplyRejectionOverturnsToNotJob(t *testing.T) {
	store := memory.NewStateStore()
	seed(t, store, &domain.ClassificationRecord{
		MessageID:   "m-1",
		Stage:       domain.StageExtracted,
		NeedsReview: true,
	})
	svc := New(store, zerolog.Nop())

	if err := svc.Apply(context.Background(), "m-1", false, "alex", "newsletter"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := store.GetClassification(context.Background(), "m-1")
	if rec.ExitReason != domain.ExitNotJob {
		t.Errorf("expected not_job exit, got %q", rec.ExitReason)
	}
}

func TestApplyUnknownMessage(t *testing.T) {
	svc := New(memory.NewStateStore(), zerolog.Nop())
	if err := svc.Apply(context.Background(), "missing", true, "alex", ""); err == nil {
		t.Error("expected error for unknown message id")
	}
}
