package service

import (
	"context"
	"testing"

	"github.com/philmcc/dbdash-backend/internal/models"
)

func TestQueryServiceClassifyAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc := NewQueryService(store, quietLogger())

	result, err := store.IngestSample(ctx, "target-1", "SELECT * FROM orders WHERE id = $1", models.StatementStats{Calls: 3})
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	known := true
	group := "reporting"
	if err := svc.Classify(ctx, result.CanonicalQueryID, models.ClassificationUpdate{IsKnown: &known, GroupID: &group}); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	detail, err := svc.Get(ctx, result.CanonicalQueryID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !detail.IsKnown {
		t.Error("is_known flag was not applied")
	}
	if detail.GroupID == nil || *detail.GroupID != "reporting" {
		t.Errorf("Unexpected group: %v", detail.GroupID)
	}
	if len(detail.Samples) != 1 {
		t.Errorf("Expected 1 sample in detail view, got %d", len(detail.Samples))
	}
}

func TestQueryServiceClassifyEmptyUpdate(t *testing.T) {
	store := newTestStore(t)
	svc := NewQueryService(store, quietLogger())

	err := svc.Classify(context.Background(), "some-id", models.ClassificationUpdate{})
	if err == nil {
		t.Fatal("Empty update must be rejected")
	}
	if !models.IsKind(err, models.ErrInvalidClassification) {
		t.Errorf("Expected INVALID_CLASSIFICATION, got %v", err)
	}
}

func TestQueryServiceGetUnknown(t *testing.T) {
	store := newTestStore(t)
	svc := NewQueryService(store, quietLogger())

	_, err := svc.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error for unknown id")
	}
	if !models.IsKind(err, models.ErrInvalidClassification) {
		t.Errorf("Expected INVALID_CLASSIFICATION, got %v", err)
	}
}
