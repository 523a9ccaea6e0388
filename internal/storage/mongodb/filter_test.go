package mongodb

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"tms/internal/models"
	"tms/internal/service"
)

var _ service.Repository = (*Store)(nil)

func TestTaskFilter_EmptyMatchesEverything(t *testing.T) {
	if q := taskFilter(models.TaskFilter{}); len(q) != 0 {
		t.Fatalf("expected empty query, got %v", q)
	}
}

func TestTaskFilter_AllFields(t *testing.T) {
	assignee := int64(3)
	creator := int64(1)
	status := models.StatusInProgress

	q := taskFilter(models.TaskFilter{
		AssignedToID:  &assignee,
		CreatedByID:   &creator,
		TitleContains: "a.b(c",
		Status:        &status,
	})

	if q["assigned_to_id"] != int64(3) {
		t.Fatalf("assigned_to_id: %v", q["assigned_to_id"])
	}
	if q["created_by_id"] != int64(1) {
		t.Fatalf("created_by_id: %v", q["created_by_id"])
	}
	if q["status"] != "InProgress" {
		t.Fatalf("status: %v", q["status"])
	}
	re, ok := q["title"].(primitive.Regex)
	if !ok {
		t.Fatalf("title should be a regex, got %T", q["title"])
	}
	if re.Pattern != `a\.b\(c` {
		t.Fatalf("title pattern must be escaped, got %q", re.Pattern)
	}
	if re.Options != "" {
		t.Fatalf("title match must be case-sensitive, got options %q", re.Options)
	}
}
