package validation

import "testing"

func TestSummarizeRelationships(t *testing.T) {
	results := []RelationshipResult{
		ValidateRelationship(Relationship{SourceID: 1, TargetID: 2, Kind: KindImprovesOn, Confidence: 0.8, Explanation: goodExplanation}),
		ValidateRelationship(Relationship{SourceID: 1, TargetID: 1, Kind: KindImprovesOn, Confidence: 0.8, Explanation: goodExplanation}),
		ValidateRelationship(Relationship{SourceID: 1, TargetID: 3, Kind: KindNone, Confidence: 0.2, Explanation: "Nothing connects these two papers at all."}),
	}
	s := SummarizeRelationships(results)

	if s.Total != 3 || s.Valid != 2 || s.Invalid != 1 {
		t.Fatalf("counts = %+v", s)
	}
	if s.Total != s.Valid+s.Invalid {
		t.Fatal("total != valid + invalid")
	}
	if s.Errors != 1 {
		t.Errorf("errors = %d, want 1", s.Errors)
	}
	// low + very-low on the third record.
	if s.Warnings != 2 {
		t.Errorf("warnings = %d, want 2", s.Warnings)
	}
	if s.Infos != 1 {
		t.Errorf("infos = %d, want 1", s.Infos)
	}
	if s.Flagged != 1 {
		t.Errorf("flagged = %d, want 1", s.Flagged)
	}
}

func TestSummarizeEntities(t *testing.T) {
	results := []EntityResult{
		ValidateEntity(Entity{Name: "paper", MentionCount: 1}, nil),
		ValidateEntity(Entity{Name: "3D Gaussian Splatting", Category: CategoryMethod, MentionCount: 1}, []WeightedItem{{ID: 1, Weight: 1}}),
		ValidateEntity(Entity{Name: "Mip-NeRF 360", Category: CategoryDataset, MentionCount: 4}, nil),
	}
	s := SummarizeEntities(results)
	want := Summary{Total: 3, Valid: 2, Invalid: 1, Errors: 1, Warnings: 1}
	if s.Summary != want {
		t.Fatalf("summary = %+v, want %+v", s.Summary, want)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if s := SummarizeEntities(nil); s.Total != 0 {
		t.Fatalf("empty entity summary = %+v", s)
	}
	if s := SummarizeRelationships(nil); s.Total != 0 || s.Flagged != 0 {
		t.Fatalf("empty relationship summary = %+v", s)
	}
}
