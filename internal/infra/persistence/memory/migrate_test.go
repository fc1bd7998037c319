package memory

import (
	"testing"

	"varianthunter/pkg/domain"
)

func TestMigrateSnapshotNormalizesDocument(t *testing.T) {
	dangling := 7
	snap := migrateSnapshot(Snapshot{
		Analyses: map[int]domain.Analysis{
			3: {ID: 99},
		},
		LocalOpt: map[int]domain.LocalOpt{
			5: domain.DefaultLocalOpt(),
		},
		Tags: map[string]domain.Tag{
			"T": {Name: "wrong"},
		},
		CurrentAnalysisID: &dangling,
	})
	if snap.Analyses[3].ID != 3 {
		t.Fatalf("analysis id must follow its key")
	}
	if _, ok := snap.LocalOpt[3]; !ok {
		t.Fatalf("expected default local opt seeded")
	}
	if _, ok := snap.LocalOpt[5]; ok {
		t.Fatalf("orphan local opt must be dropped")
	}
	if snap.Tags["T"].Name != "T" || snap.Tags["T"].Muts == nil {
		t.Fatalf("tag must be keyed and normalized: %+v", snap.Tags["T"])
	}
	if snap.CurrentAnalysisID != nil {
		t.Fatalf("dangling current pointer must be cleared")
	}
	if snap.Version != SchemaVersion {
		t.Fatalf("expected version default")
	}
}

func TestMigrateSnapshotEmpty(t *testing.T) {
	snap := migrateSnapshot(Snapshot{})
	if snap.Analyses == nil || snap.LocalOpt == nil || snap.Tags == nil {
		t.Fatalf("expected initialized collections")
	}
}
