package memory

import (
	"math"
	"testing"

	"varianthunter/pkg/domain"
)

func TestBucketsRoundTrip(t *testing.T) {
	store := NewStore(nil)
	created := addAnalysis(t, store)
	snap := store.ExportState()
	snap.Analyses[created.ID].Rows[0].PValueComparative = math.NaN()
	snap.Tags = map[string]domain.Tag{"TAG 1": {Name: "TAG 1", Opt: domain.DefaultOpt()}}
	snap.Reset = true

	payloads, err := EncodeBuckets(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(payloads) != len(Buckets) {
		t.Fatalf("expected %d buckets, got %d", len(Buckets), len(payloads))
	}
	payloads["unknown"] = []byte("garbage")
	decoded, err := DecodeBuckets(payloads)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.CurrentAnalysisID == nil || *decoded.CurrentAnalysisID != created.ID {
		t.Fatalf("expected current pointer restored")
	}
	row := decoded.Analyses[created.ID].Rows[0]
	if row.ItemKey() != "S_D614G" || !math.IsNaN(row.PValueComparative) {
		t.Fatalf("unexpected row %+v", row)
	}
	if _, ok := decoded.Tags["TAG 1"]; !ok || !decoded.Reset || decoded.Version != SchemaVersion {
		t.Fatalf("unexpected decoded snapshot %+v", decoded)
	}
}

func TestDecodeBucketsRejectsCorruptPayload(t *testing.T) {
	if _, err := DecodeBuckets(map[string][]byte{"tags": []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}
