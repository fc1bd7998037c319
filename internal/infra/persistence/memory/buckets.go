package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"varianthunter/pkg/domain"
)

// Buckets lists the payload partitions durable stores write, in write order.
var Buckets = []string{"analyses", "localOpt", "tags", "session"}

type sessionBucket struct {
	CurrentAnalysisID *int `json:"currentAnalysisId"`
	WorkingPanel
	LastUpdate  time.Time          `json:"lastUpdate"`
	DatasetInfo domain.DatasetInfo `json:"datasetInfo"`
	Version     string             `json:"version"`
	Reset       bool               `json:"reset"`
}

// EncodeBuckets splits a snapshot into JSON payloads keyed by bucket name.
func EncodeBuckets(s Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case "analyses":
			data, err = json.Marshal(s.Analyses)
		case "localOpt":
			data, err = json.Marshal(s.LocalOpt)
		case "tags":
			data, err = json.Marshal(s.Tags)
		case "session":
			data, err = json.Marshal(sessionBucket{
				CurrentAnalysisID: s.CurrentAnalysisID,
				WorkingPanel:      s.WorkingPanel,
				LastUpdate:        s.LastUpdate,
				DatasetInfo:       s.DatasetInfo,
				Version:           s.Version,
				Reset:             s.Reset,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from bucket payloads. Unknown buckets
// and empty payloads are ignored. The result is not migrated.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var s Snapshot
	for bucket, payload := range payloads {
		if len(payload) == 0 {
			continue
		}
		var err error
		switch bucket {
		case "analyses":
			err = json.Unmarshal(payload, &s.Analyses)
		case "localOpt":
			err = json.Unmarshal(payload, &s.LocalOpt)
		case "tags":
			err = json.Unmarshal(payload, &s.Tags)
		case "session":
			var sb sessionBucket
			if err = json.Unmarshal(payload, &sb); err == nil {
				s.CurrentAnalysisID = sb.CurrentAnalysisID
				s.WorkingPanel = sb.WorkingPanel
				s.LastUpdate = sb.LastUpdate
				s.DatasetInfo = sb.DatasetInfo
				s.Version = sb.Version
				s.Reset = sb.Reset
			}
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return s, nil
}

// Migrate applies the load-time normalization used by ImportState.
func Migrate(s Snapshot) Snapshot { return migrateSnapshot(s) }
