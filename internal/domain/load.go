package domain

import (
	"encoding/json"
	"time"
)

// StagedObject is one archived page ready to be appended to staging.
type StagedObject struct {
	Key         string          // object key in the raw layer
	Checksum    string          // hex SHA-256 of the object body
	WindowStart time.Time       // partition the object was archived under
	Metadata    json.RawMessage // FeatureCollection "metadata" member, if any
	Records     []EventRecord
}

// ObjectLoad reports what loading one object did to the staging table.
type ObjectLoad struct {
	Key        string `json:"key"`
	Features   int    `json:"features"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Skipped    bool   `json:"skipped"` // identical content was loaded before
}

// MartResult reports the row counts of freshly rebuilt marts.
type MartResult struct {
	CountRows int64 `json:"count_rows"`
	AvgRows   int64 `json:"avg_rows"`
}

// CollectionMetadata returns the "metadata" member of a FeatureCollection,
// or nil when the body has none or cannot be decoded.
func CollectionMetadata(body []byte) json.RawMessage {
	var fc struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(body, &fc); err != nil || len(fc.Metadata) == 0 || string(fc.Metadata) == "null" {
		return nil
	}
	return fc.Metadata
}
