package storage

import (
	"encoding/json"
	"time"
)

// Bucket names
const (
	UpdatesBucket = "updates"
	MetaBucket    = "meta"
)

// Keys
const (
	SchemaVersionKey = "schema"
	PendingUpdateKey = "pending"
	LastCheckKey     = "last_check"
)

// CurrentSchemaVersion is the current database schema version
const CurrentSchemaVersion = 1

// PendingUpdate is a downloaded release the user chose to install later.
type PendingUpdate struct {
	Version      string    `json:"version"`
	AssetPath    string    `json:"asset_path"`
	ReleaseURL   string    `json:"release_url,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// CheckRecord remembers the outcome of the last update check.
type CheckRecord struct {
	CheckedAt     time.Time `json:"checked_at"`
	State         string    `json:"state"`
	LatestVersion string    `json:"latest_version,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p *PendingUpdate) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *PendingUpdate) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (c *CheckRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (c *CheckRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}
