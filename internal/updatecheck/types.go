// Package updatecheck polls GitHub releases for newer launcher builds, downloads the
// matching asset and installs it in place.
package updatecheck

import (
	"errors"
	"time"
)

// State is the update flow position.
type State string

const (
	StateIdle            State = "idle"
	StateChecking        State = "checking"
	StateUpToDate        State = "up_to_date"
	StateUpdateAvailable State = "update_available"
	StateDownloading     State = "downloading"
	StateReadyToInstall  State = "ready_to_install"
	StateError           State = "error"
)

// Mode controls whether an available update is downloaded without asking.
type Mode string

const (
	ModePrompt Mode = "prompt"
	ModeAuto   Mode = "auto"
)

var (
	// ErrNoRelease means the repository has no eligible release.
	ErrNoRelease = errors.New("no eligible release")
	// ErrNoAsset means the release carries no build for this platform.
	ErrNoAsset = errors.New("no release asset for this platform")
)

// Release is the part of a GitHub release the checker uses.
type Release struct {
	Tag         string
	Prerelease  bool
	Draft       bool
	HTMLURL     string
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is a downloadable release file.
type Asset struct {
	Name string
	URL  string
	Size int64
}

// Info is a snapshot of the checker for the tray and the status endpoint.
type Info struct {
	State          State      `json:"state"`
	CurrentVersion string     `json:"current_version"`
	LatestVersion  string     `json:"latest_version,omitempty"`
	ReleaseURL     string     `json:"release_url,omitempty"`
	IsPrerelease   bool       `json:"is_prerelease,omitempty"`
	AssetPath      string     `json:"asset_path,omitempty"`
	CheckedAt      *time.Time `json:"checked_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}
