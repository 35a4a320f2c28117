package updatecheck

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Canonical returns version with a "v" prefix, or "" when it is not semver.
func Canonical(version string) string {
	v := strings.TrimSpace(version)
	if v != "" && v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// Newer reports whether latest is a higher version than current.
func Newer(current, latest string) bool {
	c, l := Canonical(current), Canonical(latest)
	if c == "" || l == "" {
		return false
	}
	return semver.Compare(c, l) < 0
}

// Latest picks the highest eligible release. Drafts and malformed tags are skipped;
// prereleases only count when beta is set.
func Latest(releases []Release, beta bool) (Release, bool) {
	var (
		best  Release
		found bool
	)
	for _, r := range releases {
		if r.Draft {
			continue
		}
		v := Canonical(r.Tag)
		if v == "" {
			continue
		}
		if (r.Prerelease || semver.Prerelease(v) != "") && !beta {
			continue
		}
		if !found || semver.Compare(Canonical(best.Tag), v) < 0 {
			best, found = r, true
		}
	}
	return best, found
}

// archAliases are the names release pipelines commonly use for GOARCH values.
var archAliases = map[string][]string{
	"amd64": {"amd64", "x86_64", "x64"},
	"arm64": {"arm64", "aarch64"},
	"386":   {"386", "i386", "x86"},
}

var osAliases = map[string][]string{
	"darwin":  {"darwin", "macos", "mac"},
	"windows": {"windows"},
	"linux":   {"linux"},
}

// SelectAsset returns the first asset built for goos/goarch. On darwin a universal
// build is accepted for any architecture and preferred.
func SelectAsset(assets []Asset, goos, goarch string) (Asset, error) {
	oses := osAliases[goos]
	if oses == nil {
		oses = []string{goos}
	}
	arches := archAliases[goarch]
	if arches == nil {
		arches = []string{goarch}
	}

	if goos == "darwin" {
		for _, a := range assets {
			tokens := nameTokens(a.Name)
			if hasAny(tokens, oses) && tokens["universal"] && !isChecksum(a.Name) {
				return a, nil
			}
		}
	}
	for _, a := range assets {
		tokens := nameTokens(a.Name)
		if hasAny(tokens, oses) && hasAny(tokens, arches) && !isChecksum(a.Name) {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: %s/%s", ErrNoAsset, goos, goarch)
}

// x86_64 spans a separator, so it is folded into amd64 before splitting.
var archFold = strings.NewReplacer("x86_64", "amd64", "x86-64", "amd64")

// nameTokens splits an asset name on separators so "x86" never matches inside
// another architecture's name.
func nameTokens(name string) map[string]bool {
	folded := archFold.Replace(strings.ToLower(name))
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(folded, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	}) {
		tokens[tok] = true
	}
	return tokens
}

func hasAny(tokens map[string]bool, names []string) bool {
	for _, n := range names {
		if tokens[n] {
			return true
		}
	}
	return false
}

func isChecksum(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".sha256") || strings.HasSuffix(name, ".sig") ||
		strings.Contains(name, "checksums")
}
