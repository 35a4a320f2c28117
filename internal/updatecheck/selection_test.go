package updatecheck

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewer(t *testing.T) {
	tests := []struct {
		current string
		latest  string
		want    bool
	}{
		{"v1.0.0", "v1.1.0", true},
		{"v1.1.0", "v1.0.0", false},
		{"v1.0.0", "v1.0.0", false},
		{"1.0.0", "1.1.0", true},
		{"v0.11.1", "v0.11.3", true},
		{"v1.2.0-rc.1", "v1.2.0", true},
		{"development", "v9.9.9", false},
		{"v1.0.0", "nightly", false},
	}
	for _, tc := range tests {
		t.Run(tc.current+"_vs_"+tc.latest, func(t *testing.T) {
			assert.Equal(t, tc.want, Newer(tc.current, tc.latest))
		})
	}
}

func TestLatestBetaEligibility(t *testing.T) {
	releases := []Release{
		{Tag: "v1.3.0-beta.1", Prerelease: true},
		{Tag: "v1.4.0", Draft: true},
		{Tag: "v1.2.0"},
		{Tag: "not-a-version"},
		{Tag: "v1.1.0"},
	}

	rel, ok := Latest(releases, false)
	require.True(t, ok)
	assert.Equal(t, "v1.2.0", rel.Tag)

	rel, ok = Latest(releases, true)
	require.True(t, ok)
	assert.Equal(t, "v1.3.0-beta.1", rel.Tag)

	// A prerelease tag without the GitHub flag is still a prerelease.
	rel, ok = Latest([]Release{{Tag: "v2.0.0-rc.1"}, {Tag: "v1.0.0"}}, false)
	require.True(t, ok)
	assert.Equal(t, "v1.0.0", rel.Tag)

	_, ok = Latest([]Release{{Tag: "v1.0.0-alpha", Prerelease: true}}, false)
	assert.False(t, ok)
}

func TestLatestNeverPicksIneligibleProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		var releases []Release
		for i := 0; i < n; i++ {
			major := rapid.IntRange(0, 3).Draw(t, "major")
			minor := rapid.IntRange(0, 9).Draw(t, "minor")
			pre := rapid.Bool().Draw(t, "pre")
			tag := "v" + strconv.Itoa(major) + "." + strconv.Itoa(minor) + ".0"
			if pre {
				tag += "-beta.1"
			}
			releases = append(releases, Release{Tag: tag, Prerelease: pre, Draft: rapid.Bool().Draw(t, "draft")})
		}
		beta := rapid.Bool().Draw(t, "beta")

		rel, ok := Latest(releases, beta)
		if !ok {
			return
		}
		if rel.Draft {
			t.Fatalf("picked draft %s", rel.Tag)
		}
		if rel.Prerelease && !beta {
			t.Fatalf("picked prerelease %s without beta", rel.Tag)
		}
		for _, r := range releases {
			if r.Draft || (r.Prerelease && !beta) {
				continue
			}
			if Newer(rel.Tag, r.Tag) {
				t.Fatalf("%s is newer than picked %s", r.Tag, rel.Tag)
			}
		}
	})
}

func TestSelectAsset(t *testing.T) {
	assets := []Asset{
		{Name: "checksums.txt"},
		{Name: "sigma-launcher-darwin-universal.zip"},
		{Name: "sigma-launcher-darwin-arm64.zip"},
		{Name: "sigma-launcher-linux-x86_64"},
		{Name: "sigma-launcher-linux-x86_64.sha256"},
		{Name: "sigma-launcher-windows-amd64.exe"},
	}

	tests := []struct {
		goos, goarch, want string
	}{
		{"darwin", "arm64", "sigma-launcher-darwin-universal.zip"},
		{"darwin", "amd64", "sigma-launcher-darwin-universal.zip"},
		{"linux", "amd64", "sigma-launcher-linux-x86_64"},
		{"windows", "amd64", "sigma-launcher-windows-amd64.exe"},
	}
	for _, tc := range tests {
		t.Run(tc.goos+"/"+tc.goarch, func(t *testing.T) {
			a, err := SelectAsset(assets, tc.goos, tc.goarch)
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.Name)
		})
	}

	_, err := SelectAsset(assets, "linux", "arm64")
	assert.ErrorIs(t, err, ErrNoAsset)

	a, err := SelectAsset(assets[2:], "darwin", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "sigma-launcher-darwin-arm64.zip", a.Name)
}

func TestSelectAssetMatchesWholeArchNames(t *testing.T) {
	assets := []Asset{
		{Name: "sigma-launcher_linux_x86_64.tar.gz"},
		{Name: "sigma-launcher_linux_386.tar.gz"},
		{Name: "sigma-launcher_windows_x86-64.zip"},
		{Name: "sigma-launcher_windows_x86.zip"},
		{Name: "sigma-launcher_linux_aarch64.tar.gz"},
	}

	tests := []struct {
		goos, goarch, want string
	}{
		{"linux", "386", "sigma-launcher_linux_386.tar.gz"},
		{"linux", "amd64", "sigma-launcher_linux_x86_64.tar.gz"},
		{"windows", "386", "sigma-launcher_windows_x86.zip"},
		{"windows", "amd64", "sigma-launcher_windows_x86-64.zip"},
		{"linux", "arm64", "sigma-launcher_linux_aarch64.tar.gz"},
	}
	for _, tc := range tests {
		t.Run(tc.goos+"/"+tc.goarch, func(t *testing.T) {
			a, err := SelectAsset(assets, tc.goos, tc.goarch)
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.Name)
		})
	}

	// Only a 64-bit build is published: a 386 host gets nothing rather than a binary it cannot run.
	_, err := SelectAsset(assets[:1], "linux", "386")
	assert.ErrorIs(t, err, ErrNoAsset)
}
