package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInfo(t *testing.T) {
	t.Parallel()

	noVCS := func() map[string]string { return nil }
	vcs := func() map[string]string {
		return map[string]string{
			"vcs.revision": "0123456789abcdef",
			"vcs.time":     "2025-01-15T10:30:00Z",
		}
	}

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
		vcs       func() map[string]string
		want      Info
	}{
		{
			name:      "release build",
			version:   "v1.2.0",
			commit:    "abc",
			buildDate: "2025-01-15T10:30:00Z",
			vcs:       vcs,
			want:      Info{Version: "v1.2.0", Commit: "abc", BuildDate: "2025-01-15 10:30:00 UTC"},
		},
		{
			name:      "development build with vcs stamping",
			version:   "dev",
			commit:    unknownStr,
			buildDate: unknownStr,
			vcs:       vcs,
			want:      Info{Version: "build-01234567", Commit: "0123456789abcdef", BuildDate: "2025-01-15 10:30:00 UTC"},
		},
		{
			name:      "development build without vcs",
			version:   "dev",
			commit:    unknownStr,
			buildDate: unknownStr,
			vcs:       noVCS,
			want:      Info{Version: "dev", Commit: unknownStr, BuildDate: unknownStr},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := buildInfo(tt.version, tt.commit, tt.buildDate, tt.vcs)
			tt.want.GoVersion = runtime.Version()
			tt.want.Platform = runtime.GOOS + "/" + runtime.GOARCH
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetInfo(t *testing.T) {
	t.Parallel()

	info := GetInfo()
	assert.NotEmpty(t, info.Version)
	assert.Contains(t, info.String(), info.GoVersion)
}
