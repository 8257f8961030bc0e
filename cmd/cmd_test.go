package cmd

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
	}{
		{name: "standard version", version: "1.0.0", commit: "abc1234"},
		{name: "development version", version: "development", commit: "unknown"},
	}

	origVersion, origCommit := AppVersion, GitCommit
	t.Cleanup(func() {
		AppVersion, GitCommit = origVersion, origCommit
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			AppVersion, GitCommit = tt.version, tt.commit
			got := versionString()
			if !strings.Contains(got, tt.version) {
				t.Errorf("versionString() = %q, missing version %q", got, tt.version)
			}
			if !strings.Contains(got, tt.commit) {
				t.Errorf("versionString() = %q, missing commit %q", got, tt.commit)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"single line", "single line"},
		{"first\nsecond", "first"},
		{strings.Repeat("x", 200), strings.Repeat("x", 120) + "..."},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
