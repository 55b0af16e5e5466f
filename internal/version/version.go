// Package version reports the armada release.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// commit is stamped at build time:
//
//	go build -ldflags "-X github.com/ShayCichocki/armada/internal/version.commit=$(git rev-parse --short HEAD)"
var commit string

// Get returns the release version, with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Full returns the version with the build commit appended when one was stamped.
func Full() string {
	if c := strings.TrimSpace(commit); c != "" {
		return Get() + "+" + c
	}
	return Get()
}
