// Package protect flags resource keys whose changes must never be merged automatically.
package protect

import (
	"path/filepath"
	"strings"
	"sync"
)

// DefaultPatterns are resource keys where concurrent edits are serialized even when
// their line ranges are disjoint: manifests, lockfiles, schemas and generated code.
var DefaultPatterns = []string{
	"go.mod",
	"go.sum",
	"package.json",
	"package-lock.json",
	"pnpm-lock.yaml",
	"yarn.lock",
	"Cargo.lock",
	"**/migrations/**",
	"**/schema/**",
	"**/generated/**",
}

// DefaultFileTypes are extensions treated the same way.
var DefaultFileTypes = []string{
	".sql",
	".proto",
	".lock",
}

// Detector checks whether a resource key is protected.
type Detector struct {
	mu        sync.RWMutex
	patterns  []string
	fileTypes []string
}

// New creates a detector with the default patterns plus any extra ones.
func New(extra ...string) *Detector {
	d := &Detector{
		patterns:  append([]string{}, DefaultPatterns...),
		fileTypes: append([]string{}, DefaultFileTypes...),
	}
	d.patterns = append(d.patterns, extra...)
	return d
}

// IsProtected reports whether a resource key matches a protected pattern or file type.
func (d *Detector) IsProtected(key string) bool {
	ok, _ := d.IsProtectedWithReason(key)
	return ok
}

// IsProtectedWithReason also returns which rule matched.
func (d *Detector) IsProtectedWithReason(key string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := filepath.ToSlash(key)
	for _, pattern := range d.patterns {
		if matchKey(normalized, pattern) {
			return true, "matches protected pattern " + pattern
		}
	}
	ext := strings.ToLower(filepath.Ext(normalized))
	for _, ft := range d.fileTypes {
		if ext != "" && ext == strings.ToLower(ft) {
			return true, "protected file type " + ft
		}
	}
	return false, ""
}

// AddPattern adds a glob pattern.
func (d *Detector) AddPattern(pattern string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, pattern)
}

// AddFileType adds a protected extension.
func (d *Detector) AddFileType(ext string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileTypes = append(d.fileTypes, ext)
}
