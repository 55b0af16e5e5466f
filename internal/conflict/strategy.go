// Package conflict detects overlapping writes between stories and decides how to integrate them.
package conflict

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/ShayCichocki/armada/pkg/models"
)

// Strategy classifies two changes to the same resource key.
// A missing change (the story declared the key but produced nothing for it)
// is passed as a zero FileChange with the key's path.
type Strategy interface {
	Name() string
	Classify(a, b models.FileChange) models.Resolution
}

// StrategyByName returns the strategy registered under name.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", LineRange{}.Name():
		return LineRange{}, nil
	case WholeFile{}.Name():
		return WholeFile{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", name)
	}
}

// LineRange compares hunk line ranges.
//
// Disjoint ranges auto-merge. Overlapping ranges serialize when one side is a
// no-op or its hunks all appear, byte-identical, in the other side. Anything
// else escalates.
type LineRange struct{}

func (LineRange) Name() string { return "line-range" }

func (LineRange) Classify(a, b models.FileChange) models.Resolution {
	if !rangesOverlap(a.Hunks, b.Hunks) {
		return models.ResolutionAutoMerged
	}
	if a.NoOp || b.NoOp || hunksSubset(a.Hunks, b.Hunks) || hunksSubset(b.Hunks, a.Hunks) {
		return models.ResolutionSerialized
	}
	return models.ResolutionEscalated
}

// WholeFile treats any shared key as a conflict. Identical changes and no-ops serialize.
type WholeFile struct{}

func (WholeFile) Name() string { return "whole-file" }

func (WholeFile) Classify(a, b models.FileChange) models.Resolution {
	if a.NoOp || b.NoOp || len(a.Hunks) == 0 || len(b.Hunks) == 0 {
		return models.ResolutionSerialized
	}
	if Fingerprint(a) == Fingerprint(b) {
		return models.ResolutionSerialized
	}
	return models.ResolutionEscalated
}

func rangesOverlap(a, b []models.Hunk) bool {
	for _, ha := range a {
		for _, hb := range b {
			if ha.Overlaps(hb) {
				return true
			}
		}
	}
	return false
}

// hunksSubset reports whether every hunk of sub appears in super with the same
// range and content. An empty sub is not a subset: it cannot overlap anything.
func hunksSubset(sub, super []models.Hunk) bool {
	if len(sub) == 0 {
		return false
	}
	have := make(map[string]bool, len(super))
	for _, h := range super {
		have[hunkFingerprint(h)] = true
	}
	for _, h := range sub {
		if !have[hunkFingerprint(h)] {
			return false
		}
	}
	return true
}

func hunkFingerprint(h models.Hunk) string {
	sum := blake3.Sum256([]byte(strconv.Itoa(h.Start) + ":" + strconv.Itoa(h.End) + "\n" + h.Content))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a stable hash of a file change's hunks.
func Fingerprint(fc models.FileChange) string {
	hasher := blake3.New()
	for _, h := range fc.Hunks {
		fmt.Fprintf(hasher, "%d:%d\n%s\x00", h.Start, h.End, h.Content)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
