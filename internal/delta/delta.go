// Package delta implements reverse-delta encoding for modify pre-images.
//
// Instead of staging the full pre-image of a large file, the engine can
// stage a delta that reconstructs the old content from the new content at
// undo time. The feature is experimental and opt-in; when a delta would not
// be materially smaller than the content it replaces, the full pre-image is
// stored instead.
package delta

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Threshold is the minimum pre-image size for delta encoding to be
// considered; below it, full storage is always cheaper in practice.
const Threshold = 4096

// MaxRatio caps the delta size as a fraction of the pre-image; larger
// deltas fall back to full storage.
const MaxRatio = 0.5

// Encoding identifies how a stored pre-image is encoded.
type Encoding string

const (
	// EncodingFull marks a payload that is the pre-image itself.
	EncodingFull Encoding = "full"
	// EncodingPatch marks a payload carrying a reverse patch from the
	// post-image back to the pre-image.
	EncodingPatch Encoding = "patch"
)

// Delta is the serialized reverse-delta container.
type Delta struct {
	Encoding     Encoding `json:"encoding"`
	Patch        string   `json:"patch,omitempty"`
	OriginalSize int      `json:"original_size"`
	NewSize      int      `json:"new_size"`
}

// Compute builds a reverse delta reconstructing old from new. Returns
// (delta, true) when delta encoding pays off; (zero, false) when the caller
// should store the full pre-image instead. Binary content (invalid UTF-8)
// always falls back to full storage: the patch format is text-based.
func Compute(newContent, oldContent []byte) (Delta, bool) {
	if len(oldContent) < Threshold {
		return Delta{}, false
	}
	if !utf8.Valid(newContent) || !utf8.Valid(oldContent) {
		return Delta{}, false
	}

	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(string(newContent), string(oldContent))
	text := dmp.PatchToText(patches)

	if float64(len(text)) > MaxRatio*float64(len(oldContent)) {
		return Delta{}, false
	}

	return Delta{
		Encoding:     EncodingPatch,
		Patch:        text,
		OriginalSize: len(oldContent),
		NewSize:      len(newContent),
	}, true
}

// Apply reconstructs the pre-image from the current (post-image) content.
func (d Delta) Apply(current []byte) ([]byte, error) {
	if d.Encoding != EncodingPatch {
		return nil, fmt.Errorf("apply delta: unexpected encoding %q", d.Encoding)
	}
	if len(current) != d.NewSize {
		return nil, fmt.Errorf("apply delta: current size %d does not match recorded %d", len(current), d.NewSize)
	}

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(d.Patch)
	if err != nil {
		return nil, fmt.Errorf("apply delta: %w", err)
	}

	restored, applied := dmp.PatchApply(patches, string(current))
	for _, ok := range applied {
		if !ok {
			return nil, fmt.Errorf("apply delta: patch hunk failed to apply")
		}
	}
	if len(restored) != d.OriginalSize {
		return nil, fmt.Errorf("apply delta: restored size %d does not match recorded %d", len(restored), d.OriginalSize)
	}
	return []byte(restored), nil
}

// Marshal serializes the delta container for the blob store.
func (d Delta) Marshal() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal delta: %w", err)
	}
	return b, nil
}

// Unmarshal parses a delta container retrieved from the blob store.
func Unmarshal(b []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(b, &d); err != nil {
		return Delta{}, fmt.Errorf("unmarshal delta: %w", err)
	}
	return d, nil
}
