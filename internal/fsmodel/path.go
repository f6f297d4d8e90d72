package fsmodel

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MetaDir is the engine-private metadata subtree inside a managed root.
// Paths under it are never valid subject paths.
const MetaDir = ".januskey"

// Canonicalize normalizes a subject path into its identity form: forward
// slashes, "." and ".." resolved, duplicate separators collapsed, NFC
// unicode normalization, no leading slash. The result is the key under
// which the engine indexes file entries.
//
// Paths that escape the managed root or address the metadata subtree are
// rejected.
func Canonicalize(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("canonicalize: empty path")
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." {
		return "", fmt.Errorf("canonicalize %q: path resolves to the managed root", p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("canonicalize %q: path escapes the managed root", p)
	}
	cleaned = norm.NFC.String(cleaned)
	if cleaned == MetaDir || strings.HasPrefix(cleaned, MetaDir+"/") {
		return "", fmt.Errorf("canonicalize %q: path addresses the metadata subtree", p)
	}
	return cleaned, nil
}
