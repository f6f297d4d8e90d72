package fsmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "a.txt", "a.txt"},
		{"nested", "dir/file.txt", "dir/file.txt"},
		{"leading slash stripped", "/a.txt", "a.txt"},
		{"dot segments resolved", "dir/./sub/../file.txt", "dir/file.txt"},
		{"duplicate separators collapsed", "dir//file.txt", "dir/file.txt"},
		{"backslashes normalized", `dir\file.txt`, "dir/file.txt"},
		{"trailing slash dropped", "dir/sub/", "dir/sub"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	for _, in := range []string{
		"",
		".",
		"..",
		"../outside.txt",
		"dir/../../outside.txt",
		".januskey",
		".januskey/objects/ab/cd",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Canonicalize(in)
			assert.Error(t, err)
		})
	}
}

func TestCanonicalizeIsStableUnderRepetition(t *testing.T) {
	first, err := Canonicalize("dir//./x/../file.txt")
	assert.NoError(t, err)
	second, err := Canonicalize(first)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
}
