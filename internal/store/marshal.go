package store

import (
	"encoding/json"
	"fmt"

	"github.com/hyperpolymath/januskey/internal/model"
)

// marshalFileMetadata serializes file metadata to its JSON column form.
// A nil metadata pointer serializes to the empty string.
func marshalFileMetadata(meta *model.FileMetadata) (string, error) {
	if meta == nil {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal file metadata: %w", err)
	}
	return string(b), nil
}

// unmarshalFileMetadata parses the JSON column form back into metadata.
// The empty string yields nil.
func unmarshalFileMetadata(s string) (*model.FileMetadata, error) {
	if s == "" {
		return nil, nil
	}
	var meta model.FileMetadata
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal file metadata: %w", err)
	}
	return &meta, nil
}
