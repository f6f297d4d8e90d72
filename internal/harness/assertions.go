package harness

import (
	"context"
	"fmt"

	"github.com/hyperpolymath/januskey/internal/hash"
)

// evaluateAssertions checks every assertion against the final state,
// collecting failures into the result.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) {
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("assertion %d (%s): %v", i, a.Kind, err))
		}
	}
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Kind {
	case "content":
		content, ok, err := h.tree.GetContent(a.Path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("path %s absent", a.Path)
		}
		if string(content) != a.Equals {
			return fmt.Errorf("content %q, want %q", content, a.Equals)
		}
		return nil

	case "exists":
		exists, err := h.tree.Exists(a.Path)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("path %s absent", a.Path)
		}
		return nil

	case "absent":
		exists, err := h.tree.Exists(a.Path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("path %s present", a.Path)
		}
		return nil

	case "stored":
		stored, err := h.blobs.Exists(ctx, hash.Sum([]byte(a.Content)))
		if err != nil {
			return err
		}
		if !stored {
			return fmt.Errorf("content %q not in store", a.Content)
		}
		return nil

	case "not_stored":
		stored, err := h.blobs.Exists(ctx, hash.Sum([]byte(a.Content)))
		if err != nil {
			return err
		}
		if stored {
			return fmt.Errorf("content %q still in store", a.Content)
		}
		return nil

	case "store_count":
		count, err := h.blobs.Count(ctx)
		if err != nil {
			return err
		}
		if count != a.Count {
			return fmt.Errorf("store holds %d payloads, want %d", count, a.Count)
		}
		return nil

	case "history_undone":
		records, err := h.st.ReadHistory(ctx, 0)
		if err != nil {
			return err
		}
		undone := 0
		for _, rec := range records {
			if rec.Undone {
				undone++
			}
		}
		if undone != a.Count {
			return fmt.Errorf("%d records marked undone, want %d", undone, a.Count)
		}
		return nil

	case "audit_count":
		records, err := h.st.ReadObliterations(ctx, 0)
		if err != nil {
			return err
		}
		if len(records) != a.Count {
			return fmt.Errorf("audit log holds %d records, want %d", len(records), a.Count)
		}
		return nil

	case "proof_valid":
		records, err := h.st.ReadObliterations(ctx, 0)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("audit log empty")
		}
		for _, rec := range records {
			if !rec.Proof.Valid() || !rec.Proof.VerifyCommitment() {
				return fmt.Errorf("record %s carries an invalid proof", rec.ID)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown assertion kind %q", a.Kind)
	}
}
