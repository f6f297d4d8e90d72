// Package harness provides a conformance harness for the JanusKey engine.
//
// Scenarios are YAML files describing a flow of operations and the
// assertions that must hold afterwards. Each scenario runs against a real
// engine over a fresh in-memory filesystem and an in-memory database, with
// a deterministic wall clock, so two runs of the same scenario produce
// identical traces. Traces are compared against golden files.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/hyperpolymath/januskey/internal/blob"
	"github.com/hyperpolymath/januskey/internal/engine"
	"github.com/hyperpolymath/januskey/internal/fsmodel"
	"github.com/hyperpolymath/januskey/internal/hash"
	"github.com/hyperpolymath/januskey/internal/obliterate"
	"github.com/hyperpolymath/januskey/internal/store"
	"github.com/hyperpolymath/januskey/internal/testutil"
)

// TraceEvent is one executed step in a scenario trace.
type TraceEvent struct {
	Phase   string `json:"phase"` // "setup" or "flow"
	Op      string `json:"op"`
	Path    string `json:"path,omitempty"`
	Outcome string `json:"outcome"` // "ok" or the error code
}

// Result is the outcome of running a scenario.
type Result struct {
	Passed bool
	Trace  []TraceEvent
	Errors []string
}

// Harness executes scenarios against a real engine.
type Harness struct {
	engine *engine.Engine
	obl    *obliterate.Manager
	blobs  *blob.Store
	st     *store.Store
	tree   *fsmodel.Tree
}

// Run executes a scenario in a fresh environment and evaluates its
// assertions.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	fsys := afero.NewMemMapFs()
	tree := fsmodel.NewTree(fsys)
	blobs := blob.New(fsys, st)
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	wall := testutil.NewDeterministicWallClock()

	eng, err := engine.New(ctx, tree, blobs, st,
		engine.WithLogger(logger),
		engine.WithWallClock(wall),
	)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	obl := obliterate.New(blobs, st,
		obliterate.WithLogger(logger),
		obliterate.WithWallClock(wall),
	)

	h := &Harness{engine: eng, obl: obl, blobs: blobs, st: st, tree: tree}

	result := &Result{Passed: true}
	for i, step := range scenario.Setup {
		if err := h.runStep(ctx, "setup", step, result); err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Op, err)
		}
	}
	for i, step := range scenario.Flow {
		if err := h.runStep(ctx, "flow", step, result); err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Op, err)
		}
	}

	h.evaluateAssertions(ctx, scenario.Assertions, result)
	if len(result.Errors) > 0 {
		result.Passed = false
	}
	return result, nil
}

// runStep executes one step, recording its trace event. A step whose
// outcome contradicts its expectation is a scenario-level error.
func (h *Harness) runStep(ctx context.Context, phase string, step Step, result *Result) error {
	err := h.dispatch(ctx, step)

	outcome := "ok"
	if err != nil {
		outcome = string(engine.CodeOf(err))
	}
	result.Trace = append(result.Trace, TraceEvent{
		Phase:   phase,
		Op:      step.Op,
		Path:    step.Path,
		Outcome: outcome,
	})

	switch {
	case step.ExpectError == "" && err != nil:
		return fmt.Errorf("unexpected failure: %w", err)
	case step.ExpectError != "" && err == nil:
		return fmt.Errorf("expected %s, step succeeded", step.ExpectError)
	case step.ExpectError != "" && outcome != step.ExpectError:
		return fmt.Errorf("expected %s, got %s", step.ExpectError, outcome)
	}
	return nil
}

// dispatch routes a step to the engine or the obliteration manager.
func (h *Harness) dispatch(ctx context.Context, step Step) error {
	var err error
	switch step.Op {
	case "create":
		_, err = h.engine.Create(ctx, step.Path, []byte(step.Content))
	case "delete":
		_, err = h.engine.Delete(ctx, step.Path)
	case "modify":
		_, err = h.engine.Modify(ctx, step.Path, []byte(step.Content))
	case "move":
		_, err = h.engine.Move(ctx, step.Path, step.Secondary)
	case "copy":
		_, err = h.engine.Copy(ctx, step.Path, step.Secondary)
	case "chmod":
		_, err = h.engine.Chmod(ctx, step.Path, step.Mode)
	case "mkdir":
		_, err = h.engine.Mkdir(ctx, step.Path, step.Parents)
	case "rmdir":
		_, err = h.engine.Rmdir(ctx, step.Path, step.Recursive)
	case "symlink":
		_, err = h.engine.Symlink(ctx, step.Secondary, step.Path)
	case "append":
		_, err = h.engine.Append(ctx, step.Path, []byte(step.Content))
	case "truncate":
		_, err = h.engine.Truncate(ctx, step.Path, step.Size)
	case "touch":
		_, err = h.engine.Touch(ctx, step.Path, step.Create)
	case "undo":
		_, err = h.engine.UndoLast(ctx)
	case "begin":
		_, err = h.engine.Begin(ctx, step.Name)
	case "commit":
		_, err = h.engine.Commit(ctx)
	case "rollback":
		_, err = h.engine.Rollback(ctx)
	case "obliterate":
		_, err = h.obl.Obliterate(ctx, hash.Sum([]byte(step.Content)), step.Reason, step.LegalBasis)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return err
}
