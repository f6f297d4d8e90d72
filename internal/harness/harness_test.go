package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

// TestScenarioGoldens runs every conformance scenario against a real
// engine and compares its trace against the golden file.
func TestScenarioGoldens(t *testing.T) {
	for _, name := range []string{
		"delete-undo",
		"modify-undo",
		"move-undo",
		"transaction-rollback",
		"obliterate-blocks-undo",
		"deduplication",
	} {
		t.Run(name, func(t *testing.T) {
			RunWithGolden(t, loadTestScenario(t, name))
		})
	}
}

func TestRunReportsAssertionFailures(t *testing.T) {
	s := &Scenario{
		Name: "failing",
		Flow: []Step{
			{Op: "create", Path: "a.txt", Content: "actual"},
		},
		Assertions: []Assertion{
			{Kind: "content", Path: "a.txt", Equals: "expected-something-else"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "content")
}

func TestRunRejectsUnexpectedStepFailure(t *testing.T) {
	s := &Scenario{
		Name: "bad-step",
		Flow: []Step{
			{Op: "delete", Path: "missing.txt"},
		},
	}

	_, err := Run(s)
	assert.Error(t, err)
}

func TestRunHonorsExpectedErrors(t *testing.T) {
	s := &Scenario{
		Name: "expected-error",
		Flow: []Step{
			{Op: "delete", Path: "missing.txt", ExpectError: "NOT_FOUND"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "NOT_FOUND", result.Trace[0].Outcome)
}

func TestLoadScenarioRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anon.yaml")
	require.NoError(t, writeFile(path, "flow:\n  - {op: undo}\n"))

	_, err := LoadScenario(path)
	assert.Error(t, err)
}
