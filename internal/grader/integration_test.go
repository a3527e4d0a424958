package grader

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"pybuddy/internal/catalog"
	"pybuddy/internal/config"
	"pybuddy/internal/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProcessGrader grades with a real local interpreter; skipped when python3 is absent.
func newProcessGrader(t *testing.T) (*Grader, *catalog.Catalog) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	cfg := config.Defaults().Sandbox
	cfg.Backend = "process"
	cfg.DefaultTimeoutMS = 3000

	executor, err := sandbox.NewProcessExecutor(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { executor.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)
	return New(executor), cat
}

func TestReferenceSolutionsPass(t *testing.T) {
	g, cat := newProcessGrader(t)
	solutions := map[string]string{
		"sum-calculator": "def add_numbers(a, b):\n    return a + b\n",
		"reverse-string": "def reverse_string(s):\n    return s[::-1]\n",
		"sort-list":      "def sort_list(items):\n    return sorted(items)\n",
	}
	for id, src := range solutions {
		t.Run(id, func(t *testing.T) {
			ch, err := cat.Challenge(id)
			require.NoError(t, err)
			res := g.Grade(context.Background(), src, ch)
			assert.True(t, res.Passed, res.Message)
			assert.Equal(t, "All tests passed!", res.Message)
		})
	}
}

func TestProcessGraderScenarios(t *testing.T) {
	g, cat := newProcessGrader(t)
	sum, err := cat.Challenge("sum-calculator")
	require.NoError(t, err)
	rev, err := cat.Challenge("reverse-string")
	require.NoError(t, err)

	t.Run("subtraction fails first case", func(t *testing.T) {
		res := g.Grade(context.Background(), "def add_numbers(a, b):\n    return a - b\n", sum)
		assert.Equal(t, "Test failed: (2, 3) -> Expected 5, got -1", res.Message)
	})

	t.Run("syntax error", func(t *testing.T) {
		res := g.Grade(context.Background(), "def add_numbers(a, b)\n    return a + b\n", sum)
		assert.False(t, res.Passed)
		assert.True(t, strings.HasPrefix(res.Message, "Error:"), res.Message)
		assert.Equal(t, OutcomeDefinitionError, res.Outcome)
	})

	t.Run("unrelated function", func(t *testing.T) {
		res := g.Grade(context.Background(), "def add(a, b):\n    return a + b\n", sum)
		assert.Equal(t, "Function not defined", res.Message)
	})

	t.Run("name bound to non-callable", func(t *testing.T) {
		res := g.Grade(context.Background(), "add_numbers = 5\n", sum)
		assert.Equal(t, "Function not defined", res.Message)
	})

	t.Run("raises in body", func(t *testing.T) {
		res := g.Grade(context.Background(), "def reverse_string(s):\n    raise ValueError('nope')\n", rev)
		assert.Equal(t, "Error: nope", res.Message)
		assert.Equal(t, OutcomeExecutionError, res.Outcome)
	})

	t.Run("fails only second case", func(t *testing.T) {
		src := "def add_numbers(a, b):\n    return 5 if a == 2 else 99\n"
		res := g.Grade(context.Background(), src, sum)
		assert.Equal(t, "Test failed: (-1, 1) -> Expected 0, got 99", res.Message)
	})

	t.Run("printing does not confuse the report", func(t *testing.T) {
		src := "print('hello')\ndef add_numbers(a, b):\n    print(a, b)\n    return a + b\n"
		res := g.Grade(context.Background(), src, sum)
		assert.True(t, res.Passed, res.Message)
	})

	t.Run("recursion sees its own name", func(t *testing.T) {
		src := "def reverse_string(s):\n    return s if len(s) <= 1 else reverse_string(s[1:]) + s[0]\n"
		res := g.Grade(context.Background(), src, rev)
		assert.True(t, res.Passed, res.Message)
	})

	t.Run("stops at first mismatch before a later hang", func(t *testing.T) {
		src := "def add_numbers(a, b):\n    if a == 2:\n        return 0\n    while True:\n        pass\n"
		res := g.Grade(context.Background(), src, sum)
		assert.Equal(t, "Test failed: (2, 3) -> Expected 5, got 0", res.Message)
		assert.Equal(t, OutcomeMismatch, res.Outcome)
		assert.Equal(t, 0, res.FailedCase)
	})

	t.Run("failing repr is an execution error", func(t *testing.T) {
		src := "class W:\n    def __repr__(self):\n        raise ValueError('bad repr')\n\n" +
			"def add_numbers(a, b):\n    return W()\n"
		res := g.Grade(context.Background(), src, sum)
		assert.Equal(t, "Error: bad repr", res.Message)
		assert.Equal(t, OutcomeExecutionError, res.Outcome)
		assert.Equal(t, 0, res.FailedCase)
	})

	t.Run("tuple never equals a list", func(t *testing.T) {
		sortList, err := cat.Challenge("sort-list")
		require.NoError(t, err)
		res := g.Grade(context.Background(), "def sort_list(items):\n    return tuple(sorted(items))\n", sortList)
		assert.Equal(t, OutcomeMismatch, res.Outcome)
		assert.True(t, strings.HasPrefix(res.Message, "Test failed: "), res.Message)
	})

	t.Run("infinite loop times out", func(t *testing.T) {
		res := g.Grade(context.Background(), "def add_numbers(a, b):\n    while True:\n        pass\n", sum)
		assert.Equal(t, OutcomeTimeout, res.Outcome)
		assert.True(t, strings.HasPrefix(res.Message, "Error: execution timed out"), res.Message)
	})
}
