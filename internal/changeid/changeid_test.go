package changeid_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"mrstack.dev/mrstack/internal/changeid"
	"mrstack.dev/mrstack/internal/errors"
)

func TestFromMessage(t *testing.T) {
	t.Run("extracts the trailer", func(t *testing.T) {
		id, err := changeid.FromMessage("Add feature\n\nChange-Id: I0123456789abcdef0123456789abcdef01234567\n")
		require.NoError(t, err)
		require.Equal(t, "I0123456789abcdef0123456789abcdef01234567", id)
	})

	t.Run("stops at whitespace", func(t *testing.T) {
		id, err := changeid.FromMessage("Change-Id: Iabc trailing")
		require.NoError(t, err)
		require.Equal(t, "Iabc", id)
	})

	t.Run("missing trailer is a typed error", func(t *testing.T) {
		_, err := changeid.FromMessage("Add feature\n")
		require.Error(t, err)

		var missing *errors.MissingChangeIDError
		require.True(t, errors.As(err, &missing))
		require.Contains(t, missing.Message, "Add feature")
	})

	t.Run("silent variant returns empty", func(t *testing.T) {
		require.Equal(t, "", changeid.FromMessageSilent("Add feature\n"))
		require.Equal(t, "Iabc", changeid.FromMessageSilent("x\n\nChange-Id: Iabc\n"))
	})
}

func TestStripTrailer(t *testing.T) {
	body := "Some body text.\n\nChange-Id: Iabcdef\n"
	require.NotContains(t, changeid.StripTrailer(body), "Change-Id")
	require.Contains(t, changeid.StripTrailer(body), "Some body text.")
}

func TestBranchName(t *testing.T) {
	t.Run("deterministic slice of the id", func(t *testing.T) {
		name := changeid.BranchName("main", "I0123456789abcdef0123456789abcdef01234567")
		require.Equal(t, "main-01234567", name)
		// Same inputs, same branch. This is what makes reruns idempotent.
		require.Equal(t, name, changeid.BranchName("main", "I0123456789abcdef0123456789abcdef01234567"))
	})

	t.Run("different final branches do not collide", func(t *testing.T) {
		id := "I0123456789abcdef0123456789abcdef01234567"
		require.NotEqual(t, changeid.BranchName("main", id), changeid.BranchName("release", id))
	})
}

func TestBranchPattern(t *testing.T) {
	pattern := changeid.BranchPattern("main")

	require.True(t, pattern.MatchString("main-01234567"))
	require.True(t, pattern.MatchString("main-deadbeef"))

	require.False(t, pattern.MatchString("main"))
	require.False(t, pattern.MatchString("main-0123456"), "too short")
	require.False(t, pattern.MatchString("main-012345678"), "too long")
	require.False(t, pattern.MatchString("main-0123456Z"), "not hex")
	require.False(t, pattern.MatchString("other-01234567"))
	require.False(t, pattern.MatchString("feature/main-01234567"))
}

func TestBranchPatternEscapesFinalBranch(t *testing.T) {
	// Branch names may contain regexp metacharacters.
	pattern := changeid.BranchPattern("release-1.0")
	require.True(t, pattern.MatchString("release-1.0-01234567"))
	require.False(t, pattern.MatchString("release-1x0-01234567"))
}

func TestGenerate(t *testing.T) {
	format := regexp.MustCompile(`^I[0-9a-f]{40}$`)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := changeid.Generate()
		require.Regexp(t, format, id)
		require.False(t, seen[id], "generated a duplicate id: %s", id)
		seen[id] = true
	}
}
