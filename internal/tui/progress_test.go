package tui_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"mrstack.dev/mrstack/internal/tui"
	"mrstack.dev/mrstack/testhelpers"
)

// Tests run without a terminal, exercising the non-interactive fallbacks.

func TestWithSpinnerRunsTheFunction(t *testing.T) {
	ran := false
	err := tui.WithSpinner(testhelpers.NewTestSplog(), "working...", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithSpinnerPropagatesErrors(t *testing.T) {
	boom := fmt.Errorf("boom")
	err := tui.WithSpinner(testhelpers.NewTestSplog(), "working...", func() error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestConfirmAutoConfirmsWithoutTerminal(t *testing.T) {
	confirmed, err := tui.Confirm("Proceed?")
	require.NoError(t, err)
	require.True(t, confirmed)
}
