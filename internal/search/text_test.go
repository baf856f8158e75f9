package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQueryText(t *testing.T) {
	t.Run("joins non-empty fields", func(t *testing.T) {
		got := BuildQueryText("migrate billing", "current provider sunsets in Q3", "cost and reliability")
		assert.Equal(t, "migrate billing . current provider sunsets in Q3 . cost and reliability", got)
	})

	t.Run("skips empty fields", func(t *testing.T) {
		got := BuildQueryText("migrate billing", "", "cost")
		assert.Equal(t, "migrate billing . cost", got)
	})

	t.Run("all empty", func(t *testing.T) {
		assert.Equal(t, "", BuildQueryText("", "", ""))
	})

	t.Run("caps at 800 characters", func(t *testing.T) {
		long := strings.Repeat("x", 1000)
		got := BuildQueryText(long, long, long)
		assert.Len(t, []rune(got), 800)
	})
}

func TestBuildSearchText(t *testing.T) {
	t.Run("doubles the title", func(t *testing.T) {
		got := BuildSearchText(SearchTextFields{
			What:    "launch beta",
			Context: "waitlist is ready",
		})
		assert.Equal(t, "launch beta . launch beta . waitlist is ready", got)
	})

	t.Run("falls back to raw input for the title", func(t *testing.T) {
		got := BuildSearchText(SearchTextFields{
			RawInput: "should I launch?",
			Outcome:  "SUCCESS",
		})
		assert.Equal(t, "should I launch? . should I launch? . SUCCESS", got)
	})

	t.Run("includes outcome fields", func(t *testing.T) {
		got := BuildSearchText(SearchTextFields{
			What:          "hire a contractor",
			Outcome:       "FAILURE",
			Reflection:    "scope was unclear",
			SuccessDriver: "No clear pattern",
			FailureReason: "no written scope",
		})
		assert.Contains(t, got, "FAILURE")
		assert.Contains(t, got, "scope was unclear")
		assert.Contains(t, got, "no written scope")
	})

	t.Run("caps at 2000 characters", func(t *testing.T) {
		long := strings.Repeat("y", 1500)
		got := BuildSearchText(SearchTextFields{What: long, Context: long})
		assert.Len(t, []rune(got), 2000)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", BuildSearchText(SearchTextFields{}))
	})
}
