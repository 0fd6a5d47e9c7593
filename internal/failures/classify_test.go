package failures

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

func TestClassifyKnownCodes(t *testing.T) {
	tests := []struct {
		code     int
		action   Action
		category models.FailureCategory
	}{
		{137, ActionPause, models.FailureCategoryResourceExhaustion},
		{143, ActionPause, models.FailureCategoryResourceExhaustion},
		{2, ActionPause, models.FailureCategoryConfiguration},
		{5, ActionPause, models.FailureCategorySystemEnvironment},
		{28, ActionPause, models.FailureCategorySystemEnvironment},
		{110, ActionPause, models.FailureCategoryTimeout},
		{1, ActionContinue, models.FailureCategoryProcessFailure},
		{13, ActionContinue, models.FailureCategoryFileAccess},
		{22, ActionContinue, models.FailureCategoryValidation},
		{69, ActionContinue, models.FailureCategoryCodecIssues},
		{234, ActionContinue, models.FailureCategoryCodecIssues},
	}
	for _, tt := range tests {
		verdict := Classify(tt.code)
		assert.Equal(t, tt.action, verdict.Action, "code %d", tt.code)
		assert.Equal(t, tt.category, verdict.Category, "code %d", tt.code)
		assert.NotEmpty(t, verdict.Reason, "code %d", tt.code)
	}
}

func TestClassifyOOMReason(t *testing.T) {
	verdict := Classify(137)
	assert.Contains(t, verdict.Reason, "Process killed by system")
	assert.True(t, verdict.Systemic())
}

func TestClassifyTotality(t *testing.T) {
	// Every integer yields a verdict; spot-check a spread including
	// negatives and codes with no explicit mapping.
	for _, code := range []int{-1, 0, 3, 42, 100, 127, 128, 255, 9999} {
		verdict := Classify(code)
		assert.NotEmpty(t, verdict.Action, "code %d", code)
		assert.NotEmpty(t, verdict.Reason, "code %d", code)
		assert.NotEmpty(t, verdict.Category, "code %d", code)
	}
	assert.Equal(t, models.FailureCategoryUnknown, Classify(42).Category)
	assert.Equal(t, ActionContinue, Classify(42).Action)
}

func TestClassifyError(t *testing.T) {
	port := ClassifyError(ErrorKindPortError)
	assert.Equal(t, ActionPause, port.Action)
	assert.Equal(t, models.FailureCategoryProcessFailure, port.Category)

	exception := ClassifyError(ErrorKindException)
	assert.Equal(t, ActionPause, exception.Action)
	assert.Equal(t, models.FailureCategoryProcessFailure, exception.Category)

	unknown := ClassifyError(ErrorKind("bogus"))
	assert.Equal(t, ActionContinue, unknown.Action)
}

func TestExitCodeTag(t *testing.T) {
	assert.Equal(t, "EXIT_137", ExitCodeTag(137))
	assert.Equal(t, "EXIT_0", ExitCodeTag(0))
}
