// Package failures classifies subprocess failures into actionable
// verdicts and failure categories.
package failures

import (
	"fmt"

	"github.com/mjc/reencodarr-sub000/internal/models"
)

// Action is the classifier's recommendation. The pipelines currently
// record it and keep consuming either way; Pause exists so an operator
// surface can honor it later.
type Action string

const (
	ActionPause    Action = "pause"
	ActionContinue Action = "continue"
)

// ErrorKind classifies failures that never produced an exit code.
type ErrorKind string

const (
	// ErrorKindPortError covers spawn failures: binary missing, fork
	// refused, pipe setup errors.
	ErrorKindPortError ErrorKind = "port_error"
	// ErrorKindException covers panics and internal errors in the
	// processing loop itself.
	ErrorKindException ErrorKind = "exception"
)

// Verdict is the classifier output.
type Verdict struct {
	Action   Action
	Reason   string
	Category models.FailureCategory
}

// Systemic reports whether the verdict recommends pausing intake.
func (v Verdict) Systemic() bool { return v.Action == ActionPause }

// Classify maps a subprocess exit code to a verdict. Total over all
// integers: unknown codes are a continue/unknown verdict.
func Classify(exitCode int) Verdict {
	switch exitCode {
	case 137, 143:
		return Verdict{ActionPause, "Process killed by system (OOM or SIGTERM)", models.FailureCategoryResourceExhaustion}
	case 2:
		return Verdict{ActionPause, "Invalid arguments", models.FailureCategoryConfiguration}
	case 5:
		return Verdict{ActionPause, "I/O error", models.FailureCategorySystemEnvironment}
	case 28:
		return Verdict{ActionPause, "No space left on device", models.FailureCategorySystemEnvironment}
	case 110:
		return Verdict{ActionPause, "Network timeout", models.FailureCategoryTimeout}
	case 1:
		return Verdict{ActionContinue, "Encoding failure", models.FailureCategoryProcessFailure}
	case 13:
		return Verdict{ActionContinue, "Permission denied", models.FailureCategoryFileAccess}
	case 22:
		return Verdict{ActionContinue, "Invalid file format", models.FailureCategoryValidation}
	case 69:
		return Verdict{ActionContinue, "Unsupported codec", models.FailureCategoryCodecIssues}
	case 234:
		return Verdict{ActionContinue, "Audio channel layout error", models.FailureCategoryCodecIssues}
	default:
		return Verdict{ActionContinue, fmt.Sprintf("Unknown exit code %d", exitCode), models.FailureCategoryUnknown}
	}
}

// ClassifyError maps a non-exit failure kind to a verdict. Both kinds
// are systemic: the subprocess never got a chance to fail on its own.
func ClassifyError(kind ErrorKind) Verdict {
	switch kind {
	case ErrorKindPortError:
		return Verdict{ActionPause, "Subprocess could not be started", models.FailureCategoryProcessFailure}
	case ErrorKindException:
		return Verdict{ActionPause, "Internal processing error", models.FailureCategoryProcessFailure}
	default:
		return Verdict{ActionContinue, fmt.Sprintf("Unknown error kind %q", kind), models.FailureCategoryUnknown}
	}
}

// ExitCodeTag renders the failure code recorded for an exit, e.g.
// "EXIT_137".
func ExitCodeTag(exitCode int) string {
	return fmt.Sprintf("EXIT_%d", exitCode)
}
