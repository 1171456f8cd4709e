package discover

import (
	"errors"

	"github.com/phobologic/classfind/internal/match"
	"github.com/phobologic/classfind/internal/parse"
	"github.com/phobologic/classfind/internal/resolve"
	"github.com/phobologic/classfind/internal/scan"
)

const (
	// SeverityWarning marks a diagnostic that dropped one unit or root.
	SeverityWarning Severity = "warning"
	// SeverityError marks a diagnostic for input that could not be used.
	SeverityError Severity = "error"
)

// Diagnostic codes.
const (
	CodeMalformedUnit     = "malformed_unit"
	CodeUnreadableRoot    = "unreadable_root"
	CodeUnitNotFound      = "unit_not_found"
	CodeHandleUnavailable = "handle_unavailable"
	CodeCyclicAncestry    = "cyclic_ancestry"
	CodeAlreadyProcessed  = "already_processed"
	CodeInspectFailed     = "inspect_failed"
)

type (
	// Severity is the level of a diagnostic.
	Severity string

	// Diagnostic describes one isolated failure during a run. Diagnostics are
	// returned to the caller instead of being printed.
	Diagnostic struct {
		Severity Severity `json:"severity" yaml:"severity"`
		// Code is a machine-readable identifier such as "malformed_unit".
		Code string `json:"code" yaml:"code"`
		// Unit is the qualified name the diagnostic is about, if any.
		Unit    string `json:"unit,omitempty" yaml:"unit,omitempty"`
		Path    string `json:"path,omitempty" yaml:"path,omitempty"`
		Message string `json:"message" yaml:"message"`
		// Cause is the underlying error.
		Cause error `json:"-" yaml:"-"`
	}
)

// classify maps an error to its diagnostic code and severity.
func classify(err error) (string, Severity) {
	switch {
	case errors.Is(err, parse.ErrMalformed):
		return CodeMalformedUnit, SeverityError
	case errors.Is(err, scan.ErrUnreadableRoot):
		return CodeUnreadableRoot, SeverityWarning
	case errors.Is(err, resolve.ErrUnitNotFound):
		return CodeUnitNotFound, SeverityWarning
	case errors.Is(err, resolve.ErrHandleUnavailable):
		return CodeHandleUnavailable, SeverityWarning
	case errors.Is(err, match.ErrCyclicAncestry):
		return CodeCyclicAncestry, SeverityError
	case errors.Is(err, match.ErrAlreadyProcessed):
		return CodeAlreadyProcessed, SeverityWarning
	default:
		return CodeInspectFailed, SeverityError
	}
}

func newDiagnostic(unit, path string, err error) Diagnostic {
	code, sev := classify(err)
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Unit:     unit,
		Path:     path,
		Message:  err.Error(),
		Cause:    err,
	}
}
