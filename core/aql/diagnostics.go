package aql

import "fmt"

// Severity classifies a Diagnostic (spec.md §4.8/§7).
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is an in-band report of a non-fatal pipeline problem: a type
// mismatch in an expression, an anti-input a stage can't retract, and so
// on. The pipeline keeps running after emitting one (spec.md §7
// "do not terminate the stream unless the error is fatal to the pipeline").
type Diagnostic struct {
	Severity Severity
	Message  string
	Stage    int
}

func warnf(stage int, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

func errf(stage int, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Severity: SeverityError, Stage: stage, Message: fmt.Sprintf(format, args...)}
}
