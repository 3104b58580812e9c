// Package diag holds the diagnostic types shared by the preprocessor,
// the assembler core and the command-line front end.
package diag

import "fmt"

// Severity classifies a diagnostic.
type Severity int

const (
	// Warning diagnostics do not fail the assembly.
	Warning Severity = iota
	// Error diagnostics fail the assembly but processing continues.
	Error
	// Fatal diagnostics stop the pipeline.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal error"
	}
	return "unknown"
}

// SourceLocation points at a place in an input file.
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Diagnostic is a single message tied to a source location.
type Diagnostic struct {
	Message  string
	Location SourceLocation
	Severity Severity
}

// String formats the diagnostic in the GCC/Clang style:
// file:line:col: severity: message.
func (d Diagnostic) String() string {
	return d.Location.String() + ": " + d.Severity.String() + ": " + d.Message
}

// IsError reports whether the diagnostic fails the assembly.
func (d Diagnostic) IsError() bool {
	return d.Severity == Error || d.Severity == Fatal
}

// Reporter collects diagnostics for one assembly run.
type Reporter struct {
	diags     []Diagnostic
	hasErrors bool
}

// Errorf appends an error diagnostic.
func (r *Reporter) Errorf(loc SourceLocation, format string, args ...interface{}) {
	r.diags = append(r.diags, Diagnostic{fmt.Sprintf(format, args...), loc, Error})
	r.hasErrors = true
}

// Warnf appends a warning diagnostic.
func (r *Reporter) Warnf(loc SourceLocation, format string, args ...interface{}) {
	r.diags = append(r.diags, Diagnostic{fmt.Sprintf(format, args...), loc, Warning})
}

// Fatalf appends a fatal diagnostic.
func (r *Reporter) Fatalf(loc SourceLocation, format string, args ...interface{}) {
	r.diags = append(r.diags, Diagnostic{fmt.Sprintf(format, args...), loc, Fatal})
	r.hasErrors = true
}

// Add appends an already-built diagnostic.
func (r *Reporter) Add(d Diagnostic) {
	r.diags = append(r.diags, d)
	if d.IsError() {
		r.hasErrors = true
	}
}

// HasErrors reports whether any error or fatal diagnostic was recorded.
func (r *Reporter) HasErrors() bool { return r.hasErrors }

// Diagnostics returns everything recorded so far, in order.
func (r *Reporter) Diagnostics() []Diagnostic { return r.diags }

// ErrorCount returns the number of error and fatal diagnostics.
func (r *Reporter) ErrorCount() int {
	n := 0
	for _, d := range r.diags {
		if d.IsError() {
			n++
		}
	}
	return n
}

// Clear resets the reporter for reuse.
func (r *Reporter) Clear() {
	r.diags = nil
	r.hasErrors = false
}
