// Package assembler implements an Intel-syntax 8086 assembler producing a
// flat binary image, a symbol table and a listing. One Assembler value may
// be reused across runs; concurrent runs need independent instances.
package assembler

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/moesay/e2asm/diag"
	"github.com/moesay/e2asm/preprocessor"
)

// ListingEntry correlates one source statement with its address and bytes.
type ListingEntry struct {
	SourceLine   int
	SourceText   string
	Address      uint64
	MachineCode  []byte
	OK           bool
	ErrorMessage string
}

// Result is the outcome of one assembly run.
type Result struct {
	Binary        []byte
	Listing       []ListingEntry
	Symbols       map[string]uint64 // label name -> address
	Errors        []diag.Diagnostic
	Success       bool
	OriginAddress uint64
}

// ListingText renders the listing as "ADDR | bytes | source" lines.
func (r *Result) ListingText() string {
	var b strings.Builder
	for _, line := range r.Listing {
		fmt.Fprintf(&b, "%04X | ", line.Address)
		for _, c := range line.MachineCode {
			fmt.Fprintf(&b, "%02X ", c)
		}
		b.WriteString(" | ")
		b.WriteString(line.SourceText)
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteBinary writes the raw image to a file.
func (r *Result) WriteBinary(path string) error {
	if err := os.WriteFile(path, r.Binary, 0o644); err != nil {
		return errors.Wrapf(err, "writing binary to %s", path)
	}
	return nil
}

// Assembler is the library facade. Configure it, then call Assemble or
// AssembleFile; each call is an independent run.
type Assembler struct {
	origin       uint64
	includePaths []string
	warnings     bool
}

// New returns an Assembler with origin 0 and warnings enabled.
func New() *Assembler {
	return &Assembler{warnings: true}
}

// SetOrigin sets the load origin used when the source has no ORG directive.
func (a *Assembler) SetOrigin(address uint64) { a.origin = address }

// SetIncludePaths sets the search path for %include.
func (a *Assembler) SetIncludePaths(paths []string) {
	a.includePaths = append([]string(nil), paths...)
}

// EnableWarnings controls whether warnings appear in Result.Errors. It does
// not affect encoding.
func (a *Assembler) EnableWarnings(enable bool) { a.warnings = enable }

// Assemble runs the full pipeline over one source text.
func (a *Assembler) Assemble(source, filename string) *Result {
	result := &Result{Symbols: make(map[string]uint64)}
	rep := &diag.Reporter{}

	pre := preprocessor.New()
	pre.SetIncludePaths(a.includePaths)
	preprocessed := pre.Process(source, filename)
	for _, d := range preprocessed.Diagnostics {
		rep.Add(d)
	}
	if !preprocessed.OK {
		return a.finish(result, rep, a.origin)
	}

	program := parseSource(preprocessed.Source, filename, rep)
	if rep.HasErrors() {
		return a.finish(result, rep, a.origin)
	}
	logrus.WithField("statements", len(program)).Debug("parse complete")

	an := newAnalyzer(a.origin, rep)
	an.analyze(program)

	em := newEmitter(an.symbols, rep)
	em.generate(program, a.origin)

	result.Binary = em.binary
	result.Listing = em.listing
	for name, sym := range an.symbols.All() {
		if sym.Kind == SymbolLabel {
			result.Symbols[name] = uint64(sym.Value)
		}
	}
	logrus.WithFields(logrus.Fields{
		"bytes":  len(result.Binary),
		"errors": rep.ErrorCount(),
	}).Debug("emission complete")

	return a.finish(result, rep, an.origin)
}

// AssembleFile reads a file and assembles it. I/O failures surface as a
// fatal diagnostic on the result, mirroring in-source errors.
func (a *Assembler) AssembleFile(path string) *Result {
	data, err := os.ReadFile(path)
	if err != nil {
		rep := &diag.Reporter{}
		rep.Fatalf(diag.SourceLocation{File: path},
			"%v", errors.Wrap(err, "could not open file"))
		return a.finish(&Result{Symbols: make(map[string]uint64)}, rep, a.origin)
	}
	return a.Assemble(string(data), path)
}

func (a *Assembler) finish(result *Result, rep *diag.Reporter, origin uint64) *Result {
	for _, d := range rep.Diagnostics() {
		if !a.warnings && d.Severity == diag.Warning {
			continue
		}
		result.Errors = append(result.Errors, d)
	}
	result.Success = !rep.HasErrors()
	result.OriginAddress = origin
	return result
}

// SortedSymbols returns the label names in address order, for stable
// symbol-table dumps.
func (r *Result) SortedSymbols() []string {
	names := make([]string, 0, len(r.Symbols))
	for name := range r.Symbols {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if r.Symbols[names[i]] != r.Symbols[names[j]] {
			return r.Symbols[names[i]] < r.Symbols[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
