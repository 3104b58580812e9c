// Package preprocessor implements the textual %-directive pass that runs
// before lexing: %define/%undef substitution, %if/%ifdef conditionals,
// %macro recording with numbered-parameter expansion, and %include.
package preprocessor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/moesay/e2asm/diag"
)

// Result is the preprocessed source plus any diagnostics. OK is false when
// a directive-level error (unclosed block, missing include) occurred.
type Result struct {
	Source      string
	Diagnostics []diag.Diagnostic
	OK          bool
}

type macro struct {
	name       string
	paramCount int
	body       []string
	line       int
}

type conditional struct {
	active   bool
	everTrue bool
	line     int
}

// Preprocessor holds the state of one preprocessing run. Process resets that
// state at the start of each run, so the zero value (which New returns) is
// ready to use.
type Preprocessor struct {
	includePaths []string

	defines     map[string]string
	macros      map[string]macro
	condStack   []conditional
	output      []string
	rep         diag.Reporter
	recording   bool
	current     macro
	filename    string
}

// New returns an empty preprocessor.
func New() *Preprocessor {
	return &Preprocessor{}
}

// SetIncludePaths sets the directories searched by %include.
func (p *Preprocessor) SetIncludePaths(paths []string) {
	p.includePaths = append([]string(nil), paths...)
}

func (p *Preprocessor) reset() {
	p.defines = make(map[string]string)
	p.macros = make(map[string]macro)
	p.condStack = nil
	p.output = nil
	p.rep.Clear()
	p.recording = false
}

func (p *Preprocessor) loc(line int) diag.SourceLocation {
	return diag.SourceLocation{File: p.filename, Line: line, Column: 1}
}

// Process runs the pass over one source text.
func (p *Preprocessor) Process(source, filename string) Result {
	p.reset()
	p.filename = filename
	p.processLines(source)

	if len(p.condStack) > 0 {
		p.rep.Errorf(p.loc(p.condStack[len(p.condStack)-1].line),
			"unclosed conditional block (missing %%endif)")
	}
	if p.recording {
		p.rep.Errorf(p.loc(p.current.line),
			"unclosed macro definition (missing %%endmacro)")
	}

	return Result{
		Source:      strings.Join(p.output, "\n") + "\n",
		Diagnostics: p.rep.Diagnostics(),
		OK:          !p.rep.HasErrors(),
	}
}

func (p *Preprocessor) processLines(source string) {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		lineNum := i + 1

		// Line continuation.
		for strings.HasSuffix(line, "\\") {
			line = strings.TrimSuffix(line, "\\")
			if i+1 >= len(lines) {
				p.rep.Errorf(p.loc(lineNum), "line continuation at end of file")
				break
			}
			i++
			line += lines[i]
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			if !p.recording && p.active() {
				p.output = append(p.output, line)
			}
			continue
		}

		if strings.HasPrefix(line, "%") {
			p.handleDirective(line, lineNum)
			continue
		}

		if p.recording {
			p.current.body = append(p.current.body, line)
			continue
		}
		if !p.active() {
			continue
		}

		expanded := p.expandDefines(line)
		if body, ok := p.expandMacro(expanded, lineNum); ok {
			p.output = append(p.output, body...)
			continue
		}
		p.output = append(p.output, expanded)
	}
}

func (p *Preprocessor) active() bool {
	return len(p.condStack) == 0 || p.condStack[len(p.condStack)-1].active
}

func (p *Preprocessor) parentActive() bool {
	if len(p.condStack) < 2 {
		return true
	}
	return p.condStack[len(p.condStack)-2].active
}

func (p *Preprocessor) handleDirective(line string, lineNum int) {
	name, rest := directiveName(line)

	switch name {
	case "define":
		if !p.recording && p.active() {
			p.handleDefine(rest, lineNum)
		}
	case "undef":
		if !p.recording && p.active() {
			symbol := strings.TrimSpace(rest)
			if symbol == "" {
				p.rep.Errorf(p.loc(lineNum), "%%undef requires a name")
				return
			}
			delete(p.defines, symbol)
		}
	case "ifdef", "ifndef":
		symbol := strings.TrimSpace(rest)
		if symbol == "" {
			p.rep.Errorf(p.loc(lineNum), "%%%s requires a name", name)
			return
		}
		_, defined := p.defines[symbol]
		truth := defined == (name == "ifdef")
		active := truth && p.active()
		p.condStack = append(p.condStack, conditional{active: active, everTrue: active, line: lineNum})
	case "if":
		expr := strings.TrimSpace(rest)
		if expr == "" {
			p.rep.Errorf(p.loc(lineNum), "%%if requires an expression")
			return
		}
		truth := p.evaluateCondition(p.expandDefines(expr))
		active := truth && p.active()
		p.condStack = append(p.condStack, conditional{active: active, everTrue: active, line: lineNum})
	case "elif":
		if len(p.condStack) == 0 {
			p.rep.Errorf(p.loc(lineNum), "%%elif without matching %%if")
			return
		}
		block := &p.condStack[len(p.condStack)-1]
		if block.everTrue {
			block.active = false
			return
		}
		truth := p.evaluateCondition(p.expandDefines(strings.TrimSpace(rest)))
		block.active = truth && p.parentActive()
		block.everTrue = block.active
	case "else":
		if len(p.condStack) == 0 {
			p.rep.Errorf(p.loc(lineNum), "%%else without matching %%if")
			return
		}
		block := &p.condStack[len(p.condStack)-1]
		if block.everTrue {
			block.active = false
			return
		}
		block.active = p.parentActive()
		block.everTrue = true
	case "endif":
		if len(p.condStack) == 0 {
			p.rep.Errorf(p.loc(lineNum), "%%endif without matching %%if")
			return
		}
		p.condStack = p.condStack[:len(p.condStack)-1]
	case "macro":
		if !p.recording && p.active() {
			p.handleMacro(rest, lineNum)
		}
	case "endmacro":
		if !p.recording {
			p.rep.Errorf(p.loc(lineNum), "%%endmacro without matching %%macro")
			return
		}
		p.macros[p.current.name] = p.current
		p.recording = false
	case "include":
		if !p.recording && p.active() {
			p.handleInclude(rest, lineNum)
		}
	default:
		p.rep.Errorf(p.loc(lineNum), "unknown preprocessor directive: %%%s", name)
	}
}

func directiveName(line string) (string, string) {
	rest := strings.TrimSpace(line[1:])
	end := 0
	for end < len(rest) && (isWordByte(rest[end])) {
		end++
	}
	return rest[:end], rest[end:]
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func (p *Preprocessor) handleDefine(rest string, lineNum int) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		p.rep.Errorf(p.loc(lineNum), "%%define requires a name")
		return
	}
	name := fields[0]
	value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), name))
	p.defines[name] = value
}

func (p *Preprocessor) handleMacro(rest string, lineNum int) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		p.rep.Errorf(p.loc(lineNum), "%%macro requires a name")
		return
	}
	m := macro{name: fields[0], line: lineNum}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			m.paramCount = n
		}
	}
	p.recording = true
	p.current = m
}

// expandMacro expands a macro invocation line: the macro name optionally
// followed by comma-separated arguments substituted for %1..%n.
func (p *Preprocessor) expandMacro(line string, lineNum int) ([]string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	m, ok := p.macros[fields[0]]
	if !ok {
		return nil, false
	}

	var args []string
	if rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0])); rest != "" {
		for _, arg := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(arg))
		}
	}
	if len(args) < m.paramCount {
		p.rep.Errorf(p.loc(lineNum), "macro %s expects %d arguments, got %d",
			m.name, m.paramCount, len(args))
		return nil, true
	}

	var out []string
	for _, body := range m.body {
		expanded := body
		for i := len(args); i >= 1; i-- {
			expanded = strings.ReplaceAll(expanded, "%"+strconv.Itoa(i), args[i-1])
		}
		out = append(out, p.expandDefines(expanded))
	}
	return out, true
}

func (p *Preprocessor) handleInclude(rest string, lineNum int) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		p.rep.Errorf(p.loc(lineNum), "%%include requires a filename")
		return
	}

	var opener, closer byte = '"', '"'
	if rest[0] == '<' {
		opener, closer = '<', '>'
	}
	if rest[0] != opener {
		p.rep.Errorf(p.loc(lineNum), "%%include filename must be in quotes or angle brackets")
		return
	}
	end := strings.IndexByte(rest[1:], closer)
	if end < 0 {
		p.rep.Errorf(p.loc(lineNum), "%%include missing closing quote")
		return
	}
	filename := rest[1 : 1+end]

	path, err := p.findIncludeFile(filename)
	if err != nil {
		p.rep.Errorf(p.loc(lineNum), "%v", err)
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		p.rep.Errorf(p.loc(lineNum), "%v", errors.Wrapf(err, "could not read include file %s", filename))
		return
	}

	// Included files are processed with the same define/macro state.
	saved := p.filename
	p.filename = path
	p.processLines(string(content))
	p.filename = saved
}

func (p *Preprocessor) findIncludeFile(filename string) (string, error) {
	if _, err := os.Stat(filename); err == nil {
		return filename, nil
	}
	for _, dir := range p.includePaths {
		full := filepath.Join(dir, filename)
		if _, err := os.Stat(full); err == nil {
			return full, nil
		}
	}
	return "", errors.Errorf("could not find include file: %s", filename)
}

// expandDefines substitutes %define names on whole-word boundaries.
func (p *Preprocessor) expandDefines(line string) string {
	result := line
	for name, value := range p.defines {
		result = replaceWord(result, name, value)
	}
	return result
}

func replaceWord(s, name, value string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], name)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		j += i
		startOK := j == 0 || !isWordRune(rune(s[j-1]))
		endOK := j+len(name) >= len(s) || !isWordRune(rune(s[j+len(name)]))
		if startOK && endOK {
			b.WriteString(s[i:j])
			b.WriteString(value)
			i = j + len(name)
		} else {
			b.WriteString(s[i : j+len(name)])
			i = j + len(name)
		}
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// evaluateCondition handles the %if subset: a bare number (nonzero = true)
// or a single == / != comparison of trimmed strings.
func (p *Preprocessor) evaluateCondition(expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	if n, err := strconv.Atoi(expr); err == nil {
		return n != 0
	}
	if i := strings.Index(expr, "=="); i >= 0 {
		return strings.TrimSpace(expr[:i]) == strings.TrimSpace(expr[i+2:])
	}
	if i := strings.Index(expr, "!="); i >= 0 {
		return strings.TrimSpace(expr[:i]) != strings.TrimSpace(expr[i+2:])
	}
	return false
}
