package assembler

import (
	"regexp"
	"strings"

	"github.com/moesay/e2asm/x86"
)

var (
	reSegPrefix = regexp.MustCompile(`(?i)^(ES|CS|SS|DS)\s*:\s*`)
	reExprChars = regexp.MustCompile(`^[A-Za-z0-9_.+\-*/()'\s]+$`)
)

// parseOperand classifies one comma-separated operand. Branch mnemonics and
// the address-load instructions turn bare identifiers into label references;
// everything else keeps them as symbolic immediates resolved at encode time.
func (p *parser) parseOperand(s, mnemonic string, lineNum int) (Operand, bool) {
	s = strings.TrimSpace(s)

	var sizeHint uint8
	jumpType := JumpNear
	haveJumpKeyword := false

	// Leading size and jump-distance keywords.
	for {
		word, rest := splitFirstWord(s)
		switch strings.ToUpper(word) {
		case "BYTE", "BPTR":
			sizeHint = 8
		case "WORD", "WPTR":
			sizeHint = 16
		case "DWORD", "DPTR", "PTR":
			// No 32-bit operands on the 8086; accepted and ignored.
		case "SHORT":
			jumpType, haveJumpKeyword = JumpShort, true
		case "NEAR":
			jumpType, haveJumpKeyword = JumpNear, true
		case "FAR":
			jumpType, haveJumpKeyword = JumpFar, true
		default:
			goto keywordsDone
		}
		if rest == "" {
			p.rep.Errorf(p.loc(lineNum), "expected operand after %q", word)
			return nil, false
		}
		s = rest
	}
keywordsDone:

	// Segment override written outside the brackets: ES:[DI].
	segmentOverride := ""
	if m := reSegPrefix.FindStringSubmatch(s); m != nil && strings.HasPrefix(strings.TrimSpace(s[len(m[0]):]), "[") {
		segmentOverride = strings.ToUpper(m[1])
		s = strings.TrimSpace(s[len(m[0]):])
	}

	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			p.rep.Errorf(p.loc(lineNum), "missing ']' in memory operand %q", s)
			return nil, false
		}
		inner := strings.TrimSpace(s[1 : len(s)-1])

		// Segment override written inside the brackets: [ES:DI].
		if m := reSegPrefix.FindStringSubmatch(inner); m != nil {
			segmentOverride = strings.ToUpper(m[1])
			inner = strings.TrimSpace(inner[len(m[0]):])
		}

		mem := &MemoryOperand{Expr: inner, SegmentOverride: segmentOverride, SizeHint: sizeHint}
		// A first reduction without symbols; the analyzer re-parses with the
		// symbol table to fold EQU constants in.
		if parsed, err := ParseAddress(inner); err == nil {
			mem.Parsed = parsed
			if len(parsed.Registers) == 0 && parsed.HasDisplacement && !parsed.HasLabel {
				mem.Direct = true
				mem.DirectAddr = uint16(parsed.Displacement)
			}
		}
		return mem, true
	}

	if reg, ok := x86.LookupRegister(s); ok {
		return &RegisterOperand{Reg: reg}, true
	}

	// Bare identifiers become label references for branches and for the
	// address-load group, so LEA SI, data resolves to a direct address.
	if IsIdentifier(s) {
		if relative, hasNear := x86.RelativeKind(mnemonic); relative {
			if !haveJumpKeyword && !hasNear {
				jumpType = JumpShort
			}
			return &LabelRef{Name: s, Jump: jumpType}, true
		}
		switch strings.ToUpper(mnemonic) {
		case "LEA", "LDS", "LES":
			return &LabelRef{Name: s, Jump: jumpType}, true
		}
	}

	// Pure constant expression.
	if value, err := Evaluate(s); err == nil {
		return &ImmediateOperand{Value: value, SizeHint: sizeHint}, true
	}

	// Expression with symbols, resolved at encode time.
	if reExprChars.MatchString(s) {
		return &ImmediateOperand{Expr: s, SizeHint: sizeHint, Symbolic: true}, true
	}

	p.rep.Errorf(p.loc(lineNum), "expected operand (register, immediate, or memory address), got %q", s)
	return nil, false
}
