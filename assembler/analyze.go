package assembler

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/moesay/e2asm/diag"
)

type segmentInfo struct {
	name    string
	start   uint64
	current uint64
}

type symbolRef struct {
	name  string
	scope string
	loc   diag.SourceLocation
}

// analyzer runs the primary pass: every statement gets its final address,
// labels and constants land in the symbol table, and each instruction is
// decorated with its assigned address and estimated size. Memory operands
// are re-reduced here with symbol lookup so EQU constants fold into
// displacements before sizing.
type analyzer struct {
	symbols *SymbolTable
	rep     *diag.Reporter

	segments       []segmentInfo
	currentSegment string
	segmentStart   uint64
	currentAddr    uint64
	origin         uint64
	lastTerminator bool

	refs []symbolRef
}

func newAnalyzer(origin uint64, rep *diag.Reporter) *analyzer {
	return &analyzer{
		symbols: NewSymbolTable(),
		rep:     rep,
		origin:  origin,
	}
}

func (a *analyzer) symbolLookup() SymbolLookup {
	return func(name string) (int64, bool) {
		sym, ok := lookupSymbol(a.symbols, name)
		if !ok || !sym.Resolved {
			return 0, false
		}
		return sym.Value, true
	}
}

func (a *analyzer) reference(name string, loc diag.SourceLocation) {
	a.refs = append(a.refs, symbolRef{name: name, scope: a.symbols.GlobalScope(), loc: loc})
}

func (a *analyzer) analyze(program []Statement) {
	a.currentAddr = a.origin
	a.segmentStart = a.origin

	for _, stmt := range program {
		a.analyzeStatement(stmt)
	}
	a.checkReferences()

	logrus.WithFields(logrus.Fields{
		"statements": len(program),
		"symbols":    len(a.symbols.All()),
		"end":        a.currentAddr,
	}).Debug("semantic pass complete")
}

func (a *analyzer) analyzeStatement(stmt Statement) {
	switch s := stmt.(type) {
	case *Label:
		if !IsLocalName(s.Name) {
			a.symbols.SetGlobalScope(s.Name)
		}
		if !a.symbols.Define(s.Name, SymbolLabel, int64(a.currentAddr), s.Loc().Line) {
			a.rep.Errorf(s.Loc(), "label '%s' already defined", s.Name)
		}

	case *EquDirective:
		if !a.symbols.Define(s.Name, SymbolConstant, s.Value, s.Loc().Line) {
			a.rep.Errorf(s.Loc(), "constant '%s' already defined", s.Name)
		}

	case *OrgDirective:
		a.origin = s.Address
		a.currentAddr = s.Address
		a.segmentStart = s.Address

	case *SegmentDirective:
		a.enterSegment(s.Name, s.Loc())
		// The segment name becomes an address label. The scope is cleared
		// around the definition so a leading-dot name like .text is stored
		// unqualified rather than under the current label.
		saved := a.symbols.GlobalScope()
		a.symbols.SetGlobalScope("")
		if !a.symbols.Define(s.Name, SymbolLabel, int64(a.currentAddr), s.Loc().Line) {
			a.symbols.Update(s.Name, int64(a.currentAddr))
		}
		a.symbols.SetGlobalScope(saved)

	case *EndsDirective:
		a.exitSegment(s.Name)

	case *ReserveDirective:
		a.currentAddr += uint64(s.Width) * uint64(s.Count)

	case *TimesDirective:
		a.currentAddr += a.sizeTimes(s)

	case *DataDirective:
		a.resolveDataSymbols(s)
		a.currentAddr += dataSize(s)

	case *Instruction:
		a.analyzeInstruction(s)
	}
}

func (a *analyzer) analyzeInstruction(ins *Instruction) {
	a.resolveMemoryOperands(ins)

	for _, op := range ins.Operands {
		if ref, ok := op.(*LabelRef); ok {
			a.reference(ref.Name, ins.Loc())
		}
	}

	size := sizeInstruction(ins)
	ins.AssignedAddress = a.currentAddr
	ins.EstimatedSize = size
	a.currentAddr += size

	switch ins.Mnemonic {
	case "HLT", "RET", "RETF", "IRET", "JMP", "INT":
		a.lastTerminator = true
	default:
		a.lastTerminator = false
	}
}

// resolveMemoryOperands re-parses each [...] expression against the symbol
// table: EQU constants and already-known labels fold into the displacement,
// and direct addresses are distinguished from register-indirect forms.
func (a *analyzer) resolveMemoryOperands(ins *Instruction) {
	lookup := a.symbolLookup()
	for _, op := range ins.Operands {
		mem, ok := op.(*MemoryOperand)
		if !ok {
			continue
		}
		parsed, err := ParseAddressWithSymbols(mem.Expr, lookup)
		if err != nil {
			a.rep.Errorf(ins.Loc(), "invalid memory operand [%s]: %v", mem.Expr, err)
			continue
		}
		mem.Parsed = parsed
		mem.Direct = false
		if len(parsed.Registers) == 0 && !parsed.HasLabel {
			mem.Direct = true
			mem.DirectAddr = uint16(parsed.Displacement)
		}
		if parsed.HasLabel {
			a.reference(parsed.LabelName, ins.Loc())
		}
	}
}

// sizeTimes resolves the repeat count, which may be a full expression over
// symbols and the position markers, and returns count times the inner size.
func (a *analyzer) sizeTimes(times *TimesDirective) uint64 {
	count, err := EvaluateWithContext(times.CountExpr, a.currentAddr, a.segmentStart, a.symbolLookup())
	if err != nil {
		a.rep.Errorf(times.Loc(), "invalid TIMES count %q: %v", times.CountExpr, err)
		return 0
	}
	if count < 0 {
		a.rep.Errorf(times.Loc(), "TIMES count %q is negative (%d)", times.CountExpr, count)
		return 0
	}
	times.Count = count

	var single uint64
	switch inner := times.Inner.(type) {
	case *DataDirective:
		a.resolveDataSymbols(inner)
		single = dataSize(inner)
	case *ReserveDirective:
		single = uint64(inner.Width) * uint64(inner.Count)
	case *Instruction:
		a.resolveMemoryOperands(inner)
		single = sizeInstruction(inner)
		inner.AssignedAddress = a.currentAddr
		inner.EstimatedSize = single
	case *TimesDirective:
		single = a.sizeTimes(inner)
	}
	return single * uint64(count)
}

// resolveDataSymbols folds already-known symbol values into numbers.
// Forward references stay symbolic; the emitter resolves them once every
// label address is known.
func (a *analyzer) resolveDataSymbols(data *DataDirective) {
	lookup := a.symbolLookup()
	for i := range data.Values {
		value := &data.Values[i]
		if value.Kind != DataSymbol {
			continue
		}
		if v, ok := lookup(value.Str); ok {
			value.Kind = DataNumber
			value.Number = v
		} else {
			a.reference(value.Str, data.Loc())
		}
	}
}

func dataSize(data *DataDirective) uint64 {
	var size uint64
	for _, value := range data.Values {
		switch value.Kind {
		case DataString:
			size += uint64(len(value.Str))
		case DataCharacter:
			size++
		default:
			size += uint64(data.Width)
		}
	}
	return size
}

func (a *analyzer) enterSegment(name string, loc diag.SourceLocation) {
	if a.currentSegment != "" && isCodeSegment(a.currentSegment) && isDataSegment(name) &&
		!a.lastTerminator {
		a.rep.Warnf(loc, "code segment '%s' may fall through into data segment '%s'; "+
			"consider adding HLT, JMP, or RET before the data section", a.currentSegment, name)
	}
	a.lastTerminator = false

	for i := range a.segments {
		if strings.EqualFold(a.segments[i].name, name) {
			a.currentSegment = a.segments[i].name
			a.currentAddr = a.segments[i].current
			a.segmentStart = a.segments[i].start
			return
		}
	}

	a.segments = append(a.segments, segmentInfo{name: name, start: a.currentAddr, current: a.currentAddr})
	a.currentSegment = name
	a.segmentStart = a.currentAddr
}

func (a *analyzer) exitSegment(name string) {
	for i := range a.segments {
		if strings.EqualFold(a.segments[i].name, name) ||
			(name == "" && strings.EqualFold(a.segments[i].name, a.currentSegment)) {
			a.segments[i].current = a.currentAddr
			return
		}
	}
}

func isCodeSegment(name string) bool {
	switch strings.ToLower(name) {
	case ".text", "text", ".code", "code", "_text", "_code":
		return true
	}
	return false
}

func isDataSegment(name string) bool {
	switch strings.ToLower(name) {
	case ".data", "data", ".bss", "bss", ".rodata", "rodata", "_data", "_bss":
		return true
	}
	return false
}

// checkReferences reports names that were used but never defined, honoring
// the scope that was active at the reference and the unqualified fallback
// for leading-dot segment names.
func (a *analyzer) checkReferences() {
	seen := make(map[string]bool)
	for _, ref := range a.refs {
		qualified := ref.name
		if IsLocalName(ref.name) && ref.scope != "" {
			qualified = ref.scope + ref.name
		}
		if _, ok := a.symbols.LookupDirect(qualified); ok {
			continue
		}
		if IsLocalName(ref.name) {
			if _, ok := a.symbols.LookupDirect(ref.name); ok {
				continue
			}
		}
		if seen[strings.ToUpper(qualified)] {
			continue
		}
		seen[strings.ToUpper(qualified)] = true
		a.rep.Errorf(ref.loc, "undefined symbol: %s", ref.name)
	}
}
