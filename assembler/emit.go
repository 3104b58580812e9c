package assembler

import (
	"github.com/moesay/e2asm/diag"
)

// emitter walks the analyzed statement list a second time, concatenating
// encoded bytes into the flat image and recording one listing entry per
// emitted statement. Encoding failures are recorded and the walk continues,
// so a single run reports every error in the program.
type emitter struct {
	enc     *encoder
	rep     *diag.Reporter
	symbols *SymbolTable

	binary  []byte
	listing []ListingEntry
	addr    uint64
}

func newEmitter(symbols *SymbolTable, rep *diag.Reporter) *emitter {
	return &emitter{
		enc:     &encoder{table: symbols},
		rep:     rep,
		symbols: symbols,
	}
}

func (e *emitter) generate(program []Statement, origin uint64) {
	e.addr = origin
	e.symbols.SetGlobalScope("")
	for _, stmt := range program {
		e.emitStatement(stmt)
	}
}

func (e *emitter) entry(stmt Statement, code []byte) ListingEntry {
	return ListingEntry{
		SourceLine:  stmt.Loc().Line,
		SourceText:  stmt.Text(),
		Address:     e.addr,
		MachineCode: code,
		OK:          true,
	}
}

func (e *emitter) emitStatement(stmt Statement) {
	switch s := stmt.(type) {
	case *Label:
		// Emission-time lookups of local labels need the same scope the
		// analyzer saw when it defined them.
		if !IsLocalName(s.Name) {
			e.symbols.SetGlobalScope(s.Name)
		}
		e.listing = append(e.listing, e.entry(s, nil))

	case *EquDirective, *SegmentDirective, *EndsDirective:
		e.listing = append(e.listing, e.entry(stmt, nil))

	case *OrgDirective:
		e.listing = append(e.listing, e.entry(s, nil))
		e.addr = s.Address

	case *DataDirective:
		e.emitData(s)

	case *ReserveDirective:
		zeros := make([]byte, uint64(s.Width)*uint64(s.Count))
		e.listing = append(e.listing, e.entry(s, zeros))
		e.binary = append(e.binary, zeros...)
		e.addr += uint64(len(zeros))

	case *TimesDirective:
		if s.Count < 0 {
			return // count never resolved; already reported
		}
		for i := int64(0); i < s.Count; i++ {
			e.emitStatement(s.Inner)
		}

	case *Instruction:
		e.emitInstruction(s)
	}
}

func (e *emitter) emitData(data *DataDirective) {
	var code []byte
	ok := true
	errMsg := ""

	for _, value := range data.Values {
		switch value.Kind {
		case DataString:
			code = append(code, []byte(value.Str)...)
		case DataCharacter:
			code = append(code, value.Str[0])
		case DataNumber:
			code = append(code, encodeLE(value.Number, data.Width)...)
		case DataSymbol:
			// Forward reference, resolvable now that every label is placed.
			sym, found := lookupSymbol(e.symbols, value.Str)
			if !found || !sym.Resolved {
				ok = false
				errMsg = "undefined symbol: " + value.Str
				e.rep.Errorf(data.Loc(), "undefined symbol: %s", value.Str)
				code = append(code, make([]byte, data.Width)...)
				continue
			}
			code = append(code, encodeLE(sym.Value, data.Width)...)
		}
	}

	entry := e.entry(data, code)
	entry.OK = ok
	entry.ErrorMessage = errMsg
	e.listing = append(e.listing, entry)
	e.binary = append(e.binary, code...)
	e.addr += uint64(len(code))
}

func (e *emitter) emitInstruction(ins *Instruction) {
	// Displacements are computed in the analyzer's address space; the two
	// agree because the encoder emits exactly the estimated size, except
	// after a JMP SHORT the encoder upgrades to NEAR.
	e.enc.address = ins.AssignedAddress

	code, err := e.enc.encode(ins)
	entry := e.entry(ins, code)
	if err != nil {
		entry.OK = false
		entry.MachineCode = nil
		entry.ErrorMessage = err.Error()
		e.rep.Errorf(ins.Loc(), "%v", err)
		e.listing = append(e.listing, entry)
		// Keep later addresses aligned with the analyzer's estimates.
		e.addr += ins.EstimatedSize
		return
	}

	e.listing = append(e.listing, entry)
	e.binary = append(e.binary, code...)
	e.addr += uint64(len(code))
}
