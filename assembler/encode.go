package assembler

import (
	"fmt"
	"strings"

	"github.com/moesay/e2asm/x86"
)

// encoder turns analyzed instructions into bytes. It consults the symbol
// table for label and EQU resolution and is told the instruction's assigned
// address before each call so relative displacements come out right.
type encoder struct {
	table   *SymbolTable
	address uint64
}

// lookupSymbol resolves a name, first through normal scope qualification,
// then unqualified for leading-dot names so segment labels like .text work
// from inside a label scope.
func lookupSymbol(table *SymbolTable, name string) (Symbol, bool) {
	if table == nil {
		return Symbol{}, false
	}
	if sym, ok := table.Lookup(name); ok {
		return sym, true
	}
	if strings.HasPrefix(name, ".") {
		return table.LookupDirect(name)
	}
	return Symbol{}, false
}

func (e *encoder) symbolLookup() SymbolLookup {
	return func(name string) (int64, bool) {
		sym, ok := lookupSymbol(e.table, name)
		if !ok || !sym.Resolved {
			return 0, false
		}
		return sym.Value, true
	}
}

// resolveValue yields the numeric value of an immediate-position operand:
// a literal, a symbolic expression, or a label reference.
func (e *encoder) resolveValue(op Operand) (int64, error) {
	switch op := op.(type) {
	case *ImmediateOperand:
		if !op.Symbolic {
			return op.Value, nil
		}
		value, err := EvaluateWithSymbols(op.Expr, e.symbolLookup())
		if err != nil {
			return 0, fmt.Errorf("invalid expression %q: %v", op.Expr, err)
		}
		return value, nil
	case *LabelRef:
		sym, ok := lookupSymbol(e.table, op.Name)
		if !ok || !sym.Resolved {
			return 0, fmt.Errorf("undefined label: %s", op.Name)
		}
		return sym.Value, nil
	}
	return 0, fmt.Errorf("expected immediate operand or label reference")
}

// segmentPrefix returns the override prefix byte for the first memory
// operand that carries one.
func segmentPrefix(operands []Operand) []byte {
	for _, op := range operands {
		if mem, ok := op.(*MemoryOperand); ok && mem.SegmentOverride != "" {
			if prefix, ok := x86.SegmentPrefix(mem.SegmentOverride); ok {
				return []byte{prefix}
			}
		}
	}
	return nil
}

func (e *encoder) encode(ins *Instruction) ([]byte, error) {
	enc := findEncoding(ins.Mnemonic, ins.Operands)
	if enc == nil {
		return nil, fmt.Errorf("no encoding found for instruction: %s", ins.Mnemonic)
	}

	switch enc.Form {
	case x86.FormFixed:
		return encodeFixed(enc, ins)
	case x86.FormRegInOpcode:
		return e.encodeRegInOpcode(enc, ins)
	case x86.FormImmediate:
		return e.encodeImmediateForm(enc, ins)
	case x86.FormModRM:
		return e.encodeModRMForm(enc, ins)
	case x86.FormModRMImm:
		return e.encodeModRMImmForm(enc, ins)
	case x86.FormRelative:
		return e.encodeRelative(enc, ins)
	}
	return nil, fmt.Errorf("unsupported encoding form")
}

// encodeFixed emits the bare opcode. PUSH/POP of a segment register fold the
// segment code into the opcode (ES=+0x00, CS=+0x08, SS=+0x10, DS=+0x18).
func encodeFixed(enc *x86.Encoding, ins *Instruction) ([]byte, error) {
	opcode := enc.Opcode
	if len(ins.Operands) > 0 {
		if reg, ok := ins.Operands[0].(*RegisterOperand); ok && reg.Reg.Segment {
			opcode = enc.Opcode + reg.Reg.Code<<3
		}
	}
	return []byte{opcode}, nil
}

// encodeRegInOpcode folds the register code into the opcode. A second
// register operand is the XCHG-with-AX form; a second immediate or label is
// emitted at the first register's width.
func (e *encoder) encodeRegInOpcode(enc *x86.Encoding, ins *Instruction) ([]byte, error) {
	reg, ok := ins.Operands[0].(*RegisterOperand)
	if !ok {
		return nil, fmt.Errorf("expected register operand")
	}
	bytes := []byte{enc.Opcode + reg.Reg.Code}

	if len(ins.Operands) > 1 {
		if reg2, ok := ins.Operands[1].(*RegisterOperand); ok {
			// XCHG AX, reg / XCHG reg, AX: the non-accumulator register goes
			// into the opcode.
			code := reg.Reg.Code
			if code == 0 {
				code = reg2.Reg.Code
			}
			return []byte{enc.Opcode + code}, nil
		}

		value, err := e.resolveValue(ins.Operands[1])
		if err != nil {
			return nil, err
		}
		bytes = append(bytes, encodeLE(value, int(reg.Reg.Size/8))...)
	}
	return bytes, nil
}

// moffsAddress resolves a direct-address memory operand to its 16-bit value.
func (e *encoder) moffsAddress(mem *MemoryOperand) (int64, error) {
	if mem.Direct {
		return int64(mem.DirectAddr), nil
	}
	if mem.Parsed != nil && len(mem.Parsed.Registers) == 0 {
		address := mem.Parsed.Displacement
		if mem.Parsed.HasLabel {
			sym, ok := lookupSymbol(e.table, mem.Parsed.LabelName)
			if !ok || !sym.Resolved {
				return 0, fmt.Errorf("undefined label: %s", mem.Parsed.LabelName)
			}
			if mem.Parsed.LabelNegative {
				address -= sym.Value
			} else {
				address += sym.Value
			}
		}
		return address, nil
	}
	return 0, fmt.Errorf("expected direct memory address")
}

// encodeImmediateForm emits opcode plus a raw immediate or a 16-bit direct
// address: the accumulator moffs forms, OUT imm8, INT, RET imm16 and the
// ALU accumulator short forms all land here.
func (e *encoder) encodeImmediateForm(enc *x86.Encoding, ins *Instruction) ([]byte, error) {
	bytes := segmentPrefix(ins.Operands)
	bytes = append(bytes, enc.Opcode)

	immSize := func(spec x86.OperandSpec) int {
		if spec == x86.SpecImm8 {
			return 1
		}
		return 2
	}

	switch len(ins.Operands) {
	case 1:
		value, err := e.resolveValue(ins.Operands[0])
		if err != nil {
			return nil, err
		}
		return append(bytes, encodeLE(value, immSize(enc.Operands[0]))...), nil

	case 2:
		// OUT imm8, AL/AX: the immediate is the first operand.
		if _, ok := ins.Operands[0].(*ImmediateOperand); ok {
			value, err := e.resolveValue(ins.Operands[0])
			if err != nil {
				return nil, err
			}
			return append(bytes, encodeLE(value, immSize(enc.Operands[0]))...), nil
		}
		// MOV [moffs], AL/AX.
		if mem, ok := ins.Operands[0].(*MemoryOperand); ok {
			address, err := e.moffsAddress(mem)
			if err != nil {
				return nil, err
			}
			return append(bytes, encodeLE(address, 2)...), nil
		}
		// MOV AL/AX, [moffs].
		if mem, ok := ins.Operands[1].(*MemoryOperand); ok {
			address, err := e.moffsAddress(mem)
			if err != nil {
				return nil, err
			}
			return append(bytes, encodeLE(address, 2)...), nil
		}
		// ADD/ADC/... AL/AX, imm and friends.
		value, err := e.resolveValue(ins.Operands[1])
		if err != nil {
			return nil, err
		}
		return append(bytes, encodeLE(value, immSize(enc.Operands[1]))...), nil
	}

	return nil, fmt.Errorf("expected immediate operand or direct address")
}

// modRMOperandIndexes locates which operand supplies the ModR/M reg field
// and which supplies the r/m field, from the row's operand pattern.
func modRMOperandIndexes(enc *x86.Encoding) (regIdx, rmIdx int, ok bool) {
	regIdx, rmIdx = -1, -1
	for i, spec := range enc.Operands {
		switch spec {
		case x86.SpecReg8, x86.SpecReg16, x86.SpecSegReg:
			regIdx = i
		case x86.SpecRM8, x86.SpecRM16, x86.SpecMem8, x86.SpecMem16:
			rmIdx = i
		}
	}
	return regIdx, rmIdx, regIdx >= 0 && rmIdx >= 0
}

// rmBytes builds the ModR/M byte and displacement for the r/m operand with
// the given reg field.
func (e *encoder) rmBytes(op Operand, regField uint8) (modRM, error) {
	switch op := op.(type) {
	case *RegisterOperand:
		return modRM{modrm: regToRegModRM(regField, op.Reg.Code)}, nil
	case *MemoryOperand:
		if op.Direct {
			return directModRM(op.DirectAddr, regField), nil
		}
		if op.Parsed != nil {
			return memoryModRM(op.Parsed, regField, e.table)
		}
		return modRM{}, fmt.Errorf("invalid memory operand [%s]", op.Expr)
	case *LabelRef:
		sym, ok := lookupSymbol(e.table, op.Name)
		if !ok || !sym.Resolved {
			return modRM{}, fmt.Errorf("undefined label: %s", op.Name)
		}
		return directModRM(uint16(sym.Value), regField), nil
	}
	return modRM{}, fmt.Errorf("invalid operand for ModR/M encoding")
}

// encodeModRMForm covers reg<->reg, reg<->mem, mem<->reg and reg<-label.
func (e *encoder) encodeModRMForm(enc *x86.Encoding, ins *Instruction) ([]byte, error) {
	regIdx, rmIdx, ok := modRMOperandIndexes(enc)
	if !ok {
		return nil, fmt.Errorf("invalid operand combination for ModRM")
	}
	reg, ok := ins.Operands[regIdx].(*RegisterOperand)
	if !ok {
		return nil, fmt.Errorf("expected register operand")
	}

	rm, err := e.rmBytes(ins.Operands[rmIdx], reg.Reg.Code)
	if err != nil {
		return nil, err
	}

	bytes := segmentPrefix(ins.Operands)
	bytes = append(bytes, enc.Opcode)
	return append(bytes, rm.bytes()...), nil
}

// encodeModRMImmForm uses the row's /n extension as the reg field and
// appends the immediate. Shift-by-1 through 0xD0/0xD1 and shift-by-CL rows
// encode no immediate byte.
func (e *encoder) encodeModRMImmForm(enc *x86.Encoding, ins *Instruction) ([]byte, error) {
	rm, err := e.rmBytes(ins.Operands[0], enc.RegField)
	if err != nil {
		return nil, err
	}

	bytes := segmentPrefix(ins.Operands)
	bytes = append(bytes, enc.Opcode)
	bytes = append(bytes, rm.bytes()...)

	if len(ins.Operands) > 1 {
		if enc.Operands[1] == x86.SpecCL {
			return bytes, nil
		}
		value, err := e.resolveValue(ins.Operands[1])
		if err != nil {
			return nil, err
		}
		// The "1" in shift-by-1 is implicit in the opcode.
		if (enc.Opcode == 0xD0 || enc.Opcode == 0xD1) && value == 1 {
			return bytes, nil
		}
		size := 2
		if enc.Operands[1] == x86.SpecImm8 {
			size = 1
		}
		bytes = append(bytes, encodeLE(value, size)...)
	}
	return bytes, nil
}

// encodeRelative emits a branch with a displacement measured from the byte
// after the instruction. An unconditional JMP whose SHORT target is out of
// range upgrades itself to the NEAR form; everything else reports an error.
func (e *encoder) encodeRelative(enc *x86.Encoding, ins *Instruction) ([]byte, error) {
	labelRef, ok := ins.Operands[0].(*LabelRef)
	if !ok {
		return nil, fmt.Errorf("expected label operand for jump")
	}
	sym, found := lookupSymbol(e.table, labelRef.Name)
	if !found || !sym.Resolved {
		return nil, fmt.Errorf("undefined label: %s", labelRef.Name)
	}

	dispSize := 2
	if enc.Operands[0] == x86.SpecRel8 {
		dispSize = 1
	}
	opcode := enc.Opcode

	displacement := sym.Value - int64(e.address+uint64(1+dispSize))
	if dispSize == 1 && (displacement < -128 || displacement > 127) {
		if ins.Mnemonic == "JMP" {
			opcode = 0xE9
			dispSize = 2
			displacement = sym.Value - int64(e.address+3)
		} else {
			return nil, fmt.Errorf("jump target too far for SHORT jump (distance: %d, max: ±127)",
				displacement)
		}
	}

	return append([]byte{opcode}, encodeLE(displacement, dispSize)...), nil
}
