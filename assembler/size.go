package assembler

import "github.com/moesay/e2asm/x86"

// sizeInstruction estimates the encoded length of an instruction before
// labels are resolved. The estimate is derived from the same table row the
// encoder will pick, so estimated and emitted sizes agree; the one exception
// is a JMP SHORT whose target turns out to be out of range, which the
// encoder upgrades to NEAR. Instructions with no matching row get a
// placeholder size; the emitter reports the error.
func sizeInstruction(ins *Instruction) uint64 {
	enc := findEncoding(ins.Mnemonic, ins.Operands)
	if enc == nil {
		return 3
	}

	var prefix uint64
	if len(segmentPrefix(ins.Operands)) > 0 {
		prefix = 1
	}

	switch enc.Form {
	case x86.FormFixed:
		return 1

	case x86.FormRegInOpcode:
		if len(ins.Operands) > 1 {
			if _, ok := ins.Operands[1].(*RegisterOperand); ok {
				return 1 // XCHG with AX
			}
			if reg, ok := ins.Operands[0].(*RegisterOperand); ok {
				return 1 + uint64(reg.Reg.Size/8)
			}
		}
		return 1

	case x86.FormRelative:
		if enc.Operands[0] == x86.SpecRel8 {
			return 2
		}
		return 3

	case x86.FormImmediate:
		return prefix + 1 + immediateFormPayload(enc, ins)

	case x86.FormModRM:
		_, rmIdx, ok := modRMOperandIndexes(enc)
		if !ok {
			return 3
		}
		return prefix + 1 + rmSize(ins.Operands[rmIdx])

	case x86.FormModRMImm:
		size := prefix + 1 + rmSize(ins.Operands[0])
		if len(ins.Operands) > 1 && enc.Operands[1] != x86.SpecCL {
			if imm, ok := ins.Operands[1].(*ImmediateOperand); ok && !imm.Symbolic &&
				imm.Value == 1 && (enc.Opcode == 0xD0 || enc.Opcode == 0xD1) {
				return size // implicit shift-by-1
			}
			if enc.Operands[1] == x86.SpecImm8 {
				size++
			} else {
				size += 2
			}
		}
		return size
	}
	return 3
}

// immediateFormPayload is the byte count after the opcode for FormImmediate:
// a raw immediate or a 16-bit direct address.
func immediateFormPayload(enc *x86.Encoding, ins *Instruction) uint64 {
	immWidth := func(spec x86.OperandSpec) uint64 {
		if spec == x86.SpecImm8 {
			return 1
		}
		return 2
	}

	switch len(ins.Operands) {
	case 1:
		return immWidth(enc.Operands[0])
	case 2:
		if _, ok := ins.Operands[0].(*ImmediateOperand); ok {
			return immWidth(enc.Operands[0])
		}
		if _, ok := ins.Operands[0].(*MemoryOperand); ok {
			return 2 // moffs
		}
		if _, ok := ins.Operands[1].(*MemoryOperand); ok {
			return 2 // moffs
		}
		return immWidth(enc.Operands[1])
	}
	return 0
}

// rmSize is the ModR/M plus displacement byte count for the r/m operand.
func rmSize(op Operand) uint64 {
	switch op := op.(type) {
	case *RegisterOperand:
		return 1
	case *MemoryOperand:
		return memoryEncodingSize(op)
	case *LabelRef:
		return 3
	}
	return 3
}
