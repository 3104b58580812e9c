package assembler

import "github.com/moesay/e2asm/x86"

// findEncoding picks the table row for a mnemonic and operand list. Every
// row with the right operand count and per-operand match is scored for
// specificity; the highest score wins and earlier rows win ties. Specific
// registers (AL/AX/CL/DX) beat register classes, which beat r/m patterns.
func findEncoding(mnemonic string, operands []Operand) *x86.Encoding {
	var best *x86.Encoding
	bestScore := -1

	rows := x86.Rows(mnemonic)
	for i := range rows {
		enc := &rows[i]
		if len(enc.Operands) != len(operands) {
			continue
		}

		match := true
		score := 0
		for j, op := range operands {
			if !matchesSpec(op, enc.Operands[j]) {
				match = false
				break
			}
			score += specScore(enc.Operands[j])
		}
		if match && score > bestScore {
			best = enc
			bestScore = score
		}
	}
	return best
}

func specScore(spec x86.OperandSpec) int {
	switch spec {
	case x86.SpecAL, x86.SpecAX, x86.SpecCL, x86.SpecDX:
		return 10
	case x86.SpecReg8, x86.SpecReg16, x86.SpecSegReg:
		return 5
	case x86.SpecRM8, x86.SpecRM16:
		return 3
	}
	return 1
}

func matchesSpec(op Operand, spec x86.OperandSpec) bool {
	reg, _ := op.(*RegisterOperand)
	imm, _ := op.(*ImmediateOperand)
	mem, _ := op.(*MemoryOperand)
	label, _ := op.(*LabelRef)

	switch spec {
	case x86.SpecReg8:
		return reg != nil && reg.Reg.Size == 8 && !reg.Reg.Segment

	case x86.SpecReg16:
		return reg != nil && reg.Reg.Size == 16 && !reg.Reg.Segment

	case x86.SpecMem8:
		// Direct-address memory only; register-indirect forms go through RM8.
		return mem != nil && mem.Direct

	case x86.SpecMem16:
		// Direct numeric addresses, label-only memory operands, and bare
		// label references (the LEA-style source).
		if label != nil {
			return true
		}
		if mem == nil {
			return false
		}
		if mem.Direct {
			return true
		}
		return mem.Parsed != nil && len(mem.Parsed.Registers) == 0

	case x86.SpecRM8:
		if mem != nil {
			return mem.SizeHint == 0 || mem.SizeHint == 8
		}
		return reg != nil && reg.Reg.Size == 8 && !reg.Reg.Segment

	case x86.SpecRM16:
		if mem != nil {
			return mem.SizeHint == 0 || mem.SizeHint == 16
		}
		return reg != nil && reg.Reg.Size == 16 && !reg.Reg.Segment

	case x86.SpecImm8:
		if imm != nil && imm.SizeHint == 16 {
			return false
		}
		if imm != nil && (imm.Symbolic || imm.Value >= -128 && imm.Value <= 255) {
			return true
		}
		return label != nil

	case x86.SpecImm16:
		if imm != nil && imm.SizeHint == 8 {
			return false
		}
		if imm != nil && (imm.Symbolic || imm.Value >= -32768 && imm.Value <= 65535) {
			return true
		}
		return label != nil

	case x86.SpecAL:
		return reg != nil && reg.Reg.Size == 8 && reg.Reg.Code == 0

	case x86.SpecAX:
		return reg != nil && reg.Reg.Size == 16 && reg.Reg.Code == 0 && !reg.Reg.Segment

	case x86.SpecCL:
		return reg != nil && reg.Reg.Size == 8 && reg.Reg.Code == 1

	case x86.SpecDX:
		return reg != nil && reg.Reg.Size == 16 && reg.Reg.Code == 2 && !reg.Reg.Segment

	case x86.SpecSegReg:
		return reg != nil && reg.Reg.Segment

	case x86.SpecRel8:
		return label != nil && label.Jump == JumpShort

	case x86.SpecRel16:
		return label != nil && (label.Jump == JumpNear || label.Jump == JumpFar)

	case x86.SpecLabel:
		return label != nil
	}

	return false
}
