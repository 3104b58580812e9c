package x86

import "strings"

// OperandSpec is the operand pattern element used by the encoding table.
type OperandSpec uint8

const (
	SpecNone OperandSpec = iota

	// General purpose registers.
	SpecReg8
	SpecReg16

	// Direct-address memory operands (for the accumulator short forms and LEA).
	SpecMem8
	SpecMem16

	// Register or memory, encoded through ModR/M.
	SpecRM8
	SpecRM16

	// Immediates.
	SpecImm8
	SpecImm16

	// Specific registers with dedicated encodings.
	SpecAL
	SpecAX
	SpecCL
	SpecDX

	// Segment registers.
	SpecSegReg

	// Relative jump targets.
	SpecRel8
	SpecRel16

	// Generic label reference.
	SpecLabel
)

// Form selects how a table row is turned into bytes.
type Form uint8

const (
	// FormModRM: [opcode] [ModR/M] [displacement]
	FormModRM Form = iota
	// FormFixed: [opcode]
	FormFixed
	// FormRegInOpcode: [opcode+reg] [immediate]
	FormRegInOpcode
	// FormImmediate: [opcode] [immediate or moffs]
	FormImmediate
	// FormModRMImm: [opcode] [ModR/M] [displacement] [immediate]
	FormModRMImm
	// FormRelative: [opcode] [rel8/rel16]
	FormRelative
)

// Encoding is one row of the instruction table: a single legal way to encode
// a mnemonic for a particular operand pattern. RegField carries the /0../7
// opcode extension for FormModRMImm rows.
type Encoding struct {
	Mnemonic string
	Operands []OperandSpec
	Form     Form
	Opcode   byte
	RegField uint8
}

func row(mnemonic string, ops []OperandSpec, form Form, opcode byte) Encoding {
	return Encoding{Mnemonic: mnemonic, Operands: ops, Form: form, Opcode: opcode}
}

func rowExt(mnemonic string, ops []OperandSpec, form Form, opcode byte, reg uint8) Encoding {
	return Encoding{Mnemonic: mnemonic, Operands: ops, Form: form, Opcode: opcode, RegField: reg}
}

func ops(specs ...OperandSpec) []OperandSpec { return specs }

// Table is the master encoding table for the user-visible 8086 instruction
// set. Row order matters: when two rows match with the same specificity, the
// earlier one wins.
var Table = buildTable()

var tableByMnemonic = func() map[string][]Encoding {
	m := make(map[string][]Encoding)
	for _, enc := range Table {
		m[enc.Mnemonic] = append(m[enc.Mnemonic], enc)
	}
	return m
}()

// Rows returns the table rows for a mnemonic, case-insensitively.
func Rows(mnemonic string) []Encoding {
	return tableByMnemonic[strings.ToUpper(mnemonic)]
}

// HasMnemonic reports whether the mnemonic appears in the table.
func HasMnemonic(mnemonic string) bool {
	_, ok := tableByMnemonic[strings.ToUpper(mnemonic)]
	return ok
}

// RelativeKind reports how a mnemonic uses relative targets: whether it has
// any relative rows, and whether it has a 16-bit (near) row. Conditional
// jumps and LOOP-family only carry rel8 rows.
func RelativeKind(mnemonic string) (relative, hasNear bool) {
	for _, enc := range Rows(mnemonic) {
		for _, spec := range enc.Operands {
			switch spec {
			case SpecRel8:
				relative = true
			case SpecRel16:
				relative = true
				hasNear = true
			}
		}
	}
	return relative, hasNear
}

func buildTable() []Encoding {
	var t []Encoding
	add := func(rows ...Encoding) { t = append(t, rows...) }

	// MOV
	add(
		row("MOV", ops(SpecRM8, SpecReg8), FormModRM, 0x88),
		row("MOV", ops(SpecRM16, SpecReg16), FormModRM, 0x89),
		row("MOV", ops(SpecReg8, SpecRM8), FormModRM, 0x8A),
		row("MOV", ops(SpecReg16, SpecRM16), FormModRM, 0x8B),
		rowExt("MOV", ops(SpecRM8, SpecImm8), FormModRMImm, 0xC6, 0),
		rowExt("MOV", ops(SpecRM16, SpecImm16), FormModRMImm, 0xC7, 0),
		row("MOV", ops(SpecAL, SpecMem8), FormImmediate, 0xA0),
		row("MOV", ops(SpecAX, SpecMem16), FormImmediate, 0xA1),
		row("MOV", ops(SpecMem8, SpecAL), FormImmediate, 0xA2),
		row("MOV", ops(SpecMem16, SpecAX), FormImmediate, 0xA3),
		row("MOV", ops(SpecAL, SpecImm8), FormRegInOpcode, 0xB0),
		row("MOV", ops(SpecReg8, SpecImm8), FormRegInOpcode, 0xB0),
		row("MOV", ops(SpecAX, SpecImm16), FormRegInOpcode, 0xB8),
		row("MOV", ops(SpecReg16, SpecImm16), FormRegInOpcode, 0xB8),
		row("MOV", ops(SpecRM16, SpecSegReg), FormModRM, 0x8C),
		row("MOV", ops(SpecSegReg, SpecRM16), FormModRM, 0x8E),
	)

	// Two-operand arithmetic: base opcode for the r/m,reg form plus the /n
	// extension used by the 0x80/0x81/0x83 immediate group.
	arith := []struct {
		mnemonic string
		base     byte
		ext      uint8
	}{
		{"ADD", 0x00, 0},
		{"OR", 0x08, 1},
		{"ADC", 0x10, 2},
		{"SBB", 0x18, 3},
		{"AND", 0x20, 4},
		{"SUB", 0x28, 5},
		{"XOR", 0x30, 6},
		{"CMP", 0x38, 7},
	}
	for _, a := range arith {
		add(
			row(a.mnemonic, ops(SpecRM8, SpecReg8), FormModRM, a.base),
			row(a.mnemonic, ops(SpecRM16, SpecReg16), FormModRM, a.base+1),
			row(a.mnemonic, ops(SpecReg8, SpecRM8), FormModRM, a.base+2),
			row(a.mnemonic, ops(SpecReg16, SpecRM16), FormModRM, a.base+3),
			row(a.mnemonic, ops(SpecAL, SpecImm8), FormImmediate, a.base+4),
			row(a.mnemonic, ops(SpecAX, SpecImm16), FormImmediate, a.base+5),
			rowExt(a.mnemonic, ops(SpecRM8, SpecImm8), FormModRMImm, 0x80, a.ext),
			rowExt(a.mnemonic, ops(SpecRM16, SpecImm16), FormModRMImm, 0x81, a.ext),
			rowExt(a.mnemonic, ops(SpecRM16, SpecImm8), FormModRMImm, 0x83, a.ext),
		)
	}

	// Unconditional jumps.
	add(
		row("JMP", ops(SpecRel8), FormRelative, 0xEB),
		row("JMP", ops(SpecRel16), FormRelative, 0xE9),
		rowExt("JMP", ops(SpecRM16), FormModRMImm, 0xFF, 4),
	)

	// Conditional jumps, all SHORT-only on the 8086.
	cond := []struct {
		mnemonic string
		opcode   byte
	}{
		{"JO", 0x70}, {"JNO", 0x71},
		{"JB", 0x72}, {"JC", 0x72}, {"JNAE", 0x72},
		{"JNB", 0x73}, {"JAE", 0x73}, {"JNC", 0x73},
		{"JE", 0x74}, {"JZ", 0x74},
		{"JNE", 0x75}, {"JNZ", 0x75},
		{"JBE", 0x76}, {"JNA", 0x76},
		{"JNBE", 0x77}, {"JA", 0x77},
		{"JS", 0x78}, {"JNS", 0x79},
		{"JP", 0x7A}, {"JPE", 0x7A},
		{"JNP", 0x7B}, {"JPO", 0x7B},
		{"JL", 0x7C}, {"JNGE", 0x7C},
		{"JNL", 0x7D}, {"JGE", 0x7D},
		{"JLE", 0x7E}, {"JNG", 0x7E},
		{"JNLE", 0x7F}, {"JG", 0x7F},
	}
	for _, c := range cond {
		add(row(c.mnemonic, ops(SpecRel8), FormRelative, c.opcode))
	}

	// INC / DEC
	add(
		rowExt("INC", ops(SpecRM8), FormModRMImm, 0xFE, 0),
		rowExt("INC", ops(SpecRM16), FormModRMImm, 0xFF, 0),
		row("INC", ops(SpecAX), FormFixed, 0x40),
		row("INC", ops(SpecReg16), FormRegInOpcode, 0x40),
		rowExt("DEC", ops(SpecRM8), FormModRMImm, 0xFE, 1),
		rowExt("DEC", ops(SpecRM16), FormModRMImm, 0xFF, 1),
		row("DEC", ops(SpecAX), FormFixed, 0x48),
		row("DEC", ops(SpecReg16), FormRegInOpcode, 0x48),
	)

	// Group 3: NOT/NEG/MUL/IMUL/DIV/IDIV plus TEST r/m,imm below.
	add(
		rowExt("NOT", ops(SpecRM8), FormModRMImm, 0xF6, 2),
		rowExt("NOT", ops(SpecRM16), FormModRMImm, 0xF7, 2),
		rowExt("NEG", ops(SpecRM8), FormModRMImm, 0xF6, 3),
		rowExt("NEG", ops(SpecRM16), FormModRMImm, 0xF7, 3),
		rowExt("MUL", ops(SpecRM8), FormModRMImm, 0xF6, 4),
		rowExt("MUL", ops(SpecRM16), FormModRMImm, 0xF7, 4),
		rowExt("IMUL", ops(SpecRM8), FormModRMImm, 0xF6, 5),
		rowExt("IMUL", ops(SpecRM16), FormModRMImm, 0xF7, 5),
		rowExt("DIV", ops(SpecRM8), FormModRMImm, 0xF6, 6),
		rowExt("DIV", ops(SpecRM16), FormModRMImm, 0xF7, 6),
		rowExt("IDIV", ops(SpecRM8), FormModRMImm, 0xF6, 7),
		rowExt("IDIV", ops(SpecRM16), FormModRMImm, 0xF7, 7),
	)

	// TEST
	add(
		row("TEST", ops(SpecRM8, SpecReg8), FormModRM, 0x84),
		row("TEST", ops(SpecRM16, SpecReg16), FormModRM, 0x85),
		row("TEST", ops(SpecAL, SpecImm8), FormImmediate, 0xA8),
		row("TEST", ops(SpecAX, SpecImm16), FormImmediate, 0xA9),
		rowExt("TEST", ops(SpecRM8, SpecImm8), FormModRMImm, 0xF6, 0),
		rowExt("TEST", ops(SpecRM16, SpecImm16), FormModRMImm, 0xF7, 0),
	)

	// Shifts and rotates: by 1 (implicit), by an explicit imm8 count and by
	// CL. The imm8 rows accept any count; the encoder drops the count byte
	// only when it is 1.
	shifts := []struct {
		mnemonic string
		ext      uint8
	}{
		{"ROL", 0}, {"ROR", 1}, {"RCL", 2}, {"RCR", 3},
		{"SHL", 4}, {"SAL", 4}, {"SHR", 5}, {"SAR", 7},
	}
	for _, s := range shifts {
		add(
			rowExt(s.mnemonic, ops(SpecRM8), FormModRMImm, 0xD0, s.ext),
			rowExt(s.mnemonic, ops(SpecRM16), FormModRMImm, 0xD1, s.ext),
		)
	}
	for _, s := range shifts {
		add(
			rowExt(s.mnemonic, ops(SpecRM8, SpecImm8), FormModRMImm, 0xD0, s.ext),
			rowExt(s.mnemonic, ops(SpecRM16, SpecImm8), FormModRMImm, 0xD1, s.ext),
		)
	}
	for _, s := range shifts {
		add(
			rowExt(s.mnemonic, ops(SpecRM8, SpecCL), FormModRMImm, 0xD2, s.ext),
			rowExt(s.mnemonic, ops(SpecRM16, SpecCL), FormModRMImm, 0xD3, s.ext),
		)
	}

	// PUSH / POP
	add(
		row("PUSH", ops(SpecAX), FormFixed, 0x50),
		row("PUSH", ops(SpecReg16), FormRegInOpcode, 0x50),
		row("PUSH", ops(SpecSegReg), FormFixed, 0x06),
		rowExt("PUSH", ops(SpecRM16), FormModRMImm, 0xFF, 6),
		row("POP", ops(SpecAX), FormFixed, 0x58),
		row("POP", ops(SpecReg16), FormRegInOpcode, 0x58),
		row("POP", ops(SpecSegReg), FormFixed, 0x07),
		rowExt("POP", ops(SpecRM16), FormModRMImm, 0x8F, 0),
	)

	// CALL / RET
	add(
		row("CALL", ops(SpecRel16), FormRelative, 0xE8),
		rowExt("CALL", ops(SpecRM16), FormModRMImm, 0xFF, 2),
		row("RET", ops(), FormFixed, 0xC3),
		row("RET", ops(SpecImm16), FormImmediate, 0xC2),
		row("RETF", ops(), FormFixed, 0xCB),
		row("RETF", ops(SpecImm16), FormImmediate, 0xCA),
	)

	// LOOP family and JCXZ.
	add(
		row("LOOP", ops(SpecRel8), FormRelative, 0xE2),
		row("LOOPE", ops(SpecRel8), FormRelative, 0xE1),
		row("LOOPZ", ops(SpecRel8), FormRelative, 0xE1),
		row("LOOPNE", ops(SpecRel8), FormRelative, 0xE0),
		row("LOOPNZ", ops(SpecRel8), FormRelative, 0xE0),
		row("JCXZ", ops(SpecRel8), FormRelative, 0xE3),
	)

	// Interrupts.
	add(
		row("INT", ops(SpecImm8), FormImmediate, 0xCD),
		row("INT3", ops(), FormFixed, 0xCC),
		row("INTO", ops(), FormFixed, 0xCE),
		row("IRET", ops(), FormFixed, 0xCF),
	)

	// String instructions.
	add(
		row("MOVSB", ops(), FormFixed, 0xA4),
		row("MOVSW", ops(), FormFixed, 0xA5),
		row("CMPSB", ops(), FormFixed, 0xA6),
		row("CMPSW", ops(), FormFixed, 0xA7),
		row("SCASB", ops(), FormFixed, 0xAE),
		row("SCASW", ops(), FormFixed, 0xAF),
		row("LODSB", ops(), FormFixed, 0xAC),
		row("LODSW", ops(), FormFixed, 0xAD),
		row("STOSB", ops(), FormFixed, 0xAA),
		row("STOSW", ops(), FormFixed, 0xAB),
	)

	// Repeat prefixes are standalone one-byte instructions.
	add(
		row("REP", ops(), FormFixed, 0xF3),
		row("REPE", ops(), FormFixed, 0xF3),
		row("REPZ", ops(), FormFixed, 0xF3),
		row("REPNE", ops(), FormFixed, 0xF2),
		row("REPNZ", ops(), FormFixed, 0xF2),
	)

	// I/O.
	add(
		row("IN", ops(SpecAL, SpecImm8), FormImmediate, 0xE4),
		row("IN", ops(SpecAX, SpecImm8), FormImmediate, 0xE5),
		row("IN", ops(SpecAL, SpecDX), FormFixed, 0xEC),
		row("IN", ops(SpecAX, SpecDX), FormFixed, 0xED),
		row("OUT", ops(SpecImm8, SpecAL), FormImmediate, 0xE6),
		row("OUT", ops(SpecImm8, SpecAX), FormImmediate, 0xE7),
		row("OUT", ops(SpecDX, SpecAL), FormFixed, 0xEE),
		row("OUT", ops(SpecDX, SpecAX), FormFixed, 0xEF),
	)

	// No-operand instructions.
	add(
		row("NOP", ops(), FormFixed, 0x90),
		row("HLT", ops(), FormFixed, 0xF4),
		row("PUSHA", ops(), FormFixed, 0x60),
		row("POPA", ops(), FormFixed, 0x61),
		row("CLC", ops(), FormFixed, 0xF8),
		row("STC", ops(), FormFixed, 0xF9),
		row("CMC", ops(), FormFixed, 0xF5),
		row("CLD", ops(), FormFixed, 0xFC),
		row("STD", ops(), FormFixed, 0xFD),
		row("CLI", ops(), FormFixed, 0xFA),
		row("STI", ops(), FormFixed, 0xFB),
		row("LAHF", ops(), FormFixed, 0x9F),
		row("SAHF", ops(), FormFixed, 0x9E),
		row("PUSHF", ops(), FormFixed, 0x9C),
		row("POPF", ops(), FormFixed, 0x9D),
		row("CBW", ops(), FormFixed, 0x98),
		row("CWD", ops(), FormFixed, 0x99),
		row("AAA", ops(), FormFixed, 0x37),
		row("AAS", ops(), FormFixed, 0x3F),
		row("AAM", ops(), FormFixed, 0xD4),
		row("AAD", ops(), FormFixed, 0xD5),
		row("DAA", ops(), FormFixed, 0x27),
		row("DAS", ops(), FormFixed, 0x2F),
		row("XLAT", ops(), FormFixed, 0xD7),
		row("WAIT", ops(), FormFixed, 0x9B),
		row("LOCK", ops(), FormFixed, 0xF0),
	)

	// XCHG
	add(
		row("XCHG", ops(SpecAX, SpecReg16), FormRegInOpcode, 0x90),
		row("XCHG", ops(SpecReg16, SpecAX), FormRegInOpcode, 0x90),
		row("XCHG", ops(SpecReg8, SpecRM8), FormModRM, 0x86),
		row("XCHG", ops(SpecReg16, SpecRM16), FormModRM, 0x87),
	)

	// Address loads.
	add(
		row("LEA", ops(SpecReg16, SpecMem16), FormModRM, 0x8D),
		row("LDS", ops(SpecReg16, SpecMem16), FormModRM, 0xC5),
		row("LES", ops(SpecReg16, SpecMem16), FormModRM, 0xC4),
	)

	return t
}
