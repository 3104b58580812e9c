package assembler_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moesay/e2asm/assembler"
)

// assembleAndMatchHex assembles source and checks the binary against an
// expected byte sequence written in hex.
func assembleAndMatchHex(t *testing.T, name, src, expectedHex string) {
	t.Helper()

	cleaned := strings.ToLower(strings.Join(strings.Fields(expectedHex), ""))
	expected, err := hex.DecodeString(cleaned)
	require.NoErrorf(t, err, "[%s] invalid expected hex string", name)

	asm := assembler.New()
	res := asm.Assemble(src, "test.asm")
	require.Truef(t, res.Success, "[%s] failed to assemble:\n%s\nerrors: %v", name, src, res.Errors)
	assert.Equalf(t, expected, res.Binary, "[%s]\nexpected: % X\ngot:      % X",
		name, expected, res.Binary)
}

func mustAssemble(t *testing.T, src string) *assembler.Result {
	t.Helper()
	asm := assembler.New()
	res := asm.Assemble(src, "test.asm")
	require.Truef(t, res.Success, "failed to assemble:\n%s\nerrors: %v", src, res.Errors)
	return res
}

func TestBasicEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"NOP", "nop", "90"},
		{"MOV_AX_Imm16", "mov ax, 0x1234", "B8 34 12"},
		{"MOV_AL_Imm8", "mov al, 0x42", "B0 42"},
		{"MOV_BH_Imm8", "mov bh, 7", "B7 07"},
		{"PUSH_POP", "push ax\npop bx", "50 5B"},
		{"INT", "int 0x21", "CD 21"},
		{"INT3", "int3", "CC"},
		{"HLT", "hlt", "F4"},
		{"CLI", "cli", "FA"},
		{"CBW", "cbw", "98"},
		{"XLAT", "xlat", "D7"},
		{"PUSHF_POPF", "pushf\npopf", "9C 9D"},
		{"LAHF_SAHF", "lahf\nsahf", "9F 9E"},
		{"AAM_AAD", "aam\naad", "D4 D5"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestMovEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"RegToReg8", "mov al, bl", "88 D8"},
		{"RegToReg16", "mov ax, bx", "89 D8"},
		{"RegToReg8_Rev", "mov bl, al", "88 C3"},
		{"MemToReg", "mov cx, [bx]", "8B 0F"},
		{"RegToMem", "mov [bx], cx", "89 0F"},
		{"BaseIndex", "mov [bx+si], al", "88 00"},
		{"BaseIndexDisp", "mov [bp+di+2], dx", "89 53 02"},
		{"IndirectSI", "mov al, [si]", "8A 04"},
		{"AccumMoffsLoad", "mov ax, [0x1234]", "A1 34 12"},
		{"AccumMoffsLoad8", "mov al, [0x1234]", "A0 34 12"},
		{"AccumMoffsStore", "mov [0x1234], ax", "A3 34 12"},
		{"GeneralDirect", "mov bx, [0x1234]", "8B 1E 34 12"},
		{"MemImmWord", "mov word [bx], 5", "C7 07 05 00"},
		{"MemImmByte", "mov byte [bx], 5", "C6 07 05"},
		{"SegToReg", "mov ax, ds", "8C D8"},
		{"RegToSeg", "mov ds, ax", "8E D8"},
		{"RegToSeg2", "mov es, bx", "8E C3"},
		{"BPNoDisp", "mov al, [bp]", "8A 46 00"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestArithmeticEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"ADD_AL_Imm", "add al, 5", "04 05"},
		{"ADD_AX_Imm", "add ax, 0x100", "05 00 01"},
		{"ADD_RegReg", "add bl, cl", "00 CB"},
		{"ADD_Reg_Imm16", "add bx, 5", "81 C3 05 00"},
		{"SUB_Reg_Imm16", "sub bx, 5", "81 EB 05 00"},
		{"CMP_Mem_Imm", "cmp byte [si], 0", "80 3C 00"},
		{"XOR_Zero", "xor ax, ax", "31 C0"},
		{"AND_AL", "and al, 0x0F", "24 0F"},
		{"OR_AX", "or ax, 0x00FF", "0D FF 00"},
		{"ADC_RegReg", "adc dx, bx", "11 DA"},
		{"SBB_AL", "sbb al, 1", "1C 01"},
		{"INC_AX", "inc ax", "40"},
		{"INC_BX", "inc bx", "43"},
		{"INC_AL", "inc al", "FE C0"},
		{"DEC_CX", "dec cx", "49"},
		{"DEC_Mem8", "dec byte [bx]", "FE 0F"},
		{"INC_Mem16", "inc word [bx]", "FF 07"},
		{"NEG", "neg al", "F6 D8"},
		{"MUL", "mul bx", "F7 E3"},
		{"IMUL", "imul dl", "F6 EA"},
		{"DIV", "div cl", "F6 F1"},
		{"IDIV", "idiv bx", "F7 FB"},
		{"NOT", "not ah", "F6 D4"},
		{"TEST_AL", "test al, 1", "A8 01"},
		{"TEST_AX", "test ax, 0x8000", "A9 00 80"},
		{"TEST_RegReg", "test bl, cl", "84 CB"},
		{"DAA_DAS", "daa\ndas", "27 2F"},
		{"AAA_AAS", "aaa\naas", "37 3F"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestShiftEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"SHL_By1", "shl al, 1", "D0 E0"},
		{"SHL16_By1", "shl ax, 1", "D1 E0"},
		{"SHR_ByCL", "shr bl, cl", "D2 EB"},
		{"SAR_ByCL", "sar dx, cl", "D3 FA"},
		{"ROL_By1", "rol al, 1", "D0 C0"},
		{"RCR_By1", "rcr bx, 1", "D1 DB"},
		{"SAL_Alias", "sal al, 1", "D0 E0"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestStackAndSegmentEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"PUSH_Reg", "push di", "57"},
		{"PUSH_ES", "push es", "06"},
		{"PUSH_CS", "push cs", "0E"},
		{"PUSH_SS", "push ss", "16"},
		{"PUSH_DS", "push ds", "1E"},
		{"POP_ES", "pop es", "07"},
		{"POP_DS", "pop ds", "1F"},
		{"PUSH_Mem", "push word [bx]", "FF 37"},
		{"POP_Mem", "pop word [bx]", "8F 07"},
		{"PUSHA_POPA", "pusha\npopa", "60 61"},
		{"XCHG_AX_BX", "xchg ax, bx", "93"},
		{"XCHG_BX_AX", "xchg bx, ax", "93"},
		{"XCHG_8", "xchg al, bl", "86 C3"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestFlowEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"JMP_Short", "jmp short l\nl: nop", "EB 00 90"},
		{"JMP_Near_Default", "jmp l\nl: nop", "E9 00 00 90"},
		{"JNZ_DefaultShort", "jnz l\nl: nop", "75 00 90"},
		{"JE_Backward", "l: nop\nje l", "90 74 FD"},
		{"LOOP_Backward", "l: nop\nloop l", "90 E2 FD"},
		{"JCXZ", "jcxz l\nl: nop", "E3 00 90"},
		{"CALL", "call f\nf: ret", "E8 00 00 C3"},
		{"JMP_Indirect_Reg", "jmp bx", "FF E3"},
		{"RET", "ret", "C3"},
		{"RET_Imm", "ret 4", "C2 04 00"},
		{"RETF", "retf", "CB"},
		{"RETF_Imm", "retf 2", "CA 02 00"},
		{"IRET", "iret", "CF"},
		{"INTO", "into", "CE"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestStringAndIOEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"MOVSB", "movsb", "A4"},
		{"MOVSW", "movsw", "A5"},
		{"REP_MOVSB", "rep movsb", "F3 A4"},
		{"REPNE_SCASB", "repne scasb", "F2 AE"},
		{"REPE_CMPSB", "repe cmpsb", "F3 A6"},
		{"LODSW", "lodsw", "AD"},
		{"STOSB", "stosb", "AA"},
		{"IN_Imm", "in al, 0x60", "E4 60"},
		{"IN_DX", "in ax, dx", "ED"},
		{"OUT_Imm", "out 0x43, al", "E6 43"},
		{"OUT_DX", "out dx, al", "EE"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestLeaEncodings(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"LEA_Direct", "lea si, [0x0010]", "8D 36 10 00"},
		{"LEA_Label", "lea bx, data\ndata: dw 0", "8D 1E 04 00 00 00"},
		{"LDS", "lds si, [0x0010]", "C5 36 10 00"},
		{"LES", "les di, [0x0010]", "C4 3E 10 00"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestSegmentOverrides(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"Outside", "mov al, es:[di]", "26 8A 05"},
		{"Inside", "mov al, [es:di]", "26 8A 05"},
		{"CS", "mov bx, cs:[si]", "2E 8B 1C"},
		{"SS_Store", "mov ss:[bx], al", "36 88 07"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestDataDirectives(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"DB_Numbers", "db 1, 2, 3", "01 02 03"},
		{"DB_CharAndZero", "db 'A', 0", "41 00"},
		{"DB_String", `db "Hi", 0`, "48 69 00"},
		{"DW_LittleEndian", "dw 0x1234, 0xAA55", "34 12 55 AA"},
		{"DD", "dd 0x11223344", "44 33 22 11"},
		{"DQ", "dq 1", "01 00 00 00 00 00 00 00"},
		{"RESB", "resb 4", "00 00 00 00"},
		{"RESW", "resw 2", "00 00 00 00"},
		{"LabelSugar", `msg db "ok"`, "6F 6B"},
		{"ForwardSymbolInData", "dw label\nlabel: nop", "02 00 90"},
		{"EQUInData", "value equ 0x1234\ndw value", "34 12"},
		{"TIMES_NOP", "times 3 nop", "90 90 90"},
		{"TIMES_DB", "times 2 db 0xAB", "AB AB"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestSymbolFolding(t *testing.T) {
	tests := []struct {
		name, src, hex string
	}{
		{"EQUDisp", "off equ 8\nmov al, [bx+off]", "8A 47 08"},
		{"EQUImmediate", "port equ 0x60\nin al, port", "E4 60"},
		{"LabelImmediate", "mov si, msg\nmsg: db 0", "BE 03 00 00"},
		{"LabelMoffs", "mov ax, [msg]\nmsg: dw 0x5678", "A1 03 00 78 56"},
		{"LabelDispGeneral", "mov bx, [msg+2]\nmsg: dw 0, 0", "8B 1E 06 00 00 00 00 00"},
	}
	for _, tc := range tests {
		assembleAndMatchHex(t, tc.name, tc.src, tc.hex)
	}
}

func TestShortJumpBoundaries(t *testing.T) {
	// A short jump to exactly +127 fits.
	src := "jmp short l\ntimes 127 nop\nl: hlt"
	res := mustAssemble(t, src)
	assert.Equal(t, byte(0xEB), res.Binary[0])
	assert.Equal(t, byte(0x7F), res.Binary[1])

	// One byte further and a conditional jump fails...
	asm := assembler.New()
	res = asm.Assemble("jnz l\ntimes 128 nop\nl: hlt", "test.asm")
	assert.False(t, res.Success)

	// ...while an unconditional JMP upgrades itself to NEAR.
	res = asm.Assemble("jmp short l\ntimes 128 nop\nl: hlt", "test.asm")
	require.Truef(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, []byte{0xE9, 0x7F, 0x00}, res.Binary[:3])
	assert.Len(t, res.Binary, 132)
}

func TestBootSector(t *testing.T) {
	src := `
ORG 0x7C00
CLI
XOR AX, AX
MOV DS, AX
.h: HLT
JMP SHORT .h
TIMES 510-($-$$) DB 0
DW 0xAA55
`
	res := mustAssemble(t, src)
	require.Len(t, res.Binary, 512)
	assert.Equal(t, byte(0xFA), res.Binary[0])
	assert.Equal(t, byte(0x55), res.Binary[510])
	assert.Equal(t, byte(0xAA), res.Binary[511])
	assert.Equal(t, uint64(0x7C00), res.OriginAddress)
}

func TestListingInvariants(t *testing.T) {
	src := `
org 0x100
start:
	mov ax, 0x1234
	push ax
data:
	db "hey", 0
	resw 2
	times 2 nop
`
	res := mustAssemble(t, src)

	// The listing's bytes concatenate to the binary.
	total := 0
	for _, line := range res.Listing {
		total += len(line.MachineCode)
	}
	assert.Equal(t, len(res.Binary), total)

	// Label addresses equal the address of the following statement.
	assert.Equal(t, uint64(0x100), res.Symbols["start"])
	assert.Equal(t, uint64(0x104), res.Symbols["data"])

	// Listing addresses track the origin.
	var found bool
	for _, line := range res.Listing {
		if strings.Contains(line.SourceText, "mov ax") {
			assert.Equal(t, uint64(0x100), line.Address)
			found = true
		}
	}
	assert.True(t, found)
}

func TestDeterminism(t *testing.T) {
	src := "org 0x7C00\nstart: mov ax, 0x10\njmp short start\ntimes 5 db 1\n"
	first := mustAssemble(t, src)
	second := mustAssemble(t, src)
	assert.Equal(t, first.Binary, second.Binary)
	assert.Equal(t, first.Symbols, second.Symbols)
	require.Equal(t, len(first.Listing), len(second.Listing))
	for i := range first.Listing {
		assert.Equal(t, first.Listing[i].Address, second.Listing[i].Address)
	}
}

func TestLocalLabels(t *testing.T) {
	src := `
first:
.loop:
	nop
	jmp short .loop
second:
.loop:
	nop
	jmp short .loop
`
	res := mustAssemble(t, src)
	assert.Equal(t, uint64(0), res.Symbols["first.loop"])
	assert.Equal(t, uint64(3), res.Symbols["second.loop"])
}

func TestErrors(t *testing.T) {
	asm := assembler.New()

	t.Run("duplicate label", func(t *testing.T) {
		res := asm.Assemble("x: nop\nX: nop", "test.asm")
		assert.False(t, res.Success)
	})
	t.Run("duplicate constant", func(t *testing.T) {
		res := asm.Assemble("c equ 1\nC equ 2", "test.asm")
		assert.False(t, res.Success)
	})
	t.Run("undefined jump target", func(t *testing.T) {
		res := asm.Assemble("jmp short nowhere", "test.asm")
		assert.False(t, res.Success)
	})
	t.Run("illegal addressing register", func(t *testing.T) {
		res := asm.Assemble("mov al, [ax]", "test.asm")
		assert.False(t, res.Success)
	})
	t.Run("illegal register pair", func(t *testing.T) {
		res := asm.Assemble("mov al, [si+di]", "test.asm")
		assert.False(t, res.Success)
	})
	t.Run("operand mismatch", func(t *testing.T) {
		res := asm.Assemble("mov al, 300", "test.asm")
		assert.False(t, res.Success)
	})
	t.Run("errors keep accumulating", func(t *testing.T) {
		res := asm.Assemble("mov al, [ax]\nmov al, 300\nnop", "test.asm")
		assert.False(t, res.Success)
		assert.GreaterOrEqual(t, len(res.Errors), 2)
	})
}

func TestSegmentFallthroughWarning(t *testing.T) {
	src := "segment .text\nmov ax, bx\nsegment .data\ndb 1"

	asm := assembler.New()
	res := asm.Assemble(src, "test.asm")
	require.True(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "fall through")

	asm.EnableWarnings(false)
	res = asm.Assemble(src, "test.asm")
	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
}

func TestSegmentSymbols(t *testing.T) {
	src := "segment .text\nnop\nhlt\nsegment .data\nval: db 1"
	res := mustAssemble(t, src)
	assert.Equal(t, uint64(0), res.Symbols[".text"])
	assert.Equal(t, uint64(2), res.Symbols[".data"])
	assert.Equal(t, uint64(2), res.Symbols["val"])
}

func TestConfiguredOrigin(t *testing.T) {
	asm := assembler.New()
	asm.SetOrigin(0x100)
	res := asm.Assemble("start: nop", "test.asm")
	require.True(t, res.Success)
	assert.Equal(t, uint64(0x100), res.Symbols["start"])
	assert.Equal(t, uint64(0x100), res.OriginAddress)
}

func TestListingText(t *testing.T) {
	res := mustAssemble(t, "nop\nmov ax, 1")
	text := res.ListingText()
	assert.Contains(t, text, "90")
	assert.Contains(t, text, "mov ax, 1")
}

func TestPreprocessedSource(t *testing.T) {
	src := `
%define PORT 0x60
%ifdef PORT
in al, PORT
%else
nop
%endif
`
	assembleAndMatchHex(t, "DefineAndIfdef", src, "E4 60")
}
