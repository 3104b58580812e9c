// Package x86 holds the static architecture data for the 8086: the register
// file, the instruction encoding table, the ModR/M r/m codes and the segment
// override prefixes. Everything here is read-only for the process lifetime
// and may be shared across assembler instances.
package x86

import "strings"

// Register describes one user-visible 8086 register.
type Register struct {
	Name    string
	Size    uint8 // 8 or 16
	Code    uint8 // 3-bit field value (2-bit for segment registers)
	Segment bool
}

var registers = map[string]Register{
	// 8-bit general registers.
	"AL": {"AL", 8, 0, false},
	"CL": {"CL", 8, 1, false},
	"DL": {"DL", 8, 2, false},
	"BL": {"BL", 8, 3, false},
	"AH": {"AH", 8, 4, false},
	"CH": {"CH", 8, 5, false},
	"DH": {"DH", 8, 6, false},
	"BH": {"BH", 8, 7, false},

	// 16-bit general registers.
	"AX": {"AX", 16, 0, false},
	"CX": {"CX", 16, 1, false},
	"DX": {"DX", 16, 2, false},
	"BX": {"BX", 16, 3, false},
	"SP": {"SP", 16, 4, false},
	"BP": {"BP", 16, 5, false},
	"SI": {"SI", 16, 6, false},
	"DI": {"DI", 16, 7, false},

	// Segment registers.
	"ES": {"ES", 16, 0, true},
	"CS": {"CS", 16, 1, true},
	"SS": {"SS", 16, 2, true},
	"DS": {"DS", 16, 3, true},
}

// LookupRegister resolves a register by name, case-insensitively.
func LookupRegister(name string) (Register, bool) {
	r, ok := registers[strings.ToUpper(name)]
	return r, ok
}

// IsAddressRegister reports whether the named register may appear inside an
// 8086 memory operand. Only BX, BP, SI and DI qualify.
func IsAddressRegister(name string) bool {
	switch strings.ToUpper(name) {
	case "BX", "BP", "SI", "DI":
		return true
	}
	return false
}

// SegmentPrefix returns the override prefix byte for a segment register.
func SegmentPrefix(segment string) (byte, bool) {
	switch strings.ToUpper(segment) {
	case "ES":
		return 0x26, true
	case "CS":
		return 0x2E, true
	case "SS":
		return 0x36, true
	case "DS":
		return 0x3E, true
	}
	return 0, false
}

// IndirectRM returns the 3-bit r/m code for a register-indirect addressing
// combination. The registers must be the normalized upper-case names of the
// 0, 1 or 2 address registers inside the brackets. An empty set selects the
// direct-address code (r/m=110). Illegal combinations return false.
func IndirectRM(regs []string) (uint8, bool) {
	switch len(regs) {
	case 0:
		return 0x06, true
	case 1:
		switch regs[0] {
		case "SI":
			return 0x04, true
		case "DI":
			return 0x05, true
		case "BP":
			return 0x06, true
		case "BX":
			return 0x07, true
		}
		return 0, false
	case 2:
		has := func(name string) bool {
			return regs[0] == name || regs[1] == name
		}
		switch {
		case has("BX") && has("SI"):
			return 0x00, true
		case has("BX") && has("DI"):
			return 0x01, true
		case has("BP") && has("SI"):
			return 0x02, true
		case has("BP") && has("DI"):
			return 0x03, true
		}
		return 0, false
	}
	return 0, false
}
