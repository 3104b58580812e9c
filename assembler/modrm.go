package assembler

import (
	"fmt"

	"github.com/moesay/e2asm/x86"
)

// modRM is one generated ModR/M byte plus its displacement bytes.
type modRM struct {
	modrm byte
	disp  []byte
}

func (m modRM) bytes() []byte { return append([]byte{m.modrm}, m.disp...) }

func combineModRM(mod, reg, rm uint8) byte {
	return (mod&0x03)<<6 | (reg&0x07)<<3 | rm&0x07
}

// regToRegModRM builds the mod=11 register form.
func regToRegModRM(reg, rm uint8) byte {
	return combineModRM(0x03, reg, rm)
}

// directModRM builds the direct-address form: mod=00, r/m=110, disp16.
func directModRM(address uint16, reg uint8) modRM {
	return modRM{combineModRM(0x00, reg, 0x06), encodeLE(int64(address), 2)}
}

// memoryModRM builds the ModR/M byte and displacement for a reduced address
// expression. Any label is resolved through the symbol table and folded into
// the displacement, but its slot stays 16 bits wide so the emitted size
// matches the analyzer's estimate.
//
//	no registers                  -> mod=00 r/m=110, disp16
//	[BX+SI]..[BX], no disp        -> mod=00, no displacement
//	[BP] alone, no disp           -> mod=01 r/m=110, one zero byte
//	disp in [-128,127]            -> mod=01, disp8
//	otherwise, or label           -> mod=10, disp16
func memoryModRM(addr *AddressExpression, reg uint8, table *SymbolTable) (modRM, error) {
	displacement := addr.Displacement
	hasDisp := addr.HasDisplacement
	force16 := false

	if addr.HasLabel {
		if table == nil {
			return modRM{}, fmt.Errorf("symbol table not available for label resolution")
		}
		sym, ok := lookupSymbol(table, addr.LabelName)
		if !ok || !sym.Resolved {
			return modRM{}, fmt.Errorf("undefined label: %s", addr.LabelName)
		}
		if addr.LabelNegative {
			displacement -= sym.Value
		} else {
			displacement += sym.Value
		}
		hasDisp = true
		force16 = true
	}

	rm, ok := x86.IndirectRM(addr.Registers)
	if !ok {
		return modRM{}, fmt.Errorf("invalid addressing mode combination")
	}

	// Direct address: no registers at all.
	if len(addr.Registers) == 0 {
		if !hasDisp {
			return modRM{}, fmt.Errorf("empty address expression")
		}
		return modRM{combineModRM(0x00, reg, 0x06), encodeLE(displacement, 2)}, nil
	}

	// [BP] with no displacement still needs a disp8 of zero: mod=00 r/m=110
	// would mean a direct address instead.
	if !hasDisp && len(addr.Registers) == 1 && addr.Registers[0] == "BP" {
		return modRM{combineModRM(0x01, reg, rm), []byte{0x00}}, nil
	}

	switch {
	case !hasDisp:
		return modRM{combineModRM(0x00, reg, rm), nil}, nil
	case !force16 && displacement >= -128 && displacement <= 127:
		return modRM{combineModRM(0x01, reg, rm), encodeLE(displacement, 1)}, nil
	default:
		return modRM{combineModRM(0x02, reg, rm), encodeLE(displacement, 2)}, nil
	}
}

// encodeLE truncates a value to n bytes, little-endian, two's-complement.
func encodeLE(value int64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(value)
		value >>= 8
	}
	return out
}

// memoryEncodingSize is the analyzer's estimate of ModR/M plus displacement
// bytes for a memory operand. It must agree with memoryModRM.
func memoryEncodingSize(mem *MemoryOperand) uint64 {
	if mem.Direct {
		return 3
	}
	addr := mem.Parsed
	if addr == nil {
		return 3
	}
	if len(addr.Registers) == 0 {
		return 3
	}
	if addr.HasLabel {
		return 3
	}
	if !addr.HasDisplacement {
		if len(addr.Registers) == 1 && addr.Registers[0] == "BP" {
			return 2
		}
		return 1
	}
	if addr.Displacement >= -128 && addr.Displacement <= 127 {
		return 2
	}
	return 3
}
