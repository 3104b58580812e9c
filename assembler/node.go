package assembler

import (
	"github.com/moesay/e2asm/diag"
	"github.com/moesay/e2asm/x86"
)

// Statement is one parsed element of the source program. Statements are
// immutable after parsing except for what the semantic analyzer fills in:
// instruction addresses and sizes, TIMES counts, re-parsed memory operands
// and data symbols folded to numbers.
type Statement interface {
	Loc() diag.SourceLocation
	Text() string
}

type stmtBase struct {
	Location diag.SourceLocation
	SrcText  string
}

func (s *stmtBase) Loc() diag.SourceLocation { return s.Location }
func (s *stmtBase) Text() string             { return s.SrcText }

// Label defines a name at the current address. Names starting with '.' are
// local to the preceding global label.
type Label struct {
	stmtBase
	Name string
}

// Instruction is a mnemonic with its operand list. AssignedAddress and
// EstimatedSize are filled by the semantic analyzer; the encoder emits
// exactly EstimatedSize bytes so addresses stay stable between the passes,
// except for a JMP SHORT it upgrades to NEAR (one byte longer).
type Instruction struct {
	stmtBase
	Mnemonic string
	Operands []Operand

	AssignedAddress uint64
	EstimatedSize   uint64
}

// DataValueKind tags one element of a data directive.
type DataValueKind uint8

const (
	DataNumber DataValueKind = iota
	DataString
	DataCharacter
	DataSymbol
)

// DataValue is a single DB/DW/... element. Symbols already defined when the
// semantic analyzer reaches the directive are rewritten to numbers; forward
// references stay symbolic and are resolved by the emitter.
type DataValue struct {
	Kind   DataValueKind
	Number int64
	Str    string
}

// DataDirective covers DB/DW/DD/DQ/DT. Width is the element width in bytes.
type DataDirective struct {
	stmtBase
	Width  int
	Values []DataValue
}

// ReserveDirective covers RESB/RESW/RESD/RESQ/REST.
type ReserveDirective struct {
	stmtBase
	Width int
	Count int64
}

// EquDirective binds a name to a constant.
type EquDirective struct {
	stmtBase
	Name  string
	Value int64
}

// OrgDirective sets the load origin.
type OrgDirective struct {
	stmtBase
	Address uint64
}

// SegmentDirective opens or switches to a named segment.
type SegmentDirective struct {
	stmtBase
	Name string
}

// EndsDirective closes a segment. An empty name closes the current one.
type EndsDirective struct {
	stmtBase
	Name string
}

// TimesDirective repeats its inner statement. CountExpr is the raw count
// text; Count is resolved by the analyzer (-1 until then).
type TimesDirective struct {
	stmtBase
	CountExpr string
	Count     int64
	Inner     Statement
}

// Operand is one instruction operand.
type Operand interface{ operand() }

// RegisterOperand is a direct register reference.
type RegisterOperand struct {
	Reg x86.Register
}

// ImmediateOperand is a constant value. Symbolic immediates keep their raw
// expression text and are resolved against the symbol table at encode time.
type ImmediateOperand struct {
	Value    int64
	SizeHint uint8 // 0, 8 or 16
	Expr     string
	Symbolic bool
}

// MemoryOperand is a bracketed address expression. Parsed, Direct and
// DirectAddr are refreshed by the semantic analyzer once EQU constants can
// be folded in.
type MemoryOperand struct {
	Expr            string
	SegmentOverride string
	SizeHint        uint8
	Parsed          *AddressExpression
	Direct          bool
	DirectAddr      uint16
}

// JumpType selects the branch encoding distance.
type JumpType uint8

const (
	JumpShort JumpType = iota
	JumpNear
	JumpFar
)

// LabelRef is a branch target operand.
type LabelRef struct {
	Name string
	Jump JumpType
}

// AddressExpression is the reduced form of the text inside [...]: up to two
// address registers, a folded displacement and at most one unresolved label.
type AddressExpression struct {
	Registers       []string
	Displacement    int64
	HasDisplacement bool
	LabelName       string
	HasLabel        bool
	LabelNegative   bool
}

func (*RegisterOperand) operand()  {}
func (*ImmediateOperand) operand() {}
func (*MemoryOperand) operand()    {}
func (*LabelRef) operand()         {}
