package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// syntax
	AsmSyntax          Code = 1001
	AsmUnknownBlock    Code = 1002
	AsmUnterminated    Code = 1003
	AsmBadOperand      Code = 1004
	AsmUnexpectedEnd   Code = 1005
	AsmDuplicateMember Code = 1006

	// operands and labels
	AsmUnboundLabel    Code = 2001
	AsmJumpOutOfRange  Code = 2002
	AsmMalformedArg    Code = 2003
	AsmUnknownOpcode   Code = 2004
	AsmArity           Code = 2005
	AsmConstKind       Code = 2006
	AsmBadReturnTarget Code = 2007
	AsmDuplicateLabel  Code = 2008

	// linking
	LnkUnknownType       Code = 3001
	LnkInheritanceCycle  Code = 3002
	LnkAmbiguousDispatch Code = 3003
	LnkUnresolvedMethod  Code = 3004
	LnkMissingTemplate   Code = 3005
	LnkDuplicateType     Code = 3006
	LnkDuplicateFunction Code = 3007
	LnkBadRelation       Code = 3008

	IOLoadFileError  Code = 4001
	IOLoadImageError Code = 4002
)

var codeDescription = map[Code]string{
	UnknownCode:          "Unknown error",
	AsmSyntax:            "Syntax error",
	AsmUnknownBlock:      "Unknown block keyword",
	AsmUnterminated:      "Block is missing 'end'",
	AsmBadOperand:        "Operand cannot be parsed",
	AsmUnexpectedEnd:     "Unexpected 'end'",
	AsmDuplicateMember:   "Duplicate member",
	AsmUnboundLabel:      "Label is never bound",
	AsmJumpOutOfRange:    "Jump target is outside the method",
	AsmMalformedArg:      "Malformed operand encoding",
	AsmUnknownOpcode:     "Unknown opcode",
	AsmArity:             "Wrong number of operands",
	AsmConstKind:         "Constant has the wrong kind",
	AsmBadReturnTarget:   "Result cannot be written there",
	AsmDuplicateLabel:    "Label bound twice",
	LnkUnknownType:       "Unknown type",
	LnkInheritanceCycle:  "Inheritance cycle",
	LnkAmbiguousDispatch: "Ambiguous method dispatch",
	LnkUnresolvedMethod:  "Abstract method has no implementation",
	LnkMissingTemplate:   "Type has no template",
	LnkDuplicateType:     "Type declared twice",
	LnkDuplicateFunction: "Function declared twice",
	LnkBadRelation:       "Invalid type relationship",
	IOLoadFileError:      "Cannot read source file",
	IOLoadImageError:     "Cannot read module image",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 3000:
		return fmt.Sprintf("ASM%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("LNK%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("IO%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
