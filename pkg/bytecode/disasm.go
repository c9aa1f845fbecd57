package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the whole program.
func Disassemble(p *Program) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; Kestrel Bytecode v%d\n", p.Version))

	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range p.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %-6s %s\n", i, c.Kind, truncate(c.String(), 40)))
		}
	}

	for i := range p.Functions {
		sb.WriteString("\n")
		sb.WriteString(DisassembleFunction(p, i))
	}
	return sb.String()
}

// DisassembleFunction returns a listing for the function at index fi.
func DisassembleFunction(p *Program, fi int) string {
	var sb strings.Builder
	fn := p.Functions[fi]

	sb.WriteString(fmt.Sprintf("; === %d: %s (%d instructions) ===\n", fi, fn.Name, len(fn.Code)))
	for pc, in := range fn.Code {
		sb.WriteString(fmt.Sprintf("%04d  %-14s %s\n", pc, in.Op.String(), formatOperands(p, in)))
	}
	return sb.String()
}

// formatOperands renders an instruction's operands with constant values and
// function names resolved where the index is in range.
func formatOperands(p *Program, in Instruction) string {
	info := GetOpcodeInfo(in.Op)
	parts := make([]string, 0, len(info.Operands))
	argc := int32(-1)

	for i, kind := range info.Operands {
		v := in.Args[i]
		switch kind {
		case OperandSlot:
			parts = append(parts, fmt.Sprintf("s%d", v))
		case OperandOptSlot:
			if v == NoOperand {
				parts = append(parts, "_")
			} else {
				parts = append(parts, fmt.Sprintf("s%d", v))
			}
		case OperandArgSlot:
			if argc >= 0 && int32(i-2) >= argc {
				continue
			}
			parts = append(parts, fmt.Sprintf("s%d", v))
		case OperandConst, OperandStringConst, OperandOptStringConst:
			if v == NoOperand && kind == OperandOptStringConst {
				parts = append(parts, "_")
			} else if v >= 0 && int(v) < len(p.Constants) {
				parts = append(parts, fmt.Sprintf("#%d(%s)", v, truncate(p.Constants[v].String(), 24)))
			} else {
				parts = append(parts, fmt.Sprintf("#%d(?)", v))
			}
		case OperandFunc:
			if v >= 0 && int(v) < len(p.Functions) {
				parts = append(parts, fmt.Sprintf("f%d(%s)", v, p.Functions[v].Name))
			} else {
				parts = append(parts, fmt.Sprintf("f%d(?)", v))
			}
		case OperandTarget:
			parts = append(parts, fmt.Sprintf("@%04d", v))
		case OperandArgCount:
			argc = v
			parts = append(parts, fmt.Sprintf("argc=%d", v))
		default:
			parts = append(parts, fmt.Sprintf("%d", v))
		}
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
