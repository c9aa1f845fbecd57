package vm

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// Verify checks p before any of it runs. Structural checks always run and
// every violation is reported. The try-depth dataflow runs when
// cfg.VerifyControlFlow is set, for each function that passed the
// structural layer. The returned error is nil or a *multierror.Error of
// *VerificationError values.
func Verify(p *bytecode.Program, cfg Config) error {
	var result *multierror.Error

	for fi, fn := range p.Functions {
		v := &funcVerifier{prog: p, fn: fn, fi: fi}
		v.checkStructure()
		if len(v.errs) == 0 && cfg.VerifyControlFlow {
			v.checkControlFlow()
		}
		for _, err := range v.errs {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type funcVerifier struct {
	prog *bytecode.Program
	fn   *bytecode.Function
	fi   int
	errs []error
}

func (v *funcVerifier) fail(pc int, rule Rule, format string, args ...any) {
	v.errs = append(v.errs, &VerificationError{
		Function:  v.fn.Name,
		FuncIndex: v.fi,
		PC:        pc,
		Rule:      rule,
		Detail:    fmt.Sprintf(format, args...),
	})
}

// ---------------------------------------------------------------------------
// Structural layer
// ---------------------------------------------------------------------------

func (v *funcVerifier) checkStructure() {
	for pc, in := range v.fn.Code {
		info, ok := bytecode.LookupOpcode(in.Op)
		if !ok {
			v.fail(pc, RuleUnknownOpcode, "opcode 0x%02X", byte(in.Op))
			continue
		}
		argc := int32(-1)
		for i, kind := range info.Operands {
			val := in.Args[i]
			if kind == bytecode.OperandArgCount && val >= 0 && val <= bytecode.MaxCallArgs {
				argc = val
			}
			v.checkOperand(pc, in.Op, i, kind, val, argc)
		}
	}
}

func validSlot(x int32) bool {
	return x >= 0 && x < bytecode.NumSlots
}

func (v *funcVerifier) checkOperand(pc int, op bytecode.Opcode, i int, kind bytecode.OperandKind, x int32, argc int32) {
	switch kind {
	case bytecode.OperandSlot:
		if !validSlot(x) {
			v.fail(pc, RuleSlotRange, "%s operand %d: slot %d not in [0, %d)", op, i, x, bytecode.NumSlots)
		}
	case bytecode.OperandOptSlot:
		if x != bytecode.NoOperand && !validSlot(x) {
			v.fail(pc, RuleSlotRange, "%s operand %d: slot %d not in [0, %d)", op, i, x, bytecode.NumSlots)
		}
	case bytecode.OperandConst:
		if x < 0 || int(x) >= len(v.prog.Constants) {
			v.fail(pc, RuleConstRange, "%s operand %d: constant %d of %d", op, i, x, len(v.prog.Constants))
		}
	case bytecode.OperandStringConst:
		v.checkStringConst(pc, op, i, x)
	case bytecode.OperandOptStringConst:
		if x != bytecode.NoOperand {
			v.checkStringConst(pc, op, i, x)
		}
	case bytecode.OperandFunc:
		if x < 0 || int(x) >= len(v.prog.Functions) {
			v.fail(pc, RuleFuncRange, "%s operand %d: function %d of %d", op, i, x, len(v.prog.Functions))
		}
	case bytecode.OperandTarget:
		if x < 0 || int(x) >= len(v.fn.Code) {
			v.fail(pc, RuleTargetRange, "%s operand %d: target %d of %d", op, i, x, len(v.fn.Code))
		}
	case bytecode.OperandFlag:
		if x != 0 && x != 1 {
			v.fail(pc, RuleFlag, "%s operand %d: flag %d", op, i, x)
		}
	case bytecode.OperandArgCount:
		if x < 0 || x > bytecode.MaxCallArgs {
			v.fail(pc, RuleArgCount, "%s: argument count %d not in [0, %d]", op, x, bytecode.MaxCallArgs)
		}
	case bytecode.OperandArgSlot:
		if argc < 0 {
			return // reported with the count
		}
		pos := int32(i - 2)
		if pos < argc {
			if !validSlot(x) {
				v.fail(pc, RuleArgSlot, "%s argument %d: slot %d not in [0, %d)", op, pos, x, bytecode.NumSlots)
			}
		} else if x != bytecode.NoOperand {
			v.fail(pc, RuleArgSlot, "%s argument %d: unused argument must be %d, got %d", op, pos, bytecode.NoOperand, x)
		}
	}
}

func (v *funcVerifier) checkStringConst(pc int, op bytecode.Opcode, i int, x int32) {
	if x < 0 || int(x) >= len(v.prog.Constants) {
		v.fail(pc, RuleConstRange, "%s operand %d: constant %d of %d", op, i, x, len(v.prog.Constants))
		return
	}
	if k := v.prog.Constants[x].Kind; k != bytecode.ConstString {
		v.fail(pc, RuleStringConst, "%s operand %d: constant %d is %s, want string", op, i, x, k)
	}
}

// ---------------------------------------------------------------------------
// Control-flow layer
// ---------------------------------------------------------------------------

const unvisited = -1

// checkControlFlow propagates the try depth forward from pc 0. Successors
// are the target for JUMP, fallthrough and target for JUMP_IF_FALSE, none for
// RETURN, and fallthrough for everything else, THROW included. RETURN and
// falling off the end are exits. Catch targets must be CATCH_BIND
// instructions entered only from their TRY_PUSH.
func (v *funcVerifier) checkControlFlow() {
	code := v.fn.Code
	n := len(code)
	if n == 0 {
		return
	}

	depth := make([]int, n)
	for i := range depth {
		depth[i] = unvisited
	}
	normalPred := make([]bool, n)
	catchTarget := make([]bool, n)
	for _, in := range code {
		if in.Op == bytecode.OpTryPush {
			catchTarget[in.Args[0]] = true
		}
	}

	var work []int
	ok := true

	// reach records that pc can be entered at depth d.
	reach := func(from, pc, d int, normal bool) {
		if !ok {
			return
		}
		if pc == n {
			if d != 0 {
				v.fail(from, RuleExitDepth, "falls off the end at try depth %d", d)
				ok = false
			}
			return
		}
		if normal {
			normalPred[pc] = true
		}
		switch depth[pc] {
		case unvisited:
			depth[pc] = d
			work = append(work, pc)
		case d:
		default:
			v.fail(pc, RuleInconsistentMerge, "reached at try depth %d and %d (from pc %d)", depth[pc], d, from)
			ok = false
		}
	}

	// Entry counts as a normal way in.
	reach(-1, 0, 0, true)

	for ok && len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		in := code[pc]
		d := depth[pc]

		switch in.Op {
		case bytecode.OpJump:
			reach(pc, int(in.Args[0]), d, true)
		case bytecode.OpJumpIfFalse:
			reach(pc, pc+1, d, true)
			reach(pc, int(in.Args[1]), d, true)
		case bytecode.OpReturn:
			if d != 0 {
				v.fail(pc, RuleExitDepth, "returns at try depth %d", d)
				ok = false
			}
		case bytecode.OpTryPush:
			reach(pc, pc+1, d+1, true)
			// Handler code is checked at the depth of its TRY_PUSH.
			reach(pc, int(in.Args[0]), d, false)
		case bytecode.OpTryPop:
			if d == 0 {
				v.fail(pc, RuleNegativeDepth, "TRY_POP at try depth 0")
				ok = false
				break
			}
			reach(pc, pc+1, d-1, true)
		default:
			reach(pc, pc+1, d, true)
		}
	}

	for pc, in := range code {
		switch {
		case catchTarget[pc] && in.Op != bytecode.OpCatchBind:
			v.fail(pc, RuleCatchNotBind, "catch target is %s, want CATCH_BIND", in.Op)
		case catchTarget[pc] && normalPred[pc]:
			v.fail(pc, RuleCatchReachable, "catch target has a normal-flow predecessor")
		case !catchTarget[pc] && in.Op == bytecode.OpCatchBind:
			v.fail(pc, RuleStrayCatchBind, "CATCH_BIND is not the target of any TRY_PUSH")
		}
	}
}
