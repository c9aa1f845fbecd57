package vm

import (
	"cmp"
	"math"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

// Each helper returns either a result or the exception object to throw.

func toFloat(v Value) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func isNumber(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func typeError(op bytecode.Opcode, l, r Value) *Object {
	return newException(TypeException, "unsupported operand types for %s: %s and %s", op, TypeName(l), TypeName(r))
}

// binaryArith implements ADD, SUB, MUL, DIV and MOD.
func binaryArith(op bytecode.Opcode, l, r Value) (Value, *Object) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)

	if op == bytecode.OpAdd && !(isNumber(l) && isNumber(r)) {
		_, ls := l.(string)
		_, rs := r.(string)
		if ls || rs {
			return Format(l) + Format(r), nil
		}
		return nil, typeError(op, l, r)
	}

	lf, lNum := toFloat(l)
	rf, rNum := toFloat(r)
	if !lNum || !rNum {
		return nil, typeError(op, l, r)
	}

	switch op {
	case bytecode.OpAdd:
		if lInt && rInt {
			return li + ri, nil
		}
		return lf + rf, nil
	case bytecode.OpSub:
		if lInt && rInt {
			return li - ri, nil
		}
		return lf - rf, nil
	case bytecode.OpMul:
		if lInt && rInt {
			return li * ri, nil
		}
		return lf * rf, nil
	case bytecode.OpDiv:
		if rf == 0 {
			return nil, newException(ArithmeticException, "division by zero")
		}
		return lf / rf, nil
	case bytecode.OpMod:
		if lInt && rInt {
			if ri == 0 {
				return nil, newException(ArithmeticException, "modulo by zero")
			}
			return li % ri, nil
		}
		if rf == 0 {
			return nil, newException(ArithmeticException, "modulo by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, typeError(op, l, r)
}

// equal implements EQ. Numbers compare by value across int and float;
// arrays and objects compare by identity.
func equal(l, r Value) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if isNumber(l) && isNumber(r) {
		li, lInt := l.(int64)
		ri, rInt := r.(int64)
		if lInt && rInt {
			return li == ri
		}
		lf, _ := toFloat(l)
		rf, _ := toFloat(r)
		return lf == rf
	}
	switch l := l.(type) {
	case string:
		r, ok := r.(string)
		return ok && l == r
	case bool:
		r, ok := r.(bool)
		return ok && l == r
	case *Array:
		r, ok := r.(*Array)
		return ok && l == r
	case *Object:
		r, ok := r.(*Object)
		return ok && l == r
	}
	return false
}

// compare implements LT, LE, GT and GE on numbers or on two strings.
func compare(op bytecode.Opcode, l, r Value) (Value, *Object) {
	var c int
	switch {
	case isNumber(l) && isNumber(r):
		li, lInt := l.(int64)
		ri, rInt := r.(int64)
		if lInt && rInt {
			c = cmp.Compare(li, ri)
			break
		}
		lf, _ := toFloat(l)
		rf, _ := toFloat(r)
		if math.IsNaN(lf) || math.IsNaN(rf) {
			return false, nil
		}
		c = cmp.Compare(lf, rf)
	default:
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return nil, typeError(op, l, r)
		}
		c = cmp.Compare(ls, rs)
	}

	switch op {
	case bytecode.OpLt:
		return c < 0, nil
	case bytecode.OpLe:
		return c <= 0, nil
	case bytecode.OpGt:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func negate(v Value) (Value, *Object) {
	switch v := v.(type) {
	case int64:
		return -v, nil
	case float64:
		return -v, nil
	}
	return nil, newException(TypeException, "cannot negate %s", TypeName(v))
}
