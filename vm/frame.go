package vm

import "github.com/chazu/kestrel/pkg/bytecode"

// ---------------------------------------------------------------------------
// Frame: execution state for one function activation
// ---------------------------------------------------------------------------

// handler is an active try region: where to resume and what it accepts.
type handler struct {
	target int
	filter string
}

// catchState distinguishes "nothing to bind" from "bind null".
type catchState uint8

const (
	notPending catchState = iota
	pendingNull
	pendingValue
)

// pendingCatch carries a caught value from the handler search to the
// CATCH_BIND that receives it.
type pendingCatch struct {
	state catchState
	value Value
}

func (p *pendingCatch) set(v Value) {
	if v == nil {
		*p = pendingCatch{state: pendingNull}
		return
	}
	*p = pendingCatch{state: pendingValue, value: v}
}

// take returns the pending value and resets the cell. An empty cell yields
// null.
func (p *pendingCatch) take() Value {
	v := p.value
	*p = pendingCatch{}
	return v
}

// frame is one activation on the executor's frame stack.
type frame struct {
	fn       *bytecode.Function
	fnIndex  int
	pc       int
	slots    [bytecode.NumSlots]Value
	handlers []handler
	pending  pendingCatch
	retDst   int32 // slot in the caller receiving the result, or NoOperand
}

// reset clears a recycled frame for a new activation.
func (f *frame) reset(fn *bytecode.Function, fnIndex int, retDst int32) {
	f.fn = fn
	f.fnIndex = fnIndex
	f.pc = 0
	f.slots = [bytecode.NumSlots]Value{}
	f.handlers = f.handlers[:0]
	f.pending = pendingCatch{}
	f.retDst = retDst
}
