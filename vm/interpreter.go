package vm

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Executor: bytecode execution engine
// ---------------------------------------------------------------------------

// Executor runs a Module. It owns its frame stack and statics, so one
// Executor must not be used from several goroutines at once; concurrent runs
// of the same Module each need their own Executor.
type Executor struct {
	module  *Module
	limits  Limits
	matcher *TypeMatcher
	consts  []Value

	output               io.Writer
	out                  *bufio.Writer
	statics              *Statics
	contextCheckInterval int
	runID                string

	// Execution state
	frames []*frame
	free   []*frame // popped frames kept for reuse
	steps  int64
}

// NewExecutor creates an executor for m.
func NewExecutor(m *Module, opts ...Option) *Executor {
	e := &Executor{
		module:               m,
		limits:               m.cfg.Limits,
		matcher:              m.matcher,
		consts:               m.consts,
		output:               io.Discard,
		contextCheckInterval: DefaultContextCheckInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.statics == nil {
		e.statics = NewStatics()
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.out = bufio.NewWriter(e.output)
	return e
}

// RunID identifies this executor in log messages.
func (e *Executor) RunID() string { return e.runID }

// Statics returns the executor's statics store.
func (e *Executor) Statics() *Statics { return e.statics }

// Steps returns the number of instructions dispatched by the last run.
func (e *Executor) Steps() int64 { return e.steps }

// Run executes the module's entry function and returns its result. Output
// is flushed before Run returns, whatever the outcome. Errors are
// *RuntimeFatalError or *UncaughtException.
func (e *Executor) Run(ctx context.Context) (result Value, err error) {
	e.frames = e.frames[:0]
	e.steps = 0

	log.Debugf("run %s: start at %s", e.runID, e.module.EntryName())
	defer func() {
		if ferr := e.out.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("vm: flush output: %w", ferr)
		}
		if err != nil {
			log.Infof("run %s: %s after %d steps", e.runID, err, e.steps)
		} else {
			log.Debugf("run %s: finished after %d steps", e.runID, e.steps)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, &RuntimeFatalError{Limit: LimitCancelled, Function: e.module.EntryName(), Err: err}
	}

	e.pushFrame(e.module.entry, bytecode.NoOperand)
	return e.loop(ctx)
}

// ---------------------------------------------------------------------------
// Frame stack
// ---------------------------------------------------------------------------

func (e *Executor) pushFrame(fnIndex int, retDst int32) *frame {
	var f *frame
	if n := len(e.free); n > 0 {
		f = e.free[n-1]
		e.free = e.free[:n-1]
	} else {
		f = &frame{}
	}
	f.reset(e.module.prog.Functions[fnIndex], fnIndex, retDst)
	e.frames = append(e.frames, f)
	return f
}

// popFrame removes the top frame and hands v to the caller's destination
// slot. It reports true when the stack is empty.
func (e *Executor) popFrame(v Value) bool {
	f := e.discardFrame()
	if len(e.frames) == 0 {
		return true
	}
	if f.retDst != bytecode.NoOperand {
		e.frames[len(e.frames)-1].slots[f.retDst] = v
	}
	return false
}

// discardFrame removes the top frame without delivering a result.
func (e *Executor) discardFrame() *frame {
	n := len(e.frames)
	f := e.frames[n-1]
	e.frames[n-1] = nil
	e.frames = e.frames[:n-1]
	e.free = append(e.free, f)
	return f
}

func (e *Executor) fatal(kind LimitKind, limit int64, f *frame) *RuntimeFatalError {
	return &RuntimeFatalError{Limit: kind, Max: limit, Function: f.fn.Name, PC: f.pc - 1}
}

// tick counts one dispatched instruction against the step limit and polls
// the context every contextCheckInterval steps.
func (e *Executor) tick(ctx context.Context, f *frame) error {
	e.steps++
	if e.limits.MaxSteps > 0 && e.steps > e.limits.MaxSteps {
		return &RuntimeFatalError{Limit: LimitSteps, Max: e.limits.MaxSteps, Function: f.fn.Name, PC: f.pc}
	}
	if e.contextCheckInterval > 0 && e.steps%int64(e.contextCheckInterval) == 0 {
		select {
		case <-ctx.Done():
			return &RuntimeFatalError{Limit: LimitCancelled, Function: f.fn.Name, PC: f.pc, Err: ctx.Err()}
		default:
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Exception propagation
// ---------------------------------------------------------------------------

// unwind searches for a handler accepting exc, newest first, popping frames
// that have none. On a match the handler and every handler pushed after it
// in that frame are discarded and the frame resumes at the catch target.
func (e *Executor) unwind(exc Value, origin *frame, pc int) error {
	typeName := TypeName(exc)
	fnName := origin.fn.Name

	for len(e.frames) > 0 {
		f := e.frames[len(e.frames)-1]
		for i := len(f.handlers) - 1; i >= 0; i-- {
			h := f.handlers[i]
			if e.matcher.Matches(h.filter, typeName) {
				f.handlers = f.handlers[:i]
				f.pending.set(exc)
				f.pc = h.target
				return nil
			}
		}
		e.discardFrame()
	}
	return &UncaughtException{Value: exc, TypeName: typeName, Function: fnName, PC: pc}
}

// ---------------------------------------------------------------------------
// Main execution loop
// ---------------------------------------------------------------------------

func (e *Executor) loop(ctx context.Context) (Value, error) {
	for {
		f := e.frames[len(e.frames)-1]
		code := f.fn.Code

		// Falling off the end returns null.
		if f.pc >= len(code) {
			if e.popFrame(nil) {
				return nil, nil
			}
			continue
		}

		if err := e.tick(ctx, f); err != nil {
			return nil, err
		}

		pc := f.pc
		in := code[pc]
		a := &in.Args
		f.pc++

		var exc *Object  // raised by the executor
		var thrown Value // raised by THROW
		var raised bool

		switch in.Op {
		case bytecode.OpConst:
			f.slots[a[0]] = e.consts[a[1]]

		case bytecode.OpLoadLocal, bytecode.OpStoreLocal:
			f.slots[a[1]] = f.slots[a[0]]

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			var v Value
			if v, exc = binaryArith(in.Op, f.slots[a[0]], f.slots[a[1]]); exc == nil {
				f.slots[a[2]] = v
			}

		case bytecode.OpNeg:
			var v Value
			if v, exc = negate(f.slots[a[0]]); exc == nil {
				f.slots[a[1]] = v
			}

		case bytecode.OpEq:
			f.slots[a[2]] = equal(f.slots[a[0]], f.slots[a[1]])

		case bytecode.OpNeq:
			f.slots[a[2]] = !equal(f.slots[a[0]], f.slots[a[1]])

		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			var v Value
			if v, exc = compare(in.Op, f.slots[a[0]], f.slots[a[1]]); exc == nil {
				f.slots[a[2]] = v
			}

		case bytecode.OpNot:
			f.slots[a[1]] = !truthy(f.slots[a[0]])

		case bytecode.OpJump:
			f.pc = int(a[0])

		case bytecode.OpJumpIfFalse:
			if !truthy(f.slots[a[0]]) {
				f.pc = int(a[1])
			}

		case bytecode.OpCall:
			if limit := e.limits.MaxCallDepth; limit > 0 && len(e.frames) >= limit {
				return nil, e.fatal(LimitCallDepth, int64(limit), f)
			}
			callee := e.pushFrame(int(a[0]), a[6])
			for i := int32(0); i < a[1]; i++ {
				callee.slots[i] = f.slots[a[2+i]]
			}

		case bytecode.OpReturn:
			var v Value
			if a[0] != bytecode.NoOperand {
				v = f.slots[a[0]]
			}
			if e.popFrame(v) {
				return v, nil
			}

		case bytecode.OpPrint:
			e.out.WriteString(Format(f.slots[a[0]]))
			if a[1] == 1 {
				e.out.WriteByte('\n')
			}

		case bytecode.OpNewArray:
			var arr *Array
			if arr, exc = e.newArray(f.slots[a[0]], a[2]); exc == nil {
				if arr == nil {
					return nil, e.fatal(LimitArrayLength, int64(e.limits.MaxArrayLength), f)
				}
				f.slots[a[1]] = arr
			}

		case bytecode.OpLoadElem:
			var arr *Array
			var i int
			if arr, i, exc = elemAccess(f.slots[a[0]], f.slots[a[1]]); exc == nil {
				f.slots[a[2]] = arr.Elems[i]
			}

		case bytecode.OpStoreElem:
			var arr *Array
			var i int
			if arr, i, exc = elemAccess(f.slots[a[0]], f.slots[a[1]]); exc == nil {
				arr.Elems[i] = f.slots[a[2]]
			}

		case bytecode.OpArrayLength:
			switch arr := f.slots[a[0]].(type) {
			case *Array:
				f.slots[a[1]] = int64(len(arr.Elems))
			case nil:
				exc = newException(NullPointerException, "length of null array")
			default:
				exc = newException(TypeException, "length of %s", TypeName(arr))
			}

		case bytecode.OpGetStatic:
			f.slots[a[2]] = e.statics.Get(e.str(a[0]), e.str(a[1]))

		case bytecode.OpSetStatic:
			e.statics.Set(e.str(a[0]), e.str(a[1]), f.slots[a[2]])

		case bytecode.OpNewObject:
			f.slots[a[1]] = NewObject(e.str(a[0]))

		case bytecode.OpGetField:
			var obj *Object
			if obj, exc = fieldAccess(f.slots[a[0]], e.str(a[1])); exc == nil {
				f.slots[a[2]] = obj.Get(e.str(a[1]))
			}

		case bytecode.OpSetField:
			var obj *Object
			if obj, exc = fieldAccess(f.slots[a[0]], e.str(a[1])); exc == nil {
				obj.Set(e.str(a[1]), f.slots[a[2]])
			}

		case bytecode.OpTryPush:
			if limit := e.limits.MaxHandlersPerFrame; limit > 0 && len(f.handlers) >= limit {
				return nil, e.fatal(LimitHandlers, int64(limit), f)
			}
			f.handlers = append(f.handlers, handler{target: int(a[0]), filter: e.str(a[1])})

		case bytecode.OpTryPop:
			if n := len(f.handlers); n > 0 {
				f.handlers = f.handlers[:n-1]
			}

		case bytecode.OpThrow:
			thrown, raised = f.slots[a[0]], true

		case bytecode.OpCatchBind:
			f.slots[a[0]] = f.pending.take()

		default:
			return nil, fmt.Errorf("vm: unhandled opcode %s in %s at pc %d", in.Op, f.fn.Name, pc)
		}

		if exc != nil {
			thrown, raised = exc, true
		}
		if raised {
			if err := e.unwind(thrown, f, pc); err != nil {
				return nil, err
			}
		}
	}
}

// str returns a constant known by verification to be a string.
func (e *Executor) str(idx int32) string {
	return e.consts[idx].(string)
}

// newArray allocates an array. A nil array with a nil exception means the
// length limit was exceeded.
func (e *Executor) newArray(size Value, elemType int32) (*Array, *Object) {
	n, ok := size.(int64)
	if !ok {
		return nil, newException(TypeException, "array size must be Integer, got %s", TypeName(size))
	}
	if n < 0 {
		return nil, newException(NegativeArraySizeException, "array size %d", n)
	}
	if limit := e.limits.MaxArrayLength; limit > 0 && n > int64(limit) {
		return nil, nil
	}

	arr := &Array{Elems: make([]Value, n)}
	if elemType != bytecode.NoOperand {
		arr.ElemType = e.str(elemType)
	}
	var zero Value
	switch arr.ElemType {
	case "int", "Integer":
		zero = int64(0)
	case "float", "Float":
		zero = float64(0)
	case "bool", "boolean", "Boolean":
		zero = false
	}
	if zero != nil {
		for i := range arr.Elems {
			arr.Elems[i] = zero
		}
	}
	return arr, nil
}

func elemAccess(av, iv Value) (*Array, int, *Object) {
	arr, ok := av.(*Array)
	if !ok {
		if av == nil {
			return nil, 0, newException(NullPointerException, "index into null array")
		}
		return nil, 0, newException(TypeException, "cannot index %s", TypeName(av))
	}
	i, ok := iv.(int64)
	if !ok {
		return nil, 0, newException(TypeException, "array index must be Integer, got %s", TypeName(iv))
	}
	if i < 0 || i >= int64(len(arr.Elems)) {
		return nil, 0, newException(IndexOutOfBoundsException, "index %d out of bounds for length %d", i, len(arr.Elems))
	}
	return arr, int(i), nil
}

func fieldAccess(ov Value, field string) (*Object, *Object) {
	obj, ok := ov.(*Object)
	if !ok {
		if ov == nil {
			return nil, newException(NullPointerException, "field %s of null", field)
		}
		return nil, newException(TypeException, "field %s of %s", field, TypeName(ov))
	}
	return obj, nil
}
