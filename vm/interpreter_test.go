package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/kestrel/pkg/bytecode"
	"github.com/chazu/kestrel/pkg/ir"
)

// ---------------------------------------------------------------------------
// Executor tests
//
// Programs are written with the IR builder and go through the encoder, the
// binary codec and the verifier before they run, so every test here also
// checks that encoder output loads cleanly.
// ---------------------------------------------------------------------------

func TestRunDivisionYieldsFloat(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		Int("a", 5).
		Int("b", 2).
		Binary(ir.Div, "a", "b", "c").
		Println("c").
		Return("c"))

	out, v, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "2.5\n" {
		t.Errorf("output = %q, want %q", out, "2.5\n")
	}
	if v != 2.5 {
		t.Errorf("result = %#v, want 2.5", v)
	}
}

func TestRunIntegerArithmetic(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		Int("a", 7).
		Int("b", 3).
		Binary(ir.Mod, "a", "b", "r").Println("r").
		Binary(ir.Mul, "a", "b", "r").Println("r").
		Binary(ir.Sub, "b", "a", "r").Println("r").
		Float("f", 0.5).
		Binary(ir.Add, "a", "f", "r").Println("r").
		Str("s", "n=").
		Binary(ir.Add, "s", "a", "r").Println("r").
		Float("w", 2).Println("w").
		ReturnVoid())

	out, _, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "1\n21\n-4\n7.5\nn=7\n2.0\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRunCatchesDivisionByZero(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		TryBegin("handler", CatchAny).
		Int("a", 1).
		Int("z", 0).
		Binary(ir.Div, "a", "z", "r").
		TryEnd().
		Str("s", "unreachable").
		Println("s").
		Jump("end").
		Label("handler").
		CatchBind("e").
		GetField("e", "message", "m").
		Println("m").
		Label("end").
		ReturnVoid())

	out, _, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "division by zero\n" {
		t.Errorf("output = %q", out)
	}
}

// The innermost matching handler runs first; a throw from inside it goes to
// the enclosing handler.
func TestRunNestedTryInnerThenOuter(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		TryBegin("outer", CatchAny).
		TryBegin("inner", ArithmeticException).
		Int("a", 1).
		Int("z", 0).
		Binary(ir.Mod, "a", "z", "r").
		TryEnd().
		TryEnd().
		Jump("end").
		Label("inner").
		CatchBind("e").
		Str("s", "inner").
		Println("s").
		NewObject("Boom", "x").
		Throw("x").
		TryEnd().
		Jump("end").
		Label("outer").
		CatchBind("e2").
		Str("s2", "outer").
		Println("s2").
		Label("end").
		ReturnVoid())

	out, _, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "inner\nouter\n" {
		t.Errorf("output = %q, want %q", out, "inner\nouter\n")
	}
}

func TestRunHandlerRemovedAfterCatch(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		TryBegin("h", CatchAny).
		NewObject("First", "x").
		Throw("x").
		TryEnd().
		ReturnVoid().
		Label("h").
		CatchBind("e").
		NewObject("Second", "y").
		Throw("y"))

	_, _, err := runModule(t, m)
	var ue *UncaughtException
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UncaughtException, got %v", err)
	}
	if ue.TypeName != "Second" {
		t.Errorf("uncaught type = %s, want Second", ue.TypeName)
	}
}

// When an outer handler matches, handlers pushed after it in the same frame
// are discarded too.
func TestRunCatchTruncatesNewerHandlers(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		TryBegin("outer", CatchAny).
		TryBegin("inner", "Nope").
		NewObject("Boom", "x").
		Throw("x").
		TryEnd().
		TryEnd().
		ReturnVoid().
		Label("inner").
		CatchBind("e").
		TryEnd().
		Jump("end").
		Label("outer").
		CatchBind("e2").
		NewObject("Again", "y").
		Throw("y").
		Label("end").
		ReturnVoid())

	_, _, err := runModule(t, m)
	var ue *UncaughtException
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UncaughtException, got %v", err)
	}
	if ue.TypeName != "Again" {
		t.Errorf("uncaught type = %s, want Again", ue.TypeName)
	}
}

// An exception raised in a callee is caught by the caller's handler. The
// caller's destination slot is left untouched.
func TestRunUnwindsAcrossFrames(t *testing.T) {
	main := ir.NewFunction("main").
		TryBegin("h", RuntimeException).
		Call("thrower", "r").
		TryEnd().
		Jump("end").
		Label("h").
		CatchBind("e").
		GetField("e", "message", "m").
		Println("m").
		Label("end").
		Println("r").
		ReturnVoid()
	thrower := ir.NewFunction("thrower").
		Int("n", 2).
		NewArray("n", "arr", "").
		Int("i", 5).
		LoadElem("arr", "i", "v").
		Return("v")

	out, _, err := runModule(t, mustLoad(t, DefaultConfig(), main, thrower))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "index 5 out of bounds for length 2\nnull\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRunUncaughtException(t *testing.T) {
	main := ir.NewFunction("main").
		Call("f", "").
		ReturnVoid()
	f := ir.NewFunction("f").
		Str("s", "boom").
		Throw("s")

	_, _, err := runModule(t, mustLoad(t, DefaultConfig(), main, f))
	var ue *UncaughtException
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UncaughtException, got %v", err)
	}
	if ue.Function != "f" || ue.PC != 1 {
		t.Errorf("thrown at %s pc %d, want f pc 1", ue.Function, ue.PC)
	}
	if ue.TypeName != "String" || ue.Value != "boom" {
		t.Errorf("uncaught %s %#v", ue.TypeName, ue.Value)
	}
	if !strings.Contains(err.Error(), "uncaught String: boom") {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestRunFilterMismatchPropagates(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		TryBegin("h", ArithmeticException).
		Int("a", 1).
		Bool("b", true).
		Binary(ir.Add, "a", "b", "r").
		TryEnd().
		ReturnVoid().
		Label("h").
		CatchBind("e").
		ReturnVoid())

	_, _, err := runModule(t, m)
	var ue *UncaughtException
	if !errors.As(err, &ue) || ue.TypeName != TypeException {
		t.Fatalf("expected uncaught TypeException, got %v", err)
	}
}

func TestRunTypeMatching(t *testing.T) {
	prog := func(filter string) *ir.FunctionBuilder {
		return ir.NewFunction("main").
			TryBegin("h", filter).
			NewObject("CustomException", "x").
			Throw("x").
			TryEnd().
			ReturnVoid().
			Label("h").
			CatchBind("e").
			Str("s", "caught").
			Println("s").
			ReturnVoid()
	}

	tests := []struct {
		name   string
		filter string
		cfg    func(*Config)
		caught bool
	}{
		{"exact name", "CustomException", nil, true},
		{"umbrella by suffix", ExceptionClass, nil, true},
		{"umbrella without legacy", ExceptionClass, func(c *Config) { c.LegacyTypeMatching = false }, false},
		{"configured parent", RuntimeException, func(c *Config) {
			c.LegacyTypeMatching = false
			c.ExceptionParents = map[string]string{"CustomException": RuntimeException}
		}, true},
		{"ancestor through configured parent", Throwable, func(c *Config) {
			c.LegacyTypeMatching = false
			c.ExceptionParents = map[string]string{"CustomException": RuntimeException}
		}, true},
		{"unrelated", ArithmeticException, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			out, _, err := runModule(t, mustLoad(t, cfg, prog(tt.filter)))
			if tt.caught {
				if err != nil || out != "caught\n" {
					t.Fatalf("expected catch, got output %q err %v", out, err)
				}
				return
			}
			var ue *UncaughtException
			if !errors.As(err, &ue) {
				t.Fatalf("expected *UncaughtException, got %v", err)
			}
		})
	}
}

func TestRunCatchBindNullPayload(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		Null("n").
		Int("e", 9).
		TryBegin("h", CatchAny).
		Throw("n").
		TryEnd().
		ReturnVoid().
		Label("h").
		CatchBind("e").
		Println("e").
		ReturnVoid())

	out, _, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "null\n" {
		t.Errorf("output = %q, want %q", out, "null\n")
	}
}

// ---------------------------------------------------------------------------
// Calls and frames
// ---------------------------------------------------------------------------

func TestRunPositionalArguments(t *testing.T) {
	main := ir.NewFunction("main").
		Int("x", 10).
		Int("y", 3).
		Call("sub", "r", "x", "y").
		Println("r").
		Return("r")
	sub := ir.NewFunction("sub", "a", "b").
		Binary(ir.Sub, "a", "b", "d").
		Return("d")

	out, v, err := runModule(t, mustLoad(t, DefaultConfig(), main, sub))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "7\n" || v != int64(7) {
		t.Errorf("got output %q result %#v", out, v)
	}
}

func TestRunFallingOffTheEndReturnsNull(t *testing.T) {
	main := ir.NewFunction("main").
		Int("r", 1).
		Call("f", "r").
		Println("r")
	f := ir.NewFunction("f").
		Int("x", 3)

	out, v, err := runModule(t, mustLoad(t, DefaultConfig(), main, f))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "null\n" {
		t.Errorf("output = %q, want %q", out, "null\n")
	}
	if v != nil {
		t.Errorf("result = %#v, want nil", v)
	}
}

func TestRunRecursion(t *testing.T) {
	main := ir.NewFunction("main").
		Int("n", 10).
		Call("fact", "r", "n").
		Return("r")
	fact := ir.NewFunction("fact", "n").
		Int("one", 1).
		Binary(ir.Le, "n", "one", "base").
		JumpIfFalse("base", "recur").
		Return("one").
		Label("recur").
		Binary(ir.Sub, "n", "one", "m").
		Call("fact", "sub", "m").
		Binary(ir.Mul, "n", "sub", "r").
		Return("r")

	_, v, err := runModule(t, mustLoad(t, DefaultConfig(), main, fact))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v != int64(3628800) {
		t.Errorf("fact(10) = %#v", v)
	}
}

func TestRunEntrySelection(t *testing.T) {
	first := ir.NewFunction("first").Int("a", 1).Return("a")
	main := ir.NewFunction("main").Int("a", 2).Return("a")
	start := ir.NewFunction("start").Int("a", 3).Return("a")

	cfg := DefaultConfig()
	if _, v, _ := runModule(t, mustLoad(t, cfg, first, main, start)); v != int64(2) {
		t.Errorf("default entry result = %#v, want 2", v)
	}

	cfg.Entry = "start"
	if _, v, _ := runModule(t, mustLoad(t, cfg, first, main, start)); v != int64(3) {
		t.Errorf("configured entry result = %#v, want 3", v)
	}

	cfg.Entry = "missing"
	if _, v, _ := runModule(t, mustLoad(t, cfg, first, main, start)); v != int64(1) {
		t.Errorf("fallback entry result = %#v, want 1", v)
	}
}

// ---------------------------------------------------------------------------
// Arrays, objects and statics
// ---------------------------------------------------------------------------

func TestRunArrays(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		Int("n", 3).
		NewArray("n", "ints", "int").
		NewArray("n", "any", "").
		Int("i", 1).
		Int("v", 42).
		StoreElem("ints", "i", "v").
		Println("ints").
		Println("any").
		ArrayLength("ints", "len").
		Println("len").
		Int("neg", -1).
		TryBegin("h", "NegativeArraySizeException").
		NewArray("neg", "bad", "").
		TryEnd().
		ReturnVoid().
		Label("h").
		CatchBind("e").
		GetField("e", "message", "msg").
		Println("msg").
		ReturnVoid())

	out, _, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "[0, 42, 0]\n[null, null, null]\n3\narray size -1\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRunObjects(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		NewObject("Point", "p").
		Int("x", 1).
		SetField("p", "x", "x").
		GetField("p", "y", "y").
		Println("y").
		Println("p").
		Null("nil").
		TryBegin("h", NullPointerException).
		GetField("nil", "x", "bad").
		TryEnd().
		ReturnVoid().
		Label("h").
		CatchBind("e").
		GetField("e", "message", "msg").
		Println("msg").
		ReturnVoid())

	out, _, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "null\nPoint{x=1}\nfield x of null\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

// Each executor owns its statics unless one is shared explicitly.
func TestRunStaticsIsolation(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		GetStatic("Counter", "n", "v").
		Println("v").
		Int("one", 1).
		SetStatic("Counter", "n", "one").
		ReturnVoid())

	for i := 0; i < 2; i++ {
		out, _, err := runModule(t, m)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if out != "null\n" {
			t.Errorf("run %d: output = %q, want fresh statics", i, out)
		}
	}

	shared := NewStatics()
	runModule(t, m, WithStatics(shared))
	out, _, _ := runModule(t, m, WithStatics(shared))
	if out != "1\n" {
		t.Errorf("shared statics: output = %q, want %q", out, "1\n")
	}
	if keys := shared.Keys(); len(keys) != 1 || keys[0] != "Counter.n" {
		t.Errorf("statics keys = %v", keys)
	}
}

// ---------------------------------------------------------------------------
// Limits
// ---------------------------------------------------------------------------

func fatalKind(t *testing.T, err error) LimitKind {
	t.Helper()
	var fe *RuntimeFatalError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *RuntimeFatalError, got %v", err)
	}
	return fe.Limit
}

// Limit violations are fatal even inside a catch-all region.
func TestRunStepLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxSteps = 10
	m := mustLoad(t, cfg, ir.NewFunction("main").
		TryBegin("h", CatchAny).
		Label("loop").
		Jump("loop").
		Label("h").
		CatchBind("e").
		ReturnVoid())

	e := NewExecutor(m)
	_, err := e.Run(context.Background())
	if kind := fatalKind(t, err); kind != LimitSteps {
		t.Fatalf("limit = %s, want %s", kind, LimitSteps)
	}
	var fe *RuntimeFatalError
	errors.As(err, &fe)
	if fe.Max != 10 || e.Steps() != 11 {
		t.Errorf("max %d after %d steps", fe.Max, e.Steps())
	}
}

func TestRunCallDepthLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxCallDepth = 8
	main := ir.NewFunction("main").Call("f", "").ReturnVoid()
	f := ir.NewFunction("f").Call("f", "").ReturnVoid()

	_, _, err := runModule(t, mustLoad(t, cfg, main, f))
	if kind := fatalKind(t, err); kind != LimitCallDepth {
		t.Fatalf("limit = %s, want %s", kind, LimitCallDepth)
	}
}

func TestRunHandlerLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxHandlersPerFrame = 2
	m := mustLoad(t, cfg, ir.NewFunction("main").
		TryBegin("h1", CatchAny).
		TryBegin("h2", CatchAny).
		TryBegin("h3", CatchAny).
		TryEnd().
		TryEnd().
		TryEnd().
		Jump("end").
		Label("h3").
		CatchBind("e").
		TryEnd().
		TryEnd().
		Jump("end").
		Label("h2").
		CatchBind("e").
		TryEnd().
		Jump("end").
		Label("h1").
		CatchBind("e").
		Label("end").
		ReturnVoid())

	_, _, err := runModule(t, m)
	if kind := fatalKind(t, err); kind != LimitHandlers {
		t.Fatalf("limit = %s, want %s", kind, LimitHandlers)
	}
}

func TestRunArrayLengthLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxArrayLength = 4
	m := mustLoad(t, cfg, ir.NewFunction("main").
		TryBegin("h", CatchAny).
		Int("n", 5).
		NewArray("n", "arr", "").
		TryEnd().
		ReturnVoid().
		Label("h").
		CatchBind("e").
		ReturnVoid())

	_, _, err := runModule(t, m)
	if kind := fatalKind(t, err); kind != LimitArrayLength {
		t.Fatalf("limit = %s, want %s", kind, LimitArrayLength)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").ReturnVoid())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor(m).Run(ctx)
	if kind := fatalKind(t, err); kind != LimitCancelled {
		t.Fatalf("limit = %s, want %s", kind, LimitCancelled)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected errors.Is(err, context.Canceled), got %v", err)
	}
}

func TestRunCancelledMidRun(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		Label("loop").
		Jump("loop"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewExecutor(m, WithContextCheckInterval(64)).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Output and executor reuse
// ---------------------------------------------------------------------------

func TestRunFlushesOutputOnError(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		Str("s", "partial").
		Print("s").
		Println("s").
		Throw("s"))

	out, _, err := runModule(t, m)
	if err == nil {
		t.Fatal("expected uncaught exception")
	}
	if out != "partialpartial\n" {
		t.Errorf("output = %q", out)
	}
}

func TestExecutorReuse(t *testing.T) {
	m := mustLoad(t, DefaultConfig(), ir.NewFunction("main").
		Int("a", 1).
		Return("a"))
	var out bytes.Buffer
	e := NewExecutor(m, WithOutput(&out), WithRunID("fixed"))
	if e.RunID() != "fixed" {
		t.Errorf("RunID = %q", e.RunID())
	}
	for i := 0; i < 3; i++ {
		v, err := e.Run(context.Background())
		if err != nil || v != int64(1) {
			t.Fatalf("run %d: %#v, %v", i, v, err)
		}
		if e.Steps() != 2 {
			t.Errorf("run %d: steps = %d, want 2", i, e.Steps())
		}
	}
}

// ---------------------------------------------------------------------------
// Opcode coverage
// ---------------------------------------------------------------------------

// Every defined opcode is dispatched by the executor. The program below is
// checked to contain all of them except STORE_LOCAL, which the encoder never
// emits and is run from hand-written bytecode.
func TestRunEveryOpcode(t *testing.T) {
	main := ir.NewFunction("main").
		Int("a", 7).
		Int("b", 2).
		Int("zero", 0).
		Str("s", "x").
		Bool("t", true).
		Binary(ir.Add, "a", "b", "r").
		Binary(ir.Sub, "a", "b", "r").
		Binary(ir.Mul, "a", "b", "r").
		Binary(ir.Div, "a", "b", "r").
		Binary(ir.Mod, "a", "b", "r").
		Binary(ir.Eq, "a", "b", "r").
		Binary(ir.Neq, "a", "b", "r").
		Binary(ir.Lt, "a", "b", "r").
		Binary(ir.Le, "a", "b", "r").
		Binary(ir.Gt, "a", "b", "r").
		Binary(ir.Ge, "a", "b", "r").
		Unary(ir.Neg, "a", "r").
		Unary(ir.Not, "t", "r").
		Move("a", "m").
		JumpIfFalse("t", "skip").
		Label("skip").
		Jump("next").
		Label("next").
		Call("id", "r", "a").
		Print("s").
		Println("s").
		NewArray("b", "arr", "int").
		StoreElem("arr", "zero", "a").
		LoadElem("arr", "zero", "r").
		ArrayLength("arr", "r").
		GetStatic("C", "f", "r").
		SetStatic("C", "f", "a").
		NewObject("P", "o").
		SetField("o", "x", "a").
		GetField("o", "x", "r").
		TryBegin("h1", CatchAny).
		TryEnd().
		Jump("after").
		Label("h1").
		CatchBind("e").
		Label("after").
		TryBegin("h2", CatchAny).
		Throw("s").
		TryEnd().
		Return("m").
		Label("h2").
		CatchBind("e").
		Return("m")
	id := ir.NewFunction("id", "x").Return("x")

	m := mustLoad(t, DefaultConfig(), main, id)
	out, v, err := runModule(t, m)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "xx\n" || v != int64(7) {
		t.Errorf("got output %q result %#v", out, v)
	}

	seen := map[bytecode.Opcode]bool{}
	for _, fn := range m.Program().Functions {
		for _, in := range fn.Code {
			seen[in.Op] = true
		}
	}

	raw, err := LoadProgram(rawProgram(instrs(
		I(bytecode.OpConst, 0, cInt),
		I(bytecode.OpStoreLocal, 0, 1),
		I(bytecode.OpReturn, 1),
	)), DefaultConfig())
	if err != nil {
		t.Fatalf("load STORE_LOCAL program: %v", err)
	}
	if _, v, err := runModule(t, raw); err != nil || v != int64(1) {
		t.Fatalf("STORE_LOCAL program: %#v, %v", v, err)
	}
	seen[bytecode.OpStoreLocal] = true

	for _, op := range bytecode.AllOpcodes() {
		if !seen[op] {
			t.Errorf("opcode %s not exercised", op)
		}
	}
}
