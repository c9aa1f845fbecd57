package ir

import (
	"fmt"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// FunctionBuilder assembles a Function one op at a time. Every method
// returns the builder so calls chain.
type FunctionBuilder struct {
	fn     *Function
	labels int
}

// NewFunction starts a function with the given parameter names.
func NewFunction(name string, params ...string) *FunctionBuilder {
	return &FunctionBuilder{fn: &Function{Name: name, Params: params}}
}

// Build returns the assembled function.
func (b *FunctionBuilder) Build() *Function {
	return b.fn
}

// NewLabel returns a label name unique within this builder.
func (b *FunctionBuilder) NewLabel(prefix string) string {
	b.labels++
	return fmt.Sprintf("%s.%d", prefix, b.labels)
}

// Op appends an arbitrary op.
func (b *FunctionBuilder) Op(op Op) *FunctionBuilder {
	b.fn.Ops = append(b.fn.Ops, op)
	return b
}

func (b *FunctionBuilder) Const(dst string, value bytecode.Constant) *FunctionBuilder {
	return b.Op(Const{Dst: dst, Value: value})
}

// Int loads an integer literal.
func (b *FunctionBuilder) Int(dst string, v int64) *FunctionBuilder {
	return b.Const(dst, bytecode.Int(v))
}

// Float loads a float literal.
func (b *FunctionBuilder) Float(dst string, v float64) *FunctionBuilder {
	return b.Const(dst, bytecode.Float(v))
}

// Str loads a string literal.
func (b *FunctionBuilder) Str(dst string, v string) *FunctionBuilder {
	return b.Const(dst, bytecode.String(v))
}

// Bool loads a boolean literal.
func (b *FunctionBuilder) Bool(dst string, v bool) *FunctionBuilder {
	return b.Const(dst, bytecode.Bool(v))
}

// Null loads the null literal.
func (b *FunctionBuilder) Null(dst string) *FunctionBuilder {
	return b.Const(dst, bytecode.Null())
}

func (b *FunctionBuilder) Move(src, dst string) *FunctionBuilder {
	return b.Op(Move{Src: src, Dst: dst})
}

func (b *FunctionBuilder) Binary(op BinaryOp, left, right, dst string) *FunctionBuilder {
	return b.Op(Binary{Op: op, Left: left, Right: right, Dst: dst})
}

func (b *FunctionBuilder) Unary(op UnaryOp, src, dst string) *FunctionBuilder {
	return b.Op(Unary{Op: op, Src: src, Dst: dst})
}

func (b *FunctionBuilder) Label(name string) *FunctionBuilder {
	return b.Op(Label{Name: name})
}

func (b *FunctionBuilder) Jump(label string) *FunctionBuilder {
	return b.Op(Jump{Label: label})
}

func (b *FunctionBuilder) JumpIfFalse(cond, label string) *FunctionBuilder {
	return b.Op(JumpIfFalse{Cond: cond, Label: label})
}

// Print writes src without a trailing newline.
func (b *FunctionBuilder) Print(src string) *FunctionBuilder {
	return b.Op(Print{Src: src})
}

// Println writes src followed by a newline.
func (b *FunctionBuilder) Println(src string) *FunctionBuilder {
	return b.Op(Print{Src: src, Newline: true})
}

func (b *FunctionBuilder) Return(src string) *FunctionBuilder {
	return b.Op(Return{Src: src})
}

// ReturnVoid returns without a value.
func (b *FunctionBuilder) ReturnVoid() *FunctionBuilder {
	return b.Op(Return{})
}

func (b *FunctionBuilder) NewArray(size, dst, elemType string) *FunctionBuilder {
	return b.Op(NewArray{Size: size, Dst: dst, ElemType: elemType})
}

func (b *FunctionBuilder) LoadElem(array, index, dst string) *FunctionBuilder {
	return b.Op(LoadElem{Array: array, Index: index, Dst: dst})
}

func (b *FunctionBuilder) StoreElem(array, index, src string) *FunctionBuilder {
	return b.Op(StoreElem{Array: array, Index: index, Src: src})
}

func (b *FunctionBuilder) ArrayLength(array, dst string) *FunctionBuilder {
	return b.Op(ArrayLength{Array: array, Dst: dst})
}

// Call invokes callee. Pass dst "" to discard the result.
func (b *FunctionBuilder) Call(callee, dst string, args ...string) *FunctionBuilder {
	return b.Op(Call{Callee: callee, Args: args, Dst: dst})
}

func (b *FunctionBuilder) GetStatic(class, field, dst string) *FunctionBuilder {
	return b.Op(GetStatic{Class: class, Field: field, Dst: dst})
}

func (b *FunctionBuilder) SetStatic(class, field, src string) *FunctionBuilder {
	return b.Op(SetStatic{Class: class, Field: field, Src: src})
}

func (b *FunctionBuilder) NewObject(class, dst string) *FunctionBuilder {
	return b.Op(NewObject{Class: class, Dst: dst})
}

func (b *FunctionBuilder) GetField(object, field, dst string) *FunctionBuilder {
	return b.Op(GetField{Object: object, Field: field, Dst: dst})
}

func (b *FunctionBuilder) SetField(object, field, src string) *FunctionBuilder {
	return b.Op(SetField{Object: object, Field: field, Src: src})
}

func (b *FunctionBuilder) TryBegin(catch, typ string) *FunctionBuilder {
	return b.Op(TryBegin{Catch: catch, Type: typ})
}

func (b *FunctionBuilder) TryEnd() *FunctionBuilder {
	return b.Op(TryEnd{})
}

func (b *FunctionBuilder) Throw(src string) *FunctionBuilder {
	return b.Op(Throw{Src: src})
}

func (b *FunctionBuilder) CatchBind(dst string) *FunctionBuilder {
	return b.Op(CatchBind{Dst: dst})
}
