package ir

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chazu/kestrel/pkg/bytecode"
)

// programFile is the YAML interchange layout:
//
//	functions:
//	  - name: main
//	    params: [a, b]
//	    ops:
//	      - {op: const, dst: x, value: 10}
//	      - {op: add, left: a, right: x, dst: y}
//	      - {op: return, src: y}
type programFile struct {
	Functions []functionFile `yaml:"functions"`
}

type functionFile struct {
	Name   string      `yaml:"name"`
	Params []string    `yaml:"params"`
	Ops    []yaml.Node `yaml:"ops"`
}

// LoadYAML reads and decodes a YAML program file.
func LoadYAML(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ir: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeYAML(f)
}

// DecodeYAML decodes a program from its YAML interchange form.
func DecodeYAML(r io.Reader) (*Program, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw programFile
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ir: empty program")
		}
		return nil, fmt.Errorf("ir: parse: %w", err)
	}

	p := &Program{Functions: make([]*Function, 0, len(raw.Functions))}
	for _, rf := range raw.Functions {
		if rf.Name == "" {
			return nil, fmt.Errorf("ir: function without a name")
		}
		fn := &Function{Name: rf.Name, Params: rf.Params, Ops: make([]Op, 0, len(rf.Ops))}
		for i := range rf.Ops {
			op, err := decodeOp(&rf.Ops[i])
			if err != nil {
				return nil, fmt.Errorf("ir: function %s: %w", rf.Name, err)
			}
			fn.Ops = append(fn.Ops, op)
		}
		p.Functions = append(p.Functions, fn)
	}
	return p, nil
}

// opNode gives keyed access to one op mapping and tracks which keys were
// read so unknown keys can be reported.
type opNode struct {
	line   int
	kind   string
	fields map[string]*yaml.Node
	used   map[string]bool
}

func newOpNode(n *yaml.Node) (*opNode, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: op must be a mapping", n.Line)
	}
	o := &opNode{
		line:   n.Line,
		fields: make(map[string]*yaml.Node, len(n.Content)/2),
		used:   make(map[string]bool, len(n.Content)/2),
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if _, dup := o.fields[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate key %q", n.Content[i].Line, key)
		}
		o.fields[key] = n.Content[i+1]
	}
	kind, err := o.str("op")
	if err != nil {
		return nil, err
	}
	o.kind = kind
	return o, nil
}

func (o *opNode) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s: %s", o.line, o.kind, fmt.Sprintf(format, args...))
}

func (o *opNode) lookup(key string) (*yaml.Node, bool) {
	n, ok := o.fields[key]
	if ok {
		o.used[key] = true
	}
	return n, ok
}

func (o *opNode) str(key string) (string, error) {
	n, ok := o.lookup(key)
	if !ok {
		return "", o.errorf("missing %q", key)
	}
	if n.Kind != yaml.ScalarNode || n.ShortTag() == "!!null" || n.Value == "" {
		return "", o.errorf("%q must be a non-empty string", key)
	}
	return n.Value, nil
}

func (o *opNode) optStr(key string) (string, error) {
	if _, ok := o.fields[key]; !ok {
		return "", nil
	}
	return o.str(key)
}

func (o *opNode) boolean(key string) (bool, error) {
	n, ok := o.lookup(key)
	if !ok {
		return false, nil
	}
	var b bool
	if n.ShortTag() != "!!bool" || n.Decode(&b) != nil {
		return false, o.errorf("%q must be a boolean", key)
	}
	return b, nil
}

func (o *opNode) strList(key string) ([]string, error) {
	n, ok := o.lookup(key)
	if !ok {
		return nil, nil
	}
	var list []string
	if n.Kind != yaml.SequenceNode || n.Decode(&list) != nil {
		return nil, o.errorf("%q must be a list of names", key)
	}
	return list, nil
}

// value decodes the literal under "value". A YAML null is the null constant;
// a missing key is an error.
func (o *opNode) value() (bytecode.Constant, error) {
	n, ok := o.lookup("value")
	if !ok {
		return bytecode.Constant{}, o.errorf(`missing "value" (use null for the null constant)`)
	}
	if n.Kind != yaml.ScalarNode {
		return bytecode.Constant{}, o.errorf(`"value" must be a scalar`)
	}
	switch n.ShortTag() {
	case "!!null":
		return bytecode.Null(), nil
	case "!!int":
		var v int64
		if err := n.Decode(&v); err != nil {
			return bytecode.Constant{}, o.errorf("integer %s out of range", n.Value)
		}
		return bytecode.Int(v), nil
	case "!!float":
		var v float64
		if err := n.Decode(&v); err != nil {
			return bytecode.Constant{}, o.errorf("bad float %s", n.Value)
		}
		return bytecode.Float(v), nil
	case "!!bool":
		var v bool
		if err := n.Decode(&v); err != nil {
			return bytecode.Constant{}, o.errorf("bad boolean %s", n.Value)
		}
		return bytecode.Bool(v), nil
	case "!!str":
		return bytecode.String(n.Value), nil
	default:
		return bytecode.Constant{}, o.errorf("unsupported literal tag %s", n.ShortTag())
	}
}

// strs reads several required string keys at once.
func (o *opNode) strs(keys ...string) ([]string, error) {
	out := make([]string, len(keys))
	for i, k := range keys {
		v, err := o.str(k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (o *opNode) checkUnused() error {
	for key := range o.fields {
		if !o.used[key] {
			return o.errorf("unknown key %q", key)
		}
	}
	return nil
}

func decodeOp(n *yaml.Node) (Op, error) {
	o, err := newOpNode(n)
	if err != nil {
		return nil, err
	}
	op, err := o.decode()
	if err != nil {
		return nil, err
	}
	if err := o.checkUnused(); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *opNode) decode() (Op, error) {
	if bop, ok := ParseBinaryOp(o.kind); ok {
		s, err := o.strs("left", "right", "dst")
		if err != nil {
			return nil, err
		}
		return Binary{Op: bop, Left: s[0], Right: s[1], Dst: s[2]}, nil
	}
	if uop, ok := ParseUnaryOp(o.kind); ok {
		s, err := o.strs("src", "dst")
		if err != nil {
			return nil, err
		}
		return Unary{Op: uop, Src: s[0], Dst: s[1]}, nil
	}

	switch o.kind {
	case "const":
		dst, err := o.str("dst")
		if err != nil {
			return nil, err
		}
		v, err := o.value()
		if err != nil {
			return nil, err
		}
		return Const{Dst: dst, Value: v}, nil
	case "move":
		s, err := o.strs("src", "dst")
		if err != nil {
			return nil, err
		}
		return Move{Src: s[0], Dst: s[1]}, nil
	case "label":
		name, err := o.str("name")
		return Label{Name: name}, err
	case "jump":
		label, err := o.str("label")
		return Jump{Label: label}, err
	case "jump_if_false":
		s, err := o.strs("cond", "label")
		if err != nil {
			return nil, err
		}
		return JumpIfFalse{Cond: s[0], Label: s[1]}, nil
	case "print":
		src, err := o.str("src")
		if err != nil {
			return nil, err
		}
		nl, err := o.boolean("newline")
		return Print{Src: src, Newline: nl}, err
	case "return":
		src, err := o.optStr("src")
		return Return{Src: src}, err
	case "new_array":
		s, err := o.strs("size", "dst")
		if err != nil {
			return nil, err
		}
		elem, err := o.optStr("elem")
		return NewArray{Size: s[0], Dst: s[1], ElemType: elem}, err
	case "load_elem":
		s, err := o.strs("array", "index", "dst")
		if err != nil {
			return nil, err
		}
		return LoadElem{Array: s[0], Index: s[1], Dst: s[2]}, nil
	case "store_elem":
		s, err := o.strs("array", "index", "src")
		if err != nil {
			return nil, err
		}
		return StoreElem{Array: s[0], Index: s[1], Src: s[2]}, nil
	case "array_length":
		s, err := o.strs("array", "dst")
		if err != nil {
			return nil, err
		}
		return ArrayLength{Array: s[0], Dst: s[1]}, nil
	case "call":
		callee, err := o.str("callee")
		if err != nil {
			return nil, err
		}
		args, err := o.strList("args")
		if err != nil {
			return nil, err
		}
		dst, err := o.optStr("dst")
		return Call{Callee: callee, Args: args, Dst: dst}, err
	case "get_static":
		s, err := o.strs("class", "field", "dst")
		if err != nil {
			return nil, err
		}
		return GetStatic{Class: s[0], Field: s[1], Dst: s[2]}, nil
	case "set_static":
		s, err := o.strs("class", "field", "src")
		if err != nil {
			return nil, err
		}
		return SetStatic{Class: s[0], Field: s[1], Src: s[2]}, nil
	case "new_object":
		s, err := o.strs("class", "dst")
		if err != nil {
			return nil, err
		}
		return NewObject{Class: s[0], Dst: s[1]}, nil
	case "get_field":
		s, err := o.strs("object", "field", "dst")
		if err != nil {
			return nil, err
		}
		return GetField{Object: s[0], Field: s[1], Dst: s[2]}, nil
	case "set_field":
		s, err := o.strs("object", "field", "src")
		if err != nil {
			return nil, err
		}
		return SetField{Object: s[0], Field: s[1], Src: s[2]}, nil
	case "try_begin":
		catch, err := o.str("catch")
		if err != nil {
			return nil, err
		}
		typ, err := o.optStr("type")
		if typ == "" {
			typ = "any"
		}
		return TryBegin{Catch: catch, Type: typ}, err
	case "try_end":
		return TryEnd{}, nil
	case "throw":
		src, err := o.str("src")
		return Throw{Src: src}, err
	case "catch_bind":
		dst, err := o.str("dst")
		return CatchBind{Dst: dst}, err
	default:
		return nil, o.errorf("unknown op")
	}
}
