package nodes

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// DecodeError reports text that does not describe a node tree.
type DecodeError struct {
	Path string
	Msg  string
	Err  error
}

func (e *DecodeError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Path == "" {
		return "decode node: " + msg
	}
	return fmt.Sprintf("decode node at %s: %s", e.Path, msg)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// wire is the flat on-the-wire shape shared by every node variant. Fields a
// variant does not use are left zero and omitted.
type wire struct {
	Kind             Kind             `json:"$type"`
	Type             *TypeDescriptor  `json:"type,omitzero"`
	Name             string           `json:"name,omitzero"`
	Value            any              `json:"value,omitzero"`
	Operator         string           `json:"operator,omitzero"`
	Left             *wire            `json:"left,omitzero"`
	Right            *wire            `json:"right,omitzero"`
	Operand          *wire            `json:"operand,omitzero"`
	Test             *wire            `json:"test,omitzero"`
	IfTrue           *wire            `json:"ifTrue,omitzero"`
	IfFalse          *wire            `json:"ifFalse,omitzero"`
	Target           *wire            `json:"target,omitzero"`
	Member           *MemberRef       `json:"member,omitzero"`
	GenericArguments []TypeDescriptor `json:"genericArguments,omitzero"`
	Arguments        []*wire          `json:"arguments,omitzero"`
	Elements         []*wire          `json:"elements,omitzero"`
	NewObject        *wire            `json:"newObject,omitzero"`
	Bindings         []wireBinding    `json:"bindings,omitzero"`
	Parameters       []*wire          `json:"parameters,omitzero"`
	Body             *wire            `json:"body,omitzero"`
}

type wireBinding struct {
	Member string `json:"member"`
	Value  *wire  `json:"value"`
}

// Marshal encodes a node tree as compact JSON.
func Marshal(n Node) ([]byte, error) {
	w, err := toWire(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w, json.Deterministic(true))
}

// MarshalIndent encodes a node tree as indented JSON.
func MarshalIndent(n Node, indent string) ([]byte, error) {
	w, err := toWire(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w, json.Deterministic(true), jsontext.WithIndent(indent))
}

// Unmarshal decodes a node tree. Every node must carry a known "$type".
func Unmarshal(data []byte) (Node, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Msg: "malformed text", Err: err}
	}
	return fromWire(&w, "$")
}

func typePtr(d TypeDescriptor) *TypeDescriptor {
	if d.IsZero() {
		return nil
	}
	return &d
}

func typeOf(d *TypeDescriptor) TypeDescriptor {
	if d == nil {
		return TypeDescriptor{}
	}
	return *d
}

func toWireAll(ns []Node) ([]*wire, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	out := make([]*wire, len(ns))
	for i, n := range ns {
		w, err := toWire(n)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func toWire(n Node) (*wire, error) {
	if n == nil {
		return nil, nil
	}
	if v := reflect.ValueOf(n); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, fmt.Errorf("encode node: nil %T", n)
	}
	w := &wire{Kind: n.Kind()}
	var err error
	switch n := n.(type) {
	case *ConstantNode:
		w.Type = typePtr(n.Type)
		w.Value = n.Value
	case *ParameterNode:
		w.Type = typePtr(n.Type)
		w.Name = n.Name
	case *BinaryNode:
		w.Operator = n.Operator
		w.Type = typePtr(n.Type)
		if w.Left, err = toWire(n.Left); err != nil {
			return nil, err
		}
		if w.Right, err = toWire(n.Right); err != nil {
			return nil, err
		}
	case *UnaryNode:
		w.Operator = n.Operator
		w.Type = typePtr(n.Type)
		if w.Operand, err = toWire(n.Operand); err != nil {
			return nil, err
		}
	case *ConditionalNode:
		if w.Test, err = toWire(n.Test); err != nil {
			return nil, err
		}
		if w.IfTrue, err = toWire(n.IfTrue); err != nil {
			return nil, err
		}
		if w.IfFalse, err = toWire(n.IfFalse); err != nil {
			return nil, err
		}
	case *MemberAccessNode:
		m := n.Member
		w.Member = &m
		if w.Target, err = toWire(n.Target); err != nil {
			return nil, err
		}
	case *MethodCallNode:
		m := n.Method
		w.Member = &m
		w.GenericArguments = n.GenericArguments
		if w.Target, err = toWire(n.Target); err != nil {
			return nil, err
		}
		if w.Arguments, err = toWireAll(n.Arguments); err != nil {
			return nil, err
		}
	case *NewObjectNode:
		m := n.Constructor
		w.Member = &m
		if w.Arguments, err = toWireAll(n.Arguments); err != nil {
			return nil, err
		}
	case *NewArrayNode:
		w.Type = typePtr(n.ElementType)
		if w.Elements, err = toWireAll(n.Elements); err != nil {
			return nil, err
		}
	case *MemberInitNode:
		if n.NewObject == nil {
			return nil, fmt.Errorf("encode node: member init without constructor")
		}
		if w.NewObject, err = toWire(n.NewObject); err != nil {
			return nil, err
		}
		for _, b := range n.Bindings {
			v, err := toWire(b.Value)
			if err != nil {
				return nil, err
			}
			w.Bindings = append(w.Bindings, wireBinding{Member: b.Member, Value: v})
		}
	case *TypeTestNode:
		w.Type = typePtr(n.TestType)
		if w.Operand, err = toWire(n.Operand); err != nil {
			return nil, err
		}
	case *LambdaNode:
		for i, p := range n.Parameters {
			if p == nil {
				return nil, fmt.Errorf("encode node: lambda parameter %d is nil", i)
			}
			pw, err := toWire(p)
			if err != nil {
				return nil, err
			}
			w.Parameters = append(w.Parameters, pw)
		}
		if w.Body, err = toWire(n.Body); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("encode node: unknown node %T", n)
	}
	return w, nil
}

func required(w *wire, path, field string) (Node, error) {
	if w == nil {
		return nil, &DecodeError{Path: path, Msg: "missing " + field}
	}
	return fromWire(w, path+"."+field)
}

func optional(w *wire, path, field string) (Node, error) {
	if w == nil {
		return nil, nil
	}
	return fromWire(w, path+"."+field)
}

func fromWireAll(ws []*wire, path, field string) ([]Node, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]Node, len(ws))
	for i, w := range ws {
		n, err := required(w, path, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func member(w *wire, path string) (MemberRef, error) {
	if w.Member == nil {
		return MemberRef{}, &DecodeError{Path: path, Msg: "missing member"}
	}
	return *w.Member, nil
}

func fromWire(w *wire, path string) (Node, error) {
	var err error
	switch w.Kind {
	case KindConstant:
		return &ConstantNode{Type: typeOf(w.Type), Value: w.Value}, nil

	case KindParameter:
		return &ParameterNode{Type: typeOf(w.Type), Name: w.Name}, nil

	case KindBinary:
		n := &BinaryNode{Operator: w.Operator, Type: typeOf(w.Type)}
		if n.Left, err = required(w.Left, path, "left"); err != nil {
			return nil, err
		}
		if n.Right, err = required(w.Right, path, "right"); err != nil {
			return nil, err
		}
		return n, nil

	case KindUnary:
		n := &UnaryNode{Operator: w.Operator, Type: typeOf(w.Type)}
		if n.Operand, err = required(w.Operand, path, "operand"); err != nil {
			return nil, err
		}
		return n, nil

	case KindConditional:
		n := &ConditionalNode{}
		if n.Test, err = required(w.Test, path, "test"); err != nil {
			return nil, err
		}
		if n.IfTrue, err = required(w.IfTrue, path, "ifTrue"); err != nil {
			return nil, err
		}
		if n.IfFalse, err = required(w.IfFalse, path, "ifFalse"); err != nil {
			return nil, err
		}
		return n, nil

	case KindMemberAccess:
		n := &MemberAccessNode{}
		if n.Member, err = member(w, path); err != nil {
			return nil, err
		}
		if n.Target, err = optional(w.Target, path, "target"); err != nil {
			return nil, err
		}
		return n, nil

	case KindMethodCall:
		n := &MethodCallNode{GenericArguments: w.GenericArguments}
		if n.Method, err = member(w, path); err != nil {
			return nil, err
		}
		if n.Target, err = optional(w.Target, path, "target"); err != nil {
			return nil, err
		}
		if n.Arguments, err = fromWireAll(w.Arguments, path, "arguments"); err != nil {
			return nil, err
		}
		return n, nil

	case KindNewObject:
		return newObject(w, path)

	case KindNewArray:
		n := &NewArrayNode{ElementType: typeOf(w.Type)}
		if n.Elements, err = fromWireAll(w.Elements, path, "elements"); err != nil {
			return nil, err
		}
		return n, nil

	case KindMemberInit:
		if w.NewObject == nil {
			return nil, &DecodeError{Path: path, Msg: "missing newObject"}
		}
		if w.NewObject.Kind != KindNewObject {
			return nil, &DecodeError{Path: path + ".newObject", Msg: fmt.Sprintf("expected %s, got %q", KindNewObject, w.NewObject.Kind)}
		}
		no, err := newObject(w.NewObject, path+".newObject")
		if err != nil {
			return nil, err
		}
		n := &MemberInitNode{NewObject: no}
		for i, b := range w.Bindings {
			v, err := required(b.Value, path, fmt.Sprintf("bindings[%d].value", i))
			if err != nil {
				return nil, err
			}
			n.Bindings = append(n.Bindings, MemberBinding{Member: b.Member, Value: v})
		}
		return n, nil

	case KindTypeTest:
		n := &TypeTestNode{TestType: typeOf(w.Type)}
		if n.Operand, err = required(w.Operand, path, "operand"); err != nil {
			return nil, err
		}
		return n, nil

	case KindLambda:
		n := &LambdaNode{}
		for i, pw := range w.Parameters {
			ppath := fmt.Sprintf("%s.parameters[%d]", path, i)
			if pw == nil || pw.Kind != KindParameter {
				return nil, &DecodeError{Path: ppath, Msg: "expected a parameter"}
			}
			n.Parameters = append(n.Parameters, &ParameterNode{Type: typeOf(pw.Type), Name: pw.Name})
		}
		if n.Body, err = required(w.Body, path, "body"); err != nil {
			return nil, err
		}
		return n, nil

	case "":
		return nil, &DecodeError{Path: path, Msg: "missing $type"}
	}
	return nil, &DecodeError{Path: path, Msg: fmt.Sprintf("unknown node type %q", w.Kind)}
}

func newObject(w *wire, path string) (*NewObjectNode, error) {
	n := &NewObjectNode{}
	var err error
	if n.Constructor, err = member(w, path); err != nil {
		return nil, err
	}
	if n.Arguments, err = fromWireAll(w.Arguments, path, "arguments"); err != nil {
		return nil, err
	}
	return n, nil
}

// Tree embeds a node tree in a larger JSON document, such as an RPC payload
// or an HTTP body. A null document is a Tree with no Node.
type Tree struct {
	Node Node
}

func (t Tree) MarshalJSON() ([]byte, error) {
	if t.Node == nil {
		return []byte("null"), nil
	}
	return Marshal(t.Node)
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		t.Node = nil
		return nil
	}
	n, err := Unmarshal(data)
	if err != nil {
		return err
	}
	t.Node = n
	return nil
}
