// Package nodes is the portable, serializable form of an expression: a tree
// of plain data that names types and members by string and carries constant
// payloads as JSON-friendly values.
package nodes

import (
	"strings"
)

// Kind tags a node variant. It is the "$type" discriminator on the wire.
type Kind string

const (
	KindConstant     Kind = "Constant"
	KindParameter    Kind = "Parameter"
	KindBinary       Kind = "Binary"
	KindUnary        Kind = "Unary"
	KindConditional  Kind = "Conditional"
	KindMemberAccess Kind = "MemberAccess"
	KindMethodCall   Kind = "MethodCall"
	KindNewObject    Kind = "NewObject"
	KindNewArray     Kind = "NewArray"
	KindMemberInit   Kind = "MemberInit"
	KindTypeTest     Kind = "TypeTest"
	KindLambda       Kind = "Lambda"
)

// Node is one of the node variants defined in this package.
type Node interface {
	Kind() Kind
	// Children returns the direct child nodes in serialization order.
	Children() []Node
	node()
}

// TypeDescriptor names a type. Generic arguments close a generic
// definition, such as "[]" over "string".
type TypeDescriptor struct {
	Name             string           `json:"name"`
	GenericArguments []TypeDescriptor `json:"genericArguments,omitzero"`
}

// IsZero reports whether d names no type.
func (d TypeDescriptor) IsZero() bool {
	return d.Name == "" && len(d.GenericArguments) == 0
}

func (d TypeDescriptor) String() string {
	if len(d.GenericArguments) == 0 {
		return d.Name
	}
	args := make([]string, len(d.GenericArguments))
	for i, a := range d.GenericArguments {
		args[i] = a.String()
	}
	return d.Name + "[" + strings.Join(args, ",") + "]"
}

// MemberRef names a member by its owner and a signature string.
type MemberRef struct {
	Owner     TypeDescriptor `json:"owner"`
	Signature string         `json:"signature,omitzero"`
}

func (m MemberRef) String() string {
	return m.Owner.String() + "::" + m.Signature
}

// ConstantNode is a literal. Value holds the payload as a primitive, a
// []any of payloads, a map[string]any of payloads, or nil.
type ConstantNode struct {
	Type  TypeDescriptor
	Value any
}

// ParameterNode is a lambda parameter or a reference to one.
type ParameterNode struct {
	Type TypeDescriptor
	Name string
}

// BinaryNode applies a named binary operator.
type BinaryNode struct {
	Operator string
	Left     Node
	Right    Node
	Type     TypeDescriptor
}

// UnaryNode applies a named unary operator. Type is the result type, which
// matters for conversions.
type UnaryNode struct {
	Operator string
	Operand  Node
	Type     TypeDescriptor
}

type ConditionalNode struct {
	Test    Node
	IfTrue  Node
	IfFalse Node
}

// MemberAccessNode reads a field or property. Target is nil for static
// members.
type MemberAccessNode struct {
	Target Node
	Member MemberRef
}

// MethodCallNode calls a method, or a static function when Target is nil.
type MethodCallNode struct {
	Target           Node
	Method           MemberRef
	GenericArguments []TypeDescriptor
	Arguments        []Node
}

// NewObjectNode constructs a value of Constructor.Owner. An empty signature
// yields the zero value.
type NewObjectNode struct {
	Constructor MemberRef
	Arguments   []Node
}

type NewArrayNode struct {
	ElementType TypeDescriptor
	Elements    []Node
}

// MemberBinding assigns Value to the named field.
type MemberBinding struct {
	Member string
	Value  Node
}

type MemberInitNode struct {
	NewObject *NewObjectNode
	Bindings  []MemberBinding
}

type TypeTestNode struct {
	Operand  Node
	TestType TypeDescriptor
}

// LambdaNode abstracts Body over Parameters. References to a parameter in
// Body are separate ParameterNodes with the same name and type.
type LambdaNode struct {
	Parameters []*ParameterNode
	Body       Node
}

func (*ConstantNode) Kind() Kind     { return KindConstant }
func (*ParameterNode) Kind() Kind    { return KindParameter }
func (*BinaryNode) Kind() Kind       { return KindBinary }
func (*UnaryNode) Kind() Kind        { return KindUnary }
func (*ConditionalNode) Kind() Kind  { return KindConditional }
func (*MemberAccessNode) Kind() Kind { return KindMemberAccess }
func (*MethodCallNode) Kind() Kind   { return KindMethodCall }
func (*NewObjectNode) Kind() Kind    { return KindNewObject }
func (*NewArrayNode) Kind() Kind     { return KindNewArray }
func (*MemberInitNode) Kind() Kind   { return KindMemberInit }
func (*TypeTestNode) Kind() Kind     { return KindTypeTest }
func (*LambdaNode) Kind() Kind       { return KindLambda }

func (*ConstantNode) node()     {}
func (*ParameterNode) node()    {}
func (*BinaryNode) node()       {}
func (*UnaryNode) node()        {}
func (*ConditionalNode) node()  {}
func (*MemberAccessNode) node() {}
func (*MethodCallNode) node()   {}
func (*NewObjectNode) node()    {}
func (*NewArrayNode) node()     {}
func (*MemberInitNode) node()   {}
func (*TypeTestNode) node()     {}
func (*LambdaNode) node()       {}

func (*ConstantNode) Children() []Node  { return nil }
func (*ParameterNode) Children() []Node { return nil }

func (n *BinaryNode) Children() []Node { return []Node{n.Left, n.Right} }
func (n *UnaryNode) Children() []Node  { return []Node{n.Operand} }

func (n *ConditionalNode) Children() []Node {
	return []Node{n.Test, n.IfTrue, n.IfFalse}
}

func (n *MemberAccessNode) Children() []Node {
	if n.Target == nil {
		return nil
	}
	return []Node{n.Target}
}

func (n *MethodCallNode) Children() []Node {
	var out []Node
	if n.Target != nil {
		out = append(out, n.Target)
	}
	return append(out, n.Arguments...)
}

func (n *NewObjectNode) Children() []Node { return n.Arguments }
func (n *NewArrayNode) Children() []Node  { return n.Elements }

func (n *MemberInitNode) Children() []Node {
	out := []Node{n.NewObject}
	for _, b := range n.Bindings {
		out = append(out, b.Value)
	}
	return out
}

func (n *TypeTestNode) Children() []Node { return []Node{n.Operand} }

func (n *LambdaNode) Children() []Node {
	out := make([]Node, 0, len(n.Parameters)+1)
	for _, p := range n.Parameters {
		out = append(out, p)
	}
	return append(out, n.Body)
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the children of the visited node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// Count returns the number of nodes in the tree rooted at n.
func Count(n Node) int {
	total := 0
	Walk(n, func(Node) bool {
		total++
		return true
	})
	return total
}
