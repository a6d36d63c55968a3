package expr

import (
	"fmt"
	"reflect"
)

// BinaryExpr applies Op to Left and Right.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expression
	Right Expression
	typ   reflect.Type
}

// MakeBinary builds a binary operation, checking operand types.
func MakeBinary(op BinaryOp, left, right Expression) (*BinaryExpr, error) {
	t, err := binaryType(op, left.Type(), right.Type())
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, Left: left, Right: right, typ: t}, nil
}

func (b *BinaryExpr) Kind() Kind         { return KindBinary }
func (b *BinaryExpr) Type() reflect.Type { return b.typ }

// UnaryExpr applies Op to Operand.
type UnaryExpr struct {
	Op      UnaryOp
	Operand Expression
	typ     reflect.Type
}

// MakeUnary builds a unary operation. target is the destination type of a
// Convert and is ignored by other operators.
func MakeUnary(op UnaryOp, operand Expression, target reflect.Type) (*UnaryExpr, error) {
	if op == Quote {
		if _, ok := operand.(*LambdaExpr); !ok {
			return nil, &TypeError{Op: op.String(), Msg: "only lambdas can be quoted"}
		}
	}
	t, err := unaryType(op, operand.Type(), target)
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Op: op, Operand: operand, typ: t}, nil
}

func (u *UnaryExpr) Kind() Kind         { return KindUnary }
func (u *UnaryExpr) Type() reflect.Type { return u.typ }

// MemberExpr reads a field or property of Target. Target is nil for a
// parameterless static function read as a property.
type MemberExpr struct {
	Target Expression
	Member *Member
}

// Field reads the field or property name of target.
func Field(target Expression, name string) (*MemberExpr, error) {
	if m, ok := FieldOf(target.Type(), name); ok {
		return &MemberExpr{Target: target, Member: m}, nil
	}
	if m, ok := MethodOf(target.Type(), name); ok && m.Kind == PropertyMember {
		return &MemberExpr{Target: target, Member: m}, nil
	}
	return nil, &TypeError{Op: "Field", Msg: fmt.Sprintf("%s has no field or property %s", target.Type(), name)}
}

// Property reads the parameterless method name of target.
func Property(target Expression, name string) (*MemberExpr, error) {
	m, ok := MethodOf(target.Type(), name)
	if !ok || m.Kind != PropertyMember {
		return nil, &TypeError{Op: "Property", Msg: fmt.Sprintf("%s has no property %s", target.Type(), name)}
	}
	return &MemberExpr{Target: target, Member: m}, nil
}

// MemberAccess reads m from target.
func MemberAccess(target Expression, m *Member) (*MemberExpr, error) {
	switch m.Kind {
	case FieldMember, PropertyMember:
		if target == nil {
			return nil, &TypeError{Op: "MemberAccess", Msg: fmt.Sprintf("%s needs a target", m)}
		}
		if Deref(target.Type()) != m.Owner && !target.Type().Implements(ifaceOf(m.Owner)) {
			return nil, &TypeError{Op: "MemberAccess", Msg: fmt.Sprintf("%s is not a member of %s", m, target.Type())}
		}
	case FunctionMember:
		if target != nil || len(m.Params) != 0 {
			return nil, &TypeError{Op: "MemberAccess", Msg: fmt.Sprintf("%s cannot be read as a property", m)}
		}
	default:
		return nil, &TypeError{Op: "MemberAccess", Msg: fmt.Sprintf("%s %s cannot be read", m.Kind, m)}
	}
	return &MemberExpr{Target: target, Member: m}, nil
}

// ifaceOf returns t when it is an interface, or the empty method set
// otherwise so Implements never matches spuriously.
func ifaceOf(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Interface {
		return t
	}
	return reflect.TypeFor[interface{ noSuchMethod() }]()
}

func (m *MemberExpr) Kind() Kind         { return KindMember }
func (m *MemberExpr) Type() reflect.Type { return m.Member.Result }

// CallExpr invokes Method on Target, or a static function when Target is nil.
type CallExpr struct {
	Target Expression
	Method *Member
	Args   []Expression
}

// Call invokes the exported method name on target.
func Call(target Expression, name string, args ...Expression) (*CallExpr, error) {
	m, ok := MethodOf(target.Type(), name)
	if !ok {
		return nil, &TypeError{Op: "Call", Msg: fmt.Sprintf("%s has no method %s", target.Type(), name)}
	}
	m.Kind = MethodMember
	return MakeCall(target, m, args...)
}

// MakeCall invokes m with args. target must be nil for static functions.
func MakeCall(target Expression, m *Member, args ...Expression) (*CallExpr, error) {
	switch m.Kind {
	case MethodMember, PropertyMember:
		if target == nil {
			return nil, &TypeError{Op: "Call", Msg: fmt.Sprintf("method %s needs a target", m)}
		}
	case FunctionMember:
		if target != nil {
			return nil, &TypeError{Op: "Call", Msg: fmt.Sprintf("function %s takes no target", m)}
		}
	default:
		return nil, &TypeError{Op: "Call", Msg: fmt.Sprintf("%s %s is not callable", m.Kind, m)}
	}
	if err := checkArgs("Call", m, args); err != nil {
		return nil, err
	}
	if m.Kind == PropertyMember {
		cp := *m
		cp.Kind = MethodMember
		m = &cp
	}
	return &CallExpr{Target: target, Method: m, Args: args}, nil
}

// StaticCall invokes the function member fn with args.
func StaticCall(fn *Member, args ...Expression) (*CallExpr, error) {
	return MakeCall(nil, fn, args...)
}

func checkArgs(op string, m *Member, args []Expression) error {
	if len(args) != len(m.Params) {
		return &TypeError{Op: op, Msg: fmt.Sprintf("%s takes %d arguments, got %d", m, len(m.Params), len(args))}
	}
	for i, a := range args {
		if !ArgCompatible(a.Type(), m.Params[i]) {
			return &TypeError{Op: op, Msg: fmt.Sprintf("argument %d of %s: %s is not a %s", i, m, a.Type(), m.Params[i])}
		}
	}
	return nil
}

// ArgCompatible reports whether a value of type arg can be passed for a
// parameter of type param: arg is assignable to param, or both are funcs with
// the same signature. Convertible but unassignable types are not compatible.
func ArgCompatible(arg, param reflect.Type) bool {
	if arg.AssignableTo(param) {
		return true
	}
	if arg.Kind() == reflect.Func && param.Kind() == reflect.Func {
		return sameSignature(arg, param)
	}
	return false
}

func sameSignature(a, b reflect.Type) bool {
	if a.NumIn() != b.NumIn() || a.NumOut() != b.NumOut() {
		return false
	}
	for i := range a.NumIn() {
		if a.In(i) != b.In(i) {
			return false
		}
	}
	for i := range a.NumOut() {
		if !a.Out(i).AssignableTo(b.Out(i)) {
			return false
		}
	}
	return true
}

func (c *CallExpr) Kind() Kind         { return KindCall }
func (c *CallExpr) Type() reflect.Type { return c.Method.Result }

// NewExpr constructs a value of type Type, through Constructor when set.
type NewExpr struct {
	Constructor *Member
	Args        []Expression
	typ         reflect.Type
}

// New yields a fresh zero value of t. Pointer types get a newly allocated
// pointee and map types an empty map.
func New(t reflect.Type) *NewExpr {
	return &NewExpr{typ: t}
}

// MakeNew constructs a value through ctor.
func MakeNew(ctor *Member, args ...Expression) (*NewExpr, error) {
	if ctor.Kind != ConstructorMember {
		return nil, &TypeError{Op: "New", Msg: fmt.Sprintf("%s is not a constructor", ctor)}
	}
	if err := checkArgs("New", ctor, args); err != nil {
		return nil, err
	}
	return &NewExpr{Constructor: ctor, Args: args, typ: ctor.Result}, nil
}

func (n *NewExpr) Kind() Kind         { return KindNew }
func (n *NewExpr) Type() reflect.Type { return n.typ }

// NewArrayExpr builds a slice from Elems.
type NewArrayExpr struct {
	Elem  reflect.Type
	Elems []Expression
}

// NewArray builds a []elem literal.
func NewArray(elem reflect.Type, elems ...Expression) (*NewArrayExpr, error) {
	for i, e := range elems {
		if !e.Type().AssignableTo(elem) {
			return nil, &TypeError{Op: "NewArray", Msg: fmt.Sprintf("element %d: %s is not a %s", i, e.Type(), elem)}
		}
	}
	return &NewArrayExpr{Elem: elem, Elems: elems}, nil
}

func (n *NewArrayExpr) Kind() Kind         { return KindNewArray }
func (n *NewArrayExpr) Type() reflect.Type { return reflect.SliceOf(n.Elem) }

// Binding assigns Value to a field in a MemberInitExpr.
type Binding struct {
	// Name is used to resolve Member when Member is nil.
	Name   string
	Member *Member
	Value  Expression
}

// Set binds the field name to value.
func Set(name string, value Expression) Binding {
	return Binding{Name: name, Value: value}
}

// MemberInitExpr constructs a struct and then assigns its fields.
type MemberInitExpr struct {
	New      *NewExpr
	Bindings []Binding
}

// MemberInit builds a struct literal. The constructed type must be a struct
// or a pointer to one, and every binding must name an exported field.
func MemberInit(n *NewExpr, bindings ...Binding) (*MemberInitExpr, error) {
	st := Deref(n.Type())
	if st.Kind() != reflect.Struct {
		return nil, &TypeError{Op: "MemberInit", Msg: fmt.Sprintf("%s is not a struct", n.Type())}
	}
	out := make([]Binding, len(bindings))
	for i, b := range bindings {
		m := b.Member
		if m == nil {
			var ok bool
			m, ok = FieldOf(st, b.Name)
			if !ok {
				return nil, &TypeError{Op: "MemberInit", Msg: fmt.Sprintf("%s has no field %s", st, b.Name)}
			}
		}
		if m.Kind != FieldMember || !m.Exported {
			return nil, &TypeError{Op: "MemberInit", Msg: fmt.Sprintf("%s is not an assignable field", m)}
		}
		if !b.Value.Type().AssignableTo(m.Result) {
			return nil, &TypeError{Op: "MemberInit", Msg: fmt.Sprintf("%s: %s is not a %s", m.Name, b.Value.Type(), m.Result)}
		}
		out[i] = Binding{Name: m.Name, Member: m, Value: b.Value}
	}
	return &MemberInitExpr{New: n, Bindings: out}, nil
}

func (m *MemberInitExpr) Kind() Kind         { return KindMemberInit }
func (m *MemberInitExpr) Type() reflect.Type { return m.New.Type() }
