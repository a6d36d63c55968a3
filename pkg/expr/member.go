package expr

import (
	"fmt"
	"reflect"
	"strings"
)

// MemberKind classifies a Member.
type MemberKind int

const (
	FieldMember MemberKind = iota
	// PropertyMember is an exported method with no parameters and a single
	// result, read like a field.
	PropertyMember
	MethodMember
	// FunctionMember is a registered static function. It has no receiver.
	FunctionMember
	ConstructorMember
)

func (k MemberKind) String() string {
	switch k {
	case FieldMember:
		return "field"
	case PropertyMember:
		return "property"
	case MethodMember:
		return "method"
	case FunctionMember:
		return "function"
	case ConstructorMember:
		return "constructor"
	}
	return fmt.Sprintf("MemberKind(%d)", int(k))
}

// Member is a field, property, method, static function or constructor that
// expressions can reference.
type Member struct {
	// Owner is the declaring type. For functions and constructors it is the
	// type the member is registered under.
	Owner reflect.Type
	Name  string
	Kind  MemberKind
	// Params lists parameter types, excluding any receiver.
	Params []reflect.Type
	// Result is the field type, or the first result of a callable.
	Result   reflect.Type
	Exported bool
	// Errors reports a trailing error result.
	Errors bool

	// Index is the field index path for FieldMember.
	Index []int
	// Fn is the callable for FunctionMember and ConstructorMember.
	Fn reflect.Value
	// TypeArgs is set on instantiations of generic functions.
	TypeArgs []reflect.Type
}

func (m *Member) String() string {
	var sb strings.Builder
	if m.Owner != nil {
		sb.WriteString(m.Owner.String())
		sb.WriteString(".")
	}
	sb.WriteString(m.Name)
	if m.Kind == FieldMember || m.Kind == PropertyMember {
		return sb.String()
	}
	if len(m.TypeArgs) > 0 {
		sb.WriteString("[")
		for i, t := range m.TypeArgs {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(t.String())
		}
		sb.WriteString("]")
	}
	sb.WriteString("(")
	for i, t := range m.Params {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(t.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// IsCallable reports whether the member takes arguments in a call.
func (m *Member) IsCallable() bool {
	return m.Kind == MethodMember || m.Kind == FunctionMember || m.Kind == ConstructorMember
}

// IsStatic reports whether the member is used without a receiver.
func (m *Member) IsStatic() bool {
	return m.Kind == FunctionMember || m.Kind == ConstructorMember
}

// Deref strips pointer indirections from t.
func Deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// FieldOf looks up a struct field by name on owner, following embedded
// structs. Unexported fields are returned with Exported unset.
func FieldOf(owner reflect.Type, name string) (*Member, bool) {
	st := Deref(owner)
	if st.Kind() != reflect.Struct {
		return nil, false
	}
	sf, ok := st.FieldByName(name)
	if !ok {
		return nil, false
	}
	return fieldMember(st, sf), true
}

// Fields lists the fields visible on owner, including promoted ones.
func Fields(owner reflect.Type) []*Member {
	st := Deref(owner)
	if st.Kind() != reflect.Struct {
		return nil
	}
	var out []*Member
	for _, sf := range reflect.VisibleFields(st) {
		if sf.Anonymous {
			continue
		}
		out = append(out, fieldMember(st, sf))
	}
	return out
}

func fieldMember(owner reflect.Type, sf reflect.StructField) *Member {
	return &Member{
		Owner:    owner,
		Name:     sf.Name,
		Kind:     FieldMember,
		Result:   sf.Type,
		Exported: sf.IsExported(),
		Index:    sf.Index,
	}
}

// methodSet returns the type whose method set includes every method callable
// on a value of t.
func methodSet(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Interface || t.Kind() == reflect.Pointer {
		return t
	}
	return reflect.PointerTo(t)
}

// MethodOf looks up an exported method by name on owner.
func MethodOf(owner reflect.Type, name string) (*Member, bool) {
	ms := methodSet(owner)
	m, ok := ms.MethodByName(name)
	if !ok {
		return nil, false
	}
	return methodMember(owner, ms, m)
}

// Methods lists the exported methods of owner that return a value.
// Methods without parameters are reported as properties.
func Methods(owner reflect.Type) []*Member {
	ms := methodSet(owner)
	var out []*Member
	for i := range ms.NumMethod() {
		if m, ok := methodMember(owner, ms, ms.Method(i)); ok {
			out = append(out, m)
		}
	}
	return out
}

func methodMember(owner, ms reflect.Type, m reflect.Method) (*Member, bool) {
	ft := m.Type
	skip := 1
	if ms.Kind() == reflect.Interface {
		skip = 0
	}
	if ft.IsVariadic() {
		return nil, false
	}
	res, errs, ok := results(ft)
	if !ok {
		return nil, false
	}
	params := make([]reflect.Type, 0, ft.NumIn()-skip)
	for i := skip; i < ft.NumIn(); i++ {
		params = append(params, ft.In(i))
	}
	kind := MethodMember
	if len(params) == 0 && !errs {
		kind = PropertyMember
	}
	return &Member{
		Owner:    Deref(owner),
		Name:     m.Name,
		Kind:     kind,
		Params:   params,
		Result:   res,
		Exported: true,
		Errors:   errs,
	}, true
}

// results splits a func type's results into a value and an optional
// trailing error.
func results(ft reflect.Type) (reflect.Type, bool, bool) {
	switch ft.NumOut() {
	case 1:
		if ft.Out(0) == errType {
			return nil, false, false
		}
		return ft.Out(0), false, true
	case 2:
		if ft.Out(1) != errType {
			return nil, false, false
		}
		return ft.Out(0), true, true
	}
	return nil, false, false
}

// FuncMember wraps fn as a static function named name under owner. fn must
// return one value, optionally followed by an error.
func FuncMember(owner reflect.Type, name string, fn any) (*Member, error) {
	return funcMember(owner, name, FunctionMember, reflect.ValueOf(fn))
}

// FuncValueMember is FuncMember for a function already held as a
// reflect.Value, such as one built with reflect.MakeFunc.
func FuncValueMember(owner reflect.Type, name string, fn reflect.Value) (*Member, error) {
	return funcMember(owner, name, FunctionMember, fn)
}

// ConstructorOf wraps fn as a constructor for the type it returns.
func ConstructorOf(fn any) (*Member, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, &TypeError{Op: "Constructor", Msg: fmt.Sprintf("expected a func, got %T", fn)}
	}
	res, _, ok := results(fv.Type())
	if !ok {
		return nil, &TypeError{Op: "Constructor", Msg: fmt.Sprintf("%s must return a value", fv.Type())}
	}
	return funcMember(Deref(res), ".ctor", ConstructorMember, fv)
}

func funcMember(owner reflect.Type, name string, kind MemberKind, fv reflect.Value) (*Member, error) {
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, &TypeError{Op: name, Msg: "expected a non-nil func"}
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return nil, &TypeError{Op: name, Msg: "variadic functions are not supported"}
	}
	res, errs, ok := results(ft)
	if !ok {
		return nil, &TypeError{Op: name, Msg: fmt.Sprintf("%s must return a value and optionally an error", ft)}
	}
	params := make([]reflect.Type, ft.NumIn())
	for i := range params {
		params[i] = ft.In(i)
	}
	return &Member{
		Owner:    owner,
		Name:     name,
		Kind:     kind,
		Params:   params,
		Result:   res,
		Exported: true,
		Errors:   errs,
		Fn:       fv,
	}, nil
}

// WithTypeArgs returns a copy of m recording the type arguments of a generic
// instantiation.
func (m *Member) WithTypeArgs(args ...reflect.Type) *Member {
	cp := *m
	cp.TypeArgs = args
	return &cp
}

// read fetches a field or property from target.
func (m *Member) read(target reflect.Value) (reflect.Value, error) {
	switch m.Kind {
	case FieldMember:
		v, err := indirect(target)
		if err != nil {
			return reflect.Value{}, err
		}
		f, err := v.FieldByIndexErr(m.Index)
		if err != nil {
			return reflect.Value{}, ErrNilDereference
		}
		return detach(f), nil
	default:
		return m.call(target, nil)
	}
}

// call invokes a callable member. recv is ignored for static members.
func (m *Member) call(recv reflect.Value, args []reflect.Value) (reflect.Value, error) {
	var fn reflect.Value
	if m.IsStatic() {
		fn = m.Fn
	} else {
		r, err := receiver(recv)
		if err != nil {
			return reflect.Value{}, err
		}
		fn = r.MethodByName(m.Name)
		if !fn.IsValid() {
			return reflect.Value{}, fmt.Errorf("%s has no method %s", r.Type(), m.Name)
		}
	}
	ft := fn.Type()
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = assign(a, ft.In(i))
	}
	out := fn.Call(in)
	if m.Errors && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}

// receiver makes v usable for a method call: interfaces are unwrapped and
// values are copied behind a pointer so pointer-receiver methods resolve.
func receiver(v reflect.Value) (reflect.Value, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, ErrNilDereference
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, ErrNilDereference
		}
		return v, nil
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p, nil
}

func indirect(v reflect.Value) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, ErrNilDereference
		}
		v = v.Elem()
	}
	return v, nil
}

// detach copies a value read from an unexported field so it can be used
// freely. Values of composite kinds stay read-only.
func detach(v reflect.Value) reflect.Value {
	if v.CanInterface() {
		return v
	}
	out := reflect.New(v.Type()).Elem()
	switch v.Kind() {
	case reflect.Bool:
		out.SetBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out.SetInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		out.SetUint(v.Uint())
	case reflect.Float32, reflect.Float64:
		out.SetFloat(v.Float())
	case reflect.Complex64, reflect.Complex128:
		out.SetComplex(v.Complex())
	case reflect.String:
		out.SetString(v.String())
	default:
		return v
	}
	return out
}

// assign adapts v to type t for a call or a store.
func assign(v reflect.Value, t reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(t)
	}
	if v.Type() == t {
		return v
	}
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out
	}
	if v.Kind() == reflect.Interface && !v.IsNil() && v.Elem().Type().AssignableTo(t) {
		return assign(v.Elem(), t)
	}
	if v.Type().ConvertibleTo(t) {
		return v.Convert(t)
	}
	return v
}

func valueInterface(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	v = detach(v)
	if !v.CanInterface() {
		return nil
	}
	return v.Interface()
}
