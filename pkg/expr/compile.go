package expr

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

// frame binds the parameters of one lambda invocation.
type frame struct {
	params []*ParameterExpr
	args   []reflect.Value
	parent *frame
}

func (f *frame) lookup(p *ParameterExpr) (reflect.Value, bool) {
	for ; f != nil; f = f.parent {
		for i, q := range f.params {
			if q == p {
				return f.args[i], true
			}
		}
	}
	return reflect.Value{}, false
}

type thunk func(f *frame) (reflect.Value, error)

type compiler struct {
	scopes [][]*ParameterExpr
}

func (c *compiler) bound(p *ParameterExpr) bool {
	for _, s := range c.scopes {
		for _, q := range s {
			if q == p {
				return true
			}
		}
	}
	return false
}

// Compiled is an executable lambda.
type Compiled struct {
	lambda *LambdaExpr
	body   thunk
}

// Compile turns l into an executable closure tree. Every parameter the body
// references must be bound by l or by a lambda nested in it.
func Compile(l *LambdaExpr) (*Compiled, error) {
	c := &compiler{scopes: [][]*ParameterExpr{l.Params}}
	body, err := c.compile(l.Body)
	if err != nil {
		return nil, err
	}
	return &Compiled{lambda: l, body: body}, nil
}

// Lambda returns the compiled expression.
func (c *Compiled) Lambda() *LambdaExpr {
	return c.lambda
}

// Invoke runs the lambda with args, adapting each to its parameter type.
func (c *Compiled) Invoke(args ...any) (any, error) {
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Value{}
		} else {
			in[i] = reflect.ValueOf(a)
		}
	}
	v, err := c.InvokeValues(in...)
	if err != nil {
		return nil, err
	}
	return valueInterface(v), nil
}

// InvokeValues is Invoke for reflect.Values.
func (c *Compiled) InvokeValues(args ...reflect.Value) (reflect.Value, error) {
	params := c.lambda.Params
	if len(args) != len(params) {
		return reflect.Value{}, &EvalError{Expr: c.lambda, Err: fmt.Errorf("expected %d arguments, got %d", len(params), len(args))}
	}
	bound := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := params[i].Type()
		if a.IsValid() && !a.Type().AssignableTo(pt) && !a.Type().ConvertibleTo(pt) {
			return reflect.Value{}, &EvalError{Expr: c.lambda, Err: fmt.Errorf("argument %d: %s is not a %s", i, a.Type(), pt)}
		}
		bound[i] = assign(a, pt)
	}
	return protect(c.lambda, func() (reflect.Value, error) {
		return c.body(&frame{params: params, args: bound})
	})
}

// Func compiles l into a Go function of type fnType, which must have the
// lambda's parameter types and a compatible result. Evaluation errors panic
// with an *EvalError.
func Func(l *LambdaExpr, fnType reflect.Type) (reflect.Value, error) {
	if fnType.Kind() != reflect.Func || !sameSignature(l.Type(), fnType) {
		return reflect.Value{}, &TypeError{Op: "Func", Msg: fmt.Sprintf("%s does not fit %s", l.Type(), fnType)}
	}
	cl, err := Compile(l)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
		v, err := cl.InvokeValues(in...)
		if err != nil {
			panic(err)
		}
		return []reflect.Value{assign(v, fnType.Out(0))}
	}), nil
}

// CompilePredicate compiles a single-parameter boolean lambda into a Go
// predicate over T.
func CompilePredicate[T any](l *LambdaExpr) (func(T) (bool, error), error) {
	if err := checkUnary[T](l); err != nil {
		return nil, err
	}
	if l.Body.Type().Kind() != reflect.Bool {
		return nil, &TypeError{Op: "Predicate", Msg: fmt.Sprintf("body is %s, not boolean", l.Body.Type())}
	}
	cl, err := Compile(l)
	if err != nil {
		return nil, err
	}
	return func(x T) (bool, error) {
		v, err := cl.InvokeValues(reflect.ValueOf(&x).Elem())
		if err != nil {
			return false, err
		}
		return v.Bool(), nil
	}, nil
}

// CompileSelector compiles a single-parameter lambda into a Go projection
// from T to R.
func CompileSelector[T, R any](l *LambdaExpr) (func(T) (R, error), error) {
	if err := checkUnary[T](l); err != nil {
		return nil, err
	}
	rt := reflect.TypeFor[R]()
	if !l.Body.Type().AssignableTo(rt) {
		return nil, &TypeError{Op: "Selector", Msg: fmt.Sprintf("body is %s, not %s", l.Body.Type(), rt)}
	}
	cl, err := Compile(l)
	if err != nil {
		return nil, err
	}
	return func(x T) (R, error) {
		var zero R
		v, err := cl.InvokeValues(reflect.ValueOf(&x).Elem())
		if err != nil {
			return zero, err
		}
		out := reflect.New(rt).Elem()
		out.Set(assign(v, rt))
		return out.Interface().(R), nil
	}, nil
}

func checkUnary[T any](l *LambdaExpr) error {
	t := reflect.TypeFor[T]()
	if len(l.Params) != 1 {
		return &TypeError{Op: "Compile", Msg: fmt.Sprintf("expected one parameter, got %d", len(l.Params))}
	}
	if !t.AssignableTo(l.Params[0].Type()) {
		return &TypeError{Op: "Compile", Msg: fmt.Sprintf("parameter is %s, not %s", l.Params[0].Type(), t)}
	}
	return nil
}

// Eval evaluates an expression that references no parameters.
func Eval(e Expression) (any, error) {
	v, err := EvalValue(e)
	if err != nil {
		return nil, err
	}
	return valueInterface(v), nil
}

// EvalValue is Eval returning a reflect.Value.
func EvalValue(e Expression) (reflect.Value, error) {
	c := &compiler{}
	t, err := c.compile(e)
	if err != nil {
		return reflect.Value{}, err
	}
	return protect(e, func() (reflect.Value, error) {
		return t(nil)
	})
}

func (c *compiler) compileAll(es []Expression) ([]thunk, error) {
	out := make([]thunk, len(es))
	for i, e := range es {
		t, err := c.compile(e)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func evalAll(ts []thunk, f *frame) ([]reflect.Value, error) {
	out := make([]reflect.Value, len(ts))
	for i, t := range ts {
		v, err := t(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *compiler) compile(e Expression) (thunk, error) {
	switch e := e.(type) {
	case *ConstantExpr:
		v := e.Value
		return func(*frame) (reflect.Value, error) { return v, nil }, nil

	case *ParameterExpr:
		if !c.bound(e) {
			return nil, &TypeError{Op: "Compile", Msg: fmt.Sprintf("parameter %s is not in scope", e.Name)}
		}
		return func(f *frame) (reflect.Value, error) {
			v, ok := f.lookup(e)
			if !ok {
				return reflect.Value{}, &EvalError{Expr: e, Err: errors.New("unbound parameter")}
			}
			return v, nil
		}, nil

	case *CaptureExpr:
		ptr := e.Ptr
		return func(*frame) (reflect.Value, error) { return ptr.Elem(), nil }, nil

	case *BinaryExpr:
		return c.compileBinary(e)

	case *UnaryExpr:
		return c.compileUnary(e)

	case *ConditionalExpr:
		test, err := c.compile(e.Test)
		if err != nil {
			return nil, err
		}
		yes, err := c.compile(e.IfTrue)
		if err != nil {
			return nil, err
		}
		no, err := c.compile(e.IfFalse)
		if err != nil {
			return nil, err
		}
		return func(f *frame) (reflect.Value, error) {
			t, err := test(f)
			if err != nil {
				return reflect.Value{}, err
			}
			if t.Bool() {
				return yes(f)
			}
			return no(f)
		}, nil

	case *MemberExpr:
		m := e.Member
		if e.Target == nil {
			return func(*frame) (reflect.Value, error) {
				v, err := m.call(reflect.Value{}, nil)
				if err != nil {
					return reflect.Value{}, &EvalError{Expr: e, Err: err}
				}
				return v, nil
			}, nil
		}
		target, err := c.compile(e.Target)
		if err != nil {
			return nil, err
		}
		return func(f *frame) (reflect.Value, error) {
			tv, err := target(f)
			if err != nil {
				return reflect.Value{}, err
			}
			v, err := m.read(tv)
			if err != nil {
				return reflect.Value{}, &EvalError{Expr: e, Err: err}
			}
			return v, nil
		}, nil

	case *CallExpr:
		return c.compileCall(e)

	case *NewExpr:
		args, err := c.compileAll(e.Args)
		if err != nil {
			return nil, err
		}
		ctor, t := e.Constructor, e.Type()
		return func(f *frame) (reflect.Value, error) {
			if ctor == nil {
				return zeroNew(t), nil
			}
			in, err := evalAll(args, f)
			if err != nil {
				return reflect.Value{}, err
			}
			v, err := ctor.call(reflect.Value{}, in)
			if err != nil {
				return reflect.Value{}, &EvalError{Expr: e, Err: err}
			}
			return v, nil
		}, nil

	case *NewArrayExpr:
		elems, err := c.compileAll(e.Elems)
		if err != nil {
			return nil, err
		}
		st := e.Type()
		return func(f *frame) (reflect.Value, error) {
			s := reflect.MakeSlice(st, len(elems), len(elems))
			for i, el := range elems {
				v, err := el(f)
				if err != nil {
					return reflect.Value{}, err
				}
				s.Index(i).Set(assign(v, st.Elem()))
			}
			return s, nil
		}, nil

	case *MemberInitExpr:
		return c.compileMemberInit(e)

	case *TypeIsExpr:
		operand, err := c.compile(e.Operand)
		if err != nil {
			return nil, err
		}
		test := e.Test
		return func(f *frame) (reflect.Value, error) {
			v, err := operand(f)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(isType(v, test)), nil
		}, nil

	case *LambdaExpr:
		return c.compileLambda(e, e.Type())

	default:
		return nil, &TypeError{Op: "Compile", Msg: fmt.Sprintf("unsupported expression %T", e)}
	}
}

func (c *compiler) compileLambda(l *LambdaExpr, fnType reflect.Type) (thunk, error) {
	c.scopes = append(c.scopes, l.Params)
	body, err := c.compile(l.Body)
	c.scopes = c.scopes[:len(c.scopes)-1]
	if err != nil {
		return nil, err
	}
	params := l.Params
	out := fnType.Out(0)
	return func(f *frame) (reflect.Value, error) {
		return reflect.MakeFunc(fnType, func(in []reflect.Value) []reflect.Value {
			v, err := body(&frame{params: params, args: in, parent: f})
			if err != nil {
				panic(evalPanic{err})
			}
			return []reflect.Value{assign(v, out)}
		}), nil
	}, nil
}

func (c *compiler) compileCall(e *CallExpr) (thunk, error) {
	m := e.Method
	args := make([]thunk, len(e.Args))
	for i, a := range e.Args {
		var (
			t   thunk
			err error
		)
		if l, ok := a.(*LambdaExpr); ok && m.Params[i].Kind() == reflect.Func {
			t, err = c.compileLambda(l, m.Params[i])
		} else {
			t, err = c.compile(a)
		}
		if err != nil {
			return nil, err
		}
		args[i] = t
	}
	var target thunk
	if e.Target != nil {
		var err error
		if target, err = c.compile(e.Target); err != nil {
			return nil, err
		}
	}
	return func(f *frame) (reflect.Value, error) {
		var recv reflect.Value
		if target != nil {
			v, err := target(f)
			if err != nil {
				return reflect.Value{}, err
			}
			recv = v
		}
		in, err := evalAll(args, f)
		if err != nil {
			return reflect.Value{}, err
		}
		v, err := protect(e, func() (reflect.Value, error) {
			return m.call(recv, in)
		})
		if err != nil {
			var ee *EvalError
			if errors.As(err, &ee) {
				return reflect.Value{}, err
			}
			return reflect.Value{}, &EvalError{Expr: e, Err: err}
		}
		return v, nil
	}, nil
}

func (c *compiler) compileMemberInit(e *MemberInitExpr) (thunk, error) {
	newT, err := c.compile(e.New)
	if err != nil {
		return nil, err
	}
	values := make([]thunk, len(e.Bindings))
	for i, b := range e.Bindings {
		if values[i], err = c.compile(b.Value); err != nil {
			return nil, err
		}
	}
	bindings := e.Bindings
	return func(f *frame) (reflect.Value, error) {
		nv, err := newT(f)
		if err != nil {
			return reflect.Value{}, err
		}
		var s, result reflect.Value
		if nv.Kind() == reflect.Pointer {
			if nv.IsNil() {
				return reflect.Value{}, &EvalError{Expr: e, Err: ErrNilDereference}
			}
			s, result = nv.Elem(), nv
		} else {
			s = reflect.New(nv.Type()).Elem()
			s.Set(nv)
			result = s
		}
		for i, b := range bindings {
			v, err := values[i](f)
			if err != nil {
				return reflect.Value{}, err
			}
			fv, err := s.FieldByIndexErr(b.Member.Index)
			if err != nil {
				return reflect.Value{}, &EvalError{Expr: e, Err: err}
			}
			fv.Set(assign(v, fv.Type()))
		}
		return result, nil
	}, nil
}

func zeroNew(t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.Pointer:
		return reflect.New(t.Elem())
	case reflect.Map:
		return reflect.MakeMap(t)
	}
	return reflect.Zero(t)
}

func isType(v reflect.Value, t reflect.Type) bool {
	if !v.IsValid() {
		return false
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return false
	}
	if t.Kind() == reflect.Interface {
		return v.Type().Implements(t)
	}
	return v.Type() == t
}

func (c *compiler) compileUnary(e *UnaryExpr) (thunk, error) {
	if e.Op == Quote {
		l := e.Operand.(*LambdaExpr)
		return c.compileLambda(l, l.Type())
	}
	operand, err := c.compile(e.Operand)
	if err != nil {
		return nil, err
	}
	op, t := e.Op, e.Type()
	return func(f *frame) (reflect.Value, error) {
		v, err := operand(f)
		if err != nil {
			return reflect.Value{}, err
		}
		out, err := unary(op, v, t)
		if err != nil {
			return reflect.Value{}, &EvalError{Expr: e, Err: err}
		}
		return out, nil
	}, nil
}

func unary(op UnaryOp, v reflect.Value, t reflect.Type) (reflect.Value, error) {
	switch op {
	case UnaryPlus:
		return v, nil
	case Negate:
		out := reflect.New(t).Elem()
		switch {
		case isSigned(t):
			out.SetInt(-v.Int())
		case isUnsigned(t):
			out.SetUint(-v.Uint())
		default:
			out.SetFloat(-v.Float())
		}
		return out, nil
	case Not:
		out := reflect.New(t).Elem()
		switch {
		case t.Kind() == reflect.Bool:
			out.SetBool(!v.Bool())
		case isSigned(t):
			out.SetInt(^v.Int())
		default:
			out.SetUint(^v.Uint())
		}
		return out, nil
	case ArrayLength:
		return reflect.ValueOf(v.Len()), nil
	case Convert:
		return convertValue(v, t)
	}
	return reflect.Value{}, fmt.Errorf("unknown operator %s", op)
}

func convertValue(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	switch {
	case v.Type() == t:
		return v, nil
	case t.Kind() == reflect.Interface:
		out := reflect.New(t).Elem()
		if v.Kind() == reflect.Interface && v.IsNil() {
			return out, nil
		}
		if !v.Type().AssignableTo(t) {
			return reflect.Value{}, fmt.Errorf("%s does not implement %s", v.Type(), t)
		}
		out.Set(v)
		return out, nil
	case v.Kind() == reflect.Interface:
		if v.IsNil() {
			switch t.Kind() {
			case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
				return reflect.Zero(t), nil
			}
			return reflect.Value{}, ErrNilDereference
		}
		return convertValue(v.Elem(), t)
	case t.Kind() == reflect.Pointer && t.Elem() == v.Type():
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p, nil
	case v.Kind() == reflect.Pointer && v.Type().Elem() == t:
		if v.IsNil() {
			return reflect.Value{}, ErrNilDereference
		}
		return v.Elem(), nil
	case v.Type().ConvertibleTo(t):
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", v.Type(), t)
}

func (c *compiler) compileBinary(e *BinaryExpr) (thunk, error) {
	left, err := c.compile(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.compile(e.Right)
	if err != nil {
		return nil, err
	}
	op, t := e.Op, e.Type()
	switch op {
	case AndAlso, OrElse:
		return func(f *frame) (reflect.Value, error) {
			l, err := left(f)
			if err != nil {
				return reflect.Value{}, err
			}
			if l.Bool() == (op == OrElse) {
				return l, nil
			}
			return right(f)
		}, nil
	case Coalesce:
		return func(f *frame) (reflect.Value, error) {
			l, err := left(f)
			if err != nil {
				return reflect.Value{}, err
			}
			if l.IsNil() {
				return right(f)
			}
			if l.Kind() == reflect.Pointer && l.Type().Elem() == t {
				return l.Elem(), nil
			}
			return l, nil
		}, nil
	}
	return func(f *frame) (reflect.Value, error) {
		l, err := left(f)
		if err != nil {
			return reflect.Value{}, err
		}
		r, err := right(f)
		if err != nil {
			return reflect.Value{}, err
		}
		out, err := binary(op, l, r, t)
		if err != nil {
			return reflect.Value{}, &EvalError{Expr: e, Err: err}
		}
		return out, nil
	}, nil
}

// ErrDivideByZero is returned for integer division or modulo by zero.
var ErrDivideByZero = errors.New("division by zero")

func binary(op BinaryOp, l, r reflect.Value, t reflect.Type) (reflect.Value, error) {
	if op.isComparison() {
		ok, err := compare(op, l, r)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(ok).Convert(t), nil
	}
	if op == ArrayIndex {
		i := toInt(r)
		if i < 0 || i >= l.Len() {
			return reflect.Value{}, fmt.Errorf("index %d out of range [0:%d]", i, l.Len())
		}
		return l.Index(i), nil
	}
	out := reflect.New(t).Elem()
	switch {
	case t.Kind() == reflect.String:
		out.SetString(l.String() + r.String())
	case t.Kind() == reflect.Bool:
		a, b := l.Bool(), r.Bool()
		switch op {
		case And:
			out.SetBool(a && b)
		case Or:
			out.SetBool(a || b)
		case ExclusiveOr:
			out.SetBool(a != b)
		}
	case isSigned(t):
		a, b := l.Int(), r.Int()
		switch op {
		case Add:
			out.SetInt(a + b)
		case Subtract:
			out.SetInt(a - b)
		case Multiply:
			out.SetInt(a * b)
		case Divide, Modulo:
			if b == 0 {
				return reflect.Value{}, ErrDivideByZero
			}
			if op == Divide {
				out.SetInt(a / b)
			} else {
				out.SetInt(a % b)
			}
		case And:
			out.SetInt(a & b)
		case Or:
			out.SetInt(a | b)
		case ExclusiveOr:
			out.SetInt(a ^ b)
		case LeftShift:
			out.SetInt(a << uint(toInt(r)))
		case RightShift:
			out.SetInt(a >> uint(toInt(r)))
		}
	case isUnsigned(t):
		a := l.Uint()
		var b uint64
		if isUnsigned(r.Type()) {
			b = r.Uint()
		} else {
			b = uint64(r.Int())
		}
		switch op {
		case Add:
			out.SetUint(a + b)
		case Subtract:
			out.SetUint(a - b)
		case Multiply:
			out.SetUint(a * b)
		case Divide, Modulo:
			if b == 0 {
				return reflect.Value{}, ErrDivideByZero
			}
			if op == Divide {
				out.SetUint(a / b)
			} else {
				out.SetUint(a % b)
			}
		case And:
			out.SetUint(a & b)
		case Or:
			out.SetUint(a | b)
		case ExclusiveOr:
			out.SetUint(a ^ b)
		case LeftShift:
			out.SetUint(a << b)
		case RightShift:
			out.SetUint(a >> b)
		}
	case isFloat(t):
		a, b := l.Float(), r.Float()
		switch op {
		case Add:
			out.SetFloat(a + b)
		case Subtract:
			out.SetFloat(a - b)
		case Multiply:
			out.SetFloat(a * b)
		case Divide:
			out.SetFloat(a / b)
		case Modulo:
			out.SetFloat(math.Mod(a, b))
		}
	default:
		return reflect.Value{}, fmt.Errorf("%s is not defined on %s", op, t)
	}
	return out, nil
}

func toInt(v reflect.Value) int {
	if isUnsigned(v.Type()) {
		return int(v.Uint())
	}
	return int(v.Int())
}

// compare evaluates a comparison. Comparisons through nil pointers follow
// nullable semantics: nil equals only nil and is never ordered.
func compare(op BinaryOp, l, r reflect.Value) (bool, error) {
	l, lnil := unwrapNullable(l)
	r, rnil := unwrapNullable(r)
	if lnil || rnil {
		switch op {
		case Equal:
			return lnil && rnil, nil
		case NotEqual:
			return lnil != rnil, nil
		}
		return false, nil
	}
	if op == Equal || op == NotEqual {
		eq, err := equal(l, r)
		if err != nil {
			return false, err
		}
		return eq == (op == Equal), nil
	}
	n, err := order(l, r)
	if err != nil {
		return false, err
	}
	switch op {
	case LessThan:
		return n < 0, nil
	case LessThanOrEqual:
		return n <= 0, nil
	case GreaterThan:
		return n > 0, nil
	default:
		return n >= 0, nil
	}
}

func unwrapNullable(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return v, true
		}
		if v.Kind() == reflect.Pointer && v.Type().Elem().Kind() == reflect.Struct && v.Type().Elem() != timeType {
			// Pointers to structs compare by identity.
			return v, false
		}
		v = v.Elem()
	}
	return v, false
}

func equal(l, r reflect.Value) (bool, error) {
	if l.Type() != r.Type() {
		return false, nil
	}
	if l.Type() == timeType {
		return l.Interface().(time.Time).Equal(r.Interface().(time.Time)), nil
	}
	if !l.Type().Comparable() {
		return false, fmt.Errorf("values of type %s are not comparable", l.Type())
	}
	return l.Equal(r), nil
}

func order(l, r reflect.Value) (int, error) {
	switch {
	case l.Type() == timeType && r.Type() == timeType:
		return l.Interface().(time.Time).Compare(r.Interface().(time.Time)), nil
	case isSigned(l.Type()) && isSigned(r.Type()):
		return cmp3(l.Int(), r.Int()), nil
	case isUnsigned(l.Type()) && isUnsigned(r.Type()):
		return cmp3(l.Uint(), r.Uint()), nil
	case isFloat(l.Type()) && isFloat(r.Type()):
		return cmp3(l.Float(), r.Float()), nil
	case l.Kind() == reflect.String && r.Kind() == reflect.String:
		return cmp3(l.String(), r.String()), nil
	}
	return 0, fmt.Errorf("cannot order %s and %s", l.Type(), r.Type())
}

func cmp3[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
