// Package factory converts expressions into their portable node form.
package factory

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/kr/pretty"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

// Settings tune the node form a Factory produces.
type Settings struct {
	// UseRelaxedTypeNames writes package-qualified short names such as
	// "people.Person" instead of full import paths.
	UseRelaxedTypeNames bool
	// AllowPrivateFieldAccess permits reads of unexported fields.
	AllowPrivateFieldAccess bool
}

// UnsupportedShapeError reports an expression the node form cannot
// represent.
type UnsupportedShapeError struct {
	Expr   expr.Expression
	Reason string
}

func (e *UnsupportedShapeError) Error() string {
	msg := fmt.Sprintf("unsupported expression %T", e.Expr)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg + "\n" + pretty.Sprintf("%# v", shapeOf(e.Expr))
}

// shape is the part of an expression worth showing in a diagnostic.
type shape struct {
	Go   string
	Kind string
	Type string
	Text string
}

func shapeOf(e expr.Expression) shape {
	s := shape{Go: fmt.Sprintf("%T", e)}
	if e == nil {
		return s
	}
	s.Kind = e.Kind().String()
	if t := e.Type(); t != nil {
		s.Type = t.String()
	}
	s.Text = e.String()
	return s
}

// Factory converts expressions to nodes. It is safe for concurrent use.
type Factory struct {
	Registry *registry.Registry
	Settings Settings
	Logger   *slog.Logger
}

// New returns a Factory naming types through reg.
func New(reg *registry.Registry, settings Settings) *Factory {
	return &Factory{Registry: reg, Settings: settings, Logger: slog.Default()}
}

// converter carries the state of one conversion.
type converter struct {
	f      *Factory
	params map[*expr.ParameterExpr]*nodes.ParameterNode
	known  []reflect.Type
}

// Convert turns e into a node tree. Parameters bound by a lambda in e become
// shared ParameterNodes. Free parameters are accepted when their type is
// among knownParameterTypes, or when none are given.
func (f *Factory) Convert(e expr.Expression, knownParameterTypes ...reflect.Type) (nodes.Node, error) {
	c := &converter{
		f:      f,
		params: map[*expr.ParameterExpr]*nodes.ParameterNode{},
		known:  knownParameterTypes,
	}
	return c.convert(e)
}

func (c *converter) describe(t reflect.Type) (nodes.TypeDescriptor, error) {
	return c.f.Registry.Describe(t, c.f.Settings.UseRelaxedTypeNames)
}

func (c *converter) memberRef(owner reflect.Type, m *expr.Member) (nodes.MemberRef, error) {
	d, err := c.describe(owner)
	if err != nil {
		return nodes.MemberRef{}, err
	}
	return nodes.MemberRef{
		Owner:     d,
		Signature: c.f.Registry.Signature(m, c.f.Settings.UseRelaxedTypeNames),
	}, nil
}

func (c *converter) convertAll(es []expr.Expression) ([]nodes.Node, error) {
	out := make([]nodes.Node, len(es))
	for i, e := range es {
		n, err := c.convert(e)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (c *converter) convert(e expr.Expression) (nodes.Node, error) {
	switch e := e.(type) {
	case *expr.ConstantExpr:
		return c.constant(e, e.Type(), e.Value)

	case *expr.ParameterExpr:
		return c.parameter(e)

	case *expr.CaptureExpr:
		return c.materialize(e)

	case *expr.BinaryExpr:
		l, err := c.convert(e.Left)
		if err != nil {
			return nil, err
		}
		r, err := c.convert(e.Right)
		if err != nil {
			return nil, err
		}
		t, err := c.describe(e.Type())
		if err != nil {
			return nil, err
		}
		return &nodes.BinaryNode{Operator: e.Op.String(), Left: l, Right: r, Type: t}, nil

	case *expr.UnaryExpr:
		operand, err := c.convert(e.Operand)
		if err != nil {
			return nil, err
		}
		t, err := c.describe(e.Type())
		if err != nil {
			return nil, err
		}
		return &nodes.UnaryNode{Operator: e.Op.String(), Operand: operand, Type: t}, nil

	case *expr.ConditionalExpr:
		ns, err := c.convertAll([]expr.Expression{e.Test, e.IfTrue, e.IfFalse})
		if err != nil {
			return nil, err
		}
		return &nodes.ConditionalNode{Test: ns[0], IfTrue: ns[1], IfFalse: ns[2]}, nil

	case *expr.TypeIsExpr:
		operand, err := c.convert(e.Operand)
		if err != nil {
			return nil, err
		}
		t, err := c.describe(e.Test)
		if err != nil {
			return nil, err
		}
		return &nodes.TypeTestNode{Operand: operand, TestType: t}, nil

	case *expr.LambdaExpr:
		return c.lambda(e)

	case *expr.MemberExpr:
		if capturedOnly(e) {
			return c.materialize(e)
		}
		if !e.Member.Exported && !c.f.Settings.AllowPrivateFieldAccess {
			return nil, &UnsupportedShapeError{Expr: e, Reason: "private member access is not allowed"}
		}
		ref, err := c.memberRef(e.Member.Owner, e.Member)
		if err != nil {
			return nil, err
		}
		n := &nodes.MemberAccessNode{Member: ref}
		if e.Target != nil {
			if n.Target, err = c.convert(e.Target); err != nil {
				return nil, err
			}
		}
		return n, nil

	case *expr.CallExpr:
		return c.call(e)

	case *expr.NewExpr:
		return c.newObject(e)

	case *expr.NewArrayExpr:
		elems, err := c.convertAll(e.Elems)
		if err != nil {
			return nil, err
		}
		t, err := c.describe(e.Elem)
		if err != nil {
			return nil, err
		}
		return &nodes.NewArrayNode{ElementType: t, Elements: elems}, nil

	case *expr.MemberInitExpr:
		n, err := c.newObject(e.New)
		if err != nil {
			return nil, err
		}
		out := &nodes.MemberInitNode{NewObject: n}
		for _, b := range e.Bindings {
			v, err := c.convert(b.Value)
			if err != nil {
				return nil, err
			}
			out.Bindings = append(out.Bindings, nodes.MemberBinding{Member: b.Member.Name, Value: v})
		}
		return out, nil
	}
	return nil, &UnsupportedShapeError{Expr: e}
}

func (c *converter) parameter(p *expr.ParameterExpr) (*nodes.ParameterNode, error) {
	if n, ok := c.params[p]; ok {
		return n, nil
	}
	if len(c.known) > 0 && !slices.Contains(c.known, p.Type()) {
		return nil, &UnsupportedShapeError{Expr: p, Reason: "parameter is not bound by a lambda"}
	}
	return c.declare(p)
}

func (c *converter) declare(p *expr.ParameterExpr) (*nodes.ParameterNode, error) {
	t, err := c.describe(p.Type())
	if err != nil {
		return nil, err
	}
	n := &nodes.ParameterNode{Type: t, Name: p.Name}
	c.params[p] = n
	return n, nil
}

func (c *converter) lambda(l *expr.LambdaExpr) (nodes.Node, error) {
	params := make([]*nodes.ParameterNode, len(l.Params))
	for i, p := range l.Params {
		n, err := c.declare(p)
		if err != nil {
			return nil, err
		}
		params[i] = n
	}
	body, err := c.convert(l.Body)
	if err != nil {
		return nil, err
	}
	return &nodes.LambdaNode{Parameters: params, Body: body}, nil
}

func (c *converter) call(e *expr.CallExpr) (nodes.Node, error) {
	ref, err := c.memberRef(e.Method.Owner, e.Method)
	if err != nil {
		return nil, err
	}
	n := &nodes.MethodCallNode{Method: ref}
	for _, ta := range e.Method.TypeArgs {
		d, err := c.describe(ta)
		if err != nil {
			return nil, err
		}
		n.GenericArguments = append(n.GenericArguments, d)
	}
	if e.Target != nil {
		if n.Target, err = c.convert(e.Target); err != nil {
			return nil, err
		}
	}
	if n.Arguments, err = c.convertAll(e.Args); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *converter) newObject(e *expr.NewExpr) (*nodes.NewObjectNode, error) {
	if e.Constructor == nil {
		d, err := c.describe(e.Type())
		if err != nil {
			return nil, err
		}
		return &nodes.NewObjectNode{Constructor: nodes.MemberRef{Owner: d}}, nil
	}
	ref, err := c.memberRef(e.Constructor.Owner, e.Constructor)
	if err != nil {
		return nil, err
	}
	args, err := c.convertAll(e.Args)
	if err != nil {
		return nil, err
	}
	return &nodes.NewObjectNode{Constructor: ref, Arguments: args}, nil
}

// capturedOnly reports whether e reads members along a chain rooted at a
// capture or a constant, so its value is fixed at conversion time.
func capturedOnly(e expr.Expression) bool {
	switch e := e.(type) {
	case *expr.CaptureExpr, *expr.ConstantExpr:
		return true
	case *expr.MemberExpr:
		return e.Target != nil && capturedOnly(e.Target)
	}
	return false
}

// materialize evaluates e and writes the result as data. Slices become
// arrays of constants so collections used with containment tests travel by
// value.
func (c *converter) materialize(e expr.Expression) (nodes.Node, error) {
	v, err := expr.EvalValue(e)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", e, err)
	}
	t := e.Type()
	if t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8 {
		elemType, err := c.describe(t.Elem())
		if err != nil {
			return nil, err
		}
		out := &nodes.NewArrayNode{ElementType: elemType}
		for i := range v.Len() {
			el, err := c.constant(e, t.Elem(), v.Index(i))
			if err != nil {
				return nil, err
			}
			out.Elements = append(out.Elements, el)
		}
		c.f.Logger.Debug("materialized captured collection", "expr", e.String(), "len", v.Len())
		return out, nil
	}
	return c.constant(e, t, v)
}

func (c *converter) constant(e expr.Expression, t reflect.Type, v reflect.Value) (*nodes.ConstantNode, error) {
	d, err := c.describe(t)
	if err != nil {
		return nil, err
	}
	payload, err := Payload(v)
	if err != nil {
		return nil, &UnsupportedShapeError{Expr: e, Reason: err.Error()}
	}
	return &nodes.ConstantNode{Type: d, Value: payload}, nil
}

// maxExactInt is the largest integer a JSON number holds without loss.
const maxExactInt = 1 << 53

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
)

// Payload renders v as a text-friendly value: nil, bool, string, int64,
// uint64, float64, []any or map[string]any. Times are RFC 3339 strings,
// byte slices are base64, and integers a JSON number cannot hold exactly
// are decimal strings.
func Payload(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	switch v.Type() {
	case timeType:
		return v.Interface().(time.Time).Format(time.RFC3339Nano), nil
	case durationType:
		return time.Duration(v.Int()).String(), nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n > maxExactInt || n < -maxExactInt {
			return strconv.FormatInt(n, 10), nil
		}
		return n, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		if n > maxExactInt {
			return strconv.FormatUint(n, 10), nil
		}
		return n, nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
		return f, nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return Payload(v.Elem())
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes()), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			p, err := Payload(v.Index(i))
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = p
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := Payload(iter.Key())
			if err != nil {
				return nil, err
			}
			switch k.(type) {
			case map[string]any, []any, nil:
				return nil, fmt.Errorf("map key of type %s has no text form", iter.Key().Type())
			}
			p, err := Payload(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("value of %v: %w", k, err)
			}
			out[fmt.Sprint(k)] = p
		}
		return out, nil
	case reflect.Struct:
		out := map[string]any{}
		for _, sf := range reflect.VisibleFields(v.Type()) {
			if !sf.IsExported() || sf.Anonymous {
				continue
			}
			fv, err := v.FieldByIndexErr(sf.Index)
			if err != nil {
				continue
			}
			p, err := Payload(fv)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", sf.Name, err)
			}
			out[sf.Name] = p
		}
		return out, nil
	}
	return nil, fmt.Errorf("value of type %s has no text form", v.Type())
}
