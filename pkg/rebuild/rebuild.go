// Package rebuild turns node trees back into executable expressions.
package rebuild

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/gottscj/Serialize.Linq/pkg/convert"
	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

// Context governs one reconstruction: where names resolve, how constants
// are repaired, whether unexported fields may be read, and which parameter
// each (type, name) pair denotes. A Context must not be shared between
// concurrent reconstructions; Fork gives each its own parameter table over
// the same caches.
type Context struct {
	Registry *registry.Registry
	Cache    *registry.Cache
	Coercer  *convert.Coercer
	Logger   *slog.Logger

	AllowPrivateFieldAccess bool

	params map[string]*expr.ParameterExpr
}

// NewContext returns a Context resolving through reg with a fresh cache and
// a coercer that knows the registry's enums and constructors.
func NewContext(reg *registry.Registry) *Context {
	co := convert.New()
	co.Enums = reg
	co.Constructors = reg
	return &Context{
		Registry: reg,
		Cache:    registry.NewCache(reg),
		Coercer:  co,
		Logger:   slog.Default(),
	}
}

// Fork returns a Context sharing c's registry, cache, coercer and policy
// with an empty parameter table.
func (c *Context) Fork() *Context {
	return &Context{
		Registry:                c.Registry,
		Cache:                   c.Cache,
		Coercer:                 c.Coercer,
		Logger:                  c.Logger,
		AllowPrivateFieldAccess: c.AllowPrivateFieldAccess,
	}
}

// Parameter returns the parameter of type t named name, creating it on first
// use.
func (c *Context) Parameter(d nodes.TypeDescriptor, t reflect.Type, name string) *expr.ParameterExpr {
	if c.params == nil {
		c.params = map[string]*expr.ParameterExpr{}
	}
	key := d.String() + "\n" + name
	if p, ok := c.params[key]; ok {
		return p
	}
	p := expr.Parameter(t, name)
	c.params[key] = p
	return p
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Error reports a node that resolved but could not form a valid expression.
type Error struct {
	Kind nodes.Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rebuild %s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Rebuild reconstructs the expression n denotes. Children are rebuilt before
// their parent so calls resolve against the argument types. Resolution and
// coercion failures are returned as they are.
func Rebuild(n nodes.Node, ctx *Context) (expr.Expression, error) {
	if n == nil {
		return nil, &Error{Err: fmt.Errorf("missing node")}
	}
	e, err := ctx.rebuild(n)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RebuildLambda is Rebuild for a tree whose root must be a lambda.
func RebuildLambda(n nodes.Node, ctx *Context) (*expr.LambdaExpr, error) {
	e, err := Rebuild(n, ctx)
	if err != nil {
		return nil, err
	}
	l, ok := e.(*expr.LambdaExpr)
	if !ok {
		return nil, &Error{Kind: n.Kind(), Err: fmt.Errorf("expected a lambda")}
	}
	return l, nil
}

func (c *Context) resolve(d nodes.TypeDescriptor) (reflect.Type, error) {
	return c.Cache.ResolveType(d)
}

// resolveRequired is resolve for places where an absent type is an error.
func (c *Context) resolveRequired(k nodes.Kind, d nodes.TypeDescriptor) (reflect.Type, error) {
	t, err := c.resolve(d)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &Error{Kind: k, Err: fmt.Errorf("missing type")}
	}
	return t, nil
}

func (c *Context) rebuildAll(ns []nodes.Node) ([]expr.Expression, error) {
	out := make([]expr.Expression, len(ns))
	for i, n := range ns {
		e, err := c.rebuild(n)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (c *Context) rebuild(n nodes.Node) (expr.Expression, error) {
	if n == nil {
		return nil, &Error{Err: fmt.Errorf("missing node")}
	}
	wrap := func(e expr.Expression, err error) (expr.Expression, error) {
		if err != nil {
			return nil, &Error{Kind: n.Kind(), Err: err}
		}
		return e, nil
	}

	switch n := n.(type) {
	case *nodes.ConstantNode:
		return c.constant(n)

	case *nodes.ParameterNode:
		t, err := c.resolveRequired(n.Kind(), n.Type)
		if err != nil {
			return nil, err
		}
		return c.Parameter(n.Type, t, n.Name), nil

	case *nodes.BinaryNode:
		op, err := expr.ParseBinaryOp(n.Operator)
		if err != nil {
			return wrap(nil, err)
		}
		l, err := c.rebuild(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := c.rebuild(n.Right)
		if err != nil {
			return nil, err
		}
		return wrap(expr.MakeBinary(op, l, r))

	case *nodes.UnaryNode:
		op, err := expr.ParseUnaryOp(n.Operator)
		if err != nil {
			return wrap(nil, err)
		}
		operand, err := c.rebuild(n.Operand)
		if err != nil {
			return nil, err
		}
		t, err := c.resolve(n.Type)
		if err != nil {
			return nil, err
		}
		return wrap(expr.MakeUnary(op, operand, t))

	case *nodes.ConditionalNode:
		es, err := c.rebuildAll([]nodes.Node{n.Test, n.IfTrue, n.IfFalse})
		if err != nil {
			return nil, err
		}
		return wrap(expr.Condition(es[0], es[1], es[2]))

	case *nodes.TypeTestNode:
		operand, err := c.rebuild(n.Operand)
		if err != nil {
			return nil, err
		}
		t, err := c.resolveRequired(n.Kind(), n.TestType)
		if err != nil {
			return nil, err
		}
		return expr.TypeIs(operand, t), nil

	case *nodes.LambdaNode:
		params := make([]*expr.ParameterExpr, len(n.Parameters))
		for i, p := range n.Parameters {
			t, err := c.resolveRequired(n.Kind(), p.Type)
			if err != nil {
				return nil, err
			}
			params[i] = c.Parameter(p.Type, t, p.Name)
		}
		body, err := c.rebuild(n.Body)
		if err != nil {
			return nil, err
		}
		return expr.Lambda(body, params...), nil

	case *nodes.MemberAccessNode:
		return c.memberAccess(n)

	case *nodes.MethodCallNode:
		return c.methodCall(n)

	case *nodes.NewObjectNode:
		e, err := c.newObject(n)
		if err != nil {
			return nil, err
		}
		return e, nil

	case *nodes.NewArrayNode:
		elem, err := c.resolveRequired(n.Kind(), n.ElementType)
		if err != nil {
			return nil, err
		}
		elems, err := c.rebuildAll(n.Elements)
		if err != nil {
			return nil, err
		}
		return wrap(expr.NewArray(elem, elems...))

	case *nodes.MemberInitNode:
		return c.memberInit(n)
	}
	return nil, &Error{Kind: n.Kind(), Err: fmt.Errorf("unsupported node %T", n)}
}

// constant repairs the payload into a value of exactly the declared type.
// An absent type keeps the payload as decoded.
func (c *Context) constant(n *nodes.ConstantNode) (expr.Expression, error) {
	t, err := c.resolve(n.Type)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return expr.Constant(n.Value), nil
	}
	v, err := c.Coercer.CoerceValue(n.Value, t)
	if err != nil {
		return nil, err
	}
	ce, err := expr.TypedConstant(v.Interface(), t)
	if err != nil {
		return nil, &Error{Kind: n.Kind(), Err: err}
	}
	return ce, nil
}

// owner resolves a member's declaring type, falling back to the target's
// type when the descriptor is empty.
func (c *Context) owner(k nodes.Kind, d nodes.TypeDescriptor, target expr.Expression) (reflect.Type, error) {
	t, err := c.resolve(d)
	if err != nil {
		return nil, err
	}
	if t == nil && target != nil {
		t = expr.Deref(target.Type())
	}
	if t == nil {
		return nil, &Error{Kind: k, Err: fmt.Errorf("member %q has no owner", d.Name)}
	}
	return t, nil
}

func (c *Context) memberAccess(n *nodes.MemberAccessNode) (expr.Expression, error) {
	var target expr.Expression
	if n.Target != nil {
		var err error
		if target, err = c.rebuild(n.Target); err != nil {
			return nil, err
		}
	}
	owner, err := c.owner(n.Kind(), n.Member.Owner, target)
	if err != nil {
		return nil, err
	}
	m, err := c.Cache.ResolveMember(registry.MemberQuery{
		Owner:        owner,
		Signature:    n.Member.Signature,
		Access:       registry.Read,
		AllowPrivate: c.AllowPrivateFieldAccess,
	})
	if err != nil {
		return nil, err
	}
	e, err := expr.MemberAccess(target, m)
	if err != nil {
		return nil, &Error{Kind: n.Kind(), Err: err}
	}
	return e, nil
}

func (c *Context) methodCall(n *nodes.MethodCallNode) (expr.Expression, error) {
	var target expr.Expression
	if n.Target != nil {
		var err error
		if target, err = c.rebuild(n.Target); err != nil {
			return nil, err
		}
	}
	args, err := c.rebuildAll(n.Arguments)
	if err != nil {
		return nil, err
	}
	owner, err := c.owner(n.Kind(), n.Method.Owner, target)
	if err != nil {
		return nil, err
	}

	var m *expr.Member
	if len(n.GenericArguments) > 0 {
		targs := make([]reflect.Type, len(n.GenericArguments))
		for i, d := range n.GenericArguments {
			if targs[i], err = c.resolveRequired(n.Kind(), d); err != nil {
				return nil, err
			}
		}
		m, err = c.Registry.Instantiate(owner, registry.SignatureName(n.Method.Signature), targs...)
	} else {
		argTypes := make([]reflect.Type, len(args))
		for i, a := range args {
			argTypes[i] = a.Type()
		}
		m, err = c.Cache.ResolveMember(registry.MemberQuery{
			Owner:     owner,
			Signature: n.Method.Signature,
			Args:      argTypes,
			Access:    registry.Invoke,
		})
	}
	if err != nil {
		return nil, err
	}
	c.logger().Debug("resolved call", "signature", n.Method.Signature, "member", m.String())

	e, err := expr.MakeCall(target, m, args...)
	if err != nil {
		return nil, &Error{Kind: n.Kind(), Err: err}
	}
	return e, nil
}

func (c *Context) newObject(n *nodes.NewObjectNode) (*expr.NewExpr, error) {
	t, err := c.resolveRequired(n.Kind(), n.Constructor.Owner)
	if err != nil {
		return nil, err
	}
	if n.Constructor.Signature == "" {
		if len(n.Arguments) > 0 {
			return nil, &Error{Kind: n.Kind(), Err: fmt.Errorf("arguments without a constructor")}
		}
		return expr.New(t), nil
	}
	args, err := c.rebuildAll(n.Arguments)
	if err != nil {
		return nil, err
	}
	argTypes := make([]reflect.Type, len(args))
	for i, a := range args {
		argTypes[i] = a.Type()
	}
	ctor, err := c.Cache.ResolveMember(registry.MemberQuery{
		Owner:     expr.Deref(t),
		Signature: n.Constructor.Signature,
		Args:      argTypes,
		Access:    registry.Construct,
	})
	if err != nil {
		return nil, err
	}
	e, err := expr.MakeNew(ctor, args...)
	if err != nil {
		return nil, &Error{Kind: n.Kind(), Err: err}
	}
	return e, nil
}

func (c *Context) memberInit(n *nodes.MemberInitNode) (expr.Expression, error) {
	if n.NewObject == nil {
		return nil, &Error{Kind: n.Kind(), Err: fmt.Errorf("missing newObject")}
	}
	ne, err := c.newObject(n.NewObject)
	if err != nil {
		return nil, err
	}
	bindings := make([]expr.Binding, len(n.Bindings))
	for i, b := range n.Bindings {
		v, err := c.rebuild(b.Value)
		if err != nil {
			return nil, err
		}
		m, err := c.Cache.ResolveMember(registry.MemberQuery{
			Owner:     expr.Deref(ne.Type()),
			Signature: b.Member,
			Access:    registry.Read,
		})
		if err != nil {
			return nil, err
		}
		bindings[i] = expr.Binding{Name: b.Member, Member: m, Value: v}
	}
	e, err := expr.MemberInit(ne, bindings...)
	if err != nil {
		return nil, &Error{Kind: n.Kind(), Err: err}
	}
	return e, nil
}
