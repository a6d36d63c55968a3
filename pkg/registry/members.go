package registry

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
)

// TypeResolutionError reports a type name that no registration or unit
// provides.
type TypeResolutionError struct {
	Name string
	Err  error
}

func (e *TypeResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not resolve type: %s: %s", e.Name, e.Err)
	}
	return "could not resolve type: " + e.Name
}

func (e *TypeResolutionError) Unwrap() error {
	return e.Err
}

// MemberNotFoundError reports a member signature with no match on its
// owner.
type MemberNotFoundError struct {
	Owner     string
	Signature string
	Reason    string
}

func (e *MemberNotFoundError) Error() string {
	msg := fmt.Sprintf("member not found: %s on %s", e.Signature, e.Owner)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// UnsupportedTypeError reports a Go type with no portable description.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("type %s has no portable name", e.Type)
}

// Describe renders t as a type descriptor. Relaxed descriptors use short
// names.
func (r *Registry) Describe(t reflect.Type, relaxed bool) (nodes.TypeDescriptor, error) {
	if name, ok := r.nameOf(t, relaxed); ok {
		return nodes.TypeDescriptor{Name: name}, nil
	}
	var (
		def  string
		args []reflect.Type
	)
	switch t.Kind() {
	case reflect.Pointer:
		def, args = "*", []reflect.Type{t.Elem()}
	case reflect.Slice, reflect.Array:
		def, args = "[]", []reflect.Type{t.Elem()}
	case reflect.Map:
		def, args = "map", []reflect.Type{t.Key(), t.Elem()}
	default:
		return nodes.TypeDescriptor{}, &UnsupportedTypeError{Type: t}
	}
	d := nodes.TypeDescriptor{Name: def}
	for _, a := range args {
		ad, err := r.Describe(a, relaxed)
		if err != nil {
			return nodes.TypeDescriptor{}, err
		}
		d.GenericArguments = append(d.GenericArguments, ad)
	}
	return d, nil
}

// Signature renders the signature string of m: the bare name for fields
// and properties, Name(T1,T2) for callables and .ctor(T1) for constructors.
func (r *Registry) Signature(m *expr.Member, relaxed bool) string {
	if m.Kind == expr.FieldMember || m.Kind == expr.PropertyMember {
		return m.Name
	}
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = r.TypeName(p, relaxed)
	}
	name := m.Name
	if m.Kind == expr.ConstructorMember {
		name = ".ctor"
	}
	return name + "(" + strings.Join(params, ",") + ")"
}

// SignatureName is the member name part of a signature.
func SignatureName(sig string) string {
	if i := strings.IndexByte(sig, '('); i >= 0 {
		return sig[:i]
	}
	return sig
}

// Access says how a member is used.
type Access int

const (
	// Read is a field or property read.
	Read Access = iota
	// Invoke is a method or function call.
	Invoke
	// Construct is a constructor call.
	Construct
)

func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Invoke:
		return "invoke"
	case Construct:
		return "construct"
	}
	return fmt.Sprintf("Access(%d)", int(a))
}

// MemberQuery describes a member to resolve.
type MemberQuery struct {
	Owner     reflect.Type
	Signature string
	// Args are the argument types of a call or constructor.
	Args   []reflect.Type
	Access Access
	// AllowPrivate admits unexported fields.
	AllowPrivate bool
}

// Members lists the members usable with access on owner, in declaration
// order: fields, then methods, then registered functions and constructors.
func (r *Registry) Members(owner reflect.Type, access Access) []*expr.Member {
	var out []*expr.Member
	switch access {
	case Read:
		out = append(out, expr.Fields(owner)...)
		for _, m := range expr.Methods(owner) {
			if m.Kind == expr.PropertyMember {
				out = append(out, m)
			}
		}
		r.mu.RLock()
		for _, f := range r.funcs[owner] {
			if len(f.Params) == 0 {
				out = append(out, f)
			}
		}
		r.mu.RUnlock()
	case Invoke:
		for _, m := range expr.Methods(owner) {
			if m.Kind == expr.PropertyMember {
				cp := *m
				cp.Kind = expr.MethodMember
				m = &cp
			}
			out = append(out, m)
		}
		r.mu.RLock()
		out = append(out, r.funcs[owner]...)
		r.mu.RUnlock()
	case Construct:
		r.mu.RLock()
		out = append(out, r.ctors[owner]...)
		r.mu.RUnlock()
	}
	return out
}

// FindMember resolves q without caching. Among callables with the right
// name and arity whose parameters accept the argument types (see
// expr.ArgCompatible; conversions are not applied), the one with
// the most exact parameter matches wins; an exact signature match breaks
// ties, then registration order.
func (r *Registry) FindMember(q MemberQuery) (*expr.Member, error) {
	name := SignatureName(q.Signature)
	if q.Access == Construct {
		name = ".ctor"
	}
	notFound := func(reason string) error {
		return &MemberNotFoundError{Owner: r.TypeName(q.Owner, false), Signature: q.Signature, Reason: reason}
	}

	var (
		best      *expr.Member
		bestScore = -1
		private   bool
	)
	for _, m := range r.Members(q.Owner, q.Access) {
		if m.Name != name {
			continue
		}
		if !m.Exported && !q.AllowPrivate {
			private = true
			continue
		}
		if q.Access == Read {
			return m, nil
		}
		score, ok := match(m, q.Args)
		if !ok {
			continue
		}
		score *= 2
		if r.Signature(m, false) == q.Signature || r.Signature(m, true) == q.Signature {
			score++
		}
		if score > bestScore {
			best, bestScore = m, score
		}
	}
	if best != nil {
		return best, nil
	}
	if private {
		return nil, notFound("private member access is not allowed")
	}
	return nil, notFound("")
}

// match reports whether m accepts args and how many match exactly.
func match(m *expr.Member, args []reflect.Type) (int, bool) {
	if len(m.Params) != len(args) {
		return 0, false
	}
	exact := 0
	for i, a := range args {
		if !expr.ArgCompatible(a, m.Params[i]) {
			return 0, false
		}
		if a == m.Params[i] {
			exact++
		}
	}
	return exact, true
}
