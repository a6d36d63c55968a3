package registry

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
)

// GenericFunc is a function template instantiated per tuple of type
// arguments.
type GenericFunc struct {
	Name  string
	Arity int
	// Build returns the function for concrete type arguments.
	Build func(args []reflect.Type) (reflect.Value, error)
}

// AddGenericFunc registers a function template under owner.
func (r *Registry) AddGenericFunc(owner reflect.Type, gf *GenericFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gfuncs[owner] = append(r.gfuncs[owner], gf)
}

// Instantiate closes the generic function name on owner over args.
// Instantiations are memoized, so the same arguments yield the same member.
func (r *Registry) Instantiate(owner reflect.Type, name string, args ...reflect.Type) (*expr.Member, error) {
	key := instKey(owner, name, args)
	if m, ok := r.insts.Load(key); ok {
		return m.(*expr.Member), nil
	}
	r.mu.RLock()
	var gf *GenericFunc
	for _, g := range r.gfuncs[owner] {
		if g.Name == name && g.Arity == len(args) {
			gf = g
			break
		}
	}
	r.mu.RUnlock()
	if gf == nil {
		return nil, &MemberNotFoundError{
			Owner:     r.TypeName(owner, false),
			Signature: name,
			Reason:    fmt.Sprintf("no generic function taking %d type arguments", len(args)),
		}
	}
	fn, err := gf.Build(args)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}
	m, err := expr.FuncValueMember(owner, name, fn)
	if err != nil {
		return nil, err
	}
	m = m.WithTypeArgs(args...)
	actual, _ := r.insts.LoadOrStore(key, m)
	return actual.(*expr.Member), nil
}

// MustInstantiate is Instantiate for statically known instantiations.
func (r *Registry) MustInstantiate(owner reflect.Type, name string, args ...reflect.Type) *expr.Member {
	m, err := r.Instantiate(owner, name, args...)
	if err != nil {
		panic(err)
	}
	return m
}

// IsGeneric reports whether owner has a generic function named name.
func (r *Registry) IsGeneric(owner reflect.Type, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.gfuncs[owner] {
		if g.Name == name {
			return true
		}
	}
	return false
}

func instKey(owner reflect.Type, name string, args []reflect.Type) string {
	var sb strings.Builder
	sb.WriteString(typeKey(owner))
	sb.WriteString("\x00")
	sb.WriteString(name)
	for _, a := range args {
		sb.WriteString("\x00")
		sb.WriteString(typeKey(a))
	}
	return sb.String()
}

// typeKey identifies a type uniquely within the process.
func typeKey(t reflect.Type) string {
	return fmt.Sprintf("%s:%p", t.String(), t)
}
