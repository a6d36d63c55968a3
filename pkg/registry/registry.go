// Package registry maps portable type names to Go types and resolves member
// signatures against them.
//
// Go cannot look types up by name at run time, so every type a serialized
// expression may mention has to be made known here: registered directly, or
// listed by a Unit that is scanned lazily when a direct lookup misses.
package registry

import (
	"fmt"
	"log/slog"
	"path"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
)

// GenericType closes a generic definition over type arguments.
type GenericType func(args ...reflect.Type) (reflect.Type, error)

// Unit is a named group of types that is only enumerated when a lookup
// needs it.
type Unit struct {
	Name string

	load  func() []reflect.Type
	once  sync.Once
	types []reflect.Type
}

func (u *Unit) Types() []reflect.Type {
	u.once.Do(func() {
		u.types = u.load()
	})
	return u.types
}

// EnumValue is a named constant of an enum type.
type EnumValue struct {
	Name  string
	Value int64
}

// Registry holds the types, functions, constructors and enums that
// expressions may reference. It is safe for concurrent use.
type Registry struct {
	Logger *slog.Logger

	mu       sync.RWMutex
	names    map[string]reflect.Type
	canon    map[reflect.Type]string
	short    map[reflect.Type]string
	order    []reflect.Type
	units    []*Unit
	generics map[string]GenericType
	funcs    map[reflect.Type][]*expr.Member
	ctors    map[reflect.Type][]*expr.Member
	gfuncs   map[reflect.Type][]*GenericFunc
	enums    map[reflect.Type][]EnumValue
	insts    sync.Map

	scans atomic.Int64
}

var (
	anyType      = reflect.TypeFor[any]()
	errorType    = reflect.TypeFor[error]()
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
)

// New returns a registry preloaded with the predeclared types, time types,
// and the seq and strings function sets.
func New() *Registry {
	r := &Registry{
		Logger:   slog.Default(),
		names:    map[string]reflect.Type{},
		canon:    map[reflect.Type]string{},
		short:    map[reflect.Type]string{},
		generics: map[string]GenericType{},
		funcs:    map[reflect.Type][]*expr.Member{},
		ctors:    map[reflect.Type][]*expr.Member{},
		gfuncs:   map[reflect.Type][]*GenericFunc{},
		enums:    map[reflect.Type][]EnumValue{},
	}
	for _, t := range []reflect.Type{
		reflect.TypeFor[bool](),
		reflect.TypeFor[string](),
		reflect.TypeFor[int](),
		reflect.TypeFor[int8](),
		reflect.TypeFor[int16](),
		reflect.TypeFor[int32](),
		reflect.TypeFor[int64](),
		reflect.TypeFor[uint](),
		reflect.TypeFor[uint8](),
		reflect.TypeFor[uint16](),
		reflect.TypeFor[uint32](),
		reflect.TypeFor[uint64](),
		reflect.TypeFor[uintptr](),
		reflect.TypeFor[float32](),
		reflect.TypeFor[float64](),
		reflect.TypeFor[complex64](),
		reflect.TypeFor[complex128](),
		errorType,
		timeType,
		durationType,
	} {
		r.Register(t)
	}
	r.RegisterAs(anyType, "any")
	r.addGenerics()
	registerTime(r)
	registerStrings(r)
	registerSeq(r)
	return r
}

func (r *Registry) addGenerics() {
	r.generics["[]"] = func(args ...reflect.Type) (reflect.Type, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("[] takes 1 type argument, got %d", len(args))
		}
		return reflect.SliceOf(args[0]), nil
	}
	r.generics["*"] = func(args ...reflect.Type) (reflect.Type, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("* takes 1 type argument, got %d", len(args))
		}
		return reflect.PointerTo(args[0]), nil
	}
	r.generics["map"] = func(args ...reflect.Type) (reflect.Type, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("map takes 2 type arguments, got %d", len(args))
		}
		if !args[0].Comparable() {
			return nil, fmt.Errorf("map key %s is not comparable", args[0])
		}
		return reflect.MapOf(args[0], args[1]), nil
	}
}

// QualifiedName is the full portable name of a named or predeclared type:
// the import path and type name, or the bare name of a predeclared type. It
// is empty for unnamed composite types.
func QualifiedName(t reflect.Type) string {
	if t.Name() == "" {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// ShortName is the package name and type name, such as "people.Person".
func ShortName(t reflect.Type) string {
	if t.Name() == "" {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return path.Base(t.PkgPath()) + "." + t.Name()
}

// Register makes t resolvable by its qualified and short names.
func (r *Registry) Register(t reflect.Type) {
	r.RegisterAs(t, QualifiedName(t))
}

// RegisterAs makes t resolvable by name. The short name of a named type is
// added as an alias unless another type already claims it.
func (r *Registry) RegisterAs(t reflect.Type, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.canon[t]; !known {
		r.order = append(r.order, t)
	}
	r.canon[t] = name
	r.names[name] = t
	short := name
	if name == QualifiedName(t) && ShortName(t) != "" {
		short = ShortName(t)
	}
	r.short[t] = short
	if _, taken := r.names[short]; !taken {
		r.names[short] = t
	}
}

// AddUnit adds a lazily enumerated group of types.
func (r *Registry) AddUnit(name string, load func() []reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, &Unit{Name: name, load: load})
}

// Lookup finds a directly registered type.
func (r *Registry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.names[name]
	return t, ok
}

// Scan searches the units, in the order they were added, for a type whose
// qualified or short name is name.
func (r *Registry) Scan(name string) (reflect.Type, bool) {
	r.scans.Add(1)
	r.mu.RLock()
	units := slices.Clone(r.units)
	r.mu.RUnlock()
	for _, u := range units {
		for _, t := range u.Types() {
			if QualifiedName(t) == name || ShortName(t) == name {
				r.Logger.Debug("resolved type by scan", "name", name, "unit", u.Name)
				return t, true
			}
		}
	}
	return nil, false
}

// Scans reports how many unit scans have run.
func (r *Registry) Scans() int64 {
	return r.scans.Load()
}

// Generic finds a generic type definition by name.
func (r *Registry) Generic(name string) (GenericType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generics[name]
	return g, ok
}

// AddGeneric adds a generic type definition.
func (r *Registry) AddGeneric(name string, g GenericType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generics[name] = g
}

// TypeName renders t using registered names, for signatures and messages.
func (r *Registry) TypeName(t reflect.Type, relaxed bool) string {
	if name, ok := r.nameOf(t, relaxed); ok {
		return name
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + r.TypeName(t.Elem(), relaxed)
	case reflect.Slice:
		return "[]" + r.TypeName(t.Elem(), relaxed)
	case reflect.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), r.TypeName(t.Elem(), relaxed))
	case reflect.Map:
		return "map[" + r.TypeName(t.Key(), relaxed) + "]" + r.TypeName(t.Elem(), relaxed)
	case reflect.Func:
		in := make([]string, t.NumIn())
		for i := range in {
			in[i] = r.TypeName(t.In(i), relaxed)
		}
		out := make([]string, t.NumOut())
		for i := range out {
			out[i] = r.TypeName(t.Out(i), relaxed)
		}
		s := "func(" + strings.Join(in, ",") + ")"
		switch len(out) {
		case 0:
		case 1:
			s += " " + out[0]
		default:
			s += " (" + strings.Join(out, ",") + ")"
		}
		return s
	}
	return t.String()
}

func (r *Registry) nameOf(t reflect.Type, relaxed bool) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if relaxed {
		if s, ok := r.short[t]; ok {
			return s, true
		}
	} else if s, ok := r.canon[t]; ok {
		return s, true
	}
	if t.Name() == "" {
		return "", false
	}
	if relaxed {
		return ShortName(t), true
	}
	return QualifiedName(t), true
}

// AddFunc registers fn as a static function name under owner. Functions
// sharing a name form an overload set.
func (r *Registry) AddFunc(owner reflect.Type, name string, fn any) error {
	m, err := expr.FuncMember(owner, name, fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[owner] = append(r.funcs[owner], m)
	return nil
}

// AddConstructor registers fn as a constructor of the type it returns.
func (r *Registry) AddConstructor(fn any) error {
	m, err := expr.ConstructorOf(fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[m.Owner] = append(r.ctors[m.Owner], m)
	return nil
}

// Constructor finds a registered single-argument constructor of target
// accepting arg.
func (r *Registry) Constructor(target, arg reflect.Type) (reflect.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.ctors[target] {
		if c.Result == target && len(c.Params) == 1 && arg.AssignableTo(c.Params[0]) {
			return c.Fn, true
		}
	}
	return reflect.Value{}, false
}

// AddEnum registers the named values of an enum type and the type itself.
func (r *Registry) AddEnum(t reflect.Type, values ...EnumValue) {
	r.Register(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enums[t] = append(r.enums[t], values...)
}

// EnumValue finds an enum constant by name, ignoring case.
func (r *Registry) EnumValue(t reflect.Type, name string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.enums[t] {
		if strings.EqualFold(v.Name, name) {
			return v.Value, true
		}
	}
	return 0, false
}

// Enum returns the registered values of t.
func (r *Registry) Enum(t reflect.Type) ([]EnumValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs, ok := r.enums[t]
	return slices.Clone(vs), ok
}

// Types lists the directly registered types in registration order.
func (r *Registry) Types() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}
