package registry

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Seq owns the generic sequence functions: Contains, Any, All, Count, Where
// and Select over slices.
type Seq struct{}

// Strings owns string helper functions.
type Strings struct{}

var (
	SeqType     = reflect.TypeFor[Seq]()
	StringsType = reflect.TypeFor[Strings]()

	boolType = reflect.TypeFor[bool]()
	intType  = reflect.TypeFor[int]()
)

func registerTime(r *Registry) {
	must(r.AddFunc(timeType, "Now", time.Now))
	must(r.AddFunc(timeType, "Unix", func(sec int64) time.Time { return time.Unix(sec, 0).UTC() }))
	must(r.AddFunc(timeType, "Date", func(year, month, day int) time.Time {
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}))
	must(r.AddConstructor(func(s string) (time.Time, error) {
		return time.Parse(time.RFC3339Nano, s)
	}))
}

func registerStrings(r *Registry) {
	r.RegisterAs(StringsType, "strings")
	for _, f := range []struct {
		name string
		fn   any
	}{
		{"Contains", strings.Contains},
		{"HasPrefix", strings.HasPrefix},
		{"HasSuffix", strings.HasSuffix},
		{"EqualFold", strings.EqualFold},
		{"Index", strings.Index},
		{"ToUpper", strings.ToUpper},
		{"ToLower", strings.ToLower},
		{"TrimSpace", strings.TrimSpace},
		{"Repeat", strings.Repeat},
		{"ReplaceAll", strings.ReplaceAll},
	} {
		must(r.AddFunc(StringsType, f.name, f.fn))
	}
	must(r.AddFunc(StringsType, "Len", func(s string) int { return len(s) }))
}

func registerSeq(r *Registry) {
	r.RegisterAs(SeqType, "seq")
	r.AddGenericFunc(SeqType, &GenericFunc{Name: "Contains", Arity: 1, Build: seqContains})
	r.AddGenericFunc(SeqType, &GenericFunc{Name: "Any", Arity: 1, Build: seqPredicate(func(n, total int) any { return n > 0 }, boolType)})
	r.AddGenericFunc(SeqType, &GenericFunc{Name: "All", Arity: 1, Build: seqPredicate(func(n, total int) any { return n == total }, boolType)})
	r.AddGenericFunc(SeqType, &GenericFunc{Name: "Count", Arity: 1, Build: seqPredicate(func(n, total int) any { return n }, intType)})
	r.AddGenericFunc(SeqType, &GenericFunc{Name: "Where", Arity: 1, Build: seqWhere})
	r.AddGenericFunc(SeqType, &GenericFunc{Name: "Select", Arity: 2, Build: seqSelect})
	r.AddGenericFunc(SeqType, &GenericFunc{Name: "Len", Arity: 1, Build: seqLen})
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func predType(t reflect.Type) reflect.Type {
	return reflect.FuncOf([]reflect.Type{t}, []reflect.Type{boolType}, false)
}

func seqContains(args []reflect.Type) (reflect.Value, error) {
	t := args[0]
	if !t.Comparable() {
		return reflect.Value{}, fmt.Errorf("%s is not comparable", t)
	}
	ft := reflect.FuncOf([]reflect.Type{reflect.SliceOf(t), t}, []reflect.Type{boolType}, false)
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		xs, x := in[0], in[1]
		for i := range xs.Len() {
			if xs.Index(i).Equal(x) {
				return []reflect.Value{reflect.ValueOf(true)}
			}
		}
		return []reflect.Value{reflect.ValueOf(false)}
	}), nil
}

// seqPredicate builds a function from a slice and a predicate to a result
// computed from the number of matching elements.
func seqPredicate(result func(matched, total int) any, out reflect.Type) func([]reflect.Type) (reflect.Value, error) {
	return func(args []reflect.Type) (reflect.Value, error) {
		t := args[0]
		ft := reflect.FuncOf([]reflect.Type{reflect.SliceOf(t), predType(t)}, []reflect.Type{out}, false)
		return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
			xs, pred := in[0], in[1]
			n := 0
			for i := range xs.Len() {
				if pred.Call([]reflect.Value{xs.Index(i)})[0].Bool() {
					n++
				}
			}
			return []reflect.Value{reflect.ValueOf(result(n, xs.Len()))}
		}), nil
	}
}

func seqWhere(args []reflect.Type) (reflect.Value, error) {
	t := args[0]
	st := reflect.SliceOf(t)
	ft := reflect.FuncOf([]reflect.Type{st, predType(t)}, []reflect.Type{st}, false)
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		xs, pred := in[0], in[1]
		out := reflect.MakeSlice(st, 0, xs.Len())
		for i := range xs.Len() {
			if pred.Call([]reflect.Value{xs.Index(i)})[0].Bool() {
				out = reflect.Append(out, xs.Index(i))
			}
		}
		return []reflect.Value{out}
	}), nil
}

func seqSelect(args []reflect.Type) (reflect.Value, error) {
	t, u := args[0], args[1]
	fn := reflect.FuncOf([]reflect.Type{t}, []reflect.Type{u}, false)
	ft := reflect.FuncOf([]reflect.Type{reflect.SliceOf(t), fn}, []reflect.Type{reflect.SliceOf(u)}, false)
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		xs, f := in[0], in[1]
		out := reflect.MakeSlice(reflect.SliceOf(u), xs.Len(), xs.Len())
		for i := range xs.Len() {
			out.Index(i).Set(f.Call([]reflect.Value{xs.Index(i)})[0])
		}
		return []reflect.Value{out}
	}), nil
}

func seqLen(args []reflect.Type) (reflect.Value, error) {
	ft := reflect.FuncOf([]reflect.Type{reflect.SliceOf(args[0])}, []reflect.Type{intType}, false)
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(in[0].Len())}
	}), nil
}
