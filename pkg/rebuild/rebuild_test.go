package rebuild

import (
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gottscj/Serialize.Linq/pkg/convert"
	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/factory"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/people"
	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

type record struct {
	Name  string
	Score int
	note  string
}

type calc struct{}

var (
	recordType = reflect.TypeFor[record]()
	calcType   = reflect.TypeFor[calc]()
	strType    = reflect.TypeFor[string]()
	intType    = reflect.TypeFor[int]()
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	reg.Register(recordType)
	reg.RegisterAs(calcType, "calc")
	require.NoError(t, reg.AddFunc(calcType, "Twice", func(n int) int { return n * 2 }))
	require.NoError(t, reg.AddFunc(calcType, "Twice", func(s string) string { return s + s }))
	require.NoError(t, people.Register(reg))
	return reg
}

// roundTrip converts e to text and back.
func roundTrip(t *testing.T, reg *registry.Registry, e expr.Expression) expr.Expression {
	t.Helper()
	n, err := factory.New(reg, factory.Settings{UseRelaxedTypeNames: true}).Convert(e)
	require.NoError(t, err)
	text, err := nodes.Marshal(n)
	require.NoError(t, err)
	decoded, err := nodes.Unmarshal(text)
	require.NoError(t, err)
	out, err := Rebuild(decoded, NewContext(reg))
	require.NoError(t, err, string(text))
	return out
}

func field(target expr.Expression, name string) expr.Expression {
	return expr.Must(expr.Field(target, name))
}

func binary(op expr.BinaryOp, l, r expr.Expression) expr.Expression {
	return expr.Must(expr.MakeBinary(op, l, r))
}

func TestParameterIdentity(t *testing.T) {
	reg := newRegistry(t)
	d := nodes.TypeDescriptor{Name: "rebuild.record"}
	n := &nodes.LambdaNode{
		Parameters: []*nodes.ParameterNode{{Type: d, Name: "r"}},
		Body: &nodes.BinaryNode{
			Operator: "Add",
			Left:     &nodes.MemberAccessNode{Target: &nodes.ParameterNode{Type: d, Name: "r"}, Member: nodes.MemberRef{Signature: "Score"}},
			Right:    &nodes.MemberAccessNode{Target: &nodes.ParameterNode{Type: d, Name: "r"}, Member: nodes.MemberRef{Owner: d, Signature: "Score"}},
		},
	}
	l, err := RebuildLambda(n, NewContext(reg))
	require.NoError(t, err)

	var seen []*expr.ParameterExpr
	expr.Walk(l.Body, func(e expr.Expression) bool {
		if p, ok := e.(*expr.ParameterExpr); ok {
			seen = append(seen, p)
		}
		return true
	})
	require.Len(t, seen, 2)
	for _, p := range seen {
		assert.Same(t, l.Params[0], p)
	}

	c, err := expr.Compile(l)
	require.NoError(t, err)
	out, err := c.Invoke(record{Score: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestOverloadDisambiguation(t *testing.T) {
	reg := newRegistry(t)
	ctx := NewContext(reg)

	for _, tc := range []struct {
		arg  any
		want any
	}{
		{"ab", "abab"},
		{4, 8},
	} {
		argType := reflect.TypeOf(tc.arg)
		m, err := ctx.Cache.ResolveMember(registry.MemberQuery{
			Owner:     calcType,
			Signature: "Twice(" + argType.String() + ")",
			Args:      []reflect.Type{argType},
			Access:    registry.Invoke,
		})
		require.NoError(t, err)
		call := expr.Must(expr.MakeCall(nil, m, expr.Constant(tc.arg)))

		out, err := expr.Eval(roundTrip(t, reg, call))
		require.NoError(t, err)
		assert.Equal(t, tc.want, out)
	}

	// the name alone is ambiguous; argument types decide
	n := &nodes.MethodCallNode{
		Method:    nodes.MemberRef{Owner: nodes.TypeDescriptor{Name: "calc"}, Signature: "Twice"},
		Arguments: []nodes.Node{&nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "string"}, Value: "x"}},
	}
	e, err := Rebuild(n, NewContext(reg))
	require.NoError(t, err)
	out, err := expr.Eval(e)
	require.NoError(t, err)
	assert.Equal(t, "xx", out)
}

func TestContainment(t *testing.T) {
	reg := newRegistry(t)
	list := []string{"one", "two"}
	r := expr.Parameter(recordType, "r")
	contains := reg.MustInstantiate(registry.SeqType, "Contains", strType)
	pred := expr.Lambda(expr.Must(expr.MakeCall(nil, contains,
		expr.Must(expr.Capture("list", &list)),
		field(r, "Name"),
	)), r)

	before, err := expr.CompilePredicate[record](pred)
	require.NoError(t, err)
	rebuilt := roundTrip(t, reg, pred)
	after, err := expr.CompilePredicate[record](rebuilt.(*expr.LambdaExpr))
	require.NoError(t, err)

	want := []bool{true, true, false}
	for i, name := range []string{"one", "two", "three"} {
		b, err := before(record{Name: name})
		require.NoError(t, err)
		a, err := after(record{Name: name})
		require.NoError(t, err)
		assert.Equal(t, want[i], b, name)
		assert.Equal(t, want[i], a, name)
	}

	// the list was copied into the tree
	list[0] = "three"
	a, err := after(record{Name: "three"})
	require.NoError(t, err)
	assert.False(t, a)
}

func samplePersons(t *testing.T) []people.Person {
	t.Helper()
	ps, err := people.LoadSample(people.LoadOptions{Today: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	return ps
}

func TestPersonQueries(t *testing.T) {
	reg := newRegistry(t)
	persons := samplePersons(t)
	p := expr.Parameter(people.PersonType, "p")

	for name, tc := range map[string]struct {
		body expr.Expression
		want int
	}{
		"japan": {binary(expr.Equal, field(p, "Residence"), expr.Constant("Japan")), 5},
		"age":   {binary(expr.GreaterThanOrEqual, field(p, "Age"), expr.Constant(100)), 12},
		"male":  {binary(expr.Equal, field(p, "Gender"), expr.Constant(people.Male)), 4},
		"living": {binary(expr.Equal, field(p, "DeathDate"),
			expr.Must(expr.TypedConstant(nil, reflect.TypeFor[*time.Time]()))), 3},
		"living property": {field(p, "Living"), 3},
		"born after 1900": {binary(expr.GreaterThan, field(p, "BirthDate"),
			expr.Constant(time.Date(1900, 12, 31, 0, 0, 0, 0, time.UTC))), 6},
	} {
		t.Run(name, func(t *testing.T) {
			pred := expr.Lambda(tc.body, p)
			before, err := expr.CompilePredicate[people.Person](pred)
			require.NoError(t, err)
			after, err := expr.CompilePredicate[people.Person](roundTrip(t, reg, pred).(*expr.LambdaExpr))
			require.NoError(t, err)

			matched := 0
			for _, person := range persons {
				b, err := before(person)
				require.NoError(t, err)
				a, err := after(person)
				require.NoError(t, err)
				assert.Equal(t, b, a, person.FullName())
				if a {
					matched++
				}
			}
			assert.Equal(t, tc.want, matched)
		})
	}
}

func TestProjection(t *testing.T) {
	reg := newRegistry(t)
	p := expr.Parameter(people.PersonType, "p")
	length := expr.Must(reg.Instantiate(registry.SeqType, "Len", strType))
	sel := expr.Lambda(expr.Must(expr.MemberInit(expr.New(people.PersonType),
		expr.Set("Age", field(p, "Age")),
		expr.Set("ID", expr.Must(expr.MakeCall(nil, length,
			expr.Must(expr.NewArray(strType, field(p, "FirstName"), field(p, "LastName"))),
		))),
	)), p)

	fn, err := expr.CompileSelector[people.Person, people.Person](roundTrip(t, reg, sel).(*expr.LambdaExpr))
	require.NoError(t, err)
	out, err := fn(people.Person{FirstName: "Ada", LastName: "Lovelace", Age: 36, Residence: "UK"})
	require.NoError(t, err)
	assert.Equal(t, people.Person{Age: 36, ID: 2}, out)
}

func TestGenericCallWithLambda(t *testing.T) {
	reg := newRegistry(t)
	xs := expr.Parameter(reflect.TypeFor[[]int](), "xs")
	n := expr.Parameter(intType, "n")
	count := reg.MustInstantiate(registry.SeqType, "Count", intType)
	odd := expr.Lambda(binary(expr.Equal, binary(expr.Modulo, n, expr.Constant(2)), expr.Constant(1)), n)
	l := expr.Lambda(expr.Must(expr.MakeCall(nil, count, xs, odd)), xs)

	c, err := expr.Compile(roundTrip(t, reg, l).(*expr.LambdaExpr))
	require.NoError(t, err)
	out, err := c.Invoke([]int{1, 2, 3, 5})
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestStringFunctions(t *testing.T) {
	reg := newRegistry(t)
	ctx := NewContext(reg)
	p := expr.Parameter(people.PersonType, "p")
	hasPrefix, err := ctx.Cache.ResolveMember(registry.MemberQuery{
		Owner:     registry.StringsType,
		Signature: "HasPrefix(string,string)",
		Args:      []reflect.Type{strType, strType},
		Access:    registry.Invoke,
	})
	require.NoError(t, err)
	pred := expr.Lambda(expr.Must(expr.MakeCall(nil, hasPrefix, field(p, "LastName"), expr.Constant("K"))), p)

	fn, err := expr.CompilePredicate[people.Person](roundTrip(t, reg, pred).(*expr.LambdaExpr))
	require.NoError(t, err)
	matched := 0
	for _, person := range samplePersons(t) {
		ok, err := fn(person)
		require.NoError(t, err)
		if ok {
			matched++
		}
	}
	assert.Equal(t, 2, matched)
}

func TestConstantRepair(t *testing.T) {
	reg := newRegistry(t)
	for name, tc := range map[string]struct {
		typ     string
		payload any
		want    any
	}{
		"float to int64":  {"int64", float64(5), int64(5)},
		"string to int64": {"int64", "9007199254740993", int64(9007199254740993)},
		"legacy date":     {"time.Time", "/Date(0)/", time.Unix(0, 0).UTC()},
		"enum by number":  {"people.Gender", float64(1), people.Female},
		"enum by name":    {"people.Gender", "male", people.Male},
		"duration":        {"time.Duration", "1m30s", 90 * time.Second},
		"nil any":         {"any", nil, nil},
	} {
		t.Run(name, func(t *testing.T) {
			e, err := Rebuild(&nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: tc.typ}, Value: tc.payload}, NewContext(reg))
			require.NoError(t, err)
			c := e.(*expr.ConstantExpr)
			assert.Equal(t, tc.want, c.Interface())
		})
	}

	e, err := Rebuild(&nodes.ConstantNode{Value: "untyped"}, NewContext(reg))
	require.NoError(t, err)
	assert.Equal(t, strType, e.Type())

	n := &nodes.ConstantNode{
		Type:  nodes.TypeDescriptor{Name: "*", GenericArguments: []nodes.TypeDescriptor{{Name: "int"}}},
		Value: float64(3),
	}
	e, err = Rebuild(n, NewContext(reg))
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[*int](), e.Type())
	v, err := expr.Eval(e)
	require.NoError(t, err)
	assert.Equal(t, 3, *v.(*int))
}

func TestErrorsPassThrough(t *testing.T) {
	reg := newRegistry(t)

	_, err := Rebuild(&nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "int"}, Value: "abc"}, NewContext(reg))
	require.Error(t, err)
	assert.IsType(t, &convert.CoercionError{}, err, "coercion errors are not wrapped")

	_, err = Rebuild(&nodes.ParameterNode{Type: nodes.TypeDescriptor{Name: "nowhere.Thing"}, Name: "x"}, NewContext(reg))
	assert.IsType(t, &registry.TypeResolutionError{}, err)

	d := nodes.TypeDescriptor{Name: "rebuild.record"}
	_, err = Rebuild(&nodes.LambdaNode{
		Parameters: []*nodes.ParameterNode{{Type: d, Name: "r"}},
		Body: &nodes.MemberAccessNode{
			Target: &nodes.ParameterNode{Type: d, Name: "r"},
			Member: nodes.MemberRef{Owner: d, Signature: "Missing"},
		},
	}, NewContext(reg))
	var mnf *registry.MemberNotFoundError
	require.ErrorAs(t, err, &mnf)
	assert.Equal(t, "Missing", mnf.Signature)
	assert.Equal(t, registry.QualifiedName(recordType), mnf.Owner)

	_, err = Rebuild(&nodes.BinaryNode{
		Operator: "Add",
		Left:     &nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "int"}, Value: float64(1)},
		Right:    &nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "string"}, Value: "x"},
	}, NewContext(reg))
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, nodes.KindBinary, re.Kind)

	_, err = Rebuild(&nodes.BinaryNode{Operator: "Frobnicate"}, NewContext(reg))
	require.ErrorAs(t, err, &re)

	_, err = RebuildLambda(&nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "int"}, Value: float64(1)}, NewContext(reg))
	require.ErrorAs(t, err, &re)
}

func TestPrivateFieldPolicy(t *testing.T) {
	reg := newRegistry(t)
	d := nodes.TypeDescriptor{Name: "rebuild.record"}
	n := &nodes.LambdaNode{
		Parameters: []*nodes.ParameterNode{{Type: d, Name: "r"}},
		Body: &nodes.MemberAccessNode{
			Target: &nodes.ParameterNode{Type: d, Name: "r"},
			Member: nodes.MemberRef{Owner: d, Signature: "note"},
		},
	}

	_, err := Rebuild(n, NewContext(reg))
	var mnf *registry.MemberNotFoundError
	require.ErrorAs(t, err, &mnf)

	ctx := NewContext(reg)
	ctx.AllowPrivateFieldAccess = true
	l, err := RebuildLambda(n, ctx)
	require.NoError(t, err)
	c, err := expr.Compile(l)
	require.NoError(t, err)
	out, err := c.Invoke(record{note: "hidden"})
	require.NoError(t, err)
	assert.Equal(t, "hidden", out)
}

func TestConstructors(t *testing.T) {
	reg := newRegistry(t)
	n := &nodes.NewObjectNode{
		Constructor: nodes.MemberRef{Owner: nodes.TypeDescriptor{Name: "people.Person"}, Signature: ".ctor(string)"},
		Arguments:   []nodes.Node{&nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "string"}, Value: "Grace Hopper"}},
	}
	e, err := Rebuild(n, NewContext(reg))
	require.NoError(t, err)
	v, err := expr.Eval(e)
	require.NoError(t, err)
	assert.Equal(t, people.Person{FirstName: "Grace", LastName: "Hopper"}, v)

	e, err = Rebuild(&nodes.NewObjectNode{Constructor: nodes.MemberRef{Owner: nodes.TypeDescriptor{Name: "people.Person"}}}, NewContext(reg))
	require.NoError(t, err)
	v, err = expr.Eval(e)
	require.NoError(t, err)
	assert.Equal(t, people.Person{}, v)
}

func TestForkSharesCaches(t *testing.T) {
	reg := newRegistry(t)
	base := NewContext(reg)
	p := expr.Parameter(people.PersonType, "p")
	pred := expr.Lambda(binary(expr.GreaterThan, field(p, "Age"), expr.Constant(110)), p)
	n, err := factory.New(reg, factory.Settings{}).Convert(pred)
	require.NoError(t, err)

	var wg sync.WaitGroup
	lambdas := make([]*expr.LambdaExpr, 8)
	for i := range lambdas {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := RebuildLambda(n, base.Fork())
			assert.NoError(t, err)
			lambdas[i] = l
		}()
	}
	wg.Wait()

	for i, l := range lambdas {
		require.NotNil(t, l, strconv.Itoa(i))
		if i > 0 {
			assert.NotSame(t, lambdas[0].Params[0], l.Params[0], "each fork binds its own parameters")
		}
	}
	stats := base.Cache.Stats()
	assert.EqualValues(t, 1, stats.MemberMisses)
	assert.Positive(t, stats.TypeHits)
}
