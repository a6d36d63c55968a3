package registry

import (
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
)

type suit int

const (
	hearts suit = iota
	spades
)

type card struct {
	Rank  int
	Suit  suit
	Drawn *time.Time
	Notes []string
	seen  bool
}

func (c card) Face() bool { return c.Rank > 10 }

func (c card) Beats(o card) bool { return c.Rank > o.Rank }

type calc struct{}

var (
	cardType = reflect.TypeFor[card]()
	calcType = reflect.TypeFor[calc]()
	strType  = reflect.TypeFor[string]()
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	r.Register(cardType)
	r.AddEnum(reflect.TypeFor[suit](), EnumValue{"Hearts", 0}, EnumValue{"Spades", 1})
	r.RegisterAs(calcType, "calc")
	require.NoError(t, r.AddFunc(calcType, "Twice", func(n int) int { return n * 2 }))
	require.NoError(t, r.AddFunc(calcType, "Twice", func(s string) string { return s + s }))
	require.NoError(t, r.AddFunc(calcType, "Twice", func(f float64) float64 { return f * 2 }))
	require.NoError(t, r.AddFunc(calcType, "Show", func(v any) string { return "any" }))
	require.NoError(t, r.AddFunc(calcType, "Show", func(s string) string { return "string" }))
	require.NoError(t, r.AddConstructor(func(rank int) card { return card{Rank: rank} }))
	return r
}

func TestResolveType(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)

	for _, name := range []string{QualifiedName(cardType), "registry.card", "string", "time.Time", "any", "seq"} {
		typ, err := c.ResolveType(nodes.TypeDescriptor{Name: name})
		require.NoError(t, err, name)
		assert.NotNil(t, typ)
	}

	typ, err := c.ResolveType(nodes.TypeDescriptor{})
	require.NoError(t, err)
	assert.Nil(t, typ, "empty names resolve to no type")

	_, err = c.ResolveType(nodes.TypeDescriptor{Name: "nope.Missing"})
	var tre *TypeResolutionError
	require.ErrorAs(t, err, &tre)
	assert.Equal(t, "could not resolve type: nope.Missing", err.Error())
}

func TestResolveGenericTypes(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)

	typ, err := c.ResolveType(nodes.TypeDescriptor{Name: "map", GenericArguments: []nodes.TypeDescriptor{
		{Name: "string"},
		{Name: "[]", GenericArguments: []nodes.TypeDescriptor{
			{Name: "*", GenericArguments: []nodes.TypeDescriptor{{Name: "registry.card"}}},
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[map[string][]*card](), typ)

	_, err = c.ResolveType(nodes.TypeDescriptor{Name: "map", GenericArguments: []nodes.TypeDescriptor{
		{Name: "[]", GenericArguments: []nodes.TypeDescriptor{{Name: "int"}}},
		{Name: "int"},
	}})
	require.ErrorContains(t, err, "not comparable")

	_, err = c.ResolveType(nodes.TypeDescriptor{Name: "[]"})
	require.Error(t, err)
}

func TestDescribeRoundTrip(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)

	for _, typ := range []reflect.Type{
		cardType,
		reflect.TypeFor[[]card](),
		reflect.TypeFor[*time.Time](),
		reflect.TypeFor[map[string][]int](),
		reflect.TypeFor[any](),
		reflect.TypeFor[suit](),
	} {
		for _, relaxed := range []bool{false, true} {
			d, err := r.Describe(typ, relaxed)
			require.NoError(t, err)
			back, err := c.ResolveType(d)
			require.NoError(t, err, d.String())
			assert.Equal(t, typ, back, d.String())
		}
	}

	d, err := r.Describe(cardType, true)
	require.NoError(t, err)
	assert.Equal(t, "registry.card", d.Name)

	_, err = r.Describe(reflect.TypeFor[chan int](), false)
	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
}

type widget struct{ ID int }

func TestUnitScan(t *testing.T) {
	r := newRegistry(t)
	loads := 0
	r.AddUnit("widgets", func() []reflect.Type {
		loads++
		return []reflect.Type{reflect.TypeFor[widget]()}
	})
	c := NewCache(r)

	typ, err := c.ResolveType(nodes.TypeDescriptor{Name: "registry.widget"})
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[widget](), typ)
	assert.EqualValues(t, 1, r.Scans())

	_, err = c.ResolveType(nodes.TypeDescriptor{Name: QualifiedName(reflect.TypeFor[widget]())})
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "units are enumerated once")
}

func TestConcurrentResolutionScansOnce(t *testing.T) {
	r := newRegistry(t)
	r.AddUnit("widgets", func() []reflect.Type {
		time.Sleep(10 * time.Millisecond)
		return []reflect.Type{reflect.TypeFor[widget]()}
	})
	c := NewCache(r)

	const workers = 32
	results := make([]reflect.Type, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			typ, err := c.ResolveType(nodes.TypeDescriptor{Name: "registry.widget"})
			assert.NoError(t, err)
			results[i] = typ
		}()
	}
	wg.Wait()

	for _, typ := range results {
		assert.True(t, typ == results[0])
	}
	assert.EqualValues(t, 1, r.Scans())
	stats := c.Stats()
	assert.EqualValues(t, 1, stats.TypeMisses)
	assert.Equal(t, 1, stats.CachedTypes)
}

func TestFailuresAreNotCached(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)
	_, err := c.ResolveType(nodes.TypeDescriptor{Name: "registry.widget"})
	require.Error(t, err)

	r.Register(reflect.TypeFor[widget]())
	_, err = c.ResolveType(nodes.TypeDescriptor{Name: "registry.widget"})
	require.NoError(t, err)
}

func TestOverloadResolution(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)

	for _, tc := range []struct {
		arg  reflect.Type
		sig  string
		want any
		in   any
	}{
		{reflect.TypeFor[int](), "Twice(int)", 8, 4},
		{strType, "Twice(string)", "abab", "ab"},
		{reflect.TypeFor[float64](), "Twice(float64)", 3.0, 1.5},
	} {
		m, err := c.ResolveMember(MemberQuery{Owner: calcType, Signature: tc.sig, Args: []reflect.Type{tc.arg}, Access: Invoke})
		require.NoError(t, err)
		assert.Equal(t, tc.sig, r.Signature(m, false))

		out := m.Fn.Call([]reflect.Value{reflect.ValueOf(tc.in)})
		assert.Equal(t, tc.want, out[0].Interface())
	}

	m, err := c.ResolveMember(MemberQuery{Owner: calcType, Signature: "Show(string)", Args: []reflect.Type{strType}, Access: Invoke})
	require.NoError(t, err)
	assert.Equal(t, "Show(string)", r.Signature(m, false), "exact parameter matches win")

	m, err = c.ResolveMember(MemberQuery{Owner: calcType, Signature: "Show(any)", Args: []reflect.Type{reflect.TypeFor[int]()}, Access: Invoke})
	require.NoError(t, err)
	assert.Equal(t, "Show(any)", r.Signature(m, false))

	_, err = c.ResolveMember(MemberQuery{Owner: calcType, Signature: "Twice(bool)", Args: []reflect.Type{reflect.TypeFor[bool]()}, Access: Invoke})
	var mnf *MemberNotFoundError
	require.ErrorAs(t, err, &mnf)
	assert.Equal(t, "Twice(bool)", mnf.Signature)
	assert.Equal(t, "calc", mnf.Owner)

	_, err = c.ResolveMember(MemberQuery{Owner: calcType, Signature: "Twice(int32)", Args: []reflect.Type{reflect.TypeFor[int32]()}, Access: Invoke})
	require.ErrorAs(t, err, &mnf, "convertible arguments do not select an overload")
}

func TestMemberKinds(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)

	rank, err := c.ResolveMember(MemberQuery{Owner: cardType, Signature: "Rank", Access: Read})
	require.NoError(t, err)
	assert.Equal(t, expr.FieldMember, rank.Kind)

	face, err := c.ResolveMember(MemberQuery{Owner: cardType, Signature: "Face", Access: Read})
	require.NoError(t, err)
	assert.Equal(t, expr.PropertyMember, face.Kind)

	beats, err := c.ResolveMember(MemberQuery{Owner: cardType, Signature: "Beats(" + QualifiedName(cardType) + ")", Args: []reflect.Type{cardType}, Access: Invoke})
	require.NoError(t, err)
	assert.Equal(t, expr.MethodMember, beats.Kind)

	now, err := c.ResolveMember(MemberQuery{Owner: timeType, Signature: "Now", Access: Read})
	require.NoError(t, err)
	assert.Equal(t, expr.FunctionMember, now.Kind)

	ctor, err := c.ResolveMember(MemberQuery{Owner: cardType, Signature: ".ctor(int)", Args: []reflect.Type{reflect.TypeFor[int]()}, Access: Construct})
	require.NoError(t, err)
	assert.Equal(t, ".ctor(int)", r.Signature(ctor, false))
}

func TestMemberCacheIdempotent(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)
	q := MemberQuery{Owner: cardType, Signature: "Rank", Access: Read}

	var wg sync.WaitGroup
	found := make([]*expr.Member, 16)
	for i := range found {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.ResolveMember(q)
			assert.NoError(t, err)
			found[i] = m
		}()
	}
	wg.Wait()
	for _, m := range found {
		assert.Same(t, found[0], m)
	}
	assert.EqualValues(t, 1, c.Stats().MemberMisses)
}

func TestPrivateFieldPolicy(t *testing.T) {
	r := newRegistry(t)
	c := NewCache(r)

	_, err := c.ResolveMember(MemberQuery{Owner: cardType, Signature: "seen", Access: Read})
	var mnf *MemberNotFoundError
	require.ErrorAs(t, err, &mnf)
	assert.Contains(t, mnf.Reason, "private")

	m, err := c.ResolveMember(MemberQuery{Owner: cardType, Signature: "seen", Access: Read, AllowPrivate: true})
	require.NoError(t, err)
	assert.False(t, m.Exported)
}

func TestInstantiate(t *testing.T) {
	r := New()
	contains, err := r.Instantiate(SeqType, "Contains", strType)
	require.NoError(t, err)
	assert.Equal(t, []reflect.Type{strType}, contains.TypeArgs)
	assert.Equal(t, "Contains([]string,string)", r.Signature(contains, false))

	again := r.MustInstantiate(SeqType, "Contains", strType)
	assert.Same(t, contains, again)

	fn := contains.Fn.Interface().(func([]string, string) bool)
	list := []string{"one", "two"}
	assert.True(t, fn(list, "one"))
	assert.True(t, fn(list, "two"))
	assert.False(t, fn(list, "three"))

	sel := r.MustInstantiate(SeqType, "Select", reflect.TypeFor[int](), strType)
	toStr := sel.Fn.Interface().(func([]int, func(int) string) []string)
	assert.Equal(t, []string{"1", "2"}, toStr([]int{1, 2}, strconv.Itoa))

	count := r.MustInstantiate(SeqType, "Count", reflect.TypeFor[int]())
	odd := count.Fn.Interface().(func([]int, func(int) bool) int)
	assert.Equal(t, 2, odd([]int{1, 2, 3}, func(n int) bool { return n%2 == 1 }))

	_, err = r.Instantiate(SeqType, "Contains", strType, strType)
	require.Error(t, err)
	_, err = r.Instantiate(SeqType, "Contains", reflect.TypeFor[[]int]())
	require.ErrorContains(t, err, "not comparable")
}

func TestEnumAndConstructorHooks(t *testing.T) {
	r := newRegistry(t)

	v, ok := r.EnumValue(reflect.TypeFor[suit](), "spades")
	require.True(t, ok)
	assert.EqualValues(t, spades, v)

	fn, ok := r.Constructor(cardType, reflect.TypeFor[int]())
	require.True(t, ok)
	assert.Equal(t, card{Rank: 3}, fn.Call([]reflect.Value{reflect.ValueOf(3)})[0].Interface())

	_, ok = r.Constructor(cardType, strType)
	assert.False(t, ok)
}

func TestSDL(t *testing.T) {
	r := newRegistry(t)
	sdl, err := r.SDL()
	require.NoError(t, err)

	assert.Contains(t, sdl, "type Query {")
	assert.Contains(t, sdl, "card: [card!]!")
	assert.Contains(t, sdl, "type card {")
	assert.Contains(t, sdl, "rank: Int!")
	assert.Contains(t, sdl, "suit: suit!")
	assert.Contains(t, sdl, "drawn: Time")
	assert.Contains(t, sdl, "notes: [String!]!")
	assert.Contains(t, sdl, "face: Boolean!")
	assert.Contains(t, sdl, "enum suit {")
	assert.Contains(t, sdl, "SPADES")
	assert.Contains(t, sdl, "scalar Time")
	assert.NotContains(t, sdl, "seen")
}
