package factory

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

type item struct {
	Code   string
	Weight int
	Tags   []string
	secret string
}

var (
	itemType = reflect.TypeFor[item]()
	strType  = reflect.TypeFor[string]()
	intType  = reflect.TypeFor[int]()
)

func newFactory(t *testing.T, settings Settings) *Factory {
	t.Helper()
	reg := registry.New()
	reg.Register(itemType)
	return New(reg, settings)
}

func TestLambdaParametersShareNodes(t *testing.T) {
	f := newFactory(t, Settings{UseRelaxedTypeNames: true})

	i := expr.Parameter(itemType, "i")
	body := expr.Must(expr.MakeBinary(expr.AndAlso,
		expr.Must(expr.MakeBinary(expr.Equal, expr.Must(expr.Field(i, "Code")), expr.Constant("a"))),
		expr.Must(expr.MakeBinary(expr.GreaterThan, expr.Must(expr.Field(i, "Weight")), expr.Constant(3))),
	))
	n, err := f.Convert(expr.Lambda(body, i))
	require.NoError(t, err)

	lambda, ok := n.(*nodes.LambdaNode)
	require.True(t, ok)
	require.Len(t, lambda.Parameters, 1)
	assert.Equal(t, nodes.TypeDescriptor{Name: "factory.item"}, lambda.Parameters[0].Type)

	var refs []*nodes.ParameterNode
	nodes.Walk(lambda.Body, func(n nodes.Node) bool {
		if p, ok := n.(*nodes.ParameterNode); ok {
			refs = append(refs, p)
		}
		return true
	})
	require.Len(t, refs, 2)
	for _, r := range refs {
		assert.Same(t, lambda.Parameters[0], r)
	}

	and := lambda.Body.(*nodes.BinaryNode)
	assert.Equal(t, "AndAlso", and.Operator)
	assert.Equal(t, nodes.TypeDescriptor{Name: "bool"}, and.Type)
	eq := and.Left.(*nodes.BinaryNode)
	access := eq.Left.(*nodes.MemberAccessNode)
	assert.Equal(t, nodes.MemberRef{Owner: nodes.TypeDescriptor{Name: "factory.item"}, Signature: "Code"}, access.Member)
	assert.Equal(t, &nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "string"}, Value: "a"}, eq.Right)
}

func TestQualifiedNames(t *testing.T) {
	f := newFactory(t, Settings{})
	i := expr.Parameter(itemType, "i")
	n, err := f.Convert(expr.Lambda(expr.Must(expr.Field(i, "Weight")), i))
	require.NoError(t, err)
	assert.Equal(t, registry.QualifiedName(itemType), n.(*nodes.LambdaNode).Parameters[0].Type.Name)
}

func TestCapturedCollectionIsMaterialized(t *testing.T) {
	f := newFactory(t, Settings{UseRelaxedTypeNames: true})
	reg := f.Registry

	list := []string{"one", "two"}
	i := expr.Parameter(itemType, "i")
	contains := reg.MustInstantiate(registry.SeqType, "Contains", strType)
	call := expr.Must(expr.MakeCall(nil, contains,
		expr.Must(expr.Capture("list", &list)),
		expr.Must(expr.Field(i, "Code")),
	))
	n, err := f.Convert(expr.Lambda(call, i))
	require.NoError(t, err)

	mc := n.(*nodes.LambdaNode).Body.(*nodes.MethodCallNode)
	assert.Nil(t, mc.Target)
	assert.Equal(t, "seq", mc.Method.Owner.Name)
	assert.Equal(t, "Contains([]string,string)", mc.Method.Signature)
	assert.Equal(t, []nodes.TypeDescriptor{{Name: "string"}}, mc.GenericArguments)

	arr, ok := mc.Arguments[0].(*nodes.NewArrayNode)
	require.True(t, ok, "captured slices travel by value")
	assert.Equal(t, nodes.TypeDescriptor{Name: "string"}, arr.ElementType)
	assert.Equal(t, []nodes.Node{
		&nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "string"}, Value: "one"},
		&nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "string"}, Value: "two"},
	}, arr.Elements)
}

func TestCapturedMemberChainIsEvaluated(t *testing.T) {
	f := newFactory(t, Settings{UseRelaxedTypeNames: true})

	local := item{Code: "x", Weight: 7, secret: "s"}
	captured := expr.Must(expr.Capture("local", &local))
	n, err := f.Convert(expr.Must(expr.Field(captured, "Weight")))
	require.NoError(t, err)
	assert.Equal(t, &nodes.ConstantNode{Type: nodes.TypeDescriptor{Name: "int"}, Value: int64(7)}, n)

	n, err = f.Convert(expr.Must(expr.Field(captured, "secret")))
	require.NoError(t, err, "private reads of captured state happen at conversion time")
	assert.Equal(t, "s", n.(*nodes.ConstantNode).Value)

	n, err = f.Convert(captured)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Code": "x", "Weight": int64(7), "Tags": nil}, n.(*nodes.ConstantNode).Value)
}

func TestPrivateFieldPolicy(t *testing.T) {
	i := expr.Parameter(itemType, "i")
	l := expr.Lambda(expr.Must(expr.Field(i, "secret")), i)

	_, err := newFactory(t, Settings{}).Convert(l)
	var use *UnsupportedShapeError
	require.ErrorAs(t, err, &use)
	assert.Contains(t, use.Reason, "private")

	n, err := newFactory(t, Settings{AllowPrivateFieldAccess: true}).Convert(l)
	require.NoError(t, err)
	assert.Equal(t, "secret", n.(*nodes.LambdaNode).Body.(*nodes.MemberAccessNode).Member.Signature)
}

type foreign struct{}

func (foreign) Kind() expr.Kind    { return expr.KindConstant }
func (foreign) Type() reflect.Type { return intType }
func (foreign) String() string     { return "foreign" }

func TestUnsupportedShape(t *testing.T) {
	f := newFactory(t, Settings{})
	i := expr.Parameter(intType, "i")
	_, err := f.Convert(expr.Lambda(foreign{}, i))

	var use *UnsupportedShapeError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, foreign{}, use.Expr)
	assert.Contains(t, err.Error(), "unsupported expression factory.foreign")
	assert.Equal(t, shape{Go: "factory.foreign", Kind: "Constant", Type: "int", Text: "foreign"}, shapeOf(use.Expr))
	assert.Contains(t, err.Error(), `Text:"foreign"`)
}

func TestFreeParameters(t *testing.T) {
	f := newFactory(t, Settings{})
	p := expr.Parameter(intType, "n")
	body := expr.Must(expr.MakeBinary(expr.Add, p, expr.Constant(1)))

	n, err := f.Convert(body)
	require.NoError(t, err)
	bin := n.(*nodes.BinaryNode)
	assert.Equal(t, "n", bin.Left.(*nodes.ParameterNode).Name)

	_, err = f.Convert(body, intType)
	require.NoError(t, err)

	_, err = f.Convert(body, strType)
	var use *UnsupportedShapeError
	require.ErrorAs(t, err, &use)
}

func TestUnsupportedConstantType(t *testing.T) {
	f := newFactory(t, Settings{})
	_, err := f.Convert(expr.Constant(make(chan int)))
	require.Error(t, err)
}

func TestPayload(t *testing.T) {
	when := time.Date(2024, 2, 29, 12, 30, 0, 0, time.UTC)
	n := 42
	for name, tc := range map[string]struct {
		in   any
		want any
	}{
		"nil":          {nil, nil},
		"bool":         {true, true},
		"int":          {int8(-3), int64(-3)},
		"uint":         {uint16(9), uint64(9)},
		"max exact":    {int64(1 << 53), int64(1 << 53)},
		"big int":      {int64(1<<53 + 1), "9007199254740993"},
		"big negative": {int64(-(1 << 60)), "-1152921504606846976"},
		"big uint":     {uint64(math.MaxUint64), "18446744073709551615"},
		"float":        {1.5, 1.5},
		"nan":          {math.NaN(), "NaN"},
		"inf":          {math.Inf(-1), "-Inf"},
		"time":         {when, "2024-02-29T12:30:00Z"},
		"duration":     {90 * time.Second, "1m30s"},
		"bytes":        {[]byte("hi"), "aGk="},
		"pointer":      {&n, int64(42)},
		"nil pointer":  {(*int)(nil), nil},
		"slice":        {[]int{1, 2}, []any{int64(1), int64(2)}},
		"array":        {[2]string{"a", "b"}, []any{"a", "b"}},
		"map":          {map[int]bool{1: true}, map[string]any{"1": true}},
		"struct":       {item{Code: "c", Tags: []string{"t"}}, map[string]any{"Code": "c", "Weight": int64(0), "Tags": []any{"t"}}},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := Payload(reflect.ValueOf(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Payload(reflect.ValueOf(func() {}))
	require.Error(t, err)
	_, err = Payload(reflect.ValueOf(map[[2]int]int{{1, 2}: 3}))
	require.Error(t, err)
}

func TestConvertShapes(t *testing.T) {
	f := newFactory(t, Settings{UseRelaxedTypeNames: true})
	i := expr.Parameter(itemType, "i")

	cond := expr.Must(expr.Condition(
		expr.Must(expr.MakeBinary(expr.LessThan, expr.Must(expr.Field(i, "Weight")), expr.Constant(0))),
		expr.Must(expr.MakeUnary(expr.Negate, expr.Must(expr.Field(i, "Weight")), nil)),
		expr.Must(expr.Field(i, "Weight")),
	))
	n, err := f.Convert(expr.Lambda(cond, i))
	require.NoError(t, err)
	c := n.(*nodes.LambdaNode).Body.(*nodes.ConditionalNode)
	assert.Equal(t, "Negate", c.IfTrue.(*nodes.UnaryNode).Operator)

	init := expr.Must(expr.MemberInit(expr.New(itemType),
		expr.Set("Code", expr.Must(expr.Field(i, "Code"))),
		expr.Set("Tags", expr.Must(expr.NewArray(strType, expr.Constant("x")))),
	))
	n, err = f.Convert(expr.Lambda(init, i))
	require.NoError(t, err)
	mi := n.(*nodes.LambdaNode).Body.(*nodes.MemberInitNode)
	assert.Equal(t, nodes.MemberRef{Owner: nodes.TypeDescriptor{Name: "factory.item"}}, mi.NewObject.Constructor)
	require.Len(t, mi.Bindings, 2)
	assert.Equal(t, "Code", mi.Bindings[0].Member)
	assert.Equal(t, "Tags", mi.Bindings[1].Member)
	assert.IsType(t, &nodes.NewArrayNode{}, mi.Bindings[1].Value)

	v := expr.Parameter(reflect.TypeFor[any](), "v")
	n, err = f.Convert(expr.Lambda(expr.TypeIs(v, strType), v))
	require.NoError(t, err)
	tt := n.(*nodes.LambdaNode).Body.(*nodes.TypeTestNode)
	assert.Equal(t, nodes.TypeDescriptor{Name: "string"}, tt.TestType)
	assert.Equal(t, nodes.TypeDescriptor{Name: "any"}, n.(*nodes.LambdaNode).Parameters[0].Type)
}
