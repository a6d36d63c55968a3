package nodes

import (
	stdjson "encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/golden"
)

var personType = TypeDescriptor{Name: "people.Person"}

func person() *ParameterNode {
	return &ParameterNode{Type: personType, Name: "p"}
}

func agePredicate() *LambdaNode {
	return &LambdaNode{
		Parameters: []*ParameterNode{person()},
		Body: &BinaryNode{
			Operator: "GreaterThanOrEqual",
			Type:     TypeDescriptor{Name: "bool"},
			Left: &MemberAccessNode{
				Target: person(),
				Member: MemberRef{Owner: personType, Signature: "Age"},
			},
			Right: &ConstantNode{Type: TypeDescriptor{Name: "int"}, Value: 100},
		},
	}
}

func TestGolden(t *testing.T) {
	out, err := MarshalIndent(agePredicate(), "  ")
	require.NoError(t, err)
	golden.Assert(t, strings.TrimSpace(string(out))+"\n", "age-predicate.golden")
}

func TestRoundTrip(t *testing.T) {
	strs := TypeDescriptor{Name: "[]", GenericArguments: []TypeDescriptor{{Name: "string"}}}
	seq := TypeDescriptor{Name: "seq"}

	for name, n := range map[string]Node{
		"conditional": &ConditionalNode{
			Test:    &ConstantNode{Type: TypeDescriptor{Name: "bool"}, Value: true},
			IfTrue:  &ConstantNode{Type: TypeDescriptor{Name: "string"}, Value: "yes"},
			IfFalse: &ConstantNode{Type: TypeDescriptor{Name: "string"}},
		},
		"unary": &UnaryNode{
			Operator: "Convert",
			Operand:  &ConstantNode{Type: TypeDescriptor{Name: "float64"}, Value: 1.5},
			Type:     TypeDescriptor{Name: "*", GenericArguments: []TypeDescriptor{{Name: "float64"}}},
		},
		"generic call": &LambdaNode{
			Parameters: []*ParameterNode{person()},
			Body: &MethodCallNode{
				Method:           MemberRef{Owner: seq, Signature: "Contains([]string,string)"},
				GenericArguments: []TypeDescriptor{{Name: "string"}},
				Arguments: []Node{
					&NewArrayNode{
						ElementType: TypeDescriptor{Name: "string"},
						Elements: []Node{
							&ConstantNode{Type: TypeDescriptor{Name: "string"}, Value: "one"},
							&ConstantNode{Type: TypeDescriptor{Name: "string"}, Value: "two"},
						},
					},
					&MemberAccessNode{Target: person(), Member: MemberRef{Owner: personType, Signature: "Residence"}},
				},
			},
		},
		"member init": &LambdaNode{
			Parameters: []*ParameterNode{person()},
			Body: &MemberInitNode{
				NewObject: &NewObjectNode{Constructor: MemberRef{Owner: personType}},
				Bindings: []MemberBinding{{
					Member: "Age",
					Value:  &MemberAccessNode{Target: person(), Member: MemberRef{Owner: personType, Signature: "Age"}},
				}},
			},
		},
		"type test": &TypeTestNode{
			Operand:  &ConstantNode{Type: TypeDescriptor{Name: "any"}, Value: "x"},
			TestType: TypeDescriptor{Name: "string"},
		},
		"constant array": &ConstantNode{Type: strs, Value: []any{"a", "b"}},
		"static member": &MemberAccessNode{Member: MemberRef{Owner: TypeDescriptor{Name: "time.Time"}, Signature: "Now"}},
	} {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(n)
			require.NoError(t, err)

			back, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, n, back)

			again, err := Marshal(back)
			require.NoError(t, err)
			assert.Equal(t, string(data), string(again))
		})
	}
}

func TestDefaultFieldsOmitted(t *testing.T) {
	data, err := Marshal(&ConstantNode{Type: TypeDescriptor{Name: "string"}})
	require.NoError(t, err)
	assert.Equal(t, `{"$type":"Constant","type":{"name":"string"}}`, string(data))

	data, err = Marshal(&ConstantNode{Type: TypeDescriptor{Name: "bool"}, Value: false})
	require.NoError(t, err)
	assert.Equal(t, `{"$type":"Constant","type":{"name":"bool"},"value":false}`, string(data))
}

func TestParameterIdentityIsStructural(t *testing.T) {
	data, err := Marshal(agePredicate())
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)

	l := back.(*LambdaNode)
	ref := l.Body.(*BinaryNode).Left.(*MemberAccessNode).Target.(*ParameterNode)
	assert.Equal(t, *l.Parameters[0], *ref)
	assert.NotSame(t, l.Parameters[0], ref)
}

func TestDecodeErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		text string
		msg  string
	}{
		"malformed":    {`{"$type":`, "malformed text"},
		"unknown kind": {`{"$type":"Goto"}`, `unknown node type "Goto"`},
		"missing kind": {`{"name":"x"}`, "missing $type"},
		"missing child": {
			`{"$type":"Binary","operator":"Add","left":{"$type":"Constant"}}`,
			"decode node at $: missing right",
		},
		"nested unknown": {
			`{"$type":"Lambda","body":{"$type":"Unary","operand":{"$type":"Nope"}}}`,
			"decode node at $.body.operand",
		},
		"member init without new": {
			`{"$type":"MemberInit","newObject":{"$type":"Constant"}}`,
			"expected NewObject",
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.text))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestEncodeRejectsNilNodes(t *testing.T) {
	withNilParam := agePredicate()
	withNilParam.Parameters = append(withNilParam.Parameters, nil)
	_, err := Marshal(withNilParam)
	require.ErrorContains(t, err, "lambda parameter 1 is nil")

	var missing *ConstantNode
	_, err = Marshal(&UnaryNode{Operator: "Not", Operand: missing})
	require.ErrorContains(t, err, "encode node: nil *nodes.ConstantNode")

	text, err := Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(text))
}

func TestWalk(t *testing.T) {
	var kinds []Kind
	Walk(agePredicate(), func(n Node) bool {
		kinds = append(kinds, n.Kind())
		return true
	})
	assert.Equal(t, []Kind{
		KindLambda, KindParameter, KindBinary, KindMemberAccess, KindParameter, KindConstant,
	}, kinds)
	assert.Equal(t, 6, Count(agePredicate()))
}

func TestTypeDescriptorString(t *testing.T) {
	d := TypeDescriptor{Name: "map", GenericArguments: []TypeDescriptor{
		{Name: "string"},
		{Name: "[]", GenericArguments: []TypeDescriptor{{Name: "int"}}},
	}}
	assert.Equal(t, "map[string,[][int]]", d.String())
}

func TestTreeEmbedsInDocuments(t *testing.T) {
	type envelope struct {
		Query Tree `json:"query"`
		Limit int  `json:"limit"`
	}
	doc, err := stdjson.Marshal(envelope{Query: Tree{agePredicate()}, Limit: 3})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(doc), `{"query":{"$type":"Lambda"`), string(doc))

	var back envelope
	require.NoError(t, stdjson.Unmarshal(doc, &back))
	assert.Equal(t, 3, back.Limit)
	assert.Equal(t, Count(agePredicate()), Count(back.Query.Node))

	var empty envelope
	require.NoError(t, stdjson.Unmarshal([]byte(`{"query":null}`), &empty))
	assert.Nil(t, empty.Query.Node)

	var bad envelope
	err = stdjson.Unmarshal([]byte(`{"query":{"$type":"Nope"}}`), &bad)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}
