package registry

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
)

// SDL describes the registered struct and enum types as a GraphQL schema,
// with a Query type listing each struct type. The document is validated
// before it is returned.
func (r *Registry) SDL() (string, error) {
	doc := &ast.SchemaDocument{}
	query := &ast.Definition{Kind: ast.Object, Name: "Query"}
	scalars := map[string]bool{}

	for _, t := range r.Types() {
		switch {
		case t.Kind() == reflect.Struct && t != timeType:
			def := r.objectDefinition(t, scalars)
			if def == nil {
				continue
			}
			doc.Definitions = append(doc.Definitions, def)
			query.Fields = append(query.Fields, &ast.FieldDefinition{
				Name: strcase.ToLowerCamel(t.Name()),
				Type: ast.NonNullListType(ast.NonNullNamedType(t.Name(), nil), nil),
			})
		case t.Kind() != reflect.Struct:
			if vs, ok := r.Enum(t); ok {
				def := &ast.Definition{Kind: ast.Enum, Name: t.Name()}
				for _, v := range vs {
					def.EnumValues = append(def.EnumValues, &ast.EnumValueDefinition{
						Name: strcase.ToScreamingSnake(v.Name),
					})
				}
				doc.Definitions = append(doc.Definitions, def)
			}
		}
	}
	for _, name := range []string{"Time", "Duration"} {
		if scalars[name] {
			doc.Definitions = append(doc.Definitions, &ast.Definition{Kind: ast.Scalar, Name: name})
		}
	}
	if len(query.Fields) == 0 {
		return "", fmt.Errorf("no struct types registered")
	}
	doc.Definitions = append(ast.DefinitionList{query}, doc.Definitions...)

	var sb strings.Builder
	formatter.NewFormatter(&sb).FormatSchemaDocument(doc)
	sdl := sb.String()

	if _, err := gqlparser.LoadSchema(&ast.Source{Name: "registry.graphqls", Input: sdl}); err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	return sdl, nil
}

func (r *Registry) objectDefinition(t reflect.Type, scalars map[string]bool) *ast.Definition {
	def := &ast.Definition{Kind: ast.Object, Name: t.Name()}
	add := func(m *expr.Member) {
		if !m.Exported {
			return
		}
		ft := r.graphQLType(m.Result, scalars)
		if ft == nil {
			return
		}
		def.Fields = append(def.Fields, &ast.FieldDefinition{
			Name: strcase.ToLowerCamel(m.Name),
			Type: ft,
		})
	}
	for _, f := range expr.Fields(t) {
		add(f)
	}
	for _, m := range expr.Methods(t) {
		if m.Kind == expr.PropertyMember {
			add(m)
		}
	}
	if len(def.Fields) == 0 {
		return nil
	}
	return def
}

// graphQLType maps a Go type to a GraphQL type reference, or nil when the
// type has no GraphQL counterpart.
func (r *Registry) graphQLType(t reflect.Type, scalars map[string]bool) *ast.Type {
	if t.Kind() == reflect.Pointer {
		inner := r.graphQLType(t.Elem(), scalars)
		if inner == nil {
			return nil
		}
		nullable := *inner
		nullable.NonNull = false
		return &nullable
	}
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		elem := r.graphQLType(t.Elem(), scalars)
		if elem == nil {
			return nil
		}
		return ast.NonNullListType(elem, nil)
	}
	name := r.graphQLName(t, scalars)
	if name == "" {
		return nil
	}
	return ast.NonNullNamedType(name, nil)
}

func (r *Registry) graphQLName(t reflect.Type, scalars map[string]bool) string {
	switch t {
	case timeType:
		scalars["Time"] = true
		return "Time"
	case durationType:
		scalars["Duration"] = true
		return "Duration"
	}
	if _, ok := r.Enum(t); ok {
		return t.Name()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "Boolean"
	case reflect.String:
		return "String"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "Int"
	case reflect.Float32, reflect.Float64:
		return "Float"
	case reflect.Struct:
		if _, ok := r.nameOf(t, false); ok && r.isRegistered(t) {
			return t.Name()
		}
	}
	return ""
}

func (r *Registry) isRegistered(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.canon[t]
	return ok
}
