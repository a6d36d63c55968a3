// Package linq ties the factory, the text codec and the reconstruction engine
// together: expressions in, JSON text out, and back again.
package linq

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/pkg/errors"

	"github.com/gottscj/Serialize.Linq/pkg/convert"
	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/factory"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/rebuild"
	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

// Serializer converts expressions to and from their JSON text form. It is
// safe for concurrent use; every Deserialize gets its own parameter table
// over a shared resolution cache.
type Serializer struct {
	Registry *registry.Registry
	Coercer  *convert.Coercer
	Settings factory.Settings
	Logger   *slog.Logger

	cacheOnce sync.Once
	cache     *registry.Cache
}

// New returns a Serializer over reg. A nil reg gets a fresh registry holding
// only the builtins.
func New(reg *registry.Registry, settings factory.Settings) *Serializer {
	if reg == nil {
		reg = registry.New()
	}
	co := convert.New()
	co.Enums = reg
	co.Constructors = reg
	return &Serializer{
		Registry: reg,
		Coercer:  co,
		Settings: settings,
		Logger:   slog.Default(),
		cache:    registry.NewCache(reg),
	}
}

func (s *Serializer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Cache returns the resolution cache shared by the contexts s creates.
func (s *Serializer) Cache() *registry.Cache {
	s.cacheOnce.Do(func() {
		if s.cache == nil {
			s.cache = registry.NewCache(s.Registry)
		}
	})
	return s.cache
}

// NewContext returns a reconstruction context using s's registry, cache,
// coercer and private field policy.
func (s *Serializer) NewContext() *rebuild.Context {
	return &rebuild.Context{
		Registry:                s.Registry,
		Cache:                   s.Cache(),
		Coercer:                 s.Coercer,
		Logger:                  s.logger(),
		AllowPrivateFieldAccess: s.Settings.AllowPrivateFieldAccess,
	}
}

// ToNode converts e into a node tree.
func (s *Serializer) ToNode(e expr.Expression, knownParameterTypes ...reflect.Type) (nodes.Node, error) {
	f := &factory.Factory{Registry: s.Registry, Settings: s.Settings, Logger: s.logger()}
	return f.Convert(e, knownParameterTypes...)
}

// Serialize converts e into JSON text.
func (s *Serializer) Serialize(e expr.Expression, knownParameterTypes ...reflect.Type) (string, error) {
	n, err := s.ToNode(e, knownParameterTypes...)
	if err != nil {
		return "", err
	}
	b, err := s.SerializeNode(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SerializeNode encodes a node tree.
func (s *Serializer) SerializeNode(n nodes.Node) ([]byte, error) {
	return nodes.Marshal(n)
}

// DeserializeNode decodes JSON text into a node tree.
func (s *Serializer) DeserializeNode(text []byte) (nodes.Node, error) {
	return nodes.Unmarshal(text)
}

// Deserialize decodes text and reconstructs the expression it denotes. A nil
// ctx means a fresh context from NewContext.
func (s *Serializer) Deserialize(text string, ctx *rebuild.Context) (expr.Expression, error) {
	n, err := s.DeserializeNode([]byte(text))
	if err != nil {
		return nil, err
	}
	return s.ToExpression(n, ctx)
}

// ToExpression reconstructs the expression n denotes. A nil ctx means a fresh
// context from NewContext.
func (s *Serializer) ToExpression(n nodes.Node, ctx *rebuild.Context) (expr.Expression, error) {
	if ctx == nil {
		ctx = s.NewContext()
	}
	e, err := rebuild.Rebuild(n, ctx)
	if err != nil {
		return nil, err
	}
	s.logger().Debug("rebuilt expression", "expr", e.String(), "nodes", nodes.Count(n))
	return e, nil
}

// Predicate reconstructs n as a boolean lambda over T and compiles it.
func Predicate[T any](s *Serializer, n nodes.Node) (func(T) (bool, error), error) {
	l, err := lambda(s, n)
	if err != nil {
		return nil, err
	}
	pred, err := expr.CompilePredicate[T](l)
	if err != nil {
		return nil, errors.Wrapf(err, "predicate over %s", reflect.TypeFor[T]())
	}
	return pred, nil
}

// Selector reconstructs n as a lambda from T to R and compiles it.
func Selector[T, R any](s *Serializer, n nodes.Node) (func(T) (R, error), error) {
	l, err := lambda(s, n)
	if err != nil {
		return nil, err
	}
	sel, err := expr.CompileSelector[T, R](l)
	if err != nil {
		return nil, errors.Wrapf(err, "selector from %s to %s", reflect.TypeFor[T](), reflect.TypeFor[R]())
	}
	return sel, nil
}

func lambda(s *Serializer, n nodes.Node) (*expr.LambdaExpr, error) {
	if n == nil {
		return nil, errors.New("no expression")
	}
	return rebuild.RebuildLambda(n, s.NewContext())
}
